package models

import (
	"time"
)

// Account roles
const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Account statuses
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Account is the user profile document consulted by the gate after the
// identity provider has accepted a credential.
type Account struct {
	ID        string
	Email     string
	FullName  string
	Role      string
	Verified  bool
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsInactive treats only an explicit "inactive" as inactive; profiles created
// before the status field existed carry an empty status and may sign in.
func (a *Account) IsInactive() bool {
	return a.Status == StatusInactive
}

// Credential is the identity provider's record for an identifier
type Credential struct {
	UserID       string
	Identifier   string
	PasswordHash string
	CreatedAt    time.Time
}

// AccountStats aggregates counts for the admin dashboard
type AccountStats struct {
	TotalUsers          int64 `json:"total_users"`
	ActiveUsers         int64 `json:"active_users"`
	InactiveUsers       int64 `json:"inactive_users"`
	VerifiedUsers       int64 `json:"verified_users"`
	PendingVerification int64 `json:"pending_verification"`
	AdminCount          int64 `json:"admin_count"`
	FailedLogins24h     int64 `json:"failed_logins_24h"`
}
