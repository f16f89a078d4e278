package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenClaims are the JWT claims carried by a session token
type TokenClaims struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Email  string `json:"email,omitempty"`
	StepUp bool   `json:"step_up,omitempty"`
	jwt.RegisteredClaims
}

// Session is an established sign-in session issued by the identity provider
type Session struct {
	ID         string    `json:"-"`
	Token      string    `json:"access_token"`
	UserID     string    `json:"-"`
	Identifier string    `json:"-"`
	StepUp     bool      `json:"step_up"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Identity is what the identity provider returns for an accepted credential
type Identity struct {
	UserID        string
	Identifier    string
	EmailVerified bool
	Session       *Session
}

// NextStep tells the caller where an accepted sign-in goes next
type NextStep string

const (
	NextDirect        NextStep = "direct"
	NextRequireStepUp NextStep = "require_step_up"
)

// Redirect targets handed back to the front end
const (
	RedirectUserArea  = "/encryption-interface"
	RedirectStepUp    = "/admin-verification"
	RedirectAdminArea = "/admin-dashboard"
)

// SignInResult is the accepted outcome of the credential gate
type SignInResult struct {
	Next     NextStep
	Redirect string
	Session  *Session
	Account  *Account
}

// RequestMeta carries client details recorded alongside security events
type RequestMeta struct {
	IPAddress string
	UserAgent string
}

// Details merges the request metadata into extra event details
func (m RequestMeta) Details(extra EventDetails) EventDetails {
	d := EventDetails{}
	for k, v := range extra {
		d[k] = v
	}
	if m.IPAddress != "" {
		d["ipAddress"] = m.IPAddress
	}
	if m.UserAgent != "" {
		d["userAgent"] = m.UserAgent
	}
	return d
}
