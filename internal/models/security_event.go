package models

import (
	"database/sql/driver"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Security event actions
const (
	ActionLogin             = "LOGIN"
	ActionLoginFailed       = "LOGIN_FAILED"
	ActionLoginRejected     = "LOGIN_REJECTED"
	ActionLogout            = "LOGOUT"
	ActionSignup            = "SIGNUP"
	ActionSignupFailed      = "SIGNUP_FAILED"
	ActionStepUpRequested   = "STEP_UP_REQUESTED"
	ActionStepUpVerified    = "STEP_UP_VERIFIED"
	ActionStepUpFailed      = "STEP_UP_FAILED"
	ActionUserVerified      = "USER_VERIFIED"
	ActionUserStatusChanged = "USER_STATUS_CHANGED"
	ActionSecretCreated     = "SECRET_CREATED"
	ActionSecretAccessed    = "SECRET_ACCESSED"
	ActionSecretDeleted     = "SECRET_DELETED"
)

// Resources name the subsystem an event belongs to
const (
	ResourceAuthentication    = "Authentication"
	ResourceAdminVerification = "AdminVerification"
	ResourceUserManagement    = "UserManagement"
	ResourceKeyVault          = "KeyVault"
)

// anonymousActions may be recorded without an actor identifier because they
// describe an attempt made before any identity was established.
var anonymousActions = map[string]bool{
	ActionLoginFailed:  true,
	ActionSignupFailed: true,
}

// IsAnonymousAction reports whether action may be recorded without an actor
func IsAnonymousAction(action string) bool {
	return anonymousActions[action]
}

// SecurityEvent is an append-only audit record. ID and ServerTimestamp are
// assigned by the store; ClientTimestamp is advisory and never used for
// ordering.
type SecurityEvent struct {
	ID              uuid.UUID    `db:"id"`
	ActorIdentifier *string      `db:"actor_identifier"`
	ActorID         *string      `db:"actor_id"`
	Action          string       `db:"action"`
	Resource        string       `db:"resource"`
	Details         EventDetails `db:"details"`
	ServerTimestamp time.Time    `db:"server_timestamp"`
	ClientTimestamp time.Time    `db:"client_timestamp"`
}

// Validate checks the fields required before an event may be written
func (e *SecurityEvent) Validate() error {
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEvent)
	}
	if strings.TrimSpace(e.Resource) == "" {
		return fmt.Errorf("%w: resource is required", ErrInvalidEvent)
	}
	if (e.ActorIdentifier == nil || *e.ActorIdentifier == "") && !IsAnonymousAction(e.Action) {
		return fmt.Errorf("%w: actor identifier is required for %s", ErrInvalidEvent, e.Action)
	}
	return nil
}

// EventDetails holds the free-form payload of a security event
type EventDetails map[string]interface{}

// Scan implements sql.Scanner for JSONB
func (d *EventDetails) Scan(value interface{}) error {
	if value == nil {
		*d = make(EventDetails)
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return err
	}
	*d = EventDetails(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (d EventDetails) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]interface{}(d))
}

// SecurityEventQuery selects a page of security events, newest first
type SecurityEventQuery struct {
	Action          string
	ActorIdentifier string
	After           *EventCursor
	Since           *time.Time
	Limit           int
}

// EventCursor marks the last item of a page; the next page starts after it
type EventCursor struct {
	ServerTimestamp time.Time
	ID              uuid.UUID
}

// Encode renders the cursor as an opaque token
func (c EventCursor) Encode() string {
	raw := c.ServerTimestamp.UTC().Format(time.RFC3339Nano) + "|" + c.ID.String()
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// DecodeEventCursor parses a token produced by EventCursor.Encode
func DecodeEventCursor(token string) (*EventCursor, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor", ErrBadRequest)
	}

	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: malformed cursor", ErrBadRequest)
	}

	ts, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor timestamp", ErrBadRequest)
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return nil, fmt.Errorf("%w: malformed cursor id", ErrBadRequest)
	}

	return &EventCursor{ServerTimestamp: ts, ID: id}, nil
}

// SecurityEventPage is one page of the security log
type SecurityEventPage struct {
	Events     []*SecurityEvent
	NextCursor string
}
