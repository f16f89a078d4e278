package models

import (
	"time"
)

// VerificationCode is the single live step-up code for an identifier
type VerificationCode struct {
	Identifier string    `json:"identifier"`
	Code       string    `json:"-"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// IsExpired checks if the code has expired at now
func (c *VerificationCode) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// CodeCheckResult is the outcome of checking a submitted code
type CodeCheckResult string

const (
	CodeOK       CodeCheckResult = "ok"
	CodeNotFound CodeCheckResult = "not_found"
	CodeExpired  CodeCheckResult = "expired"
	CodeMismatch CodeCheckResult = "mismatch"
)

// Message returns the wire message used by the verification endpoints
func (r CodeCheckResult) Message() string {
	switch r {
	case CodeNotFound:
		return "No verification code found"
	case CodeExpired:
		return "Verification code expired"
	case CodeMismatch:
		return "Invalid verification code"
	default:
		return ""
	}
}

// ParseCodeCheckMessage maps a wire message back to a result
func ParseCodeCheckMessage(msg string) (CodeCheckResult, bool) {
	for _, r := range []CodeCheckResult{CodeNotFound, CodeExpired, CodeMismatch} {
		if r.Message() == msg {
			return r, true
		}
	}
	return "", false
}
