package models

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Sign-in gate errors
	ErrValidation          = errors.New("invalid input")
	ErrLockedOut           = errors.New("too many failed attempts")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrAccountInactive     = errors.New("account is inactive")
	ErrPendingVerification = errors.New("account is pending verification")
	ErrDeliveryFailed      = errors.New("verification code could not be delivered")
	ErrStepUpFailed        = errors.New("step-up verification failed")

	// Audit errors
	ErrInvalidEvent = errors.New("invalid security event")
)

// GateErrorKind classifies a rejection returned by the credential gate
type GateErrorKind string

const (
	KindValidation   GateErrorKind = "validation"
	KindLockout      GateErrorKind = "locked_out"
	KindCredential   GateErrorKind = "bad_credential"
	KindAccountState GateErrorKind = "account_state"
	KindStepUp       GateErrorKind = "step_up"
	KindDelivery     GateErrorKind = "delivery"
	KindInternal     GateErrorKind = "internal"
)

var kindSentinels = map[GateErrorKind]error{
	KindValidation: ErrValidation,
	KindLockout:    ErrLockedOut,
	KindCredential: ErrInvalidCredentials,
	KindStepUp:     ErrStepUpFailed,
	KindDelivery:   ErrDeliveryFailed,
	KindInternal:   ErrInternalServer,
}

// GateError is the typed rejection produced by the credential gate.
// Message is safe to show to the end user; Err carries the underlying cause
// and is never rendered.
type GateError struct {
	Kind       GateErrorKind
	Reason     string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *GateError) Error() string {
	if e.Reason != "" {
		return string(e.Kind) + ": " + e.Reason
	}
	return string(e.Kind)
}

func (e *GateError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind, so callers can write
// errors.Is(err, models.ErrLockedOut) without unpacking the struct.
func (e *GateError) Is(target error) bool {
	if sentinel, ok := kindSentinels[e.Kind]; ok && sentinel == target {
		return true
	}
	if e.Kind == KindAccountState {
		switch e.Reason {
		case ReasonInactive:
			return target == ErrAccountInactive
		case ReasonPendingVerification:
			return target == ErrPendingVerification
		}
	}
	return false
}

// Account state rejection reasons
const (
	ReasonInactive            = "inactive"
	ReasonPendingVerification = "pending_verification"
	ReasonNotAdmin            = "not_admin"
)

// Identity provider error codes
const (
	ProviderCodeInvalidCredential = "invalid_credential"
	ProviderCodeEmailInUse        = "email_in_use"
	ProviderCodeWeakPassword      = "weak_password"
	ProviderCodeUnavailable       = "unavailable"
)

// ProviderError is a rejection reported by the identity provider
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// ProviderErrorCode returns err's provider code, "timeout" for an expired
// deadline, or "unknown"
func ProviderErrorCode(err error) string {
	var pe *ProviderError
	switch {
	case errors.As(err, &pe):
		return pe.Code
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "unknown"
	}
}
