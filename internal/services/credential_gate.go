package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/validation"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
)

// User-facing rejection messages
const (
	msgInvalidCredentials  = "Invalid email or password"
	msgSignInUnavailable   = "Sign-in is temporarily unavailable. Please try again."
	msgAccountInactive     = "Your account is inactive. Please contact an administrator to reactivate it."
	msgPendingVerification = "Your account is pending verification. Please wait for an administrator to verify your account."
	msgDeliveryFailed      = "Failed to send verification code"
	msgPasswordMismatch    = "Passwords do not match"
	msgNotAdmin            = "Administrator access is required"
)

// IdentityProvider verifies credentials and owns sessions
type IdentityProvider interface {
	Authenticate(ctx context.Context, identifier, secret string) (*models.Identity, error)
	CreateAccount(ctx context.Context, identifier, secret string) (string, error)
	SignOut(ctx context.Context, session *models.Session) error
}

// StepUpIssuer upgrades a pending session once step-up has succeeded
type StepUpIssuer interface {
	Elevate(ctx context.Context, session *models.Session) (*models.Session, error)
}

// AccountRepository is the profile document store
type AccountRepository interface {
	GetByID(ctx context.Context, id string) (*models.Account, error)
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	SetVerified(ctx context.Context, id string, verified bool) (*models.Account, error)
	SetStatus(ctx context.Context, id, status string) (*models.Account, error)
	Stats(ctx context.Context) (*models.AccountStats, error)
}

// GateConfig bounds the gate's calls to its collaborators
type GateConfig struct {
	ProviderTimeout time.Duration
	StoreTimeout    time.Duration
}

// CredentialGate runs the sign-in state machine:
// validate, lockout check, provider, profile, then role and status branching.
type CredentialGate struct {
	tracker  AttemptTracker
	provider IdentityProvider
	accounts AccountRepository
	stepUp   StepUpChannel
	issuer   StepUpIssuer
	audit    *AuditService
	config   GateConfig
	logger   *slog.Logger
	observer Observer
}

// NewCredentialGate creates a new CredentialGate
func NewCredentialGate(
	tracker AttemptTracker,
	provider IdentityProvider,
	accounts AccountRepository,
	stepUp StepUpChannel,
	issuer StepUpIssuer,
	audit *AuditService,
	config GateConfig,
	logger *slog.Logger,
	observer Observer,
) *CredentialGate {
	return &CredentialGate{
		tracker:  tracker,
		provider: provider,
		accounts: accounts,
		stepUp:   stepUp,
		issuer:   issuer,
		audit:    audit,
		config:   config,
		logger:   logger,
		observer: observerOrNop(observer),
	}
}

type signInInput struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RegisterInput is the sign-up form
type RegisterInput struct {
	FullName        string `json:"full_name" validate:"required,max=100"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

// SignIn authenticates identifier and secret. Every rejection is returned as
// a *models.GateError.
func (g *CredentialGate) SignIn(ctx context.Context, identifier, secret string, meta models.RequestMeta) (*models.SignInResult, error) {
	identifier = normalizeIdentifier(identifier)
	if err := validation.Struct(signInInput{Email: identifier, Password: secret}); err != nil {
		return nil, g.reject(validationRejection(err))
	}

	// Side effects below must outlive an abandoned request
	detached := context.WithoutCancel(ctx)

	blocked, err := g.tracker.IsBlocked(ctx, identifier)
	if err != nil {
		// Fail open: a tracker outage must not lock everyone out
		g.logger.Error("attempt tracker unavailable, skipping lockout check",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", err))
	}
	if blocked {
		remaining, _ := g.tracker.RemainingBlockTime(ctx, identifier)
		g.logger.Warn("sign-in rejected, identifier locked out",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Duration("remaining", remaining))
		return nil, g.reject(lockoutRejection(remaining))
	}

	providerCtx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	identity, err := g.provider.Authenticate(providerCtx, identifier, secret)
	cancel()
	if err != nil {
		return nil, g.reject(g.failSignIn(detached, identifier, err, meta))
	}

	if err := g.tracker.ResetAttempts(detached, identifier); err != nil {
		g.logger.Error("failed to reset attempts",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", err))
	}
	g.audit.Record(detached, models.ActionLogin, models.ResourceAuthentication, identifier, identity.UserID, meta.Details(nil))

	// Re-read the profile on every sign-in; the store may lag the provider
	account, err := g.fetchAccount(ctx, identity.UserID)
	if err != nil {
		g.signOut(detached, identity.Session)
		return nil, g.reject(g.failSignIn(detached, identifier, fmt.Errorf("profile unavailable: %w", err), meta))
	}

	if account.IsInactive() {
		g.signOut(detached, identity.Session)
		g.audit.Record(detached, models.ActionLoginRejected, models.ResourceAuthentication, identifier, account.ID,
			meta.Details(models.EventDetails{"reason": models.ReasonInactive}))
		return nil, g.reject(&models.GateError{
			Kind:    models.KindAccountState,
			Reason:  models.ReasonInactive,
			Message: msgAccountInactive,
		})
	}

	if account.IsAdmin() {
		return g.beginStepUp(ctx, detached, identifier, identity, account, meta)
	}

	if !account.Verified {
		g.audit.Record(detached, models.ActionLoginRejected, models.ResourceAuthentication, identifier, account.ID,
			meta.Details(models.EventDetails{"reason": models.ReasonPendingVerification}))
		return nil, g.reject(&models.GateError{
			Kind:    models.KindAccountState,
			Reason:  models.ReasonPendingVerification,
			Message: msgPendingVerification,
		})
	}

	g.observer.SignInOutcome(string(models.NextDirect))
	return &models.SignInResult{
		Next:     models.NextDirect,
		Redirect: models.RedirectUserArea,
		Session:  identity.Session,
		Account:  account,
	}, nil
}

// beginStepUp sends a code to an admin and hands back the pending session
func (g *CredentialGate) beginStepUp(ctx, detached context.Context, identifier string, identity *models.Identity, account *models.Account, meta models.RequestMeta) (*models.SignInResult, error) {
	sendCtx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	err := g.stepUp.Send(sendCtx, identifier)
	cancel()
	if err != nil {
		// Don't leave a half-authenticated admin session behind
		g.signOut(detached, identity.Session)
		g.audit.Record(detached, models.ActionStepUpFailed, models.ResourceAdminVerification, identifier, account.ID,
			meta.Details(models.EventDetails{"reason": "delivery_failed", "error": err.Error()}))
		return nil, g.reject(&models.GateError{
			Kind:    models.KindDelivery,
			Message: msgDeliveryFailed,
			Err:     err,
		})
	}

	g.audit.Record(detached, models.ActionStepUpRequested, models.ResourceAdminVerification, identifier, account.ID, meta.Details(nil))

	g.observer.SignInOutcome(string(models.NextRequireStepUp))
	return &models.SignInResult{
		Next:     models.NextRequireStepUp,
		Redirect: models.RedirectStepUp,
		Session:  identity.Session,
		Account:  account,
	}, nil
}

// CompleteStepUp checks an admin's code against the pending session and
// returns an elevated session on success.
func (g *CredentialGate) CompleteStepUp(ctx context.Context, session *models.Session, code string, meta models.RequestMeta) (*models.SignInResult, error) {
	if err := validation.Var("code", code, "required,len=6,numeric"); err != nil {
		return nil, g.reject(validationRejection(err))
	}

	detached := context.WithoutCancel(ctx)
	identifier := session.Identifier

	checkCtx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	result, err := g.stepUp.Check(checkCtx, identifier, code)
	cancel()
	if err != nil {
		g.logger.Error("step-up check failed",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", err))
		return nil, g.reject(&models.GateError{Kind: models.KindInternal, Message: msgSignInUnavailable, Err: err})
	}

	if result != models.CodeOK {
		g.audit.Record(detached, models.ActionStepUpFailed, models.ResourceAdminVerification, identifier, session.UserID,
			meta.Details(models.EventDetails{"reason": string(result)}))
		return nil, g.reject(&models.GateError{
			Kind:    models.KindStepUp,
			Reason:  string(result),
			Message: result.Message(),
		})
	}

	account, err := g.fetchAccount(ctx, session.UserID)
	if err != nil {
		return nil, g.reject(&models.GateError{Kind: models.KindInternal, Message: msgSignInUnavailable, Err: err})
	}

	if !account.IsAdmin() || account.IsInactive() {
		reason, msg := models.ReasonNotAdmin, msgNotAdmin
		if account.IsInactive() {
			reason, msg = models.ReasonInactive, msgAccountInactive
		}
		g.signOut(detached, session)
		g.audit.Record(detached, models.ActionStepUpFailed, models.ResourceAdminVerification, identifier, account.ID,
			meta.Details(models.EventDetails{"reason": reason}))
		return nil, g.reject(&models.GateError{Kind: models.KindAccountState, Reason: reason, Message: msg})
	}

	elevated, err := g.issuer.Elevate(ctx, session)
	if err != nil {
		return nil, g.reject(&models.GateError{Kind: models.KindInternal, Message: msgSignInUnavailable, Err: err})
	}

	g.audit.Record(detached, models.ActionStepUpVerified, models.ResourceAdminVerification, identifier, account.ID, meta.Details(nil))

	g.observer.SignInOutcome("step_up_verified")
	return &models.SignInResult{
		Next:     models.NextDirect,
		Redirect: models.RedirectAdminArea,
		Session:  elevated,
		Account:  account,
	}, nil
}

// Register creates a credential and its profile. New accounts start
// unverified and active.
func (g *CredentialGate) Register(ctx context.Context, in RegisterInput, meta models.RequestMeta) (*models.Account, error) {
	in.Email = normalizeIdentifier(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := validation.Struct(in); err != nil {
		return nil, validationRejection(err)
	}

	detached := context.WithoutCancel(ctx)

	if in.Password != in.ConfirmPassword {
		g.audit.Record(detached, models.ActionSignupFailed, models.ResourceAuthentication, in.Email, "",
			meta.Details(models.EventDetails{"error": "Password mismatch", "attemptedEmail": in.Email}))
		return nil, &models.GateError{Kind: models.KindValidation, Reason: "password_mismatch", Message: msgPasswordMismatch}
	}

	providerCtx, cancel := context.WithTimeout(ctx, g.config.ProviderTimeout)
	userID, err := g.provider.CreateAccount(providerCtx, in.Email, in.Password)
	cancel()
	if err != nil {
		g.audit.Record(detached, models.ActionSignupFailed, models.ResourceAuthentication, in.Email, "",
			meta.Details(models.EventDetails{
				"error":          err.Error(),
				"errorCode":      models.ProviderErrorCode(err),
				"attemptedEmail": in.Email,
			}))
		return nil, signUpRejection(err)
	}

	storeCtx, cancel := context.WithTimeout(detached, g.config.StoreTimeout)
	account, err := g.accounts.Create(storeCtx, &models.Account{
		ID:       userID,
		Email:    in.Email,
		FullName: in.FullName,
		Role:     models.RoleUser,
		Verified: false,
		Status:   models.StatusActive,
	})
	cancel()
	if err != nil {
		g.logger.Error("failed to create profile for new account",
			slog.String("user_id", userID),
			slog.Any("error", err))
		g.audit.Record(detached, models.ActionSignupFailed, models.ResourceAuthentication, in.Email, userID,
			meta.Details(models.EventDetails{"error": "profile write failed", "errorCode": "profile_write_failed", "attemptedEmail": in.Email}))
		return nil, &models.GateError{Kind: models.KindInternal, Message: msgSignInUnavailable, Err: err}
	}

	g.audit.Record(detached, models.ActionSignup, models.ResourceAuthentication, in.Email, userID, meta.Details(nil))
	return account, nil
}

// SignOut ends a session
func (g *CredentialGate) SignOut(ctx context.Context, session *models.Session, meta models.RequestMeta) error {
	if err := g.provider.SignOut(ctx, session); err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	g.audit.Record(context.WithoutCancel(ctx), models.ActionLogout, models.ResourceAuthentication, session.Identifier, session.UserID, meta.Details(nil))
	return nil
}

// failSignIn runs the failure path: count the attempt, log LOGIN_FAILED and
// build the rejection.
func (g *CredentialGate) failSignIn(ctx context.Context, identifier string, cause error, meta models.RequestMeta) *models.GateError {
	allowed, trackErr := g.tracker.RecordAttempt(ctx, identifier)
	if trackErr != nil {
		g.logger.Error("failed to record attempt",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", trackErr))
	}

	code := models.ProviderErrorCode(cause)
	g.audit.Record(ctx, models.ActionLoginFailed, models.ResourceAuthentication, identifier, "",
		meta.Details(models.EventDetails{
			"error":          cause.Error(),
			"errorCode":      code,
			"attemptedEmail": identifier,
		}))

	if code != models.ProviderCodeInvalidCredential {
		// Provider outages, timeouts and missing profiles
		return &models.GateError{Kind: models.KindInternal, Message: msgSignInUnavailable, Err: cause}
	}

	ge := &models.GateError{Kind: models.KindCredential, Message: msgInvalidCredentials, Err: cause}
	if trackErr == nil && !allowed {
		// This failure used up the last attempt; tell the caller how long to wait
		ge.RetryAfter, _ = g.tracker.RemainingBlockTime(ctx, identifier)
	}
	return ge
}

func (g *CredentialGate) fetchAccount(ctx context.Context, userID string) (*models.Account, error) {
	storeCtx, cancel := context.WithTimeout(ctx, g.config.StoreTimeout)
	defer cancel()
	return g.accounts.GetByID(storeCtx, userID)
}

func (g *CredentialGate) signOut(ctx context.Context, session *models.Session) {
	if session == nil {
		return
	}
	if err := g.provider.SignOut(ctx, session); err != nil {
		g.logger.Error("failed to sign out rejected session",
			slog.String("user_id", session.UserID),
			slog.Any("error", err))
	}
}

func (g *CredentialGate) reject(ge *models.GateError) *models.GateError {
	g.observer.SignInOutcome(string(ge.Kind))
	return ge
}

func validationRejection(err error) *models.GateError {
	msg := "Invalid input"
	var ve *validation.Error
	if errors.As(err, &ve) && len(ve.Fields) > 0 {
		msg = ve.Fields[0].Field + ": " + ve.Fields[0].Message
	}
	return &models.GateError{Kind: models.KindValidation, Message: msg, Err: err}
}

func lockoutRejection(remaining time.Duration) *models.GateError {
	minutes := int(math.Ceil(remaining.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return &models.GateError{
		Kind:       models.KindLockout,
		Message:    fmt.Sprintf("Too many failed attempts. Please try again in %d minute(s).", minutes),
		RetryAfter: remaining,
	}
}

func signUpRejection(err error) *models.GateError {
	var pe *models.ProviderError
	if errors.As(err, &pe) {
		switch pe.Code {
		case models.ProviderCodeEmailInUse, models.ProviderCodeWeakPassword:
			return &models.GateError{Kind: models.KindValidation, Reason: pe.Code, Message: pe.Message, Err: err}
		}
	}
	return &models.GateError{Kind: models.KindInternal, Message: msgSignInUnavailable, Err: err}
}

// normalizeIdentifier trims surrounding whitespace. Case is significant:
// identifiers are kept exactly as the user typed them.
func normalizeIdentifier(identifier string) string {
	return strings.TrimSpace(identifier)
}
