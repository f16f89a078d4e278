// Package identity is the built-in identity provider: bcrypt password
// credentials in PostgreSQL and JWT sessions with a revocation list.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/models"
	pkgauth "github.com/BradenHooton/safecrypt/pkg/auth"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
	"github.com/google/uuid"
)

// Revocation reasons
const (
	ReasonSignOut = "sign_out"
	ReasonStepUp  = "step_up"
)

// CredentialStore holds password hashes by identifier
type CredentialStore interface {
	GetByIdentifier(ctx context.Context, identifier string) (*models.Credential, error)
	Create(ctx context.Context, cred *models.Credential) error
}

// TokenRevoker blacklists session tokens before they expire
type TokenRevoker interface {
	RevokeToken(ctx context.Context, jti, userID string, expiresAt time.Time, reason string) error
}

// PasswordProvider authenticates password credentials and issues sessions
type PasswordProvider struct {
	credentials CredentialStore
	tokens      *auth.TokenManager
	revocations TokenRevoker
	logger      *slog.Logger
}

// NewPasswordProvider creates a new PasswordProvider
func NewPasswordProvider(credentials CredentialStore, tokens *auth.TokenManager, revocations TokenRevoker, logger *slog.Logger) *PasswordProvider {
	return &PasswordProvider{
		credentials: credentials,
		tokens:      tokens,
		revocations: revocations,
		logger:      logger,
	}
}

func invalidCredential() error {
	return &models.ProviderError{Code: models.ProviderCodeInvalidCredential, Message: "invalid credential"}
}

func unavailable(err error) error {
	return &models.ProviderError{Code: models.ProviderCodeUnavailable, Message: "identity provider unavailable", Err: err}
}

// Authenticate checks a password and issues a session that has not completed
// step-up. Unknown identifiers and wrong passwords are indistinguishable.
func (p *PasswordProvider) Authenticate(ctx context.Context, identifier, secret string) (*models.Identity, error) {
	cred, err := p.credentials.GetByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkgauth.CompareDummy(secret)
			return nil, invalidCredential()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable(err)
	}

	if err := pkgauth.ComparePassword(cred.PasswordHash, secret); err != nil {
		return nil, invalidCredential()
	}

	session, err := p.tokens.IssueSession(cred.UserID, cred.Identifier, false)
	if err != nil {
		return nil, unavailable(err)
	}

	return &models.Identity{
		UserID:     cred.UserID,
		Identifier: cred.Identifier,
		Session:    session,
	}, nil
}

// CreateAccount stores a new credential and returns its user id
func (p *PasswordProvider) CreateAccount(ctx context.Context, identifier, secret string) (string, error) {
	if err := pkgauth.ValidatePassword(secret); err != nil {
		return "", &models.ProviderError{Code: models.ProviderCodeWeakPassword, Message: err.Error(), Err: err}
	}

	hash, err := pkgauth.HashPassword(secret)
	if err != nil {
		return "", unavailable(err)
	}

	userID := uuid.New().String()
	err = p.credentials.Create(ctx, &models.Credential{
		UserID:       userID,
		Identifier:   identifier,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return "", &models.ProviderError{Code: models.ProviderCodeEmailInUse, Message: "Email is already registered", Err: err}
		}
		return "", unavailable(err)
	}

	p.logger.Info("credential created",
		slog.String("user_id", userID),
		slog.String("email", pkglogger.SanitizedEmail(identifier)))
	return userID, nil
}

// SignOut revokes the session's token
func (p *PasswordProvider) SignOut(ctx context.Context, session *models.Session) error {
	if err := p.revocations.RevokeToken(ctx, session.ID, session.UserID, session.ExpiresAt, ReasonSignOut); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// Elevate swaps a pending session for one that has completed step-up. The
// pending token is revoked so it cannot be replayed.
func (p *PasswordProvider) Elevate(ctx context.Context, session *models.Session) (*models.Session, error) {
	elevated, err := p.tokens.IssueSession(session.UserID, session.Identifier, true)
	if err != nil {
		return nil, err
	}

	if err := p.revocations.RevokeToken(ctx, session.ID, session.UserID, session.ExpiresAt, ReasonStepUp); err != nil {
		return nil, fmt.Errorf("failed to revoke pending session: %w", err)
	}
	return elevated, nil
}
