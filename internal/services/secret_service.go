package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/validation"
	"github.com/google/uuid"
)

// SecretRepository is the key vault store
type SecretRepository interface {
	Create(ctx context.Context, secret *models.Secret) (*models.Secret, error)
	List(ctx context.Context) ([]*models.Secret, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Secret, error)
	MarkAccessed(ctx context.Context, id uuid.UUID, at time.Time) (*models.Secret, error)
	Delete(ctx context.Context, id uuid.UUID) (*models.Secret, error)
}

// SecretCipher seals vault values. aad binds a sealed value to its secret.
type SecretCipher interface {
	Seal(plaintext, aad []byte) ([]byte, error)
	Open(sealed, aad []byte) ([]byte, error)
}

// NewSecretInput is the add-secret form
type NewSecretInput struct {
	Name  string `json:"name" validate:"required,max=100"`
	Value string `json:"value" validate:"required,max=4096"`
}

// SecretService is the admin key vault. Every create, reveal and delete is
// written to the security log.
type SecretService struct {
	repo   SecretRepository
	cipher SecretCipher
	audit  *AuditService
	logger *slog.Logger
	now    func() time.Time
}

func NewSecretService(repo SecretRepository, cipher SecretCipher, audit *AuditService, logger *slog.Logger) *SecretService {
	return &SecretService{
		repo:   repo,
		cipher: cipher,
		audit:  audit,
		logger: logger,
		now:    time.Now,
	}
}

// WithClock replaces the service's time source
func (s *SecretService) WithClock(now func() time.Time) *SecretService {
	s.now = now
	return s
}

// Create seals in.Value and stores it under a new id
func (s *SecretService) Create(ctx context.Context, actor Actor, in NewSecretInput) (*models.Secret, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}

	id := uuid.New()
	sealed, err := s.cipher.Seal([]byte(in.Value), id[:])
	if err != nil {
		return nil, fmt.Errorf("failed to seal secret: %w", err)
	}

	secret, err := s.repo.Create(ctx, &models.Secret{
		ID:         id,
		Name:       in.Name,
		Ciphertext: sealed,
		CreatedBy:  actor.UserID,
		CreatedAt:  s.now(),
	})
	if err != nil {
		return nil, err
	}

	s.audit.Record(context.WithoutCancel(ctx), models.ActionSecretCreated, models.ResourceKeyVault,
		actor.Identifier, actor.UserID, secretDetails(secret))
	return secret, nil
}

// List returns the vault entries newest first, values still sealed
func (s *SecretService) List(ctx context.Context) ([]*models.Secret, error) {
	return s.repo.List(ctx)
}

// Reveal opens a secret, stamps its last access and logs SECRET_ACCESSED
func (s *SecretService) Reveal(ctx context.Context, actor Actor, id string) (*models.Secret, string, error) {
	secretID, err := parseSecretID(id)
	if err != nil {
		return nil, "", err
	}

	secret, err := s.repo.GetByID(ctx, secretID)
	if err != nil {
		return nil, "", err
	}

	plaintext, err := s.cipher.Open(secret.Ciphertext, secret.ID[:])
	if err != nil {
		s.logger.Error("key vault: failed to open secret",
			slog.String("secret_id", secret.ID.String()),
			slog.Any("error", err))
		return nil, "", fmt.Errorf("failed to open secret: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	if accessed, err := s.repo.MarkAccessed(detached, secret.ID, s.now()); err != nil {
		s.logger.Error("key vault: failed to stamp last access",
			slog.String("secret_id", secret.ID.String()),
			slog.Any("error", err))
	} else {
		secret = accessed
	}

	s.audit.Record(detached, models.ActionSecretAccessed, models.ResourceKeyVault,
		actor.Identifier, actor.UserID, secretDetails(secret))
	return secret, string(plaintext), nil
}

// Delete removes a secret and logs SECRET_DELETED
func (s *SecretService) Delete(ctx context.Context, actor Actor, id string) error {
	secretID, err := parseSecretID(id)
	if err != nil {
		return err
	}

	secret, err := s.repo.Delete(ctx, secretID)
	if err != nil {
		return err
	}

	s.audit.Record(context.WithoutCancel(ctx), models.ActionSecretDeleted, models.ResourceKeyVault,
		actor.Identifier, actor.UserID, secretDetails(secret))
	return nil
}

// parseSecretID treats a malformed id like an unknown one
func parseSecretID(id string) (uuid.UUID, error) {
	secretID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, models.ErrNotFound
	}
	return secretID, nil
}

func secretDetails(secret *models.Secret) models.EventDetails {
	return models.EventDetails{
		"secretId":   secret.ID.String(),
		"secretName": secret.Name,
	}
}
