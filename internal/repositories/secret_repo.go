package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/safecrypt/internal/database"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

const secretColumns = `id, name, ciphertext, created_by, created_at, last_accessed`

// SecretRepository stores sealed key vault entries
type SecretRepository struct {
	pool *pgxpool.Pool
}

func NewSecretRepository(db *database.DB) *SecretRepository {
	return &SecretRepository{pool: db.Pool}
}

func scanSecretRow(scanner rowScanner) (*models.Secret, error) {
	var s models.Secret
	err := scanner.Scan(&s.ID, &s.Name, &s.Ciphertext, &s.CreatedBy, &s.CreatedAt, &s.LastAccessed)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}

func (r *SecretRepository) Create(ctx context.Context, secret *models.Secret) (*models.Secret, error) {
	query := `
		INSERT INTO secrets (id, name, ciphertext, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING ` + secretColumns

	created, err := scanSecretRow(r.pool.QueryRow(ctx, query,
		secret.ID, secret.Name, secret.Ciphertext, secret.CreatedBy, secret.CreatedAt,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create secret: %w", err)
	}
	return created, nil
}

// List returns every secret, newest first
func (r *SecretRepository) List(ctx context.Context) ([]*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets ORDER BY created_at DESC, id DESC`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	secrets := make([]*models.Secret, 0)
	for rows.Next() {
		s, err := scanSecretRow(rows)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	return secrets, nil
}

func (r *SecretRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Secret, error) {
	query := `SELECT ` + secretColumns + ` FROM secrets WHERE id = $1`
	return scanSecretRow(r.pool.QueryRow(ctx, query, id))
}

// MarkAccessed stamps last_accessed and returns the updated row
func (r *SecretRepository) MarkAccessed(ctx context.Context, id uuid.UUID, at time.Time) (*models.Secret, error) {
	query := `
		UPDATE secrets SET last_accessed = $2
		WHERE id = $1
		RETURNING ` + secretColumns
	return scanSecretRow(r.pool.QueryRow(ctx, query, id, at))
}

// Delete removes a secret and returns what was removed
func (r *SecretRepository) Delete(ctx context.Context, id uuid.UUID) (*models.Secret, error) {
	query := `DELETE FROM secrets WHERE id = $1 RETURNING ` + secretColumns
	return scanSecretRow(r.pool.QueryRow(ctx, query, id))
}
