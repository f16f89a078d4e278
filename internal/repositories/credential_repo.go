package repositories

import (
	"context"

	"github.com/BradenHooton/safecrypt/internal/database"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

// CredentialRepository stores password hashes for the identity provider
type CredentialRepository struct {
	pool *pgxpool.Pool
}

func NewCredentialRepository(db *database.DB) *CredentialRepository {
	return &CredentialRepository{pool: db.Pool}
}

func (r *CredentialRepository) GetByIdentifier(ctx context.Context, identifier string) (*models.Credential, error) {
	query := `SELECT user_id, identifier, password_hash, created_at FROM credentials WHERE identifier = $1`

	var c models.Credential
	err := r.pool.QueryRow(ctx, query, identifier).Scan(&c.UserID, &c.Identifier, &c.PasswordHash, &c.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &c, nil
}

// Create inserts a credential. A taken identifier yields models.ErrConflict.
func (r *CredentialRepository) Create(ctx context.Context, cred *models.Credential) error {
	query := `INSERT INTO credentials (user_id, identifier, password_hash) VALUES ($1, $2, $3)`

	_, err := r.pool.Exec(ctx, query, cred.UserID, cred.Identifier, cred.PasswordHash)
	return database.MapPostgresError(err)
}
