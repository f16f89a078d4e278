package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/safecrypt/internal/database"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
)

const accountColumns = `id, email, full_name, role, verified, status, created_at, updated_at`

// AccountRepository stores account profiles
type AccountRepository struct {
	pool *pgxpool.Pool
}

func NewAccountRepository(db *database.DB) *AccountRepository {
	return &AccountRepository{pool: db.Pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAccountRow(scanner rowScanner) (*models.Account, error) {
	var account models.Account
	err := scanner.Scan(
		&account.ID, &account.Email, &account.FullName, &account.Role,
		&account.Verified, &account.Status, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &account, nil
}

func (r *AccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return scanAccountRow(r.pool.QueryRow(ctx, query, id))
}

func (r *AccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	now := time.Now()
	if account.Role == "" {
		account.Role = models.RoleUser
	}
	if account.Status == "" {
		account.Status = models.StatusActive
	}

	query := `
		INSERT INTO accounts (id, email, full_name, role, verified, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING ` + accountColumns

	created, err := scanAccountRow(r.pool.QueryRow(ctx, query,
		account.ID, account.Email, account.FullName, account.Role,
		account.Verified, account.Status, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}
	return created, nil
}

func (r *AccountRepository) SetVerified(ctx context.Context, id string, verified bool) (*models.Account, error) {
	query := `
		UPDATE accounts SET verified = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns
	return scanAccountRow(r.pool.QueryRow(ctx, query, id, verified))
}

func (r *AccountRepository) SetStatus(ctx context.Context, id, status string) (*models.Account, error) {
	query := `
		UPDATE accounts SET status = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + accountColumns
	return scanAccountRow(r.pool.QueryRow(ctx, query, id, status))
}

// Stats counts accounts by status, verification and role in one pass.
// Accounts without an explicit inactive status count as active.
func (r *AccountRepository) Stats(ctx context.Context) (*models.AccountStats, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status <> 'inactive'),
			COUNT(*) FILTER (WHERE status = 'inactive'),
			COUNT(*) FILTER (WHERE verified),
			COUNT(*) FILTER (WHERE NOT verified),
			COUNT(*) FILTER (WHERE role = 'admin')
		FROM accounts
	`

	var s models.AccountStats
	err := r.pool.QueryRow(ctx, query).Scan(
		&s.TotalUsers, &s.ActiveUsers, &s.InactiveUsers,
		&s.VerifiedUsers, &s.PendingVerification, &s.AdminCount,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &s, nil
}
