package repositories

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/BradenHooton/safecrypt/internal/database"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const securityEventColumns = `id, actor_identifier, actor_id, action, resource, details, server_timestamp, client_timestamp`

// SecurityEventRepository is the append-only security log. Rows are never
// updated or deleted by the application.
type SecurityEventRepository struct {
	pool *pgxpool.Pool
}

func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{pool: db.Pool}
}

func scanSecurityEventRow(scanner rowScanner) (*models.SecurityEvent, error) {
	var e models.SecurityEvent
	err := scanner.Scan(
		&e.ID, &e.ActorIdentifier, &e.ActorID, &e.Action, &e.Resource,
		&e.Details, &e.ServerTimestamp, &e.ClientTimestamp,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	return &e, nil
}

func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)
	for rows.Next() {
		e, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return events, nil
}

// Create appends an event. The id and server timestamp are assigned by the
// database and written back to the returned event.
func (r *SecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	query := `
		INSERT INTO security_events (actor_identifier, actor_id, action, resource, details, client_timestamp)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING ` + securityEventColumns

	created, err := scanSecurityEventRow(r.pool.QueryRow(ctx, query,
		event.ActorIdentifier, event.ActorID, event.Action, event.Resource,
		event.Details, event.ClientTimestamp,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to append security event: %w", err)
	}
	return created, nil
}

// List returns events newest first, starting strictly after q.After
func (r *SecurityEventRepository) List(ctx context.Context, q models.SecurityEventQuery) ([]*models.SecurityEvent, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q.Action != "" {
		where = append(where, "action = "+arg(q.Action))
	}
	if q.ActorIdentifier != "" {
		where = append(where, "actor_identifier = "+arg(q.ActorIdentifier))
	}
	if q.Since != nil {
		where = append(where, "server_timestamp >= "+arg(*q.Since))
	}
	if q.After != nil {
		where = append(where, fmt.Sprintf("(server_timestamp, id) < (%s, %s)", arg(q.After.ServerTimestamp), arg(q.After.ID)))
	}

	query := `SELECT ` + securityEventColumns + ` FROM security_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY server_timestamp DESC, id DESC LIMIT ` + arg(q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	return scanSecurityEventRows(rows)
}

// CountSince counts events of one action at or after since
func (r *SecurityEventRepository) CountSince(ctx context.Context, action string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM security_events WHERE action = $1 AND server_timestamp >= $2`

	var count int64
	if err := r.pool.QueryRow(ctx, query, action, since).Scan(&count); err != nil {
		return 0, database.MapPostgresError(err)
	}
	return count, nil
}
