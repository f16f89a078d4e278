package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
)

const (
	defaultEventPageSize = 50
	maxEventPageSize     = 100
)

// SecurityEventRepository defines the interface for the security event store
type SecurityEventRepository interface {
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
	List(ctx context.Context, query models.SecurityEventQuery) ([]*models.SecurityEvent, error)
	CountSince(ctx context.Context, action string, since time.Time) (int64, error)
}

// AppendResult is the outcome of AuditService.Append
type AppendResult string

const (
	AppendWritten AppendResult = "written"
	AppendInvalid AppendResult = "invalid"
	AppendDropped AppendResult = "dropped"
)

// AuditService appends security events with a dual write: a structured log
// line first, then the event store. Store failures are logged and counted
// but never returned to the caller.
type AuditService struct {
	repo         SecurityEventRepository
	audit        *pkglogger.AuditLogger
	logger       *slog.Logger
	writeTimeout time.Duration
	observer     Observer
	now          func() time.Time
}

// NewAuditService creates a new AuditService
func NewAuditService(repo SecurityEventRepository, logger *slog.Logger, writeTimeout time.Duration, observer Observer) *AuditService {
	return &AuditService{
		repo:         repo,
		audit:        pkglogger.NewAuditLogger(logger),
		logger:       logger,
		writeTimeout: writeTimeout,
		observer:     observerOrNop(observer),
		now:          time.Now,
	}
}

// Append validates and stores one event. The store write is detached from
// ctx's cancellation so an abandoned request still leaves its audit trail,
// and is bounded by the write timeout.
func (s *AuditService) Append(ctx context.Context, event *models.SecurityEvent) AppendResult {
	if event.ClientTimestamp.IsZero() {
		event.ClientTimestamp = s.now()
	}
	if event.Details == nil {
		event.Details = models.EventDetails{}
	}

	if err := event.Validate(); err != nil {
		s.audit.LogDropped(ctx, event.Action, "invalid", err)
		s.observer.AuditDropped("invalid")
		return AppendInvalid
	}

	s.audit.LogSecurityEvent(ctx, toSecurityRecord(event))

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.writeTimeout)
	defer cancel()

	if _, err := s.repo.Create(writeCtx, event); err != nil {
		s.audit.LogDropped(ctx, event.Action, "store_error", err)
		s.observer.AuditDropped("store_error")
		return AppendDropped
	}

	s.observer.AuditWritten(event.Action)
	return AppendWritten
}

// Record builds and appends an event. An empty identifier is stored as null.
func (s *AuditService) Record(ctx context.Context, action, resource, actorIdentifier, actorID string, details models.EventDetails) AppendResult {
	return s.Append(ctx, &models.SecurityEvent{
		ActorIdentifier: optionalString(actorIdentifier),
		ActorID:         optionalString(actorID),
		Action:          action,
		Resource:        resource,
		Details:         details,
	})
}

// ListSecurityEvents returns one page of the security log, newest first.
// The next cursor is empty on the last page.
func (s *AuditService) ListSecurityEvents(ctx context.Context, query models.SecurityEventQuery) (*models.SecurityEventPage, error) {
	query.Limit = clampPageSize(query.Limit)

	// Fetch one extra row to learn whether another page exists
	fetch := query
	fetch.Limit = query.Limit + 1

	events, err := s.repo.List(ctx, fetch)
	if err != nil {
		return nil, fmt.Errorf("failed to list security events: %w", err)
	}

	page := &models.SecurityEventPage{Events: events}
	if len(events) > query.Limit {
		page.Events = events[:query.Limit]
		last := page.Events[len(page.Events)-1]
		page.NextCursor = models.EventCursor{ServerTimestamp: last.ServerTimestamp, ID: last.ID}.Encode()
	}

	return page, nil
}

// CountSince counts events of one action recorded at or after since
func (s *AuditService) CountSince(ctx context.Context, action string, since time.Time) (int64, error) {
	return s.repo.CountSince(ctx, action, since)
}

func clampPageSize(limit int) int {
	switch {
	case limit <= 0:
		return defaultEventPageSize
	case limit > maxEventPageSize:
		return maxEventPageSize
	default:
		return limit
	}
}

func toSecurityRecord(event *models.SecurityEvent) pkglogger.SecurityRecord {
	rec := pkglogger.SecurityRecord{
		Action:          event.Action,
		Resource:        event.Resource,
		ClientTimestamp: event.ClientTimestamp,
		Details:         event.Details,
	}
	if event.ActorIdentifier != nil {
		rec.ActorIdentifier = *event.ActorIdentifier
	}
	if event.ActorID != nil {
		rec.ActorID = *event.ActorID
	}
	return rec
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
