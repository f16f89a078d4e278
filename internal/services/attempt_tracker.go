package services

import (
	"context"
	"sync"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
)

// AttemptTracker counts consecutive authentication failures per identifier
// and reports lockouts. Every method is atomic per identifier.
type AttemptTracker interface {
	// RecordAttempt registers a failure and reports whether further attempts
	// are still allowed. A blocked identifier is left untouched.
	RecordAttempt(ctx context.Context, identifier string) (bool, error)
	IsBlocked(ctx context.Context, identifier string) (bool, error)
	RemainingBlockTime(ctx context.Context, identifier string) (time.Duration, error)
	ResetAttempts(ctx context.Context, identifier string) error
}

// AttemptPolicy holds the lockout thresholds
type AttemptPolicy struct {
	MaxAttempts   int
	BlockDuration time.Duration
}

// DefaultAttemptPolicy locks an identifier for 10 minutes after 3 failures
func DefaultAttemptPolicy() AttemptPolicy {
	return AttemptPolicy{
		MaxAttempts:   3,
		BlockDuration: 10 * time.Minute,
	}
}

// MemoryAttemptTracker keeps attempt records in process memory. State is lost
// on restart and is not shared between replicas.
type MemoryAttemptTracker struct {
	mu      sync.Mutex
	records map[string]*models.AttemptRecord
	policy  AttemptPolicy
	now     func() time.Time
}

// NewMemoryAttemptTracker creates an empty tracker
func NewMemoryAttemptTracker(policy AttemptPolicy) *MemoryAttemptTracker {
	return &MemoryAttemptTracker{
		records: make(map[string]*models.AttemptRecord),
		policy:  policy,
		now:     time.Now,
	}
}

// WithClock replaces the tracker's time source
func (t *MemoryAttemptTracker) WithClock(now func() time.Time) *MemoryAttemptTracker {
	t.now = now
	return t
}

func (t *MemoryAttemptTracker) RecordAttempt(_ context.Context, identifier string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	rec := t.records[identifier]

	if rec.Blocked(t.policy.MaxAttempts, t.policy.BlockDuration, now) {
		return false, nil
	}

	if rec == nil || rec.Expired(t.policy.BlockDuration, now) {
		rec = &models.AttemptRecord{Identifier: identifier, FailureCount: 1, WindowStart: now}
		t.records[identifier] = rec
	} else {
		rec.FailureCount++
	}

	return rec.FailureCount < t.policy.MaxAttempts, nil
}

func (t *MemoryAttemptTracker) IsBlocked(_ context.Context, identifier string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.records[identifier].Blocked(t.policy.MaxAttempts, t.policy.BlockDuration, t.now()), nil
}

// RemainingBlockTime returns the time left in the identifier's window, or 0
// if there is no record.
func (t *MemoryAttemptTracker) RemainingBlockTime(_ context.Context, identifier string) (time.Duration, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.records[identifier].Remaining(t.policy.BlockDuration, t.now()), nil
}

func (t *MemoryAttemptTracker) ResetAttempts(_ context.Context, identifier string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.records, identifier)
	return nil
}

// Prune drops records whose window has rolled over. A pruned record behaves
// exactly like an expired one, so pruning never changes an outcome.
func (t *MemoryAttemptTracker) Prune(_ context.Context) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	var removed int64
	for id, rec := range t.records {
		if rec.Expired(t.policy.BlockDuration, now) {
			delete(t.records, id)
			removed++
		}
	}
	return removed, nil
}

// snapshot returns a copy of the identifier's record
func (t *MemoryAttemptTracker) snapshot(identifier string) *models.AttemptRecord {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[identifier]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}
