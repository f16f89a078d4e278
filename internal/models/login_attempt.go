package models

import "time"

// AttemptRecord tracks consecutive authentication failures for one
// identifier. It is created on the first failure and removed on success or
// once its window has rolled over.
type AttemptRecord struct {
	Identifier   string    `json:"identifier"`
	FailureCount int       `json:"failure_count"`
	WindowStart  time.Time `json:"window_start"`
}

// Blocked reports whether the record locks the identifier out at now.
// It depends only on the record, the policy and the clock.
func (r *AttemptRecord) Blocked(maxAttempts int, blockDuration time.Duration, now time.Time) bool {
	if r == nil {
		return false
	}
	return r.FailureCount >= maxAttempts && now.Sub(r.WindowStart) < blockDuration
}

// Remaining returns how long until the record's window closes, never negative
func (r *AttemptRecord) Remaining(blockDuration time.Duration, now time.Time) time.Duration {
	if r == nil {
		return 0
	}
	remaining := blockDuration - now.Sub(r.WindowStart)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Expired reports whether the window has rolled over, so the next failure
// starts a fresh window.
func (r *AttemptRecord) Expired(blockDuration time.Duration, now time.Time) bool {
	return now.Sub(r.WindowStart) > blockDuration
}
