package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/redis/go-redis/v9"
)

const attemptKeyPrefix = "safecrypt:attempts:"

// ErrAttemptStoreUnavailable wraps Redis failures from the attempt tracker
var ErrAttemptStoreUnavailable = errors.New("attempt store unavailable")

// recordAttemptLua atomically applies one failure to a record.
// KEYS[1] = record hash
// ARGV[1] = now (unix ms)
// ARGV[2] = max attempts
// ARGV[3] = block duration (ms)
// ARGV[4] = record ttl (ms)
//
// Returns the new failure count, or -1 if the identifier is blocked and the
// record was left unchanged. Timestamps are written back from ARGV and HGET
// verbatim so large integers never round-trip through Lua numbers.
var recordAttemptLua = redis.NewScript(`
local now = tonumber(ARGV[1])
local maxAttempts = tonumber(ARGV[2])
local block = tonumber(ARGV[3])

local count = tonumber(redis.call('HGET', KEYS[1], 'count') or '0')
local rawStart = redis.call('HGET', KEYS[1], 'window_start') or ARGV[1]
local windowStart = tonumber(rawStart)

if count >= maxAttempts and now - windowStart < block then
  return -1
end

if count == 0 or now - windowStart > block then
  count = 1
  rawStart = ARGV[1]
else
  count = count + 1
end

redis.call('HSET', KEYS[1], 'count', tostring(count), 'window_start', rawStart)
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return count
`)

// RedisAttemptTracker shares attempt records between replicas through Redis
type RedisAttemptTracker struct {
	redis  redis.UniversalClient
	policy AttemptPolicy
	now    func() time.Time
}

// NewRedisAttemptTracker creates a tracker backed by the given Redis client
func NewRedisAttemptTracker(redisClient redis.UniversalClient, policy AttemptPolicy) *RedisAttemptTracker {
	return &RedisAttemptTracker{
		redis:  redisClient,
		policy: policy,
		now:    time.Now,
	}
}

// WithClock replaces the tracker's time source
func (t *RedisAttemptTracker) WithClock(now func() time.Time) *RedisAttemptTracker {
	t.now = now
	return t
}

func (t *RedisAttemptTracker) RecordAttempt(ctx context.Context, identifier string) (bool, error) {
	count, err := recordAttemptLua.Run(ctx, t.redis,
		[]string{attemptKey(identifier)},
		t.now().UnixMilli(),
		t.policy.MaxAttempts,
		t.policy.BlockDuration.Milliseconds(),
		(2 * t.policy.BlockDuration).Milliseconds(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrAttemptStoreUnavailable, err)
	}
	if count < 0 {
		return false, nil
	}
	return count < int64(t.policy.MaxAttempts), nil
}

func (t *RedisAttemptTracker) IsBlocked(ctx context.Context, identifier string) (bool, error) {
	rec, err := t.load(ctx, identifier)
	if err != nil {
		return false, err
	}
	return rec.Blocked(t.policy.MaxAttempts, t.policy.BlockDuration, t.now()), nil
}

func (t *RedisAttemptTracker) RemainingBlockTime(ctx context.Context, identifier string) (time.Duration, error) {
	rec, err := t.load(ctx, identifier)
	if err != nil {
		return 0, err
	}
	return rec.Remaining(t.policy.BlockDuration, t.now()), nil
}

func (t *RedisAttemptTracker) ResetAttempts(ctx context.Context, identifier string) error {
	if err := t.redis.Del(ctx, attemptKey(identifier)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrAttemptStoreUnavailable, err)
	}
	return nil
}

// load returns the identifier's record, or nil if there is none
func (t *RedisAttemptTracker) load(ctx context.Context, identifier string) (*models.AttemptRecord, error) {
	vals, err := t.redis.HMGet(ctx, attemptKey(identifier), "count", "window_start").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAttemptStoreUnavailable, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, nil
	}

	count, err := strconv.Atoi(fmt.Sprint(vals[0]))
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt count: %v", ErrAttemptStoreUnavailable, err)
	}
	windowStart, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt window start: %v", ErrAttemptStoreUnavailable, err)
	}

	return &models.AttemptRecord{
		Identifier:   identifier,
		FailureCount: count,
		WindowStart:  time.UnixMilli(windowStart),
	}, nil
}

func attemptKey(identifier string) string {
	return attemptKeyPrefix + identifier
}
