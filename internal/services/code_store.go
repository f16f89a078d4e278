package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/redis/go-redis/v9"
)

const codeKeyPrefix = "safecrypt:stepup:"

// ErrCodeStoreUnavailable wraps Redis failures from the code store
var ErrCodeStoreUnavailable = errors.New("verification code store unavailable")

// MemoryCodeStore keeps codes in process memory
type MemoryCodeStore struct {
	mu     sync.Mutex
	codes  map[string]models.VerificationCode
	retain time.Duration
	now    func() time.Time
}

// NewMemoryCodeStore creates an empty store. Expired codes are kept for
// retain past their expiry so a late check still reports them as expired.
func NewMemoryCodeStore(retain time.Duration) *MemoryCodeStore {
	return &MemoryCodeStore{
		codes:  make(map[string]models.VerificationCode),
		retain: retain,
		now:    time.Now,
	}
}

// WithClock replaces the store's time source
func (s *MemoryCodeStore) WithClock(now func() time.Time) *MemoryCodeStore {
	s.now = now
	return s
}

func (s *MemoryCodeStore) Put(_ context.Context, code *models.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.codes[code.Identifier] = *code
	return nil
}

func (s *MemoryCodeStore) Get(_ context.Context, identifier string) (*models.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	code, ok := s.codes[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &code, nil
}

func (s *MemoryCodeStore) Delete(_ context.Context, identifier, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.codes[identifier]
	if !ok || stored.Code != code {
		return models.ErrNotFound
	}
	delete(s.codes, identifier)
	return nil
}

// Prune drops codes that expired more than the retention period ago
func (s *MemoryCodeStore) Prune(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.retain)
	var removed int64
	for id, code := range s.codes {
		if code.ExpiresAt.Before(cutoff) {
			delete(s.codes, id)
			removed++
		}
	}
	return removed, nil
}

// deleteCodeLua removes a code record only while it still holds ARGV[1]
var deleteCodeLua = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'code') == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisCodeStore keeps codes in Redis hashes that expire retain after the
// code itself.
type RedisCodeStore struct {
	redis  redis.UniversalClient
	retain time.Duration
	now    func() time.Time
}

// NewRedisCodeStore creates a store backed by the given Redis client
func NewRedisCodeStore(redisClient redis.UniversalClient, retain time.Duration) *RedisCodeStore {
	return &RedisCodeStore{
		redis:  redisClient,
		retain: retain,
		now:    time.Now,
	}
}

// WithClock replaces the store's time source
func (s *RedisCodeStore) WithClock(now func() time.Time) *RedisCodeStore {
	s.now = now
	return s
}

func (s *RedisCodeStore) Put(ctx context.Context, code *models.VerificationCode) error {
	key := codeKey(code.Identifier)
	ttl := code.ExpiresAt.Sub(s.now()) + s.retain
	if ttl <= 0 {
		ttl = time.Second
	}

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, "code", code.Code, "expires_at", strconv.FormatInt(code.ExpiresAt.UnixMilli(), 10))
		pipe.PExpire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}
	return nil
}

func (s *RedisCodeStore) Get(ctx context.Context, identifier string) (*models.VerificationCode, error) {
	vals, err := s.redis.HMGet(ctx, codeKey(identifier), "code", "expires_at").Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return nil, models.ErrNotFound
	}

	code, _ := vals[0].(string)
	expiresMs, err := strconv.ParseInt(fmt.Sprint(vals[1]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expiry: %v", ErrCodeStoreUnavailable, err)
	}

	return &models.VerificationCode{
		Identifier: identifier,
		Code:       code,
		ExpiresAt:  time.UnixMilli(expiresMs),
	}, nil
}

func (s *RedisCodeStore) Delete(ctx context.Context, identifier, code string) error {
	n, err := deleteCodeLua.Run(ctx, s.redis, []string{codeKey(identifier)}, code).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCodeStoreUnavailable, err)
	}
	if n == 0 {
		return models.ErrNotFound
	}
	return nil
}

func codeKey(identifier string) string {
	return codeKeyPrefix + identifier
}
