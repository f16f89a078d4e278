package services

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
)

const (
	codeLowerBound = 100000
	codeSpan       = 900000
)

// CodeStore holds at most one live code per identifier
type CodeStore interface {
	// Put stores code, replacing any earlier code for the identifier
	Put(ctx context.Context, code *models.VerificationCode) error
	// Get returns models.ErrNotFound when no code is on file
	Get(ctx context.Context, identifier string) (*models.VerificationCode, error)
	// Delete removes the record only while it still holds code, and returns
	// models.ErrNotFound otherwise
	Delete(ctx context.Context, identifier, code string) error
}

// CodeSender delivers a code to its owner
type CodeSender interface {
	SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error
}

// StepUpChannel issues and checks step-up codes. It is satisfied in process
// by VerificationCodeService and remotely by verifyclient.Client.
type StepUpChannel interface {
	Send(ctx context.Context, identifier string) error
	Check(ctx context.Context, identifier, code string) (models.CodeCheckResult, error)
}

// VerificationCodeService issues single-use six digit codes with a fixed
// lifetime. Unlike passwords, codes are not counted against the attempt
// tracker: a wrong code may be retried until the code expires.
type VerificationCodeService struct {
	store    CodeStore
	sender   CodeSender
	ttl      time.Duration
	logger   *slog.Logger
	observer Observer
	now      func() time.Time

	issuing keyedMutex
}

// NewVerificationCodeService creates a new VerificationCodeService
func NewVerificationCodeService(store CodeStore, sender CodeSender, ttl time.Duration, logger *slog.Logger, observer Observer) *VerificationCodeService {
	return &VerificationCodeService{
		store:    store,
		sender:   sender,
		ttl:      ttl,
		logger:   logger,
		observer: observerOrNop(observer),
		now:      time.Now,
	}
}

// WithClock replaces the service's time source
func (s *VerificationCodeService) WithClock(now func() time.Time) *VerificationCodeService {
	s.now = now
	return s
}

// Issue generates a code, stores it over any earlier code and delivers it.
// Issues for the same identifier are serialized so the stored code is always
// the last one sent. When delivery fails the new record is withdrawn and the
// error wraps models.ErrDeliveryFailed.
func (s *VerificationCodeService) Issue(ctx context.Context, identifier string) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}
	expiresAt := s.now().Add(s.ttl)

	unlock := s.issuing.Lock(identifier)
	defer unlock()

	if err := s.store.Put(ctx, &models.VerificationCode{
		Identifier: identifier,
		Code:       code,
		ExpiresAt:  expiresAt,
	}); err != nil {
		return "", fmt.Errorf("failed to store verification code: %w", err)
	}

	if err := s.sender.SendCode(ctx, identifier, code, expiresAt); err != nil {
		s.observer.CodeDelivered(false)
		s.logger.Error("failed to deliver verification code",
			slog.String("email", pkglogger.SanitizedEmail(identifier)),
			slog.Any("error", err))
		if delErr := s.store.Delete(context.WithoutCancel(ctx), identifier, code); delErr != nil && !errors.Is(delErr, models.ErrNotFound) {
			s.logger.Error("failed to withdraw undelivered verification code",
				slog.String("email", pkglogger.SanitizedEmail(identifier)),
				slog.Any("error", delErr))
		}
		return "", fmt.Errorf("%w: %v", models.ErrDeliveryFailed, err)
	}
	s.observer.CodeDelivered(true)

	return code, nil
}

// Send issues a code without returning it
func (s *VerificationCodeService) Send(ctx context.Context, identifier string) error {
	_, err := s.Issue(ctx, identifier)
	return err
}

// Check compares a submitted code against the one on file. An expired code is
// consumed even though the check fails; a mismatch keeps the code for retry.
func (s *VerificationCodeService) Check(ctx context.Context, identifier, submitted string) (models.CodeCheckResult, error) {
	result, err := s.check(ctx, identifier, submitted)
	if err != nil {
		return "", err
	}
	s.observer.CodeChecked(string(result))
	return result, nil
}

func (s *VerificationCodeService) check(ctx context.Context, identifier, submitted string) (models.CodeCheckResult, error) {
	stored, err := s.store.Get(ctx, identifier)
	if errors.Is(err, models.ErrNotFound) {
		return models.CodeNotFound, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load verification code: %w", err)
	}

	if stored.IsExpired(s.now()) {
		if err := s.consume(ctx, stored); err != nil && !errors.Is(err, models.ErrNotFound) {
			return "", err
		}
		return models.CodeExpired, nil
	}

	if subtle.ConstantTimeCompare([]byte(stored.Code), []byte(submitted)) != 1 {
		return models.CodeMismatch, nil
	}

	// A concurrent check may have consumed the code first
	if err := s.consume(ctx, stored); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.CodeNotFound, nil
		}
		return "", err
	}

	return models.CodeOK, nil
}

func (s *VerificationCodeService) consume(ctx context.Context, stored *models.VerificationCode) error {
	if err := s.store.Delete(ctx, stored.Identifier, stored.Code); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to consume verification code: %w", err)
	}
	return nil
}

// generateCode returns a uniformly random code in 100000-999999
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpan))
	if err != nil {
		return "", fmt.Errorf("failed to generate verification code: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+codeLowerBound), nil
}

// keyedMutex hands out one lock per key and forgets keys nobody holds
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu      sync.Mutex
	waiters int
}

// Lock blocks until key is free and returns the matching unlock
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.waiters++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
