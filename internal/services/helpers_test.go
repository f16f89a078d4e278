package services

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockSecurityEventRepository implements SecurityEventRepository for testing.
// Without CreateFunc it records every event it is given.
type MockSecurityEventRepository struct {
	CreateFunc     func(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)
	ListFunc       func(ctx context.Context, query models.SecurityEventQuery) ([]*models.SecurityEvent, error)
	CountSinceFunc func(ctx context.Context, action string, since time.Time) (int64, error)

	mu     sync.Mutex
	events []*models.SecurityEvent
}

func (m *MockSecurityEventRepository) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, event)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = uuid.New()
	event.ServerTimestamp = time.Now()
	m.events = append(m.events, event)
	return event, nil
}

func (m *MockSecurityEventRepository) List(ctx context.Context, query models.SecurityEventQuery) ([]*models.SecurityEvent, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, query)
	}
	return []*models.SecurityEvent{}, nil
}

func (m *MockSecurityEventRepository) CountSince(ctx context.Context, action string, since time.Time) (int64, error) {
	if m.CountSinceFunc != nil {
		return m.CountSinceFunc(ctx, action, since)
	}
	return 0, nil
}

// Actions returns the recorded event actions in order
func (m *MockSecurityEventRepository) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}

// Events returns the recorded events
func (m *MockSecurityEventRepository) Events() []*models.SecurityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*models.SecurityEvent(nil), m.events...)
}

// MockCodeSender implements CodeSender for testing and remembers the last code
type MockCodeSender struct {
	SendCodeFunc func(ctx context.Context, identifier, code string, expiresAt time.Time) error

	mu       sync.Mutex
	calls    int
	lastCode string
}

func (m *MockCodeSender) SendCode(ctx context.Context, identifier, code string, expiresAt time.Time) error {
	m.mu.Lock()
	m.calls++
	m.lastCode = code
	m.mu.Unlock()

	if m.SendCodeFunc != nil {
		return m.SendCodeFunc(ctx, identifier, code, expiresAt)
	}
	return nil
}

func (m *MockCodeSender) LastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastCode
}

func (m *MockCodeSender) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// recordingObserver counts observer callbacks
type recordingObserver struct {
	mu       sync.Mutex
	dropped  map[string]int
	written  map[string]int
	outcomes map[string]int
	checks   map[string]int
	sent     int
	failed   int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		dropped:  map[string]int{},
		written:  map[string]int{},
		outcomes: map[string]int{},
		checks:   map[string]int{},
	}
}

func (o *recordingObserver) AuditWritten(action string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.written[action]++
}

func (o *recordingObserver) AuditDropped(reason string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.dropped[reason]++
}

func (o *recordingObserver) SignInOutcome(outcome string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.outcomes[outcome]++
}

func (o *recordingObserver) CodeChecked(result string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.checks[result]++
}

func (o *recordingObserver) CodeDelivered(ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if ok {
		o.sent++
	} else {
		o.failed++
	}
}

// MockIdentityProvider implements IdentityProvider over an in-memory
// credential table and counts its calls
type MockIdentityProvider struct {
	AuthenticateFunc  func(ctx context.Context, identifier, secret string) (*models.Identity, error)
	CreateAccountFunc func(ctx context.Context, identifier, secret string) (string, error)
	SignOutFunc       func(ctx context.Context, session *models.Session) error

	mu          sync.Mutex
	credentials map[string]mockCredential
	authCalls   int
	signOuts    int
}

type mockCredential struct {
	userID string
	secret string
}

func newMockIdentityProvider() *MockIdentityProvider {
	return &MockIdentityProvider{credentials: map[string]mockCredential{}}
}

func (m *MockIdentityProvider) AddCredential(identifier, secret, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.credentials[identifier] = mockCredential{userID: userID, secret: secret}
}

func (m *MockIdentityProvider) Authenticate(ctx context.Context, identifier, secret string) (*models.Identity, error) {
	m.mu.Lock()
	m.authCalls++
	cred, ok := m.credentials[identifier]
	m.mu.Unlock()

	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(ctx, identifier, secret)
	}
	if !ok || cred.secret != secret {
		return nil, &models.ProviderError{Code: models.ProviderCodeInvalidCredential, Message: "invalid credential"}
	}
	return &models.Identity{
		UserID:     cred.userID,
		Identifier: identifier,
		Session: &models.Session{
			ID:         uuid.NewString(),
			Token:      "token-" + cred.userID,
			UserID:     cred.userID,
			Identifier: identifier,
		},
	}, nil
}

func (m *MockIdentityProvider) CreateAccount(ctx context.Context, identifier, secret string) (string, error) {
	if m.CreateAccountFunc != nil {
		return m.CreateAccountFunc(ctx, identifier, secret)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.credentials[identifier]; ok {
		return "", &models.ProviderError{Code: models.ProviderCodeEmailInUse, Message: "Email is already registered"}
	}
	id := uuid.NewString()
	m.credentials[identifier] = mockCredential{userID: id, secret: secret}
	return id, nil
}

func (m *MockIdentityProvider) SignOut(ctx context.Context, session *models.Session) error {
	m.mu.Lock()
	m.signOuts++
	m.mu.Unlock()
	if m.SignOutFunc != nil {
		return m.SignOutFunc(ctx, session)
	}
	return nil
}

func (m *MockIdentityProvider) AuthCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.authCalls
}

func (m *MockIdentityProvider) SignOuts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signOuts
}

// MockAccountRepository implements AccountRepository over a map
type MockAccountRepository struct {
	GetByIDFunc func(ctx context.Context, id string) (*models.Account, error)
	CreateFunc  func(ctx context.Context, account *models.Account) (*models.Account, error)
	StatsFunc   func(ctx context.Context) (*models.AccountStats, error)

	mu       sync.Mutex
	accounts map[string]*models.Account
}

func newMockAccountRepository(accounts ...*models.Account) *MockAccountRepository {
	m := &MockAccountRepository{accounts: map[string]*models.Account{}}
	for _, a := range accounts {
		m.accounts[a.ID] = a
	}
	return m
}

func (m *MockAccountRepository) GetByID(ctx context.Context, id string) (*models.Account, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepository) Create(ctx context.Context, account *models.Account) (*models.Account, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, account)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.accounts[account.ID] = &cp
	return account, nil
}

func (m *MockAccountRepository) SetVerified(ctx context.Context, id string, verified bool) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	a.Verified = verified
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepository) SetStatus(ctx context.Context, id, status string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	a.Status = status
	cp := *a
	return &cp, nil
}

func (m *MockAccountRepository) Stats(ctx context.Context) (*models.AccountStats, error) {
	if m.StatsFunc != nil {
		return m.StatsFunc(ctx)
	}
	return &models.AccountStats{}, nil
}

// MockStepUpIssuer marks sessions as elevated
type MockStepUpIssuer struct {
	ElevateFunc func(ctx context.Context, session *models.Session) (*models.Session, error)
}

func (m *MockStepUpIssuer) Elevate(ctx context.Context, session *models.Session) (*models.Session, error) {
	if m.ElevateFunc != nil {
		return m.ElevateFunc(ctx, session)
	}
	elevated := *session
	elevated.StepUp = true
	elevated.Token = session.Token + "-elevated"
	return &elevated, nil
}

// MockSecretRepository implements SecretRepository over a map
type MockSecretRepository struct {
	MarkAccessedFunc func(ctx context.Context, id uuid.UUID, at time.Time) (*models.Secret, error)

	mu      sync.Mutex
	secrets map[uuid.UUID]*models.Secret
}

func newMockSecretRepository() *MockSecretRepository {
	return &MockSecretRepository{secrets: map[uuid.UUID]*models.Secret{}}
}

func (m *MockSecretRepository) Create(ctx context.Context, secret *models.Secret) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.secrets[secret.ID]; ok {
		return nil, models.ErrConflict
	}
	cp := *secret
	m.secrets[secret.ID] = &cp
	out := cp
	return &out, nil
}

func (m *MockSecretRepository) List(ctx context.Context) ([]*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Secret, 0, len(m.secrets))
	for _, s := range m.secrets {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockSecretRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MockSecretRepository) MarkAccessed(ctx context.Context, id uuid.UUID, at time.Time) (*models.Secret, error) {
	if m.MarkAccessedFunc != nil {
		return m.MarkAccessedFunc(ctx, id, at)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	s.LastAccessed = &at
	cp := *s
	return &cp, nil
}

func (m *MockSecretRepository) Delete(ctx context.Context, id uuid.UUID) (*models.Secret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(m.secrets, id)
	return s, nil
}
