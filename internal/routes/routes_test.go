package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/handlers"
	"github.com/BradenHooton/safecrypt/internal/identity"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/routes"
	"github.com/BradenHooton/safecrypt/internal/services"
	"github.com/BradenHooton/safecrypt/internal/vault"
	pkgauth "github.com/BradenHooton/safecrypt/pkg/auth"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	pkgauth.BcryptCost = bcrypt.MinCost
}

const (
	adminEmail    = "admin@safecrypt.test"
	adminPassword = "Adm1n!Passw0rd"
	userPassword  = "Us3r!Passw0rd"
)

// memStore backs credentials, profiles, revocations and events in memory
type memStore struct {
	mu          sync.Mutex
	credentials map[string]*models.Credential
	accounts    map[string]*models.Account
	revoked     map[string]bool
	events      []*models.SecurityEvent
	secrets     map[uuid.UUID]*models.Secret
}

func newMemStore() *memStore {
	return &memStore{
		credentials: map[string]*models.Credential{},
		accounts:    map[string]*models.Account{},
		revoked:     map[string]bool{},
		secrets:     map[uuid.UUID]*models.Secret{},
	}
}

func (s *memStore) GetByIdentifier(_ context.Context, identifier string) (*models.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.credentials[identifier]
	if !ok {
		return nil, models.ErrNotFound
	}
	return c, nil
}

func (s *memStore) RevokeToken(_ context.Context, jti, _ string, _ time.Time, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revoked[jti] = true
	return nil
}

func (s *memStore) IsTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[jti], nil
}

type credentialStore struct{ *memStore }

func (c credentialStore) Create(_ context.Context, cred *models.Credential) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.credentials[cred.Identifier]; ok {
		return models.ErrConflict
	}
	c.credentials[cred.Identifier] = cred
	return nil
}

type accountStore struct{ *memStore }

func (a accountStore) GetByID(_ context.Context, id string) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acc, ok := a.accounts[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *acc
	return &cp, nil
}

func (a accountStore) Create(_ context.Context, account *models.Account) (*models.Account, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	cp := *account
	a.accounts[account.ID] = &cp
	return account, nil
}

func (a accountStore) SetVerified(ctx context.Context, id string, verified bool) (*models.Account, error) {
	a.mu.Lock()
	acc, ok := a.accounts[id]
	if ok {
		acc.Verified = verified
	}
	a.mu.Unlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return a.GetByID(ctx, id)
}

func (a accountStore) SetStatus(ctx context.Context, id, status string) (*models.Account, error) {
	a.mu.Lock()
	acc, ok := a.accounts[id]
	if ok {
		acc.Status = status
	}
	a.mu.Unlock()
	if !ok {
		return nil, models.ErrNotFound
	}
	return a.GetByID(ctx, id)
}

func (a accountStore) Stats(_ context.Context) (*models.AccountStats, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	stats := &models.AccountStats{}
	for _, acc := range a.accounts {
		stats.TotalUsers++
		if acc.IsInactive() {
			stats.InactiveUsers++
		} else {
			stats.ActiveUsers++
		}
		if acc.Verified {
			stats.VerifiedUsers++
		} else {
			stats.PendingVerification++
		}
		if acc.IsAdmin() {
			stats.AdminCount++
		}
	}
	return stats, nil
}

type eventStore struct{ *memStore }

func (e eventStore) Create(_ context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := *event
	cp.ID = uuid.New()
	cp.ServerTimestamp = time.Now()
	e.events = append(e.events, &cp)
	return &cp, nil
}

func (e eventStore) List(_ context.Context, q models.SecurityEventQuery) ([]*models.SecurityEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []*models.SecurityEvent
	for i := len(e.events) - 1; i >= 0 && len(out) < q.Limit; i-- {
		if q.Action == "" || e.events[i].Action == q.Action {
			out = append(out, e.events[i])
		}
	}
	return out, nil
}

func (e eventStore) CountSince(_ context.Context, action string, since time.Time) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var n int64
	for _, ev := range e.events {
		if ev.Action == action && !ev.ServerTimestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (e eventStore) actions() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, 0, len(e.events))
	for _, ev := range e.events {
		out = append(out, ev.Action)
	}
	return out
}

type secretStore struct{ *memStore }

func (v secretStore) Create(_ context.Context, secret *models.Secret) (*models.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	cp := *secret
	cp.CreatedAt = time.Now()
	v.secrets[cp.ID] = &cp
	out := cp
	return &out, nil
}

func (v secretStore) List(_ context.Context) ([]*models.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*models.Secret, 0, len(v.secrets))
	for _, s := range v.secrets {
		cp := *s
		out = append(out, &cp)
	}
	return out, nil
}

func (v secretStore) GetByID(_ context.Context, id uuid.UUID) (*models.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.secrets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (v secretStore) MarkAccessed(_ context.Context, id uuid.UUID, at time.Time) (*models.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.secrets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	s.LastAccessed = &at
	cp := *s
	return &cp, nil
}

func (v secretStore) Delete(_ context.Context, id uuid.UUID) (*models.Secret, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	s, ok := v.secrets[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	delete(v.secrets, id)
	return s, nil
}

type inbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (i *inbox) SendCode(_ context.Context, identifier, code string, _ time.Time) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.codes[identifier] = code
	return nil
}

func (i *inbox) code(identifier string) string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.codes[identifier]
}

type testEnv struct {
	router http.Handler
	store  *memStore
	inbox  *inbox
}

func newTestEnv(t *testing.T, opts ...func(*routes.Dependencies)) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := newMemStore()
	mail := &inbox{codes: map[string]string{}}

	tokens := auth.NewTokenManager("test-secret-32-characters-long!", time.Hour)
	provider := identity.NewPasswordProvider(credentialStore{store}, tokens, store, logger)
	accounts := accountStore{store}
	audit := services.NewAuditService(eventStore{store}, logger, time.Second, nil)

	tracker := services.NewMemoryAttemptTracker(services.DefaultAttemptPolicy())
	codes := services.NewVerificationCodeService(services.NewMemoryCodeStore(5*time.Minute), mail, 5*time.Minute, logger, nil)

	gate := services.NewCredentialGate(tracker, provider, accounts, codes, provider, audit,
		services.GateConfig{ProviderTimeout: time.Second, StoreTimeout: time.Second}, logger, nil)

	key, _, err := vault.LoadKey("", "test-secret-32-characters-long!")
	require.NoError(t, err)
	cipher, err := vault.NewCipher(key)
	require.NoError(t, err)
	secrets := services.NewSecretService(secretStore{store}, cipher, audit, logger)

	// Seed an admin
	adminID, err := provider.CreateAccount(context.Background(), adminEmail, adminPassword)
	require.NoError(t, err)
	_, err = accounts.Create(context.Background(), &models.Account{
		ID: adminID, Email: adminEmail, FullName: "Admin", Role: models.RoleAdmin, Verified: true, Status: models.StatusActive,
	})
	require.NoError(t, err)

	deps := routes.Dependencies{
		AuthHandler:               handlers.NewAuthHandler(gate, nil, logger),
		VerificationHandler:       handlers.NewVerificationHandler(codes, logger),
		AdminHandler:              handlers.NewAdminHandler(services.NewAdminService(accounts, audit, logger), logger),
		SecretHandler:             handlers.NewSecretHandler(secrets, logger),
		TokenManager:              tokens,
		Revocations:               store,
		Accounts:                  accounts,
		Logger:                    logger,
		LoginRequestsPerMinute:    100,
		SendVerificationPerMinute: 100,
		VerifyCodePerMinute:       100,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	router := chi.NewRouter()
	routes.RegisterRoutes(router, deps)

	return &testEnv{router: router, store: store, inbox: mail}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) login(t *testing.T, email, password string) *httptest.ResponseRecorder {
	return e.do(t, http.MethodPost, "/auth/login", "", handlers.LoginRequest{Email: email, Password: password})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

// adminToken signs the admin in and completes step-up
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	w := e.login(t, adminEmail, adminPassword)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	pending := decode[handlers.SignInResponse](t, w)
	require.Equal(t, models.NextRequireStepUp, pending.Next)

	w = e.do(t, http.MethodPost, "/auth/step-up", pending.AccessToken, handlers.StepUpRequest{Code: e.inbox.code(adminEmail)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[handlers.SignInResponse](t, w).AccessToken
}

func TestSignUpVerifyAndSignIn(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/auth/register", "", map[string]string{
		"full_name": "Ada Lovelace", "email": "ada@safecrypt.test",
		"password": userPassword, "confirm_password": userPassword,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	user := decode[handlers.AccountResponse](t, w)
	assert.False(t, user.Verified)

	w = env.login(t, "ada@safecrypt.test", userPassword)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "account_pending_verification", decode[pkghttp.ErrorResponse](t, w).Error)

	token := env.adminToken(t)
	w = env.do(t, http.MethodPost, "/admin/users/"+user.ID+"/verify", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = env.login(t, " ada@safecrypt.test ", userPassword)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	resp := decode[handlers.SignInResponse](t, w)
	assert.Equal(t, models.NextDirect, resp.Next)
	assert.Equal(t, models.RedirectUserArea, resp.Redirect)
	assert.NotEmpty(t, resp.AccessToken)

	assert.Contains(t, eventStore{env.store}.actions(), models.ActionUserVerified)
}

func TestAdminAreaRequiresStepUp(t *testing.T) {
	env := newTestEnv(t)

	w := env.login(t, adminEmail, adminPassword)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[handlers.SignInResponse](t, w)
	assert.Equal(t, models.RedirectStepUp, pending.Redirect)
	assert.False(t, pending.StepUp)

	w = env.do(t, http.MethodGet, "/admin/stats", pending.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(t, http.MethodPost, "/auth/step-up", pending.AccessToken, handlers.StepUpRequest{Code: "12345"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/auth/step-up", pending.AccessToken, handlers.StepUpRequest{Code: env.inbox.code(adminEmail)})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	elevated := decode[handlers.SignInResponse](t, w)
	assert.True(t, elevated.StepUp)
	assert.Equal(t, models.RedirectAdminArea, elevated.Redirect)

	// The pending token is retired once elevated
	w = env.do(t, http.MethodGet, "/admin/stats", pending.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = env.do(t, http.MethodGet, "/admin/stats", elevated.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[models.AccountStats](t, w)
	assert.Equal(t, int64(1), stats.AdminCount)

	w = env.do(t, http.MethodGet, "/admin/security-events?action=STEP_UP_VERIFIED", elevated.AccessToken, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[handlers.SecurityEventPageResponse](t, w)
	require.Len(t, page.Events, 1)
	assert.Equal(t, adminEmail, *page.Events[0].ActorIdentifier)
}

func TestLockoutAfterRepeatedFailures(t *testing.T) {
	env := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w := env.login(t, adminEmail, "Wr0ng!Password")
		assert.Equal(t, http.StatusUnauthorized, w.Code, "attempt %d", i+1)
	}

	// Even the right password is refused while locked out
	w := env.login(t, adminEmail, adminPassword)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "600", w.Header().Get("Retry-After"))
	assert.Equal(t, "locked_out", decode[pkghttp.ErrorResponse](t, w).Error)

	assert.Equal(t, 3, countAction(eventStore{env.store}.actions(), models.ActionLoginFailed))
}

func TestLogoutRevokesSession(t *testing.T) {
	env := newTestEnv(t)
	token := env.adminToken(t)

	w := env.do(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = env.do(t, http.MethodPost, "/auth/logout", token, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestVerificationContract(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/send-verification", "", map[string]string{"email": "remote@safecrypt.test"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[handlers.VerificationResponse](t, w).Success)

	w = env.do(t, http.MethodPost, "/api/verify-code", "", handlers.VerifyCodeRequest{Email: "remote@safecrypt.test", Code: env.inbox.code("remote@safecrypt.test")})
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[handlers.VerificationResponse](t, w).Success)

	w = env.do(t, http.MethodPost, "/api/verify-code", "", handlers.VerifyCodeRequest{Email: "remote@safecrypt.test", Code: "123456"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "No verification code found", decode[handlers.VerificationResponse](t, w).Error)
}

func TestVerifyCodeIsThrottled(t *testing.T) {
	env := newTestEnv(t, func(d *routes.Dependencies) { d.VerifyCodePerMinute = 3 })

	w := env.do(t, http.MethodPost, "/api/send-verification", "", map[string]string{"email": adminEmail})
	require.Equal(t, http.StatusOK, w.Code)

	for i := 0; i < 3; i++ {
		w = env.do(t, http.MethodPost, "/api/verify-code", "", handlers.VerifyCodeRequest{Email: adminEmail, Code: "000000"})
		require.Equal(t, http.StatusOK, w.Code, "guess %d", i+1)
	}

	// The right code is refused too once the caller is over the limit
	w = env.do(t, http.MethodPost, "/api/verify-code", "", handlers.VerifyCodeRequest{Email: adminEmail, Code: env.inbox.code(adminEmail)})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func countAction(actions []string, action string) int {
	n := 0
	for _, a := range actions {
		if a == action {
			n++
		}
	}
	return n
}

func TestKeyVaultRequiresStepUpAndAuditsReveals(t *testing.T) {
	env := newTestEnv(t)

	w := env.login(t, adminEmail, adminPassword)
	require.Equal(t, http.StatusOK, w.Code)
	pending := decode[handlers.SignInResponse](t, w)
	w = env.do(t, http.MethodGet, "/admin/secrets", pending.AccessToken, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	token := env.adminToken(t)

	w = env.do(t, http.MethodPost, "/admin/secrets", token, handlers.CreateSecretRequest{Name: "stripe", Value: "sk_live_123"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[handlers.SecretResponse](t, w)
	assert.Nil(t, created.LastAccessed)

	env.store.mu.Lock()
	stored := env.store.secrets[uuid.MustParse(created.ID)]
	assert.NotContains(t, string(stored.Ciphertext), "sk_live_123")
	env.store.mu.Unlock()

	w = env.do(t, http.MethodGet, "/admin/secrets", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[handlers.SecretListResponse](t, w)
	require.Len(t, list.Secrets, 1)
	assert.Equal(t, "stripe", list.Secrets[0].Name)

	w = env.do(t, http.MethodPost, "/admin/secrets/"+created.ID+"/reveal", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	revealed := decode[handlers.RevealedSecretResponse](t, w)
	assert.Equal(t, "sk_live_123", revealed.Value)
	assert.NotNil(t, revealed.LastAccessed)

	w = env.do(t, http.MethodDelete, "/admin/secrets/"+created.ID, token, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, http.MethodPost, "/admin/secrets/"+created.ID+"/reveal", token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	actions := eventStore{env.store}.actions()
	assert.Equal(t, 1, countAction(actions, models.ActionSecretCreated))
	assert.Equal(t, 1, countAction(actions, models.ActionSecretAccessed))
	assert.Equal(t, 1, countAction(actions, models.ActionSecretDeleted))
}
