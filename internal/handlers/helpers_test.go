package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/services"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	"github.com/stretchr/testify/assert"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRequest creates an HTTP request with JSON body for testing
func newTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// withSession adds a session to request context for authenticated endpoints
func withSession(req *http.Request, session *models.Session) *http.Request {
	ctx := context.WithValue(req.Context(), auth.SessionContextKey, session)
	return req.WithContext(ctx)
}

// assertJSONResponse checks that response has correct status and decodes JSON body
func assertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target interface{}) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	if target != nil {
		assert.NoError(t, json.Unmarshal(w.Body.Bytes(), target), "Failed to decode response JSON")
	}
}

// assertErrorResponse checks that response is a valid error response
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// mockGate implements CredentialGateInterface for testing
type mockGate struct {
	SignInFunc         func(ctx context.Context, identifier, secret string, meta models.RequestMeta) (*models.SignInResult, error)
	CompleteStepUpFunc func(ctx context.Context, session *models.Session, code string, meta models.RequestMeta) (*models.SignInResult, error)
	RegisterFunc       func(ctx context.Context, in services.RegisterInput, meta models.RequestMeta) (*models.Account, error)
	SignOutFunc        func(ctx context.Context, session *models.Session, meta models.RequestMeta) error
}

func (m *mockGate) SignIn(ctx context.Context, identifier, secret string, meta models.RequestMeta) (*models.SignInResult, error) {
	if m.SignInFunc == nil {
		return nil, &models.GateError{Kind: models.KindCredential, Message: "Invalid email or password"}
	}
	return m.SignInFunc(ctx, identifier, secret, meta)
}

func (m *mockGate) CompleteStepUp(ctx context.Context, session *models.Session, code string, meta models.RequestMeta) (*models.SignInResult, error) {
	if m.CompleteStepUpFunc == nil {
		return nil, &models.GateError{Kind: models.KindStepUp, Reason: "not_found", Message: "No verification code found"}
	}
	return m.CompleteStepUpFunc(ctx, session, code, meta)
}

func (m *mockGate) Register(ctx context.Context, in services.RegisterInput, meta models.RequestMeta) (*models.Account, error) {
	if m.RegisterFunc == nil {
		return nil, &models.GateError{Kind: models.KindInternal, Message: "unavailable"}
	}
	return m.RegisterFunc(ctx, in, meta)
}

func (m *mockGate) SignOut(ctx context.Context, session *models.Session, meta models.RequestMeta) error {
	if m.SignOutFunc == nil {
		return nil
	}
	return m.SignOutFunc(ctx, session, meta)
}

// mockChannel implements CodeChannelInterface for testing
type mockChannel struct {
	SendFunc  func(ctx context.Context, identifier string) error
	CheckFunc func(ctx context.Context, identifier, code string) (models.CodeCheckResult, error)
	sent      []string
}

func (m *mockChannel) Send(ctx context.Context, identifier string) error {
	m.sent = append(m.sent, identifier)
	if m.SendFunc == nil {
		return nil
	}
	return m.SendFunc(ctx, identifier)
}

func (m *mockChannel) Check(ctx context.Context, identifier, code string) (models.CodeCheckResult, error) {
	if m.CheckFunc == nil {
		return models.CodeNotFound, nil
	}
	return m.CheckFunc(ctx, identifier, code)
}

// mockAdminService implements AdminServiceInterface for testing
type mockAdminService struct {
	GetDashboardStatsFunc  func(ctx context.Context) (*models.AccountStats, error)
	GetRecentActivityFunc  func(ctx context.Context, limit int) (*services.DashboardActivityResponse, error)
	ListSecurityEventsFunc func(ctx context.Context, query models.SecurityEventQuery) (*models.SecurityEventPage, error)
	VerifyUserFunc         func(ctx context.Context, actor services.Actor, userID string) (*models.Account, error)
	SetUserStatusFunc      func(ctx context.Context, actor services.Actor, userID, status string) (*models.Account, error)
}

func (m *mockAdminService) GetDashboardStats(ctx context.Context) (*models.AccountStats, error) {
	return m.GetDashboardStatsFunc(ctx)
}

func (m *mockAdminService) GetRecentActivity(ctx context.Context, limit int) (*services.DashboardActivityResponse, error) {
	return m.GetRecentActivityFunc(ctx, limit)
}

func (m *mockAdminService) ListSecurityEvents(ctx context.Context, query models.SecurityEventQuery) (*models.SecurityEventPage, error) {
	return m.ListSecurityEventsFunc(ctx, query)
}

func (m *mockAdminService) VerifyUser(ctx context.Context, actor services.Actor, userID string) (*models.Account, error) {
	return m.VerifyUserFunc(ctx, actor, userID)
}

func (m *mockAdminService) SetUserStatus(ctx context.Context, actor services.Actor, userID, status string) (*models.Account, error) {
	return m.SetUserStatusFunc(ctx, actor, userID, status)
}

// mockSecretService implements SecretServiceInterface for testing
type mockSecretService struct {
	CreateFunc func(ctx context.Context, actor services.Actor, in services.NewSecretInput) (*models.Secret, error)
	ListFunc   func(ctx context.Context) ([]*models.Secret, error)
	RevealFunc func(ctx context.Context, actor services.Actor, id string) (*models.Secret, string, error)
	DeleteFunc func(ctx context.Context, actor services.Actor, id string) error
}

func (m *mockSecretService) Create(ctx context.Context, actor services.Actor, in services.NewSecretInput) (*models.Secret, error) {
	return m.CreateFunc(ctx, actor, in)
}

func (m *mockSecretService) List(ctx context.Context) ([]*models.Secret, error) {
	return m.ListFunc(ctx)
}

func (m *mockSecretService) Reveal(ctx context.Context, actor services.Actor, id string) (*models.Secret, string, error) {
	return m.RevealFunc(ctx, actor, id)
}

func (m *mockSecretService) Delete(ctx context.Context, actor services.Actor, id string) error {
	return m.DeleteFunc(ctx, actor, id)
}
