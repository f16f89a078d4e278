package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/services"
	"github.com/BradenHooton/safecrypt/internal/validation"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
)

// maxBodyBytes caps JSON request bodies
const maxBodyBytes = 1 << 20

// CredentialGateInterface defines the sign-in operations the handler needs
type CredentialGateInterface interface {
	SignIn(ctx context.Context, identifier, secret string, meta models.RequestMeta) (*models.SignInResult, error)
	CompleteStepUp(ctx context.Context, session *models.Session, code string, meta models.RequestMeta) (*models.SignInResult, error)
	Register(ctx context.Context, in services.RegisterInput, meta models.RequestMeta) (*models.Account, error)
	SignOut(ctx context.Context, session *models.Session, meta models.RequestMeta) error
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	gate     CredentialGateInterface
	ipConfig *pkghttp.IPConfig
	delay    *auth.TimingDelay
	logger   *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(gate CredentialGateInterface, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		gate:     gate,
		ipConfig: ipConfig,
		logger:   logger,
	}
}

// WithFailureDelay pads bad-credential responses to the given floor
func (h *AuthHandler) WithFailureDelay(delay *auth.TimingDelay) *AuthHandler {
	h.delay = delay
	return h
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// StepUpRequest represents the request body for admin step-up
type StepUpRequest struct {
	Code string `json:"code"`
}

// Response DTOs

// AccountResponse is the public view of an account
type AccountResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
	Verified bool   `json:"verified"`
	Status   string `json:"status"`
}

// SignInResponse is returned by login and step-up
type SignInResponse struct {
	Next        models.NextStep  `json:"next"`
	Redirect    string           `json:"redirect"`
	AccessToken string           `json:"access_token"`
	ExpiresAt   time.Time        `json:"expires_at"`
	StepUp      bool             `json:"step_up"`
	User        *AccountResponse `json:"user,omitempty"`
}

func toAccountResponse(a *models.Account) *AccountResponse {
	if a == nil {
		return nil
	}
	return &AccountResponse{
		ID:       a.ID,
		Email:    a.Email,
		FullName: a.FullName,
		Role:     a.Role,
		Verified: a.Verified,
		Status:   a.Status,
	}
}

func toSignInResponse(res *models.SignInResult) SignInResponse {
	out := SignInResponse{
		Next:     res.Next,
		Redirect: res.Redirect,
		User:     toAccountResponse(res.Account),
	}
	if res.Session != nil {
		out.AccessToken = res.Session.Token
		out.ExpiresAt = res.Session.ExpiresAt
		out.StepUp = res.Session.StepUp
	}
	return out
}

func (h *AuthHandler) requestMeta(r *http.Request) models.RequestMeta {
	return models.RequestMeta{
		IPAddress: pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent: pkghttp.ClientUserAgent(r),
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return false
	}
	return true
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	start := time.Now()
	res, err := h.gate.SignIn(r.Context(), req.Email, req.Password, h.requestMeta(r))
	if err != nil {
		if errors.Is(err, models.ErrInvalidCredentials) {
			h.delay.WaitFrom(start)
		}
		h.writeGateError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toSignInResponse(res))
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req services.RegisterInput
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.gate.Register(r.Context(), req, h.requestMeta(r))
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

// CompleteStepUp handles POST /auth/step-up for a pending admin session
func (h *AuthHandler) CompleteStepUp(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}
	if session.StepUp {
		pkghttp.WriteConflict(w, "Session has already completed step-up")
		return
	}

	var req StepUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.gate.CompleteStepUp(r.Context(), session, req.Code, h.requestMeta(r))
	if err != nil {
		h.writeGateError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toSignInResponse(res))
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.gate.SignOut(r.Context(), session, h.requestMeta(r)); err != nil {
		h.logger.Error("logout failed", slog.String("user_id", session.UserID), slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to sign out")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeGateError maps a gate rejection to its HTTP status. Only the
// user-facing message is rendered.
func (h *AuthHandler) writeGateError(w http.ResponseWriter, err error) {
	var ge *models.GateError
	if !errors.As(err, &ge) {
		h.logger.Error("unexpected gate error", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	switch ge.Kind {
	case models.KindValidation:
		var ve *validation.Error
		if errors.As(ge.Err, &ve) {
			pkghttp.WriteValidationError(w, ge.Message, ve.Fields)
			return
		}
		if ge.Reason == models.ProviderCodeEmailInUse {
			pkghttp.WriteConflict(w, ge.Message)
			return
		}
		pkghttp.WriteValidationError(w, ge.Message, nil)
	case models.KindLockout:
		pkghttp.WriteLockedOut(w, ge.Message, ge.RetryAfter)
	case models.KindCredential:
		pkghttp.WriteUnauthorized(w, ge.Message)
	case models.KindAccountState:
		pkghttp.WriteError(w, http.StatusForbidden, "account_"+ge.Reason, ge.Message)
	case models.KindStepUp:
		pkghttp.WriteError(w, http.StatusUnauthorized, "step_up_"+ge.Reason, ge.Message)
	case models.KindDelivery:
		pkghttp.WriteBadGateway(w, ge.Message)
	default:
		h.logger.Error("sign-in failed", slog.Any("error", ge.Err))
		pkghttp.WriteInternalError(w, ge.Message)
	}
}
