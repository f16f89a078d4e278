package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/BradenHooton/safecrypt/internal/models"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
)

// CodeChannelInterface issues and checks step-up codes
type CodeChannelInterface interface {
	Send(ctx context.Context, identifier string) error
	Check(ctx context.Context, identifier, code string) (models.CodeCheckResult, error)
}

// VerificationHandler serves the verification-code endpoints used by the
// front end and by remote gates
type VerificationHandler struct {
	channel CodeChannelInterface
	logger  *slog.Logger
}

// NewVerificationHandler creates a new VerificationHandler
func NewVerificationHandler(channel CodeChannelInterface, logger *slog.Logger) *VerificationHandler {
	return &VerificationHandler{channel: channel, logger: logger}
}

// SendVerificationRequest is the body of POST /api/send-verification
type SendVerificationRequest struct {
	Email string `json:"email"`
}

// VerifyCodeRequest is the body of POST /api/verify-code
type VerifyCodeRequest struct {
	Email string `json:"email"`
	Code  string `json:"code"`
}

// VerificationResponse reports the outcome in the success flag
type VerificationResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`
}

// SendVerification handles POST /api/send-verification
func (h *VerificationHandler) SendVerification(w http.ResponseWriter, r *http.Request) {
	var req SendVerificationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	email := strings.TrimSpace(req.Email)
	if email == "" {
		pkghttp.WriteJSON(w, http.StatusBadRequest, VerificationResponse{Error: "Email is required"})
		return
	}

	if err := h.channel.Send(r.Context(), email); err != nil {
		h.logger.Error("failed to send verification code",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Any("error", err))
		pkghttp.WriteJSON(w, http.StatusInternalServerError, VerificationResponse{
			Error:   "Failed to send verification email",
			Details: err.Error(),
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, VerificationResponse{Success: true})
}

// VerifyCode handles POST /api/verify-code. It always answers 200; the
// success flag carries the outcome.
func (h *VerificationHandler) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	result, err := h.channel.Check(r.Context(), strings.TrimSpace(req.Email), req.Code)
	if err != nil {
		h.logger.Error("failed to check verification code", slog.Any("error", err))
		// A store outage means we cannot find the code
		result = models.CodeNotFound
	}

	if result == models.CodeOK {
		pkghttp.WriteJSON(w, http.StatusOK, VerificationResponse{Success: true})
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, VerificationResponse{Error: result.Message()})
}
