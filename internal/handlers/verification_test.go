package handlers_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/safecrypt/internal/handlers"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendVerification(t *testing.T) {
	t.Run("missing email", func(t *testing.T) {
		channel := &mockChannel{}
		h := handlers.NewVerificationHandler(channel, discardLogger())

		w := httptest.NewRecorder()
		h.SendVerification(w, newTestRequest(t, http.MethodPost, "/api/send-verification", map[string]string{"email": "  "}))

		var resp handlers.VerificationResponse
		assertJSONResponse(t, w, http.StatusBadRequest, &resp)
		assert.False(t, resp.Success)
		assert.Equal(t, "Email is required", resp.Error)
		assert.Empty(t, channel.sent)
	})

	t.Run("trims and keeps case", func(t *testing.T) {
		channel := &mockChannel{}
		h := handlers.NewVerificationHandler(channel, discardLogger())

		w := httptest.NewRecorder()
		h.SendVerification(w, newTestRequest(t, http.MethodPost, "/api/send-verification", map[string]string{"email": " Admin@Example.com "}))

		var resp handlers.VerificationResponse
		assertJSONResponse(t, w, http.StatusOK, &resp)
		assert.True(t, resp.Success)
		require.Len(t, channel.sent, 1)
		assert.Equal(t, "Admin@Example.com", channel.sent[0])
	})

	t.Run("delivery failure", func(t *testing.T) {
		channel := &mockChannel{
			SendFunc: func(ctx context.Context, identifier string) error {
				return errors.New("smtp: connection refused")
			},
		}
		h := handlers.NewVerificationHandler(channel, discardLogger())

		w := httptest.NewRecorder()
		h.SendVerification(w, newTestRequest(t, http.MethodPost, "/api/send-verification", map[string]string{"email": "a@x.com"}))

		var resp handlers.VerificationResponse
		assertJSONResponse(t, w, http.StatusInternalServerError, &resp)
		assert.False(t, resp.Success)
		assert.Equal(t, "Failed to send verification email", resp.Error)
		assert.Equal(t, "smtp: connection refused", resp.Details)
	})
}

func TestVerifyCode(t *testing.T) {
	tests := []struct {
		name        string
		result      models.CodeCheckResult
		err         error
		wantSuccess bool
		wantError   string
	}{
		{"ok", models.CodeOK, nil, true, ""},
		{"not found", models.CodeNotFound, nil, false, "No verification code found"},
		{"expired", models.CodeExpired, nil, false, "Verification code expired"},
		{"mismatch", models.CodeMismatch, nil, false, "Invalid verification code"},
		{"store error", "", errors.New("redis down"), false, "No verification code found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			channel := &mockChannel{
				CheckFunc: func(ctx context.Context, identifier, code string) (models.CodeCheckResult, error) {
					assert.Equal(t, "A@x.com", identifier)
					assert.Equal(t, "123456", code)
					return tt.result, tt.err
				},
			}
			h := handlers.NewVerificationHandler(channel, discardLogger())

			w := httptest.NewRecorder()
			h.VerifyCode(w, newTestRequest(t, http.MethodPost, "/api/verify-code", handlers.VerifyCodeRequest{Email: " A@x.com ", Code: "123456"}))

			var resp handlers.VerificationResponse
			assertJSONResponse(t, w, http.StatusOK, &resp)
			assert.Equal(t, tt.wantSuccess, resp.Success)
			assert.Equal(t, tt.wantError, resp.Error)
		})
	}
}
