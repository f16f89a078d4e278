package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/services"
	"github.com/BradenHooton/safecrypt/internal/validation"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SecretServiceInterface defines the key vault operations the handler needs
type SecretServiceInterface interface {
	Create(ctx context.Context, actor services.Actor, in services.NewSecretInput) (*models.Secret, error)
	List(ctx context.Context) ([]*models.Secret, error)
	Reveal(ctx context.Context, actor services.Actor, id string) (*models.Secret, string, error)
	Delete(ctx context.Context, actor services.Actor, id string) error
}

// SecretHandler serves the admin key vault
type SecretHandler struct {
	service SecretServiceInterface
	logger  *slog.Logger
}

func NewSecretHandler(service SecretServiceInterface, logger *slog.Logger) *SecretHandler {
	return &SecretHandler{service: service, logger: logger}
}

// CreateSecretRequest is the body of POST /admin/secrets
type CreateSecretRequest struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// SecretResponse lists a secret without its value
type SecretResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	CreatedBy    string     `json:"created_by"`
	CreatedAt    time.Time  `json:"created_at"`
	LastAccessed *time.Time `json:"last_accessed"`
}

// RevealedSecretResponse is a secret with its opened value
type RevealedSecretResponse struct {
	SecretResponse
	Value string `json:"value"`
}

// SecretListResponse is the body of GET /admin/secrets
type SecretListResponse struct {
	Secrets []SecretResponse `json:"secrets"`
}

func toSecretResponse(s *models.Secret) SecretResponse {
	return SecretResponse{
		ID:           s.ID.String(),
		Name:         s.Name,
		CreatedBy:    s.CreatedBy,
		CreatedAt:    s.CreatedAt,
		LastAccessed: s.LastAccessed,
	}
}

// ListSecrets handles GET /admin/secrets
func (h *SecretHandler) ListSecrets(w http.ResponseWriter, r *http.Request) {
	secrets, err := h.service.List(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := SecretListResponse{Secrets: make([]SecretResponse, 0, len(secrets))}
	for _, s := range secrets {
		resp.Secrets = append(resp.Secrets, toSecretResponse(s))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// CreateSecret handles POST /admin/secrets
func (h *SecretHandler) CreateSecret(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req CreateSecretRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	secret, err := h.service.Create(r.Context(), actor, services.NewSecretInput{Name: req.Name, Value: req.Value})
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, toSecretResponse(secret))
}

// RevealSecret handles POST /admin/secrets/{id}/reveal
func (h *SecretHandler) RevealSecret(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	secret, value, err := h.service.Reveal(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, RevealedSecretResponse{
		SecretResponse: toSecretResponse(secret),
		Value:          value,
	})
}

// DeleteSecret handles DELETE /admin/secrets/{id}
func (h *SecretHandler) DeleteSecret(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), actor, chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *SecretHandler) writeError(w http.ResponseWriter, err error) {
	var ve *validation.Error
	switch {
	case errors.As(err, &ve):
		pkghttp.WriteValidationError(w, "Invalid secret", ve.Fields)
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "Secret not found")
	default:
		h.logger.Error("key vault action failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Key vault unavailable")
	}
}
