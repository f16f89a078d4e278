package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/services"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	"github.com/go-chi/chi/v5"
)

// AdminServiceInterface defines the dashboard service contract.
type AdminServiceInterface interface {
	GetDashboardStats(ctx context.Context) (*models.AccountStats, error)
	GetRecentActivity(ctx context.Context, limit int) (*services.DashboardActivityResponse, error)
	ListSecurityEvents(ctx context.Context, query models.SecurityEventQuery) (*models.SecurityEventPage, error)
	VerifyUser(ctx context.Context, actor services.Actor, userID string) (*models.Account, error)
	SetUserStatus(ctx context.Context, actor services.Actor, userID, status string) (*models.Account, error)
}

// AdminHandler handles admin dashboard HTTP requests.
type AdminHandler struct {
	service AdminServiceInterface
	logger  *slog.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(service AdminServiceInterface, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: service, logger: logger}
}

// SecurityEventResponse is one row of the security log
type SecurityEventResponse struct {
	ID              string              `json:"id"`
	ActorIdentifier *string             `json:"actor_identifier"`
	ActorID         *string             `json:"actor_id"`
	Action          string              `json:"action"`
	Resource        string              `json:"resource"`
	Details         models.EventDetails `json:"details"`
	ServerTimestamp time.Time           `json:"server_timestamp"`
	ClientTimestamp time.Time           `json:"client_timestamp"`
}

// SecurityEventPageResponse is one page of the security log
type SecurityEventPageResponse struct {
	Events     []SecurityEventResponse `json:"events"`
	NextCursor string                  `json:"next_cursor,omitempty"`
}

// UpdateStatusRequest is the body of PUT /admin/users/{id}/status
type UpdateStatusRequest struct {
	Status string `json:"status"`
}

// GetDashboardStats handles GET /admin/stats
func (h *AdminHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.GetDashboardStats(r.Context())
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve dashboard stats")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, stats)
}

// GetRecentActivity handles GET /admin/activity
// Accepts optional query param ?limit=N (1-20, default 20).
func (h *AdminHandler) GetRecentActivity(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}

	activity, err := h.service.GetRecentActivity(r.Context(), limit)
	if err != nil {
		pkghttp.WriteInternalError(w, "Failed to retrieve recent activity")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, activity)
}

// ListSecurityEvents handles GET /admin/security-events
// Query params: action, actor, cursor, limit (1-100, default 50).
func (h *AdminHandler) ListSecurityEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := models.SecurityEventQuery{
		Action:          q.Get("action"),
		ActorIdentifier: q.Get("actor"),
	}

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			pkghttp.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		query.Limit = n
	}

	if c := q.Get("cursor"); c != "" {
		cursor, err := models.DecodeEventCursor(c)
		if err != nil {
			pkghttp.WriteBadRequest(w, "Invalid cursor")
			return
		}
		query.After = cursor
	}

	page, err := h.service.ListSecurityEvents(r.Context(), query)
	if err != nil {
		h.logger.Error("failed to list security events", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to retrieve security events")
		return
	}

	resp := SecurityEventPageResponse{
		Events:     make([]SecurityEventResponse, 0, len(page.Events)),
		NextCursor: page.NextCursor,
	}
	for _, e := range page.Events {
		resp.Events = append(resp.Events, SecurityEventResponse{
			ID:              e.ID.String(),
			ActorIdentifier: e.ActorIdentifier,
			ActorID:         e.ActorID,
			Action:          e.Action,
			Resource:        e.Resource,
			Details:         e.Details,
			ServerTimestamp: e.ServerTimestamp,
			ClientTimestamp: e.ClientTimestamp,
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// VerifyUser handles POST /admin/users/{id}/verify
func (h *AdminHandler) VerifyUser(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	account, err := h.service.VerifyUser(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

// UpdateUserStatus handles PUT /admin/users/{id}/status
func (h *AdminHandler) UpdateUserStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := actorFromRequest(w, r)
	if !ok {
		return
	}

	var req UpdateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := h.service.SetUserStatus(r.Context(), actor, chi.URLParam(r, "id"), req.Status)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

func actorFromRequest(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	session := auth.GetSessionFromContext(r)
	if session == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return services.Actor{}, false
	}
	return services.Actor{UserID: session.UserID, Identifier: session.Identifier}, true
}

func (h *AdminHandler) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrNotFound):
		pkghttp.WriteNotFound(w, "User not found")
	case errors.Is(err, models.ErrBadRequest):
		pkghttp.WriteBadRequest(w, "status must be active or inactive")
	case errors.Is(err, models.ErrForbidden):
		pkghttp.WriteForbidden(w, "You cannot deactivate your own account")
	default:
		h.logger.Error("admin action failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
	}
}
