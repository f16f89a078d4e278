package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/BradenHooton/safecrypt/internal/models"
)

const maxActivityFeed = 20

// Actor identifies the admin performing a management action
type Actor struct {
	UserID     string
	Identifier string
}

// ActivityEntry is a single item in a recent-activity feed.
type ActivityEntry struct {
	Timestamp       string  `json:"timestamp"`
	ActorIdentifier *string `json:"actor_identifier,omitempty"`
	Action          string  `json:"action"`
}

// DashboardActivityResponse contains recent event feeds.
type DashboardActivityResponse struct {
	RecentLogins  []ActivityEntry `json:"recent_logins"`
	RecentSignups []ActivityEntry `json:"recent_signups"`
	FailedLogins  []ActivityEntry `json:"failed_logins"`
}

// AdminService backs the admin dashboard: account stats, the security log
// and user management.
type AdminService struct {
	accounts AccountRepository
	audit    *AuditService
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new AdminService.
func NewAdminService(accounts AccountRepository, audit *AuditService, logger *slog.Logger) *AdminService {
	return &AdminService{
		accounts: accounts,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// GetDashboardStats returns aggregate account counts and failed sign-ins
// over the last 24 hours.
func (s *AdminService) GetDashboardStats(ctx context.Context) (*models.AccountStats, error) {
	stats, err := s.accounts.Stats(ctx)
	if err != nil {
		s.logger.Error("dashboard: failed to count accounts", slog.Any("error", err))
		return nil, err
	}

	failed, err := s.audit.CountSince(ctx, models.ActionLoginFailed, s.now().Add(-24*time.Hour))
	if err != nil {
		s.logger.Error("dashboard: failed to count failed logins", slog.Any("error", err))
		return nil, err
	}
	stats.FailedLogins24h = failed

	return stats, nil
}

// GetRecentActivity returns recent sign-in event feeds.
// limit is clamped to a maximum of 20.
func (s *AdminService) GetRecentActivity(ctx context.Context, limit int) (*DashboardActivityResponse, error) {
	if limit <= 0 || limit > maxActivityFeed {
		limit = maxActivityFeed
	}

	feed := func(action string) ([]ActivityEntry, error) {
		page, err := s.audit.ListSecurityEvents(ctx, models.SecurityEventQuery{Action: action, Limit: limit})
		if err != nil {
			s.logger.Error("dashboard: failed to fetch activity", slog.String("action", action), slog.Any("error", err))
			return nil, err
		}
		entries := make([]ActivityEntry, 0, len(page.Events))
		for _, e := range page.Events {
			entries = append(entries, ActivityEntry{
				Timestamp:       e.ServerTimestamp.UTC().Format(time.RFC3339),
				ActorIdentifier: e.ActorIdentifier,
				Action:          e.Action,
			})
		}
		return entries, nil
	}

	logins, err := feed(models.ActionLogin)
	if err != nil {
		return nil, err
	}
	signups, err := feed(models.ActionSignup)
	if err != nil {
		return nil, err
	}
	failed, err := feed(models.ActionLoginFailed)
	if err != nil {
		return nil, err
	}

	return &DashboardActivityResponse{
		RecentLogins:  logins,
		RecentSignups: signups,
		FailedLogins:  failed,
	}, nil
}

// ListSecurityEvents returns one page of the security log
func (s *AdminService) ListSecurityEvents(ctx context.Context, query models.SecurityEventQuery) (*models.SecurityEventPage, error) {
	return s.audit.ListSecurityEvents(ctx, query)
}

// VerifyUser marks an account as verified so it may sign in
func (s *AdminService) VerifyUser(ctx context.Context, actor Actor, userID string) (*models.Account, error) {
	account, err := s.accounts.SetVerified(ctx, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to verify user: %w", err)
	}

	s.audit.Record(context.WithoutCancel(ctx), models.ActionUserVerified, models.ResourceUserManagement,
		actor.Identifier, actor.UserID, models.EventDetails{
			"targetUserId": account.ID,
			"targetEmail":  account.Email,
		})

	return account, nil
}

// SetUserStatus activates or deactivates an account. Admins cannot
// deactivate themselves.
func (s *AdminService) SetUserStatus(ctx context.Context, actor Actor, userID, status string) (*models.Account, error) {
	if status != models.StatusActive && status != models.StatusInactive {
		return nil, fmt.Errorf("%w: unknown status %q", models.ErrBadRequest, status)
	}
	if userID == actor.UserID && status == models.StatusInactive {
		return nil, fmt.Errorf("%w: cannot deactivate your own account", models.ErrForbidden)
	}

	before, err := s.accounts.GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	account, err := s.accounts.SetStatus(ctx, userID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to update user status: %w", err)
	}

	s.audit.Record(context.WithoutCancel(ctx), models.ActionUserStatusChanged, models.ResourceUserManagement,
		actor.Identifier, actor.UserID, models.EventDetails{
			"targetUserId": account.ID,
			"targetEmail":  account.Email,
			"oldStatus":    before.Status,
			"newStatus":    account.Status,
		})

	return account, nil
}
