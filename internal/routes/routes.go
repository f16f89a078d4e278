package routes

import (
	"log/slog"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/handlers"
	"github.com/BradenHooton/safecrypt/internal/middleware"
	"github.com/BradenHooton/safecrypt/internal/models"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	"github.com/go-chi/chi/v5"
)

// Dependencies groups what the routes need
type Dependencies struct {
	AuthHandler         *handlers.AuthHandler
	VerificationHandler *handlers.VerificationHandler
	AdminHandler        *handlers.AdminHandler
	SecretHandler       *handlers.SecretHandler
	TokenManager        *auth.TokenManager
	Revocations         auth.TokenRevocationChecker
	Accounts            auth.AccountFetcher
	IPConfig            *pkghttp.IPConfig
	Logger              *slog.Logger

	LoginRequestsPerMinute    int
	SendVerificationPerMinute int
	VerifyCodePerMinute       int
}

// RegisterRoutes registers all application routes
func RegisterRoutes(router chi.Router, deps Dependencies) {
	loginLimit := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestsPerMinute: deps.LoginRequestsPerMinute,
		IPConfig:          deps.IPConfig,
	})
	sendLimit := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestsPerMinute: deps.SendVerificationPerMinute,
		IPConfig:          deps.IPConfig,
	})
	// verify-code shares the step-up code store, so guesses are throttled too
	verifyLimit := middleware.RateLimitByIP(middleware.RateLimitConfig{
		RequestsPerMinute: deps.VerifyCodePerMinute,
		IPConfig:          deps.IPConfig,
	})

	// Public routes - no authentication required
	router.With(loginLimit).Post("/auth/login", deps.AuthHandler.Login)
	router.With(loginLimit).Post("/auth/register", deps.AuthHandler.Register)

	// Verification code contract
	router.With(sendLimit).Post("/api/send-verification", deps.VerificationHandler.SendVerification)
	router.With(verifyLimit).Post("/api/verify-code", deps.VerificationHandler.VerifyCode)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(deps.TokenManager, deps.Revocations, auth.RevocationConfig{FailClosed: true}, deps.Logger))

		r.Post("/auth/logout", deps.AuthHandler.Logout)
		r.Post("/auth/step-up", deps.AuthHandler.CompleteStepUp)

		// Admin-only routes, after step-up
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(deps.Accounts, models.RoleAdmin))
			r.Use(auth.RequireStepUp)

			r.Get("/admin/stats", deps.AdminHandler.GetDashboardStats)
			r.Get("/admin/activity", deps.AdminHandler.GetRecentActivity)
			r.Get("/admin/security-events", deps.AdminHandler.ListSecurityEvents)
			r.Post("/admin/users/{id}/verify", deps.AdminHandler.VerifyUser)
			r.Put("/admin/users/{id}/status", deps.AdminHandler.UpdateUserStatus)

			r.Get("/admin/secrets", deps.SecretHandler.ListSecrets)
			r.Post("/admin/secrets", deps.SecretHandler.CreateSecret)
			r.Post("/admin/secrets/{id}/reveal", deps.SecretHandler.RevealSecret)
			r.Delete("/admin/secrets/{id}", deps.SecretHandler.DeleteSecret)
		})
	})
}
