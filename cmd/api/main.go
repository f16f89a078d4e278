package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/safecrypt/internal/auth"
	"github.com/BradenHooton/safecrypt/internal/background"
	"github.com/BradenHooton/safecrypt/internal/config"
	"github.com/BradenHooton/safecrypt/internal/database"
	"github.com/BradenHooton/safecrypt/internal/handlers"
	"github.com/BradenHooton/safecrypt/internal/identity"
	"github.com/BradenHooton/safecrypt/internal/metrics"
	middlewareCustom "github.com/BradenHooton/safecrypt/internal/middleware"
	"github.com/BradenHooton/safecrypt/internal/models"
	"github.com/BradenHooton/safecrypt/internal/repositories"
	"github.com/BradenHooton/safecrypt/internal/routes"
	"github.com/BradenHooton/safecrypt/internal/services"
	"github.com/BradenHooton/safecrypt/internal/vault"
	"github.com/BradenHooton/safecrypt/internal/verifyclient"
	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	pkglogger "github.com/BradenHooton/safecrypt/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(context.Background(), &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	migrateCtx, migrateCancel := context.WithTimeout(context.Background(), 60*time.Second)
	err = database.Migrate(migrateCtx, db.Pool)
	migrateCancel()
	if err != nil {
		logger.Error("failed to apply migrations", slog.Any("error", err))
		os.Exit(1)
	}

	var redisClient *redis.Client
	if cfg.UsesRedis() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		pingCancel()
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	accountRepo := repositories.NewAccountRepository(db)
	credentialRepo := repositories.NewCredentialRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)
	revokeRepo := repositories.NewTokenRevocationRepository(db)
	secretRepo := repositories.NewSecretRepository(db)

	observer := metrics.Recorder{}
	cleanupManager := background.NewCleanupManager(logger, cfg.Auth.CleanupInterval).
		Register("revoked_tokens", background.PrunerFunc(revokeRepo.CleanupExpiredTokens))

	// Attempt tracker
	policy := services.AttemptPolicy{
		MaxAttempts:   cfg.RateLimit.MaxAttempts,
		BlockDuration: cfg.RateLimit.BlockDuration,
	}
	var tracker services.AttemptTracker
	if cfg.RateLimit.AttemptStore == config.StoreRedis {
		tracker = services.NewRedisAttemptTracker(redisClient, policy)
	} else {
		memTracker := services.NewMemoryAttemptTracker(policy)
		cleanupManager.Register("attempts", memTracker)
		tracker = memTracker
	}

	// Verification code channel
	sender, err := newCodeSender(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize code sender", slog.Any("error", err))
		os.Exit(1)
	}

	var codeStore services.CodeStore
	if cfg.Verification.CodeStore == config.StoreRedis {
		codeStore = services.NewRedisCodeStore(redisClient, cfg.Verification.CodeTTL)
	} else {
		memStore := services.NewMemoryCodeStore(cfg.Verification.CodeTTL)
		cleanupManager.Register("verification_codes", memStore)
		codeStore = memStore
	}
	codeService := services.NewVerificationCodeService(codeStore, sender, cfg.Verification.CodeTTL, logger, observer)

	var stepUp services.StepUpChannel = codeService
	if cfg.Verification.ServiceURL != "" {
		logger.Info("using remote verification service", slog.String("url", cfg.Verification.ServiceURL))
		stepUp = verifyclient.New(cfg.Verification.ServiceURL, cfg.Auth.ProviderTimeout, logger)
	}

	// Identity provider and gate
	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	provider := identity.NewPasswordProvider(credentialRepo, tokenManager, revokeRepo, logger)
	auditService := services.NewAuditService(eventRepo, logger, cfg.Auth.AuditWriteTimeout, observer)

	gate := services.NewCredentialGate(
		tracker,
		provider,
		accountRepo,
		stepUp,
		provider,
		auditService,
		services.GateConfig{
			ProviderTimeout: cfg.Auth.ProviderTimeout,
			StoreTimeout:    cfg.Auth.StoreTimeout,
		},
		logger,
		observer,
	)
	adminService := services.NewAdminService(accountRepo, auditService, logger)

	vaultKey, derived, err := vault.LoadKey(cfg.Vault.Key, cfg.Auth.JWTSecret)
	if err != nil {
		logger.Error("failed to load key vault key", slog.Any("error", err))
		os.Exit(1)
	}
	if derived {
		logger.Warn("VAULT_KEY not set, deriving the key vault key from JWT_SECRET")
	}
	vaultCipher, err := vault.NewCipher(vaultKey)
	if err != nil {
		logger.Error("failed to initialize key vault", slog.Any("error", err))
		os.Exit(1)
	}
	secretService := services.NewSecretService(secretRepo, vaultCipher, auditService, logger)

	// Bootstrap first admin user if configured
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(ctx, provider, accountRepo, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	cancel()

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}
	authHandler := handlers.NewAuthHandler(gate, ipConfig, logger).
		WithFailureDelay(auth.NewTimingDelay(auth.TimingConfig{
			BaseDelay:   cfg.Auth.FailureDelay,
			RandomDelay: cfg.Auth.FailureJitter,
		}))
	verificationHandler := handlers.NewVerificationHandler(codeService, logger)
	adminHandler := handlers.NewAdminHandler(adminService, logger)
	secretHandler := handlers.NewSecretHandler(secretService, logger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, routes.Dependencies{
		AuthHandler:               authHandler,
		VerificationHandler:       verificationHandler,
		AdminHandler:              adminHandler,
		SecretHandler:             secretHandler,
		TokenManager:              tokenManager,
		Revocations:               revokeRepo,
		Accounts:                  accountRepo,
		IPConfig:                  ipConfig,
		Logger:                    logger,
		LoginRequestsPerMinute:    cfg.RateLimit.LoginRequestsPerMinute,
		SendVerificationPerMinute: cfg.RateLimit.SendVerificationPerMinute,
		VerifyCodePerMinute:       cfg.RateLimit.VerifyCodePerMinute,
	})

	router.Handle("/metrics", promhttp.Handler())

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}

		pkghttp.WriteJSON(w, http.StatusOK, map[string]any{
			"status":      "healthy",
			"database":    "up",
			"connections": db.Stats().TotalConns(),
		})
	})

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// newCodeSender builds the configured verification code delivery
func newCodeSender(cfg *config.Config, logger *slog.Logger) (services.CodeSender, error) {
	switch cfg.Email.Provider {
	case config.EmailProviderSES:
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return services.NewSESCodeSender(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	case config.EmailProviderSMTP:
		return services.NewSMTPCodeSender(services.SMTPConfig{
			Host:     cfg.Email.SMTPHost,
			Port:     cfg.Email.SMTPPort,
			Username: cfg.Email.SMTPUsername,
			Password: cfg.Email.SMTPPassword,
		}, cfg.Email.FromAddress, logger), nil
	default:
		return nil, fmt.Errorf("unknown email provider %q", cfg.Email.Provider)
	}
}

// ensureAdminUser creates the first admin account if ADMIN_EMAIL and ADMIN_PASSWORD are set
func ensureAdminUser(ctx context.Context, provider *identity.PasswordProvider, accounts *repositories.AccountRepository, logger *slog.Logger) error {
	adminEmail := strings.TrimSpace(os.Getenv("ADMIN_EMAIL"))
	adminPassword := os.Getenv("ADMIN_PASSWORD")

	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	userID, err := provider.CreateAccount(ctx, adminEmail, adminPassword)
	if err != nil {
		if models.ProviderErrorCode(err) == models.ProviderCodeEmailInUse {
			logger.Info("admin user already exists")
			return nil
		}
		return fmt.Errorf("failed to create admin credential: %w", err)
	}

	_, err = accounts.Create(ctx, &models.Account{
		ID:       userID,
		Email:    adminEmail,
		FullName: "Admin",
		Role:     models.RoleAdmin,
		Verified: true,
		Status:   models.StatusActive,
	})
	if err != nil {
		return fmt.Errorf("failed to create admin profile: %w", err)
	}

	logger.Info("admin user created successfully")
	return nil
}
