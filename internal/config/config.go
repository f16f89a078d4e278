package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends for short-lived state
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Email delivery providers
const (
	EmailProviderSES  = "ses"
	EmailProviderSMTP = "smtp"
)

type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Auth         AuthConfig
	RateLimit    RateLimitConfig
	Verification VerificationConfig
	Email        EmailConfig
	Redis        RedisConfig
	Vault        VaultConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectTimeout    time.Duration
	HealthTimeout     time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

type AuthConfig struct {
	JWTSecret         string
	AccessTokenExpiry time.Duration
	CleanupInterval   time.Duration
	ProviderTimeout   time.Duration
	StoreTimeout      time.Duration
	AuditWriteTimeout time.Duration
	FailureDelay      time.Duration
	FailureJitter     time.Duration
}

// RateLimitConfig holds the attempt tracker policy and the per-IP throttles
type RateLimitConfig struct {
	MaxAttempts               int
	BlockDuration             time.Duration
	AttemptStore              string
	LoginRequestsPerMinute    int
	SendVerificationPerMinute int
	VerifyCodePerMinute       int
}

// VerificationConfig holds the step-up code channel settings
type VerificationConfig struct {
	CodeTTL    time.Duration
	CodeStore  string
	ServiceURL string
}

type EmailConfig struct {
	Provider     string
	FromAddress  string
	AWSRegion    string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
}

// VaultConfig holds the key vault encryption key, base64 encoded
type VaultConfig struct {
	Key string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "safecrypt"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectTimeout:    getEnvAsDuration("DB_CONNECT_TIMEOUT", 10*time.Second),
			HealthTimeout:     getEnvAsDuration("DB_HEALTH_TIMEOUT", 2*time.Second),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:         jwtSecret,
			AccessTokenExpiry: getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 1*time.Hour),
			CleanupInterval:   getEnvAsDuration("CLEANUP_INTERVAL", 5*time.Minute),
			ProviderTimeout:   getEnvAsDuration("PROVIDER_TIMEOUT", 5*time.Second),
			StoreTimeout:      getEnvAsDuration("STORE_TIMEOUT", 3*time.Second),
			AuditWriteTimeout: getEnvAsDuration("AUDIT_WRITE_TIMEOUT", 3*time.Second),
			FailureDelay:      getEnvAsDuration("FAILED_LOGIN_DELAY", 300*time.Millisecond),
			FailureJitter:     getEnvAsDuration("FAILED_LOGIN_JITTER", 100*time.Millisecond),
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:               getEnvAsInt("MAX_LOGIN_ATTEMPTS", 3),
			BlockDuration:             getEnvAsDuration("LOGIN_BLOCK_DURATION", 10*time.Minute),
			AttemptStore:              strings.ToLower(getEnv("ATTEMPT_STORE", StoreMemory)),
			LoginRequestsPerMinute:    getEnvAsInt("LOGIN_RATE_PER_MINUTE", 20),
			SendVerificationPerMinute: getEnvAsInt("SEND_VERIFICATION_RATE_PER_MINUTE", 5),
			VerifyCodePerMinute:       getEnvAsInt("VERIFY_CODE_RATE_PER_MINUTE", 10),
		},
		Verification: VerificationConfig{
			CodeTTL:    getEnvAsDuration("VERIFICATION_CODE_TTL", 5*time.Minute),
			CodeStore:  strings.ToLower(getEnv("CODE_STORE", StoreMemory)),
			ServiceURL: strings.TrimSuffix(getEnv("VERIFICATION_SERVICE_URL", ""), "/"),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", EmailProviderSMTP)),
			FromAddress:  getEnv("EMAIL_FROM", ""),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			SMTPHost:     getEnv("SMTP_HOST", "smtp.gmail.com"),
			SMTPPort:     getEnvAsInt("SMTP_PORT", 587),
			SMTPUsername: getEnv("SMTP_USERNAME", ""),
			SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Vault: VaultConfig{
			Key: getEnv("VAULT_KEY", ""),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.RateLimit.MaxAttempts < 1 {
		return fmt.Errorf("MAX_LOGIN_ATTEMPTS must be at least 1 (got %d)", c.RateLimit.MaxAttempts)
	}
	if c.RateLimit.BlockDuration <= 0 {
		return fmt.Errorf("LOGIN_BLOCK_DURATION must be positive")
	}
	if c.Database.ConnectTimeout <= 0 || c.Database.HealthTimeout <= 0 {
		return fmt.Errorf("DB_CONNECT_TIMEOUT and DB_HEALTH_TIMEOUT must be positive")
	}
	if c.Verification.CodeTTL <= 0 {
		return fmt.Errorf("VERIFICATION_CODE_TTL must be positive")
	}
	for name, rate := range map[string]int{
		"LOGIN_RATE_PER_MINUTE":             c.RateLimit.LoginRequestsPerMinute,
		"SEND_VERIFICATION_RATE_PER_MINUTE": c.RateLimit.SendVerificationPerMinute,
		"VERIFY_CODE_RATE_PER_MINUTE":       c.RateLimit.VerifyCodePerMinute,
	} {
		if rate < 1 {
			return fmt.Errorf("%s must be at least 1 (got %d)", name, rate)
		}
	}

	for name, kind := range map[string]string{
		"ATTEMPT_STORE": c.RateLimit.AttemptStore,
		"CODE_STORE":    c.Verification.CodeStore,
	} {
		switch kind {
		case StoreMemory:
		case StoreRedis:
			if c.Redis.Addr == "" {
				return fmt.Errorf("REDIS_ADDR is required when %s=redis", name)
			}
		default:
			return fmt.Errorf("%s must be %q or %q (got %q)", name, StoreMemory, StoreRedis, kind)
		}
	}

	if c.Vault.Key == "" && c.Server.Env == "production" {
		return fmt.Errorf("VAULT_KEY is required in production")
	}

	switch c.Email.Provider {
	case EmailProviderSES, EmailProviderSMTP:
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be %q or %q (got %q)", EmailProviderSES, EmailProviderSMTP, c.Email.Provider)
	}

	return nil
}

// UsesRedis reports whether any short-lived store is backed by Redis
func (c *Config) UsesRedis() bool {
	return c.RateLimit.AttemptStore == StoreRedis || c.Verification.CodeStore == StoreRedis
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: the React dev server and the companion service
	return []string{
		"http://localhost:3000",
		"http://localhost:3001",
		"http://localhost:8080",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:3001",
		"http://127.0.0.1:8080",
	}
}
