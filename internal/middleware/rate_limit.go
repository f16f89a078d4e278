package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/safecrypt/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds per-IP throttling configuration
type RateLimitConfig struct {
	RequestsPerMinute int
	IPConfig          *pkghttp.IPConfig
}

// RateLimitByIP throttles requests per client IP. The IP is resolved the same
// way as for security events, so forwarded headers only count behind a
// trusted proxy.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.IPConfig), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Rate limit exceeded")
		}),
	)
}
