package middleware

import (
	"net/http"
	"time"

	"github.com/BradenHooton/custodia/internal/auth"
	pkghttp "github.com/BradenHooton/custodia/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultAuthRateLimit returns the default limit for the login endpoints
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP limits requests per client IP. It guards the password and
// second-factor login steps, which are the brute-force surface for codes.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyByRealIP(),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

// RateLimitByUser limits authenticated requests per user ID, falling back
// to the client IP when no claims are present. Must run after AuthMiddleware.
func RateLimitByUser(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(userKey),
		httprate.WithLimitHandler(writeRateLimited),
	)
}

func userKey(r *http.Request) (string, error) {
	if claims := auth.GetUserFromContext(r); claims != nil && claims.UserID != "" {
		return "user:" + claims.UserID, nil
	}
	ip, err := httprate.KeyByRealIP(r)
	return "ip:" + ip, err
}

func writeRateLimited(w http.ResponseWriter, r *http.Request) {
	pkghttp.WriteTooManyRequests(w, "Rate limit exceeded, try again later")
}
