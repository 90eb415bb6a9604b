package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter limits requests per user, or per client IP when anonymous. The
// user is only known once authentication has run, so mount it through
// LimitedAuth rather than as router middleware.
type RateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     rate.Limit
	burst    int
	idle     time.Duration
	logger   *logging.Logger
}

// NewRateLimiter creates a limiter allowing rps requests per second per key.
func NewRateLimiter(rps float64, burst int, logger *logging.Logger) *RateLimiter {
	return &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(rps),
		burst:    burst,
		idle:     10 * time.Minute,
		logger:   logger,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, ok := rl.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[key] = v
	}
	v.lastSeen = time.Now()
	return v.limiter
}

// Handler returns the middleware handler.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := GetUserID(r.Context())
		if key == "" {
			key = clientIP(r)
		}

		if !rl.getLimiter(key).Allow() {
			rl.logger.LogSecurityEvent(r.Context(), "rate_limit_exceeded", map[string]interface{}{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			w.Header().Set("Retry-After", "1")
			httputil.WriteError(w, r, errors.RateLimitExceeded(rl.burst, "1s"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// LimitedAuth runs the rate limiter inside each auth wrapper so limits are
// keyed by the resolved user.
type LimitedAuth struct {
	*AuthMiddleware
	limiter *RateLimiter
}

// NewLimitedAuth combines auth and a rate limiter.
func NewLimitedAuth(auth *AuthMiddleware, limiter *RateLimiter) *LimitedAuth {
	return &LimitedAuth{AuthMiddleware: auth, limiter: limiter}
}

// Require authenticates, then limits per user.
func (a *LimitedAuth) Require(next http.Handler) http.Handler {
	return a.AuthMiddleware.Require(a.limiter.Handler(next))
}

// Bypass is Require with the development bypass, then limits.
func (a *LimitedAuth) Bypass(next http.Handler) http.Handler {
	return a.AuthMiddleware.Bypass(a.limiter.Handler(next))
}

// Optional resolves any session, then limits per user or client IP.
func (a *LimitedAuth) Optional(next http.Handler) http.Handler {
	return a.AuthMiddleware.Optional(a.limiter.Handler(next))
}

// Public limits an unauthenticated route per client IP.
func (a *LimitedAuth) Public(next http.Handler) http.Handler {
	return a.limiter.Handler(next)
}

// Cleanup drops limiters idle for longer than the idle window.
func (rl *RateLimiter) Cleanup() int {
	cutoff := time.Now().Add(-rl.idle)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.visitors)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
