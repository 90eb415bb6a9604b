// Package middleware provides HTTP middleware for the gateway.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/supabase"
)

// Session cookie names, shared with the browser client.
const (
	AccessTokenCookie  = "sb-access-token"
	RefreshTokenCookie = "sb-refresh-token"
)

// DevUserID is the identity used when the auth bypass is enabled.
const DevUserID = "dev-user"

type ctxKey string

const (
	accessTokenKey ctxKey = "access_token"
	emailKey       ctxKey = "email"
)

// UserFetcher resolves an access token remotely.
type UserFetcher interface {
	GetUser(ctx context.Context, accessToken string) (*supabase.User, error)
}

// AuthUser is the identity attached to a request.
type AuthUser struct {
	ID    string
	Email string
	Role  string
}

// AuthConfig configures AuthMiddleware.
type AuthConfig struct {
	// JWTSecret enables local HS256 verification. Empty means every token
	// goes to the fetcher.
	JWTSecret string
	Fetcher   UserFetcher
	// SkipAuth lets Bypass handlers run as DevUserID without a token.
	SkipAuth bool
	CacheTTL time.Duration
}

type cachedUser struct {
	user    *AuthUser
	expires time.Time
}

// AuthMiddleware authenticates Supabase access tokens from the Authorization
// header or the session cookie.
type AuthMiddleware struct {
	cfg    AuthConfig
	logger *logging.Logger

	mu    sync.Mutex
	cache map[string]cachedUser
}

// NewAuthMiddleware creates the middleware.
func NewAuthMiddleware(cfg AuthConfig, logger *logging.Logger) *AuthMiddleware {
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Minute
	}
	return &AuthMiddleware{cfg: cfg, logger: logger, cache: make(map[string]cachedUser)}
}

// Require rejects requests without a valid token.
func (m *AuthMiddleware) Require(next http.Handler) http.Handler {
	return m.handle(next, false)
}

// Bypass behaves like Require unless SkipAuth is set, in which case
// unauthenticated requests run as DevUserID.
func (m *AuthMiddleware) Bypass(next http.Handler) http.Handler {
	return m.handle(next, m.cfg.SkipAuth)
}

// Optional attaches the user when a valid token is present and never rejects.
func (m *AuthMiddleware) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractToken(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		user, err := m.Authenticate(r.Context(), token)
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user, token)))
	})
}

func (m *AuthMiddleware) handle(next http.Handler, allowDev bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		serveDev := func() {
			m.logger.WithContext(r.Context()).Warn("auth bypass active, serving as dev user")
			ctx := withUser(r.Context(), &AuthUser{ID: DevUserID, Role: "authenticated"}, "")
			next.ServeHTTP(w, r.WithContext(ctx))
		}

		token := ExtractToken(r)
		if token == "" {
			if allowDev {
				serveDev()
				return
			}
			httputil.Unauthorized(w, "Not authenticated")
			return
		}

		user, err := m.Authenticate(r.Context(), token)
		if err != nil {
			m.logger.LogSecurityEvent(r.Context(), "invalid_token", map[string]interface{}{
				"path":  r.URL.Path,
				"token": logging.Redact(token),
				"error": err.Error(),
			})
			// A stale cookie must not lock a developer out while the bypass is on.
			if allowDev {
				serveDev()
				return
			}
			httputil.WriteError(w, r, err)
			return
		}

		m.logger.WithContext(r.Context()).WithField("user_id", user.ID).Debug("authenticated")
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user, token)))
	})
}

// Authenticate verifies token locally when possible, otherwise via the fetcher.
func (m *AuthMiddleware) Authenticate(ctx context.Context, token string) (*AuthUser, error) {
	if m.cfg.JWTSecret != "" {
		if user, err := m.verifyLocal(token); err == nil {
			return user, nil
		}
	}

	if user := m.cached(token); user != nil {
		return user, nil
	}
	if m.cfg.Fetcher == nil {
		return nil, errors.InvalidToken(nil)
	}
	remote, err := m.cfg.Fetcher.GetUser(ctx, token)
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	user := &AuthUser{ID: remote.ID, Email: remote.Email, Role: remote.Role}
	m.store(token, user)
	return user, nil
}

func (m *AuthMiddleware) verifyLocal(token string) (*AuthUser, error) {
	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(m.cfg.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("jwt parse: %w", err)
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("jwt invalid")
	}
	sub := stringClaim(claims, "sub")
	if sub == "" {
		return nil, fmt.Errorf("jwt has no subject")
	}
	return &AuthUser{ID: sub, Email: stringClaim(claims, "email"), Role: stringClaim(claims, "role")}, nil
}

func (m *AuthMiddleware) cached(token string) *AuthUser {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.cache[token]
	if !ok {
		return nil
	}
	if time.Now().After(entry.expires) {
		delete(m.cache, token)
		return nil
	}
	return entry.user
}

func (m *AuthMiddleware) store(token string, user *AuthUser) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache[token] = cachedUser{user: user, expires: time.Now().Add(m.cfg.CacheTTL)}
}

// Cleanup drops expired cache entries.
func (m *AuthMiddleware) Cleanup() {
	now := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for token, entry := range m.cache {
		if now.After(entry.expires) {
			delete(m.cache, token)
		}
	}
}

// ExtractToken returns the bearer token, falling back to the session cookie.
func ExtractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	if cookie, err := r.Cookie(AccessTokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

func withUser(ctx context.Context, user *AuthUser, token string) context.Context {
	ctx = logging.WithUserID(ctx, user.ID)
	if user.Role != "" {
		ctx = context.WithValue(ctx, logging.RoleKey, user.Role)
	}
	if user.Email != "" {
		ctx = context.WithValue(ctx, emailKey, user.Email)
	}
	if token != "" {
		ctx = context.WithValue(ctx, accessTokenKey, token)
	}
	return ctx
}

// GetUserID returns the authenticated user ID.
func GetUserID(ctx context.Context) string {
	return logging.GetUserID(ctx)
}

// GetEmail returns the authenticated user's email.
func GetEmail(ctx context.Context) string {
	v, _ := ctx.Value(emailKey).(string)
	return v
}

// GetAccessToken returns the raw access token, for row level security calls.
func GetAccessToken(ctx context.Context) string {
	v, _ := ctx.Value(accessTokenKey).(string)
	return v
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if s, ok := claims[key].(string); ok {
		return s
	}
	return ""
}
