// Package identity fronts the hosted identity provider: registration, login,
// token refresh and logout, with the session kept in HttpOnly cookies.
package identity

import (
	"context"
	stderrors "errors"
	"net/http"
	"net/mail"
	"strings"
	"time"

	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/supabase"
)

// MinPasswordLength matches the provider's default policy.
const MinPasswordLength = 6

// Provider is the GoTrue surface used by this package.
type Provider interface {
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*supabase.Session, error)
	SignIn(ctx context.Context, email, password string) (*supabase.Session, error)
	Refresh(ctx context.Context, refreshToken string) (*supabase.Session, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Service implements the session endpoints.
type Service struct {
	provider Provider
	logger   *logging.Logger
	secure   bool
}

// New creates the service. secure marks session cookies Secure, which
// production deployments need.
func New(provider Provider, logger *logging.Logger, secure bool) *Service {
	return &Service{provider: provider, logger: logger, secure: secure}
}

// Registration is a sign-up request.
type Registration struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Username string `json:"username"`
}

// Credentials is a password login request.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserView is the client-facing part of a provider user.
type UserView struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

// SessionView is returned by register, login and refresh.
type SessionView struct {
	User                 *UserView `json:"user,omitempty"`
	AccessToken          string    `json:"access_token,omitempty"`
	RefreshToken         string    `json:"refresh_token,omitempty"`
	ExpiresAt            int64     `json:"expires_at,omitempty"`
	ConfirmationRequired bool      `json:"confirmationRequired,omitempty"`
}

func (v *SessionView) accessTTL() time.Duration {
	if v.ExpiresAt > 0 {
		if ttl := time.Until(time.Unix(v.ExpiresAt, 0)); ttl > 0 {
			return ttl
		}
	}
	return time.Hour
}

func viewOf(s *supabase.Session) *SessionView {
	v := &SessionView{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		ExpiresAt:    s.ExpiresAt,
	}
	if v.ExpiresAt == 0 && s.ExpiresIn > 0 {
		v.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second).Unix()
	}
	if s.User != nil {
		v.User = &UserView{ID: s.User.ID, Email: s.User.Email, Role: s.User.Role}
	}
	return v
}

func normalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return "", svcerrors.BadRequest("Email is required")
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return "", svcerrors.BadRequest("Invalid email address")
	}
	return email, nil
}

// Register creates an account. When the provider requires email
// confirmation the result carries the user but no tokens.
func (s *Service) Register(ctx context.Context, req Registration) (*SessionView, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if len(req.Password) < MinPasswordLength {
		return nil, svcerrors.BadRequest("Password must be at least 6 characters")
	}

	metadata := map[string]any{}
	if name := strings.TrimSpace(req.FullName); name != "" {
		metadata["full_name"] = name
	}
	if username := strings.TrimSpace(req.Username); username != "" {
		metadata["username"] = username
	}

	session, err := s.provider.SignUp(ctx, email, req.Password, metadata)
	if err != nil {
		return nil, providerError(err, "Registration failed")
	}
	view := viewOf(session)
	view.ConfirmationRequired = view.AccessToken == ""
	s.logger.WithContext(ctx).WithField("confirmation_required", view.ConfirmationRequired).Info("user registered")
	return view, nil
}

// Login signs in with a password.
func (s *Service) Login(ctx context.Context, req Credentials) (*SessionView, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, svcerrors.BadRequest("Password is required")
	}
	session, err := s.provider.SignIn(ctx, email, req.Password)
	if err != nil {
		s.logger.LogSecurityEvent(ctx, "login_failed", map[string]interface{}{"email": email})
		return nil, providerError(err, "Login failed")
	}
	return viewOf(session), nil
}

// Refresh trades a refresh token for a new session.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*SessionView, error) {
	if refreshToken == "" {
		return nil, svcerrors.Unauthorized("Refresh token is required")
	}
	session, err := s.provider.Refresh(ctx, refreshToken)
	if err != nil {
		var apiErr *supabase.APIError
		if stderrors.As(err, &apiErr) && apiErr.StatusCode < 500 {
			return nil, svcerrors.InvalidToken(err)
		}
		return nil, svcerrors.Upstream("Session refresh failed", err)
	}
	return viewOf(session), nil
}

// Logout revokes the session. Provider failures are logged only; the
// caller clears cookies regardless.
func (s *Service) Logout(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := s.provider.SignOut(ctx, accessToken); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("sign out")
	}
}

// providerError maps provider rejections to 400 with the provider's message
// and other failures to 502.
func providerError(err error, fallback string) error {
	var apiErr *supabase.APIError
	if stderrors.As(err, &apiErr) && apiErr.StatusCode < http.StatusInternalServerError && apiErr.Message != "" {
		return svcerrors.BadRequest(apiErr.Message)
	}
	return svcerrors.Upstream(fallback, err)
}
