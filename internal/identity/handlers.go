package identity

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
)

// Authenticator supplies the auth middleware for the session routes. Public
// wraps the routes used before a session exists.
type Authenticator interface {
	Optional(next http.Handler) http.Handler
	Public(next http.Handler) http.Handler
}

// RegisterRoutes mounts the session API on r.
func (s *Service) RegisterRoutes(r *mux.Router, auth Authenticator) {
	a := r.PathPrefix("/api/auth").Subrouter()
	a.Handle("/register", auth.Public(http.HandlerFunc(s.handleRegister))).Methods(http.MethodPost)
	a.Handle("/login", auth.Public(http.HandlerFunc(s.handleLogin))).Methods(http.MethodPost)
	a.Handle("/refresh", auth.Public(http.HandlerFunc(s.handleRefresh))).Methods(http.MethodPost)
	a.Handle("/logout", auth.Public(http.HandlerFunc(s.handleLogout))).Methods(http.MethodPost)
	a.Handle("/session", auth.Optional(http.HandlerFunc(s.handleSession))).Methods(http.MethodGet)
}

func (s *Service) setCookies(w http.ResponseWriter, view *SessionView) {
	if view.AccessToken == "" {
		return
	}
	middleware.SetSessionCookies(w, view.AccessToken, view.RefreshToken, view.accessTTL(), s.secure)
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var input Registration
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	view, err := s.Register(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.setCookies(w, view)
	httputil.WriteJSON(w, http.StatusCreated, view)
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var input Credentials
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	view, err := s.Login(r.Context(), input)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.setCookies(w, view)
	httputil.WriteJSON(w, http.StatusOK, view)
}

// handleRefresh takes the refresh token from the body, falling back to the
// refresh cookie.
func (s *Service) handleRefresh(w http.ResponseWriter, r *http.Request) {
	body, err := httputil.ReadAllStrict(r.Body, 16<<10)
	if err != nil {
		httputil.BadRequest(w, "invalid request body")
		return
	}
	token := gjson.GetBytes(body, "refresh_token").String()
	if token == "" {
		if c, err := r.Cookie(middleware.RefreshTokenCookie); err == nil {
			token = c.Value
		}
	}

	view, err := s.Refresh(r.Context(), token)
	if err != nil {
		middleware.ClearSessionCookies(w, s.secure)
		httputil.WriteError(w, r, err)
		return
	}
	s.setCookies(w, view)
	httputil.WriteJSON(w, http.StatusOK, view)
}

func (s *Service) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.Logout(r.Context(), middleware.ExtractToken(r))
	middleware.ClearSessionCookies(w, s.secure)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Service) handleSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	if userID == "" {
		httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"authenticated": false})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"user": UserView{
			ID:    userID,
			Email: middleware.GetEmail(ctx),
			Role:  logging.GetRole(ctx),
		},
	})
}
