package profile

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
)

// Authenticator supplies the auth middleware for the profile routes.
type Authenticator interface {
	Require(next http.Handler) http.Handler
}

// RegisterRoutes mounts the profile API on r.
func (s *Service) RegisterRoutes(r *mux.Router, auth Authenticator) {
	p := r.PathPrefix("/api/profile").Subrouter()
	p.Use(auth.Require)
	p.HandleFunc("", s.handleGet).Methods(http.MethodGet)
	p.HandleFunc("", s.handleUpdate).Methods(http.MethodPatch, http.MethodPut)
	p.HandleFunc("/avatar", s.handleAvatar).Methods(http.MethodPost)
	p.HandleFunc("/password", s.handlePassword).Methods(http.MethodPost)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	p, err := s.Get(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input Update
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	p, err := s.Update(r.Context(), userID, input)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// handleAvatar accepts a multipart upload in the "avatar" field.
func (s *Service) handleAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxAvatarBytes+64<<10)
	if err := r.ParseMultipartForm(MaxAvatarBytes); err != nil {
		httputil.BadRequest(w, "Avatar image must be less than 2MB")
		return
	}
	file, header, err := r.FormFile("avatar")
	if err != nil {
		httputil.BadRequest(w, "Avatar image is required")
		return
	}
	defer file.Close()

	data, tooLarge, err := httputil.ReadAllWithLimit(file, MaxAvatarBytes)
	if err != nil {
		httputil.BadRequest(w, "Failed to read avatar")
		return
	}
	if tooLarge {
		httputil.BadRequest(w, "Avatar image must be less than 2MB")
		return
	}

	p, err := s.UploadAvatar(r.Context(), userID, header.Filename, data)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) handlePassword(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequireUserID(w, r); !ok {
		return
	}
	var input PasswordChange
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}

	ctx := r.Context()
	email := middleware.GetEmail(ctx)
	if email == "" {
		if p, err := s.repo.GetProfile(ctx, middleware.GetUserID(ctx)); err == nil {
			email = p.Email
		}
	}

	if err := s.ChangePassword(ctx, email, middleware.GetAccessToken(ctx), input); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	middleware.ClearSessionCookies(w, s.secure)
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Password updated successfully. You will be logged out in a moment...",
	})
}
