// Package profile serves the signed-in user's profile: details, avatar and
// password.
package profile

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	stderrors "errors"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/nysa-labs/nysa-gateway/internal/database"
	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/supabase"
)

const (
	// MaxAvatarBytes is the largest accepted avatar upload.
	MaxAvatarBytes = 2 << 20
	// MinPasswordLength is the shortest accepted new password.
	MinPasswordLength = 8
	// AvatarBucket is the storage bucket holding avatars.
	AvatarBucket = "avatars"
)

// Auth is the identity provider surface used for password changes.
type Auth interface {
	SignIn(ctx context.Context, email, password string) (*supabase.Session, error)
	UpdateUser(ctx context.Context, accessToken string, attrs supabase.UserAttributes) (*supabase.User, error)
	SignOut(ctx context.Context, accessToken string) error
}

// Bucket is the object storage surface used for avatars.
type Bucket interface {
	Upload(ctx context.Context, path string, data []byte, contentType string, upsert bool) error
	GetPublicURL(path string) string
}

// Service implements profile operations.
type Service struct {
	repo    database.Repository
	auth    Auth
	avatars Bucket
	logger  *logging.Logger
	secure  bool
}

// New creates a profile service. secure marks cookies cleared on password
// change as Secure.
func New(repo database.Repository, auth Auth, avatars Bucket, logger *logging.Logger, secure bool) *Service {
	return &Service{repo: repo, auth: auth, avatars: avatars, logger: logger, secure: secure}
}

// Get returns userID's profile.
func (s *Service) Get(ctx context.Context, userID string) (*database.Profile, error) {
	p, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, svcerrors.NotFound("Profile", userID)
		}
		return nil, svcerrors.Internal("Failed to load profile", err)
	}
	return p, nil
}

// Update is an edit of the profile's text fields. Nil fields are unchanged.
type Update struct {
	FullName *string `json:"full_name"`
	Username *string `json:"username"`
}

// Update applies u to userID's profile.
func (s *Service) Update(ctx context.Context, userID string, u Update) (*database.Profile, error) {
	if u.Username != nil {
		name := strings.TrimSpace(*u.Username)
		u.Username = &name
		if name != "" {
			other, err := s.repo.FindProfileByUsername(ctx, name)
			switch {
			case err == nil && other.ID != userID:
				return nil, svcerrors.Conflict("Username is already taken")
			case err != nil && !stderrors.Is(err, database.ErrNotFound):
				return nil, svcerrors.Internal("Failed to update profile", err)
			}
		}
	}

	p, err := s.repo.UpdateProfile(ctx, userID, database.ProfileUpdate{FullName: u.FullName, Username: u.Username})
	if err != nil {
		switch {
		case stderrors.Is(err, database.ErrUsernameTaken):
			return nil, svcerrors.Conflict("Username is already taken")
		case stderrors.Is(err, database.ErrNotFound):
			return nil, svcerrors.NotFound("Profile", userID)
		}
		return nil, svcerrors.Internal("Failed to update profile", err)
	}
	return p, nil
}

// UploadAvatar stores an image and points the profile at its public URL.
func (s *Service) UploadAvatar(ctx context.Context, userID, filename string, data []byte) (*database.Profile, error) {
	if len(data) == 0 {
		return nil, svcerrors.BadRequest("Avatar image is required")
	}
	if len(data) > MaxAvatarBytes {
		return nil, svcerrors.BadRequest("Avatar image must be less than 2MB")
	}
	contentType := http.DetectContentType(data)
	if !strings.HasPrefix(contentType, "image/") {
		return nil, svcerrors.BadRequest("Avatar must be an image")
	}

	objectPath := AvatarPath(userID, filename)
	if err := s.avatars.Upload(ctx, objectPath, data, contentType, false); err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("upload avatar")
		return nil, svcerrors.Upstream("Failed to upload avatar", err)
	}

	url := s.avatars.GetPublicURL(objectPath)
	p, err := s.repo.UpdateProfile(ctx, userID, database.ProfileUpdate{AvatarURL: &url})
	if err != nil {
		return nil, svcerrors.Internal("Failed to update profile", err)
	}
	return p, nil
}

// AvatarPath returns avatars/<userID>/<random>.<ext>, keeping the uploaded
// file's extension.
func AvatarPath(userID, filename string) string {
	ext := strings.TrimPrefix(path.Ext(filename), ".")
	if ext == "" {
		ext = "png"
	}
	var b [8]byte
	_, _ = rand.Read(b[:])
	return "avatars/" + userID + "/" + strconv.FormatUint(binary.LittleEndian.Uint64(b[:]), 36) + "." + strings.ToLower(ext)
}

// PasswordChange is a password change request.
type PasswordChange struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
	ConfirmPassword string `json:"confirmPassword"`
}

// ChangePassword verifies the current password by signing in, sets the new
// one and ends the session.
func (s *Service) ChangePassword(ctx context.Context, email, accessToken string, req PasswordChange) error {
	switch {
	case len(req.NewPassword) < MinPasswordLength:
		return svcerrors.BadRequest("New password must be at least 8 characters")
	case req.NewPassword != req.ConfirmPassword:
		return svcerrors.BadRequest("New passwords do not match")
	case req.CurrentPassword == "":
		return svcerrors.BadRequest("Current password is required")
	case email == "" || accessToken == "":
		return svcerrors.Unauthorized("")
	}

	if _, err := s.auth.SignIn(ctx, email, req.CurrentPassword); err != nil {
		s.logger.LogSecurityEvent(ctx, "password_change_rejected", map[string]interface{}{"reason": "current password"})
		return svcerrors.BadRequest("Current password is incorrect")
	}
	if _, err := s.auth.UpdateUser(ctx, accessToken, supabase.UserAttributes{Password: req.NewPassword}); err != nil {
		var apiErr *supabase.APIError
		if stderrors.As(err, &apiErr) && apiErr.StatusCode < 500 && apiErr.Message != "" {
			return svcerrors.BadRequest(apiErr.Message)
		}
		return svcerrors.Upstream("Failed to change password", err)
	}
	if err := s.auth.SignOut(ctx, accessToken); err != nil {
		s.logger.WithContext(ctx).WithError(err).Warn("sign out after password change")
	}
	return nil
}
