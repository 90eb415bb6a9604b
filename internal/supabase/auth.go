package supabase

import (
	"context"
	"fmt"
	"net/http"
)

// Auth returns the GoTrue client.
func (c *Client) Auth() *AuthClient {
	return &AuthClient{client: c}
}

// AuthClient wraps the GoTrue endpoints under /auth/v1.
type AuthClient struct {
	client *Client
}

// Session is a GoTrue token grant.
type Session struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         *User  `json:"user"`
}

// User is a GoTrue user record.
type User struct {
	ID               string         `json:"id"`
	Email            string         `json:"email"`
	Phone            string         `json:"phone"`
	Role             string         `json:"role"`
	Aud              string         `json:"aud"`
	EmailConfirmedAt string         `json:"email_confirmed_at"`
	CreatedAt        string         `json:"created_at"`
	UpdatedAt        string         `json:"updated_at"`
	AppMetadata      map[string]any `json:"app_metadata"`
	UserMetadata     map[string]any `json:"user_metadata"`
}

// UserAttributes are the fields UpdateUser may change.
type UserAttributes struct {
	Email    string         `json:"email,omitempty"`
	Password string         `json:"password,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

func (a *AuthClient) url(path string) string {
	return a.client.baseURL + "/auth/v1" + path
}

// SignUp registers a user. With email confirmation enabled the returned
// session has no tokens, only the user.
func (a *AuthClient) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error) {
	payload := map[string]any{"email": email, "password": password}
	if len(metadata) > 0 {
		payload["data"] = metadata
	}
	req, err := a.client.newRequest(ctx, http.MethodPost, a.url("/signup"), payload)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}

	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	if session.User == nil {
		// Confirmation flow answers with the bare user object.
		var user User
		if err := resp.JSON(&user); err == nil && user.ID != "" {
			session.User = &user
		}
	}
	return &session, nil
}

// SignIn exchanges email and password for a session.
func (a *AuthClient) SignIn(ctx context.Context, email, password string) (*Session, error) {
	return a.token(ctx, "password", map[string]string{"email": email, "password": password})
}

// Refresh exchanges a refresh token for a new session.
func (a *AuthClient) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	return a.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
}

func (a *AuthClient) token(ctx context.Context, grant string, payload map[string]string) (*Session, error) {
	req, err := a.client.newRequest(ctx, http.MethodPost, a.url("/token?grant_type="+grant), payload)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	var session Session
	if err := resp.JSON(&session); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetUser resolves an access token to its user.
func (a *AuthClient) GetUser(ctx context.Context, accessToken string) (*User, error) {
	req, err := a.client.WithToken(accessToken).newRequest(ctx, http.MethodGet, a.url("/user"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, err
	}
	if user.ID == "" {
		return nil, fmt.Errorf("supabase returned no user")
	}
	return &user, nil
}

// UpdateUser changes the signed-in user's attributes.
func (a *AuthClient) UpdateUser(ctx context.Context, accessToken string, attrs UserAttributes) (*User, error) {
	req, err := a.client.WithToken(accessToken).newRequest(ctx, http.MethodPut, a.url("/user"), attrs)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.do(req)
	if err != nil {
		return nil, err
	}
	var user User
	if err := resp.JSON(&user); err != nil {
		return nil, err
	}
	return &user, nil
}

// SignOut revokes the session behind accessToken.
func (a *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	req, err := a.client.WithToken(accessToken).newRequest(ctx, http.MethodPost, a.url("/logout"), nil)
	if err != nil {
		return err
	}
	_, err = a.client.do(req)
	return err
}
