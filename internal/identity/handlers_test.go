package identity

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
	"github.com/nysa-labs/nysa-gateway/internal/supabase"
)

// fakeGoTrue answers the GoTrue endpoints for one known account.
type fakeGoTrue struct {
	t          *testing.T
	signedOut  []string
	signupData map[string]interface{}
	confirm    bool
}

func (f *fakeGoTrue) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var body map[string]interface{}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}
	expiresAt := time.Now().Add(time.Hour).Unix()
	session := func(access, refresh string) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  access,
			"refresh_token": refresh,
			"expires_in":    3600,
			"expires_at":    expiresAt,
			"user":          map[string]interface{}{"id": "user-1", "email": "ada@example.com", "role": "authenticated"},
		})
	}

	switch {
	case r.URL.Path == "/auth/v1/signup":
		f.signupData, _ = body["data"].(map[string]interface{})
		if body["email"] == "taken@example.com" {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"code":422,"msg":"User already registered"}`))
			return
		}
		if f.confirm {
			_, _ = w.Write([]byte(`{"id":"user-2","email":"new@example.com"}`))
			return
		}
		session("at-new", "rt-new")
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "password":
		if body["password"] != "correct-horse" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid login credentials"}`))
			return
		}
		session("at-1", "rt-1")
	case r.URL.Path == "/auth/v1/token" && r.URL.Query().Get("grant_type") == "refresh_token":
		if body["refresh_token"] != "rt-1" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid Refresh Token"}`))
			return
		}
		session("at-2", "rt-2")
	case r.URL.Path == "/auth/v1/logout":
		f.signedOut = append(f.signedOut, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		w.WriteHeader(http.StatusNoContent)
	default:
		f.t.Errorf("unexpected request %s %s", r.Method, r.URL)
		w.WriteHeader(http.StatusNotFound)
	}
}

type optionalAuth struct{}

func (optionalAuth) Public(next http.Handler) http.Handler { return next }

func (optionalAuth) Optional(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user := r.Header.Get("X-Test-User"); user != "" {
			r = r.WithContext(logging.WithUserID(r.Context(), user))
		}
		next.ServeHTTP(w, r)
	})
}

func newTestRouter(t *testing.T) (*mux.Router, *fakeGoTrue) {
	t.Helper()
	fake := &fakeGoTrue{t: t}
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	client, err := supabase.New(supabase.Config{URL: server.URL, APIKey: "anon-key"})
	require.NoError(t, err)

	svc := New(client.Auth(), logging.NewDiscard(), true)
	r := mux.NewRouter()
	svc.RegisterRoutes(r, optionalAuth{})
	return r, fake
}

func post(t *testing.T, h http.Handler, path, body string, cookies ...*http.Cookie) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func cookieMap(rr *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := map[string]*http.Cookie{}
	for _, c := range rr.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func TestLoginSetsCookies(t *testing.T) {
	r, _ := newTestRouter(t)

	rr, body := post(t, r, "/api/auth/login", `{"email":" Ada@Example.com ","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "at-1", body["access_token"])

	cookies := cookieMap(rr)
	require.Contains(t, cookies, middleware.AccessTokenCookie)
	require.Contains(t, cookies, middleware.RefreshTokenCookie)
	access := cookies[middleware.AccessTokenCookie]
	assert.Equal(t, "at-1", access.Value)
	assert.True(t, access.HttpOnly)
	assert.True(t, access.Secure)
	assert.Greater(t, access.MaxAge, 0)
}

func TestLoginRejected(t *testing.T) {
	r, _ := newTestRouter(t)

	rr, body := post(t, r, "/api/auth/login", `{"email":"ada@example.com","password":"nope"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid login credentials", body["error"])
	assert.Empty(t, rr.Result().Cookies())

	rr, body = post(t, r, "/api/auth/login", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Invalid email address", body["error"])
}

func TestRegister(t *testing.T) {
	r, fake := newTestRouter(t)

	rr, body := post(t, r, "/api/auth/register", `{"email":"ada@example.com","password":"correct-horse","fullName":"Ada"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "Ada", fake.signupData["full_name"])
	assert.Nil(t, body["confirmationRequired"])
	assert.Contains(t, cookieMap(rr), middleware.AccessTokenCookie)

	rr, body = post(t, r, "/api/auth/register", `{"email":"taken@example.com","password":"correct-horse"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "User already registered", body["error"])

	rr, body = post(t, r, "/api/auth/register", `{"email":"ada@example.com","password":"123"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "Password must be at least 6 characters", body["error"])
}

func TestRegisterNeedsConfirmation(t *testing.T) {
	r, fake := newTestRouter(t)
	fake.confirm = true

	rr, body := post(t, r, "/api/auth/register", `{"email":"new@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, true, body["confirmationRequired"])
	assert.Empty(t, rr.Result().Cookies())
}

func TestRefreshFromCookie(t *testing.T) {
	r, _ := newTestRouter(t)

	rr, body := post(t, r, "/api/auth/refresh", "", &http.Cookie{Name: middleware.RefreshTokenCookie, Value: "rt-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "at-2", body["access_token"])
	assert.Equal(t, "rt-2", cookieMap(rr)[middleware.RefreshTokenCookie].Value)

	rr, _ = post(t, r, "/api/auth/refresh", `{"refresh_token":"stale"}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Less(t, cookieMap(rr)[middleware.AccessTokenCookie].MaxAge, 0)

	rr, _ = post(t, r, "/api/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestLogout(t *testing.T) {
	r, fake := newTestRouter(t)

	rr, body := post(t, r, "/api/auth/logout", "", &http.Cookie{Name: middleware.AccessTokenCookie, Value: "at-1"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, []string{"at-1"}, fake.signedOut)

	cookies := cookieMap(rr)
	assert.Less(t, cookies[middleware.AccessTokenCookie].MaxAge, 0)
	assert.Less(t, cookies[middleware.RefreshTokenCookie].MaxAge, 0)
}

func TestSessionRoute(t *testing.T) {
	r, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/auth/session", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"authenticated":false}`, rr.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/session", nil)
	req.Header.Set("X-Test-User", "user-1")
	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"authenticated":true,"user":{"id":"user-1"}}`, rr.Body.String())
}
