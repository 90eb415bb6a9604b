package profile

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
)

const testSecret = "profile-test-secret"

func signedToken(t *testing.T, sub, email string) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"role":  "authenticated",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func newRouter(svc *Service) *mux.Router {
	auth := middleware.NewAuthMiddleware(middleware.AuthConfig{JWTSecret: testSecret}, logging.NewDiscard())
	r := mux.NewRouter()
	svc.RegisterRoutes(r, auth)
	return r
}

func serve(t *testing.T, h http.Handler, req *http.Request, token string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestProfileRoutesRequireAuth(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	rr, _ := serve(t, newRouter(svc), httptest.NewRequest(http.MethodGet, "/api/profile", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGetAndPatchProfile(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	r := newRouter(svc)
	token := signedToken(t, "user-1", "ada@example.com")

	rr, body := serve(t, r, httptest.NewRequest(http.MethodGet, "/api/profile", nil), token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ada", body["username"])

	req := httptest.NewRequest(http.MethodPatch, "/api/profile", bytes.NewBufferString(`{"username":"bob"}`))
	rr, body = serve(t, r, req, token)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "Username is already taken", body["error"])

	req = httptest.NewRequest(http.MethodPatch, "/api/profile", bytes.NewBufferString(`{"full_name":"Ada L"}`))
	rr, body = serve(t, r, req, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Ada L", body["full_name"])
}

func TestAvatarUploadRoute(t *testing.T) {
	svc, _, _, bucket := newTestService(t)
	r := newRouter(svc)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("avatar", "me.png")
	require.NoError(t, err)
	_, err = part.Write(pngBytes(t))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/profile/avatar", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr, body := serve(t, r, req, signedToken(t, "user-1", "ada@example.com"))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, bucket.objects, 1)
	assert.Contains(t, body["avatar_url"], "avatars/user-1/")
}

func TestPasswordRouteClearsCookies(t *testing.T) {
	svc, _, auth, _ := newTestService(t)
	r := newRouter(svc)
	token := signedToken(t, "user-1", "ada@example.com")

	req := httptest.NewRequest(http.MethodPost, "/api/profile/password",
		bytes.NewBufferString(`{"currentPassword":"old-password","newPassword":"new-password","confirmPassword":"new-password"}`))
	rr, body := serve(t, r, req, token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "new-password", auth.updated)
	assert.Equal(t, []string{token}, auth.signedOut)

	cleared := map[string]bool{}
	for _, c := range rr.Result().Cookies() {
		if c.MaxAge < 0 {
			cleared[c.Name] = true
		}
	}
	assert.True(t, cleared[middleware.AccessTokenCookie])
	assert.True(t, cleared[middleware.RefreshTokenCookie])
}

func TestPasswordRouteFallsBackToProfileEmail(t *testing.T) {
	svc, _, auth, _ := newTestService(t)
	r := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/profile/password",
		bytes.NewBufferString(`{"currentPassword":"old-password","newPassword":"new-password","confirmPassword":"new-password"}`))
	rr, _ := serve(t, r, req, signedToken(t, "user-1", ""))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 1, auth.signInCall)
}
