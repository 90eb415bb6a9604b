package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
)

// headerAuth trusts X-Test-User. Bypass falls back to the dev user.
type headerAuth struct{ skip bool }

func (a headerAuth) wrap(next http.Handler, allowDev bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Test-User")
		if user == "" && allowDev {
			user = middleware.DevUserID
		}
		if user == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), user)))
	})
}

func (a headerAuth) Require(next http.Handler) http.Handler { return a.wrap(next, false) }
func (a headerAuth) Bypass(next http.Handler) http.Handler  { return a.wrap(next, a.skip) }

func newRouter(f *fixture, skip bool) *mux.Router {
	r := mux.NewRouter()
	f.svc.RegisterRoutes(r, headerAuth{skip: skip})
	return r
}

func do(t *testing.T, h http.Handler, method, path, user, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	if user != "" {
		req.Header.Set("X-Test-User", user)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var out map[string]interface{}
	if rr.Body.Len() > 0 && rr.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestHandleChat(t *testing.T) {
	f := newFixture(t, 25)
	r := newRouter(f, false)

	rr, out := do(t, r, http.MethodPost, "/api/chat", "user-1", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	msg := out["message"].(map[string]interface{})
	assert.Equal(t, "assistant", msg["role"])
	assert.Equal(t, "Hi! How can I help?", msg["content"])

	cr := out["credits"].(map[string]interface{})
	assert.Equal(t, float64(10), cr["deducted"])
	assert.Equal(t, float64(15), cr["remaining"])
	assert.Equal(t, true, cr["deductionSuccessful"])
}

func TestHandleChatUnauthenticated(t *testing.T) {
	f := newFixture(t, 25)
	rr, _ := do(t, newRouter(f, false), http.MethodPost, "/api/chat", "", `{"messages":[]}`)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestHandleChatBypassUsesDevUser(t *testing.T) {
	f := newFixture(t, 0)
	rr, out := do(t, newRouter(f, true), http.MethodPost, "/api/chat", "", `{"messages":[{"role":"user","content":"hi"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)
	cr := out["credits"].(map[string]interface{})
	assert.Equal(t, float64(0), cr["deducted"])
	assert.Equal(t, true, cr["deductionSuccessful"])
}

func TestHandleChatInsufficientCredits(t *testing.T) {
	f := newFixture(t, 4)
	rr, out := do(t, newRouter(f, false), http.MethodPost, "/api/chat", "user-1", `{"messages":[]}`)
	require.Equal(t, http.StatusPaymentRequired, rr.Code)
	assert.Equal(t, "Insufficient credits. You need 10 credits to send a message, but you only have 4 credits.", out["error"])
	assert.Equal(t, float64(4), out["credits"])
	assert.Equal(t, float64(10), out["requiredCredits"])
}

func TestHandleChatInvalidMessages(t *testing.T) {
	f := newFixture(t, 25)
	r := newRouter(f, false)

	for _, body := range []string{`{}`, `{"messages":"hi"}`, `{"messages":null}`, `{"messages":[42]}`} {
		rr, _ := do(t, r, http.MethodPost, "/api/chat", "user-1", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.JSONEq(t, `{"error":"Invalid request. Messages array is required."}`, rr.Body.String(), body)
	}
	assert.Equal(t, 0, f.ledger.ActiveHolds())

	balance, _ := f.repo.GetCredits(context.Background(), "user-1")
	assert.Equal(t, float64(25), balance)
}

func TestHandleChatUpstreamFailure(t *testing.T) {
	f := newFixture(t, 25)
	f.llm.err = assert.AnError
	rr, out := do(t, newRouter(f, false), http.MethodPost, "/api/chat", "user-1", `{"messages":[{"role":"user","content":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, assert.AnError.Error(), out["error"])
}

func TestSessionRoutes(t *testing.T) {
	f := newFixture(t, 25)
	r := newRouter(f, false)

	rr, created := do(t, r, http.MethodPost, "/api/chat/sessions", "user-1", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	id := created["id"].(string)

	rr, sent := do(t, r, http.MethodPost, "/api/chat/sessions/"+id+"/messages", "user-1", `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hello", sent["session"].(map[string]interface{})["title"])

	rr, _ = do(t, r, http.MethodGet, "/api/chat/sessions/"+id, "user-2", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr, _ = do(t, r, http.MethodPut, "/api/chat/sessions/"+id, "user-1", `{"title":"Renamed","messages":[{"role":"system","content":"x"}]}`)
	require.Equal(t, http.StatusOK, rr.Code)

	rr, got := do(t, r, http.MethodGet, "/api/chat/sessions/"+id, "user-1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Renamed", got["title"])

	rr, _ = do(t, r, http.MethodDelete, "/api/chat/sessions/"+id, "user-1", "")
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr, _ = do(t, r, http.MethodGet, "/api/chat/sessions", "", "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
