package credits

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

type headerAuth struct{}

func (headerAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Test-User")
		if user == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), user)))
	})
}

func get(t *testing.T, h http.Handler, path string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Test-User", "user-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestBalanceRoute(t *testing.T) {
	l, _, _ := newTestLedger(t, 25)
	_, err := l.Reserve(context.Background(), "user-1", 10, "")
	require.NoError(t, err)

	r := mux.NewRouter()
	l.RegisterRoutes(r, headerAuth{})

	rr, body := get(t, r, "/api/credits")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(25), body["credits"])
	assert.Equal(t, float64(10), body["held"])
	assert.Equal(t, float64(15), body["available"])
	assert.Equal(t, float64(DefaultMessageCost), body["messageCost"])
	assert.Equal(t, float64(DefaultPerToken), body["creditsPerToken"])
}

func TestHistoryRoute(t *testing.T) {
	l, _, _ := newTestLedger(t, 50)
	ctx := context.Background()
	_, err := l.Deduct(ctx, "user-1", 10, "a")
	require.NoError(t, err)
	_, err = l.Deduct(ctx, "user-1", 10, "b")
	require.NoError(t, err)

	r := mux.NewRouter()
	l.RegisterRoutes(r, headerAuth{})

	rr, body := get(t, r, "/api/credits/history?limit=1")
	require.Equal(t, http.StatusOK, rr.Code)
	history, ok := body["history"].([]interface{})
	require.True(t, ok)
	assert.Len(t, history, 1)

	rr, _ = get(t, r, "/api/credits/history?limit=zero")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCreditRoutesRequireAuth(t *testing.T) {
	l, _, _ := newTestLedger(t, 5)
	r := mux.NewRouter()
	l.RegisterRoutes(r, headerAuth{})

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/credits", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}
