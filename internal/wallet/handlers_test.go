package wallet

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/solana"
)

type headerAuth struct{}

func (headerAuth) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := r.Header.Get("X-Test-User")
		if user == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(logging.WithUserID(r.Context(), user)))
	})
}

func (a headerAuth) Require(next http.Handler) http.Handler { return a.wrap(next) }
func (a headerAuth) Bypass(next http.Handler) http.Handler  { return a.wrap(next) }

func request(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	req.Header.Set("X-Test-User", "user-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	var out map[string]interface{}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	}
	return rr, out
}

func TestWalletRoutes(t *testing.T) {
	f := newWalletFixture(t)
	r := mux.NewRouter()
	f.svc.RegisterRoutes(r, headerAuth{})

	rr, created := request(t, r, http.MethodPost, "/api/wallet", "")
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.Equal(t, "no-store", rr.Header().Get("Cache-Control"))
	assert.NotEmpty(t, created["privateKey"])

	rr, info := request(t, r, http.MethodGet, "/api/wallet", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created["publicKey"], info["publicKey"])
	assert.Equal(t, true, info["hasWallet"])

	rr, _ = request(t, r, http.MethodPost, "/api/wallet", "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr, key := request(t, r, http.MethodGet, "/api/wallet/private-key", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created["privateKey"], key["privateKey"])

	rr, _ = request(t, r, http.MethodGet, "/api/wallet/balances", "")
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestConvertCreditsHandler(t *testing.T) {
	f := newWalletFixture(t)
	r := mux.NewRouter()
	f.svc.RegisterRoutes(r, headerAuth{})
	kp, _ := solana.NewKeypair()
	f.mainnet.tokenAccounts = []solana.TokenAccount{tokenAccount(t, 10_000_000)}

	body, _ := json.Marshal(map[string]interface{}{
		"amount":        "3",
		"walletAddress": kp.PublicKey().String(),
		"privateKey":    kp.SecretBase58(),
	})
	rr, out := request(t, r, http.MethodPost, "/api/convert-credits", string(body))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, true, out["success"])
	assert.Equal(t, "tx-sig", out["txHash"])
	assert.Equal(t, 3.0, out["tokensConverted"])
	assert.Equal(t, 30.0, out["creditsAdded"])
	assert.Equal(t, 35.0, out["newCreditBalance"])
}

func TestConvertCreditsHandlerInvalidAmount(t *testing.T) {
	f := newWalletFixture(t)
	r := mux.NewRouter()
	f.svc.RegisterRoutes(r, headerAuth{})

	for _, body := range []string{`{}`, `{"amount":-1}`, `{"amount":"abc"}`, `{"amount":true}`, `{"amount":0}`} {
		rr, out := request(t, r, http.MethodPost, "/api/convert-credits", body)
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
		assert.Equal(t, "Invalid amount specified", out["error"], body)
	}
}

func TestParseAmount(t *testing.T) {
	assert.Equal(t, 10.0, mustAmount(t, `{"amount":10}`))
	assert.Equal(t, 2.5, mustAmount(t, `{"amount":" 2.5 "}`))
}

func mustAmount(t *testing.T, body string) float64 {
	t.Helper()
	v, ok := parseAmount(gjson.Get(body, "amount"))
	require.True(t, ok, body)
	return v
}
