package wallet

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/nysa-labs/nysa-gateway/internal/httputil"
)

// Authenticator supplies the auth middlewares used by the wallet routes.
type Authenticator interface {
	Require(next http.Handler) http.Handler
	Bypass(next http.Handler) http.Handler
}

// RegisterRoutes mounts the wallet API on r.
func (s *Service) RegisterRoutes(r *mux.Router, auth Authenticator) {
	r.Handle("/api/convert-credits", auth.Bypass(http.HandlerFunc(s.handleConvertCredits))).Methods(http.MethodPost)

	w := r.PathPrefix("/api/wallet").Subrouter()
	w.Use(auth.Require)
	w.HandleFunc("", s.handleGetWallet).Methods(http.MethodGet)
	w.HandleFunc("", s.handleCreateWallet).Methods(http.MethodPost)
	w.HandleFunc("/private-key", s.handleExportKey).Methods(http.MethodGet)
	w.HandleFunc("/balances", s.handleBalances).Methods(http.MethodGet)
	w.HandleFunc("/airdrop", s.handleAirdrop).Methods(http.MethodPost)
	w.HandleFunc("/transfer", s.handleTransfer).Methods(http.MethodPost)
}

// =============================================================================
// HTTP Handlers
// =============================================================================

func (s *Service) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	info, err := s.GetWallet(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, info)
}

func (s *Service) handleCreateWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	created, err := s.CreateWallet(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Service) handleExportKey(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	key, err := s.ExportPrivateKey(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"privateKey": key})
}

func (s *Service) handleBalances(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	b, err := s.Balances(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, b)
}

func (s *Service) handleAirdrop(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	sig, err := s.Airdrop(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "signature": sig})
}

type transferInput struct {
	To     string  `json:"to"`
	Amount float64 `json:"amount"`
}

func (s *Service) handleTransfer(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input transferInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	sig, err := s.Transfer(r.Context(), userID, input.To, input.Amount)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "signature": sig})
}

// handleConvertCredits burns NYSA tokens for credits. amount may be sent as a
// number or a numeric string.
func (s *Service) handleConvertCredits(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if r.Body == nil {
		httputil.BadRequest(w, "request body required")
		return
	}
	body, err := httputil.ReadAllStrict(r.Body, httputil.DefaultMaxBodyBytes)
	if err != nil {
		httputil.BadRequest(w, "request body too large")
		return
	}
	if !gjson.ValidBytes(body) {
		httputil.BadRequest(w, "invalid JSON body")
		return
	}
	parsed := gjson.ParseBytes(body)

	amount, ok := parseAmount(parsed.Get("amount"))
	if !ok {
		httputil.BadRequest(w, "Invalid amount specified")
		return
	}

	result, err := s.ConvertCredits(r.Context(), userID, ConvertRequest{
		Amount:        amount,
		WalletAddress: parsed.Get("walletAddress").String(),
		PrivateKey:    parsed.Get("privateKey").String(),
	})
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func parseAmount(v gjson.Result) (float64, bool) {
	var amount float64
	switch v.Type {
	case gjson.Number:
		amount = v.Float()
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil {
			return 0, false
		}
		amount = f
	default:
		return 0, false
	}
	return amount, amount > 0
}
