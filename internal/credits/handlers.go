package credits

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/httputil"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// Authenticator supplies the auth middleware for the credit routes.
type Authenticator interface {
	Require(next http.Handler) http.Handler
}

// Summary is the balance view returned to clients.
type Summary struct {
	Credits         float64 `json:"credits"`
	Held            float64 `json:"held"`
	Available       float64 `json:"available"`
	MessageCost     float64 `json:"messageCost"`
	CreditsPerToken float64 `json:"creditsPerToken"`
}

// RegisterRoutes mounts the credit API on r.
func (l *Ledger) RegisterRoutes(r *mux.Router, auth Authenticator) {
	c := r.PathPrefix("/api/credits").Subrouter()
	c.Use(auth.Require)
	c.HandleFunc("", l.handleBalance).Methods(http.MethodGet)
	c.HandleFunc("/history", l.handleHistory).Methods(http.MethodGet)
}

func (l *Ledger) handleBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	bal, err := l.Check(r.Context(), userID, l.cfg.MessageCost)
	if err != nil {
		httputil.WriteError(w, r, svcerrors.Internal("Failed to fetch credits", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, Summary{
		Credits:         bal.Credits,
		Held:            bal.Held,
		Available:       bal.Available,
		MessageCost:     l.cfg.MessageCost,
		CreditsPerToken: l.cfg.PerToken,
	})
}

func (l *Ledger) handleHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.BadRequest(w, "limit must be a positive integer")
			return
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}
	logs, err := l.History(r.Context(), userID, limit)
	if err != nil {
		httputil.WriteError(w, r, svcerrors.Internal("Failed to fetch credit history", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"history": logs})
}
