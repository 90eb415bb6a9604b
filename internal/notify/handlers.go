package notify

import (
	"net/http"

	"github.com/gorilla/mux"
)

// Authenticator supplies the auth middleware for the socket route.
type Authenticator interface {
	Require(next http.Handler) http.Handler
}

// RegisterRoutes mounts the socket endpoint on r.
func (h *Hub) RegisterRoutes(r *mux.Router, auth Authenticator) {
	r.Handle("/api/ws", auth.Require(h)).Methods(http.MethodGet)
}
