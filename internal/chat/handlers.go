package chat

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/tidwall/gjson"

	"github.com/nysa-labs/nysa-gateway/internal/database"
	"github.com/nysa-labs/nysa-gateway/internal/httputil"
	"github.com/nysa-labs/nysa-gateway/internal/llm"
)

const invalidMessages = "Invalid request. Messages array is required."

// Authenticator supplies the auth middlewares used by the chat routes.
type Authenticator interface {
	Require(next http.Handler) http.Handler
	Bypass(next http.Handler) http.Handler
}

// RegisterRoutes mounts the chat API on r.
func (s *Service) RegisterRoutes(r *mux.Router, auth Authenticator) {
	r.Handle("/api/chat", auth.Bypass(http.HandlerFunc(s.handleChat))).Methods(http.MethodPost)

	sessions := r.PathPrefix("/api/chat/sessions").Subrouter()
	sessions.Use(auth.Require)
	sessions.HandleFunc("", s.handleListSessions).Methods(http.MethodGet)
	sessions.HandleFunc("", s.handleCreateSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}", s.handleGetSession).Methods(http.MethodGet)
	sessions.HandleFunc("/{id}", s.handleSaveSession).Methods(http.MethodPut)
	sessions.HandleFunc("/{id}", s.handleDeleteSession).Methods(http.MethodDelete)
	sessions.HandleFunc("/{id}/clear", s.handleClearSession).Methods(http.MethodPost)
	sessions.HandleFunc("/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
}

// =============================================================================
// HTTP Handlers
// =============================================================================

// handleChat runs a gated completion over the posted conversation.
func (s *Service) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}

	hold, err := s.reserve(r.Context(), userID, "")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	release := func() {
		if hold != nil {
			s.ledger.Release(hold.ID)
		}
	}

	messages, ok := decodeMessages(w, r)
	if !ok {
		release()
		return
	}

	result, err := s.complete(r.Context(), userID, hold, messages)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if !result.Credits.Success {
		s.logger.WithContext(r.Context()).WithField("error", result.Credits.Error).Warn("returning reply without deduction")
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

// decodeMessages reads {"messages": [...]}. It writes a 400 and returns false
// when the array is missing or malformed.
func decodeMessages(w http.ResponseWriter, r *http.Request) ([]llm.Message, bool) {
	if r.Body == nil {
		httputil.BadRequest(w, invalidMessages)
		return nil, false
	}
	body, err := httputil.ReadAllStrict(r.Body, httputil.DefaultMaxBodyBytes)
	if err != nil {
		httputil.BadRequest(w, "request body too large")
		return nil, false
	}
	if !gjson.ValidBytes(body) {
		httputil.BadRequest(w, "invalid JSON body")
		return nil, false
	}
	raw := gjson.GetBytes(body, "messages")
	if !raw.IsArray() {
		httputil.BadRequest(w, invalidMessages)
		return nil, false
	}

	var messages []llm.Message
	if err := json.Unmarshal([]byte(raw.Raw), &messages); err != nil {
		httputil.BadRequest(w, invalidMessages)
		return nil, false
	}
	for _, m := range messages {
		if !llm.ValidRole(m.Role) {
			httputil.BadRequest(w, "Invalid message role: "+m.Role)
			return nil, false
		}
	}
	return messages, true
}

func (s *Service) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	sessions, err := s.ListSessions(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, sessions)
}

func (s *Service) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	session, err := s.CreateSession(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (s *Service) handleGetSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	session, err := s.GetSession(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (s *Service) handleSaveSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input database.ChatSession
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	input.ID = mux.Vars(r)["id"]

	session, err := s.SaveSession(r.Context(), userID, &input)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (s *Service) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := s.DeleteSession(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleClearSession(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	session, err := s.ClearSession(r.Context(), userID, mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

type sendMessageInput struct {
	Content string `json:"content"`
}

func (s *Service) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var input sendMessageInput
	if !httputil.DecodeJSON(w, r, &input) {
		return
	}
	result, err := s.SendMessage(r.Context(), userID, mux.Vars(r)["id"], input.Content)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}
