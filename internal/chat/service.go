// Package chat serves credit-gated completions and stored conversations.
package chat

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/nysa-labs/nysa-gateway/internal/credits"
	"github.com/nysa-labs/nysa-gateway/internal/database"
	svcerrors "github.com/nysa-labs/nysa-gateway/internal/errors"
	"github.com/nysa-labs/nysa-gateway/internal/llm"
	"github.com/nysa-labs/nysa-gateway/internal/logging"
	"github.com/nysa-labs/nysa-gateway/internal/middleware"
)

const (
	// DefaultTitle names a conversation until its first user message.
	DefaultTitle = "New Conversation"
	// FallbackReply replaces an empty assistant reply.
	FallbackReply = "Sorry, I encountered an error."

	titleLength = 30
)

// SystemPrompt seeds every conversation.
const SystemPrompt = "You are Nysa, a friendly and helpful AI assistant. Always respond in a kind, helpful manner. " +
	"Keep responses concise but informative. If you don't know something, be honest about it. " +
	"Your primary goal is to assist the user with any questions or tasks they have."

// SystemMessage returns the seed message.
func SystemMessage() database.ChatMessage {
	return database.ChatMessage{Role: llm.RoleSystem, Content: SystemPrompt}
}

// Ledger is the credit surface used by the chat service.
type Ledger interface {
	MessageCost() float64
	Reserve(ctx context.Context, userID string, cost float64, reference string) (*credits.Hold, error)
	Release(holdID string)
	Consume(ctx context.Context, holdID string) (*credits.Deduction, error)
}

// Config configures the chat Service.
type Config struct {
	Repo   database.Repository
	Ledger Ledger
	LLM    llm.Completer
	Logger *logging.Logger
	// EnforceCredits gates completions on the user's balance.
	EnforceCredits bool
}

// Service implements chat completions and session management.
type Service struct {
	repo    database.Repository
	ledger  Ledger
	llm     llm.Completer
	logger  *logging.Logger
	enforce bool
	now     func() time.Time
}

// New creates a chat service.
func New(cfg Config) *Service {
	return &Service{
		repo:    cfg.Repo,
		ledger:  cfg.Ledger,
		llm:     cfg.LLM,
		logger:  cfg.Logger,
		enforce: cfg.EnforceCredits,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CompletionResult is a gated completion and its charge.
type CompletionResult struct {
	Message llm.Reply         `json:"message"`
	Credits credits.Deduction `json:"credits"`
}

// =============================================================================
// Gated completion
// =============================================================================

func (s *Service) charged(userID string) bool {
	return s.enforce && userID != middleware.DevUserID
}

// reserve places the message hold for userID. It returns a nil hold when the
// user is not charged.
func (s *Service) reserve(ctx context.Context, userID, reference string) (*credits.Hold, error) {
	if !s.charged(userID) {
		return nil, nil
	}
	cost := s.ledger.MessageCost()
	hold, err := s.ledger.Reserve(ctx, userID, cost, reference)
	if err == nil {
		return hold, nil
	}
	var shortfall *credits.ShortfallError
	if stderrors.As(err, &shortfall) {
		s.logger.WithContext(ctx).WithField("credits", shortfall.Credits).
			WithField("required", shortfall.Required).Warn("insufficient credits")
		return nil, svcerrors.PaymentRequired(shortfall.Error(), shortfall.Credits, shortfall.Required)
	}
	s.logger.WithContext(ctx).WithError(err).Error("check credits")
	return nil, svcerrors.BadRequest("Error checking credits: " + err.Error())
}

// complete calls the model under hold and settles it. A failed deduction
// after a successful completion is reported in the result, never as an error.
func (s *Service) complete(ctx context.Context, userID string, hold *credits.Hold, messages []llm.Message) (*CompletionResult, error) {
	reply, err := s.llm.Complete(ctx, messages)
	if err != nil {
		if hold != nil {
			s.ledger.Release(hold.ID)
		}
		return nil, svcerrors.Internal(completionErrorMessage(err), err)
	}

	result := &CompletionResult{
		Message: *reply,
		Credits: credits.Deduction{Success: true},
	}
	if hold == nil {
		return result, nil
	}

	deduction, err := s.ledger.Consume(ctx, hold.ID)
	if err != nil {
		s.logger.WithContext(ctx).WithError(err).Error("deduct credits after completion")
	}
	if deduction != nil {
		result.Credits = *deduction
	}
	return result, nil
}

func completionErrorMessage(err error) string {
	if stderrors.Is(err, llm.ErrNotConfigured) {
		return "The chat service is not configured"
	}
	if msg := err.Error(); msg != "" {
		return msg
	}
	return "An error occurred during the API call"
}

// Complete runs a gated completion of messages for userID.
func (s *Service) Complete(ctx context.Context, userID string, messages []llm.Message) (*CompletionResult, error) {
	hold, err := s.reserve(ctx, userID, "")
	if err != nil {
		return nil, err
	}
	return s.complete(ctx, userID, hold, messages)
}

// =============================================================================
// Sessions
// =============================================================================

// ListSessions returns userID's conversations, newest first.
func (s *Service) ListSessions(ctx context.Context, userID string) ([]database.ChatSession, error) {
	sessions, err := s.repo.ListChatSessions(ctx, userID)
	if err != nil {
		return nil, svcerrors.Internal("Error loading chat sessions", err)
	}
	return sessions, nil
}

// CreateSession starts a conversation seeded with the system prompt.
func (s *Service) CreateSession(ctx context.Context, userID string) (*database.ChatSession, error) {
	now := s.now()
	session := &database.ChatSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     DefaultTitle,
		Messages:  database.Messages{SystemMessage()},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.UpsertChatSession(ctx, session); err != nil {
		return nil, svcerrors.Internal("Failed to save chat session", err)
	}
	return session, nil
}

// GetSession returns one of userID's conversations.
func (s *Service) GetSession(ctx context.Context, userID, sessionID string) (*database.ChatSession, error) {
	session, err := s.repo.GetChatSession(ctx, userID, sessionID)
	if err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, svcerrors.NotFound("Chat session", sessionID)
		}
		return nil, svcerrors.Internal("Failed to load chat session", err)
	}
	return session, nil
}

// SaveSession stores a client-edited conversation. Title and messages are
// taken from session; ownership and creation time are kept.
func (s *Service) SaveSession(ctx context.Context, userID string, session *database.ChatSession) (*database.ChatSession, error) {
	if session.ID == "" {
		return nil, svcerrors.BadRequest("session id is required")
	}
	for _, m := range session.Messages {
		if !llm.ValidRole(m.Role) {
			return nil, svcerrors.BadRequest(fmt.Sprintf("invalid message role %q", m.Role))
		}
	}

	now := s.now()
	session.UserID = userID
	if session.Title == "" {
		session.Title = DefaultTitle
	}
	if session.Messages == nil {
		session.Messages = database.Messages{}
	}
	existing, err := s.repo.GetChatSession(ctx, userID, session.ID)
	switch {
	case err == nil:
		session.CreatedAt = existing.CreatedAt
	case stderrors.Is(err, database.ErrNotFound):
		if session.CreatedAt.IsZero() {
			session.CreatedAt = now
		}
	default:
		return nil, svcerrors.Internal("Failed to save chat session", err)
	}
	session.UpdatedAt = now

	if err := s.repo.UpsertChatSession(ctx, session); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return nil, svcerrors.NotFound("Chat session", session.ID)
		}
		return nil, svcerrors.Internal("Failed to save chat session", err)
	}
	return session, nil
}

// DeleteSession removes one of userID's conversations.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID string) error {
	if err := s.repo.DeleteChatSession(ctx, userID, sessionID); err != nil {
		if stderrors.Is(err, database.ErrNotFound) {
			return svcerrors.NotFound("Chat session", sessionID)
		}
		return svcerrors.Internal("Failed to delete chat session", err)
	}
	return nil
}

// ClearSession resets a conversation to the system prompt.
func (s *Service) ClearSession(ctx context.Context, userID, sessionID string) (*database.ChatSession, error) {
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	session.Messages = database.Messages{SystemMessage()}
	session.UpdatedAt = s.now()
	if err := s.repo.UpsertChatSession(ctx, session); err != nil {
		return nil, svcerrors.Internal("Failed to save chat session", err)
	}
	return session, nil
}

// SendResult is the outcome of SendMessage.
type SendResult struct {
	Session *database.ChatSession `json:"session"`
	Message database.ChatMessage  `json:"message"`
	Credits credits.Deduction     `json:"credits"`
}

// SendMessage appends content to a conversation, runs a gated completion
// over the whole history and stores both turns. Nothing is stored when the
// completion fails.
func (s *Service) SendMessage(ctx context.Context, userID, sessionID, content string) (*SendResult, error) {
	if strings.TrimSpace(content) == "" {
		return nil, svcerrors.BadRequest("message content is required")
	}
	session, err := s.GetSession(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	hold, err := s.reserve(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	sent := s.now()
	session.Messages = append(session.Messages, database.ChatMessage{
		Role:      llm.RoleUser,
		Content:   content,
		Timestamp: &sent,
	})

	history := make([]llm.Message, 0, len(session.Messages))
	for _, m := range session.Messages {
		history = append(history, llm.Message{Role: m.Role, Content: m.Content})
	}

	result, err := s.complete(ctx, userID, hold, history)
	if err != nil {
		return nil, err
	}

	reply := result.Message.Content
	if reply == "" {
		reply = FallbackReply
	}
	replied := s.now()
	assistant := database.ChatMessage{Role: llm.RoleAssistant, Content: reply, Timestamp: &replied}

	// First exchange names the conversation.
	if len(session.Messages) <= 2 {
		session.Title = Title(content)
	}
	session.Messages = append(session.Messages, assistant)
	session.UpdatedAt = replied

	if err := s.repo.UpsertChatSession(ctx, session); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("session_id", sessionID).Error("save chat session")
	}

	return &SendResult{Session: session, Message: assistant, Credits: result.Credits}, nil
}

// Title derives a conversation title from its first user message.
func Title(content string) string {
	if utf8.RuneCountInString(content) <= titleLength {
		return content
	}
	return string([]rune(content)[:titleLength]) + "..."
}
