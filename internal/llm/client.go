// Package llm wraps the hosted chat-completion API.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/nysa-labs/nysa-gateway/internal/logging"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Defaults for the completion request.
const (
	DefaultModel       = openai.GPT3Dot5Turbo
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 800
	DefaultTimeout     = 60 * time.Second
)

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("llm: API key not configured")

// Message is one chat turn sent to the model.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Reply is the assistant message returned by a completion.
type Reply struct {
	Role         string `json:"role"`
	Content      string `json:"content"`
	Model        string `json:"-"`
	FinishReason string `json:"-"`
	TotalTokens  int    `json:"-"`
}

// Completer produces the next assistant message for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (*Reply, error)
}

// Recorder receives completion metrics.
type Recorder interface {
	RecordLLMRequest(model string, err error, duration time.Duration)
}

// Config configures the OpenAI client.
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Client is the OpenAI-backed Completer.
type Client struct {
	api         *openai.Client
	configured  bool
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	logger      *logging.Logger
	recorder    Recorder
}

// NewClient creates a client. A missing API key yields a client whose calls
// fail with ErrNotConfigured.
func NewClient(cfg Config, logger *logging.Logger, recorder Recorder) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	apiCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		apiCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		apiCfg.HTTPClient = cfg.HTTPClient
	}

	return &Client{
		api:         openai.NewClientWithConfig(apiCfg),
		configured:  cfg.APIKey != "",
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		logger:      logger,
		recorder:    recorder,
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.model }

// Complete sends messages and returns the first choice.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Reply, error) {
	if !c.configured {
		return nil, ErrNotConfigured
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: c.temperature,
		MaxTokens:   c.maxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err == nil && len(resp.Choices) == 0 {
		err = errors.New("llm: response has no choices")
	}
	if c.recorder != nil {
		c.recorder.RecordLLMRequest(c.model, err, time.Since(start))
	}
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("model", c.model).Error("chat completion failed")
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	choice := resp.Choices[0]
	c.logger.WithContext(ctx).WithField("model", resp.Model).
		WithField("total_tokens", resp.Usage.TotalTokens).
		Debug("chat completion")

	return &Reply{
		Role:         choice.Message.Role,
		Content:      choice.Message.Content,
		Model:        resp.Model,
		FinishReason: string(choice.FinishReason),
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

// ValidRole reports whether role can be sent to the model.
func ValidRole(role string) bool {
	switch role {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

var _ Completer = (*Client)(nil)
