// Package anthropic implements the session runtime against the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
)

// Runtime mints execution sessions and relays prompts to Claude with the
// session template's system prompt and model.
type Runtime struct {
	client       anthropic.Client
	defaultModel string
	logger       *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	templateID   string
	model        string
	systemPrompt string
}

// NewRuntime creates an Anthropic-backed session runtime. Extra request
// options are appended after the API key, so tests can point the client
// at a local server.
func NewRuntime(apiKey, defaultModel string, logger *zap.Logger, opts ...option.RequestOption) *Runtime {
	return &Runtime{
		client:       anthropic.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
		defaultModel: defaultModel,
		logger:       logger,
		sessions:     make(map[string]*session),
	}
}

// StartSession creates an execution session for a worker spawned from tpl.
func (r *Runtime) StartSession(ctx context.Context, tpl *domain.Template) (string, error) {
	if tpl == nil {
		return "", fmt.Errorf("template is required")
	}

	model := tpl.Model
	if model == "" {
		model = r.defaultModel
	}

	id := uuid.New().String()

	r.mu.Lock()
	r.sessions[id] = &session{
		templateID:   tpl.ID,
		model:        model,
		systemPrompt: tpl.SystemPrompt,
	}
	r.mu.Unlock()

	r.logger.Info("runtime session started",
		zap.String("session_id", id),
		zap.String("template_id", tpl.ID),
		zap.String("model", model))

	return id, nil
}

// EndSession discards a session. Unknown sessions are ignored.
func (r *Runtime) EndSession(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	delete(r.sessions, sessionID)
	r.mu.Unlock()

	r.logger.Info("runtime session ended", zap.String("session_id", sessionID))
	return nil
}

// Prompt sends a user message within a session and returns the model's
// text response together with the tokens consumed.
func (r *Runtime) Prompt(ctx context.Context, sessionID, text string) (string, int64, error) {
	r.mu.RLock()
	s, ok := r.sessions[sessionID]
	r.mu.RUnlock()
	if !ok {
		return "", 0, domain.Errorf(domain.ErrNotFound, "session not found: %s", sessionID)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(s.model),
		MaxTokens: 4096,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(text)),
		},
	}
	if s.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{Text: s.systemPrompt},
		}
	}

	msg, err := r.client.Messages.New(ctx, params)
	if err != nil {
		return "", 0, fmt.Errorf("messages API call failed: %w", err)
	}

	var out string
	for _, block := range msg.Content {
		if block.Type == "text" {
			out += block.Text
		}
	}

	tokens := msg.Usage.InputTokens + msg.Usage.OutputTokens

	r.logger.Debug("prompt completed",
		zap.String("session_id", sessionID),
		zap.String("model", s.model),
		zap.Int64("tokens", tokens))

	return out, tokens, nil
}
