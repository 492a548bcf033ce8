package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mvidal/crewd/internal/domain"
)

// messagesStub serves a canned Messages API response and captures the
// last request body.
type messagesStub struct {
	srv  *httptest.Server
	last map[string]interface{}
}

func newMessagesStub(t *testing.T, reply string, inputTokens, outputTokens int64) *messagesStub {
	t.Helper()

	stub := &messagesStub{}
	stub.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		stub.last = body

		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(map[string]interface{}{
			"id":          "msg_test",
			"type":        "message",
			"role":        "assistant",
			"model":       body["model"],
			"content":     []map[string]string{{"type": "text", "text": reply}},
			"stop_reason": "end_turn",
			"usage": map[string]int64{
				"input_tokens":  inputTokens,
				"output_tokens": outputTokens,
			},
		}))
	}))
	t.Cleanup(stub.srv.Close)
	return stub
}

func TestPromptRelaysSessionTemplate(t *testing.T) {
	stub := newMessagesStub(t, "use a recursive descent parser", 40, 25)
	rt := NewRuntime("test-key", "default-model", zap.NewNop(), option.WithBaseURL(stub.srv.URL))

	id, err := rt.StartSession(context.Background(), &domain.Template{
		ID:           "tpl-implementer",
		Model:        "claude-sonnet-4-20250514",
		SystemPrompt: "You implement work items.",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	reply, tokens, err := rt.Prompt(context.Background(), id, "how should the parser work?")
	require.NoError(t, err)
	assert.Equal(t, "use a recursive descent parser", reply)
	assert.Equal(t, int64(65), tokens)

	require.NotNil(t, stub.last)
	assert.Equal(t, "claude-sonnet-4-20250514", stub.last["model"])
	system, ok := stub.last["system"].([]interface{})
	require.True(t, ok)
	require.Len(t, system, 1)
}

func TestPromptUsesDefaultModel(t *testing.T) {
	stub := newMessagesStub(t, "ok", 1, 1)
	rt := NewRuntime("test-key", "default-model", zap.NewNop(), option.WithBaseURL(stub.srv.URL))

	id, err := rt.StartSession(context.Background(), &domain.Template{ID: "tpl-bare"})
	require.NoError(t, err)

	_, _, err = rt.Prompt(context.Background(), id, "hello")
	require.NoError(t, err)
	assert.Equal(t, "default-model", stub.last["model"])
}

func TestPromptUnknownSession(t *testing.T) {
	rt := NewRuntime("test-key", "default-model", zap.NewNop())

	_, _, err := rt.Prompt(context.Background(), "no-such-session", "hello")
	require.Error(t, err)
	assert.Equal(t, domain.ErrNotFound, domain.CodeOf(err))
}

func TestEndSessionDiscardsSession(t *testing.T) {
	stub := newMessagesStub(t, "ok", 1, 1)
	rt := NewRuntime("test-key", "default-model", zap.NewNop(), option.WithBaseURL(stub.srv.URL))

	id, err := rt.StartSession(context.Background(), &domain.Template{ID: "tpl-bare"})
	require.NoError(t, err)

	require.NoError(t, rt.EndSession(context.Background(), id))

	_, _, err = rt.Prompt(context.Background(), id, "hello")
	assert.Equal(t, domain.ErrNotFound, domain.CodeOf(err))
}
