package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLog() *logging.Logger {
	return logging.New(nil, "silent")
}

// --- Registry tests ---

func TestRegistryRegisterAndResolve(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("openai", &MockClient{ProviderName: "openai"})

	client, err := reg.Resolve("openai")
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Name())
}

func TestRegistryAliasAndFallback(t *testing.T) {
	reg := NewRegistry(silentLog())
	reg.Register("openai", &MockClient{ProviderName: "openai"})
	reg.Register("ollama", &MockClient{ProviderName: "ollama"})
	reg.Alias("llama3", "ollama")
	reg.SetFallback("openai")

	client, err := reg.Resolve("llama3")
	require.NoError(t, err)
	assert.Equal(t, "ollama", client.Name())

	client, err = reg.Resolve("gpt-4o")
	require.NoError(t, err)
	assert.Equal(t, "openai", client.Name())

	assert.Equal(t, []string{"ollama", "openai"}, reg.List())
}

func TestRegistryResolveNotFound(t *testing.T) {
	reg := NewRegistry(silentLog())

	_, err := reg.Resolve("nonexistent")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no LLM provider")
}

func TestRegistryFromConfig(t *testing.T) {
	reg := NewRegistryFromConfig(config.LLMConfig{
		Provider:  "openrouter",
		APIKey:    "k",
		Model:     "openai/gpt-4o-mini",
		Fallbacks: []string{"anthropic/claude-3.5-haiku"},
		Aliases:   map[string]string{"fast": "openai/gpt-4o-mini"},
	}, silentLog())

	assert.Equal(t, []string{"openrouter"}, reg.List())
	for _, m := range []string{"openai/gpt-4o-mini", "anthropic/claude-3.5-haiku", "fast"} {
		c, err := reg.Resolve(m)
		require.NoError(t, err)
		assert.Equal(t, "openrouter", c.Name())
	}
	assert.Equal(t, "openai/gpt-4o-mini", reg.ModelID("fast"))
	assert.Equal(t, "other", reg.ModelID("other"))
}

// --- OpenAI client tests ---

type capturedRequest struct {
	Model          string           `json:"model"`
	Messages       []map[string]any `json:"messages"`
	Tools          []map[string]any `json:"tools"`
	ResponseFormat map[string]any   `json:"response_format"`
}

func newStubServer(t *testing.T, handler func(req capturedRequest) (int, string)) (*httptest.Server, *[]capturedRequest) {
	t.Helper()
	var seen []capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req capturedRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		seen = append(seen, req)
		status, body := handler(req)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &seen
}

func TestOpenAIClientToolCalls(t *testing.T) {
	srv, seen := newStubServer(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{
			"id": "chatcmpl-1",
			"model": "gpt-4o-mini",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "store_product_search", "arguments": "{\"query\":\"kettle\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 7, "total_tokens": 19}
		}`
	})

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, silentLog())
	resp, err := client.Complete(context.Background(), CompletionRequest{
		Model:    "gpt-4o-mini",
		System:   "be brief",
		Messages: []Message{{Role: RoleUser, Content: "find a kettle"}},
		Tools: []ToolDefinition{{
			Name:        "store_product_search",
			Description: "search products",
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{"query": map[string]any{"type": "string"}}},
		}},
	})
	require.NoError(t, err)

	assert.Equal(t, "tool_calls", resp.StopReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "store_product_search", Input: `{"query":"kettle"}`}, resp.ToolCalls[0])
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)

	require.Len(t, *seen, 1)
	req := (*seen)[0]
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0]["role"])
	assert.Equal(t, "be brief", req.Messages[0]["content"])
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "function", req.Tools[0]["type"])
	assert.Nil(t, req.ResponseFormat)
}

func TestOpenAIClientJSONModeAndToolTurns(t *testing.T) {
	srv, seen := newStubServer(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"message\":\"done\",\"type\":\"text\"}"}}]}`
	})

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, silentLog())
	resp, err := client.Complete(context.Background(), CompletionRequest{
		Model: "gpt-4o-mini",
		Messages: []Message{
			{Role: RoleUser, Content: "find a kettle"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "store_product_search", Input: `{}`}}},
			{Role: RoleTool, Name: "store_product_search", ToolCallID: "call_1", Content: `{"total":0}`},
		},
		JSONMode: true,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"message":"done","type":"text"}`, resp.Content)

	req := (*seen)[0]
	assert.Equal(t, "json_object", req.ResponseFormat["type"])
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "tool", req.Messages[2]["role"])
	assert.Equal(t, "call_1", req.Messages[2]["tool_call_id"])
	calls, ok := req.Messages[1]["tool_calls"].([]any)
	require.True(t, ok)
	assert.Len(t, calls, 1)
}

func TestOpenAIClientAPIError(t *testing.T) {
	srv, _ := newStubServer(t, func(capturedRequest) (int, string) {
		return http.StatusTooManyRequests, `{"error":{"message":"Rate limit reached","type":"requests","code":"rate_limit_exceeded"}}`
	})

	client := NewOpenAIClient(OpenAIConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL}, silentLog())
	_, err := client.Complete(context.Background(), CompletionRequest{Model: "gpt-4o-mini"})
	require.Error(t, err)

	var provErr *ProviderError
	require.True(t, errors.As(err, &provErr))
	assert.Equal(t, 429, provErr.Code)
	assert.Equal(t, "openai", provErr.Provider)
	assert.True(t, IsRetryable(err))
}

func TestOpenAIClientNoChoices(t *testing.T) {
	srv, _ := newStubServer(t, func(capturedRequest) (int, string) {
		return http.StatusOK, `{"choices":[]}`
	})

	client := NewOpenAIClient(OpenAIConfig{APIKey: "k", BaseURL: srv.URL}, silentLog())
	_, err := client.Complete(context.Background(), CompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no choices")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"rate limited", &ProviderError{Provider: "openai", Code: 429}, true},
		{"server error", &ProviderError{Provider: "openai", Code: 503}, true},
		{"bad request", &ProviderError{Provider: "openai", Code: 400, Message: "invalid"}, false},
		{"overloaded text", errors.New("model overloaded"), true},
		{"other", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestScripted(t *testing.T) {
	mock := &MockClient{CompleteFunc: Scripted(
		&CompletionResponse{Content: "first"},
		&CompletionResponse{Content: "second"},
	)}
	for _, want := range []string{"first", "second", "second"} {
		resp, err := mock.Complete(context.Background(), CompletionRequest{})
		require.NoError(t, err)
		assert.Equal(t, want, resp.Content)
	}
	assert.Len(t, mock.Requests(), 3)
}
