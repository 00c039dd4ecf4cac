package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for Client. It records every request.
type MockClient struct {
	ProviderName string
	CompleteFunc func(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	mu       sync.Mutex
	requests []CompletionRequest
}

func (m *MockClient) Name() string { return m.ProviderName }

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return &CompletionResponse{Content: `{"message":"mock response","type":"text"}`}, nil
}

// Requests returns a copy of the requests seen so far.
func (m *MockClient) Requests() []CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CompletionRequest, len(m.requests))
	copy(out, m.requests)
	return out
}

// Scripted returns a CompleteFunc that replays responses in order and then
// repeats the last one.
func Scripted(responses ...*CompletionResponse) func(context.Context, CompletionRequest) (*CompletionResponse, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, CompletionRequest) (*CompletionResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		r := responses[min(i, len(responses)-1)]
		i++
		return r, nil
	}
}
