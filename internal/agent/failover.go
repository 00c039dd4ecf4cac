package agent

import (
	"context"

	"github.com/soyeahso/shopassist/internal/llm"
	"github.com/soyeahso/shopassist/internal/logging"
)

// FailoverClient wraps an LLM registry to try fallback models on failure.
type FailoverClient struct {
	registry  *llm.Registry
	primary   string
	fallbacks []string
	log       *logging.Logger
}

// NewFailoverClient creates a client that tries the primary model first,
// then falls back through the list on retryable errors (429, 5xx, timeouts).
func NewFailoverClient(registry *llm.Registry, primary string, fallbacks []string, log *logging.Logger) *FailoverClient {
	return &FailoverClient{
		registry:  registry,
		primary:   primary,
		fallbacks: fallbacks,
		log:       log.Sub("failover"),
	}
}

// Models returns the chain in the order it is tried.
func (f *FailoverClient) Models() []string {
	return append([]string{f.primary}, f.fallbacks...)
}

// Complete tries the primary model, falling back on retryable errors. The
// request's Model is ignored.
func (f *FailoverClient) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	var lastErr error
	for _, model := range f.Models() {
		client, err := f.registry.Resolve(model)
		if err != nil {
			f.log.Debug().Str("model", model).Err(err).Msg("no provider for model, skipping")
			lastErr = err
			continue
		}

		req.Model = f.registry.ModelID(model)
		resp, err := client.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if ctx.Err() != nil || !llm.IsRetryable(err) {
			return nil, err
		}
		f.log.Warn().
			Str("model", model).
			Err(err).
			Msg("retryable error, trying next model")
	}
	return nil, lastErr
}
