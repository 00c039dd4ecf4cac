package llm

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/logging"
)

// Registry maps the model names used in config onto provider clients.
// A model reference resolves, in order, as a provider name, then as a
// model routed to a provider, then to the fallback provider.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Client
	routes    map[string]string // model reference -> provider
	modelIDs  map[string]string // short name -> model id sent upstream
	fallback  string
	log       *logging.Logger
}

func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		providers: map[string]Client{},
		routes:    map[string]string{},
		modelIDs:  map[string]string{},
		log:       log.Sub("llm.registry"),
	}
}

// Register makes client reachable under provider name.
func (r *Registry) Register(name string, client Client) {
	r.mu.Lock()
	r.providers[name] = client
	r.mu.Unlock()
	r.log.Info().Str("provider", name).Msg("registered LLM provider")
}

// Alias routes model to provider.
func (r *Registry) Alias(model, provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[model] = provider
}

// ModelAlias makes short stand for the upstream model id model, e.g.
// "fast" for "openai/gpt-4o-mini".
func (r *Registry) ModelAlias(short, model string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.modelIDs[short] = model
}

func (r *Registry) SetFallback(provider string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = provider
}

// ModelID expands a short name; other names pass through unchanged.
func (r *Registry) ModelID(model string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if id, ok := r.modelIDs[model]; ok {
		return id
	}
	return model
}

func (r *Registry) Resolve(model string) (Client, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range []string{model, r.routes[model], r.fallback} {
		if name == "" {
			continue
		}
		if c, ok := r.providers[name]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("no LLM provider for model %q", model)
}

// List returns the registered provider names in order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.providers))
}

// NewRegistryFromConfig registers the one configured OpenAI-compatible
// endpoint as fallback and routes the primary model, every fallback
// model and every short alias to it.
func NewRegistryFromConfig(cfg config.LLMConfig, log *logging.Logger) *Registry {
	reg := NewRegistry(log)
	client := NewOpenAIClient(OpenAIConfig{
		Provider: cfg.Provider,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
		Timeout:  time.Duration(cfg.TimeoutSeconds) * time.Second,
	}, log)
	provider := client.Name()
	reg.Register(provider, client)
	reg.SetFallback(provider)

	for _, m := range append([]string{cfg.Model}, cfg.Fallbacks...) {
		if m != "" {
			reg.Alias(m, provider)
		}
	}
	for short, model := range cfg.Aliases {
		reg.ModelAlias(short, model)
		reg.Alias(short, provider)
	}
	return reg
}
