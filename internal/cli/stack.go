package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soyeahso/shopassist/internal/agent"
	"github.com/soyeahso/shopassist/internal/config"
	"github.com/soyeahso/shopassist/internal/hooks"
	"github.com/soyeahso/shopassist/internal/llm"
	"github.com/soyeahso/shopassist/internal/logging"
	"github.com/soyeahso/shopassist/internal/metrics"
	"github.com/soyeahso/shopassist/internal/store"
	"github.com/soyeahso/shopassist/internal/toolservice"
)

// hookDrainTimeout bounds how long Close waits for async hooks.
const hookDrainTimeout = 5 * time.Second

// stack is the assembled chat backend shared by serve and chat.
type stack struct {
	cfg          config.Config
	log          *logging.Logger
	metrics      *metrics.Metrics
	hooks        *hooks.Manager
	creds        *toolservice.Credentials
	managers     []*toolservice.Manager
	instructions agent.Instructions
	engine       *agent.Engine
	runner       *agent.Runner

	closers []func() error
}

// loadValidConfig loads the config file and refuses to continue on any
// validation issue.
func loadValidConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, fmt.Errorf("config validation failed with %d issue(s)", len(issues))
	}
	return cfg, nil
}

// newToolManagers creates one lazily connecting manager per configured
// tool service.
func newToolManagers(cfg config.Config, creds *toolservice.Credentials, m *metrics.Metrics, log *logging.Logger) ([]*toolservice.Manager, error) {
	managers := make([]*toolservice.Manager, 0, len(cfg.ToolServices))
	for _, svc := range cfg.ToolServices {
		dialer, err := toolservice.NewDialer(svc)
		if err != nil {
			return nil, err
		}
		opts := []toolservice.ManagerOption{
			toolservice.WithCredentials(creds),
			toolservice.WithMetrics(m),
		}
		if svc.TimeoutSeconds > 0 {
			opts = append(opts, toolservice.WithCallTimeout(time.Duration(svc.TimeoutSeconds)*time.Second))
		}
		managers = append(managers, toolservice.NewManager(svc.Name, dialer, log, opts...))
	}
	return managers, nil
}

// buildStack wires config into a ready Runner. Nothing connects until the
// first request.
func buildStack(ctx context.Context, cfg config.Config, log *logging.Logger, m *metrics.Metrics) (*stack, error) {
	s := &stack{cfg: cfg, log: log, metrics: m}

	s.hooks = hooks.NewManager(log)
	if n := s.hooks.RegisterConfig(cfg.Hooks); n > 0 {
		log.Info().Int("count", n).Msg("command hooks registered")
	}
	s.closers = append(s.closers, func() error {
		waitCtx, cancel := context.WithTimeout(context.Background(), hookDrainTimeout)
		defer cancel()
		if err := s.hooks.Wait(waitCtx); err != nil {
			return fmt.Errorf("waiting for hooks: %w", err)
		}
		return nil
	})

	creds, err := toolservice.NewCredentials(cfg.Stores.Profiles, cfg.Stores.Active)
	if err != nil {
		return nil, err
	}
	s.creds = creds

	s.managers, err = newToolManagers(cfg, creds, m, log)
	if err != nil {
		return nil, err
	}
	for _, mgr := range s.managers {
		s.closers = append(s.closers, mgr.Close)
	}

	if err := s.loadInstructions(ctx); err != nil {
		s.Close()
		return nil, err
	}

	registry := llm.NewRegistryFromConfig(cfg.LLM, log)
	completer := agent.NewFailoverClient(registry, cfg.LLM.Model, cfg.LLM.Fallbacks, log)

	services := make([]agent.ToolService, len(s.managers))
	for i, mgr := range s.managers {
		services[i] = mgr
	}

	engineOpts := []agent.EngineOption{
		agent.WithStoreProfiles(creds),
		agent.WithHooks(s.hooks),
		agent.WithMetrics(m),
	}
	if cfg.Tools.ArgumentValidation() {
		engineOpts = append(engineOpts, agent.WithArgValidator(agent.NewArgValidator()))
	}
	s.engine = agent.NewEngine(agent.EngineConfig{
		Model:       cfg.LLM.Model,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Tools:       cfg.Tools,
		CrossSell:   cfg.CrossSell,
	}, completer, services, s.instructions, log, engineOpts...)

	sessions, err := s.openSessions()
	if err != nil {
		s.Close()
		return nil, err
	}

	s.runner = agent.NewRunner(agent.RunnerConfig{
		HistoryLimit: cfg.Session.HistoryLimit,
		AnonymousID:  cfg.Session.AnonymousID,
	}, s.engine, sessions, log,
		agent.WithRunnerHooks(s.hooks),
		agent.WithRunnerMetrics(m),
	)

	log.Info().
		Strs("models", completer.Models()).
		Int("toolServices", len(s.managers)).
		Str("sessionStore", cfg.Session.Store).
		Str("store", cfg.Stores.Active).
		Msg("chat backend ready")
	return s, nil
}

// loadInstructions uses the configured file, watched for edits, or the
// built-in shopping assistant prompt.
func (s *stack) loadInstructions(ctx context.Context) error {
	if s.cfg.Agent.InstructionsFile == "" {
		s.instructions = agent.StaticInstructions(agent.BuildSystemPrompt(agent.PromptConfig{Tools: s.cfg.Tools}))
		return nil
	}

	fi, err := agent.LoadFileInstructions(s.cfg.Agent.InstructionsFile, s.log)
	if err != nil {
		return err
	}
	s.closers = append(s.closers, fi.Close)
	if s.cfg.Agent.Watch() {
		if err := fi.Watch(ctx); err != nil {
			s.log.Warn().Err(err).Msg("instructions hot reload disabled")
		}
	}
	s.instructions = fi
	return nil
}

func (s *stack) openSessions() (agent.SessionStore, error) {
	if s.cfg.Session.Store != "sqlite" {
		return agent.NewMemorySessionStore(), nil
	}

	dbPath := s.cfg.Session.Path
	if dbPath == "" {
		dbPath = paths.SessionDB()
	}
	db, err := store.Open(dbPath, s.log)
	if err != nil {
		return nil, fmt.Errorf("opening session database: %w", err)
	}
	s.closers = append(s.closers, db.Close)
	s.log.Info().Str("path", dbPath).Msg("using SQLite session store")
	return store.NewSQLiteSessionStore(db), nil
}

// Close releases everything in reverse order of acquisition.
func (s *stack) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
