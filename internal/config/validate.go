package config

import (
	"fmt"
	"slices"

	"github.com/soyeahso/shopassist/internal/logging"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue
	add := func(path, format string, args ...any) {
		issues = append(issues, ValidationIssue{Path: path, Message: fmt.Sprintf(format, args...)})
	}

	// Gateway
	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		add("gateway.port", "port must be 0-65535, got %d", cfg.Gateway.Port)
	}
	validBinds := []string{"loopback", "lan", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		add("gateway.bind", "must be one of %v, got %q", validBinds, cfg.Gateway.Bind)
	}
	if cfg.Gateway.Bind == "custom" && cfg.Gateway.CustomBindHost == "" {
		add("gateway.customBindHost", "required when bind: custom")
	}

	// LLM
	validProviders := []string{"openai", "openrouter", "ollama", "custom"}
	if !slices.Contains(validProviders, cfg.LLM.Provider) {
		add("llm.provider", "must be one of %v, got %q", validProviders, cfg.LLM.Provider)
	}
	if cfg.LLM.Provider != "ollama" && cfg.LLM.APIKey == "" {
		add("llm.apiKey", "required (set OPENAI_API_KEY)")
	}
	if cfg.LLM.Provider == "custom" && cfg.LLM.BaseURL == "" {
		add("llm.baseUrl", "required when provider: custom")
	}
	if cfg.LLM.Model == "" {
		add("llm.model", "required")
	}

	// Tool services
	if len(cfg.ToolServices) == 0 {
		add("toolServices", "at least one tool service is required")
	}
	seen := map[string]bool{}
	validTransports := []string{"sse", "streamable", "stdio"}
	for i, ts := range cfg.ToolServices {
		base := fmt.Sprintf("toolServices[%d]", i)
		if ts.Name == "" {
			add(base+".name", "name is required")
		} else if seen[ts.Name] {
			add(base+".name", "duplicate tool service %q", ts.Name)
		}
		seen[ts.Name] = true

		if !slices.Contains(validTransports, ts.Transport) {
			add(base+".transport", "must be one of %v, got %q", validTransports, ts.Transport)
			continue
		}
		if ts.Transport == "stdio" && ts.Command == "" {
			add(base+".command", "required for stdio transport")
		}
		if ts.Transport != "stdio" && ts.URL == "" {
			add(base+".url", "required for %s transport", ts.Transport)
		}
	}

	// Stores
	if profile, ok := cfg.Stores.Profiles[cfg.Stores.Active]; !ok {
		add("stores.active", "profile %q is not defined", cfg.Stores.Active)
	} else if profile.ShopBaseURL == "" {
		add("stores.profiles."+cfg.Stores.Active+".shopBaseUrl", "required (set SHOP_BASE_URL)")
	}

	// Session
	if cfg.Session.HistoryLimit < 1 {
		add("session.historyLimit", "must be at least 1, got %d", cfg.Session.HistoryLimit)
	}
	validStores := []string{"memory", "sqlite"}
	if !slices.Contains(validStores, cfg.Session.Store) {
		add("session.store", "must be one of %v, got %q", validStores, cfg.Session.Store)
	}

	// Cross-sell
	if cfg.CrossSell.Limit < 0 {
		add("crossSell.limit", "must not be negative")
	}

	// Logging
	if cfg.Logging.Level != "" && !slices.Contains(logging.Levels, cfg.Logging.Level) {
		add("logging.level", "must be one of %v, got %q", logging.Levels, cfg.Logging.Level)
	}
	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		add("logging.consoleStyle", "must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle)
	}

	return issues
}
