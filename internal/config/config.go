package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Built-in defaults.
const (
	DefaultPort         = 8000
	DefaultModel        = "gpt-4o-mini"
	DefaultHistoryLimit = 6
	DefaultAnonymousID  = "anonymous"
	DefaultToolURL      = "http://localhost:3333/mcp"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}
