package config

import "github.com/soyeahso/shopassist/internal/domain"

// Config is the root configuration for shopassist.
type Config struct {
	Gateway      GatewayConfig       `yaml:"gateway,omitempty"`
	LLM          LLMConfig           `yaml:"llm,omitempty"`
	ToolServices []ToolServiceConfig `yaml:"toolServices,omitempty"`
	Stores       StoresConfig        `yaml:"stores,omitempty"`
	Session      SessionConfig       `yaml:"session,omitempty"`
	Tools        ToolsConfig         `yaml:"tools,omitempty"`
	CrossSell    CrossSellConfig     `yaml:"crossSell,omitempty"`
	Agent        AgentConfig         `yaml:"agent,omitempty"`
	Hooks        HooksConfig         `yaml:"hooks,omitempty"`
	Logging      LoggingConfig       `yaml:"logging,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket front end.
type GatewayConfig struct {
	Port           int      `yaml:"port,omitempty"`
	Bind           string   `yaml:"bind,omitempty"` // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
	Metrics        *bool    `yaml:"metrics,omitempty"`
}

// MetricsEnabled reports whether GET /metrics is served. Defaults to true.
func (g GatewayConfig) MetricsEnabled() bool {
	return g.Metrics == nil || *g.Metrics
}

// LLMConfig selects the language-model backend.
type LLMConfig struct {
	Provider       string            `yaml:"provider,omitempty"` // "openai" | "openrouter" | "ollama" | "custom"
	APIKey         string            `yaml:"apiKey,omitempty"`
	BaseURL        string            `yaml:"baseUrl,omitempty"`
	Model          string            `yaml:"model,omitempty"`
	Fallbacks      []string          `yaml:"fallbacks,omitempty"`
	Aliases        map[string]string `yaml:"aliases,omitempty"`
	MaxTokens      int               `yaml:"maxTokens,omitempty"`
	Temperature    *float32          `yaml:"temperature,omitempty"`
	TimeoutSeconds int               `yaml:"timeoutSeconds,omitempty"`
}

// ToolServiceConfig describes one remote tool service.
type ToolServiceConfig struct {
	Name           string            `yaml:"name"`
	URL            string            `yaml:"url,omitempty"`
	Transport      string            `yaml:"transport,omitempty"` // "sse" | "streamable" | "stdio"
	Command        string            `yaml:"command,omitempty"`
	Args           []string          `yaml:"args,omitempty"`
	Env            map[string]string `yaml:"env,omitempty"`
	TimeoutSeconds int               `yaml:"timeoutSeconds,omitempty"`
}

// StoresConfig lists the shops tool calls can act against.
type StoresConfig struct {
	Active   string                             `yaml:"active,omitempty"`
	Profiles map[string]domain.StoreCredentials `yaml:"profiles,omitempty"`
}

// SessionConfig controls conversation state.
type SessionConfig struct {
	HistoryLimit int    `yaml:"historyLimit,omitempty"`
	AnonymousID  string `yaml:"anonymousId,omitempty"`
	Store        string `yaml:"store,omitempty"` // "memory" | "sqlite"
	Path         string `yaml:"path,omitempty"`  // sqlite DSN; empty means <data dir>/sessions.db
}

// ToolsConfig names the tools the engine treats specially.
type ToolsConfig struct {
	Search            string `yaml:"search,omitempty"`
	Detail            string `yaml:"detail,omitempty"`
	CartAdd           string `yaml:"cartAdd,omitempty"`
	CartGet           string `yaml:"cartGet,omitempty"`
	OrderList         string `yaml:"orderList,omitempty"`
	ValidateArguments *bool  `yaml:"validateArguments,omitempty"`
}

// ArgumentValidation reports whether model arguments are checked against
// the tool's schema before dispatch. Defaults to true.
func (t ToolsConfig) ArgumentValidation() bool {
	return t.ValidateArguments == nil || *t.ValidateArguments
}

// CrossSellConfig controls related-item suggestions after a cart add.
type CrossSellConfig struct {
	Enabled       *bool  `yaml:"enabled,omitempty"`
	Qualifier     string `yaml:"qualifier,omitempty"`
	IDArgument    string `yaml:"idArgument,omitempty"`
	QueryArgument string `yaml:"queryArgument,omitempty"`
	Limit         int    `yaml:"limit,omitempty"`
}

// IsEnabled defaults to true.
func (c CrossSellConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// AgentConfig controls the system instructions.
type AgentConfig struct {
	InstructionsFile  string `yaml:"instructionsFile,omitempty"`
	WatchInstructions *bool  `yaml:"watchInstructions,omitempty"`
}

// Watch defaults to true.
func (a AgentConfig) Watch() bool {
	return a.WatchInstructions == nil || *a.WatchInstructions
}

// HooksConfig maps lifecycle events to shell commands.
type HooksConfig struct {
	ChatReceived  []HookEntry `yaml:"chatReceived,omitempty"`
	ChatCompleted []HookEntry `yaml:"chatCompleted,omitempty"`
	ToolCalled    []HookEntry `yaml:"toolCalled,omitempty"`
	CrossSell     []HookEntry `yaml:"crossSell,omitempty"`
	GatewayStart  []HookEntry `yaml:"gatewayStart,omitempty"`
	GatewayStop   []HookEntry `yaml:"gatewayStop,omitempty"`
}

// HookEntry defines a single hook action.
type HookEntry struct {
	Command string `yaml:"command"`
	Timeout int    `yaml:"timeout,omitempty"` // seconds
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
	File         string `yaml:"file,omitempty"`
}
