package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/soyeahso/shopassist/internal/domain"
	"gopkg.in/yaml.v3"
)

// secretRef matches a ${NAME} reference inside a config value.
var secretRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// resolveRefs substitutes ${NAME} references from the environment. A
// reference to an unset variable stays as written so Validate can point
// at it.
func resolveRefs(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}
	return secretRef.ReplaceAllStringFunc(s, func(ref string) string {
		name := secretRef.FindStringSubmatch(ref)[1]
		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return ref
	})
}

// resolveSecrets lets credentials and endpoints live in the environment
// instead of the file.
func resolveSecrets(cfg *Config) {
	for _, field := range []*string{&cfg.LLM.APIKey, &cfg.LLM.BaseURL} {
		*field = resolveRefs(*field)
	}
	for i := range cfg.ToolServices {
		cfg.ToolServices[i].URL = resolveRefs(cfg.ToolServices[i].URL)
	}
	for name, p := range cfg.Stores.Profiles {
		p.ShopBaseURL = resolveRefs(p.ShopBaseURL)
		p.ClientID = resolveRefs(p.ClientID)
		p.ClientSecret = resolveRefs(p.ClientSecret)
		cfg.Stores.Profiles[name] = p
	}
}

// envOverrides are the environment variables that take precedence over the
// config file.
type envOverrides struct {
	GatewayPort  int    `env:"SHOPASSIST_GATEWAY_PORT"`
	GatewayBind  string `env:"SHOPASSIST_GATEWAY_BIND"`
	LogLevel     string `env:"SHOPASSIST_LOG_LEVEL"`
	APIKey       string `env:"OPENAI_API_KEY"`
	BaseURL      string `env:"OPENAI_BASE_URL"`
	Model        string `env:"LLM_MODEL"`
	HistoryLimit int    `env:"CHAT_HISTORY_LIMIT"`
	ToolURL      string `env:"MCP_SERVER_URL"`
	ShopBaseURL  string `env:"SHOP_BASE_URL"`
	ClientID     string `env:"SHOP_CLIENT_ID"`
	ClientSecret string `env:"SHOP_CLIENT_SECRET"`
}

// Load builds the effective configuration: the file at path (absent is
// fine), then defaults, then ${NAME} references, then environment
// overrides.
func Load(path string) (Config, error) {
	var cfg Config
	data, err := readIfExists(path)
	if err != nil {
		return Defaults(), err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Defaults(), &ConfigError{Message: "parsing " + path + ": " + err.Error()}
	}

	applyDefaults(&cfg)
	resolveSecrets(&cfg)
	return cfg, applyEnvOverrides(&cfg)
}

// LoadRaw decodes the file as an untyped tree for get/set/unset by key.
func LoadRaw(path string) (map[string]any, error) {
	data, err := readIfExists(path)
	if err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "parsing " + path + ": " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw replaces the file with raw. The write goes through a temporary
// file in the same directory so a crash never leaves half a config.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".config-*.yaml")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func readIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// applyDefaults fills every field the file left empty.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if len(cfg.Gateway.AllowedOrigins) == 0 {
		cfg.Gateway.AllowedOrigins = []string{"*"}
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = DefaultModel
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 60
	}

	if len(cfg.ToolServices) == 0 {
		cfg.ToolServices = []ToolServiceConfig{{Name: "shop", URL: DefaultToolURL, Transport: "streamable"}}
	}
	for i := range cfg.ToolServices {
		ts := &cfg.ToolServices[i]
		if ts.Transport == "" {
			if ts.Command != "" {
				ts.Transport = "stdio"
			} else {
				ts.Transport = "sse"
			}
		}
		if ts.TimeoutSeconds == 0 {
			ts.TimeoutSeconds = 60
		}
	}

	if cfg.Stores.Active == "" {
		cfg.Stores.Active = "default"
	}
	if cfg.Stores.Profiles == nil {
		cfg.Stores.Profiles = map[string]domain.StoreCredentials{}
	}
	if _, ok := cfg.Stores.Profiles[cfg.Stores.Active]; !ok && len(cfg.Stores.Profiles) == 0 {
		cfg.Stores.Profiles[cfg.Stores.Active] = domain.StoreCredentials{}
	}

	if cfg.Session.HistoryLimit == 0 {
		cfg.Session.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Session.AnonymousID == "" {
		cfg.Session.AnonymousID = DefaultAnonymousID
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = "memory"
	}

	if cfg.Tools.Search == "" {
		cfg.Tools.Search = "store_product_search"
	}
	if cfg.Tools.Detail == "" {
		cfg.Tools.Detail = "store_product_detail"
	}
	if cfg.Tools.CartAdd == "" {
		cfg.Tools.CartAdd = "store_cart_add"
	}
	if cfg.Tools.CartGet == "" {
		cfg.Tools.CartGet = "store_cart_get"
	}
	if cfg.Tools.OrderList == "" {
		cfg.Tools.OrderList = "store_order_list"
	}

	if cfg.CrossSell.Qualifier == "" {
		cfg.CrossSell.Qualifier = "accessories"
	}
	if cfg.CrossSell.IDArgument == "" {
		cfg.CrossSell.IDArgument = "productId"
	}
	if cfg.CrossSell.QueryArgument == "" {
		cfg.CrossSell.QueryArgument = "query"
	}
	if cfg.CrossSell.Limit == 0 {
		cfg.CrossSell.Limit = 3
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
}

// applyEnvOverrides lets the environment win over the file. The shop
// variables patch the active store profile.
func applyEnvOverrides(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return &ConfigError{Message: "invalid environment: " + err.Error()}
	}

	if o.GatewayPort != 0 {
		cfg.Gateway.Port = o.GatewayPort
	}
	if o.GatewayBind != "" {
		cfg.Gateway.Bind = o.GatewayBind
	}
	if o.LogLevel != "" {
		cfg.Logging.Level = strings.ToLower(o.LogLevel)
	}
	if o.APIKey != "" {
		cfg.LLM.APIKey = o.APIKey
	}
	if o.BaseURL != "" {
		cfg.LLM.BaseURL = o.BaseURL
	}
	if o.Model != "" {
		cfg.LLM.Model = o.Model
	}
	if o.HistoryLimit != 0 {
		cfg.Session.HistoryLimit = o.HistoryLimit
	}
	if o.ToolURL != "" && len(cfg.ToolServices) > 0 {
		cfg.ToolServices[0].URL = o.ToolURL
	}

	if o.ShopBaseURL != "" || o.ClientID != "" || o.ClientSecret != "" {
		p := cfg.Stores.Profiles[cfg.Stores.Active]
		if o.ShopBaseURL != "" {
			p.ShopBaseURL = o.ShopBaseURL
		}
		if o.ClientID != "" {
			p.ClientID = o.ClientID
		}
		if o.ClientSecret != "" {
			p.ClientSecret = o.ClientSecret
		}
		cfg.Stores.Profiles[cfg.Stores.Active] = p
	}
	return nil
}
