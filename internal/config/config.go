// Package config implements the Config & Credentials Loader (C8): parsing
// the tool-server configuration file and the identity/credentials mapping
// from YAML, plus the LLM provider and listener settings the Operator CLI
// needs to start the host. Unknown fields are tolerated throughout, per the
// wire protocol's own "unknown fields are tolerated" rule.
package config

import "time"

// Config is the root configuration for the `serve` command: where to
// listen, which LLM providers are configured, where the tool-server file
// and identity file live, and the Auth Gateway's settings.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Tools   ToolsConfig   `yaml:"tools"`
	Auth    AuthConfig    `yaml:"auth"`
	Persona PersonaConfig `yaml:"persona"`
}

// ServerConfig controls the host's listeners.
type ServerConfig struct {
	// GatewayAddr is the Session Gateway's (C6) listen address.
	GatewayAddr string `yaml:"gateway_addr"`
	// AuthGatewayAddr is the optional Auth Gateway's (C7) listen address.
	// Empty disables the auth tier; clients connect to GatewayAddr directly.
	AuthGatewayAddr string `yaml:"auth_gateway_addr"`
	// MetricsAddr serves the /metrics endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// LLMConfig selects and configures the LLM Adapter (C1) providers.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures one provider adapter.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
	// Region is Bedrock-specific; ignored by other providers. Bedrock
	// credentials themselves always come from the AWS default chain.
	Region string `yaml:"region"`
}

// ToolsConfig points at the Tool Coordinator's (C3) configuration file.
type ToolsConfig struct {
	// ConfigPath is the tool-server configuration file (§6 ServerConfig map).
	ConfigPath string `yaml:"config_path"`
	// WatchForChanges enables C3's fsnotify-based hot reload.
	WatchForChanges bool `yaml:"watch_for_changes"`
}

// AuthConfig configures the optional Auth Gateway (C7).
type AuthConfig struct {
	// Enabled turns on C7. When false, clients identify directly against C6.
	Enabled bool `yaml:"enabled"`
	// IdentitiesPath is the credentials file: email -> {password hash, persona}.
	IdentitiesPath string `yaml:"identities_path"`
	// JWTSecret signs reconnect tokens. Required when Enabled is true.
	JWTSecret string `yaml:"jwt_secret"`
	// TokenExpiry is how long a reconnect token remains valid. Default: 24h.
	TokenExpiry time.Duration `yaml:"token_expiry"`
}

// PersonaConfig supplies the base prompt template and default persona used
// when the Auth Gateway is disabled, so every session gets some persona.
type PersonaConfig struct {
	BaseTemplate         string `yaml:"base_template"`
	DefaultPersona       string `yaml:"default_persona"`
	FilesystemAccessInfo string `yaml:"filesystem_access_info"`
}

func applyDefaults(cfg *Config) {
	if cfg.Server.GatewayAddr == "" {
		cfg.Server.GatewayAddr = ":8081"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.LLM.DefaultProvider == "" {
		cfg.LLM.DefaultProvider = "anthropic"
	}
	if cfg.Auth.TokenExpiry == 0 {
		cfg.Auth.TokenExpiry = 24 * time.Hour
	}
	if cfg.Persona.FilesystemAccessInfo == "" {
		cfg.Persona.FilesystemAccessInfo = "You have no filesystem access."
	}
}
