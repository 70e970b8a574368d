// Package config provides the configuration schema, loader, and validation
// for the WhaleWhisper gateway.
package config

import "time"

// Config is the root configuration structure for the gateway. It is loaded
// from an optional YAML file via [Load] or [LoadFromReader] and then
// overlaid with environment variables via [ApplyEnv]. Every field except the
// server read/write/idle timeouts has an environment-variable equivalent;
// those three come from YAML or [Default] only.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Auth   AuthConfig   `yaml:"auth"`
	Paths  PathsConfig  `yaml:"paths"`
	LLM    LLMConfig    `yaml:"llm"`
	Memory MemoryConfig `yaml:"memory"`
}

// LogLevel is a validated logging verbosity.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// IsValid reports whether l is one of the recognised log levels.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true
	default:
		return false
	}
}

// ServerConfig holds network, CORS, and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on (e.g. ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// ReadTimeout, WriteTimeout and IdleTimeout bound the HTTP server's
	// connection lifecycle. These have no equivalent in the system this
	// gateway replaces, which ran under an ASGI server that owned these
	// settings itself; a standalone Go binary must set them directly.
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	// LogLevel controls verbosity. Valid values: "debug", "info", "warn", "error".
	LogLevel LogLevel `yaml:"log_level"`

	// Debug enables verbose request logging.
	Debug bool `yaml:"debug"`

	// CORSAllowOrigins lists origins allowed to talk to the HTTP and
	// WebSocket surfaces. "*" allows any origin.
	CORSAllowOrigins []string `yaml:"cors_allow_origins"`
}

// AuthConfig holds duplex-socket authentication settings.
type AuthConfig struct {
	// WSAuthToken, when non-empty, requires every peer to send a matching
	// module.authenticate event before any other event is dispatched.
	// Empty disables the auth gate entirely.
	WSAuthToken string `yaml:"ws_auth_token"`
}

// PathsConfig holds filesystem paths to catalog files describing the
// engine/provider/plugin configuration surface of the system this gateway
// replaces. The gateway parses and carries these paths but does not serve a
// catalog HTTP surface from them — out of scope (see DESIGN.md).
type PathsConfig struct {
	EngineConfigPath    string `yaml:"engine_config_path"`
	ProviderCatalogPath string `yaml:"provider_catalog_path"`
	PluginCatalogPath   string `yaml:"plugin_catalog_path"`
}

// LLMConfig holds the default LLM provider selection and call parameters
// applied when an inbound input.text event doesn't override them per turn.
type LLMConfig struct {
	// Provider selects the default provider id: "openai", "dify", "fastgpt",
	// or "coze". A per-turn provider override in the event payload takes
	// precedence over this default.
	Provider string `yaml:"provider"`

	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`

	// SystemPrompt is prefixed to every OpenAI-compatible conversation as the
	// system message. Ignored by the agent-style providers.
	SystemPrompt string `yaml:"system_prompt"`

	OpenAI  OpenAIConfig  `yaml:"openai"`
	Dify    DifyConfig    `yaml:"dify"`
	FastGPT FastGPTConfig `yaml:"fastgpt"`
	Coze    CozeConfig    `yaml:"coze"`
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// DifyConfig configures the Dify agent provider.
type DifyConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	User    string `yaml:"user"`
}

// FastGPTConfig configures the FastGPT agent provider.
type FastGPTConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	UID     string `yaml:"uid"`
}

// CozeConfig configures the Coze agent provider.
type CozeConfig struct {
	APIBase string `yaml:"api_base"`
	Token   string `yaml:"token"`
	BotID   string `yaml:"bot_id"`
	User    string `yaml:"user"`
}

// MemoryConfig holds settings for the long-term memory / fact-and-summary
// engine. [BuildMemorySettings] converts it into [memory.Settings]: every
// field here has a Settings counterpart, while Settings.SummarizerCallTimeout
// has none here and keeps its package default.
type MemoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`

	SessionWindow int `yaml:"session_window"`
	FactsMax      int `yaml:"facts_max"`
	SummariesMax  int `yaml:"summaries_max"`

	SummaryMaxChars    int `yaml:"summary_max_chars"`
	SummaryMinMessages int `yaml:"summary_min_messages"`
	SummaryUserLimit   int `yaml:"summary_user_limit"`

	// SummaryAssistantLimit is reserved: parsed and carried but not consumed
	// by the summarization path today, matching the system this gateway
	// replaces exactly.
	SummaryAssistantLimit int `yaml:"summary_assistant_limit"`
}
