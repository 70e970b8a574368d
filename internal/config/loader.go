package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default returns a Config populated with the same defaults as the settings
// surface of the system this gateway replaces.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:       ":8080",
			ReadTimeout:      30 * time.Second,
			WriteTimeout:     5 * time.Minute, // SSE/agent streams can run long
			IdleTimeout:      2 * time.Minute,
			LogLevel:         LogLevelInfo,
			CORSAllowOrigins: []string{"*"},
		},
		Paths: PathsConfig{
			EngineConfigPath:    "config/engines.yaml",
			ProviderCatalogPath: "config/providers.yaml",
			PluginCatalogPath:   "config/plugins.yaml",
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Timeout:     30 * time.Second,
			Temperature: 0.7,
			OpenAI: OpenAIConfig{
				BaseURL: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Dify: DifyConfig{
				BaseURL: "https://api.dify.ai/v1",
				User:    "whale",
			},
			FastGPT: FastGPTConfig{
				BaseURL: "https://cloud.fastgpt.cn/api",
				UID:     "whale",
			},
			Coze: CozeConfig{
				APIBase: "https://api.coze.cn",
				User:    "whale",
			},
		},
		Memory: MemoryConfig{
			Enabled:               true,
			DBPath:                "data/memory.db",
			SessionWindow:         12,
			FactsMax:              48,
			SummariesMax:          12,
			SummaryMaxChars:       480,
			SummaryMinMessages:    6,
			SummaryUserLimit:      3,
			SummaryAssistantLimit: 2,
		},
	}
}

// Load builds a Config starting from [Default], overlaying a YAML file at
// path if path is non-empty, then overlaying environment variables via
// [ApplyEnv]. The result is validated before being returned.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err := decodeInto(cfg, f); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r on top of [Default], applies
// environment overrides, and validates the result. Useful in tests where
// configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeInto(cfg, r); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeInto(cfg *Config, r io.Reader) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	err := dec.Decode(cfg)
	if errors.Is(err, io.EOF) {
		return nil // empty file: keep defaults
	}
	return err
}

// envString overlays dst with the value of key if key is set in the
// environment.
func envString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func envBool(dst *bool, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err == nil {
		*dst = b
	}
}

func envInt(dst *int, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	n, err := strconv.Atoi(v)
	if err == nil {
		*dst = n
	}
}

func envFloat(dst *float64, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err == nil {
		*dst = f
	}
}

func envDurationSeconds(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err == nil {
		*dst = time.Duration(f * float64(time.Second))
	}
}

func envStringList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	*dst = out
}

// ApplyEnv overlays cfg with every recognised WhaleWhisper environment
// variable, mirroring the env-var-aliased fields of the pydantic-settings
// configuration this gateway replaces. Unset variables leave the existing
// value (default or YAML-loaded) untouched.
func ApplyEnv(cfg *Config) {
	envBool(&cfg.Server.Debug, "DEBUG")
	envStringList(&cfg.Server.CORSAllowOrigins, "CORS_ALLOW_ORIGINS")
	envString(&cfg.Paths.EngineConfigPath, "ENGINE_CONFIG_PATH")
	envString(&cfg.Paths.ProviderCatalogPath, "PROVIDER_CATALOG_PATH")
	envString(&cfg.Paths.PluginCatalogPath, "PLUGIN_CATALOG_PATH")
	envString(&cfg.Auth.WSAuthToken, "WS_AUTH_TOKEN")

	if v, ok := os.LookupEnv("LOG_LEVEL"); ok {
		cfg.Server.LogLevel = LogLevel(strings.ToLower(v))
	}

	envString(&cfg.LLM.Provider, "LLM_PROVIDER")
	envDurationSeconds(&cfg.LLM.Timeout, "LLM_TIMEOUT")
	envFloat(&cfg.LLM.Temperature, "LLM_TEMPERATURE")
	envString(&cfg.LLM.SystemPrompt, "LLM_SYSTEM_PROMPT")

	envString(&cfg.LLM.OpenAI.APIKey, "OPENAI_API_KEY")
	envString(&cfg.LLM.OpenAI.BaseURL, "OPENAI_BASE_URL")
	envString(&cfg.LLM.OpenAI.Model, "OPENAI_MODEL")

	envString(&cfg.LLM.Dify.BaseURL, "DIFY_BASE_URL")
	envString(&cfg.LLM.Dify.APIKey, "DIFY_API_KEY")
	envString(&cfg.LLM.Dify.User, "DIFY_USER")

	envString(&cfg.LLM.FastGPT.BaseURL, "FASTGPT_BASE_URL")
	envString(&cfg.LLM.FastGPT.APIKey, "FASTGPT_API_KEY")
	envString(&cfg.LLM.FastGPT.UID, "FASTGPT_UID")

	envString(&cfg.LLM.Coze.APIBase, "COZE_API_BASE")
	envString(&cfg.LLM.Coze.Token, "COZE_TOKEN")
	envString(&cfg.LLM.Coze.BotID, "COZE_BOT_ID")
	envString(&cfg.LLM.Coze.User, "COZE_USER")

	envBool(&cfg.Memory.Enabled, "MEMORY_ENABLED")
	envString(&cfg.Memory.DBPath, "MEMORY_DB_PATH")
	envInt(&cfg.Memory.SessionWindow, "MEMORY_SESSION_WINDOW")
	envInt(&cfg.Memory.FactsMax, "MEMORY_FACTS_MAX")
	envInt(&cfg.Memory.SummariesMax, "MEMORY_SUMMARIES_MAX")
	envInt(&cfg.Memory.SummaryMaxChars, "MEMORY_SUMMARY_MAX_CHARS")
	envInt(&cfg.Memory.SummaryMinMessages, "MEMORY_SUMMARY_MIN_MESSAGES")
	envInt(&cfg.Memory.SummaryUserLimit, "MEMORY_SUMMARY_USER_LIMIT")
	envInt(&cfg.Memory.SummaryAssistantLimit, "MEMORY_SUMMARY_ASSISTANT_LIMIT")

	envString(&cfg.Server.ListenAddr, "LISTEN_ADDR")
}

// Validate checks that cfg contains a coherent set of values, returning a
// joined error listing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server.listen_addr must not be empty"))
	}
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f is out of range [0, 2]", cfg.LLM.Temperature))
	}
	if cfg.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("llm.timeout must be positive"))
	}
	if cfg.Memory.Enabled && cfg.Memory.DBPath == "" {
		errs = append(errs, errors.New("memory.db_path must not be empty when memory.enabled is true"))
	}

	return errors.Join(errs...)
}
