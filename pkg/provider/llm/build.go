package llm

import (
	"fmt"
	"time"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm/coze"
	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm/dify"
	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm/fastgpt"
	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm/openaicompat"
)

// Build constructs the Provider named by cfg.ProviderID, validating the
// fields that provider family requires. temperature applies only to the
// OpenAI-compatible family; the agent-platform families (Dify, FastGPT,
// Coze) carry no per-call temperature knob upstream. timeout applies to
// every family's HTTP client.
func Build(cfg Config, temperature float64, timeout time.Duration) (Provider, error) {
	switch NormalizeProviderID(cfg.ProviderID) {
	case "dify":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: dify base URL is required")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: dify API key is required")
		}
		return dify.New(cfg.BaseURL, cfg.APIKey, cfg.Extra["user"], timeout), nil

	case "fastgpt":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: fastgpt base URL is required")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: fastgpt API key is required")
		}
		return fastgpt.New(cfg.BaseURL, cfg.APIKey, cfg.Extra["uid"], timeout), nil

	case "coze":
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: coze API base is required")
		}
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("llm: coze token is required")
		}
		if cfg.Extra["bot_id"] == "" {
			return nil, fmt.Errorf("llm: coze bot_id is required")
		}
		return coze.New(cfg.BaseURL, cfg.APIKey, cfg.Extra["bot_id"], cfg.Extra["user"], timeout), nil

	default:
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("llm: openai-compatible base URL is required")
		}
		if cfg.Model == "" {
			return nil, fmt.Errorf("llm: openai-compatible model is required")
		}
		return openaicompat.New(cfg.BaseURL, cfg.APIKey, cfg.Model, temperature, timeout), nil
	}
}
