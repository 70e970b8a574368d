package dispatcher

import "github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"

// ProviderSettings carries the environment-sourced defaults for every
// provider family, used to fill in whatever an inbound event's "provider"
// block leaves unset. One field group per provider, matching the *_API_KEY/
// *_BASE_URL/*_USER-shaped environment variables this gateway accepts.
type ProviderSettings struct {
	DefaultProvider string

	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string

	DifyAPIKey  string
	DifyBaseURL string
	DifyUser    string

	FastGPTAPIKey  string
	FastGPTBaseURL string
	FastGPTUID     string

	CozeToken   string
	CozeAPIBase string
	CozeBotID   string
	CozeUser    string
}

// buildProviderConfig resolves an llm.Config for one turn: the payload's
// optional "provider" block (id/api_key/apiKey/base_url/baseUrl/model/extra)
// merged over the environment defaults for whichever provider id was chosen.
// An event never has to specify credentials for a provider already
// configured via environment variables.
func buildProviderConfig(payload map[string]any, defaults ProviderSettings) llm.Config {
	block, _ := payload["provider"].(map[string]any)

	providerID := llm.NormalizeProviderID(stringOf(block, "id"))
	if providerID == "openai" && stringOf(block, "id") == "" && defaults.DefaultProvider != "" {
		providerID = llm.NormalizeProviderID(defaults.DefaultProvider)
	}

	apiKey := firstNonEmpty(stringOf(block, "api_key"), stringOf(block, "apiKey"))
	baseURL := firstNonEmpty(stringOf(block, "base_url"), stringOf(block, "baseUrl"))
	model := stringOf(block, "model")
	extra := extraOf(block)

	switch providerID {
	case "openai":
		apiKey = firstNonEmpty(apiKey, defaults.OpenAIAPIKey)
		baseURL = firstNonEmpty(baseURL, defaults.OpenAIBaseURL)
		model = firstNonEmpty(model, defaults.OpenAIModel)
	case "dify":
		apiKey = firstNonEmpty(apiKey, defaults.DifyAPIKey)
		baseURL = firstNonEmpty(baseURL, defaults.DifyBaseURL)
		extra = withDefault(extra, "user", defaults.DifyUser)
	case "fastgpt":
		apiKey = firstNonEmpty(apiKey, defaults.FastGPTAPIKey)
		baseURL = firstNonEmpty(baseURL, defaults.FastGPTBaseURL)
		extra = withDefault(extra, "uid", defaults.FastGPTUID)
	case "coze":
		apiKey = firstNonEmpty(apiKey, defaults.CozeToken)
		baseURL = firstNonEmpty(baseURL, defaults.CozeAPIBase)
		extra = withDefault(extra, "bot_id", defaults.CozeBotID)
		extra = withDefault(extra, "user", defaults.CozeUser)
	}

	return llm.Config{ProviderID: providerID, APIKey: apiKey, BaseURL: baseURL, Model: model, Extra: extra}
}

func stringOf(obj map[string]any, key string) string {
	if obj == nil {
		return ""
	}
	if v, ok := obj[key].(string); ok {
		return v
	}
	return ""
}

func extraOf(block map[string]any) map[string]string {
	out := map[string]string{}
	raw, ok := block["extra"].(map[string]any)
	if !ok {
		return out
	}
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func withDefault(extra map[string]string, key, value string) map[string]string {
	if _, ok := extra[key]; !ok && value != "" {
		extra[key] = value
	}
	return extra
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
