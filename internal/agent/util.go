package agent

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

// mergeParams layers a call's Params over an engine's DefaultParams, with
// the call's values winning.
func mergeParams(defaults map[string]string, overrides map[string]any) map[string]any {
	merged := make(map[string]any, len(defaults)+len(overrides))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range overrides {
		merged[k] = v
	}
	return merged
}

func stringParam(params map[string]any, key string) string {
	v, ok := params[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// resolvePath returns the configured path for key, or fallback if unset,
// always prefixed with "/".
func resolvePath(runtime RuntimeConfig, key, fallback string) string {
	path := runtime.Paths[key]
	if path == "" {
		path = fallback
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return path
}

func buildURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + path
}

// buildDifyURL applies the Dify base-URL/path "/v1" collision quirk: when
// the base already ends in /v1 and the resolved chat path also starts with
// /v1, one /v1 is dropped to avoid /v1/v1.
func buildDifyURL(baseURL, path string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.HasSuffix(base, "/v1") && strings.HasPrefix(path, "/v1") {
		path = strings.TrimPrefix(path, "/v1")
		if path == "" {
			path = "/"
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func buildHeaders(runtime RuntimeConfig, apiKey string) map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	for k, v := range runtime.Headers {
		headers[k] = v
	}
	if apiKey != "" {
		headers["Authorization"] = "Bearer " + apiKey
	}
	return headers
}

func applyHeaders(req *http.Request, headers map[string]string) {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
}

// apiKeyFromEnv resolves an API key supplied on the call, falling back to
// the engine's configured environment variable.
func apiKeyFromEnv(explicit, envVar string) string {
	if explicit != "" {
		return explicit
	}
	if envVar == "" {
		return ""
	}
	return os.Getenv(envVar)
}

// coerceDifyConversationID returns value if it parses as a UUID, otherwise
// "" — Dify's streaming chat API rejects a non-UUID conversation_id outright,
// so a stale or malformed value is treated the same as "start a new one".
func coerceDifyConversationID(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if _, err := uuid.Parse(value); err != nil {
		return ""
	}
	return value
}

// readErrorDetail extracts the clearest error message available from a
// failed upstream response: a JSON body's message/detail/error field
// (optionally suffixed with its code), or the raw body text, or a generic
// status-code message as a last resort.
func readErrorDetail(resp *http.Response) string {
	raw, _ := io.ReadAll(resp.Body)
	text := strings.TrimSpace(string(raw))
	if text != "" {
		var payload map[string]any
		if err := json.Unmarshal([]byte(text), &payload); err == nil {
			message := firstString(payload, "message", "detail", "error")
			if code, ok := payload["code"]; ok && message != "" {
				return message + " (" + jsonString(code) + ")"
			}
			if message != "" {
				return message
			}
		} else {
			return text
		}
	}
	return http.StatusText(resp.StatusCode)
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func jsonString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}

// extractConversationID reuses the shared Dify/FastGPT/Coze conversation-id
// extraction routine from the LLM provider package — the same ambiguous
// top-level-or-nested-under-"data" shape shows up in agent platform
// responses too.
func extractConversationID(body map[string]any) string {
	return llm.ExtractConversationID(body)
}
