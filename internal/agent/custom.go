package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/FutureUnreal/WhaleWhisper/internal/sse"
)

func init() {
	Register([]string{"custom", "custom_agent"}, func() Handler { return customHandler{} })
}

type customHandler struct{}

func (customHandler) resolve(actx Context) (baseURL, apiKey string, params map[string]any) {
	params = mergeParams(actx.Runtime.DefaultParams, actx.Params)
	baseURL = stringParam(params, "base_url")
	if baseURL == "" {
		baseURL = actx.Runtime.BaseURL
	}
	apiKey = apiKeyFromEnv(stringParam(params, "api_key"), actx.Runtime.APIKeyEnv)
	return baseURL, apiKey, params
}

// sanitizeCustomParams strips transport-only fields before the remaining
// params are forwarded to the custom backend as its "config" object.
func sanitizeCustomParams(params map[string]any) map[string]any {
	blocked := map[string]bool{"api_key": true, "base_url": true, "stream": true}
	sanitized := make(map[string]any, len(params))
	for k, v := range params {
		if blocked[k] || v == nil {
			continue
		}
		sanitized[k] = v
	}
	return sanitized
}

func (h customHandler) CreateConversation(ctx context.Context, actx Context) (string, error) {
	baseURL, apiKey, params := h.resolve(actx)
	if id := stringParam(params, "conversation_id"); id != "" {
		return id, nil
	}
	if baseURL == "" {
		return "", nil
	}
	conversationPath := actx.Runtime.Paths["conversation"]
	if conversationPath == "" {
		return "", nil
	}

	payload, err := json.Marshal(map[string]any{"config": sanitizeCustomParams(params)})
	if err != nil {
		return "", fmt.Errorf("custom agent: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildURL(baseURL, resolvePath(actx.Runtime, "conversation", conversationPath)), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("custom agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("custom agent: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("custom agent: create conversation status %d: %s", resp.StatusCode, readErrorDetail(resp))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("custom agent: decode response: %w", err)
	}
	return extractCustomConversationID(out), nil
}

// extractCustomConversationID mirrors the shared LLM extraction routine but
// additionally falls back to a bare top-level "id", which only the custom
// backend's contract allows (the other platforms all use a more specific key).
func extractCustomConversationID(body map[string]any) string {
	if id := extractConversationID(body); id != "" {
		return id
	}
	if id, ok := body["id"].(string); ok && id != "" {
		return id
	}
	return ""
}

func (h customHandler) Stream(ctx context.Context, actx Context, text string, emit func(Event)) error {
	baseURL, apiKey, params := h.resolve(actx)
	if baseURL == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing custom agent base URL."}})
		return nil
	}

	path := resolvePath(actx.Runtime, "chat", "/chat")
	body := map[string]any{
		"text":            text,
		"conversation_id": stringParam(params, "conversation_id"),
		"config":          sanitizeCustomParams(params),
		"stream":          true,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("custom agent: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildURL(baseURL, path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("custom agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("custom agent: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		emit(Event{Event: "error", Data: map[string]any{"message": readErrorDetail(resp)}})
		return nil
	}

	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			break
		}
		if normalized, ok := normalizeCustomEvent(ev.Type, ev.Data); ok {
			emit(normalized)
		}
	}

	emit(Event{Event: "message.done", Data: map[string]any{}})
	return nil
}

var knownCustomEvents = map[string]bool{
	"message.delta":   true,
	"message.think":   true,
	"message.done":    true,
	"conversation.id": true,
	"error":           true,
}

// normalizeCustomEvent maps a raw SSE frame from a custom backend onto our
// agent event vocabulary. Recognized event names pass through with typed
// payload coercion; "done"/"final" collapse to "message.done"; "delta",
// "message", or no event name at all become "message.delta"; any other
// unrecognized name also falls back to "message.delta" rather than being
// dropped, so an idiosyncratic custom backend never silently vanishes.
func normalizeCustomEvent(eventName, payloadText string) (Event, bool) {
	var data any
	if payloadText != "" {
		if err := json.Unmarshal([]byte(payloadText), &data); err != nil {
			data = payloadText
		}
	}

	switch {
	case knownCustomEvents[eventName]:
		return coerceCustomEvent(eventName, data), true
	case eventName == "done" || eventName == "final":
		return Event{Event: "message.done", Data: map[string]any{}}, true
	default:
		return coerceCustomEvent("message.delta", data), true
	}
}

func coerceCustomEvent(event string, data any) Event {
	switch event {
	case "message.delta", "message.think":
		switch v := data.(type) {
		case map[string]any:
			if text, ok := v["text"].(string); ok {
				return Event{Event: event, Data: map[string]any{"text": text}}
			}
		case string:
			return Event{Event: event, Data: map[string]any{"text": v}}
		}
		return Event{Event: event, Data: map[string]any{"text": ""}}
	case "conversation.id":
		switch v := data.(type) {
		case map[string]any:
			id := firstString(v, "conversation_id", "conversationId", "id")
			return Event{Event: event, Data: map[string]any{"conversation_id": id}}
		case string:
			return Event{Event: event, Data: map[string]any{"conversation_id": v}}
		}
		return Event{Event: event, Data: map[string]any{"conversation_id": ""}}
	case "error":
		switch v := data.(type) {
		case map[string]any:
			if msg, ok := v["message"].(string); ok {
				return Event{Event: event, Data: map[string]any{"message": msg}}
			}
		case string:
			return Event{Event: event, Data: map[string]any{"message": v}}
		}
		return Event{Event: event, Data: map[string]any{"message": "Agent error."}}
	default:
		return Event{Event: "message.done", Data: map[string]any{}}
	}
}
