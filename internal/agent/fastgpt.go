package agent

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/FutureUnreal/WhaleWhisper/internal/sse"
)

func init() {
	Register([]string{"fastgpt", "fastgpt_agent"}, func() Handler { return fastgptHandler{} })
}

type fastgptHandler struct{}

func (fastgptHandler) resolve(actx Context) (baseURL, apiKey, uid string) {
	params := mergeParams(actx.Runtime.DefaultParams, actx.Params)
	baseURL = stringParam(params, "base_url")
	if baseURL == "" {
		baseURL = actx.Runtime.BaseURL
	}
	apiKey = apiKeyFromEnv(stringParam(params, "api_key"), actx.Runtime.APIKeyEnv)
	uid = stringParam(params, "uid")
	return baseURL, apiKey, uid
}

// CreateConversation returns the caller-supplied conversation id, or mints a
// fresh random chat id — FastGPT has no server-side conversation-creation
// endpoint; chatId is a client-chosen opaque string.
func (h fastgptHandler) CreateConversation(_ context.Context, actx Context) (string, error) {
	params := mergeParams(actx.Runtime.DefaultParams, actx.Params)
	if id := stringParam(params, "conversation_id"); id != "" {
		return id, nil
	}
	raw := make([]byte, 8)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("fastgpt agent: generate chat id: %w", err)
	}
	return hex.EncodeToString(raw), nil
}

type fastgptMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type fastgptRequest struct {
	ChatID    string           `json:"chatId"`
	Stream    bool             `json:"stream"`
	Detail    bool             `json:"detail"`
	Messages  []fastgptMessage `json:"messages"`
	CustomUID string           `json:"customUid"`
}

func (h fastgptHandler) Stream(ctx context.Context, actx Context, text string, emit func(Event)) error {
	baseURL, apiKey, uid := h.resolve(actx)
	if baseURL == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing FastGPT base URL."}})
		return nil
	}
	if apiKey == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing FastGPT API key."}})
		return nil
	}

	params := mergeParams(actx.Runtime.DefaultParams, actx.Params)
	conversationID := stringParam(params, "conversation_id")
	if conversationID == "" {
		id, err := h.CreateConversation(ctx, actx)
		if err != nil {
			return err
		}
		if id != "" {
			conversationID = id
			emit(Event{Event: "conversation.id", Data: map[string]any{"conversation_id": conversationID}})
		}
	}

	body := fastgptRequest{
		ChatID:    conversationID,
		Stream:    true,
		Detail:    false,
		Messages:  []fastgptMessage{{Role: "user", Content: text}},
		CustomUID: uid,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("fastgpt agent: marshal request: %w", err)
	}

	path := resolvePath(actx.Runtime, "chat", "/v1/chat/completions")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildURL(baseURL, path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("fastgpt agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fastgpt agent: request failed: %w", err)
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
		if ev.Data == "" || ev.Data == sse.Done {
			continue
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			continue
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if content := chunk.Choices[0].Delta.Content; content != "" {
			emit(Event{Event: "message.delta", Data: map[string]any{"text": content}})
		}
	}

	emit(Event{Event: "message.done", Data: map[string]any{}})
	return nil
}
