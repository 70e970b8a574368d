package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/FutureUnreal/WhaleWhisper/internal/sse"
)

func init() {
	Register([]string{"coze", "coze_agent"}, func() Handler { return cozeHandler{} })
}

type cozeHandler struct{}

func (cozeHandler) resolve(actx Context) (apiBase, token, botID, user string) {
	params := mergeParams(actx.Runtime.DefaultParams, actx.Params)
	apiBase = stringParam(params, "api_base")
	if apiBase == "" {
		apiBase = actx.Runtime.BaseURL
	}
	token = apiKeyFromEnv(stringParam(params, "token"), actx.Runtime.APIKeyEnv)
	botID = stringParam(params, "bot_id")
	user = stringParam(params, "user")
	if user == "" {
		user = "whale"
	}
	return apiBase, token, botID, user
}

func (h cozeHandler) CreateConversation(ctx context.Context, actx Context) (string, error) {
	apiBase, token, _, _ := h.resolve(actx)
	if apiBase == "" || token == "" {
		return "", nil
	}

	path := resolvePath(actx.Runtime, "conversation", "/v1/conversation/create")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildURL(apiBase, path), bytes.NewReader([]byte("{}")))
	if err != nil {
		return "", fmt.Errorf("coze agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, token))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("coze agent: create conversation: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("coze agent: create conversation status %d: %s", resp.StatusCode, readErrorDetail(resp))
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("coze agent: decode response: %w", err)
	}
	data, _ := out["data"].(map[string]any)
	id, _ := data["id"].(string)
	return id, nil
}

type cozeMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type cozeRequest struct {
	BotID              string        `json:"bot_id"`
	UserID             string        `json:"user_id"`
	Stream             bool          `json:"stream"`
	AutoSaveHistory    bool          `json:"auto_save_history"`
	AdditionalMessages []cozeMessage `json:"additional_messages"`
}

func (h cozeHandler) Stream(ctx context.Context, actx Context, text string, emit func(Event)) error {
	apiBase, token, botID, user := h.resolve(actx)
	if apiBase == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing Coze API base."}})
		return nil
	}
	if token == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing Coze token."}})
		return nil
	}
	if botID == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing Coze bot_id."}})
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

	body := cozeRequest{
		BotID:           botID,
		UserID:          user,
		Stream:          true,
		AutoSaveHistory: true,
		AdditionalMessages: []cozeMessage{
			{Role: "user", Content: text, ContentType: "text"},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("coze agent: marshal request: %w", err)
	}

	path := resolvePath(actx.Runtime, "chat", "/v3/chat")
	url := buildURL(apiBase, path)
	if conversationID != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "conversation_id=" + conversationID
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("coze agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, token))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("coze agent: request failed: %w", err)
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
		if ev.Type != "conversation.message.delta" {
			continue
		}
		var msg struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		}
		if err := json.Unmarshal([]byte(ev.Data), &msg); err != nil {
			continue
		}
		if msg.ReasoningContent != "" {
			emit(Event{Event: "message.think", Data: map[string]any{"text": msg.ReasoningContent}})
		}
		if msg.Content != "" {
			emit(Event{Event: "message.delta", Data: map[string]any{"text": msg.Content}})
		}
	}

	emit(Event{Event: "message.done", Data: map[string]any{}})
	return nil
}
