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
	Register([]string{"dify", "dify_agent"}, func() Handler { return difyHandler{} })
}

type difyHandler struct{}

type difyRequest struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id"`
	Files          []any          `json:"files"`
}

func (difyHandler) resolve(actx Context) (apiServer, apiKey, user string) {
	params := mergeParams(actx.Runtime.DefaultParams, actx.Params)
	apiServer = stringParam(params, "api_server")
	if apiServer == "" {
		apiServer = actx.Runtime.BaseURL
	}
	apiKey = apiKeyFromEnv(stringParam(params, "api_key"), actx.Runtime.APIKeyEnv)
	user = stringParam(params, "username")
	if user == "" {
		user = stringParam(params, "user")
	}
	return apiServer, apiKey, user
}

func (h difyHandler) CreateConversation(ctx context.Context, actx Context) (string, error) {
	apiServer, apiKey, user := h.resolve(actx)
	if apiServer == "" || apiKey == "" || user == "" {
		return "", nil
	}

	chatPath := resolvePath(actx.Runtime, "chat", "/chat-messages")
	body := difyRequest{Inputs: map[string]any{}, Query: "hello", ResponseMode: "blocking", User: user, Files: []any{}}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("dify agent: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildDifyURL(apiServer, chatPath), bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("dify agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("dify agent: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", nil
	}

	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("dify agent: decode response: %w", err)
	}
	id, _ := out["conversation_id"].(string)
	return id, nil
}

func (h difyHandler) Stream(ctx context.Context, actx Context, text string, emit func(Event)) error {
	apiServer, apiKey, user := h.resolve(actx)
	if apiServer == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing Dify API server."}})
		return nil
	}
	if apiKey == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing Dify API key."}})
		return nil
	}
	if user == "" {
		emit(Event{Event: "error", Data: map[string]any{"message": "Missing Dify username."}})
		return nil
	}

	params := mergeParams(actx.Runtime.DefaultParams, actx.Params)
	conversationID := coerceDifyConversationID(stringParam(params, "conversation_id"))

	chatPath := resolvePath(actx.Runtime, "chat", "/chat-messages")
	body := difyRequest{
		Inputs:         map[string]any{},
		Query:          text,
		ResponseMode:   "streaming",
		User:           user,
		ConversationID: conversationID,
		Files:          []any{},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("dify agent: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, buildDifyURL(apiServer, chatPath), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("dify agent: build request: %w", err)
	}
	applyHeaders(req, buildHeaders(actx.Runtime, apiKey))

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("dify agent: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		emit(Event{Event: "error", Data: map[string]any{"message": readErrorDetail(resp)}})
		return nil
	}

	current := conversationID
	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			break
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			continue
		}
		if current == "" {
			if id, _ := data["conversation_id"].(string); id != "" {
				current = id
				emit(Event{Event: "conversation.id", Data: map[string]any{"conversation_id": current}})
			}
		}
		answer, _ := data["answer"].(string)
		eventName, _ := data["event"].(string)
		if answer != "" && strings.Contains(eventName, "message") {
			emit(Event{Event: "message.delta", Data: map[string]any{"text": answer}})
		}
	}

	emit(Event{Event: "message.done", Data: map[string]any{}})
	return nil
}
