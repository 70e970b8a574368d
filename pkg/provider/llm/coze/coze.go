// Package coze implements llm.Provider against the Coze v3 chat API. Coze's
// own chat endpoint is SSE-streaming-only even for a "single response" use,
// so Generate consumes the stream internally and joins the deltas.
package coze

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/FutureUnreal/WhaleWhisper/internal/sse"
	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

// Provider talks to the Coze v3 chat API.
type Provider struct {
	apiBase string
	token   string
	botID   string
	user    string
	client  *http.Client
}

// New builds a Provider.
func New(apiBase, token, botID, user string, timeout time.Duration) *Provider {
	return &Provider{
		apiBase: strings.TrimRight(apiBase, "/"),
		token:   token,
		botID:   botID,
		user:    user,
		client:  &http.Client{Timeout: timeout},
	}
}

// SupportsMessages implements llm.Provider. Coze accepts only a single
// flattened message per turn; history lives server-side against the
// conversation id.
func (p *Provider) SupportsMessages() bool { return false }

type chatMessage struct {
	Role        string `json:"role"`
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
}

type chatRequest struct {
	BotID             string        `json:"bot_id"`
	UserID            string        `json:"user_id"`
	Stream            bool          `json:"stream"`
	AutoSaveHistory   bool          `json:"auto_save_history"`
	AdditionalMessage []chatMessage `json:"additional_messages"`
}

// Generate implements llm.Provider: creates a conversation if req carries
// none, then streams the chat response and joins every
// conversation.message.delta chunk's content into the final text.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	conversationID := req.ConversationID
	if conversationID == "" {
		var err error
		conversationID, err = p.createConversation(ctx)
		if err != nil {
			return llm.Result{}, err
		}
	}

	body := chatRequest{
		BotID:           p.botID,
		UserID:          firstNonEmpty(req.UserID, p.user),
		Stream:          true,
		AutoSaveHistory: true,
		AdditionalMessage: []chatMessage{
			{Role: "user", Content: llm.LastUserText(req.Text, req.Messages), ContentType: "text"},
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Result{}, fmt.Errorf("coze: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v3/chat?conversation_id=%s", p.apiBase, conversationID)
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return llm.Result{}, fmt.Errorf("coze: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(r)
	if err != nil {
		return llm.Result{}, fmt.Errorf("coze: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return llm.Result{}, fmt.Errorf("coze: request failed: %s", resp.Status)
	}

	var chunks []string
	reader := sse.NewReader(resp.Body)
	for {
		ev, err := reader.Next()
		if err != nil {
			break
		}
		if ev.Type != "conversation.message.delta" {
			continue
		}
		var data map[string]any
		if err := json.Unmarshal([]byte(ev.Data), &data); err != nil {
			continue
		}
		if content, _ := data["content"].(string); content != "" {
			chunks = append(chunks, content)
		}
	}

	if len(chunks) == 0 {
		return llm.Result{}, fmt.Errorf("coze: response missing content")
	}
	return llm.Result{Text: strings.Join(chunks, ""), ConversationID: conversationID}, nil
}

// Stream implements llm.Provider by wrapping Generate's single response.
func (p *Provider) Stream(ctx context.Context, req llm.Request) ([]string, error) {
	result, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return []string{result.Text}, nil
}

func (p *Provider) createConversation(ctx context.Context) (string, error) {
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/v1/conversation/create", nil)
	if err != nil {
		return "", fmt.Errorf("coze: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(r)
	if err != nil {
		return "", fmt.Errorf("coze: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("coze: create conversation failed: %s", resp.Status)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", fmt.Errorf("coze: decode response: %w", err)
	}
	nested, ok := data["data"].(map[string]any)
	if !ok {
		return "", fmt.Errorf("coze: response missing conversation id")
	}
	id, _ := nested["id"].(string)
	if id == "" {
		return "", fmt.Errorf("coze: response missing conversation id")
	}
	return id, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
