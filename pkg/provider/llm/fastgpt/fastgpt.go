// Package fastgpt implements llm.Provider against a FastGPT app's
// OpenAI-compatible chat/completions endpoint.
package fastgpt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

// Provider talks to a FastGPT app's /v1/chat/completions endpoint.
type Provider struct {
	baseURL string
	apiKey  string
	uid     string
	client  *http.Client
}

// New builds a Provider.
func New(baseURL, apiKey, uid string, timeout time.Duration) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		uid:     uid,
		client:  &http.Client{Timeout: timeout},
	}
}

// SupportsMessages implements llm.Provider. FastGPT's own message field
// only ever carries a single flattened user turn; conversation continuity
// is carried by chatId instead, so a structured history is not accepted.
func (p *Provider) SupportsMessages() bool { return false }

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	ChatID    string    `json:"chatId"`
	Stream    bool      `json:"stream"`
	Detail    bool      `json:"detail"`
	Messages  []message `json:"messages"`
	CustomUID string    `json:"customUid"`
}

// Generate implements llm.Provider. FastGPT has no native streaming mode
// this gateway's protocol cares about, so Stream simply wraps Generate.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	body := request{
		ChatID:    req.ConversationID,
		Stream:    false,
		Detail:    false,
		Messages:  []message{{Role: "user", Content: llm.LastUserText(req.Text, req.Messages)}},
		CustomUID: firstNonEmpty(req.UserID, p.uid),
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Result{}, fmt.Errorf("fastgpt: marshal request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return llm.Result{}, fmt.Errorf("fastgpt: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(r)
	if err != nil {
		return llm.Result{}, fmt.Errorf("fastgpt: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return llm.Result{}, fmt.Errorf("fastgpt: request failed: %s", resp.Status)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return llm.Result{}, fmt.Errorf("fastgpt: decode response: %w", err)
	}

	content := extractContent(data)
	if content == "" {
		return llm.Result{}, fmt.Errorf("fastgpt: response missing content")
	}
	return llm.Result{Text: content, ConversationID: llm.ExtractConversationID(data)}, nil
}

// Stream implements llm.Provider by wrapping Generate's single response.
func (p *Provider) Stream(ctx context.Context, req llm.Request) ([]string, error) {
	result, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return []string{result.Text}, nil
}

func extractContent(data map[string]any) string {
	choices, ok := data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
