// Package dify implements llm.Provider against a Dify app's chat-messages
// API, blocking mode only — matching the upstream service this gateway
// replaces, which never puts its own LLM-provider Dify integration into
// Dify's streaming response mode (the agent-engine HTTP surface's Dify
// adapter is a separate, unrelated integration that does stream).
package dify

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

// Provider talks to a Dify app's /chat-messages endpoint in blocking mode.
type Provider struct {
	baseURL string
	apiKey  string
	user    string
	client  *http.Client
}

// New builds a Provider.
func New(baseURL, apiKey, user string, timeout time.Duration) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		user:    user,
		client:  &http.Client{Timeout: timeout},
	}
}

// SupportsMessages implements llm.Provider. Dify only accepts a single
// flattened query string, not a structured message list.
func (p *Provider) SupportsMessages() bool { return false }

type request struct {
	Inputs         map[string]any `json:"inputs"`
	Query          string         `json:"query"`
	ResponseMode   string         `json:"response_mode"`
	User           string         `json:"user"`
	ConversationID string         `json:"conversation_id"`
	Files          []any          `json:"files"`
}

// Generate implements llm.Provider.
func (p *Provider) Generate(ctx context.Context, req llm.Request) (llm.Result, error) {
	body := request{
		Inputs:         map[string]any{},
		Query:          llm.LastUserText(req.Text, req.Messages),
		ResponseMode:   "blocking",
		User:           firstNonEmpty(req.UserID, p.user),
		ConversationID: req.ConversationID,
		Files:          []any{},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return llm.Result{}, fmt.Errorf("dify: marshal request: %w", err)
	}
	r, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat-messages", bytes.NewReader(payload))
	if err != nil {
		return llm.Result{}, fmt.Errorf("dify: build request: %w", err)
	}
	r.Header.Set("Content-Type", "application/json")
	r.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(r)
	if err != nil {
		return llm.Result{}, fmt.Errorf("dify: request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return llm.Result{}, fmt.Errorf("dify: request failed: %s", resp.Status)
	}

	var data map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return llm.Result{}, fmt.Errorf("dify: decode response: %w", err)
	}
	answer, _ := data["answer"].(string)
	if answer == "" {
		return llm.Result{}, fmt.Errorf("dify: response missing answer")
	}
	return llm.Result{Text: answer, ConversationID: llm.ExtractConversationID(data)}, nil
}

// Stream implements llm.Provider by wrapping Generate's single response.
func (p *Provider) Stream(ctx context.Context, req llm.Request) ([]string, error) {
	result, err := p.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return []string{result.Text}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
