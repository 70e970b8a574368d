// Package llm defines the Provider interface that every upstream
// conversational backend this gateway can talk to implements, plus the
// shared request/response shapes and provider-config helpers used by both
// the dispatcher's per-turn pipeline and the memory summarizer.
package llm

import (
	"context"
	"strings"
)

// Message is one turn in a structured conversation, used by providers that
// support a role/content message list rather than a single flattened prompt.
type Message struct {
	Role    string
	Content string
}

// Request carries everything a provider call needs for one turn. Messages
// is populated for providers where SupportsMessages() is true; Text is the
// single flattened prompt used otherwise.
type Request struct {
	Messages       []Message
	Text           string
	UserID         string
	ConversationID string
}

// Result is a provider's non-streaming response.
type Result struct {
	Text           string
	ConversationID string
}

// Provider is the abstraction over one upstream conversational backend.
// Implementations must be safe for concurrent use.
type Provider interface {
	// SupportsMessages reports whether this provider accepts a structured
	// Messages list. Callers building a Request use this to decide between
	// populating Messages or flattening everything into Text.
	SupportsMessages() bool

	// Generate sends req and waits for the complete response.
	Generate(ctx context.Context, req Request) (Result, error)

	// Stream sends req and returns the response broken into incremental
	// text deltas. A provider with no native streaming mode may return the
	// full text as a single-element slice.
	Stream(ctx context.Context, req Request) ([]string, error)
}

// Config is the resolved, provider-specific configuration for one call: the
// payload's optional per-turn override merged over environment defaults by
// the caller (see internal/dispatcher's buildProviderConfig).
type Config struct {
	ProviderID string
	APIKey     string
	BaseURL    string
	Model      string
	Extra      map[string]string
}

// NormalizeProviderID lowercases id and folds known aliases onto their
// canonical provider id. An empty or unrecognized id normalizes to "openai",
// the default provider family.
func NormalizeProviderID(id string) string {
	switch strings.ToLower(strings.TrimSpace(id)) {
	case "dify":
		return "dify"
	case "fastgpt":
		return "fastgpt"
	case "coze":
		return "coze"
	case "openai", "openai_compat", "openai-compatible", "":
		return "openai"
	default:
		return "openai"
	}
}

// ExtractConversationID looks for a conversation/chat id under any of the
// field names different upstreams use, first at the top level and then
// nested under a "data" object — the shape Dify, FastGPT, and Coze-derived
// agent platform responses all commonly use.
func ExtractConversationID(body map[string]any) string {
	for _, key := range []string{"conversation_id", "conversationId", "chatId", "chat_id"} {
		if v, ok := body[key].(string); ok && v != "" {
			return v
		}
	}
	nested, ok := body["data"].(map[string]any)
	if !ok {
		return ""
	}
	for _, key := range []string{"conversation_id", "conversationId", "chatId", "chat_id", "id"} {
		if v, ok := nested[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// LastUserText returns text if non-empty, otherwise the content of the last
// user-role message in messages, otherwise the content of the last message
// of any role. Providers that only accept a single flattened query (Dify,
// FastGPT, Coze) use this to recover a prompt string from a structured
// Request built for a messages-capable provider.
func LastUserText(text string, messages []Message) string {
	if text != "" {
		return text
	}
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" && messages[i].Content != "" {
			return messages[i].Content
		}
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content
	}
	return text
}
