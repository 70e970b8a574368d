// Package agent implements the agent-handler abstraction: a thin adapter
// over an upstream conversational agent platform (Dify, Coze, FastGPT, or a
// caller's own "custom" backend) that speaks its own request/response shape
// but is driven through one shared interface so the HTTP agent-engine
// surface can address any of them uniformly.
//
// Unlike the pkg/provider/llm adapters, which return a single completed
// reply, a Handler streams incremental AgentEvents as the upstream produces
// them — the agent platforms in scope here expose rich event vocabularies
// (reasoning content, conversation-id assignment) that a flattened string
// result would lose.
package agent

import "context"

// Event is one record in an agent handler's output stream: an event name
// plus its JSON-shaped payload. A handler that reads its upstream response
// to the end finishes with a "message.done" event; [Handler] Stream lists
// the paths that stop without one.
type Event struct {
	Event string
	Data  map[string]any
}

// RuntimeConfig is the per-engine wiring a Handler needs: where the upstream
// lives and which paths it exposes for chat/conversation/health, with
// defaults a handler falls back to when a path isn't configured.
type RuntimeConfig struct {
	EngineType    string
	BaseURL       string
	APIKeyEnv     string // environment variable name holding the API key, if not supplied per-call
	Paths         map[string]string
	DefaultParams map[string]string
	Headers       map[string]string
}

// Context carries one call's runtime wiring plus the caller-supplied
// parameter overrides (conversation id, per-call credentials, arbitrary
// engine-specific fields).
type Context struct {
	Runtime RuntimeConfig
	Params  map[string]any
}

// Handler is the abstraction every agent platform adapter implements.
type Handler interface {
	// CreateConversation opens a new upstream conversation and returns its
	// id, or "" if the platform has no separate conversation-creation step
	// or the call could not be completed.
	CreateConversation(ctx context.Context, actx Context) (string, error)

	// Stream sends text to the upstream agent and invokes emit for each
	// Event produced, in arrival order, ending with a "message.done" event
	// once the upstream response has been read. Missing configuration and an
	// upstream HTTP error status are reported as a single "error" event with
	// a nil return and no "message.done". Failures to build or send a request
	// are returned as errors, also with no "message.done". A read failure
	// partway through the response ends the stream like a normal end: the
	// events already received are followed by "message.done", with no
	// "error" event.
	Stream(ctx context.Context, actx Context, text string, emit func(Event)) error
}
