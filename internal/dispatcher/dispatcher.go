// Package dispatcher routes normalized events to their handlers: session
// bookkeeping, the input.text → LLM → memory → response pipeline, and the
// minimal voice-event stubs this gateway exposes without an ASR backend.
package dispatcher

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/FutureUnreal/WhaleWhisper/internal/eventcodec"
	"github.com/FutureUnreal/WhaleWhisper/internal/memory"
	"github.com/FutureUnreal/WhaleWhisper/internal/observe"
	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

// Config bundles everything a Dispatcher needs beyond its Memory service and
// SessionStore: provider defaults and the LLM call shape shared by every
// provider family.
type Config struct {
	Providers    ProviderSettings
	SystemPrompt string
	Temperature  float64
	Timeout      time.Duration
}

// Dispatcher holds the mutable state shared across every event handled on
// the gateway's socket: the memory engine, per-session bookkeeping, and a
// lazily-built default LLM provider reused across turns that don't override it.
type Dispatcher struct {
	Memory   *memory.Service
	Sessions *SessionStore
	Config   Config

	mu              sync.Mutex
	defaultProvider llm.Provider

	handlers map[string]func(context.Context, eventcodec.Envelope) []eventcodec.Envelope
	aliases  map[string]string
}

// New wires a Dispatcher from its dependencies.
func New(mem *memory.Service, cfg Config) *Dispatcher {
	d := &Dispatcher{
		Memory:   mem,
		Sessions: NewSessionStore(),
		Config:   cfg,
		aliases: map[string]string{
			"user.text":        "input.text",
			"user.audio.chunk": "input.voice.chunk",
			"user.interrupt":   "input.interrupt",
		},
	}
	d.handlers = map[string]func(context.Context, eventcodec.Envelope) []eventcodec.Envelope{
		"session.start":     d.handleSessionStart,
		"input.text":        d.handleInputText,
		"input.voice.start": d.handleInputVoiceStart,
		"input.voice.chunk": d.handleInputVoiceChunk,
		"input.voice.end":   d.handleInputVoiceEnd,
		"input.interrupt":   d.handleInputInterrupt,
	}
	return d
}

func (d *Dispatcher) normalizeType(eventType string) string {
	if alias, ok := d.aliases[eventType]; ok {
		return alias
	}
	return eventType
}

// Dispatch routes one inbound envelope to its handler and returns the events
// it produced. An event type with no registered handler produces no events
// and no error — unknown event types are silently dropped, matching the
// behavior of the system this gateway replaces.
func (d *Dispatcher) Dispatch(ctx context.Context, env eventcodec.Envelope) []eventcodec.Envelope {
	handler, ok := d.handlers[d.normalizeType(env.Type)]
	if !ok {
		return nil
	}
	return handler(ctx, env)
}

// ensureDefaultProvider lazily builds and caches the provider configured via
// environment defaults, reused across every turn that doesn't request a
// one-off provider override.
func (d *Dispatcher) ensureDefaultProvider() (llm.Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.defaultProvider != nil {
		return d.defaultProvider, nil
	}
	cfg := buildProviderConfig(map[string]any{}, d.Config.Providers)
	provider, err := llm.Build(cfg, d.Config.Temperature, d.Config.Timeout)
	if err != nil {
		return nil, err
	}
	d.defaultProvider = provider
	return provider, nil
}

func (d *Dispatcher) handleSessionStart(_ context.Context, env eventcodec.Envelope) []eventcodec.Envelope {
	payload := env.Data
	sessionID := resolveSessionID(payload, env.SessionID)
	profileID := stringOf(payload, "profile_id")
	userID := stringOf(payload, "user_id")
	d.Sessions.GetOrCreate(sessionID, userID, profileID)

	if meta := extractSessionMeta(payload); meta != "" {
		d.Sessions.SetMetadata(sessionID, meta)
	}
	if prompt := extractDeveloperPrompt(payload); prompt != "" {
		d.Sessions.SetDeveloperPrompt(sessionID, prompt)
	}

	return []eventcodec.Envelope{
		eventcodec.Make("session.started", map[string]any{"session_id": sessionID, "profile_id": profileID}, eventcodec.WithSessionID(sessionID)),
	}
}

// handleInputText is the gateway's central pipeline: resolve the session and
// provider, assemble memory context, call the LLM, record the turn, trigger
// summarization, and emit the paired output.chat.*/llm.* events plus a
// memory.write echo of the user's turn.
func (d *Dispatcher) handleInputText(ctx context.Context, env eventcodec.Envelope) []eventcodec.Envelope {
	payload := env.Data
	text := stringOf(payload, "text")
	if text == "" {
		return []eventcodec.Envelope{d.errorEventWithCategory(env.SessionID, "validation", "input.text requires a text field")}
	}

	sessionID := resolveSessionID(payload, env.SessionID)
	session := d.Sessions.GetOrCreate(sessionID, stringOf(payload, "user_id"), stringOf(payload, "profile_id"))

	sessionMeta := extractSessionMeta(payload)
	if sessionMeta == "" {
		sessionMeta = d.Sessions.Metadata(sessionID)
	} else {
		d.Sessions.SetMetadata(sessionID, sessionMeta)
	}

	developerPrompt := extractDeveloperPrompt(payload)
	if developerPrompt == "" {
		developerPrompt = d.Sessions.DeveloperPrompt(sessionID)
	} else {
		d.Sessions.SetDeveloperPrompt(sessionID, developerPrompt)
	}

	providerCfg := buildProviderConfig(payload, d.Config.Providers)
	providerID := providerCfg.ProviderID
	conversationID := d.Sessions.ConversationID(sessionID, providerID)

	scope := memory.NewScope(sessionID, session.UserID, session.ProfileID)
	memCtx, err := d.Memory.BuildContext(ctx, scope, true)
	if err != nil {
		return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "memory", fmt.Sprintf("memory context failed: %v", err))}
	}

	var provider llm.Provider
	if _, explicit := payload["provider"]; explicit {
		provider, err = llm.Build(providerCfg, d.Config.Temperature, d.Config.Timeout)
	} else {
		provider, err = d.ensureDefaultProvider()
	}
	if err != nil {
		return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "provider_config", err.Error())}
	}

	var request llm.Request
	if provider.SupportsMessages() {
		request.Messages = memory.BuildMessages(d.Config.SystemPrompt, developerPrompt, sessionMeta, memCtx, text)
	} else {
		request.Text = memory.BuildPrompt(developerPrompt, sessionMeta, memCtx, text)
	}
	request.UserID = stringOf(payload, "user_id")
	request.ConversationID = conversationID

	var deltas []string
	var responseText string
	var responseConversationID string

	callStart := time.Now()
	if provider.SupportsMessages() {
		deltas, err = provider.Stream(ctx, request)
		observe.DefaultMetrics().RecordProviderCall(ctx, providerID, callStatus(err), time.Since(callStart).Seconds())
		if err != nil {
			return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "upstream", fmt.Sprintf("LLM request failed: %v", err))}
		}
		responseText = strings.Join(deltas, "")
		responseConversationID = conversationID
	} else {
		result, genErr := provider.Generate(ctx, request)
		observe.DefaultMetrics().RecordProviderCall(ctx, providerID, callStatus(genErr), time.Since(callStart).Seconds())
		if genErr != nil {
			return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "upstream", fmt.Sprintf("LLM request failed: %v", genErr))}
		}
		responseText = result.Text
		responseConversationID = result.ConversationID
		if responseConversationID == "" {
			responseConversationID = conversationID
		}
		deltas = []string{responseText}
	}

	if responseConversationID != "" && responseConversationID != conversationID {
		d.Sessions.SetConversationID(sessionID, providerID, responseConversationID)
	}

	if err := d.Memory.RecordMessage(ctx, scope, "user", text); err != nil {
		return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "memory", fmt.Sprintf("memory record failed: %v", err))}
	}
	if err := d.Memory.RecordMessage(ctx, scope, "assistant", responseText); err != nil {
		return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "memory", fmt.Sprintf("memory record failed: %v", err))}
	}
	if err := d.Memory.MaybeSummarize(ctx, scope); err != nil {
		return []eventcodec.Envelope{d.errorEventWithCategory(sessionID, "memory", fmt.Sprintf("memory summarize failed: %v", err))}
	}

	var events []eventcodec.Envelope
	for _, delta := range deltas {
		if delta == "" {
			continue
		}
		events = append(events, eventcodec.Make("output.chat.delta", map[string]any{"text": delta}, eventcodec.WithSessionID(sessionID)))
		events = append(events, eventcodec.Make("llm.delta", map[string]any{"text": delta}, eventcodec.WithSessionID(sessionID)))
	}

	finalPayload := map[string]any{"text": responseText, "tokens": len(strings.Fields(responseText))}
	events = append(events,
		eventcodec.Make("output.chat.complete", finalPayload, eventcodec.WithSessionID(sessionID)),
		eventcodec.Make("llm.final", finalPayload, eventcodec.WithSessionID(sessionID)),
		eventcodec.Make("memory.write", map[string]any{"kind": "chat", "content": text, "tags": []string{"user"}}, eventcodec.WithSessionID(sessionID)),
	)
	return events
}

func (d *Dispatcher) handleInputVoiceStart(_ context.Context, _ eventcodec.Envelope) []eventcodec.Envelope {
	return nil
}

func (d *Dispatcher) handleInputVoiceChunk(_ context.Context, env eventcodec.Envelope) []eventcodec.Envelope {
	return []eventcodec.Envelope{d.errorEventWithCategory(env.SessionID, "unsupported", "ASR not configured")}
}

func (d *Dispatcher) handleInputVoiceEnd(_ context.Context, _ eventcodec.Envelope) []eventcodec.Envelope {
	return nil
}

func (d *Dispatcher) handleInputInterrupt(_ context.Context, env eventcodec.Envelope) []eventcodec.Envelope {
	return []eventcodec.Envelope{
		eventcodec.Make("output.speech.end", nil, eventcodec.WithSessionID(env.SessionID)),
		eventcodec.Make("tts.end", nil, eventcodec.WithSessionID(env.SessionID)),
	}
}

func errorEvent(sessionID, message string) eventcodec.Envelope {
	return eventcodec.Make("error", map[string]any{"message": message}, eventcodec.WithSessionID(sessionID))
}

// errorEventWithCategory builds an error event and records its taxonomy
// category against the dispatcher-errors counter before returning it.
func (d *Dispatcher) errorEventWithCategory(sessionID, category, message string) eventcodec.Envelope {
	observe.DefaultMetrics().RecordDispatcherError(context.Background(), category)
	return errorEvent(sessionID, message)
}

// callStatus maps a provider call's error into the "ok"/"error" status
// attribute recorded alongside its latency.
func callStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// resolveSessionID picks the session id a turn belongs to: an explicit
// sessionId/session_id in the payload, else a user_id to key by identity,
// else the envelope's own session id, else the sentinel "default".
func resolveSessionID(payload map[string]any, fallback string) string {
	if v := firstNonEmpty(stringOf(payload, "sessionId"), stringOf(payload, "session_id")); v != "" {
		return v
	}
	if v := stringOf(payload, "user_id"); v != "" {
		return v
	}
	if fallback != "" {
		return fallback
	}
	return "default"
}

// extractSessionMeta coerces the payload's session-metadata field, whatever
// shape it arrives in, into a single descriptive string.
func extractSessionMeta(payload map[string]any) string {
	for _, key := range []string{"session_meta", "sessionMeta", "session_metadata", "sessionMetadata", "metadata", "meta"} {
		if v, ok := payload[key]; ok {
			if s := coerceMeta(v); s != "" {
				return s
			}
		}
	}
	return ""
}

func coerceMeta(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var lines []string
		for _, k := range keys {
			lines = append(lines, fmt.Sprintf("%s: %v", k, v[k]))
		}
		return strings.TrimSpace(strings.Join(lines, "\n"))
	case []any:
		var items []string
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprintf("%v", item)); s != "" {
				items = append(items, s)
			}
		}
		return strings.Join(items, "\n")
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", v))
	}
}

// extractDeveloperPrompt coerces the payload's developer/persona prompt
// field into a string, accepting either key spelling.
func extractDeveloperPrompt(payload map[string]any) string {
	for _, key := range []string{"developer_prompt", "developerPrompt", "persona_prompt", "personaPrompt"} {
		if v, ok := payload[key]; ok {
			if s, ok := v.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed
				}
				continue
			}
			if s := strings.TrimSpace(fmt.Sprintf("%v", v)); s != "" {
				return s
			}
		}
	}
	return ""
}
