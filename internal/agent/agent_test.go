package agent

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func collect(t *testing.T, h Handler, actx Context, text string) []Event {
	t.Helper()
	var events []Event
	if err := h.Stream(context.Background(), actx, text, func(ev Event) { events = append(events, ev) }); err != nil {
		t.Fatalf("stream: %v", err)
	}
	return events
}

func TestBaseHandlerEchoesThenDone(t *testing.T) {
	events := collect(t, Build("unknown-engine"), Context{}, "hello")
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %#v", len(events), events)
	}
	if events[0].Event != "message.delta" || events[0].Data["text"] != "hello" {
		t.Fatalf("got %#v", events[0])
	}
	if events[1].Event != "message.done" {
		t.Fatalf("got %#v", events[1])
	}
}

func TestBaseHandlerEmptyTextSkipsDelta(t *testing.T) {
	events := collect(t, Build("unknown-engine"), Context{}, "")
	if len(events) != 1 || events[0].Event != "message.done" {
		t.Fatalf("got %#v", events)
	}
}

func TestRegistryResolvesDifyAliases(t *testing.T) {
	for _, alias := range []string{"dify", "DIFY", "dify_agent"} {
		if _, ok := Build(alias).(difyHandler); !ok {
			t.Fatalf("alias %q did not resolve to difyHandler", alias)
		}
	}
}

func TestDifyStreamMissingCredentialsYieldsError(t *testing.T) {
	events := collect(t, difyHandler{}, Context{}, "hi")
	if len(events) != 1 || events[0].Event != "error" {
		t.Fatalf("got %#v", events)
	}
}

func TestDifyStreamDeltasAndConversationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("data: {\"event\":\"message\",\"conversation_id\":\"conv-1\",\"answer\":\"hi\"}\n\n"))
		w.Write([]byte("data: {\"event\":\"message\",\"answer\":\" there\"}\n\n"))
	}))
	defer srv.Close()

	actx := Context{Runtime: RuntimeConfig{BaseURL: srv.URL}, Params: map[string]any{
		"api_key": "k", "user": "u",
	}}
	events := collect(t, difyHandler{}, actx, "hi")

	if len(events) != 4 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if events[0].Event != "conversation.id" || events[0].Data["conversation_id"] != "conv-1" {
		t.Fatalf("got %#v", events[0])
	}
	if events[1].Data["text"] != "hi" || events[2].Data["text"] != " there" {
		t.Fatalf("got %#v %#v", events[1], events[2])
	}
	if events[3].Event != "message.done" {
		t.Fatalf("got %#v", events[3])
	}
}

func TestBuildDifyURLStripsDuplicateV1(t *testing.T) {
	got := buildDifyURL("https://api.dify.ai/v1", "/v1/chat-messages")
	if got != "https://api.dify.ai/chat-messages" {
		t.Fatalf("got %q", got)
	}
}

func TestBuildDifyURLLeavesNonCollidingPath(t *testing.T) {
	got := buildDifyURL("https://api.dify.ai", "/v1/chat-messages")
	if got != "https://api.dify.ai/v1/chat-messages" {
		t.Fatalf("got %q", got)
	}
}

func TestCoerceDifyConversationIDRejectsNonUUID(t *testing.T) {
	if got := coerceDifyConversationID("not-a-uuid"); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
}

func TestCoerceDifyConversationIDAcceptsUUID(t *testing.T) {
	const id = "550e8400-e29b-41d4-a716-446655440000"
	if got := coerceDifyConversationID(id); got != id {
		t.Fatalf("got %q", got)
	}
}

func TestCozeStreamDeltasAndReasoning(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversation/create":
			w.Write([]byte(`{"data":{"id":"conv-9"}}`))
		default:
			w.Header().Set("Content-Type", "text/event-stream")
			w.Write([]byte("event: conversation.message.delta\ndata: {\"reasoning_content\":\"thinking\"}\n\n"))
			w.Write([]byte("event: conversation.message.delta\ndata: {\"content\":\"answer\"}\n\n"))
			w.Write([]byte("event: conversation.message.completed\ndata: {\"content\":\"ignored\"}\n\n"))
		}
	}))
	defer srv.Close()

	actx := Context{Runtime: RuntimeConfig{BaseURL: srv.URL}, Params: map[string]any{
		"token": "t", "bot_id": "b",
	}}
	events := collect(t, cozeHandler{}, actx, "hi")

	if len(events) != 4 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if events[0].Event != "conversation.id" || events[0].Data["conversation_id"] != "conv-9" {
		t.Fatalf("got %#v", events[0])
	}
	if events[1].Event != "message.think" || events[1].Data["text"] != "thinking" {
		t.Fatalf("got %#v", events[1])
	}
	if events[2].Event != "message.delta" || events[2].Data["text"] != "answer" {
		t.Fatalf("got %#v", events[2])
	}
	if events[3].Event != "message.done" {
		t.Fatalf("got %#v", events[3])
	}
}

func TestFastGPTStreamDeltasFromChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"choices":[{"delta":{"content":"hi"}}]}` + "\n\n"))
		w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	actx := Context{Runtime: RuntimeConfig{BaseURL: srv.URL}, Params: map[string]any{
		"api_key": "k", "conversation_id": "chat-1",
	}}
	events := collect(t, fastgptHandler{}, actx, "hi")

	if len(events) != 2 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if events[0].Event != "message.delta" || events[0].Data["text"] != "hi" {
		t.Fatalf("got %#v", events[0])
	}
	if events[1].Event != "message.done" {
		t.Fatalf("got %#v", events[1])
	}
}

func TestNormalizeCustomEventKnownNamePassesThrough(t *testing.T) {
	ev, ok := normalizeCustomEvent("message.delta", `{"text":"hi"}`)
	if !ok || ev.Event != "message.delta" || ev.Data["text"] != "hi" {
		t.Fatalf("got %#v, ok=%v", ev, ok)
	}
}

func TestNormalizeCustomEventDoneAliasesCollapse(t *testing.T) {
	for _, name := range []string{"done", "final"} {
		ev, ok := normalizeCustomEvent(name, "")
		if !ok || ev.Event != "message.done" {
			t.Fatalf("name %q: got %#v, ok=%v", name, ev, ok)
		}
	}
}

func TestNormalizeCustomEventUnknownNameFallsBackToDelta(t *testing.T) {
	ev, ok := normalizeCustomEvent("weird.custom.name", `"raw text"`)
	if !ok || ev.Event != "message.delta" || ev.Data["text"] != "raw text" {
		t.Fatalf("got %#v, ok=%v", ev, ok)
	}
}

func TestNormalizeCustomEventNoNameBecomesDelta(t *testing.T) {
	ev, ok := normalizeCustomEvent("", `{"text":"plain"}`)
	if !ok || ev.Event != "message.delta" || ev.Data["text"] != "plain" {
		t.Fatalf("got %#v, ok=%v", ev, ok)
	}
}

func TestNormalizeCustomEventConversationIDAcceptsAnyKnownKey(t *testing.T) {
	ev, ok := normalizeCustomEvent("conversation.id", `{"conversationId":"abc"}`)
	if !ok || ev.Data["conversation_id"] != "abc" {
		t.Fatalf("got %#v, ok=%v", ev, ok)
	}
}

func TestCustomStreamNormalizesUpstreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte("event: message.delta\ndata: {\"text\":\"hi\"}\n\n"))
		w.Write([]byte("event: finished\ndata: \n\n"))
	}))
	defer srv.Close()

	actx := Context{Runtime: RuntimeConfig{BaseURL: srv.URL}}
	events := collect(t, customHandler{}, actx, "hi")

	if len(events) != 3 {
		t.Fatalf("got %d events: %#v", len(events), events)
	}
	if events[0].Data["text"] != "hi" {
		t.Fatalf("got %#v", events[0])
	}
	if events[2].Event != "message.done" {
		t.Fatalf("got %#v", events[2])
	}
}

func TestSanitizeCustomParamsDropsTransportFields(t *testing.T) {
	out := sanitizeCustomParams(map[string]any{
		"api_key": "k", "base_url": "u", "stream": true, "topic": "weather", "empty": nil,
	})
	if len(out) != 1 || out["topic"] != "weather" {
		t.Fatalf("got %#v", out)
	}
}
