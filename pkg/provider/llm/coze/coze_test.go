package coze

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

func sseDelta(content string) string {
	return fmt.Sprintf("event: conversation.message.delta\ndata: {\"content\":%q}\n\n", content)
}

func TestGenerate_CreatesConversationWhenMissing(t *testing.T) {
	var createCalled bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/conversation/create":
			createCalled = true
			fmt.Fprint(w, `{"data":{"id":"conv-new"}}`)
		case "/v3/chat":
			if r.URL.Query().Get("conversation_id") != "conv-new" {
				t.Fatalf("expected conv-new, got %q", r.URL.Query().Get("conversation_id"))
			}
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, sseDelta("hello ")+sseDelta("world"))
		default:
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
	}))
	defer srv.Close()

	p := New(srv.URL, "token", "bot-1", "user-1", 0)
	result, err := p.Generate(t.Context(), llm.Request{Text: "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !createCalled {
		t.Fatal("expected conversation/create to be called")
	}
	if result.Text != "hello world" || result.ConversationID != "conv-new" {
		t.Fatalf("got %#v", result)
	}
}

func TestGenerate_ReusesExistingConversationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/conversation/create" {
			t.Fatal("should not create a conversation when one is already provided")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, sseDelta("reply"))
	}))
	defer srv.Close()

	p := New(srv.URL, "token", "bot-1", "user-1", 0)
	result, err := p.Generate(t.Context(), llm.Request{Text: "hi", ConversationID: "conv-existing"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ConversationID != "conv-existing" || result.Text != "reply" {
		t.Fatalf("got %#v", result)
	}
}

func TestGenerate_NoDeltasIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer srv.Close()

	p := New(srv.URL, "token", "bot-1", "user-1", 0)
	if _, err := p.Generate(t.Context(), llm.Request{Text: "hi", ConversationID: "conv-1"}); err == nil {
		t.Fatal("expected error when no deltas arrive")
	}
}

func TestSupportsMessages_False(t *testing.T) {
	p := New("http://x", "token", "bot-1", "user-1", 0)
	if p.SupportsMessages() {
		t.Fatal("coze must not support structured messages")
	}
}
