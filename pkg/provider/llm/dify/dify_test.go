package dify

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

func TestGenerate_ReturnsAnswerAndConversationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat-messages" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		if body["response_mode"] != "blocking" {
			t.Fatalf("expected blocking response_mode, got %v", body["response_mode"])
		}
		json.NewEncoder(w).Encode(map[string]any{"answer": "hi there", "conversation_id": "conv-1"})
	}))
	defer srv.Close()

	p := New(srv.URL, "key", "default-user", 0)
	result, err := p.Generate(t.Context(), llm.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "hi there" || result.ConversationID != "conv-1" {
		t.Fatalf("got %#v", result)
	}
}

func TestGenerate_EmptyAnswerIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{})
	}))
	defer srv.Close()

	p := New(srv.URL, "key", "default-user", 0)
	if _, err := p.Generate(t.Context(), llm.Request{Text: "hello"}); err == nil {
		t.Fatal("expected error for empty answer")
	}
}

func TestSupportsMessages_False(t *testing.T) {
	p := New("http://x", "key", "user", 0)
	if p.SupportsMessages() {
		t.Fatal("dify must not support structured messages")
	}
}
