package fastgpt

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

func TestGenerate_ExtractsContentAndConversationID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "the answer"}},
			},
			"chatId": "chat-1",
		})
	}))
	defer srv.Close()

	p := New(srv.URL, "key", "uid-1", 0)
	result, err := p.Generate(t.Context(), llm.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "the answer" || result.ConversationID != "chat-1" {
		t.Fatalf("got %#v", result)
	}
}

func TestGenerate_MissingContentIsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"choices": []map[string]any{}})
	}))
	defer srv.Close()

	p := New(srv.URL, "key", "uid-1", 0)
	if _, err := p.Generate(t.Context(), llm.Request{Text: "hello"}); err == nil {
		t.Fatal("expected error for missing content")
	}
}

func TestStream_WrapsGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]any{"content": "streamed"}}},
		})
	}))
	defer srv.Close()

	p := New(srv.URL, "key", "uid-1", 0)
	deltas, err := p.Stream(t.Context(), llm.Request{Text: "hello"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deltas) != 1 || deltas[0] != "streamed" {
		t.Fatalf("got %#v", deltas)
	}
}
