package llm

import "testing"

func TestNormalizeProviderID(t *testing.T) {
	cases := map[string]string{
		"":                  "openai",
		"OpenAI":             "openai",
		"openai-compatible":  "openai",
		" Dify ":             "dify",
		"FASTGPT":            "fastgpt",
		"coze":               "coze",
		"something-unknown":  "openai",
	}
	for in, want := range cases {
		if got := NormalizeProviderID(in); got != want {
			t.Errorf("NormalizeProviderID(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestExtractConversationID_TopLevel(t *testing.T) {
	body := map[string]any{"conversation_id": "abc-123"}
	if got := ExtractConversationID(body); got != "abc-123" {
		t.Errorf("got %q", got)
	}
}

func TestExtractConversationID_Nested(t *testing.T) {
	body := map[string]any{"data": map[string]any{"id": "nested-1"}}
	if got := ExtractConversationID(body); got != "nested-1" {
		t.Errorf("got %q", got)
	}
}

func TestExtractConversationID_Missing(t *testing.T) {
	if got := ExtractConversationID(map[string]any{}); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestLastUserText_PrefersExplicitText(t *testing.T) {
	got := LastUserText("explicit", []Message{{Role: "user", Content: "from messages"}})
	if got != "explicit" {
		t.Errorf("got %q", got)
	}
}

func TestLastUserText_FallsBackToLastUserMessage(t *testing.T) {
	messages := []Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "reply"},
		{Role: "user", Content: "second"},
	}
	if got := LastUserText("", messages); got != "second" {
		t.Errorf("got %q", got)
	}
}

func TestLastUserText_FallsBackToLastMessageWhenNoUserRole(t *testing.T) {
	messages := []Message{{Role: "system", Content: "only system"}}
	if got := LastUserText("", messages); got != "only system" {
		t.Errorf("got %q", got)
	}
}
