package eventcodec

import (
	"encoding/json"
	"testing"
)

func TestParseDefaultsAndAliases(t *testing.T) {
	raw := []byte(`{"type":"input.text","payload":{"text":"hi"}}`)
	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.Type != "input.text" {
		t.Fatalf("type = %q", env.Type)
	}
	if env.Data["text"] != "hi" {
		t.Fatalf("data not read from legacy payload key: %#v", env.Data)
	}
	if env.TS == 0 {
		t.Fatalf("ts should default to current time")
	}
}

func TestParseRejectsMissingType(t *testing.T) {
	if _, err := Parse([]byte(`{"data":{}}`)); err == nil {
		t.Fatalf("expected error for missing type")
	}
}

func TestParseRejectsNonObjectData(t *testing.T) {
	if _, err := Parse([]byte(`{"type":"x","data":"not-an-object"}`)); err == nil {
		t.Fatalf("expected error for non-object data")
	}
}

func TestParseSessionIDPrecedence(t *testing.T) {
	raw := []byte(`{"type":"x","sessionId":"top","data":{"session_id":"nested"}}`)
	env, err := Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if env.SessionID != "top" {
		t.Fatalf("session id = %q, want top-level value", env.SessionID)
	}
}

func TestMakeStampsIDAndTimestamp(t *testing.T) {
	env := Make("session.started", map[string]any{"session_id": "s1"})
	if env.ID == "" {
		t.Fatalf("expected generated id")
	}
	if env.TS == 0 {
		t.Fatalf("expected stamped ts")
	}
}

func TestEncodeDuplicatesPayload(t *testing.T) {
	env := Make("output.chat.delta", map[string]any{"text": "hi"})
	raw, err := env.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if obj["payload"] == nil {
		t.Fatalf("expected legacy payload duplicate in encoded envelope")
	}
}
