// Package eventcodec parses and constructs the JSON envelope carried over the
// gateway's duplex socket and SSE surfaces. An envelope wraps a typed payload
// with routing metadata (session, source module, timestamp) that every
// component downstream of the hub relies on being present and normalized.
package eventcodec

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Envelope is the normalized form of one event moving through the gateway,
// in either direction.
type Envelope struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Data      map[string]any `json:"data"`
	TS        int64          `json:"ts"`
	SessionID string         `json:"sessionId,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// ParseError reports a malformed inbound frame: invalid JSON or a non-object
// frame, a missing or empty type, or a data/payload value that is not a JSON
// object.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string { return "eventcodec: " + e.Reason }

// Parse decodes a raw JSON text frame into an Envelope.
//
// data is preferred over the legacy payload key; ts defaults to the current
// wall clock; id is coerced to a string if present. session_id/sessionId at
// the top level takes priority over the same keys nested under data.
func Parse(raw []byte) (Envelope, error) {
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Envelope{}, &ParseError{Reason: fmt.Sprintf("invalid json: %v", err)}
	}

	typ, _ := obj["type"].(string)
	if typ == "" {
		return Envelope{}, &ParseError{Reason: "missing or empty type"}
	}

	data, err := extractData(obj)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{Type: typ, Data: data, TS: currentSeconds()}

	if ts, ok := obj["ts"]; ok {
		if f, ok := toFloat(ts); ok {
			env.TS = int64(f)
		}
	}

	if id, ok := obj["id"]; ok {
		env.ID = fmt.Sprintf("%v", id)
	}

	if sid := stringField(obj, "sessionId", "session_id"); sid != "" {
		env.SessionID = sid
	} else if sid := stringField(data, "sessionId", "session_id"); sid != "" {
		env.SessionID = sid
	}

	if src := stringField(obj, "source"); src != "" {
		env.Source = src
	}

	return env, nil
}

// extractData pulls the payload object out of the raw envelope, preferring
// "data" and falling back to the legacy "payload" key.
func extractData(obj map[string]any) (map[string]any, error) {
	raw, ok := obj["data"]
	if !ok {
		raw, ok = obj["payload"]
	}
	if !ok || raw == nil {
		return map[string]any{}, nil
	}
	data, ok := raw.(map[string]any)
	if !ok {
		return nil, &ParseError{Reason: "data must be an object"}
	}
	return data, nil
}

func stringField(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func currentSeconds() int64 { return time.Now().Unix() }

// MakeOption customizes an outgoing envelope built by Make.
type MakeOption func(*Envelope)

// WithSessionID stamps the envelope with a session id.
func WithSessionID(id string) MakeOption {
	return func(e *Envelope) { e.SessionID = id }
}

// WithSource stamps the envelope with an originating module name.
func WithSource(source string) MakeOption {
	return func(e *Envelope) { e.Source = source }
}

// WithID overrides the auto-generated event id.
func WithID(id string) MakeOption {
	return func(e *Envelope) { e.ID = id }
}

// Make builds an outgoing envelope, stamping a fresh id and the current
// timestamp unless overridden.
func Make(eventType string, data map[string]any, opts ...MakeOption) Envelope {
	if data == nil {
		data = map[string]any{}
	}
	env := Envelope{
		Type: eventType,
		ID:   uuid.NewString(),
		Data: data,
		TS:   currentSeconds(),
	}
	for _, o := range opts {
		o(&env)
	}
	return env
}

// wireEnvelope is the JSON shape written to the socket: it duplicates Data
// under the legacy "payload" key for clients that have not migrated to the
// "data" field, matching the behavior of the system this gateway replaces.
type wireEnvelope struct {
	Type      string         `json:"type"`
	ID        string         `json:"id,omitempty"`
	Data      map[string]any `json:"data"`
	Payload   map[string]any `json:"payload"`
	TS        int64          `json:"ts"`
	SessionID string         `json:"sessionId,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// Encode marshals an Envelope to its wire JSON form, including the legacy
// payload duplicate.
func (e Envelope) Encode() ([]byte, error) {
	w := wireEnvelope{
		Type:      e.Type,
		ID:        e.ID,
		Data:      e.Data,
		Payload:   e.Data,
		TS:        e.TS,
		SessionID: e.SessionID,
		Source:    e.Source,
	}
	return json.Marshal(w)
}
