// Package sse provides a minimal Server-Sent Events reader, used by the agent
// adapters and the Coze LLM provider, and a writer for the agent-engine HTTP
// endpoint. Each upstream speaks a
// slightly different event vocabulary on top of the same line protocol, so
// the reader only handles framing; callers interpret Event.Type and
// Event.Data themselves.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// Done is the sentinel data payload OpenAI-compatible and FastGPT streams
// send on their final frame instead of a JSON body.
const Done = "[DONE]"

// Event is a single SSE event with an optional type and data payload.
type Event struct {
	Type string // value of the "event:" field (may be empty)
	Data string // value of the "data:" field(s), joined with "\n"
}

// Reader reads SSE events from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r in a buffered SSE frame reader. The buffer is sized for
// large tool-call or agent payloads that a single chunk provider may emit.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	return &Reader{scanner: sc}
}

// Next returns the next event. Returns (Event{}, io.EOF) at end of stream.
func (r *Reader) Next() (Event, error) {
	var ev Event
	var dataLines []string

	for r.scanner.Scan() {
		line := r.scanner.Text()

		if line == "" {
			if len(dataLines) > 0 || ev.Type != "" {
				ev.Data = strings.Join(dataLines, "\n")
				return ev, nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Type = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// id: and retry: fields carry no meaning for any provider we speak to.
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if len(dataLines) > 0 || ev.Type != "" {
		ev.Data = strings.Join(dataLines, "\n")
		return ev, nil
	}
	return Event{}, io.EOF
}
