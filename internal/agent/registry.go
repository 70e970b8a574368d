package agent

import (
	"context"
	"strings"
)

// baseHandler is the fallback for an engine type with no registered
// handler. Its Stream trivially echoes the input as one delta followed by
// "message.done" so the HTTP agent-engine endpoint stays usable for
// smoke-testing wiring even against an engine type the registry doesn't
// recognize, rather than erroring outright.
type baseHandler struct{}

func (baseHandler) CreateConversation(_ context.Context, _ Context) (string, error) {
	return "", nil
}

func (baseHandler) Stream(_ context.Context, _ Context, text string, emit func(Event)) error {
	if text != "" {
		emit(Event{Event: "message.delta", Data: map[string]any{"text": text}})
	}
	emit(Event{Event: "message.done", Data: map[string]any{}})
	return nil
}

var registry = map[string]func() Handler{}

// Register associates every engine type in engineTypes (case-insensitively)
// with a handler constructor. Called from each adapter's init.
func Register(engineTypes []string, newHandler func() Handler) {
	for _, t := range engineTypes {
		if t == "" {
			continue
		}
		registry[strings.ToLower(t)] = newHandler
	}
}

// Build returns the handler registered for engineType, or baseHandler{} if
// none is registered.
func Build(engineType string) Handler {
	if newHandler, ok := registry[strings.ToLower(engineType)]; ok {
		return newHandler()
	}
	return baseHandler{}
}
