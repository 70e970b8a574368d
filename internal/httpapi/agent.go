package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/FutureUnreal/WhaleWhisper/internal/agent"
	"github.com/FutureUnreal/WhaleWhisper/internal/memory"
	"github.com/FutureUnreal/WhaleWhisper/internal/sse"
)

// AgentHandler serves the /agent/engines... routes: a synchronous
// conversation-creation call and an SSE streaming call, each addressing
// whichever agent.Handler the request's engine type resolves to. Memory is
// optional — nil disables the memory-bridge option entirely.
type AgentHandler struct {
	Memory *memory.Service
}

// Register adds the agent-engine routes to mux.
func (h *AgentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /agent/engines/{engine}", h.createConversation)
	mux.HandleFunc("POST /agent/engines", h.stream)
}

func (h *AgentHandler) createConversation(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Data map[string]any `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	engineType := r.PathValue("engine")
	handler := agent.Build(engineType)
	actx := agent.Context{Runtime: agent.RuntimeConfig{EngineType: engineType}, Params: body.Data}

	id, err := handler.CreateConversation(r.Context(), actx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "could not create conversation"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversationId": id})
}

func (h *AgentHandler) stream(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Engine string         `json:"engine"`
		Data   map[string]any `json:"data"`
		Config map[string]any `json:"config"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	text := coerceText(body.Data)
	if h.Memory != nil && memoryBridgeEnabled(body.Config) {
		sc := scopeFromAgentData(body.Data)
		memCtx, err := h.Memory.BuildContext(r.Context(), sc, false)
		if err == nil {
			text = memory.BuildPrompt("", "", memCtx, text)
		}
	}

	handler := agent.Build(body.Engine)
	actx := agent.Context{Runtime: agent.RuntimeConfig{EngineType: body.Engine}, Params: body.Data}

	writer := sse.NewWriter(w)
	done := false
	err := handler.Stream(r.Context(), actx, text, func(ev agent.Event) {
		if ev.Event == "message.done" {
			done = true
		}
		writer.Send(ev.Event, ev.Data)
	})
	if err != nil {
		writer.Send("error", map[string]any{"message": err.Error()})
	}
	if !done {
		writer.Send("message.done", map[string]any{})
	}
}

// coerceText extracts the query text from an agent-stream request body's
// data object, matching the fallback order the original system uses when
// the caller supplies "text", "input", or "prompt".
func coerceText(data map[string]any) string {
	for _, key := range []string{"text", "input", "prompt"} {
		if s, ok := data[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// memoryBridgeEnabled reports whether config requests the memory bridge,
// accepting both the snake_case and camelCase spellings a client might send.
func memoryBridgeEnabled(config map[string]any) bool {
	if config == nil {
		return false
	}
	for _, key := range []string{"memory_bridge", "memoryBridge"} {
		if v, ok := config[key].(bool); ok && v {
			return true
		}
	}
	return false
}

// scopeFromAgentData reads the memory-bridge scope from the request body's
// data object rather than any in-process session registry — HTTP calls are
// stateless and have no peer to carry session continuity.
func scopeFromAgentData(data map[string]any) memory.Scope {
	str := func(key string) string {
		s, _ := data[key].(string)
		return s
	}
	return memory.NewScope(str("session_id"), str("user_id"), str("profile_id"))
}
