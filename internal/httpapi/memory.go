// Package httpapi exposes the memory-management and agent-engine-streaming
// surfaces over plain HTTP, mirroring the duplex socket's memory and
// agent-handler concerns as REST + SSE for callers that have no persistent
// connection to the hub. Neither handler participates in the hub's
// peer/session/auth model: every request carries its own scope.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/FutureUnreal/WhaleWhisper/internal/memory"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// MemoryHandler serves the /memory/... routes against a *memory.Service.
type MemoryHandler struct {
	Memory *memory.Service
}

// Register adds the memory-management routes to mux.
func (h *MemoryHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /memory/facts", h.listFacts)
	mux.HandleFunc("DELETE /memory/facts/{id}", h.deleteFact)
	mux.HandleFunc("GET /memory/candidates", h.listCandidates)
	mux.HandleFunc("POST /memory/candidates/{id}/accept", h.acceptCandidate)
	mux.HandleFunc("POST /memory/candidates/{id}/reject", h.rejectCandidate)
	mux.HandleFunc("GET /memory/summaries", h.listSummaries)
	mux.HandleFunc("DELETE /memory/summaries/{id}", h.deleteSummary)
	mux.HandleFunc("GET /memory/export", h.export)
	mux.HandleFunc("POST /memory/import", h.importData)
}

// scopeFromQuery builds a profile/user scope from query params, defaulting
// both to "default" — these routes operate on the durable profile/user
// scope, not a live session, so session_id is always fixed to "default".
func scopeFromQuery(r *http.Request) memory.Scope {
	q := r.URL.Query()
	return memory.NewScope("default", q.Get("user_id"), q.Get("profile_id"))
}

func clampLimit(raw string, def int) int {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > maxListLimit {
		return maxListLimit
	}
	return n
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	return id, err == nil
}

func (h *MemoryHandler) listFacts(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), defaultListLimit)
	facts, err := h.Memory.ListFacts(r.Context(), scopeFromQuery(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"facts": facts})
}

func (h *MemoryHandler) deleteFact(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	found, err := h.Memory.DeleteFact(r.Context(), scopeFromQuery(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *MemoryHandler) listCandidates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := clampLimit(q.Get("limit"), defaultListLimit)
	candidates, err := h.Memory.ListCandidates(r.Context(), scopeFromQuery(r), q.Get("status"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": candidates})
}

func (h *MemoryHandler) acceptCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	fact, found, err := h.Memory.AcceptCandidate(r.Context(), scopeFromQuery(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "fact": fact})
}

func (h *MemoryHandler) rejectCandidate(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	found, err := h.Memory.RejectCandidate(r.Context(), scopeFromQuery(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *MemoryHandler) listSummaries(w http.ResponseWriter, r *http.Request) {
	limit := clampLimit(r.URL.Query().Get("limit"), defaultListLimit)
	summaries, err := h.Memory.ListSummaries(r.Context(), scopeFromQuery(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

func (h *MemoryHandler) deleteSummary(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	found, err := h.Memory.DeleteSummary(r.Context(), scopeFromQuery(r), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]any{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *MemoryHandler) export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	factsLimit := clampLimit(q.Get("facts_limit"), defaultListLimit)
	summariesLimit := clampLimit(q.Get("summaries_limit"), defaultListLimit)
	data, err := h.Memory.ExportData(r.Context(), scopeFromQuery(r), factsLimit, summariesLimit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *MemoryHandler) importData(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Facts     []map[string]any `json:"facts"`
		Summaries []map[string]any `json:"summaries"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	counts, err := h.Memory.ImportData(r.Context(), scopeFromQuery(r), body.Facts, body.Summaries)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"status":"error"}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]any{"error": err.Error()})
}
