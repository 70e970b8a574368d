package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/FutureUnreal/WhaleWhisper/internal/memory"
)

func newTestMemoryService(t *testing.T) *memory.Service {
	t.Helper()
	store, err := memory.OpenStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return memory.NewService(store, &memory.Summarizer{}, memory.DefaultSettings())
}

func newTestMux(t *testing.T) *http.ServeMux {
	t.Helper()
	svc := newTestMemoryService(t)
	mux := http.NewServeMux()
	(&MemoryHandler{Memory: svc}).Register(mux)
	(&AgentHandler{Memory: svc}).Register(mux)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListFactsEmptyScope(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodGet, "/memory/facts", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Facts []memory.Fact `json:"facts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Facts) != 0 {
		t.Fatalf("got %d facts", len(body.Facts))
	}
}

func TestDeleteFactNotFound(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodDelete, "/memory/facts/999", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestDeleteFactInvalidIDIs404(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodDelete, "/memory/facts/not-a-number", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAcceptCandidateRoundTrip(t *testing.T) {
	svc := newTestMemoryService(t)
	mux := http.NewServeMux()
	(&MemoryHandler{Memory: svc}).Register(mux)

	sc := memory.NewScope("s1", "default", "default")
	ctx := context.Background()
	if _, err := svc.Store.InsertCandidate(ctx, sc, "likes tea", "explicit"); err != nil {
		t.Fatalf("insert candidate: %v", err)
	}
	cands, err := svc.ListCandidates(ctx, sc, "pending", 10)
	if err != nil || len(cands) != 1 {
		t.Fatalf("list candidates: %v, %d", err, len(cands))
	}

	path := "/memory/candidates/" + strconv.FormatInt(cands[0].ID, 10) + "/accept"
	rec := doJSON(t, mux, http.MethodPost, path, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out struct {
		OK   bool        `json:"ok"`
		Fact memory.Fact `json:"fact"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !out.OK || out.Fact.Content != "likes tea" {
		t.Fatalf("got %#v", out)
	}
}

func TestRejectCandidateNotFound(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/memory/candidates/42/reject", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/memory/import", map[string]any{
		"facts":     []map[string]any{{"content": "likes coffee", "tags": []string{"explicit"}}},
		"summaries": []map[string]any{{"content": "talked about work"}},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("import status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, mux, http.MethodGet, "/memory/export", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	var out struct {
		Facts     []map[string]any `json:"facts"`
		Summaries []map[string]any `json:"summaries"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Facts) != 1 || len(out.Summaries) != 1 {
		t.Fatalf("got %#v", out)
	}
}

func TestCreateConversationUnknownEngineReturnsBadRequest(t *testing.T) {
	mux := newTestMux(t)
	rec := doJSON(t, mux, http.MethodPost, "/agent/engines/unregistered", map[string]any{"data": map[string]any{}})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestAgentStreamWritesSSEFrames(t *testing.T) {
	mux := newTestMux(t)
	req := httptest.NewRequest(http.MethodPost, "/agent/engines", bytes.NewReader(mustJSON(t, map[string]any{
		"engine": "unregistered",
		"data":   map[string]any{"text": "hello"},
	})))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "event: message.delta") || !strings.Contains(body, "event: message.done") {
		t.Fatalf("missing expected events: %s", body)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return data
}
