package memory

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func newTestService(t *testing.T, settings Settings) *Service {
	t.Helper()
	store, err := OpenStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewService(store, &Summarizer{}, settings)
}

func TestFactDeduplication(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	sc := NewScope("s1", "u1", "p1")

	exists, err := svc.Store.FactExists(ctx, sc, "foo")
	if err != nil || exists {
		t.Fatalf("fact should not exist yet: %v %v", exists, err)
	}
	if _, err := svc.Store.InsertFact(ctx, sc, "foo", nil); err != nil {
		t.Fatalf("insert: %v", err)
	}
	exists, err = svc.Store.FactExists(ctx, sc, "foo")
	if err != nil || !exists {
		t.Fatalf("fact should exist: %v %v", exists, err)
	}

	facts, err := svc.ListFacts(ctx, sc, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected exactly one fact, got %d", len(facts))
	}
}

func TestExplicitFactCaptureEnglish(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	sc := NewScope("s1", "u1", "p1")

	if err := svc.RecordMessage(ctx, sc, "user", "Please remember that I speak French."); err != nil {
		t.Fatalf("record: %v", err)
	}

	facts, err := svc.ListFacts(ctx, sc, 10)
	if err != nil {
		t.Fatalf("list facts: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected one captured fact, got %d", len(facts))
	}
	if facts[0].Content != "I speak French" {
		t.Fatalf("content = %q", facts[0].Content)
	}
	if len(facts[0].Tags) != 1 || facts[0].Tags[0] != "explicit" {
		t.Fatalf("tags = %#v", facts[0].Tags)
	}
}

func TestSummaryExcludesCurrentSession(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	otherSession := NewScope("other", "u1", "p1")
	currentSession := NewScope("current", "u1", "p1")

	if _, err := svc.Store.InsertSummary(ctx, otherSession, "2026-01-01: Title\n|||| summary text"); err != nil {
		t.Fatalf("insert summary: %v", err)
	}

	memCtx, err := svc.BuildContext(ctx, currentSession, true)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if !strings.Contains(memCtx.System, "summary text") {
		t.Fatalf("expected summary from other session, got %q", memCtx.System)
	}

	memCtx2, err := svc.BuildContext(ctx, otherSession, true)
	if err != nil {
		t.Fatalf("build context: %v", err)
	}
	if strings.Contains(memCtx2.System, "summary text") {
		t.Fatalf("own session's summary should be excluded, got %q", memCtx2.System)
	}
}

func TestWindowTrimmingNoopBelowThreshold(t *testing.T) {
	settings := DefaultSettings()
	settings.SessionWindow = 10
	svc := newTestService(t, settings)
	ctx := context.Background()
	sc := NewScope("s1", "u1", "p1")

	for i := 0; i < 3; i++ {
		if err := svc.RecordMessage(ctx, sc, "user", "hi"); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := svc.MaybeSummarize(ctx, sc); err != nil {
		t.Fatalf("summarize: %v", err)
	}
	n, err := svc.Store.CountMessages(ctx, sc.SessionID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected no trim below threshold, count = %d", n)
	}
}

func TestAcceptCandidateTwiceYieldsOneFact(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	sc := NewScope("s1", "u1", "p1")

	cand, err := svc.Store.InsertCandidate(ctx, sc, "Prefers Celsius", "preference")
	if err != nil {
		t.Fatalf("insert candidate: %v", err)
	}

	fact, ok, err := svc.AcceptCandidate(ctx, sc, cand.ID)
	if err != nil || !ok {
		t.Fatalf("accept: ok=%v err=%v", ok, err)
	}
	if fact.Content != "Prefers Celsius" {
		t.Fatalf("fact content = %q", fact.Content)
	}

	// Second accept on the now-non-pending candidate must fail.
	_, ok, err = svc.AcceptCandidate(ctx, sc, cand.ID)
	if err != nil {
		t.Fatalf("second accept errored: %v", err)
	}
	if ok {
		t.Fatalf("second accept on non-pending candidate should fail")
	}

	facts, err := svc.ListFacts(ctx, sc, 10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(facts) != 1 {
		t.Fatalf("expected exactly one fact after double-accept, got %d", len(facts))
	}
}

func TestExportImportRoundTrip(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	src := NewScope("s1", "u1", "p1")
	dst := NewScope("s1", "u2", "p2")

	if _, err := svc.Store.InsertFact(ctx, src, "fact one", []string{"explicit"}); err != nil {
		t.Fatalf("insert fact: %v", err)
	}
	if _, err := svc.Store.InsertSummary(ctx, src, "a summary"); err != nil {
		t.Fatalf("insert summary: %v", err)
	}

	exported, err := svc.ExportData(ctx, src, 200, 200)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	stats, err := svc.ImportData(ctx, dst, toRows(exported["facts"]), toRows(exported["summaries"]))
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if stats["facts"] != 1 || stats["summaries"] != 1 {
		t.Fatalf("stats = %#v", stats)
	}

	stats2, err := svc.ImportData(ctx, dst, toRows(exported["facts"]), toRows(exported["summaries"]))
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if stats2["facts"] != 0 {
		t.Fatalf("facts should dedupe on re-import, got %d", stats2["facts"])
	}
}

func toRows(v any) []map[string]any {
	rows, _ := v.([]map[string]any)
	return rows
}

func TestRecordMessageIgnoresEmptyContent(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	sc := NewScope("s1", "u1", "p1")

	if err := svc.RecordMessage(ctx, sc, "user", ""); err != nil {
		t.Fatalf("record: %v", err)
	}
	n, err := svc.Store.CountMessages(ctx, sc.SessionID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 0 {
		t.Fatalf("empty content should not be stored, count = %d", n)
	}
}

func TestTruncateMeasuresCodePointsNotBytes(t *testing.T) {
	// Each 记 rune is 3 bytes, so a byte-based cap would cut this string to
	// roughly a third of its intended character length.
	chinese := strings.Repeat("记", 10)
	got := truncate(chinese, 6)
	if got != strings.Repeat("记", 3)+"..." {
		t.Fatalf("got %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncated result is not valid UTF-8: %q", got)
	}
}

func TestTruncateNoopWhenWithinLimit(t *testing.T) {
	if got := truncate("short", 100); got != "short" {
		t.Fatalf("got %q", got)
	}
}

func TestTruncateDisabledWhenMaxCharsNonPositive(t *testing.T) {
	text := strings.Repeat("x", 500)
	if got := truncate(text, 0); got != text {
		t.Fatalf("expected truncation disabled, got len %d", len(got))
	}
}

func TestStoreCandidatesKeepsLongChineseFact(t *testing.T) {
	svc := newTestService(t, DefaultSettings())
	ctx := context.Background()
	sc := NewScope("s1", "u1", "p1")

	// 67 Chinese characters is well under 200 runes but would exceed 200
	// bytes, which a byte-length cap would wrongly reject.
	fact := strings.Repeat("记", 67)
	if err := svc.storeCandidates(ctx, sc, []CandidateFact{{Content: fact}}); err != nil {
		t.Fatalf("store candidates: %v", err)
	}
	pending, err := svc.ListCandidates(ctx, sc, "pending", 10)
	if err != nil {
		t.Fatalf("list candidates: %v", err)
	}
	if len(pending) != 1 || pending[0].Content != fact {
		t.Fatalf("expected long chinese candidate to be kept, got %#v", pending)
	}
}
