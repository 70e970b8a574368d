package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// schema creates every table this package needs. Statements are idempotent
// so Store can run them on every open without a separate migration step.
const schema = `
CREATE TABLE IF NOT EXISTS memory_messages (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	profile_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_messages_session ON memory_messages(session_id, id);

CREATE TABLE IF NOT EXISTS memory_facts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	tags_json TEXT NOT NULL DEFAULT '[]',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_facts_scope ON memory_facts(profile_id, user_id, id);

CREATE TABLE IF NOT EXISTS memory_summaries (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	profile_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_summaries_scope ON memory_summaries(profile_id, user_id, id);

CREATE TABLE IF NOT EXISTS memory_candidates (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	profile_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT 'other',
	status TEXT NOT NULL DEFAULT 'pending',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_candidates_scope ON memory_candidates(profile_id, user_id, id);
CREATE INDEX IF NOT EXISTS idx_memory_candidates_status ON memory_candidates(status, id);
`

// Store is the single-file SQLite-backed persistence layer for the memory
// engine. One Store owns one database file for the lifetime of the process;
// unlike the richer Postgres-backed stores this gateway's predecessor used,
// there is no connection pool to tune — SQLite serializes writes itself.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the SQLite database at path and
// ensures its schema exists.
func OpenStore(ctx context.Context, path string) (*Store, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("memory store: create db dir: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("memory store: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver is not safe for concurrent writers across connections

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory store: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("memory store: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the database connection is alive, for readiness checks.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func now() int64 { return time.Now().Unix() }

// ─── Messages ────────────────────────────────────────────────────────────

// InsertMessage records one turn.
func (s *Store) InsertMessage(ctx context.Context, sc Scope, role, content string) (Message, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_messages (session_id, profile_id, user_id, role, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sc.SessionID, sc.ProfileID, sc.UserID, role, content, ts)
	if err != nil {
		return Message{}, fmt.Errorf("memory store: insert message: %w", err)
	}
	id, _ := res.LastInsertId()
	return Message{ID: id, SessionID: sc.SessionID, Role: role, Content: content, CreatedAt: ts}, nil
}

// CountMessages returns the number of rows recorded for a session.
func (s *Store) CountMessages(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_messages WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("memory store: count messages: %w", err)
	}
	return n, nil
}

// ListRecentMessages returns up to limit messages for a session in ascending
// (chronological) order.
func (s *Store) ListRecentMessages(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM memory_messages
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: list recent messages: %w", err)
	}
	defer rows.Close()

	var reversed []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory store: scan message: %w", err)
		}
		reversed = append(reversed, m)
	}
	out := make([]Message, len(reversed))
	for i, m := range reversed {
		out[len(reversed)-1-i] = m
	}
	return out, rows.Err()
}

// TrimMessages deletes the oldest messages in a session down to keep rows
// remaining, returning the deleted rows in chronological order for the
// caller to hand to the summarizer.
func (s *Store) TrimMessages(ctx context.Context, sessionID string, keep int) ([]Message, error) {
	total, err := s.CountMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	overflow := total - keep
	if overflow <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM memory_messages
		 WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, overflow)
	if err != nil {
		return nil, fmt.Errorf("memory store: select trim candidates: %w", err)
	}
	var removed []Message
	var ids []any
	placeholders := ""
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("memory store: scan trim candidate: %w", err)
		}
		removed = append(removed, m)
		ids = append(ids, m.ID)
		if placeholders != "" {
			placeholders += ","
		}
		placeholders += "?"
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	query := fmt.Sprintf(`DELETE FROM memory_messages WHERE id IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, ids...); err != nil {
		return nil, fmt.Errorf("memory store: delete trimmed messages: %w", err)
	}
	return removed, nil
}

// ─── Facts ───────────────────────────────────────────────────────────────

// FactExists reports whether a fact with identical content already exists
// for the scope.
func (s *Store) FactExists(ctx context.Context, sc Scope, content string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_facts WHERE profile_id = ? AND user_id = ? AND content = ?`,
		sc.ProfileID, sc.UserID, content).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("memory store: fact exists: %w", err)
	}
	return n > 0, nil
}

// InsertFact adds a new fact, assuming the caller already checked FactExists.
func (s *Store) InsertFact(ctx context.Context, sc Scope, content string, tags []string) (Fact, error) {
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return Fact{}, fmt.Errorf("memory store: marshal tags: %w", err)
	}
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_facts (profile_id, user_id, content, tags_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		sc.ProfileID, sc.UserID, content, string(tagsJSON), ts)
	if err != nil {
		return Fact{}, fmt.Errorf("memory store: insert fact: %w", err)
	}
	id, _ := res.LastInsertId()
	return Fact{ID: id, ProfileID: sc.ProfileID, UserID: sc.UserID, Content: content, Tags: tags, CreatedAt: ts}, nil
}

// ListFacts returns up to limit facts for a scope, most recent first.
func (s *Store) ListFacts(ctx context.Context, sc Scope, limit int) ([]Fact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, user_id, content, tags_json, created_at FROM memory_facts
		 WHERE profile_id = ? AND user_id = ? ORDER BY id DESC LIMIT ?`,
		sc.ProfileID, sc.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: list facts: %w", err)
	}
	defer rows.Close()

	var facts []Fact
	for rows.Next() {
		var f Fact
		var tagsJSON string
		if err := rows.Scan(&f.ID, &f.ProfileID, &f.UserID, &f.Content, &tagsJSON, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory store: scan fact: %w", err)
		}
		_ = json.Unmarshal([]byte(tagsJSON), &f.Tags)
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// DeleteFact removes a fact scoped to (profile, user). Returns false if no
// matching row existed.
func (s *Store) DeleteFact(ctx context.Context, sc Scope, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_facts WHERE id = ? AND profile_id = ? AND user_id = ?`, id, sc.ProfileID, sc.UserID)
	if err != nil {
		return false, fmt.Errorf("memory store: delete fact: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ─── Candidates ──────────────────────────────────────────────────────────

// CandidateExists reports whether a pending candidate with identical content
// already exists for the scope.
func (s *Store) CandidateExists(ctx context.Context, sc Scope, content string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memory_candidates WHERE profile_id = ? AND user_id = ? AND content = ? AND status = ?`,
		sc.ProfileID, sc.UserID, content, CandidateStatusPending).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("memory store: candidate exists: %w", err)
	}
	return n > 0, nil
}

// InsertCandidate adds a new pending candidate fact.
func (s *Store) InsertCandidate(ctx context.Context, sc Scope, content, reason string) (Candidate, error) {
	if reason == "" {
		reason = "other"
	}
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_candidates (profile_id, user_id, content, reason, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sc.ProfileID, sc.UserID, content, reason, CandidateStatusPending, ts)
	if err != nil {
		return Candidate{}, fmt.Errorf("memory store: insert candidate: %w", err)
	}
	id, _ := res.LastInsertId()
	return Candidate{ID: id, ProfileID: sc.ProfileID, UserID: sc.UserID, Content: content, Reason: reason, Status: CandidateStatusPending, CreatedAt: ts}, nil
}

// ListCandidates returns up to limit candidates with the given status.
func (s *Store) ListCandidates(ctx context.Context, sc Scope, status string, limit int) ([]Candidate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, profile_id, user_id, content, reason, status, created_at FROM memory_candidates
		 WHERE profile_id = ? AND user_id = ? AND status = ? ORDER BY id DESC LIMIT ?`,
		sc.ProfileID, sc.UserID, status, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: list candidates: %w", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.ID, &c.ProfileID, &c.UserID, &c.Content, &c.Reason, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory store: scan candidate: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetPendingCandidate fetches a single pending candidate scoped to
// (profile, user). Returns (Candidate{}, false, nil) if absent or not pending.
func (s *Store) GetPendingCandidate(ctx context.Context, sc Scope, id int64) (Candidate, bool, error) {
	var c Candidate
	err := s.db.QueryRowContext(ctx,
		`SELECT id, profile_id, user_id, content, reason, status, created_at FROM memory_candidates
		 WHERE id = ? AND profile_id = ? AND user_id = ? AND status = ?`,
		id, sc.ProfileID, sc.UserID, CandidateStatusPending).
		Scan(&c.ID, &c.ProfileID, &c.UserID, &c.Content, &c.Reason, &c.Status, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return Candidate{}, false, nil
	}
	if err != nil {
		return Candidate{}, false, fmt.Errorf("memory store: get pending candidate: %w", err)
	}
	return c, true, nil
}

// SetCandidateStatus transitions a candidate to a terminal status.
func (s *Store) SetCandidateStatus(ctx context.Context, sc Scope, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memory_candidates SET status = ? WHERE id = ? AND profile_id = ? AND user_id = ?`,
		status, id, sc.ProfileID, sc.UserID)
	if err != nil {
		return fmt.Errorf("memory store: set candidate status: %w", err)
	}
	return nil
}

// ─── Summaries ───────────────────────────────────────────────────────────

// InsertSummary adds a new summary row.
func (s *Store) InsertSummary(ctx context.Context, sc Scope, content string) (Summary, error) {
	ts := now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO memory_summaries (session_id, profile_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		sc.SessionID, sc.ProfileID, sc.UserID, content, ts)
	if err != nil {
		return Summary{}, fmt.Errorf("memory store: insert summary: %w", err)
	}
	id, _ := res.LastInsertId()
	return Summary{ID: id, SessionID: sc.SessionID, ProfileID: sc.ProfileID, UserID: sc.UserID, Content: content, CreatedAt: ts}, nil
}

// ListSummariesExcludingSession returns up to limit summaries for
// (profile, user) excluding the given session, most recent first.
func (s *Store) ListSummariesExcludingSession(ctx context.Context, sc Scope, excludeSessionID string, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, profile_id, user_id, content, created_at FROM memory_summaries
		 WHERE profile_id = ? AND user_id = ? AND session_id != ? ORDER BY id DESC LIMIT ?`,
		sc.ProfileID, sc.UserID, excludeSessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: list summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.SessionID, &sm.ProfileID, &sm.UserID, &sm.Content, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory store: scan summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// ListSummaries returns up to limit summaries for (profile, user) regardless
// of session, most recent first. Used by the HTTP listing/export endpoints.
func (s *Store) ListSummaries(ctx context.Context, sc Scope, limit int) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, profile_id, user_id, content, created_at FROM memory_summaries
		 WHERE profile_id = ? AND user_id = ? ORDER BY id DESC LIMIT ?`,
		sc.ProfileID, sc.UserID, limit)
	if err != nil {
		return nil, fmt.Errorf("memory store: list all summaries: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.SessionID, &sm.ProfileID, &sm.UserID, &sm.Content, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("memory store: scan summary: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

// DeleteSummary removes a summary scoped to (profile, user).
func (s *Store) DeleteSummary(ctx context.Context, sc Scope, id int64) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_summaries WHERE id = ? AND profile_id = ? AND user_id = ?`, id, sc.ProfileID, sc.UserID)
	if err != nil {
		return false, fmt.Errorf("memory store: delete summary: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
