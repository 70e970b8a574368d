// Package memory implements the gateway's long-term memory engine: a
// per-(profile, user) store of facts, candidate facts pending review, and
// conversation summaries, plus a per-session rolling window of recent
// messages. Context assembled from this store is injected into every
// upstream LLM/agent call so a user's preferences and history persist
// across sessions without re-stating them each turn.
package memory

// Scope identifies the owner of a piece of memory. SessionID is only
// meaningful for message and summary rows; facts and candidates are scoped
// by (ProfileID, UserID) alone and survive across sessions.
type Scope struct {
	SessionID string
	UserID    string
	ProfileID string
}

// NewScope builds a Scope, substituting "default" for any empty field —
// matching the sentinel the rest of the gateway uses for an unset identity.
func NewScope(sessionID, userID, profileID string) Scope {
	return Scope{
		SessionID: orDefault(sessionID),
		UserID:    orDefault(userID),
		ProfileID: orDefault(profileID),
	}
}

func orDefault(s string) string {
	if s == "" {
		return "default"
	}
	return s
}

// Message is one turn recorded into a session's rolling window.
type Message struct {
	ID        int64
	SessionID string
	Role      string // "user" or "assistant"
	Content   string
	CreatedAt int64
}

// Fact is a durable, deduplicated-by-content statement about a user.
type Fact struct {
	ID        int64
	ProfileID string
	UserID    string
	Content   string
	Tags      []string
	CreatedAt int64
}

// Candidate is a fact proposed by the summarizer, awaiting accept/reject.
type Candidate struct {
	ID        int64
	ProfileID string
	UserID    string
	Content   string
	Reason    string
	Status    string // "pending", "accepted", "rejected"
	CreatedAt int64
}

// Summary is a condensed record of a session window that overflowed, kept
// for retrieval in later sessions under the same profile/user.
type Summary struct {
	ID        int64
	SessionID string
	ProfileID string
	UserID    string
	Content   string
	CreatedAt int64
}

// Context is the assembled memory handed to a provider adapter for one
// turn: a system-prompt-shaped summary of facts/summaries, plus the
// session's recent message history (when requested).
type Context struct {
	System   string
	Messages []Message
}

// HasContent reports whether there is anything worth injecting.
func (c Context) HasContent() bool {
	return c.System != "" || len(c.Messages) > 0
}

const (
	CandidateStatusPending  = "pending"
	CandidateStatusAccepted = "accepted"
	CandidateStatusRejected = "rejected"
)
