package memory

import "time"

// Settings configures the memory engine. Every field except
// SummarizerCallTimeout maps to one of the MEMORY_* environment variables
// this gateway accepts.
type Settings struct {
	Enabled bool
	DBPath  string

	SessionWindow int // max recent messages kept per session before a trim
	FactsMax      int // max facts injected into context
	SummariesMax  int // max summaries injected into context

	SummaryMaxChars        int // truncate a generated summary to this length
	SummaryMinMessages     int // minimum overflow past SessionWindow (messages of any role) before trimming and summarizing
	SummaryUserLimit       int // cap on trimmed user messages fed to the summarizer
	SummaryAssistantLimit  int // reserved: not consumed by the summarization path today
	SummarizerCallTimeout  time.Duration
}

// DefaultSettings mirrors the defaults of the system this gateway replaces.
func DefaultSettings() Settings {
	return Settings{
		Enabled:               true,
		DBPath:                "data/memory.db",
		SessionWindow:         12,
		FactsMax:              48,
		SummariesMax:          12,
		SummaryMaxChars:       480,
		SummaryMinMessages:    6,
		SummaryUserLimit:      3,
		SummaryAssistantLimit: 2,
		SummarizerCallTimeout: 30 * time.Second,
	}
}
