package memory

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/FutureUnreal/WhaleWhisper/pkg/provider/llm"
)

const summarizerInstructions = `You summarize a conversation between a user and an assistant for long-term memory.
Respond with JSON only, no prose, matching this shape:
{"title": "4-8 word title", "summary": "at most 400 characters, objective, in the user's language", "facts": [{"content": "a single durable fact worth remembering", "reason": "preference|identity|other"}]}
Paraphrase away any markup. Only include facts with lasting value; the facts list may be empty.`

// SummarizerInput is the subset of a trimmed session window the summarizer
// needs: only user messages are fed in, matching the behavior of the system
// this package replaces.
type SummarizerInput struct {
	UserMessages []string
}

// SummarizerOutput is the parsed, validated result of one summarization call.
type SummarizerOutput struct {
	Title   string
	Summary string
	Facts   []CandidateFact
}

// CandidateFact is a single fact the summarizer proposed.
type CandidateFact struct {
	Content string
	Reason  string
}

// Summarizer drives an llm.Provider to produce a structured summary of a
// trimmed session window. A nil Provider makes every call a no-op, matching
// the "skip rather than error" behavior when no LLM is configured.
type Summarizer struct {
	Provider llm.Provider
}

// Summarize asks the provider to condense in.UserMessages. Returns a
// zero-value, non-error result when no provider is configured or the
// response carries no usable summary — summarization is best-effort and
// never blocks the turn that triggered it.
func (s *Summarizer) Summarize(ctx context.Context, in SummarizerInput) (SummarizerOutput, error) {
	if s.Provider == nil || len(in.UserMessages) == 0 {
		return SummarizerOutput{}, nil
	}

	prompt := "Recent user messages:\n"
	for _, m := range in.UserMessages {
		prompt += "- " + m + "\n"
	}

	var text string
	if s.Provider.SupportsMessages() {
		result, err := s.Provider.Generate(ctx, llm.Request{
			Messages: []llm.Message{
				{Role: "system", Content: summarizerInstructions},
				{Role: "user", Content: prompt},
			},
		})
		if err != nil {
			return SummarizerOutput{}, nil
		}
		text = result.Text
	} else {
		result, err := s.Provider.Generate(ctx, llm.Request{Text: summarizerInstructions + "\n\n" + prompt})
		if err != nil {
			return SummarizerOutput{}, nil
		}
		text = result.Text
	}

	return parseSummarizerResponse(text), nil
}

// parseSummarizerResponse leniently decodes the provider's reply: a direct
// JSON parse first, falling back to the substring between the first '{' and
// the last '}' since providers occasionally wrap JSON in prose despite
// instructions.
func parseSummarizerResponse(text string) SummarizerOutput {
	var raw struct {
		Title   string `json:"title"`
		Summary string `json:"summary"`
		Facts   []any  `json:"facts"`
	}

	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		start := strings.Index(text, "{")
		end := strings.LastIndex(text, "}")
		if start < 0 || end <= start {
			return SummarizerOutput{}
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
			return SummarizerOutput{}
		}
	}

	if strings.TrimSpace(raw.Summary) == "" {
		return SummarizerOutput{}
	}

	return SummarizerOutput{
		Title:   raw.Title,
		Summary: raw.Summary,
		Facts:   normalizeFacts(raw.Facts),
	}
}

// normalizeFacts accepts either a list of plain strings or a list of
// {content, reason} objects, matching the two shapes the summarizer's
// upstream model has been observed to return.
func normalizeFacts(raw []any) []CandidateFact {
	var out []CandidateFact
	for _, item := range raw {
		switch v := item.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				out = append(out, CandidateFact{Content: v, Reason: "other"})
			}
		case map[string]any:
			content, _ := v["content"].(string)
			if strings.TrimSpace(content) == "" {
				continue
			}
			reason, _ := v["reason"].(string)
			if reason == "" {
				reason = "other"
			}
			out = append(out, CandidateFact{Content: content, Reason: reason})
		}
	}
	return out
}
