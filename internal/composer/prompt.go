// Package composer turns retrieved course material into a grounded answer.
package composer

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kalambet/lectern/internal/provider"
	"github.com/kalambet/lectern/internal/retrieval"
)

const (
	defaultMaxContextTokens = 4000
	snippetRunes            = 100

	// NoInformationText is answered when the course holds no material
	// relevant to the question.
	NoInformationText = "I couldn't find anything about this in the course material."
)

const instructions = "You are a teaching assistant for a course. Answer the student's question using only the course material below. " +
	"Cite the material by its title when you use it. " +
	"If the material does not contain the answer, say that the course material does not cover it instead of guessing."

const materialHeader = "\n\n[Course Material]\n"

// Chatter completes chats. *provider.Orchestrator satisfies it.
type Chatter interface {
	ChatComplete(ctx context.Context, messages []provider.Message, grounding string, prefs provider.Preferences) (provider.ChatResult, error)
}

// Source is a citation returned alongside an answer. Snippet is a short
// excerpt, never the full chunk.
type Source struct {
	DocumentID string `json:"document_id"`
	Title      string `json:"title"`
	Snippet    string `json:"snippet"`
	Similarity int    `json:"similarity"`
}

// Answer is a composed reply to a question.
type Answer struct {
	Text       string
	Sources    []Source
	Confidence int
	Model      string
	Provider   string
}

// Composer builds the grounding context from retrieved chunks and asks the
// chat provider for an answer.
type Composer struct {
	MaxContextTokens int
	chat             Chatter
	logger           *slog.Logger
}

// New creates a Composer with the given token budget for injected context.
// If maxContextTokens <= 0, the default (4000) is used.
func New(chat Chatter, maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens, chat: chat, logger: slog.Default()}
}

// Answer composes a reply to question from res. A result without material
// yields NoInformationText at confidence 0 without a provider call.
// Confidence is the mean similarity of the chunks that fit the grounding
// budget, the same chunks listed as Sources.
func (c *Composer) Answer(ctx context.Context, question string, res retrieval.Result) (Answer, error) {
	if res.NoInformation || len(res.Chunks) == 0 {
		return Answer{Text: NoInformationText}, nil
	}

	grounding, used := c.buildGrounding(res.Chunks)
	out, err := c.chat.ChatComplete(ctx,
		[]provider.Message{{Role: provider.RoleUser, Content: question}},
		grounding, provider.Preferences{})
	if err != nil {
		return Answer{}, fmt.Errorf("composing answer: %w", err)
	}

	c.logger.Debug("answer composed", "provider", out.Provider, "model", out.Model,
		"chunks", len(used), "tokens", out.TokenEstimate)

	return Answer{
		Text:       strings.TrimSpace(out.Text),
		Sources:    sources(used),
		Confidence: retrieval.Confidence(used),
		Model:      out.Model,
		Provider:   out.Provider,
	}, nil
}

// buildGrounding constructs the system instruction from chunks, respecting
// the token budget by dropping lowest-similarity chunks first. It returns
// the chunks that made it in, best first.
func (c *Composer) buildGrounding(chunks []retrieval.ScoredChunk) (string, []retrieval.ScoredChunk) {
	sorted := make([]retrieval.ScoredChunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Similarity > sorted[j].Similarity
	})

	remaining := c.MaxContextTokens - provider.EstimateTokens(instructions) - provider.EstimateTokens(materialHeader)

	var entries []string
	var used []retrieval.ScoredChunk
	for _, ch := range sorted {
		entry := formatChunk(ch)
		tokens := provider.EstimateTokens(entry)
		if tokens > remaining {
			continue
		}
		entries = append(entries, entry)
		used = append(used, ch)
		remaining -= tokens
	}

	// A single oversized chunk is cut to fit rather than dropped.
	if len(entries) == 0 && remaining > 0 {
		best := sorted[0]
		best.Text = cutBytes(best.Text, remaining*4-len(formatChunk(retrieval.ScoredChunk{DocumentTitle: best.DocumentTitle})))
		entries = append(entries, formatChunk(best))
		used = append(used, best)
	}

	var sb strings.Builder
	sb.WriteString(instructions)
	sb.WriteString(materialHeader)
	for _, e := range entries {
		sb.WriteString(e)
	}
	return sb.String(), used
}

func formatChunk(ch retrieval.ScoredChunk) string {
	return fmt.Sprintf("(Source: %s)\n%s\n\n", ch.DocumentTitle, ch.Text)
}

// cutBytes truncates s to at most n bytes on a rune boundary.
func cutBytes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func sources(chunks []retrieval.ScoredChunk) []Source {
	out := make([]Source, len(chunks))
	for i, ch := range chunks {
		out[i] = Source{
			DocumentID: ch.DocumentID,
			Title:      ch.DocumentTitle,
			Snippet:    Snippet(ch.Text),
			Similarity: percent(ch.Similarity),
		}
	}
	return out
}

// Snippet returns the first 100 runes of text with whitespace collapsed.
func Snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if utf8.RuneCountInString(text) <= snippetRunes {
		return text
	}
	return string([]rune(text)[:snippetRunes])
}

func percent(sim float64) int {
	return max(0, min(100, int(math.Round(sim*100))))
}
