// Package retrieval ranks a course's stored chunks against a question, by
// vector similarity or, when embeddings are unavailable, by asking a chat
// model to pick relevant chunks.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/kalambet/lectern/internal/provider"
	"github.com/kalambet/lectern/internal/storage"
)

const (
	DefaultTopK         = 5
	DefaultPreviewChars = 200

	tracerName = "github.com/kalambet/lectern/internal/retrieval"
)

// Mode is how a result was ranked.
type Mode string

const (
	ModeEmbedding Mode = "embedding"
	ModeHybrid    Mode = "hybrid"
)

// ScoredChunk is a retrieved chunk with its similarity in [0,1] (cosine
// values can be negative for unrelated text).
type ScoredChunk struct {
	DocumentID    string
	DocumentTitle string
	Index         int
	Text          string
	Similarity    float64
}

// Result is a ranked retrieval. NoInformation is set when the course has no
// usable material.
type Result struct {
	Mode          Mode
	Chunks        []ScoredChunk
	Confidence    int
	NoInformation bool
}

// ChunkSource reads the chunks of a course's retrievable documents.
// *storage.Store satisfies it.
type ChunkSource interface {
	ScopeChunks(ctx context.Context, courseID string) ([]storage.ScopedChunk, error)
}

// Provider is the slice of the orchestrator retrieval needs.
type Provider interface {
	Embed(ctx context.Context, text string, prefs provider.Preferences) (provider.EmbedResult, error)
	ChatComplete(ctx context.Context, messages []provider.Message, grounding string, prefs provider.Preferences) (provider.ChatResult, error)
}

// Retriever finds the chunks most relevant to a question.
type Retriever struct {
	source       ChunkSource
	provider     Provider
	topK         int
	previewChars int
	logger       *slog.Logger
}

// NewRetriever creates a Retriever. Non-positive topK and previewChars use
// the defaults.
func NewRetriever(source ChunkSource, p Provider, topK, previewChars int) *Retriever {
	if topK <= 0 {
		topK = DefaultTopK
	}
	if previewChars <= 0 {
		previewChars = DefaultPreviewChars
	}
	return &Retriever{
		source:       source,
		provider:     p,
		topK:         topK,
		previewChars: previewChars,
		logger:       slog.Default(),
	}
}

// Retrieve returns the top chunks for question within courseID. An empty
// scope returns a NoInformation result without calling any provider.
func (r *Retriever) Retrieve(ctx context.Context, courseID, question string) (Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "retrieval.retrieve",
		trace.WithAttributes(attribute.String("course.id", courseID)))
	defer span.End()

	scope, err := r.source.ScopeChunks(ctx, courseID)
	if err != nil {
		return Result{}, fmt.Errorf("loading chunks: %w", err)
	}
	span.SetAttributes(attribute.Int("retrieval.scope_size", len(scope)))
	if len(scope) == 0 {
		return Result{Mode: ModeEmbedding, NoInformation: true}, nil
	}

	var res Result
	if !hasVectors(scope) {
		r.logger.Info("no embedded chunks in scope, using hybrid retrieval", "course_id", courseID)
		res, err = r.hybrid(ctx, scope, question)
	} else {
		res, err = r.byEmbedding(ctx, scope, question)
	}
	if err != nil {
		return Result{}, err
	}

	span.SetAttributes(
		attribute.String("retrieval.mode", string(res.Mode)),
		attribute.Int("retrieval.confidence", res.Confidence),
	)
	return res, nil
}

func (r *Retriever) byEmbedding(ctx context.Context, scope []storage.ScopedChunk, question string) (Result, error) {
	emb, err := r.provider.Embed(ctx, question, provider.Preferences{})
	switch {
	case err != nil && errors.Is(err, provider.ErrQuotaExceeded):
		r.logger.Warn("embedding quota exhausted, using hybrid retrieval", "error", err)
		return r.hybrid(ctx, scope, question)
	case err != nil:
		return Result{}, fmt.Errorf("embedding question: %w", err)
	case emb.Hybrid:
		return r.hybrid(ctx, scope, question)
	}

	candidates := make([]ScoredChunk, 0, len(scope))
	for _, c := range scope {
		if len(c.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, ScoredChunk{
			DocumentID:    c.DocumentID,
			DocumentTitle: c.DocumentTitle,
			Index:         c.Index,
			Text:          c.Text,
			Similarity:    CosineSimilarity(emb.Vector, c.Embedding),
		})
	}

	chunks := topK(candidates, r.topK)
	return Result{Mode: ModeEmbedding, Chunks: chunks, Confidence: Confidence(chunks)}, nil
}

func (r *Retriever) hybrid(ctx context.Context, scope []storage.ScopedChunk, question string) (Result, error) {
	previews := make([]string, len(scope))
	for i, c := range scope {
		previews[i] = preview(c.Text, r.previewChars)
	}
	system, user := hybridPrompt(question, previews, r.topK)

	resp, err := r.provider.ChatComplete(ctx, []provider.Message{{Role: provider.RoleUser, Content: user}}, system, provider.Preferences{})
	if err != nil {
		return Result{}, fmt.Errorf("hybrid selection: %w", err)
	}

	picks, err := parseIndices(resp.Text, len(scope), r.topK)
	if err != nil {
		// Keep answering from the first chunks rather than failing the question.
		r.logger.Warn("hybrid selection unparseable, using first chunks", "error", err)
		n := min(r.topK, len(scope))
		chunks := make([]ScoredChunk, n)
		for i := range n {
			chunks[i] = scored(scope[i], hybridFloorSimilarity)
		}
		return Result{Mode: ModeHybrid, Chunks: chunks, Confidence: Confidence(chunks)}, nil
	}

	if len(picks) == 0 {
		return Result{Mode: ModeHybrid, NoInformation: true}, nil
	}
	chunks := make([]ScoredChunk, len(picks))
	for rank, i := range picks {
		chunks[rank] = scored(scope[i], hybridSimilarity(rank))
	}
	return Result{Mode: ModeHybrid, Chunks: chunks, Confidence: Confidence(chunks)}, nil
}

func scored(c storage.ScopedChunk, sim float64) ScoredChunk {
	return ScoredChunk{
		DocumentID:    c.DocumentID,
		DocumentTitle: c.DocumentTitle,
		Index:         c.Index,
		Text:          c.Text,
		Similarity:    sim,
	}
}

func hasVectors(scope []storage.ScopedChunk) bool {
	for _, c := range scope {
		if len(c.Embedding) > 0 {
			return true
		}
	}
	return false
}

// Confidence is the mean similarity of chunks as a rounded percentage,
// clamped to [0,100]. No chunks means 0.
func Confidence(chunks []ScoredChunk) int {
	if len(chunks) == 0 {
		return 0
	}
	var sum float64
	for _, c := range chunks {
		sum += c.Similarity
	}
	pct := int(math.Round(sum / float64(len(chunks)) * 100))
	return max(0, min(100, pct))
}
