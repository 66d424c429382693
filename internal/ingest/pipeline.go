// Package ingest turns uploaded documents into stored, embedded chunks.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/kalambet/lectern/internal/chunking"
	"github.com/kalambet/lectern/internal/provider"
	"github.com/kalambet/lectern/internal/storage"
)

const DefaultBatchSize = 10

var (
	// ErrQuotaSkipped marks chunks never sent to a provider because an
	// earlier chunk hit a quota error.
	ErrQuotaSkipped = errors.New("skipped: provider quota exhausted")
	// ErrNoEmbedder marks chunks that could not be embedded because only
	// chat-capable providers are configured.
	ErrNoEmbedder = errors.New("no embedding provider available")
)

// Embedder produces embeddings. *provider.Orchestrator satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, prefs provider.Preferences) (provider.EmbedResult, error)
}

// DocumentStore is the persistence the pipeline writes through.
type DocumentStore interface {
	BeginProcessing(id string, generation int) error
	FinishProcessing(id string, generation int, status storage.DocumentStatus, processingError string, chunks []storage.Chunk) error
}

// ChunkResult is the outcome of embedding one chunk. Embedding is nil when
// Err is set.
type ChunkResult struct {
	Index     int
	Text      string
	Embedding []float32
	Err       error
}

// PartialProcessingError describes a document where some or all chunk
// embeddings failed. It is recorded on the document, never returned.
type PartialProcessingError struct {
	Embedded int
	Total    int
	Reason   string
}

func (e *PartialProcessingError) Error() string {
	return fmt.Sprintf("embedded %d of %d chunks: %s", e.Embedded, e.Total, e.Reason)
}

// Pipeline chunks document text and embeds the chunks in batches.
type Pipeline struct {
	chunker   chunking.Chunker
	embedder  Embedder
	store     DocumentStore
	batchSize int
	pause     time.Duration
	logger    *slog.Logger
}

// NewPipeline creates a Pipeline. batchSize <= 0 uses DefaultBatchSize;
// pause is slept between batches.
func NewPipeline(chunker chunking.Chunker, embedder Embedder, store DocumentStore, batchSize int, pause time.Duration) *Pipeline {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Pipeline{
		chunker:   chunker,
		embedder:  embedder,
		store:     store,
		batchSize: batchSize,
		pause:     pause,
		logger:    slog.Default(),
	}
}

// EmbedAll embeds chunks in order, batchSize at a time. After the first
// quota error from any provider in the chain, or a hybrid result meaning no
// provider can embed, the remaining chunks are marked failed without
// further provider calls.
func (p *Pipeline) EmbedAll(ctx context.Context, chunks []string) []ChunkResult {
	results := make([]ChunkResult, len(chunks))
	var stop error

	for start := 0; start < len(chunks); start += p.batchSize {
		end := min(start+p.batchSize, len(chunks))

		for i := start; i < end; i++ {
			results[i] = ChunkResult{Index: i, Text: chunks[i]}
			if stop == nil && ctx.Err() != nil {
				stop = ctx.Err()
			}
			if stop != nil {
				results[i].Err = stop
				continue
			}

			res, err := p.embedder.Embed(ctx, chunks[i], provider.Preferences{})
			switch {
			case err != nil:
				results[i].Err = err
				if provider.QuotaHit(err) {
					p.logger.Warn("embedding quota exhausted, skipping remaining chunks",
						"chunk", i, "remaining", len(chunks)-i-1)
					stop = ErrQuotaSkipped
				}
			case res.Hybrid:
				results[i].Err = ErrNoEmbedder
				stop = ErrNoEmbedder
			default:
				results[i].Embedding = res.Vector
			}
		}

		if end < len(chunks) && stop == nil {
			p.yield(ctx)
		}
	}
	return results
}

// yield lets the runtime catch up between batches.
func (p *Pipeline) yield(ctx context.Context) {
	runtime.Gosched()
	if p.pause <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(p.pause):
	}
}

// Process runs the pipeline for one document generation and writes the
// chunk list and terminal status in one transaction. Results for a
// generation that was replaced meanwhile are discarded.
func (p *Pipeline) Process(ctx context.Context, doc storage.Document) error {
	logger := p.logger.With("document_id", doc.ID, "generation", doc.Generation)

	if err := p.store.BeginProcessing(doc.ID, doc.Generation); err != nil {
		if errors.Is(err, storage.ErrStaleGeneration) || errors.Is(err, storage.ErrNotFound) {
			logger.Info("skipping document", "reason", err)
			return nil
		}
		return fmt.Errorf("beginning processing: %w", err)
	}

	texts := p.chunker.Chunk(doc.Content)
	if len(texts) == 0 {
		logger.Warn("document produced no chunks")
		return p.finish(logger, doc, storage.StatusFailed, "document has no text to index", nil)
	}

	results := p.EmbedAll(ctx, texts)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("processing interrupted: %w", err)
	}

	status, procErr, chunks := summarize(results)
	logger.Info("document processed", "status", status, "chunks", len(chunks))
	return p.finish(logger, doc, status, procErr, chunks)
}

func (p *Pipeline) finish(logger *slog.Logger, doc storage.Document, status storage.DocumentStatus, procErr string, chunks []storage.Chunk) error {
	err := p.store.FinishProcessing(doc.ID, doc.Generation, status, procErr, chunks)
	if errors.Is(err, storage.ErrStaleGeneration) || errors.Is(err, storage.ErrNotFound) {
		logger.Info("discarding results", "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("finishing processing: %w", err)
	}
	return nil
}

// summarize maps chunk results to storage rows and a terminal status: at
// least one embedded chunk means processed, none means partially processed.
// A PartialProcessingError is recorded whenever a chunk failed.
func summarize(results []ChunkResult) (storage.DocumentStatus, string, []storage.Chunk) {
	chunks := make([]storage.Chunk, len(results))
	embedded := 0
	var reason string
	for i, r := range results {
		chunks[i] = storage.Chunk{Index: i, Text: r.Text, Embedding: r.Embedding}
		if r.Err != nil {
			chunks[i].Embedding = nil
			chunks[i].Error = r.Err.Error()
			if reason == "" {
				reason = r.Err.Error()
			}
			continue
		}
		embedded++
	}

	status := storage.StatusProcessed
	if embedded == 0 {
		status = storage.StatusPartiallyProcessed
	}
	if embedded == len(results) {
		return status, "", chunks
	}
	perr := &PartialProcessingError{Embedded: embedded, Total: len(results), Reason: reason}
	return status, perr.Error(), chunks
}
