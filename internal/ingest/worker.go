package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/lectern/internal/storage"
)

// JobStore abstracts the processing queue operations.
type JobStore interface {
	ClaimJob(now time.Time) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id, errMsg string, now time.Time) (bool, error)
	GetDocument(id string) (storage.Document, error)
}

// JobEnqueuer adds jobs to the queue.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Processor runs the pipeline for one document. *Pipeline satisfies it.
type Processor interface {
	Process(ctx context.Context, doc storage.Document) error
}

// EnqueueProcess queues processing of doc's current generation and returns
// the job ID.
func EnqueueProcess(q JobEnqueuer, doc storage.Document) (string, error) {
	job := storage.Job{
		ID:         uuid.New().String(),
		DocumentID: doc.ID,
		Generation: doc.Generation,
	}
	if err := q.EnqueueJob(job); err != nil {
		return "", fmt.Errorf("enqueueing job: %w", err)
	}
	return job.ID, nil
}

// Worker is a bounded pool processing queued document jobs.
type Worker struct {
	store     JobStore
	processor Processor
	workers   int
	poll      time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewWorker creates a Worker with the given dependencies. workers <= 0
// means 1; pollInterval <= 0 defaults to 500ms.
func NewWorker(store JobStore, processor Processor, workers int, pollInterval time.Duration) *Worker {
	if workers <= 0 {
		workers = 1
	}
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:     store,
		processor: processor,
		workers:   workers,
		poll:      pollInterval,
		now:       time.Now,
		logger:    slog.Default(),
	}
}

// Run starts the pool and blocks until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		g.Go(func() error {
			w.loop(ctx, i)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, id int) {
	logger := w.logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimJob(w.now())
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		logger := w.logger.With("job_id", job.ID, "document_id", job.DocumentID, "attempt", job.Attempts+1)
		exhausted, failErr := w.store.FailJob(job.ID, err.Error(), w.now())
		switch {
		case failErr != nil:
			logger.Error("failed to record job failure", "error", err, "record_error", failErr)
		case exhausted:
			logger.Error("job out of attempts, document marked failed", "error", err)
		default:
			logger.Warn("job failed, will retry", "error", err)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	doc, err := w.store.GetDocument(job.DocumentID)
	if errors.Is(err, storage.ErrNotFound) {
		w.logger.Info("document gone, dropping job", "job_id", job.ID, "document_id", job.DocumentID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading document %s: %w", job.DocumentID, err)
	}
	if doc.Generation != job.Generation {
		w.logger.Info("document replaced, dropping job", "job_id", job.ID, "document_id", doc.ID,
			"job_generation", job.Generation, "generation", doc.Generation)
		return nil
	}

	return w.processor.Process(ctx, doc)
}
