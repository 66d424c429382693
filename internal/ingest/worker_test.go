package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/lectern/internal/storage"
)

type fakeProcessor struct {
	mu        sync.Mutex
	processed []string
	processFn func(ctx context.Context, doc storage.Document) error
}

func (f *fakeProcessor) Process(ctx context.Context, doc storage.Document) error {
	f.mu.Lock()
	f.processed = append(f.processed, doc.ID)
	f.mu.Unlock()
	if f.processFn != nil {
		return f.processFn(ctx, doc)
	}
	return nil
}

// tickingClock makes every reading of the worker clock a minute later than
// the last, so a failed job is always due again on the next RunOnce.
func tickingClock(w *Worker) {
	t := time.Now()
	w.now = func() time.Time {
		t = t.Add(time.Minute)
		return t
	}
}

func jobStatus(t *testing.T, store *storage.Store, jobID string) (storage.JobStatus, int) {
	t.Helper()
	job, err := store.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob(%s): %v", jobID, err)
	}
	return job.Status, job.Attempts
}

// failingFinish is a real store whose final chunk write always fails.
type failingFinish struct {
	*storage.Store
}

func (failingFinish) FinishProcessing(string, int, storage.DocumentStatus, string, []storage.Chunk) error {
	return errors.New("disk I/O error")
}

func TestWorker_ProcessesJob(t *testing.T) {
	store := openTestStore(t)
	doc := seedDocument(t, store, "doc-1", "Hello world")
	jobID, err := EnqueueProcess(store, doc)
	if err != nil {
		t.Fatalf("EnqueueProcess: %v", err)
	}

	proc := &fakeProcessor{}
	w := NewWorker(store, proc, 1, 0)

	didWork, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if len(proc.processed) != 1 || proc.processed[0] != "doc-1" {
		t.Errorf("processed = %v", proc.processed)
	}
	if status, _ := jobStatus(t, store, jobID); status != storage.JobCompleted {
		t.Errorf("job status = %q, want completed", status)
	}
}

func TestWorker_RunsRealPipeline(t *testing.T) {
	store := openTestStore(t)
	doc := seedDocument(t, store, "doc-1", "Photosynthesis converts light into chemical energy.")
	if _, err := EnqueueProcess(store, doc); err != nil {
		t.Fatalf("EnqueueProcess: %v", err)
	}

	p := NewPipeline(defaultChunker(), vectorEmbedder(), store, 10, 0)
	w := NewWorker(store, p, 1, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	got, _ := store.GetDocument("doc-1")
	if got.Status != storage.StatusProcessed {
		t.Errorf("Status = %q, want processed", got.Status)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store := openTestStore(t)
	doc := seedDocument(t, store, "doc-r", "retry content")
	jobID, _ := EnqueueProcess(store, doc)

	var calls atomic.Int32
	w := NewWorker(store, &fakeProcessor{processFn: func(context.Context, storage.Document) error {
		if calls.Add(1) <= 2 {
			return fmt.Errorf("transient error %d", calls.Load())
		}
		return nil
	}}, 1, 0)
	tickingClock(w)

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		status, attempts := jobStatus(t, store, jobID)
		if i < 3 {
			if status != storage.JobPending || attempts != i {
				t.Errorf("after attempt %d: status=%q attempts=%d", i, status, attempts)
			}
		} else if status != storage.JobCompleted {
			t.Errorf("after attempt 3: status=%q, want completed", status)
		}
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store := openTestStore(t)
	doc := seedDocument(t, store, "doc-m", "max retry content")
	jobID, _ := EnqueueProcess(store, doc)

	w := NewWorker(store, &fakeProcessor{processFn: func(context.Context, storage.Document) error {
		return errors.New("permanent error")
	}}, 1, 0)
	tickingClock(w)

	for i := 1; i <= 3; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
	}

	if status, attempts := jobStatus(t, store, jobID); status != storage.JobFailed || attempts != 3 {
		t.Errorf("final job = %q after %d attempts, want failed after 3", status, attempts)
	}
	got, err := store.GetDocument("doc-m")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if got.Status != storage.StatusFailed {
		t.Errorf("document status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ProcessingError, "permanent error") {
		t.Errorf("ProcessingError = %q, want last error", got.ProcessingError)
	}
	if didWork, _ := w.RunOnce(context.Background()); didWork {
		t.Error("failed job was claimed again")
	}
}

func TestWorker_StorageErrorFailsDocument(t *testing.T) {
	store := openTestStore(t)
	doc := seedDocument(t, store, "doc-io", "Mitochondria produce ATP.")
	if _, err := EnqueueProcess(store, doc); err != nil {
		t.Fatalf("EnqueueProcess: %v", err)
	}

	p := NewPipeline(defaultChunker(), vectorEmbedder(), failingFinish{store}, 10, 0)
	w := NewWorker(store, p, 1, 0)
	tickingClock(w)

	for i := 1; i <= 3; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce %d: %v", i, err)
		}
		got, _ := store.GetDocument("doc-io")
		if i < 3 && got.Status != storage.StatusProcessing {
			t.Errorf("after attempt %d: status = %q, want processing", i, got.Status)
		}
	}

	got, _ := store.GetDocument("doc-io")
	if got.Status != storage.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if !strings.Contains(got.ProcessingError, "disk I/O error") {
		t.Errorf("ProcessingError = %q, want storage error", got.ProcessingError)
	}
}

func TestWorker_DropsStaleAndDeletedJobs(t *testing.T) {
	store := openTestStore(t)
	stale := seedDocument(t, store, "stale", "v1")
	gone := seedDocument(t, store, "gone", "text")

	staleJob, _ := EnqueueProcess(store, stale)
	goneJob, _ := EnqueueProcess(store, gone)
	if _, err := store.ReplaceContent("stale", "", "v2"); err != nil {
		t.Fatalf("ReplaceContent: %v", err)
	}
	if err := store.SoftDeleteDocument("gone"); err != nil {
		t.Fatalf("SoftDeleteDocument: %v", err)
	}

	proc := &fakeProcessor{}
	w := NewWorker(store, proc, 1, 0)
	for i := 0; i < 2; i++ {
		if _, err := w.RunOnce(context.Background()); err != nil {
			t.Fatalf("RunOnce: %v", err)
		}
	}

	if len(proc.processed) != 0 {
		t.Errorf("processed = %v, want none", proc.processed)
	}
	for _, id := range []string{staleJob, goneJob} {
		if status, _ := jobStatus(t, store, id); status != storage.JobCompleted {
			t.Errorf("job %s status = %q, want completed", id, status)
		}
	}
}

func TestWorker_PoolDrainsQueue(t *testing.T) {
	store := openTestStore(t)

	const total = 20
	for i := 0; i < total; i++ {
		doc := seedDocument(t, store, fmt.Sprintf("doc-%d", i), "content")
		if _, err := EnqueueProcess(store, doc); err != nil {
			t.Fatalf("EnqueueProcess: %v", err)
		}
	}

	var done atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &fakeProcessor{processFn: func(context.Context, storage.Document) error {
		if done.Add(1) == total {
			cancel()
		}
		return nil
	}}

	w := NewWorker(store, proc, 3, 10*time.Millisecond)
	errc := make(chan error, 1)
	go func() { errc <- w.Run(ctx) }()

	select {
	case err := <-errc:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatalf("pool processed %d/%d jobs before timeout", done.Load(), total)
	}

	seen := map[string]bool{}
	for _, id := range proc.processed {
		if seen[id] {
			t.Errorf("document %s processed twice", id)
		}
		seen[id] = true
	}
	if len(seen) != total {
		t.Errorf("processed %d distinct documents, want %d", len(seen), total)
	}
}
