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

	"github.com/kalambet/lectern/internal/chunking"
	"github.com/kalambet/lectern/internal/provider"
	"github.com/kalambet/lectern/internal/storage"
)

type fakeEmbedder struct {
	calls   atomic.Int32
	mu      sync.Mutex
	texts   []string
	embedFn func(ctx context.Context, text string) (provider.EmbedResult, error)
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string, _ provider.Preferences) (provider.EmbedResult, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	return f.embedFn(ctx, text)
}

func vectorEmbedder() *fakeEmbedder {
	return &fakeEmbedder{embedFn: func(_ context.Context, text string) (provider.EmbedResult, error) {
		return provider.EmbedResult{Vector: []float32{float32(len(text)), 1}}, nil
	}}
}

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedDocument(t *testing.T, s *storage.Store, id, content string) storage.Document {
	t.Helper()
	if ok, _ := s.CourseExists("c1"); !ok {
		if err := s.CreateCourse(storage.Course{ID: "c1", Title: "Course"}); err != nil {
			t.Fatalf("CreateCourse: %v", err)
		}
	}
	if err := s.CreateDocument(storage.Document{ID: id, CourseID: "c1", Title: "Doc " + id, Content: content}); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	d, err := s.GetDocument(id)
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	return d
}

func chunkTexts(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("chunk %d", i)
	}
	return out
}

func TestEmbedAll_AllSucceed(t *testing.T) {
	emb := vectorEmbedder()
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, nil, 10, 0)

	results := p.EmbedAll(context.Background(), chunkTexts(25))
	if len(results) != 25 {
		t.Fatalf("got %d results, want 25", len(results))
	}
	for i, r := range results {
		if r.Index != i || r.Err != nil || r.Embedding == nil {
			t.Errorf("result %d = %+v", i, r)
		}
	}
	if emb.calls.Load() != 25 {
		t.Errorf("embed calls = %d, want 25", emb.calls.Load())
	}
	// Sequential and in order.
	for i, text := range emb.texts {
		if text != fmt.Sprintf("chunk %d", i) {
			t.Errorf("call %d embedded %q", i, text)
		}
	}
}

func TestEmbedAll_QuotaShortCircuits(t *testing.T) {
	emb := &fakeEmbedder{embedFn: func(_ context.Context, text string) (provider.EmbedResult, error) {
		if text == "chunk 12" {
			return provider.EmbedResult{}, fmt.Errorf("embed: %w: %w", provider.ErrAllProvidersFailed,
				&provider.Error{Provider: "gemini", Op: "embed", Class: provider.Quota, Err: errors.New("429")})
		}
		return provider.EmbedResult{Vector: []float32{1}}, nil
	}}
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, nil, 10, 0)

	results := p.EmbedAll(context.Background(), chunkTexts(30))

	if emb.calls.Load() != 13 {
		t.Errorf("embed calls = %d, want 13", emb.calls.Load())
	}
	for i := 0; i < 12; i++ {
		if results[i].Err != nil {
			t.Errorf("chunk %d failed: %v", i, results[i].Err)
		}
	}
	if !errors.Is(results[12].Err, provider.ErrQuotaExceeded) {
		t.Errorf("chunk 12 err = %v, want quota", results[12].Err)
	}
	for i := 13; i < 30; i++ {
		if !errors.Is(results[i].Err, ErrQuotaSkipped) {
			t.Errorf("chunk %d err = %v, want ErrQuotaSkipped", i, results[i].Err)
		}
		if results[i].Text == "" {
			t.Errorf("chunk %d lost its text", i)
		}
	}
	if results[13].Err.Error() != "skipped: provider quota exhausted" {
		t.Errorf("skip reason = %q", results[13].Err.Error())
	}
}

// stubEmbedding is an embedding-only provider for orchestrator-backed tests.
type stubEmbedding struct {
	name  string
	calls atomic.Int32
	err   error
}

func (s *stubEmbedding) Name() string { return s.name }

func (s *stubEmbedding) Embed(context.Context, string) (provider.EmbedResult, error) {
	s.calls.Add(1)
	return provider.EmbedResult{}, s.err
}

func TestEmbedAll_QuotaAnywhereInChainShortCircuits(t *testing.T) {
	gemini := &stubEmbedding{name: "gemini", err: &provider.StatusError{Code: 429, Body: "RESOURCE_EXHAUSTED"}}
	openai := &stubEmbedding{name: "openai", err: errors.New("invalid api key")}
	orch := provider.NewOrchestrator(provider.NewChain(
		provider.Registration{Name: "gemini", Priority: provider.PriorityGemini, Provider: gemini},
		provider.Registration{Name: "openai", Priority: provider.PriorityOpenAI, Provider: openai},
	), provider.RetryPolicy{BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, AttemptTimeout: time.Second})
	p := NewPipeline(chunking.New(0, 0, 0, 0), orch, nil, 10, 0)

	results := p.EmbedAll(context.Background(), chunkTexts(5))

	if n := openai.calls.Load(); n != 1 {
		t.Errorf("openai calls = %d, want 1", n)
	}
	if errors.Is(results[0].Err, ErrQuotaSkipped) || results[0].Err == nil {
		t.Errorf("chunk 0 err = %v, want the provider error", results[0].Err)
	}
	for i := 1; i < 5; i++ {
		if !errors.Is(results[i].Err, ErrQuotaSkipped) {
			t.Errorf("chunk %d err = %v, want ErrQuotaSkipped", i, results[i].Err)
		}
	}
}

func TestEmbedAll_TransientDoesNotStop(t *testing.T) {
	emb := &fakeEmbedder{embedFn: func(_ context.Context, text string) (provider.EmbedResult, error) {
		if text == "chunk 1" {
			return provider.EmbedResult{}, errors.New("timeout")
		}
		return provider.EmbedResult{Vector: []float32{1}}, nil
	}}
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, nil, 2, 0)

	results := p.EmbedAll(context.Background(), chunkTexts(4))
	if emb.calls.Load() != 4 {
		t.Errorf("embed calls = %d, want 4", emb.calls.Load())
	}
	if results[1].Err == nil || results[2].Err != nil {
		t.Errorf("results = %+v", results)
	}
}

func TestEmbedAll_HybridStops(t *testing.T) {
	emb := &fakeEmbedder{embedFn: func(context.Context, string) (provider.EmbedResult, error) {
		return provider.EmbedResult{Hybrid: true}, nil
	}}
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, nil, 10, 0)

	results := p.EmbedAll(context.Background(), chunkTexts(5))
	if emb.calls.Load() != 1 {
		t.Errorf("embed calls = %d, want 1", emb.calls.Load())
	}
	for i, r := range results {
		if !errors.Is(r.Err, ErrNoEmbedder) {
			t.Errorf("chunk %d err = %v, want ErrNoEmbedder", i, r.Err)
		}
	}
}

func TestEmbedAll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	emb := vectorEmbedder()
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, nil, 10, 0)

	results := p.EmbedAll(ctx, chunkTexts(3))
	if emb.calls.Load() != 0 {
		t.Errorf("embed calls = %d, want 0", emb.calls.Load())
	}
	if !errors.Is(results[0].Err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", results[0].Err)
	}
}

func TestProcess_Processed(t *testing.T) {
	s := openTestStore(t)
	doc := seedDocument(t, s, "d1", strings.Repeat("abcdefghij", 250))

	p := NewPipeline(chunking.New(1000, 200, 100, 100000), vectorEmbedder(), s, 10, 0)
	if err := p.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := s.GetDocument("d1")
	if got.Status != storage.StatusProcessed || got.ProcessingError != "" {
		t.Errorf("document = %+v", got)
	}
	chunks, _ := s.ListChunks("d1")
	if len(chunks) != 3 {
		t.Errorf("got %d chunks, want 3", len(chunks))
	}
}

func TestProcess_PartialWhenNoVectors(t *testing.T) {
	s := openTestStore(t)
	doc := seedDocument(t, s, "d1", "some course text")

	emb := &fakeEmbedder{embedFn: func(context.Context, string) (provider.EmbedResult, error) {
		return provider.EmbedResult{}, &provider.Error{Class: provider.Quota, Err: errors.New("quota")}
	}}
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, s, 10, 0)
	if err := p.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := s.GetDocument("d1")
	if got.Status != storage.StatusPartiallyProcessed {
		t.Errorf("Status = %q, want partially_processed", got.Status)
	}
	if !strings.HasPrefix(got.ProcessingError, "embedded 0 of 1 chunks") {
		t.Errorf("ProcessingError = %q", got.ProcessingError)
	}
	chunks, _ := s.ListChunks("d1")
	if len(chunks) != 1 || chunks[0].Error == "" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestProcess_SomeFailedStillProcessed(t *testing.T) {
	s := openTestStore(t)
	doc := seedDocument(t, s, "d1", strings.Repeat("x", 1500))

	var n atomic.Int32
	emb := &fakeEmbedder{embedFn: func(context.Context, string) (provider.EmbedResult, error) {
		if n.Add(1) == 2 {
			return provider.EmbedResult{}, errors.New("invalid input")
		}
		return provider.EmbedResult{Vector: []float32{1}}, nil
	}}
	p := NewPipeline(chunking.New(1000, 200, 100, 100000), emb, s, 10, 0)
	if err := p.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := s.GetDocument("d1")
	if got.Status != storage.StatusProcessed {
		t.Errorf("Status = %q, want processed", got.Status)
	}
	if got.ProcessingError != "embedded 1 of 2 chunks: invalid input" {
		t.Errorf("ProcessingError = %q", got.ProcessingError)
	}
}

func TestProcess_EmptyContentFails(t *testing.T) {
	s := openTestStore(t)
	doc := seedDocument(t, s, "d1", "   \n ")

	emb := vectorEmbedder()
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, s, 10, 0)
	if err := p.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := s.GetDocument("d1")
	if got.Status != storage.StatusFailed {
		t.Errorf("Status = %q, want failed", got.Status)
	}
	if emb.calls.Load() != 0 {
		t.Errorf("embed calls = %d, want 0", emb.calls.Load())
	}
}

func TestProcess_TruncatesLongDocument(t *testing.T) {
	s := openTestStore(t)
	var b strings.Builder
	for b.Len() < 250_000 {
		b.WriteString("The quick brown fox jumps over the lazy dog. ")
	}
	content := b.String()[:250_000]
	doc := seedDocument(t, s, "d1", content)

	p := NewPipeline(chunking.New(1000, 200, 100, 100000), vectorEmbedder(), s, 10, 0)
	if err := p.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process: %v", err)
	}

	chunks, _ := s.ListChunks("d1")
	if len(chunks) == 0 || len(chunks) > 100 {
		t.Fatalf("got %d chunks, want 1..100", len(chunks))
	}
	prefix := content[:100_000]
	for _, c := range chunks {
		if !strings.Contains(prefix, c.Text) {
			t.Fatalf("chunk %d is not within the first 100000 characters", c.Index)
		}
	}
}

func TestProcess_StaleGenerationDiscarded(t *testing.T) {
	s := openTestStore(t)
	doc := seedDocument(t, s, "d1", "original text")

	emb := &fakeEmbedder{embedFn: func(context.Context, string) (provider.EmbedResult, error) {
		// Re-upload lands while the pipeline is embedding.
		if _, err := s.ReplaceContent("d1", "", "replacement text"); err != nil {
			t.Errorf("ReplaceContent: %v", err)
		}
		return provider.EmbedResult{Vector: []float32{1}}, nil
	}}
	p := NewPipeline(chunking.New(0, 0, 0, 0), emb, s, 10, 0)
	if err := p.Process(context.Background(), doc); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, _ := s.GetDocument("d1")
	if got.Status != storage.StatusUnprocessed || got.Generation != 2 {
		t.Errorf("document = %+v, want unprocessed generation 2", got)
	}
	chunks, _ := s.ListChunks("d1")
	if len(chunks) != 0 {
		t.Errorf("stale chunks persisted: %+v", chunks)
	}
}

func TestPartialProcessingError(t *testing.T) {
	err := &PartialProcessingError{Embedded: 3, Total: 10, Reason: "skipped: provider quota exhausted"}
	want := "embedded 3 of 10 chunks: skipped: provider quota exhausted"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func defaultChunker() chunking.Chunker {
	return chunking.New(chunking.DefaultSize, chunking.DefaultOverlap, chunking.DefaultMaxChunks, chunking.DefaultMaxChars)
}
