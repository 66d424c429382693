package provider

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeChat struct {
	name  string
	calls atomic.Int32
	fn    func(ctx context.Context, req ChatRequest) (ChatResult, error)
}

func (f *fakeChat) Name() string { return f.name }

func (f *fakeChat) Chat(ctx context.Context, req ChatRequest) (ChatResult, error) {
	f.calls.Add(1)
	return f.fn(ctx, req)
}

type fakeFull struct {
	fakeChat
	embedCalls atomic.Int32
	embedFn    func(ctx context.Context, text string) (EmbedResult, error)
}

func (f *fakeFull) Embed(ctx context.Context, text string) (EmbedResult, error) {
	f.embedCalls.Add(1)
	return f.embedFn(ctx, text)
}

func okChat(model string) func(context.Context, ChatRequest) (ChatResult, error) {
	return func(_ context.Context, req ChatRequest) (ChatResult, error) {
		return ChatResult{Text: "answer", Model: model}, nil
	}
}

func failChat(err error) func(context.Context, ChatRequest) (ChatResult, error) {
	return func(context.Context, ChatRequest) (ChatResult, error) { return ChatResult{}, err }
}

func okEmbed(context.Context, string) (EmbedResult, error) {
	return EmbedResult{Vector: []float32{1, 0, 0}, Model: "emb"}, nil
}

func testOrchestrator(regs ...Registration) *Orchestrator {
	return NewOrchestrator(NewChain(regs...), fastPolicy(1))
}

func TestOrchestrator_ChatFirstProviderWins(t *testing.T) {
	a := &fakeChat{name: "a", fn: okChat("model-a")}
	b := &fakeChat{name: "b", fn: okChat("model-b")}
	o := testOrchestrator(
		Registration{Name: "b", Priority: 1, Provider: b},
		Registration{Name: "a", Priority: 0, Provider: a},
	)

	res, err := o.ChatComplete(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, "ground", Preferences{})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if res.Provider != "a" || res.Model != "model-a" {
		t.Errorf("result = %+v, want provider a", res)
	}
	if res.Fallback {
		t.Error("Fallback = true for first provider")
	}
	if b.calls.Load() != 0 {
		t.Errorf("b called %d times, want 0", b.calls.Load())
	}
}

func TestOrchestrator_GroundingBecomesSystem(t *testing.T) {
	var got ChatRequest
	a := &fakeChat{name: "a", fn: func(_ context.Context, req ChatRequest) (ChatResult, error) {
		got = req
		return ChatResult{Text: "ok"}, nil
	}}
	o := testOrchestrator(Registration{Name: "a", Provider: a})

	msgs := []Message{{Role: RoleUser, Content: "What is a monad?"}}
	if _, err := o.ChatComplete(context.Background(), msgs, "[Course Material]", Preferences{}); err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if got.System != "[Course Material]" {
		t.Errorf("System = %q", got.System)
	}
	if len(got.Messages) != 1 || got.Messages[0].Content != "What is a monad?" {
		t.Errorf("Messages = %+v", got.Messages)
	}
}

func TestOrchestrator_QuotaFallsBack(t *testing.T) {
	a := &fakeChat{name: "a", fn: failChat(&StatusError{Code: 429, Body: "quota"})}
	b := &fakeChat{name: "b", fn: okChat("model-b")}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)

	res, err := o.ChatComplete(context.Background(), nil, "", Preferences{})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if res.Provider != "b" || !res.Fallback {
		t.Errorf("result = %+v, want provider b with Fallback", res)
	}
	// One retry before advancing.
	if a.calls.Load() != 2 {
		t.Errorf("a calls = %d, want 2", a.calls.Load())
	}
}

func TestOrchestrator_FatalAdvancesWithoutRetry(t *testing.T) {
	a := &fakeChat{name: "a", fn: failChat(errors.New("invalid api key"))}
	b := &fakeChat{name: "b", fn: okChat("model-b")}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)

	if _, err := o.ChatComplete(context.Background(), nil, "", Preferences{}); err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if a.calls.Load() != 1 {
		t.Errorf("a calls = %d, want 1", a.calls.Load())
	}
}

func TestOrchestrator_AllFailed(t *testing.T) {
	a := &fakeChat{name: "a", fn: failChat(errors.New("invalid api key"))}
	b := &fakeChat{name: "b", fn: failChat(&StatusError{Code: 429, Body: "quota"})}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)

	_, err := o.ChatComplete(context.Background(), nil, "", Preferences{})
	if !errors.Is(err, ErrAllProvidersFailed) {
		t.Fatalf("err = %v, want ErrAllProvidersFailed", err)
	}
	// Last error was b's quota error.
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("err = %v, want to match ErrQuotaExceeded", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Provider != "b" {
		t.Errorf("last provider error = %+v, want b", pe)
	}
}

func TestOrchestrator_QuotaEarlierInChain(t *testing.T) {
	a := &fakeFull{fakeChat: fakeChat{name: "a"}, embedFn: func(context.Context, string) (EmbedResult, error) {
		return EmbedResult{}, &StatusError{Code: 429, Body: "RESOURCE_EXHAUSTED"}
	}}
	b := &fakeFull{fakeChat: fakeChat{name: "b"}, embedFn: func(context.Context, string) (EmbedResult, error) {
		return EmbedResult{}, errors.New("invalid api key")
	}}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)

	_, err := o.Embed(context.Background(), "text", Preferences{})

	var ce *ChainError
	if !errors.As(err, &ce) {
		t.Fatalf("err = %T %v, want *ChainError", err, err)
	}
	if len(ce.Attempts) != 2 || ce.Attempts[0].Provider != "a" || ce.Attempts[1].Provider != "b" {
		t.Errorf("attempts = %+v", ce.Attempts)
	}
	// The final error is fatal, so class matching follows it.
	if errors.Is(err, ErrQuotaExceeded) {
		t.Error("errors.Is(err, ErrQuotaExceeded) = true for a fatal last attempt")
	}
	if !QuotaHit(err) {
		t.Error("QuotaHit = false, want true when an earlier provider hit quota")
	}
	if !strings.HasPrefix(err.Error(), "embed: all providers failed: b embed (fatal)") {
		t.Errorf("message = %q", err.Error())
	}
}

func TestQuotaHit(t *testing.T) {
	fatal := &Error{Provider: "x", Class: Fatal, Err: errors.New("bad")}
	quota := &Error{Provider: "y", Class: Quota, Err: errors.New("429")}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"bare quota", quota, true},
		{"chain all fatal", &ChainError{Op: "embed", Attempts: []*Error{fatal, fatal}}, false},
		{"chain quota last", &ChainError{Op: "embed", Attempts: []*Error{fatal, quota}}, true},
		{"chain quota first", &ChainError{Op: "embed", Attempts: []*Error{quota, fatal}}, true},
	}
	for _, tt := range tests {
		if got := QuotaHit(tt.err); got != tt.want {
			t.Errorf("%s: QuotaHit = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestOrchestrator_PreferredFirst(t *testing.T) {
	a := &fakeChat{name: "a", fn: okChat("model-a")}
	b := &fakeChat{name: "b", fn: okChat("model-b")}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)

	res, err := o.ChatComplete(context.Background(), nil, "", Preferences{Provider: "b"})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if res.Provider != "b" || res.Fallback {
		t.Errorf("result = %+v, want preferred b without Fallback", res)
	}
	if a.calls.Load() != 0 {
		t.Errorf("a calls = %d, want 0", a.calls.Load())
	}
}

func TestOrchestrator_DefaultPreferred(t *testing.T) {
	a := &fakeChat{name: "a", fn: okChat("model-a")}
	b := &fakeChat{name: "b", fn: okChat("model-b")}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)
	o.Preferred = "b"

	res, err := o.ChatComplete(context.Background(), nil, "", Preferences{})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if res.Provider != "b" {
		t.Errorf("Provider = %q, want b", res.Provider)
	}

	res, err = o.ChatComplete(context.Background(), nil, "", Preferences{Provider: "a"})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if res.Provider != "a" {
		t.Errorf("explicit Provider = %q, want a", res.Provider)
	}
}

func TestOrchestrator_PreferredDisabledIgnored(t *testing.T) {
	a := &fakeChat{name: "a", fn: okChat("model-a")}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Capabilities: CapChat},
	)

	res, err := o.ChatComplete(context.Background(), nil, "", Preferences{Provider: "b"})
	if err != nil {
		t.Fatalf("ChatComplete: %v", err)
	}
	if res.Provider != "a" {
		t.Errorf("Provider = %q, want a", res.Provider)
	}
}

func TestOrchestrator_NotConfigured(t *testing.T) {
	o := testOrchestrator(Registration{Name: "gemini", Capabilities: CapChat | CapEmbedding})

	if _, err := o.ChatComplete(context.Background(), nil, "", Preferences{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("chat err = %v, want ErrNotConfigured", err)
	}
	if _, err := o.Embed(context.Background(), "text", Preferences{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("embed err = %v, want ErrNotConfigured", err)
	}
}

func TestOrchestrator_EmbedHybridWhenChatOnly(t *testing.T) {
	a := &fakeChat{name: "openrouter", fn: okChat("m")}
	o := testOrchestrator(Registration{Name: "openrouter", Priority: PriorityOpenRouter, Provider: a})

	if o.CanEmbed() {
		t.Error("CanEmbed = true for chat-only chain")
	}
	res, err := o.Embed(context.Background(), "text", Preferences{})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if !res.Hybrid || res.Vector != nil {
		t.Errorf("result = %+v, want Hybrid", res)
	}
	if a.calls.Load() != 0 {
		t.Errorf("chat calls = %d, want 0", a.calls.Load())
	}
}

func TestOrchestrator_EmbedSkipsChatOnly(t *testing.T) {
	chatOnly := &fakeChat{name: "openrouter", fn: okChat("m")}
	full := &fakeFull{fakeChat: fakeChat{name: "ollama", fn: okChat("m")}, embedFn: okEmbed}
	o := testOrchestrator(
		Registration{Name: "openrouter", Priority: PriorityOpenRouter, Provider: chatOnly},
		Registration{Name: "ollama", Priority: PriorityOllama, Provider: full},
	)

	res, err := o.Embed(context.Background(), "text", Preferences{})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if res.Provider != "ollama" || len(res.Vector) != 3 {
		t.Errorf("result = %+v, want ollama vector", res)
	}
	// The first capable entry is not a fallback.
	if res.Fallback {
		t.Error("Fallback = true")
	}
}

func TestOrchestrator_EmbedQuotaExhausted(t *testing.T) {
	full := &fakeFull{
		fakeChat: fakeChat{name: "gemini", fn: okChat("m")},
		embedFn: func(context.Context, string) (EmbedResult, error) {
			return EmbedResult{}, errors.New("googleapi: Error 429: RESOURCE_EXHAUSTED")
		},
	}
	o := testOrchestrator(Registration{Name: "gemini", Provider: full})

	_, err := o.Embed(context.Background(), "text", Preferences{})
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("err = %v, want ErrQuotaExceeded", err)
	}
	if full.embedCalls.Load() != 2 {
		t.Errorf("embed calls = %d, want 2", full.embedCalls.Load())
	}
}

func TestOrchestrator_CancelledStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	a := &fakeChat{name: "a", fn: func(context.Context, ChatRequest) (ChatResult, error) {
		cancel()
		return ChatResult{}, &StatusError{Code: 503}
	}}
	b := &fakeChat{name: "b", fn: okChat("m")}
	o := testOrchestrator(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	)

	if _, err := o.ChatComplete(ctx, nil, "", Preferences{}); err == nil {
		t.Fatal("expected error after cancellation")
	}
	if b.calls.Load() != 0 {
		t.Errorf("b calls = %d, want 0", b.calls.Load())
	}
}

func TestOrchestrator_Concurrent(t *testing.T) {
	a := &fakeChat{name: "a", fn: failChat(&StatusError{Code: 429})}
	b := &fakeChat{name: "b", fn: okChat("m")}
	o := NewOrchestrator(NewChain(
		Registration{Name: "a", Priority: 0, Provider: a},
		Registration{Name: "b", Priority: 1, Provider: b},
	), fastPolicy(0))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := o.ChatComplete(context.Background(), nil, "", Preferences{})
			if err != nil || res.Provider != "b" {
				failures.Add(1)
			}
		}()
	}
	wg.Wait()

	if failures.Load() != 0 {
		t.Errorf("%d concurrent calls did not fall back to b", failures.Load())
	}
	if a.calls.Load() != 20 || b.calls.Load() != 20 {
		t.Errorf("calls a=%d b=%d, want 20 each", a.calls.Load(), b.calls.Load())
	}
}

func TestChain_Descriptors(t *testing.T) {
	full := &fakeFull{fakeChat: fakeChat{name: "gemini"}}
	c := NewChain(
		Registration{Name: "ollama", Priority: PriorityOllama, Capabilities: CapChat | CapEmbedding},
		Registration{Name: "gemini", Priority: PriorityGemini, Provider: full},
	)

	ds := c.Descriptors()
	if len(ds) != 2 || ds[0].Name != "gemini" || ds[1].Name != "ollama" {
		t.Fatalf("Descriptors = %+v", ds)
	}
	if !ds[0].Enabled || ds[0].Capabilities != CapChat|CapEmbedding {
		t.Errorf("gemini = %+v", ds[0])
	}
	if ds[1].Enabled {
		t.Error("ollama enabled without a provider")
	}
	if ds[0].Capabilities.String() != "chat,embedding" {
		t.Errorf("Capabilities.String() = %q", ds[0].Capabilities.String())
	}
}

func TestPaced_PreservesCapabilities(t *testing.T) {
	lim := NewLimiter(1000)
	chatOnly := Paced(&fakeChat{name: "c", fn: okChat("m")}, lim)
	if _, ok := chatOnly.(EmbeddingProvider); ok {
		t.Error("paced chat-only provider gained Embed")
	}
	if _, ok := chatOnly.(ChatProvider); !ok {
		t.Error("paced chat provider lost Chat")
	}

	full := Paced(&fakeFull{fakeChat: fakeChat{name: "f", fn: okChat("m")}, embedFn: okEmbed}, lim)
	emb, ok := full.(EmbeddingProvider)
	if !ok {
		t.Fatal("paced full provider lost Embed")
	}
	if full.Name() != "f" {
		t.Errorf("Name = %q, want f", full.Name())
	}
	if _, err := emb.Embed(context.Background(), "x"); err != nil {
		t.Errorf("Embed: %v", err)
	}
}

func TestPaced_WaitHonoursContext(t *testing.T) {
	lim := NewLimiter(0.001)
	p := Paced(&fakeChat{name: "c", fn: okChat("m")}, lim).(ChatProvider)

	// Drain the single burst token.
	if _, err := p.Chat(context.Background(), ChatRequest{}); err != nil {
		t.Fatalf("first Chat: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Chat(ctx, ChatRequest{}); err == nil {
		t.Error("expected pacing error when the context expires first")
	}
}

func TestNewLimiter(t *testing.T) {
	if NewLimiter(0) != nil {
		t.Error("NewLimiter(0) != nil")
	}
	if got := NewLimiter(2.5).Burst(); got != 3 {
		t.Errorf("Burst = %d, want 3", got)
	}
}
