package provider

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/kalambet/lectern/internal/provider"

// Orchestrator tries the providers of an immutable Chain in order until one
// succeeds. It holds no mutable state and is safe for concurrent use.
type Orchestrator struct {
	// Preferred is tried first when a call carries no preference.
	Preferred string

	chain  Chain
	retry  RetryPolicy
	logger *slog.Logger
}

// NewOrchestrator creates an Orchestrator over chain. Each provider call is
// retried according to retry before the chain advances.
func NewOrchestrator(chain Chain, retry RetryPolicy) *Orchestrator {
	return &Orchestrator{
		chain:  chain,
		retry:  retry,
		logger: slog.Default(),
	}
}

// Chain returns the provider chain the orchestrator routes over.
func (o *Orchestrator) Chain() Chain { return o.chain }

// CanEmbed reports whether any enabled provider can embed.
func (o *Orchestrator) CanEmbed() bool { return o.chain.Has(CapEmbedding) }

// ChatComplete sends messages with grounding as the system instruction.
func (o *Orchestrator) ChatComplete(ctx context.Context, messages []Message, grounding string, prefs Preferences) (ChatResult, error) {
	prefs = o.prefer(prefs)
	entries := o.chain.ordered(CapChat, prefs.Provider)
	if len(entries) == 0 {
		return ChatResult{}, fmt.Errorf("chat: %w", ErrNotConfigured)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "provider.chat",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("provider.chain_length", len(entries)),
			attribute.String("provider.preferred", prefs.Provider),
		),
	)
	defer span.End()

	req := ChatRequest{System: grounding, Messages: messages}

	chainErr := &ChainError{Op: "chat"}
	for i, e := range entries {
		res, err := Retry(ctx, o.retry, func(ctx context.Context) (ChatResult, error) {
			return e.chat.Chat(ctx, req)
		})
		if err == nil {
			res.Provider = e.desc.Name
			res.Fallback = i > 0
			o.logSuccess(span, "chat", e.desc.Name, res.Model, i)
			return res, nil
		}

		attempt := o.classify(e.desc.Name, "chat", err)
		chainErr.Attempts = append(chainErr.Attempts, attempt)
		if ctx.Err() != nil {
			break
		}
		o.logAdvance("chat", e.desc.Name, attempt, i == len(entries)-1)
	}

	span.RecordError(chainErr)
	span.SetStatus(codes.Error, "all providers failed")
	return ChatResult{}, chainErr
}

// Embed returns the embedding of text. When no enabled provider can embed
// but one can chat, it returns EmbedResult{Hybrid: true} and a nil error.
func (o *Orchestrator) Embed(ctx context.Context, text string, prefs Preferences) (EmbedResult, error) {
	prefs = o.prefer(prefs)
	entries := o.chain.ordered(CapEmbedding, prefs.Provider)
	if len(entries) == 0 {
		if o.chain.Has(CapChat) {
			return EmbedResult{Hybrid: true}, nil
		}
		return EmbedResult{}, fmt.Errorf("embed: %w", ErrNotConfigured)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "provider.embed",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.Int("provider.chain_length", len(entries)),
			attribute.Int("provider.input_chars", len(text)),
		),
	)
	defer span.End()

	chainErr := &ChainError{Op: "embed"}
	for i, e := range entries {
		res, err := Retry(ctx, o.retry, func(ctx context.Context) (EmbedResult, error) {
			return e.embed.Embed(ctx, text)
		})
		if err == nil {
			res.Provider = e.desc.Name
			res.Fallback = i > 0
			o.logSuccess(span, "embed", e.desc.Name, res.Model, i)
			return res, nil
		}

		attempt := o.classify(e.desc.Name, "embed", err)
		chainErr.Attempts = append(chainErr.Attempts, attempt)
		if ctx.Err() != nil {
			break
		}
		o.logAdvance("embed", e.desc.Name, attempt, i == len(entries)-1)
	}

	span.RecordError(chainErr)
	span.SetStatus(codes.Error, "all providers failed")
	return EmbedResult{}, chainErr
}

func (o *Orchestrator) prefer(prefs Preferences) Preferences {
	if prefs.Provider == "" {
		prefs.Provider = o.Preferred
	}
	return prefs
}

func (o *Orchestrator) classify(name, op string, err error) *Error {
	return &Error{Provider: name, Op: op, Class: ClassifyError(err), Err: err}
}

func (o *Orchestrator) logSuccess(span trace.Span, op, name, model string, idx int) {
	span.SetAttributes(
		attribute.String("provider.name", name),
		attribute.String("provider.model", model),
		attribute.Bool("provider.fallback", idx > 0),
	)
	if idx > 0 {
		o.logger.Info("provider fallback used", "op", op, "provider", name, "model", model, "position", idx)
		return
	}
	o.logger.Debug("provider call succeeded", "op", op, "provider", name, "model", model, "fallback", false)
}

func (o *Orchestrator) logAdvance(op, name string, err error, last bool) {
	if last {
		o.logger.Warn("provider chain exhausted", "op", op, "provider", name, "error", err)
		return
	}
	o.logger.Warn("provider failed, trying next", "op", op, "provider", name, "class", ClassifyError(err).String(), "error", err)
}
