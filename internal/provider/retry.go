package provider

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy governs retries of a single provider call: exponential
// backoff from BaseDelay, multiplied by Multiplier per attempt, capped at
// MaxDelay, randomized by Jitter. Only Transient and Quota errors are
// retried, at most MaxRetries times.
type RetryPolicy struct {
	BaseDelay      time.Duration
	Multiplier     float64
	MaxDelay       time.Duration
	Jitter         float64
	MaxRetries     int
	AttemptTimeout time.Duration

	// Notify, when set, is called before each retry.
	Notify func(err error, next time.Duration)
}

// DefaultRetryPolicy returns 500ms base delay doubling up to 8s with 20%
// jitter, two retries, and a 30s per-attempt timeout.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:      500 * time.Millisecond,
		Multiplier:     2,
		MaxDelay:       8 * time.Second,
		Jitter:         0.2,
		MaxRetries:     2,
		AttemptTimeout: 30 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.BaseDelay <= 0 {
		p.BaseDelay = d.BaseDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		p.Jitter = d.Jitter
	}
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	return p
}

func (p RetryPolicy) backOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          p.Multiplier,
		MaxInterval:         p.MaxDelay,
	}
	b.Reset()
	return b
}

// Retry runs op under policy p. Each attempt gets its own AttemptTimeout.
// When attempts run out the last error is returned unchanged.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	attempt := func() (T, error) {
		actx, cancel := ctx, context.CancelFunc(func() {})
		if p.AttemptTimeout > 0 {
			actx, cancel = context.WithTimeout(ctx, p.AttemptTimeout)
		}
		defer cancel()

		v, err := op(actx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil {
			return v, backoff.Permanent(err)
		}
		switch ClassifyError(err) {
		case Transient, Quota:
			return v, err
		}
		return v, backoff.Permanent(err)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(p.MaxRetries + 1)),
	}
	if p.Notify != nil {
		opts = append(opts, backoff.WithNotify(p.Notify))
	}
	return backoff.Retry(ctx, attempt, opts...)
}
