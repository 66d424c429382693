// Package ratelimit implements the inbound request governor: a sliding
// window of request timestamps per caller.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

const (
	DefaultMaxRequests = 10
	DefaultWindow      = 60 * time.Second

	// pruneEvery is how many Allow/Record calls pass between opportunistic
	// prunes of the whole map.
	pruneEvery = 100
)

// Governor tracks request timestamps per caller key and refuses callers that
// already used their budget inside the window.
type Governor struct {
	max    int
	window time.Duration
	now    func() time.Time

	mu    sync.Mutex
	hits  map[string][]time.Time
	calls int
}

// New creates a Governor allowing max requests per window per key.
// Non-positive values fall back to 10 requests per 60s.
func New(max int, window time.Duration) *Governor {
	if max <= 0 {
		max = DefaultMaxRequests
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Governor{
		max:    max,
		window: window,
		now:    time.Now,
		hits:   make(map[string][]time.Time),
	}
}

// Allow reports whether key may make another request. It does not count the
// request; call Record once the request is accepted.
func (g *Governor) Allow(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.tick(now)
	ts := g.trim(key, now)
	return len(ts) < g.max
}

// Record counts one request for key.
func (g *Governor) Record(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.tick(now)
	ts := g.trim(key, now)
	g.hits[key] = append(ts, now)
}

// allowAndRecord checks and counts a request for key under one lock, so
// concurrent callers cannot all pass a check for the last free slot.
func (g *Governor) allowAndRecord(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	g.tick(now)
	ts := g.trim(key, now)
	if len(ts) >= g.max {
		return false
	}
	g.hits[key] = append(ts, now)
	return true
}

// Sweep drops every key whose timestamps have all left the window.
func (g *Governor) Sweep() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.sweep(g.now())
}

// Len returns the number of tracked keys.
func (g *Governor) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.hits)
}

// Run sweeps every interval until ctx is cancelled.
func (g *Governor) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = g.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.Sweep()
		}
	}
}

// tick runs a full sweep every pruneEvery calls. Caller holds mu.
func (g *Governor) tick(now time.Time) {
	g.calls++
	if g.calls%pruneEvery == 0 {
		g.sweep(now)
	}
}

// trim removes expired timestamps for key and returns what is left.
// Caller holds mu.
func (g *Governor) trim(key string, now time.Time) []time.Time {
	ts := g.hits[key]
	cutoff := now.Add(-g.window)
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return ts
	}
	ts = append(ts[:0], ts[i:]...)
	if len(ts) == 0 {
		delete(g.hits, key)
		return nil
	}
	g.hits[key] = ts
	return ts
}

func (g *Governor) sweep(now time.Time) {
	for key := range g.hits {
		g.trim(key, now)
	}
}
