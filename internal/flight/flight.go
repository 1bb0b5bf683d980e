package flight

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// ErrBusy is returned by DoTagged when a call with a different tag holds
// the key.
var ErrBusy = errors.New("flight: another call is in flight for this key")

// Group coalesces concurrent calls that share a key into one execution.
// Callers that arrive while a call is in flight receive its result.
type Group struct {
	g singleflight.Group

	mu     sync.Mutex
	tagged map[string]*taggedCall
}

type taggedCall struct {
	tag  string
	done chan struct{}
	val  any
	err  error
}

// Key joins a session id, an operation kind and optional discriminators.
func Key(sessionID, op string, parts ...string) string {
	var b strings.Builder
	b.Grow(len(sessionID) + len(op) + 1 + 16*len(parts))
	b.WriteString(sessionID)
	b.WriteByte('|')
	b.WriteString(op)
	for _, p := range parts {
		b.WriteByte('|')
		b.WriteString(p)
	}
	return b.String()
}

// Do runs fn once per key among concurrent callers. fn receives a context
// detached from the first caller's cancellation so that a waiter abandoning
// the call does not fail it for the others; each caller still returns early
// when its own ctx is done.
func (g *Group) Do(ctx context.Context, key string, fn func(context.Context) (any, error)) (v any, shared bool, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	detached := context.WithoutCancel(ctx)
	ch := g.g.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

// DoTagged allows one call per key. A caller whose tag matches the call in
// flight joins it and receives its result; a caller with a different tag
// gets ErrBusy without running fn. Cancellation behaves as in Do.
func (g *Group) DoTagged(ctx context.Context, key, tag string, fn func(context.Context) (any, error)) (v any, shared bool, err error) {
	if ctx == nil {
		ctx = context.Background()
	}

	g.mu.Lock()
	if g.tagged == nil {
		g.tagged = make(map[string]*taggedCall)
	}
	c, ok := g.tagged[key]
	switch {
	case ok && c.tag != tag:
		g.mu.Unlock()
		return nil, false, ErrBusy
	case ok:
		shared = true
		g.mu.Unlock()
	default:
		c = &taggedCall{tag: tag, done: make(chan struct{})}
		g.tagged[key] = c
		g.mu.Unlock()

		detached := context.WithoutCancel(ctx)
		go func() {
			defer func() {
				g.mu.Lock()
				delete(g.tagged, key)
				g.mu.Unlock()
				close(c.done)
			}()
			c.val, c.err = fn(detached)
		}()
	}

	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
		return nil, shared, ctx.Err()
	}
}

// Forget drops the in-flight entry for key so the next call starts fresh.
func (g *Group) Forget(key string) {
	g.g.Forget(key)
}

// Generations tracks a navigation counter per session. A response produced
// under an older generation belongs to a screen the user has left.
//
// Sessions that do not navigate for the idle period are evicted on a later
// Advance, so expired sessions are not tracked forever.
type Generations struct {
	mu    sync.Mutex
	m     map[string]generation
	idle  time.Duration
	now   func() time.Time
	swept time.Time
}

type generation struct {
	n    uint64
	seen time.Time
}

// NewGenerations returns an empty tracker that evicts sessions idle for
// longer than idle. A non-positive idle disables eviction; a nil now uses
// time.Now.
func NewGenerations(idle time.Duration, now func() time.Time) *Generations {
	if now == nil {
		now = time.Now
	}
	return &Generations{m: make(map[string]generation), idle: idle, now: now, swept: now()}
}

// Current returns the generation of id.
func (g *Generations) Current(id string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.m[id].n
}

// Advance bumps the generation of id and returns the new value.
func (g *Generations) Advance(id string) uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if g.idle > 0 && now.Sub(g.swept) >= g.idle/4 {
		g.sweepLocked(now)
	}
	entry := g.m[id]
	entry.n++
	entry.seen = now
	g.m[id] = entry
	return entry.n
}

// Valid reports whether gen is still the current generation of id.
func (g *Generations) Valid(id string, gen uint64) bool {
	return g.Current(id) == gen
}

// Forget removes id. Its next generation starts again at zero.
func (g *Generations) Forget(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, id)
}

// Sweep evicts sessions idle for longer than the idle period and returns
// how many were removed.
func (g *Generations) Sweep() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.sweepLocked(g.now())
}

func (g *Generations) sweepLocked(now time.Time) int {
	g.swept = now
	if g.idle <= 0 {
		return 0
	}
	removed := 0
	for id, entry := range g.m {
		if now.Sub(entry.seen) > g.idle {
			delete(g.m, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked sessions.
func (g *Generations) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
