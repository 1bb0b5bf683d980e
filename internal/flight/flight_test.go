package flight

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGroupCoalescesConcurrentCalls(t *testing.T) {
	var g Group
	var calls atomic.Int64
	release := make(chan struct{})

	const callers = 5
	var wg sync.WaitGroup
	var shared atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, s, err := g.Do(context.Background(), Key("s1", "verify", "123"), func(context.Context) (any, error) {
				calls.Add(1)
				<-release
				return "ok", nil
			})
			if err != nil || v != "ok" {
				t.Errorf("Do = %v, %v", v, err)
			}
			if s {
				shared.Add(1)
			}
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if shared.Load() != callers {
		t.Fatalf("shared = %d, want %d", shared.Load(), callers)
	}
}

func TestGroupDistinctKeysRunSeparately(t *testing.T) {
	var g Group
	var calls atomic.Int64
	fn := func(context.Context) (any, error) {
		calls.Add(1)
		return nil, nil
	}
	_, _, _ = g.Do(context.Background(), Key("s1", "verify", "1"), fn)
	_, _, _ = g.Do(context.Background(), Key("s1", "verify", "2"), fn)
	_, _, _ = g.Do(context.Background(), Key("s2", "verify", "1"), fn)
	if calls.Load() != 3 {
		t.Fatalf("calls = %d, want 3", calls.Load())
	}
}

func TestGroupCallerCancellationDoesNotCancelWork(t *testing.T) {
	var g Group
	release := make(chan struct{})
	workCtxErr := make(chan error, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, _, err := g.Do(ctx, "k", func(ctx context.Context) (any, error) {
			<-release
			workCtxErr <- ctx.Err()
			return nil, nil
		})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("caller err = %v", err)
	}
	close(release)
	if err := <-workCtxErr; err != nil {
		t.Fatalf("work context must stay live, got %v", err)
	}
}

func TestKey(t *testing.T) {
	if got := Key("s1", "op"); got != "s1|op" {
		t.Fatalf("Key = %q", got)
	}
	if got := Key("s1", "op", "a", "b"); got != "s1|op|a|b" {
		t.Fatalf("Key = %q", got)
	}
}

func TestGenerations(t *testing.T) {
	g := NewGenerations(0, nil)
	gen := g.Current("s1")
	if !g.Valid("s1", gen) {
		t.Fatal("current generation must be valid")
	}
	if next := g.Advance("s1"); next != gen+1 {
		t.Fatalf("Advance = %d", next)
	}
	if g.Valid("s1", gen) {
		t.Fatal("old generation must be invalid after Advance")
	}
	if g.Len() != 1 {
		t.Fatalf("Len = %d", g.Len())
	}
	g.Forget("s1")
	if g.Len() != 0 || g.Current("s1") != 0 {
		t.Fatal("Forget must drop the session")
	}
}

func TestGenerationsEvictIdleSessions(t *testing.T) {
	var mu sync.Mutex
	now := time.Unix(1_700_000_000, 0)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	g := NewGenerations(time.Minute, clock)
	g.Advance("s1")
	g.Advance("s2")
	advance(30 * time.Second)
	g.Advance("s2")
	if g.Len() != 2 {
		t.Fatalf("Len = %d, want 2", g.Len())
	}

	// s1 is now idle for 61s, s2 for 31s.
	advance(31 * time.Second)
	g.Advance("s3")
	if g.Len() != 2 {
		t.Fatalf("Len after sweep = %d, want 2", g.Len())
	}
	if g.Current("s1") != 0 {
		t.Fatal("idle session must be evicted")
	}
	if g.Current("s2") != 2 {
		t.Fatalf("active session generation = %d, want 2", g.Current("s2"))
	}

	advance(2 * time.Minute)
	if removed := g.Sweep(); removed != 2 {
		t.Fatalf("Sweep removed %d, want 2", removed)
	}
	if g.Len() != 0 {
		t.Fatalf("Len = %d, want 0", g.Len())
	}
}

func TestGenerationsZeroIdleNeverEvicts(t *testing.T) {
	g := NewGenerations(0, nil)
	g.Advance("s1")
	if removed := g.Sweep(); removed != 0 || g.Len() != 1 {
		t.Fatalf("Sweep removed %d, Len = %d", removed, g.Len())
	}
}

func TestDoTaggedJoinsSameTag(t *testing.T) {
	var g Group
	var calls atomic.Int64
	release := make(chan struct{})
	entered := make(chan struct{})

	fn := func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			close(entered)
		}
		<-release
		return "ok", nil
	}

	type result struct {
		v      any
		shared bool
		err    error
	}
	results := make(chan result, 2)
	go func() {
		v, shared, err := g.DoTagged(context.Background(), "k", "a", fn)
		results <- result{v, shared, err}
	}()
	<-entered
	go func() {
		v, shared, err := g.DoTagged(context.Background(), "k", "a", fn)
		results <- result{v, shared, err}
	}()

	time.Sleep(50 * time.Millisecond)
	close(release)

	sharedCount := 0
	for i := 0; i < 2; i++ {
		r := <-results
		if r.err != nil || r.v != "ok" {
			t.Fatalf("DoTagged = %v, %v", r.v, r.err)
		}
		if r.shared {
			sharedCount++
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("calls = %d, want 1", calls.Load())
	}
	if sharedCount != 1 {
		t.Fatalf("shared results = %d, want 1", sharedCount)
	}
}

func TestDoTaggedRejectsDifferentTag(t *testing.T) {
	var g Group
	release := make(chan struct{})
	entered := make(chan struct{})

	done := make(chan error, 1)
	go func() {
		_, _, err := g.DoTagged(context.Background(), "k", "a", func(context.Context) (any, error) {
			close(entered)
			<-release
			return nil, nil
		})
		done <- err
	}()
	<-entered

	ran := false
	_, _, err := g.DoTagged(context.Background(), "k", "b", func(context.Context) (any, error) {
		ran = true
		return nil, nil
	})
	if !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	if ran {
		t.Fatal("rejected call must not run")
	}

	// Another key is unaffected.
	if _, _, err := g.DoTagged(context.Background(), "other", "b", func(context.Context) (any, error) { return nil, nil }); err != nil {
		t.Fatalf("distinct key failed: %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first call failed: %v", err)
	}

	// The key is free once the first call has returned.
	v, shared, err := g.DoTagged(context.Background(), "k", "b", func(context.Context) (any, error) { return "b", nil })
	if err != nil || v != "b" || shared {
		t.Fatalf("DoTagged after completion = %v, %v, %v", v, shared, err)
	}
}

func TestDoTaggedCallerCancellation(t *testing.T) {
	var g Group
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, _, err := g.DoTagged(ctx, "k", "a", func(ctx context.Context) (any, error) {
		defer close(finished)
		<-release
		return nil, ctx.Err()
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)
	<-finished
}
