package observe

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedlens/pkg/feed"
	"feedlens/selectors"
	"feedlens/surface"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// fakeSurface is a scriptable surface for observer tests.
type fakeSurface struct {
	mu      sync.Mutex
	counts  map[string]int
	mut     chan surface.Mutation
	scrolls atomic.Int64

	// onScroll lets tests grow counts per scroll.
	onScroll func(*fakeSurface)
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		counts: make(map[string]int),
		mut:    make(chan surface.Mutation, 16),
	}
}

func (f *fakeSurface) Find(string) *goquery.Selection { return new(goquery.Selection) }

func (f *fakeSurface) Count(selector string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts[selector]
}

func (f *fakeSurface) setCount(selector string, n int) {
	f.mu.Lock()
	f.counts[selector] = n
	f.mu.Unlock()
}

func (f *fakeSurface) Mutations() <-chan surface.Mutation { return f.mut }

func (f *fakeSurface) ScrollBottom(context.Context) error {
	f.scrolls.Add(1)
	if f.onScroll != nil {
		f.onScroll(f)
	}
	return nil
}

// countingCollector records passes and can block to hold a pass open.
type countingCollector struct {
	passes  atomic.Int64
	block   chan struct{} // When non-nil, Collect waits on it
	lastCtx atomic.Value
}

func (c *countingCollector) Collect(ctx context.Context, _ feed.Platform, _ string) error {
	c.passes.Add(1)
	c.lastCtx.Store(ctx)
	if c.block != nil {
		select {
		case <-c.block:
		case <-ctx.Done():
		}
	}
	return nil
}

func testRegistry(rootSelector string) *selectors.Registry {
	r := &selectors.Registry{}
	r.Override("testfeed", selectors.FieldRoot, []string{rootSelector})
	return r
}

func newTestObserver(surf surface.Surface, collector Collector, registry *selectors.Registry) *Observer {
	o := New(Config{
		Platform:    "testfeed",
		Surface:     surf,
		Selectors:   registry,
		Collector:   collector,
		Logger:      testLogger(),
		Debounce:    30 * time.Millisecond,
		ForcedEvery: 10 * time.Second, // Out of the way for mutation tests
		Cooldown:    time.Millisecond,
	})
	o.settle = time.Millisecond
	o.rootRetry = 20 * time.Millisecond
	return o
}

// TestDebounceCoalescesBurst feeds a burst of mutations and expects a single
// collection pass once the window goes quiet.
func TestDebounceCoalescesBurst(t *testing.T) {
	surf := newFakeSurface()
	surf.setCount("div.feed", 1)
	collector := &countingCollector{}
	o := newTestObserver(surf, collector, testRegistry("div.feed"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		o.Run(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		surf.mut <- surface.Mutation{At: time.Now(), Selector: "div.feed", Count: i + 2, Delta: 1}
		time.Sleep(5 * time.Millisecond)
	}

	time.Sleep(150 * time.Millisecond)
	if got := collector.passes.Load(); got != 1 {
		t.Errorf("passes = %d, want 1 (burst must coalesce)", got)
	}

	cancel()
	<-done
}

// TestSingleFlight holds a pass open and verifies concurrent triggers are
// dropped rather than queued.
func TestSingleFlight(t *testing.T) {
	surf := newFakeSurface()
	surf.setCount("div.feed", 1)
	collector := &countingCollector{block: make(chan struct{})}
	o := newTestObserver(surf, collector, testRegistry("div.feed"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.Trigger()
	waitFor(t, func() bool { return collector.passes.Load() == 1 })

	if o.State() != StateCollecting {
		t.Errorf("State() = %v, want collecting while pass is open", o.State())
	}

	// These must all be rejected while the first pass is blocked.
	o.Trigger()
	time.Sleep(50 * time.Millisecond)
	o.Trigger()
	time.Sleep(50 * time.Millisecond)

	close(collector.block)
	waitFor(t, func() bool { return o.State() == StateObserving })

	// One pending trigger may fire after unblock; more than 2 total means
	// the guard failed.
	time.Sleep(50 * time.Millisecond)
	if got := collector.passes.Load(); got > 2 {
		t.Errorf("passes = %d, want at most 2 with single-flight", got)
	}
}

func TestPeriodicForcedPass(t *testing.T) {
	surf := newFakeSurface()
	surf.setCount("div.feed", 1)
	collector := &countingCollector{}
	o := New(Config{
		Platform:    "testfeed",
		Surface:     surf,
		Selectors:   testRegistry("div.feed"),
		Collector:   collector,
		Logger:      testLogger(),
		Debounce:    time.Hour, // Mutations never fire a pass in this test
		ForcedEvery: 40 * time.Millisecond,
		Cooldown:    time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	// No mutations at all; the forced ticker alone must produce passes.
	waitFor(t, func() bool { return collector.passes.Load() >= 2 })
}

// TestCooldownAppliesToManualTriggers verifies an explicit trigger is
// rate-limited the same as scheduled passes: a second trigger inside the
// cooldown window is dropped.
func TestCooldownAppliesToManualTriggers(t *testing.T) {
	surf := newFakeSurface()
	surf.setCount("div.feed", 1)
	collector := &countingCollector{}
	o := New(Config{
		Platform:    "testfeed",
		Surface:     surf,
		Selectors:   testRegistry("div.feed"),
		Collector:   collector,
		Logger:      testLogger(),
		Debounce:    time.Hour,
		ForcedEvery: time.Hour,
		Cooldown:    time.Hour,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go o.Run(ctx)

	o.Trigger()
	waitFor(t, func() bool { return collector.passes.Load() == 1 })

	o.Trigger()
	time.Sleep(100 * time.Millisecond)
	if got := collector.passes.Load(); got != 1 {
		t.Errorf("passes = %d, want 1 (trigger inside cooldown must be dropped)", got)
	}
}

func TestRootFallbackToBody(t *testing.T) {
	surf := newFakeSurface()
	surf.setCount("body", 1) // Registry root never matches, body does
	collector := &countingCollector{}
	o := newTestObserver(surf, collector, testRegistry("div.nonexistent"))

	root, err := o.resolveRoot(context.Background())
	if err != nil {
		t.Fatalf("resolveRoot() error: %v", err)
	}
	if root != "body" {
		t.Errorf("resolveRoot() = %q, want body fallback", root)
	}
}

func TestRootNotFound(t *testing.T) {
	surf := newFakeSurface() // Nothing matches, not even body
	collector := &countingCollector{}
	o := newTestObserver(surf, collector, testRegistry("div.nonexistent"))

	_, err := o.resolveRoot(context.Background())
	if !IsRootNotFound(err) {
		t.Errorf("resolveRoot() error = %v, want RootNotFoundError", err)
	}
}

// TestExtendScrollStopsOnStagnation scripts a surface that grows twice and
// then plateaus; the loop must stop after the stagnant checks, not the full
// time budget.
func TestExtendScrollStopsOnStagnation(t *testing.T) {
	surf := newFakeSurface()
	surf.setCount("div.post", 10)
	grows := 0
	surf.onScroll = func(f *fakeSurface) {
		if grows < 2 {
			grows++
			f.setCount("div.post", 10+grows*5)
		}
	}
	collector := &countingCollector{}
	o := newTestObserver(surf, collector, testRegistry("div.post"))

	added := o.ExtendScroll(context.Background(), "div.post")
	if added != 10 {
		t.Errorf("ExtendScroll() = %d added, want 10", added)
	}
	// 2 growing scrolls + 3 stagnant ones.
	if got := surf.scrolls.Load(); got != 5 {
		t.Errorf("scroll count = %d, want 5 (growth twice, then three stagnant checks)", got)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateObserving, "observing"},
		{StateCollecting, "collecting"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}
