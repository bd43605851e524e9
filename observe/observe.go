// Package observe watches a surface for feed activity and decides when a
// collection pass should run. It debounces bursts of mutations, forces a
// periodic pass even on a quiet surface, and guarantees that only one pass
// runs at a time.
package observe

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"feedlens/pkg/feed"
	"feedlens/selectors"
	"feedlens/surface"
)

// Timing defaults. All are overridable through Config for tests.
const (
	defaultDebounce    = 500 * time.Millisecond
	defaultForcedEvery = 5 * time.Second
	defaultCooldown    = 5 * time.Second
	rootRetryDelay     = 5 * time.Second
)

// Scroll extension bounds: stop growing the surface after this many checks
// without new content, or after this much wall time.
const (
	maxStagnantChecks = 3
	maxScrollDuration = 30 * time.Second
	scrollSettle      = 2 * time.Second
)

// State is the observer lifecycle phase.
type State int32

// Observer states.
const (
	StateIdle State = iota
	StateObserving
	StateCollecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateObserving:
		return "observing"
	case StateCollecting:
		return "collecting"
	default:
		return "unknown"
	}
}

// Collector runs one collection pass over the resolved feed root.
type Collector interface {
	Collect(ctx context.Context, platform feed.Platform, root string) error
}

// Config wires an observer.
type Config struct {
	Platform  feed.Platform
	Surface   surface.Surface
	Selectors *selectors.Registry
	Collector Collector
	Logger    *slog.Logger

	// Zero values take the package defaults.
	Debounce    time.Duration
	ForcedEvery time.Duration
	Cooldown    time.Duration
}

// Observer schedules collection passes against a surface.
type Observer struct {
	platform  feed.Platform
	surf      surface.Surface
	registry  *selectors.Registry
	collector Collector
	logger    *slog.Logger

	debounce    time.Duration
	forcedEvery time.Duration
	cooldown    time.Duration
	settle      time.Duration
	rootRetry   time.Duration

	state     atomic.Int32
	inFlight  atomic.Bool
	lastPass  atomic.Int64 // Unix nanos of the last completed pass
	root      string
	triggerCh chan struct{}
}

// New creates an observer. Run starts it.
func New(cfg Config) *Observer {
	o := &Observer{
		platform:    cfg.Platform,
		surf:        cfg.Surface,
		registry:    cfg.Selectors,
		collector:   cfg.Collector,
		logger:      cfg.Logger,
		debounce:    cfg.Debounce,
		forcedEvery: cfg.ForcedEvery,
		cooldown:    cfg.Cooldown,
		triggerCh:   make(chan struct{}, 1),
	}
	if o.debounce <= 0 {
		o.debounce = defaultDebounce
	}
	if o.forcedEvery <= 0 {
		o.forcedEvery = defaultForcedEvery
	}
	if o.cooldown <= 0 {
		o.cooldown = defaultCooldown
	}
	o.settle = scrollSettle
	o.rootRetry = rootRetryDelay
	return o
}

// State returns the current lifecycle phase.
func (o *Observer) State() State {
	return State(o.state.Load())
}

// Trigger requests an immediate pass, subject to the same single-flight
// guard and cooldown as scheduled passes. Safe from any goroutine.
func (o *Observer) Trigger() {
	select {
	case o.triggerCh <- struct{}{}:
	default:
		// A trigger is already pending
	}
}

// Run resolves the feed root and then loops until the context ends:
// mutations are debounced into passes, a forced pass fires on the periodic
// tick regardless of mutation activity, and Trigger requests jump the
// debounce window.
func (o *Observer) Run(ctx context.Context) error {
	root, err := o.resolveRoot(ctx)
	if err != nil {
		o.state.Store(int32(StateIdle))
		return err
	}
	o.root = root
	o.state.Store(int32(StateObserving))
	o.logger.Info("Observer started", "platform", o.platform, "root", root)

	forced := time.NewTicker(o.forcedEvery)
	defer forced.Stop()

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			o.state.Store(int32(StateIdle))
			return ctx.Err()

		case mut, ok := <-o.surf.Mutations():
			if !ok {
				o.state.Store(int32(StateIdle))
				o.logger.Info("Mutation stream closed, observer stopping", "platform", o.platform)
				return nil
			}
			o.logger.Debug("Surface mutation", "selector", mut.Selector, "delta", mut.Delta)
			// Restart the debounce window; a burst of mutations becomes
			// one pass.
			if debounce == nil {
				debounce = time.NewTimer(o.debounce)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(o.debounce)
			}

		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			o.pass(ctx, "mutation")

		case <-forced.C:
			o.pass(ctx, "periodic")

		case <-o.triggerCh:
			o.pass(ctx, "manual")
		}
	}
}

// resolveRoot tries the registered root selectors, falls back to "body",
// and retries the whole resolution once after a delay before giving up.
func (o *Observer) resolveRoot(ctx context.Context) (string, error) {
	for attempt := range 2 {
		if attempt > 0 {
			o.logger.Warn("Feed root not found, retrying", "platform", o.platform, "delay", o.rootRetry)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(o.rootRetry):
			}
		}

		for _, query := range o.registry.Queries(o.platform, selectors.FieldRoot) {
			if o.surf.Count(query) > 0 {
				return query, nil
			}
		}
		if o.surf.Count("body") > 0 {
			o.logger.Warn("No root selector matched, falling back to body", "platform", o.platform)
			return "body", nil
		}
	}

	o.logger.Error("Giving up on feed root resolution", "platform", o.platform)
	return "", &RootNotFoundError{Platform: o.platform}
}

// pass runs one collection pass if none is in flight and the cooldown has
// elapsed. Skipped passes are logged at debug and dropped, not queued.
func (o *Observer) pass(ctx context.Context, cause string) {
	if last := o.lastPass.Load(); last != 0 && time.Since(time.Unix(0, last)) < o.cooldown {
		o.logger.Debug("Pass skipped, cooldown active", "cause", cause)
		return
	}
	if !o.inFlight.CompareAndSwap(false, true) {
		o.logger.Debug("Pass skipped, another in flight", "cause", cause)
		return
	}
	defer o.inFlight.Store(false)

	o.state.Store(int32(StateCollecting))
	defer o.state.Store(int32(StateObserving))

	start := time.Now()
	err := o.collector.Collect(ctx, o.platform, o.root)
	o.lastPass.Store(time.Now().UnixNano())

	if err != nil {
		o.logger.Error("Collection pass failed", "cause", cause, "duration", time.Since(start), "error", err)
		return
	}
	o.logger.Info("Collection pass complete", "cause", cause, "duration", time.Since(start))
}

// ExtendScroll grows the surface by scrolling until content stops arriving:
// it stops after maxStagnantChecks checks with no growth, or when the time
// budget runs out. Returns how many items the grow added.
func (o *Observer) ExtendScroll(ctx context.Context, countSelector string) int {
	deadline := time.Now().Add(maxScrollDuration)
	before := o.surf.Count(countSelector)
	initial := before
	stagnant := 0

	for stagnant < maxStagnantChecks && time.Now().Before(deadline) {
		if err := o.surf.ScrollBottom(ctx); err != nil {
			o.logger.Warn("Scroll failed", "error", err)
			break
		}

		select {
		case <-ctx.Done():
			return o.surf.Count(countSelector) - initial
		case <-time.After(o.settle):
		}

		after := o.surf.Count(countSelector)
		if after > before {
			stagnant = 0
		} else {
			stagnant++
		}
		before = after
	}

	added := before - initial
	o.logger.Info("Scroll extension finished", "added", added, "stagnant_checks", stagnant)
	return added
}
