// Package pipeline runs a complete collection pass: resolve post containers
// on the surface, extract, deduplicate, score, hand off for delivery, and
// re-apply the active display mode. The observer owns scheduling and
// single-flight; a pass itself is synchronous.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"feedlens/dedup"
	"feedlens/deliver"
	"feedlens/display"
	"feedlens/extract"
	"feedlens/metrics"
	"feedlens/pkg/feed"
	"feedlens/score"
	"feedlens/selectors"
	"feedlens/surface"
)

// Runner ties the per-pass stages together.
type Runner struct {
	surf      surface.Surface
	registry  *selectors.Registry
	extractor *extract.Extractor
	ledger    *dedup.Ledger
	scorer    *score.Scorer
	delivery  *deliver.Pipeline
	displayer *display.Engine
	logger    *slog.Logger

	modeMu sync.RWMutex
	mode   display.Mode
}

// Config wires a runner. Delivery and display are optional: a nil delivery
// pipeline collects without shipping, a nil display engine skips the
// re-apply stage.
type Config struct {
	Surface   surface.Surface
	Selectors *selectors.Registry
	Extractor *extract.Extractor
	Ledger    *dedup.Ledger
	Scorer    *score.Scorer
	Delivery  *deliver.Pipeline
	Display   *display.Engine
	Mode      display.Mode
	Logger    *slog.Logger
}

// New creates a pass runner.
func New(cfg Config) *Runner {
	mode := cfg.Mode
	if mode == "" {
		mode = display.ModeDefault
	}
	return &Runner{
		surf:      cfg.Surface,
		registry:  cfg.Selectors,
		extractor: cfg.Extractor,
		ledger:    cfg.Ledger,
		scorer:    cfg.Scorer,
		delivery:  cfg.Delivery,
		displayer: cfg.Display,
		mode:      mode,
		logger:    cfg.Logger,
	}
}

// Mode returns the active display mode.
func (r *Runner) Mode() display.Mode {
	r.modeMu.RLock()
	defer r.modeMu.RUnlock()
	return r.mode
}

// SetMode switches the active display mode. The new mode takes effect on
// the next pass; callers wanting an immediate repaint trigger one.
func (r *Runner) SetMode(mode display.Mode) {
	r.modeMu.Lock()
	r.mode = mode
	r.modeMu.Unlock()
	r.logger.Info("Display mode changed", "mode", mode)
}

// Collect runs one pass. New posts flow extract → dedup → score → delivery;
// every extracted item, duplicate or not, participates in the display
// re-apply so a mode switch repaints the whole visible feed.
func (r *Runner) Collect(ctx context.Context, platform feed.Platform, root string) error {
	containers := r.containers(platform, root)
	if containers == nil || containers.Length() == 0 {
		r.logger.Debug("No post containers found", "platform", platform, "root", root)
		metrics.CollectionPasses.WithLabelValues("empty").Inc()
		return nil
	}

	var items []display.Item
	extracted, fresh := 0, 0

	containers.Each(func(_ int, container *goquery.Selection) {
		post := r.extractor.Extract(platform, container)
		if post == nil {
			return
		}
		extracted++

		if r.ledger.IsDuplicate(ctx, post) {
			metrics.DedupHits.Inc()
			// Re-score so the display stage still has a category to work
			// with; Score is a no-op on an already-scored post.
			r.scorer.Score(post, score.Analyze(post.Content))
			items = append(items, display.Item{Node: container, Post: post})
			return
		}
		r.ledger.MarkSeen(ctx, post)
		fresh++

		r.scorer.Score(post, score.Analyze(post.Content))
		items = append(items, display.Item{Node: container, Post: post})

		if r.delivery != nil {
			if err := r.delivery.Add(ctx, post); err != nil {
				r.logger.Warn("Delivery handoff failed", "post_id", post.ID, "error", err)
			}
		}
	})

	metrics.PostsExtracted.WithLabelValues(string(platform)).Add(float64(extracted))

	if r.displayer != nil && len(items) > 0 {
		if _, err := r.displayer.Apply(r.Mode(), items); err != nil {
			metrics.CollectionPasses.WithLabelValues("error").Inc()
			return fmt.Errorf("apply display mode: %w", err)
		}
	}

	metrics.CollectionPasses.WithLabelValues("ok").Inc()
	r.logger.Info("Collection pass finished",
		"platform", platform,
		"containers", containers.Length(),
		"extracted", extracted,
		"new", fresh)
	return nil
}

// containers resolves the post containers under the feed root: first
// container query with matches wins, scoped to the root when one is set.
func (r *Runner) containers(platform feed.Platform, root string) *goquery.Selection {
	scope := r.surf.Find(root)
	for _, query := range r.registry.Queries(platform, selectors.FieldContainer) {
		var sel *goquery.Selection
		if root == "" || root == "body" {
			sel = r.surf.Find(query)
		} else {
			sel = scope.Find(query)
		}
		if sel.Length() > 0 {
			return sel
		}
	}
	return nil
}
