// Package display re-applies classification results to the live view:
// filter modes suppress (dim or hide) items rather than removing them, so
// every mode switch is reversible.
package display

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedlens/pkg/feed"
)

// Mode selects a filter predicate. The set is closed but extensible.
type Mode string

// Supported modes.
const (
	ModeDefault       Mode = "default"        // Keep everything
	ModeFriendsOnly   Mode = "friends-only"   // Keep iff friend flag
	ModeInterestsOnly Mode = "interests-only" // Keep iff content/hashtags match keywords
	ModeMinimal       Mode = "minimal"        // Cosmetic only: dim everything slightly, hide chrome
	ModeFocus         Mode = "focus"          // Keep iff not sponsored and (friend or engaged or verified)
	ModeChronological Mode = "chronological"  // No filtering; reorder by timestamp desc
)

// ErrNoKeywords rejects interests-only activation with an empty keyword
// list, which would otherwise suppress the entire feed.
var ErrNoKeywords = errors.New("display: interests-only mode requires a non-empty keyword list")

// ErrUnknownMode rejects modes outside the supported set.
var ErrUnknownMode = errors.New("display: unknown mode")

// suppressedAttr marks elements this engine has dimmed or hidden, so a mode
// switch can find and restore them.
const suppressedAttr = "data-feedlens-suppressed"

// Item pairs a live view element with its extracted post.
type Item struct {
	Node *goquery.Selection
	Post *feed.Post
}

// Result reports what a mode application touched.
type Result struct {
	Processed int `json:"processed"`
	Filtered  int `json:"filtered"`
}

// Options tune the engine.
type Options struct {
	Keywords            []string // User-configured interest keywords
	DimOpacity          float64  // Suppression opacity; 0 means hide entirely
	HighEngagementFloor int      // Total engagement treated as "high" in focus mode
}

// Engine applies filter modes to extracted items.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// New creates a display engine.
func New(opts Options, logger *slog.Logger) *Engine {
	if opts.HighEngagementFloor <= 0 {
		opts.HighEngagementFloor = 100
	}
	if opts.DimOpacity < 0 || opts.DimOpacity >= 1 {
		opts.DimOpacity = 0.25
	}
	return &Engine{opts: opts, logger: logger}
}

// Apply runs a mode's predicate over the items, suppressing the ones it
// rejects and restoring the ones it keeps. Suppression mutates a style
// attribute only; items stay in the document.
func (e *Engine) Apply(mode Mode, items []Item) (Result, error) {
	if mode == ModeInterestsOnly && len(e.opts.Keywords) == 0 {
		return Result{}, ErrNoKeywords
	}

	predicate, err := e.predicate(mode)
	if err != nil {
		return Result{}, err
	}

	if mode == ModeChronological {
		e.reorder(items)
	}

	result := Result{Processed: len(items)}
	for _, item := range items {
		e.restore(item.Node)
		if mode == ModeMinimal {
			// Minimal is cosmetic, not a filter: everything gets dimmed
			// uniformly and ancillary chrome is hidden.
			e.dim(item.Node)
			continue
		}
		if !predicate(item.Post) {
			e.suppress(item.Node)
			result.Filtered++
		}
	}

	e.logger.Info("Display mode applied",
		"mode", mode,
		"processed", result.Processed,
		"filtered", result.Filtered)

	return result, nil
}

func (e *Engine) predicate(mode Mode) (func(*feed.Post) bool, error) {
	switch mode {
	case ModeDefault, ModeChronological, ModeMinimal:
		return func(*feed.Post) bool { return true }, nil
	case ModeFriendsOnly:
		return func(p *feed.Post) bool { return p.Flags.IsFriend }, nil
	case ModeInterestsOnly:
		return func(p *feed.Post) bool { return e.matchesInterests(p) }, nil
	case ModeFocus:
		return func(p *feed.Post) bool {
			if p.Flags.IsSponsored {
				return false
			}
			return p.Flags.IsFriend ||
				p.Engagement.Total() >= e.opts.HighEngagementFloor ||
				p.Flags.Verified
		}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}
}

func (e *Engine) matchesInterests(post *feed.Post) bool {
	content := strings.ToLower(post.Content)
	for _, keyword := range e.opts.Keywords {
		kw := strings.ToLower(keyword)
		if strings.Contains(content, kw) {
			return true
		}
		for _, tag := range post.Hashtags {
			if strings.Contains(tag, kw) {
				return true
			}
		}
	}
	return false
}

// reorder sorts items by parsed timestamp, newest first. Items whose
// timestamps cannot be parsed sort last among themselves by lexicographic
// fallback. Nodes sharing a parent are physically re-appended in the new
// order; mixed-parent item sets keep their document order.
func (e *Engine) reorder(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, okI := parseTimestamp(items[i].Post.ObservedAt)
		tj, okJ := parseTimestamp(items[j].Post.ObservedAt)
		switch {
		case okI && okJ:
			return ti.After(tj)
		case okI:
			return true
		case okJ:
			return false
		default:
			return items[i].Post.ObservedAt > items[j].Post.ObservedAt
		}
	})

	if len(items) < 2 {
		return
	}
	parent := items[0].Node.Parent()
	for _, item := range items[1:] {
		if item.Node.Parent().Length() == 0 || parent.Length() == 0 {
			return
		}
		if len(item.Node.Parent().Nodes) == 0 || item.Node.Parent().Nodes[0] != parent.Nodes[0] {
			e.logger.Debug("Skipping physical reorder across containers")
			return
		}
	}
	for _, item := range items {
		parent.AppendSelection(item.Node)
	}
}

func (e *Engine) suppress(node *goquery.Selection) {
	if e.opts.DimOpacity == 0 {
		node.SetAttr("style", "display:none")
	} else {
		node.SetAttr("style", fmt.Sprintf("opacity:%.2f;pointer-events:none", e.opts.DimOpacity))
	}
	node.SetAttr(suppressedAttr, "true")
}

func (e *Engine) dim(node *goquery.Selection) {
	node.SetAttr("style", fmt.Sprintf("opacity:%.2f", e.opts.DimOpacity))
	node.SetAttr(suppressedAttr, "true")
}

func (e *Engine) restore(node *goquery.Selection) {
	if _, ok := node.Attr(suppressedAttr); !ok {
		return
	}
	node.RemoveAttr("style")
	node.RemoveAttr(suppressedAttr)
}

// timestampLayouts are tried in order against platform-reported times.
var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
