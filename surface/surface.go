// Package surface abstracts the rendering surface a feed is observed on.
// The core treats it as a queryable tree with string-keyed attributes plus a
// mutation-notification stream; implementations decide where the tree comes
// from.
package surface

import (
	"context"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Mutation signals a structural change under the observed root.
type Mutation struct {
	At       time.Time
	Selector string // The watched selector whose match count changed
	Count    int    // Match count after the change
	Delta    int    // Change relative to the previous observation
}

// Surface is the queryable, mutable view the pipeline operates on.
type Surface interface {
	// Find returns all elements matching a structural query under the root.
	Find(selector string) *goquery.Selection
	// Count reports how many elements match the query.
	Count(selector string) int
	// Mutations delivers structural-change notifications. The channel is
	// never closed by the surface; consumers stop via their own context.
	Mutations() <-chan Mutation
	// ScrollBottom extends the surface downward, loading more content if
	// the feed supports it.
	ScrollBottom(ctx context.Context) error
}

// Snapshot is a fixed-document surface. It backs one-shot collection runs
// and tests; mutations only occur when pages are appended explicitly.
type Snapshot struct {
	mu    sync.RWMutex
	pages []*goquery.Document
	mut   chan Mutation
	watch string
}

// NewSnapshot parses an HTML document into a snapshot surface. The watch
// selector is the one reported in mutation notifications.
func NewSnapshot(doc *goquery.Document, watch string) *Snapshot {
	return &Snapshot{
		pages: []*goquery.Document{doc},
		mut:   make(chan Mutation, 16),
		watch: watch,
	}
}

// Find returns matches across all loaded pages, in page order.
func (s *Snapshot) Find(selector string) *goquery.Selection {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sel := s.pages[0].Find(selector)
	for _, page := range s.pages[1:] {
		sel = sel.AddNodes(page.Find(selector).Nodes...)
	}
	return sel
}

// Count reports how many elements match across all loaded pages.
func (s *Snapshot) Count(selector string) int {
	return s.Find(selector).Length()
}

// Mutations returns the notification channel.
func (s *Snapshot) Mutations() <-chan Mutation {
	return s.mut
}

// ScrollBottom is a no-op for a fixed snapshot.
func (*Snapshot) ScrollBottom(context.Context) error {
	return nil
}

// Append adds a page to the snapshot and emits a mutation for the watched
// selector. Used by tests to simulate feed growth.
func (s *Snapshot) Append(doc *goquery.Document) {
	s.mu.Lock()
	before := 0
	for _, page := range s.pages {
		before += page.Find(s.watch).Length()
	}
	s.pages = append(s.pages, doc)
	after := before + doc.Find(s.watch).Length()
	s.mu.Unlock()

	s.emit(Mutation{At: time.Now(), Selector: s.watch, Count: after, Delta: after - before})
}

func (s *Snapshot) emit(m Mutation) {
	select {
	case s.mut <- m:
	default: // Drop when the consumer is behind; the debounce coalesces anyway
	}
}
