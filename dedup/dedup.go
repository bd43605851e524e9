// Package dedup computes stable post identities and filters out items seen
// before, in-process and across sessions.
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"feedlens/pkg/feed"
)

const fingerprintPrefixLen = 50

// Fingerprint derives a stable identity for a post from its platform,
// author, and content prefix. The prefix-only key is deliberately lossy: it
// tolerates minor re-renders of the same item at the cost of a small
// false-duplicate risk.
func Fingerprint(post *feed.Post) string {
	content := []rune(post.Content)
	if len(content) > fingerprintPrefixLen {
		content = content[:fingerprintPrefixLen]
	}
	return fmt.Sprintf("%s:%s:%s", post.Platform, post.Author, string(content))
}

// Store is the persistent side of the ledger, consulted for cross-session
// deduplication.
type Store interface {
	HasFingerprint(ctx context.Context, fp string) (bool, error)
	SaveFingerprint(ctx context.Context, fp string, firstSeen time.Time) error
	PruneFingerprints(ctx context.Context, before time.Time, maxEntries int) (int, error)
}

// Ledger maps fingerprints to first-seen timestamps. It grows monotonically
// between cleanups; eviction is by age first, then oldest-first beyond the
// size cap. Collection passes are serialized by the observer, but Cleanup
// runs on its own schedule, so the entry map is mutex-guarded.
type Ledger struct {
	mu        sync.Mutex
	entries   map[string]time.Time
	store     Store // Optional; nil for in-process-only operation
	logger    *slog.Logger
	retention time.Duration
	maxSize   int
}

// NewLedger creates a ledger with the given retention window and size cap.
// The store may be nil when cross-session persistence is not wanted.
func NewLedger(retention time.Duration, maxSize int, store Store, logger *slog.Logger) *Ledger {
	return &Ledger{
		entries:   make(map[string]time.Time),
		store:     store,
		logger:    logger,
		retention: retention,
		maxSize:   maxSize,
	}
}

// Len reports the number of in-process entries.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// IsDuplicate reports whether the post's fingerprint has been seen, checking
// the in-process set first (items from a just-finished pass may not have hit
// the store yet) and then the persistent store.
func (l *Ledger) IsDuplicate(ctx context.Context, post *feed.Post) bool {
	fp := Fingerprint(post)
	l.mu.Lock()
	_, ok := l.entries[fp]
	l.mu.Unlock()
	if ok {
		return true
	}
	if l.store == nil {
		return false
	}
	seen, err := l.store.HasFingerprint(ctx, fp)
	if err != nil {
		// A store failure degrades to "not seen": better a duplicate
		// delivery than a dropped post.
		l.logger.Warn("Fingerprint lookup failed", "fingerprint", fp, "error", err)
		return false
	}
	return seen
}

// MarkSeen records the post's fingerprint, setting its ID in the process.
func (l *Ledger) MarkSeen(ctx context.Context, post *feed.Post) {
	fp := Fingerprint(post)
	post.ID = fp
	now := time.Now()
	l.mu.Lock()
	if _, ok := l.entries[fp]; !ok {
		l.entries[fp] = now
	}
	l.mu.Unlock()
	if l.store != nil {
		if err := l.store.SaveFingerprint(ctx, fp, now); err != nil {
			l.logger.Warn("Fingerprint persist failed", "fingerprint", fp, "error", err)
		}
	}
}

// Cleanup drops entries older than the retention window, then evicts
// oldest-first until the ledger is within its size cap. Returns the number
// of entries removed from the in-process set.
func (l *Ledger) Cleanup(ctx context.Context, now time.Time) int {
	cutoff := now.Add(-l.retention)
	removed := 0
	l.mu.Lock()
	for fp, firstSeen := range l.entries {
		if firstSeen.Before(cutoff) {
			delete(l.entries, fp)
			removed++
		}
	}

	if len(l.entries) > l.maxSize {
		type entry struct {
			fp        string
			firstSeen time.Time
		}
		ordered := make([]entry, 0, len(l.entries))
		for fp, firstSeen := range l.entries {
			ordered = append(ordered, entry{fp, firstSeen})
		}
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].firstSeen.Before(ordered[j].firstSeen)
		})
		excess := len(l.entries) - l.maxSize
		for _, e := range ordered[:excess] {
			delete(l.entries, e.fp)
		}
		removed += excess
	}
	remaining := len(l.entries)
	l.mu.Unlock()

	if l.store != nil {
		pruned, err := l.store.PruneFingerprints(ctx, cutoff, l.maxSize)
		if err != nil {
			l.logger.Warn("Fingerprint store prune failed", "error", err)
		} else if pruned > 0 {
			l.logger.Info("Fingerprint store pruned", "removed", pruned)
		}
	}

	if removed > 0 {
		l.logger.Info("Ledger cleanup completed", "removed", removed, "remaining", remaining)
	}
	return removed
}

// markSeenAt is a test hook that records a fingerprint with an explicit
// first-seen time, bypassing the store.
func (l *Ledger) markSeenAt(fp string, firstSeen time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[fp] = firstSeen
}
