package storage

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"feedlens/pkg/feed"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close() error: %v", err)
		}
	})
	return s
}

func TestFingerprintRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	has, err := s.HasFingerprint(ctx, "linkedin:jane:hello")
	if err != nil {
		t.Fatalf("HasFingerprint() error: %v", err)
	}
	if has {
		t.Error("HasFingerprint() = true for unseen fingerprint")
	}

	if err := s.SaveFingerprint(ctx, "linkedin:jane:hello", time.Now()); err != nil {
		t.Fatalf("SaveFingerprint() error: %v", err)
	}

	has, err = s.HasFingerprint(ctx, "linkedin:jane:hello")
	if err != nil {
		t.Fatalf("HasFingerprint() error: %v", err)
	}
	if !has {
		t.Error("HasFingerprint() = false after save")
	}
}

func TestSaveFingerprintKeepsOriginalTimestamp(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	first := time.Now().Add(-time.Hour)
	if err := s.SaveFingerprint(ctx, "fp", first); err != nil {
		t.Fatalf("SaveFingerprint() error: %v", err)
	}
	if err := s.SaveFingerprint(ctx, "fp", time.Now()); err != nil {
		t.Fatalf("SaveFingerprint() resave error: %v", err)
	}

	// Pruning with a cutoff between the two timestamps must remove the entry,
	// proving the original timestamp survived the resave.
	removed, err := s.PruneFingerprints(ctx, time.Now().Add(-time.Minute), 1000)
	if err != nil {
		t.Fatalf("PruneFingerprints() error: %v", err)
	}
	if removed != 1 {
		t.Errorf("PruneFingerprints() removed %d, want 1", removed)
	}
}

func TestPruneFingerprintsBySize(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	base := time.Now().Add(-time.Hour)
	for i := range 20 {
		if err := s.SaveFingerprint(ctx, "fp-"+strconv.Itoa(i), base.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatalf("SaveFingerprint() error: %v", err)
		}
	}

	removed, err := s.PruneFingerprints(ctx, base.Add(-time.Hour), 15)
	if err != nil {
		t.Fatalf("PruneFingerprints() error: %v", err)
	}
	if removed != 5 {
		t.Errorf("PruneFingerprints() removed %d, want 5 oldest", removed)
	}

	// The oldest five must be gone.
	for i := range 5 {
		has, err := s.HasFingerprint(ctx, "fp-"+strconv.Itoa(i))
		if err != nil {
			t.Fatalf("HasFingerprint() error: %v", err)
		}
		if has {
			t.Errorf("fp-%d survived size prune, want evicted", i)
		}
	}
}

func TestPendingBatchRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	batch := feed.NewBatch(feed.PlatformLinkedIn, []*feed.Post{
		{Platform: feed.PlatformLinkedIn, Author: "jane", Content: "preserved post"},
	})
	batch.Attempts = 2

	if err := s.SavePending(ctx, batch, "HTTP 503 after retries"); err != nil {
		t.Fatalf("SavePending() error: %v", err)
	}

	got, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("ListPending() = %d batches, want 1", len(got))
	}
	if got[0].ID != batch.ID || got[0].Platform != feed.PlatformLinkedIn || got[0].Attempts != 2 {
		t.Errorf("restored batch = %+v, want original fields", got[0])
	}
	if len(got[0].Posts) != 1 || got[0].Posts[0].Content != "preserved post" {
		t.Errorf("restored posts = %+v, want the original payload", got[0].Posts)
	}

	if err := s.DeletePending(ctx, batch.ID); err != nil {
		t.Fatalf("DeletePending() error: %v", err)
	}
	got, err = s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("ListPending() after delete = %d batches, want 0", len(got))
	}
}

func TestPrunePendingEvictsOldest(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	for i := range 5 {
		batch := feed.NewBatch(feed.PlatformTwitter, []*feed.Post{{Content: "p"}})
		batch.CreatedAt = time.Now().Add(time.Duration(i-10) * time.Minute)
		if err := s.SavePending(ctx, batch, "err"); err != nil {
			t.Fatalf("SavePending() error: %v", err)
		}
	}

	removed, err := s.PrunePending(ctx, 3)
	if err != nil {
		t.Fatalf("PrunePending() error: %v", err)
	}
	if removed != 2 {
		t.Errorf("PrunePending() removed %d, want 2", removed)
	}

	got, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending() error: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("ListPending() = %d batches after prune, want 3", len(got))
	}
}

func TestDeliveredGuard(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	was, err := s.WasDelivered(ctx, "batch-1")
	if err != nil {
		t.Fatalf("WasDelivered() error: %v", err)
	}
	if was {
		t.Error("WasDelivered() = true for unseen batch")
	}

	if err := s.MarkDelivered(ctx, "batch-1"); err != nil {
		t.Fatalf("MarkDelivered() error: %v", err)
	}
	// Marking twice must not error.
	if err := s.MarkDelivered(ctx, "batch-1"); err != nil {
		t.Fatalf("MarkDelivered() second call error: %v", err)
	}

	was, err = s.WasDelivered(ctx, "batch-1")
	if err != nil {
		t.Fatalf("WasDelivered() error: %v", err)
	}
	if !was {
		t.Error("WasDelivered() = false after mark")
	}
}

func TestPrefScopes(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if _, err := s.GetPref(ctx, ScopeSynced, "mode"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetPref(unset) error = %v, want ErrNotFound", err)
	}

	if err := s.SetPref(ctx, ScopeSynced, "mode", "focus"); err != nil {
		t.Fatalf("SetPref() error: %v", err)
	}
	if err := s.SetPref(ctx, ScopeLocal, "mode", "minimal"); err != nil {
		t.Fatalf("SetPref() error: %v", err)
	}

	synced, err := s.GetPref(ctx, ScopeSynced, "mode")
	if err != nil {
		t.Fatalf("GetPref() error: %v", err)
	}
	local, err := s.GetPref(ctx, ScopeLocal, "mode")
	if err != nil {
		t.Fatalf("GetPref() error: %v", err)
	}
	if synced != "focus" || local != "minimal" {
		t.Errorf("prefs = synced %q / local %q, want scopes isolated", synced, local)
	}
}

func TestEndpointStateRoundtrip(t *testing.T) {
	ctx := context.Background()
	s := testStore(t)

	if _, _, _, err := s.LoadEndpointState(ctx); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadEndpointState(empty) error = %v, want ErrNotFound", err)
	}

	checked := time.Now().Truncate(time.Second)
	if err := s.SaveEndpointState(ctx, "https://collector-b.example.com", true, checked); err != nil {
		t.Fatalf("SaveEndpointState() error: %v", err)
	}

	endpoint, available, at, err := s.LoadEndpointState(ctx)
	if err != nil {
		t.Fatalf("LoadEndpointState() error: %v", err)
	}
	if endpoint != "https://collector-b.example.com" || !available || !at.Equal(checked) {
		t.Errorf("LoadEndpointState() = %q %v %v, want saved state back", endpoint, available, at)
	}
}
