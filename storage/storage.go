// Package storage is the persistent key-value collaborator: a sqlite-backed
// store for the fingerprint ledger, pending batches, delivery bookkeeping,
// and user preferences.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"feedlens/pkg/feed"
)

// Preference scopes. Local is the larger-capacity scope for caches and
// collected state; Synced is the small scope for user preferences.
const (
	ScopeLocal  = "local"
	ScopeSynced = "synced"
)

// ErrNotFound is returned when a requested key has no stored value.
var ErrNotFound = errors.New("storage: not found")

// Store wraps a sqlite database holding all persistent state.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens (creating if needed) the store at path.
func New(path string, logger *slog.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_journal=WAL&_timeout=5000&_fk=true")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS fingerprints (
			fingerprint TEXT PRIMARY KEY,
			first_seen INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_fingerprints_time ON fingerprints(first_seen);

		CREATE TABLE IF NOT EXISTS pending_batches (
			id TEXT PRIMARY KEY,
			platform TEXT NOT NULL,
			payload TEXT NOT NULL,
			attempts INTEGER NOT NULL DEFAULT 0,
			last_error TEXT,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_pending_time ON pending_batches(created_at);

		CREATE TABLE IF NOT EXISTS delivered_batches (
			id TEXT PRIMARY KEY,
			delivered_at INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS prefs (
			scope TEXT NOT NULL,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (scope, key)
		);

		CREATE TABLE IF NOT EXISTS endpoint_state (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			endpoint TEXT NOT NULL,
			available INTEGER NOT NULL,
			checked_at INTEGER NOT NULL
		);
	`); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasFingerprint reports whether a fingerprint was persisted before.
func (s *Store) HasFingerprint(ctx context.Context, fp string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM fingerprints WHERE fingerprint = ?", fp,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query fingerprint: %w", err)
	}
	return count > 0, nil
}

// SaveFingerprint records a fingerprint with its first-seen time. Saving an
// existing fingerprint keeps the original timestamp.
func (s *Store) SaveFingerprint(ctx context.Context, fp string, firstSeen time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO fingerprints(fingerprint, first_seen) VALUES(?, ?)",
		fp, firstSeen.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save fingerprint: %w", err)
	}
	return nil
}

// PruneFingerprints drops entries older than the cutoff, then the oldest
// entries beyond maxEntries. Returns the total removed.
func (s *Store) PruneFingerprints(ctx context.Context, before time.Time, maxEntries int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM fingerprints WHERE first_seen < ?", before.Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("prune by age: %w", err)
	}
	byAge, _ := res.RowsAffected()

	res, err = s.db.ExecContext(ctx, `
		DELETE FROM fingerprints WHERE fingerprint IN (
			SELECT fingerprint FROM fingerprints
			ORDER BY first_seen ASC
			LIMIT max(0, (SELECT COUNT(*) FROM fingerprints) - ?)
		)`, maxEntries,
	)
	if err != nil {
		return int(byAge), fmt.Errorf("prune by size: %w", err)
	}
	bySize, _ := res.RowsAffected()

	return int(byAge + bySize), nil
}

// SavePending persists a batch whose delivery failed, for later inspection
// or resend.
func (s *Store) SavePending(ctx context.Context, batch *feed.Batch, lastError string) error {
	payload, err := json.Marshal(batch.Posts)
	if err != nil {
		return fmt.Errorf("marshal batch posts: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO pending_batches(id, platform, payload, attempts, last_error, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		batch.ID, string(batch.Platform), string(payload), batch.Attempts, lastError, batch.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save pending batch: %w", err)
	}
	return nil
}

// ListPending returns all stored pending batches, oldest first.
func (s *Store) ListPending(ctx context.Context) ([]*feed.Batch, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, platform, payload, attempts, created_at
		FROM pending_batches ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			s.logger.Warn("Failed to close rows", "error", closeErr)
		}
	}()

	var batches []*feed.Batch
	for rows.Next() {
		var (
			batch     feed.Batch
			platform  string
			payload   string
			createdAt int64
		)
		if err := rows.Scan(&batch.ID, &platform, &payload, &batch.Attempts, &createdAt); err != nil {
			s.logger.Warn("Failed to scan pending batch", "error", err)
			continue
		}
		if err := json.Unmarshal([]byte(payload), &batch.Posts); err != nil {
			s.logger.Warn("Failed to unmarshal pending batch payload", "batch_id", batch.ID, "error", err)
			continue
		}
		batch.Platform = feed.Platform(platform)
		batch.CreatedAt = time.Unix(createdAt, 0)
		batches = append(batches, &batch)
	}
	return batches, rows.Err()
}

// DeletePending removes a pending batch by ID. Deleting a missing batch is
// not an error.
func (s *Store) DeletePending(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM pending_batches WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete pending batch: %w", err)
	}
	return nil
}

// PrunePending evicts the oldest pending batches beyond maxEntries.
func (s *Store) PrunePending(ctx context.Context, maxEntries int) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pending_batches WHERE id IN (
			SELECT id FROM pending_batches
			ORDER BY created_at ASC
			LIMIT max(0, (SELECT COUNT(*) FROM pending_batches) - ?)
		)`, maxEntries,
	)
	if err != nil {
		return 0, fmt.Errorf("prune pending batches: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// MarkDelivered records a batch ID as successfully delivered. This is the
// duplicate-batch guard: a second submit of the same ID is a no-op upstream.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO delivered_batches(id, delivered_at) VALUES(?, ?)",
		id, time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("mark delivered: %w", err)
	}
	return nil
}

// WasDelivered reports whether a batch ID was delivered before.
func (s *Store) WasDelivered(ctx context.Context, id string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM delivered_batches WHERE id = ?", id,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("query delivered: %w", err)
	}
	return count > 0, nil
}

// SetPref stores a preference value in the given scope.
func (s *Store) SetPref(ctx context.Context, scope, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT OR REPLACE INTO prefs(scope, key, value) VALUES(?, ?, ?)",
		scope, key, value,
	)
	if err != nil {
		return fmt.Errorf("set pref: %w", err)
	}
	return nil
}

// GetPref reads a preference value; ErrNotFound when unset.
func (s *Store) GetPref(ctx context.Context, scope, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		"SELECT value FROM prefs WHERE scope = ? AND key = ?", scope, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get pref: %w", err)
	}
	return value, nil
}

// SaveEndpointState persists the currently-selected collector endpoint and
// its last-known availability.
func (s *Store) SaveEndpointState(ctx context.Context, endpoint string, available bool, checkedAt time.Time) error {
	avail := 0
	if available {
		avail = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO endpoint_state(id, endpoint, available, checked_at)
		VALUES(1, ?, ?, ?)`,
		endpoint, avail, checkedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("save endpoint state: %w", err)
	}
	return nil
}

// LoadEndpointState reads the persisted endpoint selection; ErrNotFound
// when never saved.
func (s *Store) LoadEndpointState(ctx context.Context) (endpoint string, available bool, checkedAt time.Time, err error) {
	var avail int
	var checked int64
	err = s.db.QueryRowContext(ctx,
		"SELECT endpoint, available, checked_at FROM endpoint_state WHERE id = 1",
	).Scan(&endpoint, &avail, &checked)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, time.Time{}, ErrNotFound
	}
	if err != nil {
		return "", false, time.Time{}, fmt.Errorf("load endpoint state: %w", err)
	}
	return endpoint, avail == 1, time.Unix(checked, 0), nil
}
