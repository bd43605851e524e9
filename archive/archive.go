// Package archive persists delivered and dead-lettered batches as JSON
// objects, either in a Cloud Storage bucket or a local directory. The
// archive is an audit trail; the delivery pipeline never reads it back on
// the hot path.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"feedlens/pkg/feed"
)

// Object name prefixes. Delivered batches and dead-lettered batches share
// the bucket but never the prefix.
const (
	deliveredPrefix  = "delivered/"
	deadLetterPrefix = "deadletter/"
)

// Archive writes batch records to Cloud Storage, or to a local directory
// when one is configured. Local mode is meant for development and tests.
type Archive struct {
	client   *storage.Client
	logger   *slog.Logger
	bucket   string
	localDir string
}

// New creates a Cloud Storage backed archive.
func New(ctx context.Context, bucket string, logger *slog.Logger) (*Archive, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket, logger: logger}, nil
}

// NewLocal creates an archive rooted at a local directory.
func NewLocal(dir string, logger *slog.Logger) (*Archive, error) {
	for _, sub := range []string{deliveredPrefix, deadLetterPrefix} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
	}
	return &Archive{localDir: dir, logger: logger}, nil
}

// Record is what gets serialized per archived batch.
type Record struct {
	Batch      *feed.Batch `json:"batch"`
	ArchivedAt time.Time   `json:"archived_at"`
	Reason     string      `json:"reason,omitempty"` // Set for dead letters only
}

// ArchiveDelivered archives a successfully delivered batch.
func (a *Archive) ArchiveDelivered(ctx context.Context, batch *feed.Batch) error {
	rec := Record{Batch: batch, ArchivedAt: time.Now().UTC()}
	return a.save(ctx, deliveredPrefix+objectName(batch), rec)
}

// ArchiveDeadLetter archives a batch that exhausted its delivery attempts,
// with the final error for the post-mortem.
func (a *Archive) ArchiveDeadLetter(ctx context.Context, batch *feed.Batch, reason string) error {
	rec := Record{Batch: batch, ArchivedAt: time.Now().UTC(), Reason: reason}
	return a.save(ctx, deadLetterPrefix+objectName(batch), rec)
}

func objectName(batch *feed.Batch) string {
	return fmt.Sprintf("batch-%s.json", batch.ID)
}

func (a *Archive) save(ctx context.Context, key string, rec Record) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal archive record: %w", err)
	}

	if a.localDir != "" {
		path := filepath.Join(a.localDir, filepath.FromSlash(key))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("write to local archive: %w", err)
		}
		a.logger.Info("Batch archived to local storage", "path", path)
		return nil
	}

	err = retry.Do(
		func() error {
			w := a.client.Bucket(a.bucket).Object(key).NewWriter(ctx)
			if _, err := w.Write(data); err != nil {
				if closeErr := w.Close(); closeErr != nil {
					a.logger.Warn("Failed to close storage writer", "key", key, "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", err)
			}
			if err := w.Close(); err != nil {
				return fmt.Errorf("close storage writer: %w", err)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("Archive write failed, retrying", "attempt", n+1, "key", key, "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("archive %s: %w", key, err)
	}

	a.logger.Info("Batch archived", "key", key, "bucket", a.bucket)
	return nil
}

// Load reads a single archived record back by its object key.
func (a *Archive) Load(ctx context.Context, key string) (*Record, error) {
	var data []byte
	var err error

	if a.localDir != "" {
		data, err = os.ReadFile(filepath.Join(a.localDir, filepath.FromSlash(key)))
		if err != nil {
			return nil, fmt.Errorf("read from local archive: %w", err)
		}
	} else {
		r, err := a.client.Bucket(a.bucket).Object(key).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("open archive reader: %w", err)
		}
		defer r.Close()

		data, err = io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("read from archive: %w", err)
		}
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal archive record: %w", err)
	}
	return &rec, nil
}

// ListDeadLetters returns the object keys of all dead-lettered batches.
func (a *Archive) ListDeadLetters(ctx context.Context) ([]string, error) {
	return a.list(ctx, deadLetterPrefix)
}

// ListDelivered returns the object keys of all delivered batches.
func (a *Archive) ListDelivered(ctx context.Context) ([]string, error) {
	return a.list(ctx, deliveredPrefix)
}

func (a *Archive) list(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if a.localDir != "" {
		entries, err := os.ReadDir(filepath.Join(a.localDir, filepath.FromSlash(prefix)))
		if err != nil {
			return nil, fmt.Errorf("read local archive directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, prefix+entry.Name())
		}
		return keys, nil
	}

	it := a.client.Bucket(a.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate archive: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

// Close releases the storage client. No-op in local mode.
func (a *Archive) Close() error {
	if a.client != nil {
		return a.client.Close()
	}
	return nil
}
