// Package deliver ships scored posts to the remote collector in bounded
// batches, with exponential backoff, rate-limit handling, endpoint
// failover, and persistence of batches that exhaust their retries.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/codeGROOVE-dev/retry"

	"feedlens/metrics"
	"feedlens/pkg/feed"
)

// Backoff parameters shared across all retry paths: initial delay doubling
// per attempt, capped. Each retry preserves the original request body and
// path; only timing changes.
const (
	defaultRetryBudget = 3
	backoffBase        = 1000 * time.Millisecond
	backoffCap         = 30000 * time.Millisecond
	defaultMaxPending  = 100
)

// PendingStore persists batches across delivery failures and guards against
// duplicate submissions.
type PendingStore interface {
	SavePending(ctx context.Context, batch *feed.Batch, lastError string) error
	ListPending(ctx context.Context) ([]*feed.Batch, error)
	DeletePending(ctx context.Context, id string) error
	PrunePending(ctx context.Context, maxEntries int) (int, error)
	MarkDelivered(ctx context.Context, id string) error
	WasDelivered(ctx context.Context, id string) (bool, error)
}

// Archiver receives terminal batches for long-term storage. Archive
// failures are logged, never surfaced: archiving is best-effort.
type Archiver interface {
	ArchiveDelivered(ctx context.Context, batch *feed.Batch) error
	ArchiveDeadLetter(ctx context.Context, batch *feed.Batch, reason string) error
}

// Notifier receives fire-and-forget alerts on terminal outcomes. Not
// required for correctness.
type Notifier interface {
	BatchDelivered(ctx context.Context, batch *feed.Batch, outcome *Outcome)
	BatchFailed(ctx context.Context, batch *feed.Batch, err error)
}

// Outcome describes how a submission ended.
type Outcome struct {
	Success    bool
	Duplicate  bool // Batch ID was already delivered; stats not re-counted
	FailedOver bool // Delivery succeeded only after switching endpoints
	RetryCount int
	StatusCode int
}

// Stats is a point-in-time snapshot of pipeline counters for /statz.
type Stats struct {
	BatchesDelivered int64 `json:"batches_delivered"`
	PostsDelivered   int64 `json:"posts_delivered"`
	BatchesFailed    int64 `json:"batches_failed"`
	Retries          int64 `json:"retries"`
}

// Pipeline batches posts per platform and submits them to the collector.
type Pipeline struct {
	conn     *ConnectionManager
	client   *http.Client
	store    PendingStore
	archiver Archiver // Optional
	notifier Notifier // Optional
	logger   *slog.Logger
	apiKey   string

	retryBudget uint
	maxPending  int

	mu    sync.Mutex
	accum map[feed.Platform][]*feed.Post

	batchesDelivered atomic.Int64
	postsDelivered   atomic.Int64
	batchesFailed    atomic.Int64
	retries          atomic.Int64
}

// Config wires a pipeline.
type Config struct {
	Connection *ConnectionManager
	Client     *http.Client
	Store      PendingStore
	Archiver   Archiver
	Notifier   Notifier
	Logger     *slog.Logger
	APIKey     string
}

// New creates a delivery pipeline.
func New(cfg *Config) *Pipeline {
	return &Pipeline{
		conn:        cfg.Connection,
		client:      cfg.Client,
		store:       cfg.Store,
		archiver:    cfg.Archiver,
		notifier:    cfg.Notifier,
		logger:      cfg.Logger,
		apiKey:      cfg.APIKey,
		retryBudget: defaultRetryBudget,
		maxPending:  defaultMaxPending,
		accum:       make(map[feed.Platform][]*feed.Post),
	}
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		BatchesDelivered: p.batchesDelivered.Load(),
		PostsDelivered:   p.postsDelivered.Load(),
		BatchesFailed:    p.batchesFailed.Load(),
		Retries:          p.retries.Load(),
	}
}

// Add accumulates a scored post, flushing the platform's batch when it
// reaches the size cap. Callers are serialized by the observer's
// single-flight guard; the mutex covers the flush ticker.
func (p *Pipeline) Add(ctx context.Context, post *feed.Post) error {
	p.mu.Lock()
	p.accum[post.Platform] = append(p.accum[post.Platform], post)
	var full []*feed.Post
	if len(p.accum[post.Platform]) >= feed.MaxBatchSize {
		full = p.accum[post.Platform]
		p.accum[post.Platform] = nil
	}
	p.mu.Unlock()

	if full == nil {
		return nil
	}
	_, err := p.Submit(ctx, feed.NewBatch(post.Platform, full))
	return err
}

// Flush submits all partially-filled batches.
func (p *Pipeline) Flush(ctx context.Context) error {
	p.mu.Lock()
	pending := p.accum
	p.accum = make(map[feed.Platform][]*feed.Post)
	p.mu.Unlock()

	var firstErr error
	for platform, posts := range pending {
		if len(posts) == 0 {
			continue
		}
		if _, err := p.Submit(ctx, feed.NewBatch(platform, posts)); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// FlushLoop flushes on the given interval until the context is done.
func (p *Pipeline) FlushLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("Periodic flush failed", "error", err)
			}
		}
	}
}

// Submit delivers one batch to the collector. Validation errors surface
// immediately; transient failures are retried with exponential backoff and
// endpoint failover; batches that exhaust every path are persisted to the
// pending store and dead-lettered.
func (p *Pipeline) Submit(ctx context.Context, batch *feed.Batch) (*Outcome, error) {
	if batch == nil || len(batch.Posts) == 0 {
		return nil, ErrEmptyBatch
	}
	if batch.Platform == "" {
		return nil, ErrNoPlatform
	}

	// Duplicate-batch guard: an already-delivered ID must not double-count
	// statistics.
	if delivered, err := p.store.WasDelivered(ctx, batch.ID); err != nil {
		p.logger.Warn("Delivered-batch lookup failed", "batch_id", batch.ID, "error", err)
	} else if delivered {
		p.logger.Info("Skipping already-delivered batch", "batch_id", batch.ID)
		return &Outcome{Success: true, Duplicate: true}, nil
	}

	normalize(batch)

	if !p.conn.CheckAvailability(ctx, false) {
		err := &ConnectivityError{Endpoints: p.conn.Endpoints(), Cause: errors.New("no endpoint passed its health probe")}
		p.preserve(ctx, batch, err)
		return nil, err
	}

	body, err := json.Marshal(map[string]any{
		"platform": batch.Platform,
		"posts":    batch.Posts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	outcome := &Outcome{}
	endpoint := p.conn.Current()

	err = retry.Do(
		func() error {
			return p.post(ctx, endpoint, body, outcome)
		},
		retry.Attempts(p.retryBudget+1),
		retry.Delay(backoffBase),
		retry.MaxDelay(backoffCap),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return backoffDelay(n, backoffBase, backoffCap)
		}),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			outcome.RetryCount++
			p.retries.Add(1)
			metrics.DeliveryRetries.Inc()
			p.logger.Info("Retrying batch delivery", "batch_id", batch.ID, "attempt", n+1, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var statusErr *httpStatusError
			if errors.As(err, &statusErr) {
				return statusErr.code == http.StatusTooManyRequests || statusErr.code >= 500
			}
			return true // Transport failures are retryable
		}),
	)

	if err == nil {
		p.recordSuccess(ctx, batch, outcome)
		return outcome, nil
	}

	// Transport failures get one failover sweep: each alternate endpoint
	// is tried once before surfacing a hard connectivity error.
	var statusErr *httpStatusError
	if !errors.As(err, &statusErr) && !IsAuthError(err) {
		var reqErr *RequestError
		if !errors.As(err, &reqErr) {
			if done := p.failoverSweep(ctx, batch, body, outcome); done {
				p.recordSuccess(ctx, batch, outcome)
				return outcome, nil
			}
			connErr := &ConnectivityError{Endpoints: p.conn.Endpoints(), Cause: err}
			p.preserve(ctx, batch, connErr)
			return outcome, connErr
		}
	}

	terminal := p.classify(err, endpoint, outcome)
	p.preserve(ctx, batch, terminal)
	return outcome, terminal
}

// ResendPending replays batches that previously exhausted their retries.
func (p *Pipeline) ResendPending(ctx context.Context) (int, error) {
	batches, err := p.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("list pending: %w", err)
	}

	resent := 0
	for _, batch := range batches {
		outcome, err := p.Submit(ctx, batch)
		if err != nil {
			p.logger.Warn("Pending batch resend failed", "batch_id", batch.ID, "error", err)
			continue
		}
		if outcome.Success {
			if err := p.store.DeletePending(ctx, batch.ID); err != nil {
				p.logger.Warn("Failed to delete resent batch", "batch_id", batch.ID, "error", err)
			}
			resent++
		}
	}

	p.logger.Info("Pending resend completed", "total", len(batches), "resent", resent)
	return resent, nil
}

func (p *Pipeline) failoverSweep(ctx context.Context, batch *feed.Batch, body []byte, outcome *Outcome) bool {
	current := p.conn.Current()
	for _, candidate := range p.conn.Endpoints() {
		if candidate == current {
			continue
		}
		if err := p.post(ctx, candidate, body, outcome); err != nil {
			p.logger.Warn("Failover delivery attempt failed", "batch_id", batch.ID, "endpoint", candidate, "error", err)
			continue
		}
		outcome.FailedOver = true
		metrics.Failovers.Inc()
		// The candidate just accepted a delivery; make it the active
		// endpoint so later batches skip the dead one.
		p.conn.record(ctx, candidate, true)
		p.logger.Info("Batch delivered after endpoint failover", "batch_id", batch.ID, "endpoint", candidate)
		return true
	}
	return false
}

func (p *Pipeline) recordSuccess(ctx context.Context, batch *feed.Batch, outcome *Outcome) {
	outcome.Success = true

	if err := p.store.MarkDelivered(ctx, batch.ID); err != nil {
		p.logger.Warn("Failed to record delivered batch", "batch_id", batch.ID, "error", err)
	}

	p.batchesDelivered.Add(1)
	p.postsDelivered.Add(int64(len(batch.Posts)))
	metrics.BatchesDelivered.WithLabelValues(string(batch.Platform)).Inc()
	metrics.PostsDelivered.WithLabelValues(string(batch.Platform)).Add(float64(len(batch.Posts)))

	p.logger.Info("Batch delivered",
		"batch_id", batch.ID,
		"platform", batch.Platform,
		"posts", len(batch.Posts),
		"retries", outcome.RetryCount,
		"failed_over", outcome.FailedOver)

	if p.archiver != nil {
		if err := p.archiver.ArchiveDelivered(ctx, batch); err != nil {
			p.logger.Warn("Failed to archive delivered batch", "batch_id", batch.ID, "error", err)
		}
	}
	if p.notifier != nil {
		p.notifier.BatchDelivered(ctx, batch, outcome)
	}
}

// preserve keeps a terminally-failed batch for later inspection or resend,
// bounded by the pending cap with oldest-first eviction.
func (p *Pipeline) preserve(ctx context.Context, batch *feed.Batch, cause error) {
	batch.Attempts++
	p.batchesFailed.Add(1)
	metrics.BatchesFailed.WithLabelValues(errorKind(cause)).Inc()

	if err := p.store.SavePending(ctx, batch, cause.Error()); err != nil {
		p.logger.Error("Failed to persist failed batch", "batch_id", batch.ID, "error", err)
	}
	if n, err := p.store.PrunePending(ctx, p.maxPending); err != nil {
		p.logger.Warn("Failed to prune pending batches", "error", err)
	} else if n > 0 {
		p.logger.Info("Pending batches pruned", "evicted", n)
	}

	if p.archiver != nil {
		if err := p.archiver.ArchiveDeadLetter(ctx, batch, cause.Error()); err != nil {
			p.logger.Warn("Failed to archive dead-letter batch", "batch_id", batch.ID, "error", err)
		}
	}
	if p.notifier != nil {
		p.notifier.BatchFailed(ctx, batch, cause)
	}
}

// post executes a single delivery attempt against one endpoint.
func (p *Pipeline) post(ctx context.Context, endpoint string, body []byte, outcome *Outcome) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/collect-posts/", bytes.NewReader(body))
	if err != nil {
		return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", p.apiKey)

	startTime := time.Now()
	resp, err := p.client.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		p.logger.Warn("Delivery request failed",
			"endpoint", endpoint,
			"duration_ms", duration.Milliseconds(),
			"error", err)
		return err
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			p.logger.Warn("Failed to close response body", "error", closeErr)
		}
	}()

	outcome.StatusCode = resp.StatusCode
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// Non-JSON success bodies are tolerated and wrapped.
		var parsed map[string]any
		if len(raw) > 0 && json.Unmarshal(raw, &parsed) != nil {
			p.logger.Debug("Collector returned non-JSON success body", "text", string(raw))
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return retry.Unrecoverable(&AuthError{Endpoint: endpoint})
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return &httpStatusError{code: resp.StatusCode}
	default:
		return retry.Unrecoverable(&RequestError{StatusCode: resp.StatusCode, Message: serverMessage(raw)})
	}
}

func (p *Pipeline) classify(err error, endpoint string, outcome *Outcome) error {
	if IsAuthError(err) {
		return err
	}
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr
	}
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		if statusErr.code == http.StatusTooManyRequests {
			return &RateLimitError{Endpoint: endpoint, Retries: outcome.RetryCount}
		}
		return &ServerError{Endpoint: endpoint, StatusCode: statusErr.code, Retries: outcome.RetryCount}
	}
	return err
}

// normalize coerces boolean-like and numeric fields into their strict
// domain before the batch goes on the wire.
func normalize(batch *feed.Batch) {
	for _, post := range batch.Posts {
		if post.Author == "" {
			post.Author = "unknown"
		}
		if post.Engagement.Likes < 0 {
			post.Engagement.Likes = 0
		}
		if post.Engagement.Comments < 0 {
			post.Engagement.Comments = 0
		}
		if post.Engagement.Shares < 0 {
			post.Engagement.Shares = 0
		}
	}
}

// backoffDelay is the shared schedule for all retry paths: base doubled per
// attempt, capped. Attempt 0 is the delay before the first retry.
func backoffDelay(attempt uint, base, maxDelay time.Duration) time.Duration {
	delay := base
	for i := uint(0); i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	if delay > maxDelay {
		return maxDelay
	}
	return delay
}

func errorKind(err error) string {
	switch {
	case IsAuthError(err):
		return "auth"
	case IsRateLimitError(err):
		return "rate_limit"
	case IsServerError(err):
		return "server"
	case IsConnectivityError(err):
		return "connectivity"
	default:
		return "other"
	}
}

func serverMessage(raw []byte) string {
	var parsed struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &parsed) == nil {
		if parsed.Error != "" {
			return parsed.Error
		}
		return parsed.Message
	}
	return ""
}

// httpStatusError marks a retryable HTTP status (429 or 5xx).
type httpStatusError struct {
	code int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.code)
}
