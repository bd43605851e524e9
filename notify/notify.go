// Package notify delivers fire-and-forget alerts on terminal batch
// outcomes. Notification failures are logged and swallowed; nothing in the
// pipeline depends on a notifier succeeding.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"feedlens/deliver"
	"feedlens/pkg/feed"
)

// LogNotifier writes notifications to the structured log. The default in
// development, where no webhook is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

// BatchDelivered logs a delivery success.
func (n *LogNotifier) BatchDelivered(_ context.Context, batch *feed.Batch, outcome *deliver.Outcome) {
	n.Logger.Info("NOTIFY: batch delivered",
		"batch_id", batch.ID,
		"platform", batch.Platform,
		"posts", len(batch.Posts),
		"retries", outcome.RetryCount,
		"failed_over", outcome.FailedOver)
}

// BatchFailed logs a terminal delivery failure.
func (n *LogNotifier) BatchFailed(_ context.Context, batch *feed.Batch, err error) {
	n.Logger.Error("NOTIFY: batch failed",
		"batch_id", batch.ID,
		"platform", batch.Platform,
		"posts", len(batch.Posts),
		"attempts", batch.Attempts,
		"error", err)
}

// WebhookNotifier POSTs a JSON event to a configured URL. Best-effort: a
// short timeout, no retries, failures logged at warn.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
	Logger *slog.Logger
}

// NewWebhook creates a webhook notifier with a bounded client timeout.
func NewWebhook(url string, logger *slog.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logger,
	}
}

type webhookEvent struct {
	Event    string        `json:"event"`
	BatchID  string        `json:"batch_id"`
	Platform feed.Platform `json:"platform"`
	Posts    int           `json:"posts"`
	Retries  int           `json:"retries,omitempty"`
	Error    string        `json:"error,omitempty"`
	At       time.Time     `json:"at"`
}

// BatchDelivered posts a delivery event.
func (n *WebhookNotifier) BatchDelivered(ctx context.Context, batch *feed.Batch, outcome *deliver.Outcome) {
	n.send(ctx, webhookEvent{
		Event:    "batch_delivered",
		BatchID:  batch.ID,
		Platform: batch.Platform,
		Posts:    len(batch.Posts),
		Retries:  outcome.RetryCount,
		At:       time.Now().UTC(),
	})
}

// BatchFailed posts a terminal-failure event.
func (n *WebhookNotifier) BatchFailed(ctx context.Context, batch *feed.Batch, err error) {
	n.send(ctx, webhookEvent{
		Event:    "batch_failed",
		BatchID:  batch.ID,
		Platform: batch.Platform,
		Posts:    len(batch.Posts),
		Error:    err.Error(),
		At:       time.Now().UTC(),
	})
}

func (n *WebhookNotifier) send(ctx context.Context, event webhookEvent) {
	body, err := json.Marshal(event)
	if err != nil {
		n.Logger.Warn("Failed to marshal webhook event", "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		n.Logger.Warn("Failed to create webhook request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		n.Logger.Warn("Webhook notification failed", "url", n.URL, "error", err)
		return
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			n.Logger.Warn("Failed to close webhook response body", "error", closeErr)
		}
	}()

	if resp.StatusCode >= 300 {
		n.Logger.Warn("Webhook returned non-success status", "url", n.URL, "status", resp.StatusCode)
		return
	}
	n.Logger.Debug("Webhook notification sent", "event", event.Event, "batch_id", event.BatchID)
}
