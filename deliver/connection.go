package deliver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"feedlens/metrics"
	"feedlens/storage"
)

// availabilityTTL is how long a probe result stays valid before delivery
// forces a fresh health check.
const availabilityTTL = 5 * time.Minute

// EndpointStore persists the endpoint selection across restarts.
type EndpointStore interface {
	SaveEndpointState(ctx context.Context, endpoint string, available bool, checkedAt time.Time) error
	LoadEndpointState(ctx context.Context) (endpoint string, available bool, checkedAt time.Time, err error)
}

// ConnectionManager owns the collector endpoint set: the ordered candidate
// list, the currently-selected endpoint, and its cached availability.
// Mutation is last-writer-wins behind a mutex; availability is advisory,
// not a correctness-critical lock.
type ConnectionManager struct {
	client    *http.Client
	logger    *slog.Logger
	store     EndpointStore // Optional
	endpoints []string

	mu        sync.Mutex
	current   string
	available bool
	checkedAt time.Time
	ttl       time.Duration
}

// NewConnectionManager creates a manager over an ordered endpoint list,
// restoring a persisted selection when it is still in the list.
func NewConnectionManager(ctx context.Context, client *http.Client, endpoints []string, store EndpointStore, logger *slog.Logger) (*ConnectionManager, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("no collector endpoints configured")
	}

	normalized := make([]string, len(endpoints))
	for i, ep := range endpoints {
		normalized[i] = strings.TrimSuffix(ep, "/")
	}

	cm := &ConnectionManager{
		client:    client,
		logger:    logger,
		store:     store,
		endpoints: normalized,
		current:   normalized[0],
		ttl:       availabilityTTL,
	}

	if store != nil {
		saved, available, checkedAt, err := store.LoadEndpointState(ctx)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			// First run, keep the configured default
		case err != nil:
			logger.Warn("Failed to load endpoint state, using configured default", "error", err)
		default:
			for _, ep := range normalized {
				if ep == saved {
					cm.current = saved
					cm.available = available
					cm.checkedAt = checkedAt
					logger.Info("Restored endpoint selection", "endpoint", saved, "available", available)
					break
				}
			}
		}
	}

	return cm, nil
}

// Current returns the currently-selected collector endpoint.
func (cm *ConnectionManager) Current() string {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	return cm.current
}

// Endpoints returns the full ordered candidate list.
func (cm *ConnectionManager) Endpoints() []string {
	out := make([]string, len(cm.endpoints))
	copy(out, cm.endpoints)
	return out
}

// CheckAvailability reports whether the collector is reachable. A cached
// result is reused within its validity window unless force is set. On a
// failed probe the remaining candidates are tried in order, switching the
// active endpoint on the first success.
func (cm *ConnectionManager) CheckAvailability(ctx context.Context, force bool) bool {
	cm.mu.Lock()
	if !force && !cm.checkedAt.IsZero() && time.Since(cm.checkedAt) < cm.ttl {
		cached := cm.available
		cm.mu.Unlock()
		return cached
	}
	current := cm.current
	cm.mu.Unlock()

	if err := cm.probe(ctx, current); err == nil {
		cm.record(ctx, current, true)
		return true
	}

	cm.logger.Warn("Health probe failed on current endpoint, trying alternates", "endpoint", current)

	for _, candidate := range cm.endpoints {
		if candidate == current {
			continue
		}
		if err := cm.probe(ctx, candidate); err != nil {
			cm.logger.Warn("Health probe failed", "endpoint", candidate, "error", err)
			continue
		}
		cm.logger.Info("Endpoint failover", "from", current, "to", candidate)
		metrics.Failovers.Inc()
		cm.record(ctx, candidate, true)
		return true
	}

	cm.record(ctx, current, false)
	return false
}

func (cm *ConnectionManager) probe(ctx context.Context, endpoint string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health-check/", http.NoBody)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}

	resp, err := cm.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			cm.logger.Warn("Failed to close probe response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func (cm *ConnectionManager) record(ctx context.Context, endpoint string, available bool) {
	now := time.Now()

	cm.mu.Lock()
	cm.current = endpoint
	cm.available = available
	cm.checkedAt = now
	cm.mu.Unlock()

	if cm.store != nil {
		if err := cm.store.SaveEndpointState(ctx, endpoint, available, now); err != nil {
			cm.logger.Warn("Failed to persist endpoint state", "error", err)
		}
	}
}
