package surface

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/codeGROOVE-dev/retry"
)

// Polling is a surface backed by periodic HTTP re-fetches of a feed page.
// Structural changes between fetches are surfaced as mutations; scrolling
// maps to fetching the next page of a paginated feed.
type Polling struct {
	client    *http.Client
	logger    *slog.Logger
	url       string
	watch     string
	interval  time.Duration
	mu        sync.RWMutex
	pages     []*goquery.Document
	lastCount int
	mut       chan Mutation
}

// NewPolling creates a polling surface for url. The watch selector drives
// mutation detection between fetches.
func NewPolling(client *http.Client, url, watch string, interval time.Duration, logger *slog.Logger) *Polling {
	return &Polling{
		client:   client,
		logger:   logger,
		url:      url,
		watch:    watch,
		interval: interval,
		mut:      make(chan Mutation, 16),
	}
}

// Run fetches the first page and then re-fetches it on the poll interval
// until the context is done, emitting mutations when the watched element
// count changes.
func (p *Polling) Run(ctx context.Context) error {
	doc, err := p.fetch(ctx, p.url)
	if err != nil {
		return fmt.Errorf("initial fetch: %w", err)
	}

	p.mu.Lock()
	p.pages = []*goquery.Document{doc}
	p.lastCount = doc.Find(p.watch).Length()
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.refresh(ctx); err != nil {
				p.logger.Warn("Surface refresh failed", "url", p.url, "error", err)
			}
		}
	}
}

func (p *Polling) refresh(ctx context.Context) error {
	doc, err := p.fetch(ctx, p.url)
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.pages[0] = doc
	count := 0
	for _, page := range p.pages {
		count += page.Find(p.watch).Length()
	}
	delta := count - p.lastCount
	p.lastCount = count
	p.mu.Unlock()

	if delta != 0 {
		p.logger.Info("Surface mutation detected", "url", p.url, "count", count, "delta", delta)
		p.emit(Mutation{At: time.Now(), Selector: p.watch, Count: count, Delta: delta})
	}
	return nil
}

// Find returns matches across all fetched pages, in page order.
func (p *Polling) Find(selector string) *goquery.Selection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.pages) == 0 {
		return new(goquery.Selection)
	}
	sel := p.pages[0].Find(selector)
	for _, page := range p.pages[1:] {
		sel = sel.AddNodes(page.Find(selector).Nodes...)
	}
	return sel
}

// Count reports how many elements match across all fetched pages.
func (p *Polling) Count(selector string) int {
	return p.Find(selector).Length()
}

// Mutations returns the notification channel.
func (p *Polling) Mutations() <-chan Mutation {
	return p.mut
}

// ScrollBottom fetches the next page of the feed and appends it to the
// surface, emitting a mutation when it brought new watched elements.
func (p *Polling) ScrollBottom(ctx context.Context) error {
	p.mu.RLock()
	next := len(p.pages) + 1
	p.mu.RUnlock()

	doc, err := p.fetch(ctx, pageURL(p.url, next))
	if err != nil {
		return fmt.Errorf("fetch page %d: %w", next, err)
	}

	added := doc.Find(p.watch).Length()
	if added == 0 {
		p.logger.Info("Scroll reached end of feed", "url", p.url, "page", next)
		return nil
	}

	p.mu.Lock()
	p.pages = append(p.pages, doc)
	p.lastCount += added
	count := p.lastCount
	p.mu.Unlock()

	p.logger.Info("Scroll extended surface", "url", p.url, "page", next, "added", added)
	p.emit(Mutation{At: time.Now(), Selector: p.watch, Count: count, Delta: added})
	return nil
}

func (p *Polling) emit(m Mutation) {
	select {
	case p.mut <- m:
	default:
	}
}

func (p *Polling) fetch(ctx context.Context, pageURL string) (*goquery.Document, error) {
	var doc *goquery.Document

	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, http.NoBody)
			if err != nil {
				return fmt.Errorf("create request: %w", err)
			}

			// Browser-like headers so feed servers return the full markup
			req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36")
			req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
			req.Header.Set("Accept-Language", "en-US,en;q=0.9")

			startTime := time.Now()
			resp, err := p.client.Do(req)
			duration := time.Since(startTime)

			if err != nil {
				p.logger.Warn("Surface fetch failed, will retry",
					"url", pageURL,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode != http.StatusOK {
				p.logger.Warn("Surface fetch returned non-OK status, will retry", "status_code", resp.StatusCode)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			doc, err = goquery.NewDocumentFromReader(resp.Body)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("parse HTML: %w", err))
			}
			return nil
		},
		retry.Attempts(5),
		retry.Delay(time.Second),
		retry.MaxDelay(30*time.Second),
		retry.MaxJitter(2*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying surface fetch after error", "attempt", n, "error", err)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("after retries: %w", err)
	}
	return doc, nil
}

// pageURL constructs a URL for a specific page number.
func pageURL(baseURL string, pageNum int) string {
	if pageNum <= 1 {
		return baseURL
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/page-%d", baseURL, pageNum)
}
