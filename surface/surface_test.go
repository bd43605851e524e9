package surface

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func parseDoc(t *testing.T, html string) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse test HTML: %v", err)
	}
	return doc
}

func TestSnapshotFindAcrossPages(t *testing.T) {
	s := NewSnapshot(parseDoc(t, `<body><div class="post">one</div></body>`), "div.post")
	s.Append(parseDoc(t, `<body><div class="post">two</div><div class="post">three</div></body>`))

	if got := s.Count("div.post"); got != 3 {
		t.Errorf("Count() = %d, want 3 across pages", got)
	}

	var texts []string
	s.Find("div.post").Each(func(_ int, sel *goquery.Selection) {
		texts = append(texts, sel.Text())
	})
	want := []string{"one", "two", "three"}
	for i, text := range want {
		if texts[i] != text {
			t.Errorf("Find() order: texts[%d] = %q, want %q", i, texts[i], text)
		}
	}
}

func TestSnapshotAppendEmitsMutation(t *testing.T) {
	s := NewSnapshot(parseDoc(t, `<body><div class="post">one</div></body>`), "div.post")
	s.Append(parseDoc(t, `<body><div class="post">two</div></body>`))

	select {
	case m := <-s.Mutations():
		if m.Selector != "div.post" {
			t.Errorf("Mutation.Selector = %q, want div.post", m.Selector)
		}
		if m.Count != 2 || m.Delta != 1 {
			t.Errorf("Mutation = count %d delta %d, want count 2 delta 1", m.Count, m.Delta)
		}
	default:
		t.Fatal("no mutation emitted on Append")
	}
}

func TestPageURL(t *testing.T) {
	tests := []struct {
		base string
		page int
		want string
	}{
		{"https://example.com/feed", 1, "https://example.com/feed"},
		{"https://example.com/feed", 2, "https://example.com/feed/page-2"},
		{"https://example.com/feed/", 3, "https://example.com/feed/page-3"},
		{"https://example.com/feed", 0, "https://example.com/feed"},
	}

	for _, tt := range tests {
		if got := pageURL(tt.base, tt.page); got != tt.want {
			t.Errorf("pageURL(%q, %d) = %q, want %q", tt.base, tt.page, got, tt.want)
		}
	}
}

func TestPollingScrollBottomAppendsNextPage(t *testing.T) {
	var pages atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pages.Add(1)
		if strings.Contains(r.URL.Path, "page-2") {
			w.Write([]byte(`<body><div class="post">p2a</div><div class="post">p2b</div></body>`))
			return
		}
		w.Write([]byte(`<body><div class="post">p1</div></body>`))
	}))
	t.Cleanup(srv.Close)

	p := NewPolling(srv.Client(), srv.URL, "div.post", time.Hour, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	go p.Run(ctx)
	defer cancel()

	waitForCount(t, p, 1)

	if err := p.ScrollBottom(ctx); err != nil {
		t.Fatalf("ScrollBottom() error: %v", err)
	}
	if got := p.Count("div.post"); got != 3 {
		t.Errorf("Count() after scroll = %d, want 3", got)
	}

	select {
	case m := <-p.Mutations():
		if m.Delta != 2 {
			t.Errorf("scroll mutation delta = %d, want 2", m.Delta)
		}
	default:
		t.Error("no mutation emitted after scroll added content")
	}
}

func TestPollingFetchRetriesNonOK(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping retry test in short mode")
	}

	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`<body><div class="post">ok</div></body>`))
	}))
	t.Cleanup(srv.Close)

	p := NewPolling(srv.Client(), srv.URL, "div.post", time.Hour, testLogger())
	doc, err := p.fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("fetch() error: %v", err)
	}
	if doc.Find("div.post").Length() != 1 {
		t.Error("fetched document missing expected content")
	}
	if got := hits.Load(); got != 2 {
		t.Errorf("server saw %d requests, want 2 (one retry)", got)
	}
}

func waitForCount(t *testing.T, p *Polling, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p.Count("div.post") >= want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("surface never reached %d watched elements", want)
}
