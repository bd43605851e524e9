package extract

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"

	"feedlens/pkg/feed"
	"feedlens/selectors"
)

func testRegistry() *selectors.Registry {
	r := &selectors.Registry{}
	r.Override("testfeed", selectors.FieldContent, []string{"div.content"})
	r.Override("testfeed", selectors.FieldAuthor, []string{"span.author"})
	r.Override("testfeed", selectors.FieldMedia, []string{"img.media"})
	r.Override("testfeed", selectors.FieldLikes, []string{"span.likes"})
	r.Override("testfeed", selectors.FieldComments, []string{"span.comments"})
	r.Override("testfeed", selectors.FieldShares, []string{"span.shares"})
	r.Override("testfeed", selectors.FieldTimestamp, []string{"time"})
	r.Override("testfeed", selectors.FieldSponsored, []string{"span.promo-badge"})
	r.Override("testfeed", selectors.FieldVerified, []string{"svg.verified"})
	return r
}

func container(t *testing.T, html string) *goquery.Selection {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		t.Fatalf("parse test HTML: %v", err)
	}
	return doc.Find("div.post").First()
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestExtractBasicPost(t *testing.T) {
	e := New(testRegistry(), Options{}, testLogger())

	sel := container(t, `<div class="post">
		<span class="author">Jane Rider</span>
		<div class="content">Spent the weekend rebuilding the carbs on the old DR650. #motorcycles #Wrenching</div>
		<span class="likes">1.2K</span>
		<span class="comments">34</span>
		<time datetime="2026-08-30T12:00:00Z">yesterday</time>
	</div>`)

	post := e.Extract("testfeed", sel)
	if post == nil {
		t.Fatal("Extract() returned nil for a complete post")
	}
	if post.Author != "Jane Rider" {
		t.Errorf("Author = %q, want %q", post.Author, "Jane Rider")
	}
	if !strings.HasPrefix(post.Content, "Spent the weekend") {
		t.Errorf("Content = %q, want carb rebuild text", post.Content)
	}
	if post.Engagement.Likes != 1200 {
		t.Errorf("Likes = %d, want 1200", post.Engagement.Likes)
	}
	if post.Engagement.Comments != 34 {
		t.Errorf("Comments = %d, want 34", post.Engagement.Comments)
	}
	if post.ObservedAt != "2026-08-30T12:00:00Z" {
		t.Errorf("ObservedAt = %q, want datetime attribute", post.ObservedAt)
	}
	wantTags := []string{"motorcycles", "wrenching"}
	if len(post.Hashtags) != len(wantTags) {
		t.Fatalf("Hashtags = %v, want %v", post.Hashtags, wantTags)
	}
	for i, tag := range wantTags {
		if post.Hashtags[i] != tag {
			t.Errorf("Hashtags[%d] = %q, want %q", i, post.Hashtags[i], tag)
		}
	}
}

func TestExtractSkipsLowSignalContainers(t *testing.T) {
	e := New(testRegistry(), Options{}, testLogger())

	tests := []struct {
		name string
		html string
		want bool // want a post back
	}{
		{
			name: "short content no media",
			html: `<div class="post"><div class="content">hi</div></div>`,
			want: false,
		},
		{
			name: "empty container",
			html: `<div class="post"></div>`,
			want: false,
		},
		{
			name: "short content with media",
			html: `<div class="post"><div class="content">hi</div><img class="media" src="https://cdn.example.com/a.jpg"></div>`,
			want: true,
		},
		{
			name: "long content no media",
			html: `<div class="post"><div class="content">A proper sentence about something.</div></div>`,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := e.Extract("testfeed", container(t, tt.html))
			if (post != nil) != tt.want {
				t.Errorf("Extract() = %v, want post: %v", post, tt.want)
			}
		})
	}
}

func TestExtractDefaultsAuthorToUnknown(t *testing.T) {
	e := New(testRegistry(), Options{}, testLogger())

	sel := container(t, `<div class="post"><div class="content">No byline on this one at all.</div></div>`)
	post := e.Extract("testfeed", sel)
	if post == nil {
		t.Fatal("Extract() returned nil")
	}
	if post.Author != "unknown" {
		t.Errorf("Author = %q, want %q", post.Author, "unknown")
	}
}

func TestExtractSponsoredDetection(t *testing.T) {
	e := New(testRegistry(), Options{}, testLogger())

	tests := []struct {
		name string
		html string
		want bool
	}{
		{
			name: "marker element",
			html: `<div class="post"><span class="promo-badge"></span><div class="content">Our new product launches today.</div></div>`,
			want: true,
		},
		{
			name: "sponsored text marker",
			html: `<div class="post"><span>Sponsored</span><div class="content">Our new product launches today.</div></div>`,
			want: true,
		},
		{
			name: "paid partnership text",
			html: `<div class="post"><span>Paid partnership</span><div class="content">Trying out the new gear.</div></div>`,
			want: true,
		},
		{
			name: "organic post",
			html: `<div class="post"><div class="content">Just sharing a photo from the ride.</div></div>`,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post := e.Extract("testfeed", container(t, tt.html))
			if post == nil {
				t.Fatal("Extract() returned nil")
			}
			if post.Flags.IsSponsored != tt.want {
				t.Errorf("IsSponsored = %v, want %v", post.Flags.IsSponsored, tt.want)
			}
		})
	}
}

func TestExtractFriendAndFamilyFlags(t *testing.T) {
	e := New(testRegistry(), Options{
		FriendAuthors: map[string]bool{"jane rider": true},
		FamilyAuthors: map[string]bool{"mom": true},
	}, testLogger())

	sel := container(t, `<div class="post"><span class="author">Jane Rider</span><div class="content">Back from the coast loop, what a trip.</div></div>`)
	post := e.Extract("testfeed", sel)
	if post == nil {
		t.Fatal("Extract() returned nil")
	}
	if !post.Flags.IsFriend {
		t.Error("IsFriend = false, want true for configured friend (case-insensitive)")
	}
	if post.Flags.IsFamily {
		t.Error("IsFamily = true, want false")
	}
}

func TestExtractMediaURLsAbsoluteOnly(t *testing.T) {
	e := New(testRegistry(), Options{}, testLogger())

	sel := container(t, `<div class="post">
		<div class="content">Photo dump from the weekend trip.</div>
		<img class="media" src="https://cdn.example.com/1.jpg">
		<img class="media" src="/relative/2.jpg">
		<img class="media" src="https://cdn.example.com/3.jpg">
	</div>`)

	post := e.Extract("testfeed", sel)
	if post == nil {
		t.Fatal("Extract() returned nil")
	}
	want := []string{"https://cdn.example.com/1.jpg", "https://cdn.example.com/3.jpg"}
	if len(post.MediaURLs) != len(want) {
		t.Fatalf("MediaURLs = %v, want %v", post.MediaURLs, want)
	}
	for i, url := range want {
		if post.MediaURLs[i] != url {
			t.Errorf("MediaURLs[%d] = %q, want %q", i, post.MediaURLs[i], url)
		}
	}
}

func TestParseCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"45", 45},
		{"1.2K", 1200},
		{"1.2k", 1200},
		{"3M", 3_000_000},
		{"2.5m", 2_500_000},
		{"0", 0},
		{"1,234", 1}, // Comma splits the match; first group wins
		{"12 reactions", 12},
		{"", 0},
		{"no numbers here", 0},
		{"K", 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseCount(tt.in); got != tt.want {
				t.Errorf("ParseCount(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestHashtags(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"none", "plain text", nil},
		{"dedup and fold", "#Go #go #GO and #testing", []string{"go", "testing"}},
		{"order preserved", "#zebra then #alpha", []string{"zebra", "alpha"}},
		{"unicode", "#日本語 post", []string{"日本語"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Hashtags(tt.content)
			if len(got) != len(tt.want) {
				t.Fatalf("Hashtags(%q) = %v, want %v", tt.content, got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("Hashtags(%q)[%d] = %q, want %q", tt.content, i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestExtractNeverPanicsOnUnknownPlatform(t *testing.T) {
	e := New(&selectors.Registry{}, Options{}, testLogger())

	sel := container(t, `<div class="post">Some free-floating text long enough to keep.</div>`)
	post := e.Extract(feed.Platform("mystery"), sel)
	if post == nil {
		t.Fatal("Extract() returned nil, want container-text fallback post")
	}
	if post.Author != "unknown" {
		t.Errorf("Author = %q, want %q", post.Author, "unknown")
	}
}
