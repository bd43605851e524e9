// Package extract pulls structured posts out of feed containers using the
// selector registry. Selector misses and malformed counts always degrade to
// defaults; extraction never returns an error past this package.
package extract

import (
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"feedlens/pkg/feed"
	"feedlens/selectors"
)

const (
	// minContentLength is the signal/noise floor: shorter content with no
	// media is skipped entirely.
	minContentLength = 5
	// maxFallbackLength bounds the container-own-text fallback so a miss on
	// the content selector doesn't swallow a whole page region.
	maxFallbackLength = 1000
)

// sponsoredMarkers are matched case-insensitively against the container's
// full text, OR'd with the registry's marker selectors.
var sponsoredMarkers = []string{
	"sponsored",
	"promoted",
	"paid partnership",
	"paid promotional content",
	"advertisement",
}

var jobMarkers = []string{
	"we're hiring",
	"we are hiring",
	"job opening",
	"now hiring",
	"apply now",
	"join our team",
}

var countPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*([KkMm])?`)

var hashtagPattern = regexp.MustCompile(`#([\p{L}\p{N}_]+)`)

// Options tune extraction beyond what the registry expresses.
type Options struct {
	FriendAuthors map[string]bool // Case-folded display names treated as friends
	FamilyAuthors map[string]bool // Case-folded display names treated as family
}

// Extractor pulls posts from containers via the selector registry.
type Extractor struct {
	registry *selectors.Registry
	opts     Options
	logger   *slog.Logger
}

// New creates an extractor backed by the given registry.
func New(registry *selectors.Registry, opts Options, logger *slog.Logger) *Extractor {
	return &Extractor{registry: registry, opts: opts, logger: logger}
}

// Extract pulls structured fields from a single post container. It returns
// nil when the container yields too little signal to be worth keeping:
// content shorter than the minimum with no media attached.
func (e *Extractor) Extract(platform feed.Platform, container *goquery.Selection) *feed.Post {
	content := e.textField(platform, selectors.FieldContent, container)
	if content == "" {
		// Fall back to the container's own text when it is short enough to
		// plausibly be the post body rather than surrounding chrome.
		own := strings.TrimSpace(container.Text())
		if len(own) <= maxFallbackLength {
			content = own
		}
	}

	media := e.mediaURLs(platform, container)
	if len(content) < minContentLength && len(media) == 0 {
		return nil
	}

	author := e.textField(platform, selectors.FieldAuthor, container)
	if author == "" {
		author = "unknown"
	}

	post := &feed.Post{
		Platform:    platform,
		Content:     content,
		Author:      author,
		MediaURLs:   media,
		Hashtags:    Hashtags(content),
		ObservedAt:  e.timestamp(platform, container),
		CollectedAt: time.Now(),
		Engagement: feed.Engagement{
			Likes:    ParseCount(e.textField(platform, selectors.FieldLikes, container)),
			Comments: ParseCount(e.textField(platform, selectors.FieldComments, container)),
			Shares:   ParseCount(e.textField(platform, selectors.FieldShares, container)),
		},
	}

	fullText := strings.ToLower(container.Text())
	post.Flags.IsSponsored = e.matchField(platform, selectors.FieldSponsored, container) || containsAny(fullText, sponsoredMarkers)
	post.Flags.IsJobPost = containsAny(fullText, jobMarkers)
	post.Flags.Verified = e.matchField(platform, selectors.FieldVerified, container)

	folded := strings.ToLower(author)
	post.Flags.IsFriend = e.opts.FriendAuthors[folded]
	post.Flags.IsFamily = e.opts.FamilyAuthors[folded]

	return post
}

// textField returns the first non-empty trimmed text produced by the
// registry's ordered query list, or "".
func (e *Extractor) textField(platform feed.Platform, field selectors.Field, container *goquery.Selection) string {
	for _, query := range e.registry.Queries(platform, field) {
		text := strings.TrimSpace(container.Find(query).First().Text())
		if text != "" {
			return text
		}
	}
	return ""
}

// matchField reports whether any registry query for the field matches at
// least one element.
func (e *Extractor) matchField(platform feed.Platform, field selectors.Field, container *goquery.Selection) bool {
	for _, query := range e.registry.Queries(platform, field) {
		if container.Find(query).Length() > 0 {
			return true
		}
	}
	return false
}

// mediaURLs collects absolute media URLs in document order, first query that
// yields any wins.
func (e *Extractor) mediaURLs(platform feed.Platform, container *goquery.Selection) []string {
	for _, query := range e.registry.Queries(platform, selectors.FieldMedia) {
		var urls []string
		container.Find(query).Each(func(_ int, s *goquery.Selection) {
			src, ok := s.Attr("src")
			if !ok || src == "" {
				src, _ = s.Attr("href")
			}
			if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
				urls = append(urls, src)
			}
		})
		if len(urls) > 0 {
			return urls
		}
	}
	return nil
}

// timestamp returns the platform-reported time as raw text, preferring a
// datetime attribute when present. May be empty.
func (e *Extractor) timestamp(platform feed.Platform, container *goquery.Selection) string {
	for _, query := range e.registry.Queries(platform, selectors.FieldTimestamp) {
		el := container.Find(query).First()
		if el.Length() == 0 {
			continue
		}
		if dt, ok := el.Attr("datetime"); ok && dt != "" {
			return dt
		}
		if text := strings.TrimSpace(el.Text()); text != "" {
			return text
		}
	}
	return ""
}

// ParseCount parses a displayed engagement count with optional K/M suffix.
// "1.2K" -> 1200, "3M" -> 3000000, "45" -> 45. Unparseable text yields 0,
// never an error.
func ParseCount(text string) int {
	m := countPattern.FindStringSubmatch(text)
	if m == nil {
		return 0
	}
	n, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		n *= 1_000
	case "M":
		n *= 1_000_000
	}
	if n < 0 {
		return 0
	}
	return int(math.Round(n))
}

// Hashtags extracts normalized hashtag tokens from content: case-folded,
// deduplicated, leading marker stripped, in first-occurrence order.
func Hashtags(content string) []string {
	matches := hashtagPattern.FindAllStringSubmatch(content, -1)
	if matches == nil {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var tags []string
	for _, m := range matches {
		tag := strings.ToLower(m[1])
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
