// Package feed contains the core domain types for the feed collection service.
package feed

import (
	"time"

	"github.com/google/uuid"
)

// Platform identifies the source platform of a post. The set is open:
// unknown platforms are carried through as-is rather than rejected.
type Platform string

// Known platforms.
const (
	PlatformLinkedIn Platform = "linkedin"
	PlatformFacebook Platform = "facebook"
	PlatformTwitter  Platform = "twitter"
)

// Category is a discrete authenticity band derived from the score.
type Category string

// Score bands, ordered from most to least authentic.
const (
	CategoryAuthentic    Category = "authentic"
	CategoryInsightful   Category = "insightful"
	CategoryNeutral      Category = "neutral"
	CategoryPerformative Category = "performative"
	CategoryPromotional  Category = "promotional"
)

// Engagement holds displayed interaction counts. Unknown counts are 0,
// never negative.
type Engagement struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
	Shares   int `json:"shares"`
}

// Total returns the sum of all engagement counts.
func (e Engagement) Total() int {
	return e.Likes + e.Comments + e.Shares
}

// Flags holds boolean classifications of a post. Each flag is independently
// derivable and defaults to false when undetectable.
type Flags struct {
	IsSponsored bool `json:"is_sponsored"`
	IsJobPost   bool `json:"is_job_post"`
	IsFriend    bool `json:"is_friend"`
	IsFamily    bool `json:"is_family"`
	Verified    bool `json:"verified"`
}

// Post is the canonical content unit extracted from a feed.
//
// A Post is immutable once scored and queued for delivery, except for
// AuthenticityScore and Category which are set exactly once by the scorer.
type Post struct {
	CollectedAt       time.Time  `json:"collected_at"`           // Extraction time
	ID                string     `json:"id"`                     // Derived fingerprint
	Platform          Platform   `json:"platform"`               // Source platform
	Content           string     `json:"content"`                // Text body, may be empty for media-only posts
	Author            string     `json:"author"`                 // Display name, "unknown" when undetectable
	ObservedAt        string     `json:"observed_at,omitempty"`  // Platform-reported time, raw, may be absent
	MediaURLs         []string   `json:"media_urls,omitempty"`   // Absolute URLs in document order
	Hashtags          []string   `json:"hashtags,omitempty"`     // Case-folded, no leading marker
	Engagement        Engagement `json:"engagement"`             //
	Flags             Flags      `json:"flags"`                  //
	AuthenticityScore int        `json:"authenticity_score"`     // 0-100, present only after scoring
	Category          Category   `json:"category,omitempty"`     // Band derived from the score
	Scored            bool       `json:"-"`                      // Set once by the scorer
}

// MaxBatchSize caps how many posts a single batch may carry.
const MaxBatchSize = 25

// Batch is an ordered, size-bounded group of posts from one platform.
type Batch struct {
	CreatedAt time.Time `json:"created_at"`
	ID        string    `json:"id"`
	Platform  Platform  `json:"platform"`
	Posts     []*Post   `json:"posts"`
	Attempts  int       `json:"attempts"`
}

// NewBatch creates a batch with a fresh unique identifier.
func NewBatch(platform Platform, posts []*Post) *Batch {
	return &Batch{
		ID:        uuid.New().String(),
		Platform:  platform,
		Posts:     posts,
		CreatedAt: time.Now(),
	}
}
