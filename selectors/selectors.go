// Package selectors holds the per-platform structural query lists used to
// locate post fields in a rendered feed. It is pure data: lookups return an
// ordered list of CSS queries or nothing at all. Selectors go stale as the
// source sites evolve, so a miss degrades silently instead of failing.
package selectors

import "feedlens/pkg/feed"

// Field names a kind of post data a selector list can locate.
type Field string

// Field types known to the registry.
const (
	FieldRoot      Field = "root"      // Candidate container regions, priority order
	FieldContainer Field = "container" // Individual post containers
	FieldContent   Field = "content"   // Post text body
	FieldAuthor    Field = "author"    // Author display name
	FieldMedia     Field = "media"     // Image/video elements
	FieldLikes     Field = "likes"     // Like count text
	FieldComments  Field = "comments"  // Comment count text
	FieldShares    Field = "shares"    // Share/repost count text
	FieldTimestamp Field = "timestamp" // Platform-reported post time
	FieldSponsored Field = "sponsored" // Sponsorship marker elements
	FieldVerified  Field = "verified"  // Verified-author badge
)

// Registry maps (platform, field) to an ordered query list. The zero value
// is usable; NewRegistry returns one seeded with the built-in tables.
type Registry struct {
	queries map[feed.Platform]map[Field][]string
}

// NewRegistry returns a registry seeded with the built-in platform tables.
func NewRegistry() *Registry {
	return &Registry{queries: builtin()}
}

// Queries returns the ordered selector list for a platform and field, or nil
// when none is defined. Callers are expected to treat nil as "field not
// locatable here" rather than an error.
func (r *Registry) Queries(platform feed.Platform, field Field) []string {
	fields, ok := r.queries[platform]
	if !ok {
		return nil
	}
	return fields[field]
}

// Override replaces the query list for a platform and field. Used by config
// to patch stale selectors without a rebuild.
func (r *Registry) Override(platform feed.Platform, field Field, queries []string) {
	if r.queries == nil {
		r.queries = make(map[feed.Platform]map[Field][]string)
	}
	fields, ok := r.queries[platform]
	if !ok {
		fields = make(map[Field][]string)
		r.queries[platform] = fields
	}
	fields[field] = queries
}

func builtin() map[feed.Platform]map[Field][]string {
	return map[feed.Platform]map[Field][]string{
		feed.PlatformLinkedIn: {
			FieldRoot: {
				"main.scaffold-layout__main",
				"div.feed-container",
				"body",
			},
			FieldContainer: {
				"div.feed-shared-update-v2",
				"article[data-id]",
				"div.occludable-update",
			},
			FieldContent: {
				"div.feed-shared-update-v2__description span.break-words",
				"div.update-components-text",
				"span.break-words",
			},
			FieldAuthor: {
				"span.update-components-actor__name span[aria-hidden='true']",
				"span.update-components-actor__name",
				"a.app-aware-link span[dir='ltr']",
			},
			FieldMedia: {
				"div.update-components-image img",
				"video.vjs-tech",
				"img.ivm-view-attr__img--centered",
			},
			FieldLikes: {
				"span.social-details-social-counts__reactions-count",
				"li.social-details-social-counts__reactions button span",
			},
			FieldComments: {
				"li.social-details-social-counts__comments button span",
				"span.social-details-social-counts__comments",
			},
			FieldShares: {
				"li.social-details-social-counts__shares button span",
			},
			FieldTimestamp: {
				"span.update-components-actor__sub-description span[aria-hidden='true']",
				"time",
			},
			FieldSponsored: {
				"span.update-components-actor__sub-description--promoted",
				"span.feed-shared-actor__sub-description--promoted",
			},
			FieldVerified: {
				"svg.text-view-model__verified-icon",
				"span.update-components-actor__verified-badge",
			},
		},
		feed.PlatformFacebook: {
			FieldRoot: {
				"div[role='feed']",
				"div[role='main']",
				"body",
			},
			FieldContainer: {
				"div[role='article']",
				"div[data-pagelet^='FeedUnit']",
			},
			FieldContent: {
				"div[data-ad-preview='message']",
				"div[dir='auto']",
			},
			FieldAuthor: {
				"h3 strong a",
				"h4 strong a",
				"strong > span",
			},
			FieldMedia: {
				"img[data-visualcompletion='media-vc-image']",
				"video",
			},
			FieldLikes: {
				"span[aria-label$='reactions']",
				"span.reactions-count",
			},
			FieldComments: {
				"span[aria-label$='comments']",
			},
			FieldShares: {
				"span[aria-label$='shares']",
			},
			FieldTimestamp: {
				"abbr[data-utime]",
				"a[aria-label] > span",
			},
			FieldSponsored: {
				"a[aria-label='Sponsored']",
				"span[data-ad-rendering-role='profile_name'] ~ span",
			},
			FieldVerified: {
				"svg[aria-label='Verified account']",
			},
		},
		feed.PlatformTwitter: {
			FieldRoot: {
				"div[aria-label='Timeline: Your Home Timeline']",
				"main[role='main']",
				"body",
			},
			FieldContainer: {
				"article[data-testid='tweet']",
				"div[data-testid='cellInnerDiv'] article",
			},
			FieldContent: {
				"div[data-testid='tweetText']",
				"div[lang]",
			},
			FieldAuthor: {
				"div[data-testid='User-Name'] span",
				"a[role='link'] div[dir='ltr'] span",
			},
			FieldMedia: {
				"div[data-testid='tweetPhoto'] img",
				"video",
			},
			FieldLikes: {
				"button[data-testid='like'] span",
				"div[data-testid='like'] span",
			},
			FieldComments: {
				"button[data-testid='reply'] span",
			},
			FieldShares: {
				"button[data-testid='retweet'] span",
			},
			FieldTimestamp: {
				"time",
			},
			FieldSponsored: {
				"div[data-testid='placementTracking']",
			},
			FieldVerified: {
				"svg[data-testid='icon-verified']",
			},
		},
	}
}
