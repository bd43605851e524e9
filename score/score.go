// Package score rates posts for authenticity on a 0-100 scale and maps the
// rating to a discrete category band.
package score

import (
	"log/slog"
	"math"

	"feedlens/pkg/feed"
)

// Signal weights. The per-term multipliers (15, 2, 25, 7, 25, 10, 15) come
// from the original calibration and must not be folded into the weights:
// the net coefficients are what the calibration assumes.
const (
	weightSentiment    = 0.25
	weightJargon       = 0.30
	weightLength       = 0.15
	weightClassifier   = 0.25
	weightManipulative = 0.35
	weightSponsored    = 0.50
	weightFriend       = 0.15
	weightFamily       = 0.20
)

const baseScore = 50.0

// Signals carries the optional per-post inputs the scorer combines with the
// post's own fields. Nil pointers mean "signal unavailable" and contribute
// nothing.
type Signals struct {
	Sentiment            *float64 // [-1,1]
	JargonDensity        *float64 // [0,10]; higher means more corporate speak
	ManipulativePatterns []string // Detected engagement-bait patterns
}

// band maps a score range to a category; ranges are closed, ordered, and
// non-overlapping.
type band struct {
	min, max int
	category feed.Category
}

var bands = []band{
	{90, 100, feed.CategoryAuthentic},
	{70, 89, feed.CategoryInsightful},
	{40, 69, feed.CategoryNeutral},
	{20, 39, feed.CategoryPerformative},
	{0, 19, feed.CategoryPromotional},
}

// Scorer combines heuristic signal weights with a pluggable classifier.
type Scorer struct {
	classifier Classifier
	logger     *slog.Logger
}

// New creates a scorer. A nil classifier falls back to the keyword
// heuristic.
func New(classifier Classifier, logger *slog.Logger) *Scorer {
	if classifier == nil {
		classifier = KeywordClassifier{}
	}
	return &Scorer{classifier: classifier, logger: logger}
}

// Score computes the authenticity rating for a post and annotates it with
// the score and category. The score and category are set exactly once; a
// second call on an already-scored post is a no-op.
func (s *Scorer) Score(post *feed.Post, signals Signals) int {
	if post.Scored {
		return post.AuthenticityScore
	}

	score := baseScore

	if signals.Sentiment != nil {
		score += *signals.Sentiment * 15 * weightSentiment
	}

	// Inverted term: dense jargon earns nothing, clean prose earns the full
	// bonus, so more jargon means a lower score.
	if signals.JargonDensity != nil {
		score += (10 - *signals.JargonDensity) * 2 * weightJargon
	}

	// Length sweet spot rewards medium-length text: nothing for terse or
	// rambling posts.
	length := len(post.Content)
	if length >= 30 && length <= 5000 {
		score += math.Min(10, float64(length)/500) * weightLength
	}

	score += s.classifier.Predict(post.Content) * 25 * weightClassifier

	// Each detected pattern compounds the penalty.
	score -= float64(len(signals.ManipulativePatterns)) * 7 * weightManipulative

	if post.Flags.IsSponsored {
		score -= 25 * weightSponsored
	}

	// Friend and family bonuses are independent and additive.
	if post.Flags.IsFriend {
		score += 10 * weightFriend
	}
	if post.Flags.IsFamily {
		score += 15 * weightFamily
	}

	final := int(math.Round(math.Min(100, math.Max(0, score))))

	post.AuthenticityScore = final
	post.Category = Categorize(final)
	post.Scored = true

	s.logger.Debug("Post scored",
		"post_id", post.ID,
		"platform", post.Platform,
		"score", final,
		"category", post.Category)

	return final
}

// Categorize maps a score to its band via a linear scan over the ordered
// ranges. The neutral default is unreachable given clamping, but kept so an
// out-of-range value never produces an empty category.
func Categorize(score int) feed.Category {
	for _, b := range bands {
		if score >= b.min && score <= b.max {
			return b.category
		}
	}
	return feed.CategoryNeutral
}
