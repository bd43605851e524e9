package score

import "strings"

// Classifier is the abstraction boundary for the model-backed share of the
// score. A higher-fidelity model can be substituted behind the same
// single-method interface without touching the scorer.
type Classifier interface {
	// Predict rates text authenticity in [0,1], higher is more genuine.
	Predict(text string) float64
}

// authenticityMarkers are phrases that tend to appear in genuine,
// first-person writing.
var authenticityMarkers = []string{
	"i learned",
	"i failed",
	"i was wrong",
	"my mistake",
	"honestly",
	"to be honest",
	"i struggled",
	"i don't know",
	"changed my mind",
	"in hindsight",
	"looking back",
	"i realized",
}

// promotionalMarkers are phrases that tend to appear in promotional or
// engagement-bait writing.
var promotionalMarkers = []string{
	"link in bio",
	"limited time",
	"sign up now",
	"don't miss",
	"act now",
	"exclusive offer",
	"game changer",
	"thrilled to announce",
	"excited to share",
	"follow me for",
	"like and share",
	"smash that",
	"dm me",
}

// KeywordClassifier is the default rule-based classifier: it counts
// authenticity-marker phrases against promotional-marker phrases and
// normalizes the balance to [0,1].
type KeywordClassifier struct{}

// Predict implements Classifier.
func (KeywordClassifier) Predict(text string) float64 {
	lower := strings.ToLower(text)

	var genuine, promo int
	for _, marker := range authenticityMarkers {
		if strings.Contains(lower, marker) {
			genuine++
		}
	}
	for _, marker := range promotionalMarkers {
		if strings.Contains(lower, marker) {
			promo++
		}
	}

	total := genuine + promo
	if total == 0 {
		return 0.5
	}
	return float64(genuine) / float64(total)
}
