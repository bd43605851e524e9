package score

import (
	"regexp"
	"strings"
)

// Lexicons for the heuristic signal analyzer. Deliberately small: the
// analyzer only has to be directionally right, the weights do the rest.
var positiveWords = []string{
	"love", "great", "happy", "glad", "enjoyed", "wonderful", "grateful",
	"thank", "beautiful", "fun", "proud", "learned",
}

var negativeWords = []string{
	"hate", "terrible", "awful", "angry", "worst", "sad", "disappointed",
	"frustrating", "broken", "failed",
}

var jargonTerms = []string{
	"synergy", "leverage", "disrupt", "thought leader", "circle back",
	"move the needle", "paradigm", "growth hacking", "rockstar", "ninja",
	"deep dive", "low-hanging fruit", "value-add", "game changer",
	"best-in-class", "ecosystem", "alignment", "bandwidth",
}

// manipulativePatterns are engagement-bait constructs. Each regexp that
// matches counts once toward the penalty term.
var manipulativePatterns = map[string]*regexp.Regexp{
	"tag_someone":   regexp.MustCompile(`(?i)\btag (a|someone|your)\b`),
	"like_if":       regexp.MustCompile(`(?i)\blike (this )?if\b`),
	"share_if":      regexp.MustCompile(`(?i)\bshare (this )?if\b`),
	"comment_below": regexp.MustCompile(`(?i)\bcomment below\b`),
	"follow_me":     regexp.MustCompile(`(?i)\bfollow (me|us) for\b`),
	"dm_me":         regexp.MustCompile(`(?i)\bdm (me|us)\b`),
	"link_in_bio":   regexp.MustCompile(`(?i)\blink in (my )?bio\b`),
	"agree_bait":    regexp.MustCompile(`(?i)\bagree\?`),
	"urgency":       regexp.MustCompile(`(?i)\b(act now|limited time|don't miss)\b`),
}

var wordPattern = regexp.MustCompile(`[\p{L}']+`)

// Analyze derives the heuristic scoring signals from post content. All three
// signals are always present; an empty post analyzes to neutral values.
func Analyze(content string) Signals {
	folded := strings.ToLower(content)
	words := wordPattern.FindAllString(folded, -1)

	sentiment := analyzeSentiment(words)
	jargon := analyzeJargon(folded, len(words))

	var patterns []string
	for name, re := range manipulativePatterns {
		if re.MatchString(content) {
			patterns = append(patterns, name)
		}
	}

	return Signals{
		Sentiment:            &sentiment,
		JargonDensity:        &jargon,
		ManipulativePatterns: patterns,
	}
}

// analyzeSentiment returns (pos-neg)/(pos+neg) over the lexicon hits, 0 when
// neither polarity appears.
func analyzeSentiment(words []string) float64 {
	var pos, neg int
	for _, w := range words {
		for _, p := range positiveWords {
			if w == p {
				pos++
				break
			}
		}
		for _, n := range negativeWords {
			if w == n {
				neg++
				break
			}
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(pos-neg) / float64(pos+neg)
}

// analyzeJargon scales buzzword hits per 25 words onto [0,10].
func analyzeJargon(folded string, wordCount int) float64 {
	if wordCount == 0 {
		return 0
	}
	hits := 0
	for _, term := range jargonTerms {
		hits += strings.Count(folded, term)
	}
	density := float64(hits) / float64(wordCount) * 25 * 10
	if density > 10 {
		return 10
	}
	return density
}
