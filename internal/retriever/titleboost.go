package retriever

import (
	"strings"
	"time"
	"unicode"
)

// stopwords are dropped from the title-boost keyword set: CJK function
// words, English articles/prepositions, and domain noise words that carry
// no discriminating signal for this corpus.
var stopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "and": {}, "or": {}, "is": {}, "are": {}, "was": {},
	"were": {}, "be": {}, "been": {}, "with": {}, "by": {}, "from": {}, "as": {},
	"note": {}, "notes": {}, "about": {}, "what": {}, "how": {}, "why": {},
	"的": {}, "了": {}, "是": {}, "在": {}, "和": {}, "这": {}, "那": {},
	"有": {}, "也": {}, "都": {}, "就": {}, "不": {}, "与": {}, "及": {},
}

// titleBoostKeywords tokenizes query on whitespace/punctuation. ASCII
// tokens of length >= 2 are kept as keywords (minus stopwords); non-ASCII
// tokens contribute every contiguous 2-gram and 3-gram of their characters
// (minus stopwords), since CJK text is rarely whitespace-segmented.
func titleBoostKeywords(query string) map[string]struct{} {
	keywords := map[string]struct{}{}
	for _, token := range tokenizeQuery(query) {
		lower := strings.ToLower(token)
		if isASCII(lower) {
			if len(lower) >= 2 {
				if _, stop := stopwords[lower]; !stop {
					keywords[lower] = struct{}{}
				}
			}
			continue
		}
		runes := []rune(lower)
		for n := 2; n <= 3; n++ {
			for i := 0; i+n <= len(runes); i++ {
				gram := string(runes[i : i+n])
				if _, stop := stopwords[gram]; !stop {
					keywords[gram] = struct{}{}
				}
			}
		}
	}
	return keywords
}

// tokenizeQuery splits on runs of whitespace and punctuation.
func tokenizeQuery(query string) []string {
	return strings.FieldsFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}

// TitleBoost returns the title-boost multiplier in [1.0, 2.0]: 1 + the
// fraction of query keywords that appear as a substring of the
// case-folded title. An empty keyword set yields 1.0.
func TitleBoost(query, title string) float64 {
	keywords := titleBoostKeywords(query)
	if len(keywords) == 0 {
		return 1.0
	}

	lowerTitle := strings.ToLower(title)
	matched := 0
	for kw := range keywords {
		if strings.Contains(lowerTitle, kw) {
			matched++
		}
	}
	coverage := float64(matched) / float64(len(keywords))
	return 1.0 + coverage
}

// TimeDecayConfig tunes recency re-ranking.
type TimeDecayConfig struct {
	RecentMonths int
	RecentBoost  float64
	OldYears     int
	OldPenalty   float64
}

// TimeDecayWeight scores recency: recentBoost if modifiedAt is within
// recentMonths*30 days of now, oldPenalty if older than oldYears*365 days,
// otherwise 1.0. A zero modifiedAt (missing timestamp) is always 1.0.
func TimeDecayWeight(cfg TimeDecayConfig, modifiedAt, now time.Time) float64 {
	if modifiedAt.IsZero() {
		return 1.0
	}
	age := now.Sub(modifiedAt)
	if age < time.Duration(cfg.RecentMonths)*30*24*time.Hour {
		return cfg.RecentBoost
	}
	if age > time.Duration(cfg.OldYears)*365*24*time.Hour {
		return cfg.OldPenalty
	}
	return 1.0
}
