package moderation

import (
	"regexp"
	"strings"
)

// Rule weights.
const (
	WeightContactHandle = 10
	WeightURL           = 15
	WeightFreeOffer     = 5
	WeightDigits20      = 10
	WeightDigits40      = 15
	WeightCharFlood     = 10
	WeightKeyword       = 80
	WeightPhone         = 5

	MaxScore = 100

	// charFloodThreshold is the run length of one repeated character that
	// counts as flooding.
	charFloodThreshold = 8

	// minPhoneLength is the shortest phone field that adds WeightPhone.
	minPhoneLength = 8
)

// Compiled patterns, shared by every Scorer. Text is lowercased before
// matching.
var (
	contactHandlePattern = regexp.MustCompile(`whatsapp|telegram|snap`)
	urlPattern           = regexp.MustCompile(`https?://|www\.`)
	freeOfferPattern     = regexp.MustCompile(`gratuit|free`)
)

// Submission is the scorer input. All fields are optional.
type Submission struct {
	Title       string
	Description string
	Phone       string
}

// Scorer computes spam scores. It is safe for concurrent use.
type Scorer struct {
	keywords []string
}

// NewScorer creates a Scorer with the given hard-block keywords. Keywords are
// lowercased; empty and whitespace-only entries are dropped.
func NewScorer(keywords []string) *Scorer {
	s := &Scorer{}
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw == "" {
			continue
		}
		if _, dup := seen[kw]; dup {
			continue
		}
		seen[kw] = struct{}{}
		s.keywords = append(s.keywords, kw)
	}
	return s
}

// Score returns the spam score of in, in [0,100]. URLs are kept in the text
// for this check.
func (s *Scorer) Score(in Submission) int {
	text := strings.ToLower(in.Title + " " + in.Description)

	score := 0
	if contactHandlePattern.MatchString(text) {
		score += WeightContactHandle
	}
	if urlPattern.MatchString(text) {
		score += WeightURL
	}
	if freeOfferPattern.MatchString(text) {
		score += WeightFreeOffer
	}

	digits := countDigits(text)
	if digits > 20 {
		score += WeightDigits20
	}
	if digits > 40 {
		score += WeightDigits40
	}

	if hasCharFlood(text) {
		score += WeightCharFlood
	}

	for _, kw := range s.keywords {
		if strings.Contains(text, kw) {
			score += WeightKeyword
		}
	}

	if len(in.Phone) >= minPhoneLength {
		score += WeightPhone
	}

	return clamp(score)
}

// Keywords returns the normalized hard-block keyword list.
func (s *Scorer) Keywords() []string {
	out := make([]string, len(s.keywords))
	copy(out, s.keywords)
	return out
}

func countDigits(text string) int {
	n := 0
	for _, r := range text {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// hasCharFlood returns true if text contains charFloodThreshold or more
// consecutive identical characters. RE2 has no backreferences, so this is a
// linear scan.
func hasCharFlood(text string) bool {
	count := 1
	prev := rune(-1)
	for _, r := range text {
		if r == prev {
			count++
			if count >= charFloodThreshold {
				return true
			}
		} else {
			count = 1
			prev = r
		}
	}
	return false
}

func clamp(score int) int {
	switch {
	case score < 0:
		return 0
	case score > MaxScore:
		return MaxScore
	}
	return score
}
