// Package similarity estimates how alike two texts are using character
// trigram sets compared with the Jaccard index.
package similarity

import "github.com/jedoz/abuseguard/internal/textnorm"

// Set is a set of trigrams.
type Set map[string]struct{}

// Trigrams returns every contiguous 3-rune substring of text. Text shorter
// than 3 runes yields an empty set. The input is used as given; callers pass
// normalized text.
func Trigrams(text string) Set {
	runes := []rune(text)
	if len(runes) < 3 {
		return Set{}
	}
	set := make(Set, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		set[string(runes[i:i+3])] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|. Two empty sets are considered identical and
// score 1.0.
func Jaccard(a, b Set) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}

	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for g := range small {
		if _, ok := large[g]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Similarity normalizes both texts and returns the Jaccard index of their
// trigram sets.
func Similarity(a, b string) float64 {
	return Jaccard(Trigrams(textnorm.Normalize(a)), Trigrams(textnorm.Normalize(b)))
}

// Best returns the highest similarity between current and any of the
// candidates, or 0 when there are none. current is normalized once.
func Best(current string, candidates []string) float64 {
	if len(candidates) == 0 {
		return 0
	}
	cur := Trigrams(textnorm.Normalize(current))
	best := 0.0
	for _, c := range candidates {
		s := Jaccard(cur, Trigrams(textnorm.Normalize(c)))
		if s > best {
			best = s
			if best == 1.0 {
				break
			}
		}
	}
	return best
}
