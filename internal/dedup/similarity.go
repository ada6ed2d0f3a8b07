package dedup

import (
	"math"
	"strings"
	"unicode"
)

// Normalize strips every non-alphanumeric rune and uppercases the rest, so
// that formatting differences (spacing, punctuation, case) never count as
// distance.
func Normalize(value string) string {
	var b strings.Builder
	b.Grow(len(value))

	for _, r := range value {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
		}
	}

	return b.String()
}

// Levenshtein computes the edit distance between two strings, counted in
// runes.
func Levenshtein(a, b string) int {
	ra := []rune(a)
	rb := []rune(b)

	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	previous := make([]int, len(rb)+1)
	current := make([]int, len(rb)+1)

	for j := 0; j <= len(rb); j++ {
		previous[j] = j
	}

	for i := 1; i <= len(ra); i++ {
		current[0] = i

		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}

			current[j] = min(
				previous[j]+1,      // deletion
				current[j-1]+1,     // insertion
				previous[j-1]+cost, // substitution
			)
		}

		previous, current = current, previous
	}

	return previous[len(rb)]
}

// NameSimilarity maps edit distance onto [0, 1]: identical normalized names
// score 1, names further apart than the longer name's length score 0.
func NameSimilarity(a, b string) float64 {
	na := Normalize(a)
	nb := Normalize(b)

	longest := len([]rune(na))
	if l := len([]rune(nb)); l > longest {
		longest = l
	}

	if longest == 0 {
		return 1
	}

	similarity := 1 - float64(Levenshtein(na, nb))/float64(longest)
	if similarity < 0 {
		return 0
	}

	return similarity
}

// exactMatch reports whether two values are equal ignoring case. Formatting
// differences are NOT forgiven here: `a.b@x.com` and `ab@x.com` are distinct
// addresses. Empty values never match; absence of data is not evidence of
// sameness.
func exactMatch(a, b string) bool {
	return a != "" && strings.EqualFold(a, b)
}

// round2 rounds to two decimal places, the precision stored and published
// with each suspicion.
func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
