package keyword

import (
	"sort"
	"strings"
)

// DefaultMaxDistance bounds how far a suggestion may be from the typed term.
const DefaultMaxDistance = 2

// DidYouMean rewrites query replacing terms absent from the index with the closest
// indexed term. It returns "" when nothing would change.
func (x *CaseIndex) DidYouMean(query string) (string, error) {
	terms, err := x.Terms()
	if err != nil {
		return "", err
	}
	return Correct(query, terms, DefaultMaxDistance), nil
}

// Correct replaces each query term missing from dict with its nearest entry within
// maxDistance edits. Ties go to the lexically smaller term. Returns "" if no term changed.
func Correct(query string, dict []string, maxDistance int) string {
	known := make(map[string]struct{}, len(dict))
	for _, t := range dict {
		known[t] = struct{}{}
	}
	sorted := append([]string(nil), dict...)
	sort.Strings(sorted)

	words := tokenizeQuery(query)
	changed := false
	for i, w := range words {
		if _, ok := known[w]; ok {
			continue
		}
		best, bestDist := "", maxDistance+1
		for _, cand := range sorted {
			if abs(len([]rune(cand))-len([]rune(w))) > maxDistance {
				continue
			}
			if d := editDistance(w, cand); d < bestDist {
				best, bestDist = cand, d
			}
		}
		if best != "" {
			words[i] = best
			changed = true
		}
	}
	if !changed {
		return ""
	}
	return strings.Join(words, " ")
}

// editDistance is the Levenshtein distance over runes.
func editDistance(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	row := make([]int, len(rb)+1)
	for j := range row {
		row[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		diag := row[0]
		row[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			next := min(row[j]+1, row[j-1]+1, diag+cost)
			diag = row[j]
			row[j] = next
		}
	}
	return row[len(rb)]
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
