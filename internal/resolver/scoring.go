package resolver

import (
	"strings"
	"unicode"

	"github.com/hbollon/go-edlib"
)

// Scoring weights for title matching. Empirical; the floor they must
// clear is Config.MinScore (default 3.5).
const (
	weightExact     = 3.0
	weightSubstring = 1.0
	weightTokenF1   = 1.5
	weightPrecision = 0.5
	weightRecall    = 0.5
	weightSequence  = 1.0

	// Sequence similarity only contributes when the token F1 clears this
	// floor, so near-anagram noise does not score unrelated strings.
	sequenceF1Gate = 0.3
)

// NormalizeTitle lowercases, strips punctuation, and collapses whitespace.
func NormalizeTitle(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			lastSpace = false
		case !lastSpace:
			b.WriteRune(' ')
			lastSpace = true
		}
	}
	return strings.TrimSpace(b.String())
}

func tokenize(s string) []string {
	normalized := NormalizeTitle(s)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// tokenOverlap computes precision, recall and F1 of query tokens against
// candidate tokens.
func tokenOverlap(queryTokens, candidateTokens []string) (precision, recall, f1 float64) {
	if len(queryTokens) == 0 || len(candidateTokens) == 0 {
		return 0, 0, 0
	}

	candidateSet := make(map[string]bool, len(candidateTokens))
	for _, t := range candidateTokens {
		candidateSet[t] = true
	}

	matched := 0
	for _, t := range queryTokens {
		if candidateSet[t] {
			matched++
		}
	}

	precision = float64(matched) / float64(len(queryTokens))
	recall = float64(matched) / float64(len(candidateTokens))
	if precision+recall == 0 {
		return precision, recall, 0
	}
	f1 = 2 * precision * recall / (precision + recall)
	return precision, recall, f1
}

// ScoreTitle scores a free-text query against one candidate title as a
// weighted feature sum. Higher is better; an exact normalised match
// dominates every fuzzy feature.
func ScoreTitle(query, candidate string) float64 {
	normQuery := NormalizeTitle(query)
	normCandidate := NormalizeTitle(candidate)
	if normQuery == "" || normCandidate == "" {
		return 0
	}

	var score float64

	if normQuery == normCandidate {
		score += weightExact
	}

	if strings.Contains(normCandidate, normQuery) || strings.Contains(normQuery, normCandidate) {
		score += weightSubstring
	}

	precision, recall, f1 := tokenOverlap(tokenize(normQuery), tokenize(normCandidate))
	score += weightTokenF1 * f1
	score += weightPrecision * precision
	score += weightRecall * recall

	if f1 >= sequenceF1Gate {
		similarity := float64(edlib.JaroWinklerSimilarity(normQuery, normCandidate))
		score += weightSequence * similarity
	}

	return score
}

// ScoreTitles scores a query against a candidate's display title and all
// alternative titles, returning the best feature sum.
func ScoreTitles(query string, titles []string) float64 {
	best := 0.0
	for _, title := range titles {
		if s := ScoreTitle(query, title); s > best {
			best = s
		}
	}
	return best
}
