package game

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/scythe504/drawguess/internal"
)

// =============================================================================
// GUESS MATCHING & SCORING
// =============================================================================

// fuzzyMinLength keeps short words exact; one edit on "cat" already hits "car".
const fuzzyMinLength = 4

// NormalizeGuess folds case and width and drops whitespace and punctuation,
// so "Ice-Cream!" and "icecream" compare equal.
func NormalizeGuess(text string) string {
	text = cases.Fold().String(norm.NFKC.String(text))
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsPunct(r) {
			return -1
		}
		return r
	}, text)
}

// MatchGuess reports whether guess names word under the room's matching rules.
func MatchGuess(guess, word string, cfg internal.RoomConfig) bool {
	g, w := NormalizeGuess(guess), NormalizeGuess(word)
	if g == "" || w == "" {
		return false
	}
	if g == w {
		return true
	}
	if !cfg.FuzzyMatch {
		return false
	}
	wr := []rune(w)
	if len(wr) < fuzzyMinLength {
		return false
	}
	return levenshtein([]rune(g), wr) <= cfg.FuzzyDistance
}

// mentionsWord reports whether text contains word anywhere once both are
// normalized, as in "it's an apple".
func mentionsWord(text, word string) bool {
	w := NormalizeGuess(word)
	return w != "" && strings.Contains(NormalizeGuess(text), w)
}

func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// CalculateGuessPoints returns the guesser's award for the n-th correct guess
// of a round (1-based).
func CalculateGuessPoints(position int, cfg internal.RoomConfig) (int, internal.ScoreReason) {
	if position <= 1 {
		return cfg.FirstGuessPoints, internal.ReasonFirstGuess
	}
	return cfg.LaterGuessPoints, internal.ReasonLaterGuess
}
