package utils

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	"github.com/scythe504/drawguess/internal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

func GenerateID() string {
	return uuid.NewString()
}

// GenerateRoomID returns a short id that is easy to type or read off a QR code.
func GenerateRoomID() string {
	id := uuid.New()
	return strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
}

// DefaultName derives "Player-xxxx" from a player id.
func DefaultName(playerID string) string {
	compact := strings.ReplaceAll(playerID, "-", "")
	if len(compact) > 4 {
		compact = compact[:4]
	}
	return "Player-" + compact
}

// CleanName trims control characters and surrounding space and caps the length.
// An empty result means the caller should fall back to DefaultName.
func CleanName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)

	runes := []rune(name)
	if len(runes) > internal.MaxNameLength {
		name = strings.TrimSpace(string(runes[:internal.MaxNameLength]))
	}
	return name
}

// =============================================================================
// WORD DISPLAY
// =============================================================================

// GetMaskedWord hides letters and digits behind underscores, keeping spaces
// and punctuation so guessers can see the word shape: "ice cream" -> "_ _ _   _ _ _ _ _".
func GetMaskedWord(word string) string {
	if word == "" {
		return ""
	}

	masked := make([]string, 0, len(word))
	for _, r := range word {
		switch {
		case unicode.IsSpace(r):
			masked = append(masked, " ")
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			masked = append(masked, "_")
		default:
			masked = append(masked, string(r))
		}
	}
	return strings.Join(masked, " ")
}

// LetterCount counts the characters a guesser has to fill in.
func LetterCount(word string) int {
	n := 0
	for _, r := range word {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}
