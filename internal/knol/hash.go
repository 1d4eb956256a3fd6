package knol

import (
	"crypto/sha256"
	"fmt"
	"strings"

	"github.com/conorfennell/studyroom/internal/domain"
)

// Normalize concatenates the card's content after cleaning each part.
// Each field is lowercased, trimmed and has its line endings normalized.
func Normalize(card domain.Flashcard) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		p = strings.ReplaceAll(p, "\r\n", "\n")
		return p
	}

	front := normalizePart(card.Front)
	back := normalizePart(card.Back)
	context := normalizePart(card.Context)

	// Joined with a newline so "front" and "back" never run together.
	return strings.Join([]string{front, back, context}, "\n")
}

// Hash returns the SHA-256 fingerprint of the card's normalized content as a hex string.
func Hash(card domain.Flashcard) string {
	hashBytes := sha256.Sum256([]byte(Normalize(card)))
	return fmt.Sprintf("%x", hashBytes)
}

// Dedupe drops cards whose fingerprint is in seen or repeats earlier in cards.
// Every returned card carries its Hash. seen is updated in place.
func Dedupe(cards []domain.Flashcard, seen map[string]bool) []domain.Flashcard {
	out := make([]domain.Flashcard, 0, len(cards))
	for _, card := range cards {
		card.Hash = Hash(card)
		if seen[card.Hash] {
			continue
		}
		seen[card.Hash] = true
		out = append(out, card)
	}
	return out
}
