package knol

import (
	"testing"

	"github.com/conorfennell/studyroom/internal/domain"
)

func TestNormalize(t *testing.T) {
	card := domain.Flashcard{
		Front:   "  What is HTMX? \r\n",
		Back:    "A library for AJAX.",
		Context: "Web Development",
	}
	expected := "what is htmx?\na library for ajax.\nweb development"
	normalized := Normalize(card)

	if normalized != expected {
		t.Errorf("Expected normalized string to be '%s', but got '%s'", expected, normalized)
	}
}

func TestHash(t *testing.T) {
	t.Run("generates correct hash", func(t *testing.T) {
		card := domain.Flashcard{Front: "Q", Back: "A", Context: "C"}
		// Hash for "q\na\nc"
		expectedHash := "eb2456c1ee4f36305069dd0f63a30e92d5443129f5e8fd9a5ec490fbc4d4d8a2"
		if hash := Hash(card); hash != expectedHash {
			t.Errorf("Expected hash '%s', but got '%s'", expectedHash, hash)
		}
	})

	t.Run("ignores scheduling state", func(t *testing.T) {
		card1 := domain.Flashcard{Front: "Test", Bucket: 1}
		card2 := domain.Flashcard{Front: "Test", Bucket: 4, LastReview: 99}
		if Hash(card1) != Hash(card2) {
			t.Error("Expected hashes to depend on content only")
		}
	})

	t.Run("normalization produces same hash", func(t *testing.T) {
		card1 := domain.Flashcard{Front: "  what is go? ", Back: "A programming language."}
		card2 := domain.Flashcard{Front: "What Is Go?", Back: "A programming language."}
		if Hash(card1) != Hash(card2) {
			t.Error("Expected hashes to be the same after normalization, but they were different.")
		}
	})

	t.Run("different cards have different hashes", func(t *testing.T) {
		if Hash(domain.Flashcard{Front: "Card 1"}) == Hash(domain.Flashcard{Front: "Card 2"}) {
			t.Error("Expected hashes for different cards to be different")
		}
	})
}

func TestDedupe(t *testing.T) {
	existing := domain.Flashcard{Front: "Old", Back: "Card"}
	seen := map[string]bool{Hash(existing): true}

	cards := []domain.Flashcard{
		{Front: "old", Back: "card"},
		{Front: "New", Back: "Card"},
		{Front: "new ", Back: "card"},
		{Front: "Other", Back: "Card"},
	}

	out := Dedupe(cards, seen)
	if len(out) != 2 {
		t.Fatalf("Expected 2 unique cards, but got %d", len(out))
	}
	if out[0].Front != "New" || out[1].Front != "Other" {
		t.Errorf("Expected [New Other], but got [%s %s]", out[0].Front, out[1].Front)
	}
	if out[0].Hash == "" {
		t.Error("Expected deduped cards to carry their hash")
	}
	if !seen[out[1].Hash] {
		t.Error("Expected seen set to be updated")
	}
}
