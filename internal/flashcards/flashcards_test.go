package flashcards

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/storage"
	"google.golang.org/genai"
)

type fakeGenerator struct {
	out   string
	err   error
	calls int
}

func (f *fakeGenerator) GenerateStructured(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	f.calls++
	return f.out, f.err
}

type brokenStore struct{ Store }

func (brokenStore) ListFlashcards(ctx context.Context, courseID string) ([]domain.Flashcard, error) {
	return nil, errors.New("disk full")
}

func newTestService(t *testing.T, gen *fakeGenerator) (*Service, *storage.DB) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "cards.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewService(db, gen), db
}

func fixClock(t *testing.T, now time.Time) {
	t.Helper()
	old := nowFunc
	nowFunc = func() time.Time { return now }
	t.Cleanup(func() { nowFunc = old })
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	fixClock(t, now)

	t.Run("Valid payload creates fresh bucket 1 cards", func(t *testing.T) {
		gen := &fakeGenerator{out: `[{"front":"Q1","back":"A1"},{"front":"Q2","back":"A2"}]`}
		svc, db := newTestService(t, gen)

		cards, err := svc.Generate(ctx, "bio", "cells")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(cards) != 2 {
			t.Fatalf("Expected 2 cards but got %d", len(cards))
		}
		for _, c := range cards {
			if c.ID == "" || c.Bucket != 1 || c.LastReview != now.UnixMilli() || c.CourseID != "bio" {
				t.Errorf("Unexpected generated card: %+v", c)
			}
		}
		if cards[0].ID == cards[1].ID {
			t.Errorf("Expected distinct ids")
		}

		deck, _ := db.ListFlashcards(ctx, "bio")
		if len(deck) != 2 {
			t.Errorf("Expected 2 stored cards but got %d", len(deck))
		}
	})

	t.Run("Generator failure stores nothing", func(t *testing.T) {
		gen := &fakeGenerator{err: errors.New("model unavailable")}
		svc, db := newTestService(t, gen)

		_, err := svc.Generate(ctx, "bio", "cells")
		var genErr *domain.GenerationError
		if !errors.As(err, &genErr) {
			t.Fatalf("Expected GenerationError but got %v", err)
		}
		deck, _ := db.ListFlashcards(ctx, "bio")
		if len(deck) != 0 {
			t.Errorf("Expected empty deck but got %d cards", len(deck))
		}
	})

	t.Run("Malformed payload stores nothing", func(t *testing.T) {
		for _, out := range []string{`not json`, `[{"front":"Q1","back":"A1"},{"front":"Q2"}]`, `[]`} {
			svc, db := newTestService(t, &fakeGenerator{out: out})
			_, err := svc.Generate(ctx, "bio", "cells")
			var genErr *domain.GenerationError
			if !errors.As(err, &genErr) {
				t.Errorf("Expected GenerationError for %s but got %v", out, err)
			}
			deck, _ := db.ListFlashcards(ctx, "bio")
			if len(deck) != 0 {
				t.Errorf("Expected empty deck for %s but got %d cards", out, len(deck))
			}
		}
	})

	t.Run("Cards already in the deck are skipped", func(t *testing.T) {
		gen := &fakeGenerator{out: `[{"front":"Q1","back":"A1"}]`}
		svc, _ := newTestService(t, gen)

		if _, err := svc.Generate(ctx, "bio", "cells"); err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		gen.out = `[{"front":"q1 ","back":"A1"},{"front":"Q3","back":"A3"}]`
		cards, err := svc.Generate(ctx, "bio", "cells")
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if len(cards) != 1 || cards[0].Front != "Q3" {
			t.Errorf("Expected only Q3 to be added but got %+v", cards)
		}
	})

	t.Run("Store failure is a persistence error", func(t *testing.T) {
		svc := NewService(brokenStore{}, &fakeGenerator{out: `[{"front":"Q1","back":"A1"}]`})
		_, err := svc.Generate(ctx, "bio", "cells")
		var pErr *domain.PersistenceError
		if !errors.As(err, &pErr) || pErr.Op != "list flashcards" {
			t.Errorf("Expected PersistenceError for list flashcards but got %v", err)
		}
	})
}

func TestDueAndReview(t *testing.T) {
	ctx := context.Background()
	const day = int64(24 * time.Hour / time.Millisecond)
	now := time.UnixMilli(100 * day)
	fixClock(t, now)

	svc, db := newTestService(t, &fakeGenerator{})
	err := db.InsertFlashcards(ctx, []domain.Flashcard{
		{ID: "a", CourseID: "bio", Front: "A", Back: "a", Bucket: 1, LastReview: now.UnixMilli() - 2*day, Hash: "ha"},
		{ID: "b", CourseID: "bio", Front: "B", Back: "b", Bucket: 2, LastReview: now.UnixMilli() - 1*day, Hash: "hb"},
		{ID: "c", CourseID: "bio", Front: "C", Back: "c", Bucket: 4, LastReview: now.UnixMilli() - 20*day, Hash: "hc"},
	})
	if err != nil {
		t.Fatalf("InsertFlashcards failed: %v", err)
	}

	due, err := svc.Due(ctx, "bio", now)
	if err != nil {
		t.Fatalf("Due failed: %v", err)
	}
	if len(due) != 2 || due[0].ID != "a" || due[1].ID != "c" {
		t.Fatalf("Expected [a c] due but got %+v", due)
	}

	updated, err := svc.Review(ctx, "bio", "a", true)
	if err != nil {
		t.Fatalf("Review failed: %v", err)
	}
	if updated.Bucket != 2 {
		t.Errorf("Expected bucket 2 but got %d", updated.Bucket)
	}

	stored, _ := db.FindFlashcard(ctx, "bio", "a")
	if stored.Bucket != 2 || stored.LastReview == now.UnixMilli()-2*day {
		t.Errorf("Expected review to be persisted but got %+v", stored)
	}

	if _, err := svc.Review(ctx, "bio", "missing", true); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Expected ErrNotFound but got %v", err)
	}

	if err := svc.Delete(ctx, "bio", "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	deck, _ := svc.List(ctx, "bio")
	if len(deck) != 2 {
		t.Errorf("Expected 2 cards after delete but got %d", len(deck))
	}
}

func TestAdd(t *testing.T) {
	ctx := context.Background()
	now := time.UnixMilli(1_700_000_000_000)
	fixClock(t, now)

	gen := &fakeGenerator{out: `[{"front":"What is ATP?","back":"Energy currency"}]`}
	svc, _ := newTestService(t, gen)
	if _, err := svc.Generate(ctx, "bio", "notes"); err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	card, err := svc.Add(ctx, "bio", domain.Flashcard{Front: "Powerhouse?", Back: "Mitochondria", Bucket: 4, LastReview: 99})
	if err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if card.ID == "" || card.CourseID != "bio" || card.Bucket != domain.MinBucket || card.LastReview != 0 || card.Hash == "" {
		t.Errorf("Expected a fresh bucket 1 card but got %+v", card)
	}
	due, _ := svc.Due(ctx, "bio", now)
	if len(due) != 1 || due[0].ID != card.ID {
		t.Errorf("Expected the added card to be due now but got %+v", due)
	}

	testCases := []struct {
		name string
		card domain.Flashcard
	}{
		{"Same card again", domain.Flashcard{Front: "Powerhouse?", Back: "Mitochondria"}},
		{"Differs only in case and spacing", domain.Flashcard{Front: "  powerhouse? ", Back: "MITOCHONDRIA"}},
		{"Already generated", domain.Flashcard{Front: "What is ATP?", Back: "Energy currency"}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.Add(ctx, "bio", tc.card); !errors.Is(err, ErrDuplicate) {
				t.Errorf("Expected ErrDuplicate but got %v", err)
			}
		})
	}

	t.Run("Other courses are separate decks", func(t *testing.T) {
		if _, err := svc.Add(ctx, "chem", domain.Flashcard{Front: "Powerhouse?", Back: "Mitochondria"}); err != nil {
			t.Errorf("Expected the card to be added to another course but got %v", err)
		}
	})

	t.Run("Front and back are required", func(t *testing.T) {
		if _, err := svc.Add(ctx, "bio", domain.Flashcard{Front: "No answer"}); err == nil {
			t.Error("Expected a card without a back to be rejected")
		}
	})
}
