// Package flashcards manages course decks: generating cards from source text, picking the cards
// due for review and recording review outcomes.
package flashcards

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/knol"
	"github.com/conorfennell/studyroom/internal/leitner"
	"github.com/conorfennell/studyroom/internal/parser"
	"github.com/conorfennell/studyroom/internal/textgen"
	"github.com/google/uuid"
)

var nowFunc = time.Now

var ErrDuplicate = errors.New("the card is already in the deck")

// Store persists course decks.
type Store interface {
	InsertFlashcards(ctx context.Context, cards []domain.Flashcard) error
	ListFlashcards(ctx context.Context, courseID string) ([]domain.Flashcard, error)
	FindFlashcard(ctx context.Context, courseID, id string) (*domain.Flashcard, error)
	FindFlashcardByHash(ctx context.Context, courseID, hash string) (*domain.Flashcard, error)
	UpdateFlashcardReview(ctx context.Context, card domain.Flashcard) error
	DeleteFlashcard(ctx context.Context, courseID, id string) error
}

type Service struct {
	store Store
	gen   textgen.Generator
}

func NewService(store Store, gen textgen.Generator) *Service {
	return &Service{store: store, gen: gen}
}

// Generate asks the model for flashcards covering sourceText and adds them to the course deck.
// Cards already in the deck, or repeated within the batch, are skipped. Either every new card is
// stored or none is.
func (s *Service) Generate(ctx context.Context, courseID, sourceText string) ([]domain.Flashcard, error) {
	if s.gen == nil {
		return nil, &domain.GenerationError{Op: "generate flashcards", Err: fmt.Errorf("text generation is not configured")}
	}

	raw, err := s.gen.GenerateStructured(ctx, textgen.FlashcardPrompt(sourceText), textgen.FlashcardSchema())
	if err != nil {
		return nil, &domain.GenerationError{Op: "generate flashcards", Err: err}
	}
	parsed, err := parser.ParseFlashcards(raw)
	if err != nil {
		return nil, &domain.GenerationError{Op: "parse flashcards", Err: err}
	}

	deck, err := s.store.ListFlashcards(ctx, courseID)
	if err != nil {
		return nil, domain.Persistence("list flashcards", err)
	}
	seen := make(map[string]bool, len(deck))
	for _, c := range deck {
		seen[c.Hash] = true
	}

	now := nowFunc().UnixMilli()
	cards := knol.Dedupe(parsed, seen)
	for i := range cards {
		cards[i].ID = uuid.NewString()
		cards[i].CourseID = courseID
		cards[i].Bucket = domain.MinBucket
		cards[i].LastReview = now
	}

	if len(cards) > 0 {
		if err := s.store.InsertFlashcards(ctx, cards); err != nil {
			return nil, domain.Persistence("insert flashcards", err)
		}
	}

	slog.Info("Generated flashcards", "course", courseID, "generated", len(parsed), "added", len(cards))
	return cards, nil
}

// Add puts a hand-written card into the course deck, due immediately. A card with the same
// content as one already in the deck is refused with ErrDuplicate.
func (s *Service) Add(ctx context.Context, courseID string, card domain.Flashcard) (domain.Flashcard, error) {
	if err := parser.Validate(card); err != nil {
		return domain.Flashcard{}, fmt.Errorf("invalid flashcard: %w", err)
	}
	card.Hash = knol.Hash(card)
	existing, err := s.store.FindFlashcardByHash(ctx, courseID, card.Hash)
	if err != nil {
		return domain.Flashcard{}, domain.Persistence("find flashcard", err)
	}
	if existing != nil {
		return domain.Flashcard{}, fmt.Errorf("flashcard %s: %w", existing.ID, ErrDuplicate)
	}

	card.ID = uuid.NewString()
	card.CourseID = courseID
	card.Bucket = domain.MinBucket
	card.LastReview = 0
	card.SourceID = 0
	if err := s.store.InsertFlashcards(ctx, []domain.Flashcard{card}); err != nil {
		return domain.Flashcard{}, domain.Persistence("insert flashcards", err)
	}
	return card, nil
}

func (s *Service) List(ctx context.Context, courseID string) ([]domain.Flashcard, error) {
	deck, err := s.store.ListFlashcards(ctx, courseID)
	if err != nil {
		return nil, domain.Persistence("list flashcards", err)
	}
	return deck, nil
}

// Due returns the cards of the course deck that are due at now, in deck order.
func (s *Service) Due(ctx context.Context, courseID string, now time.Time) ([]domain.Flashcard, error) {
	deck, err := s.List(ctx, courseID)
	if err != nil {
		return nil, err
	}
	return leitner.DueCards(deck, now), nil
}

// Review records a review outcome and returns the updated card.
func (s *Service) Review(ctx context.Context, courseID, cardID string, correct bool) (domain.Flashcard, error) {
	card, err := s.store.FindFlashcard(ctx, courseID, cardID)
	if err != nil {
		return domain.Flashcard{}, domain.Persistence("find flashcard", err)
	}
	if card == nil {
		return domain.Flashcard{}, fmt.Errorf("flashcard %s: %w", cardID, domain.ErrNotFound)
	}

	updated := leitner.ApplyReview(*card, correct)
	if err := s.store.UpdateFlashcardReview(ctx, updated); err != nil {
		return domain.Flashcard{}, domain.Persistence("update flashcard", err)
	}

	slog.Debug("Reviewed flashcard", "course", courseID, "id", cardID, "correct", correct, "bucket", updated.Bucket)
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, courseID, cardID string) error {
	return domain.Persistence("delete flashcard", s.store.DeleteFlashcard(ctx, courseID, cardID))
}
