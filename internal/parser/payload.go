package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/studyroom/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report JSON field names instead of Go struct names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var ErrEmptyPayload = errors.New("generated payload is empty")

// stripFences removes a surrounding markdown code fence, which models sometimes add
// even when asked for raw JSON.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// ParseFlashcards decodes a generated `[{front, back}, ...]` payload.
// Either every card is valid or an error is returned; no partial result is produced.
func ParseFlashcards(raw string) ([]domain.Flashcard, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, ErrEmptyPayload
	}

	var items []struct {
		Front string `json:"front" validate:"required"`
		Back  string `json:"back" validate:"required"`
	}
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		return nil, fmt.Errorf("failed to decode flashcards: %w", err)
	}
	if len(items) == 0 {
		return nil, ErrEmptyPayload
	}

	cards := make([]domain.Flashcard, 0, len(items))
	for i, item := range items {
		item.Front = strings.TrimSpace(item.Front)
		item.Back = strings.TrimSpace(item.Back)
		if err := validate.Struct(item); err != nil {
			return nil, fmt.Errorf("invalid flashcard %d: %w", i, err)
		}
		cards = append(cards, domain.Flashcard{Front: item.Front, Back: item.Back})
	}
	return cards, nil
}

// ParseQuiz decodes a generated `{topic, question, options, correctOptionIndex}` payload.
func ParseQuiz(raw string) (domain.QuizPayload, error) {
	body := stripFences(raw)
	if body == "" {
		return domain.QuizPayload{}, ErrEmptyPayload
	}

	var payload domain.QuizPayload
	if err := json.Unmarshal([]byte(body), &payload); err != nil {
		return domain.QuizPayload{}, fmt.Errorf("failed to decode quiz: %w", err)
	}
	if err := ValidateQuiz(&payload); err != nil {
		return domain.QuizPayload{}, err
	}
	return payload, nil
}

// ValidateQuiz checks that a quiz has a question, at least two options and an in-range answer.
func ValidateQuiz(payload *domain.QuizPayload) error {
	payload.OptionCount = len(payload.Options)
	if err := validate.Struct(payload); err != nil {
		return fmt.Errorf("invalid quiz: %w", err)
	}
	return nil
}

// Validate runs struct validation on v using the shared validator.
func Validate(v any) error {
	return validate.Struct(v)
}
