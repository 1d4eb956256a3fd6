package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/leitner"
)

var errNoImporter = errors.New("deck import is not configured")

func (s *Server) handleListFlashcards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := s.flashcards.List(r.Context(), r.PathValue("course"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cards)
	}
}

// handleAddFlashcard adds a hand-written card to the course deck.
func (s *Server) handleAddFlashcard() http.HandlerFunc {
	type request struct {
		Front   string `json:"front"`
		Back    string `json:"back"`
		Context string `json:"context"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		card, err := s.flashcards.Add(r.Context(), r.PathValue("course"), domain.Flashcard{
			Front:   strings.TrimSpace(req.Front),
			Back:    strings.TrimSpace(req.Back),
			Context: strings.TrimSpace(req.Context),
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, card)
	}
}

// handleDueFlashcards returns the cards of a course that are due for review now.
func (s *Server) handleDueFlashcards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := s.flashcards.Due(r.Context(), r.PathValue("course"), nowFunc())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cards)
	}
}

func (s *Server) handleGenerateFlashcards() http.HandlerFunc {
	type request struct {
		Text string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			http.Error(w, "Text cannot be empty", http.StatusBadRequest)
			return
		}
		cards, err := s.flashcards.Generate(r.Context(), r.PathValue("course"), req.Text)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, cards)
	}
}

// handleReviewFlashcard records a review and returns the updated card with the time it is next
// due.
func (s *Server) handleReviewFlashcard() http.HandlerFunc {
	type request struct {
		Correct *bool `json:"correct"`
	}
	type response struct {
		domain.Flashcard
		NextDue time.Time `json:"nextDue"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Correct == nil {
			http.Error(w, "Missing review outcome", http.StatusBadRequest)
			return
		}
		card, err := s.flashcards.Review(r.Context(), r.PathValue("course"), r.PathValue("id"), *req.Correct)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, response{Flashcard: card, NextDue: leitner.NextDueDate(card)})
	}
}

func (s *Server) handleDeleteFlashcard() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.flashcards.Delete(r.Context(), r.PathValue("course"), r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleImport adds a local directory or git repository as a deck source and reconciles it.
func (s *Server) handleImport() http.HandlerFunc {
	type request struct {
		Path string `json:"path"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if s.importer == nil {
			writeError(w, r, errNoImporter)
			return
		}
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Path == "" {
			http.Error(w, "Path cannot be empty", http.StatusBadRequest)
			return
		}
		res, err := s.importer.Import(r.Context(), r.PathValue("course"), req.Path)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

// handleRemoveSource unregisters an import source and deletes the cards it contributed.
func (s *Server) handleRemoveSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.importer == nil {
			writeError(w, r, errNoImporter)
			return
		}
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			http.Error(w, "Invalid source id", http.StatusBadRequest)
			return
		}
		if err := s.importer.Remove(r.Context(), r.PathValue("course"), id); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
