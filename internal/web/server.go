// Package web exposes decks and study rooms over a JSON API, with a Server-Sent-Events stream
// per connected participant.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/conorfennell/studyroom/internal/blob"
	"github.com/conorfennell/studyroom/internal/deckimport"
	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/flashcards"
	"github.com/conorfennell/studyroom/internal/resources"
	"github.com/conorfennell/studyroom/internal/room"
	"github.com/conorfennell/studyroom/internal/textgen"
	"github.com/go-playground/validator/v10"
	"github.com/rs/cors"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

const (
	maxBodyBytes   = 1 << 20
	maxUploadBytes = 32 << 20
)

var nowFunc = time.Now

// Options holds the server's collaborators. Streamer may be nil, which disables the study buddy.
type Options struct {
	Flashcards     *flashcards.Service
	Rooms          *room.Service
	Resources      *resources.Service
	Importer       *deckimport.Importer
	Blobs          blob.Store
	Streamer       textgen.Streamer
	AllowedOrigins []string
	// Tick is the session timer check interval, room.DefaultTick when zero.
	Tick time.Duration
	// PollInterval is how often an open event stream re-lists the room's resources,
	// resources.DefaultPollInterval when zero.
	PollInterval time.Duration
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	flashcards   *flashcards.Service
	rooms        *room.Service
	resources    *resources.Service
	importer     *deckimport.Importer
	blobs        blob.Store
	sessions     *sessions
	tutors       *tutors
	pollInterval time.Duration
	markdown     goldmark.Markdown
	router       *http.ServeMux
	handler      http.Handler
}

// NewServer creates and configures a new server.
func NewServer(opts Options) *Server {
	s := &Server{
		flashcards:   opts.Flashcards,
		rooms:        opts.Rooms,
		resources:    opts.Resources,
		importer:     opts.Importer,
		blobs:        opts.Blobs,
		sessions:     newSessions(opts.Rooms, room.SessionOptions{Tick: opts.Tick, Streamer: opts.Streamer}),
		tutors:       &tutors{streamer: opts.Streamer, convs: make(map[string]*textgen.Conversation)},
		pollInterval: opts.PollInterval,
		markdown:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		router:       http.NewServeMux(),
	}
	s.routes()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.handler = cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", headerEmail, headerName},
	}).Handler(s.router)
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Shutdown closes every open room session, leaving the rooms.
func (s *Server) Shutdown() {
	s.sessions.closeAll()
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("GET /api/courses/{course}/flashcards", s.handleListFlashcards())
	s.router.HandleFunc("POST /api/courses/{course}/flashcards", s.handleAddFlashcard())
	s.router.HandleFunc("GET /api/courses/{course}/flashcards/due", s.handleDueFlashcards())
	s.router.HandleFunc("POST /api/courses/{course}/flashcards/generate", s.handleGenerateFlashcards())
	s.router.HandleFunc("POST /api/courses/{course}/flashcards/{id}/review", s.handleReviewFlashcard())
	s.router.HandleFunc("DELETE /api/courses/{course}/flashcards/{id}", s.handleDeleteFlashcard())
	s.router.HandleFunc("POST /api/courses/{course}/import", s.handleImport())
	s.router.HandleFunc("DELETE /api/courses/{course}/sources/{id}", s.handleRemoveSource())

	s.router.HandleFunc("GET /api/rooms", s.handleListRooms())
	s.router.HandleFunc("POST /api/rooms", s.handleCreateRoom())
	s.router.HandleFunc("GET /api/rooms/{id}", s.handleGetRoom())
	s.router.HandleFunc("POST /api/rooms/{id}/timer/{action}", s.handleTimer())

	s.router.HandleFunc("GET /api/rooms/{id}/quiz", s.handleGetQuiz())
	s.router.HandleFunc("POST /api/rooms/{id}/quiz", s.handlePostQuiz())
	s.router.HandleFunc("POST /api/rooms/{id}/quiz/generate", s.handleGenerateQuiz())
	s.router.HandleFunc("POST /api/rooms/{id}/quiz/answers", s.handleAnswer())
	s.router.HandleFunc("DELETE /api/rooms/{id}/quiz", s.handleClearQuiz())

	s.router.HandleFunc("GET /api/rooms/{id}/messages", s.handleListMessages())
	s.router.HandleFunc("POST /api/rooms/{id}/messages", s.handleSendMessage())
	s.router.HandleFunc("GET /api/rooms/{id}/notes", s.handleGetNotes(s.rooms.Notes))
	s.router.HandleFunc("PUT /api/rooms/{id}/notes", s.handlePutNotes(s.rooms.SaveNotes))
	s.router.HandleFunc("GET /api/rooms/{id}/notes.html", s.handleNotesHTML())
	s.router.HandleFunc("GET /api/rooms/{id}/user-notes", s.handleGetNotes(s.rooms.UserNotes))
	s.router.HandleFunc("PUT /api/rooms/{id}/user-notes", s.handlePutNotes(s.rooms.SaveUserNotes))

	s.router.HandleFunc("GET /api/rooms/{id}/resources", s.handleListResources())
	s.router.HandleFunc("POST /api/rooms/{id}/resources", s.handleUploadResource())
	s.router.HandleFunc("DELETE /api/rooms/{id}/resources/{name}", s.handleDeleteResource())

	s.router.HandleFunc("GET /api/rooms/{id}/events", s.handleEvents())
	s.router.HandleFunc("POST /api/rooms/{id}/buddy", s.handleBuddy())
	s.router.HandleFunc("POST /api/tutor", s.handleTutor())

	s.router.HandleFunc("GET /blobs/{path...}", s.handleBlob())
}

const (
	headerEmail = "X-User-Email"
	headerName  = "X-User-Name"
)

// participant reads the caller's identity from the X-User headers, falling back to the email
// and name query parameters for clients such as EventSource that cannot set headers. Emails are
// trimmed and lowercased so a participant has one roster entry and one session.
func participant(r *http.Request) domain.Participant {
	p := domain.Participant{
		Email:       r.Header.Get(headerEmail),
		DisplayName: r.Header.Get(headerName),
	}
	if p.Email == "" {
		p.Email = r.URL.Query().Get("email")
		p.DisplayName = r.URL.Query().Get("name")
	}
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	return p
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var validationErrs validator.ValidationErrors
	var generationErr *domain.GenerationError
	var persistenceErr *domain.PersistenceError

	switch {
	case errors.As(err, &validationErrs),
		errors.Is(err, domain.ErrInvalid),
		errors.Is(err, blob.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, blob.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrQuizActive),
		errors.Is(err, domain.ErrNoQuiz),
		errors.Is(err, room.ErrAlreadyAnswered),
		errors.Is(err, flashcards.ErrDuplicate),
		errors.Is(err, errNotConnected):
		return http.StatusConflict
	case errors.Is(err, room.ErrNoNotes):
		return http.StatusUnprocessableEntity
	case errors.Is(err, room.ErrNoStudyBuddy), errors.Is(err, errNoImporter):
		return http.StatusServiceUnavailable
	case errors.As(err, &generationErr):
		return http.StatusBadGateway
	case errors.As(err, &persistenceErr):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
		writeJSON(w, status, map[string]string{"error": http.StatusText(status)})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
