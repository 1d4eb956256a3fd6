// Package room keeps a study room's shared state in the document store: the roster, the
// Pomodoro timer, the single active quiz, the chat log and the shared notes.
//
// Every write is a field-level update on one document, so concurrent clients never need a
// transaction. Readers recompute everything they show from the latest snapshot.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conorfennell/studyroom/internal/docstore"
	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/parser"
	"github.com/conorfennell/studyroom/internal/textgen"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

var nowFunc = time.Now

const (
	roomsCollection = "rooms"
	joinCodeChars   = "23456789abcdefghijkmnpqrstuvwxyz"
	joinCodeLength  = 10

	QuizFailedMessage = "Sorry, I couldn't generate a quiz. Please try again."
)

var ErrNoNotes = errors.New("the room has no notes to build a quiz from")

func roomPath(id string) string      { return docstore.Join(roomsCollection, id) }
func quizPath(id string) string      { return docstore.Join(roomsCollection, id, "quiz", "current_quiz") }
func notesPath(id string) string     { return docstore.Join(roomsCollection, id, "notes", "shared_notes") }
func userNotesPath(id string) string { return docstore.Join(roomsCollection, id, "notes", "user_notes") }
func chatPath(id string) string      { return docstore.Join(roomsCollection, id, "chat", "log") }

// Service performs room mutations against a document store.
type Service struct {
	store     docstore.Store
	gen       textgen.Generator
	durations Durations
}

func NewService(store docstore.Store, gen textgen.Generator, durations Durations) *Service {
	if durations.Focus <= 0 {
		durations.Focus = DefaultFocusDuration
	}
	if durations.Break <= 0 {
		durations.Break = DefaultBreakDuration
	}
	return &Service{store: store, gen: gen, durations: durations}
}

func (s *Service) Durations() Durations {
	return s.durations
}

// NewRoom holds the fields a creator chooses.
type NewRoom struct {
	Name       string `json:"name" validate:"required"`
	CourseID   string `json:"courseId"`
	MaxUsers   int    `json:"maxUsers" validate:"gte=1,lte=50"`
	University string `json:"university"`
	Technique  string `json:"technique"`
	Topic      string `json:"topic"`
}

// WelcomeMessage is posted once when a room is set up for targeted learning.
func WelcomeMessage(technique, topic string) string {
	return fmt.Sprintf("Welcome! This room is set up for a \"Targeted Learning\" session using the %s technique on the topic: \"%s\". Let's get started!", technique, topic)
}

// CreateRoom stores a new room with the creator as its first participant and owner.
func (s *Service) CreateRoom(ctx context.Context, spec NewRoom, creator domain.Participant) (domain.StudyRoom, error) {
	if err := parser.Validate(spec); err != nil {
		return domain.StudyRoom{}, fmt.Errorf("invalid room: %w", err)
	}
	if err := parser.Validate(creator); err != nil {
		return domain.StudyRoom{}, fmt.Errorf("invalid creator: %w", err)
	}
	creator = withDefaultName(creator)

	id, err := gonanoid.Generate(joinCodeChars, joinCodeLength)
	if err != nil {
		return domain.StudyRoom{}, fmt.Errorf("failed to generate room id: %w", err)
	}

	r := domain.StudyRoom{
		ID:         id,
		Name:       spec.Name,
		CourseID:   spec.CourseID,
		MaxUsers:   spec.MaxUsers,
		CreatedBy:  creator.Email,
		University: spec.University,
		Technique:  spec.Technique,
		Topic:      spec.Topic,
		Users:      []domain.Participant{creator},
		Pomodoro:   Reset(),
	}

	doc, err := docstore.Encode(r)
	if err != nil {
		return domain.StudyRoom{}, err
	}
	if err := s.store.Set(ctx, chatPath(id), docstore.Document{"messages": []any{}}); err != nil {
		return domain.StudyRoom{}, domain.Persistence("create room", err)
	}
	if err := s.store.Set(ctx, roomPath(id), doc); err != nil {
		return domain.StudyRoom{}, domain.Persistence("create room", err)
	}

	if r.Technique != "" && r.Topic != "" {
		if _, err := s.PostSystemMessage(ctx, id, WelcomeMessage(r.Technique, r.Topic)); err != nil {
			slog.Warn("Failed to post welcome message", "room", id, "error", err)
		}
	}

	slog.Info("Created room", "room", id, "name", r.Name, "owner", creator.Email)
	return r, nil
}

func (s *Service) GetRoom(ctx context.Context, id string) (domain.StudyRoom, error) {
	doc, err := s.store.Get(ctx, roomPath(id))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return domain.StudyRoom{}, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
		}
		return domain.StudyRoom{}, domain.Persistence("get room", err)
	}
	return decodeRoom(id, doc)
}

func decodeRoom(id string, doc docstore.Document) (domain.StudyRoom, error) {
	var r domain.StudyRoom
	if err := docstore.Decode(doc, &r); err != nil {
		return domain.StudyRoom{}, fmt.Errorf("room %s: %w", id, err)
	}
	r.ID = id
	return r, nil
}

// Listing is a room as shown in the lobby.
type Listing struct {
	domain.StudyRoom
	Participants int  `json:"participants"`
	Full         bool `json:"full"`
}

// ListRooms returns every room ordered by id. Rooms that fail to decode are skipped.
func (s *Service) ListRooms(ctx context.Context) ([]Listing, error) {
	snaps, err := s.store.List(ctx, roomsCollection)
	if err != nil {
		return nil, domain.Persistence("list rooms", err)
	}

	out := make([]Listing, 0, len(snaps))
	for _, snap := range snaps {
		id := snap.Path[len(roomsCollection)+1:]
		r, err := decodeRoom(id, snap.Data)
		if err != nil {
			slog.Warn("Skipping undecodable room", "room", id, "error", err)
			continue
		}
		out = append(out, Listing{StudyRoom: r, Participants: len(r.Users), Full: r.Full()})
	}
	return out, nil
}

// Join adds p to the roster. Joining twice leaves a single entry for p's email. Capacity is
// advisory: joining a full room is logged but allowed.
func (s *Service) Join(ctx context.Context, roomID string, p domain.Participant) error {
	if err := parser.Validate(p); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	p = withDefaultName(p)

	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Full() && !r.HasUser(p.Email) {
		slog.Warn("Joining a full room", "room", roomID, "user", p.Email, "maxUsers", r.MaxUsers)
	}

	err = s.store.Update(ctx, roomPath(roomID), docstore.Update{
		Field: "users",
		Value: docstore.ArrayUnionBy("email", p),
	})
	return domain.Persistence("join room", err)
}

// Leave removes the exact {email, displayName} entry of p from the roster.
func (s *Service) Leave(ctx context.Context, roomID string, p domain.Participant) error {
	p = withDefaultName(p)
	err := s.store.Update(ctx, roomPath(roomID), docstore.Update{
		Field: "users",
		Value: docstore.ArrayRemove(p),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return domain.Persistence("leave room", err)
}

func (s *Service) setPomodoro(ctx context.Context, op, roomID string, p domain.Pomodoro) error {
	doc, err := docstore.Encode(p)
	if err != nil {
		return err
	}
	err = s.store.Update(ctx, roomPath(roomID), docstore.Update{Field: "pomodoro", Value: map[string]any(doc)})
	if errors.Is(err, docstore.ErrNotFound) {
		return fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	return domain.Persistence(op, err)
}

// StartTimer starts a stopped timer. Starting a running timer does nothing.
func (s *Service) StartTimer(ctx context.Context, roomID string) (domain.Pomodoro, error) {
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Pomodoro{}, err
	}
	next, ok := Start(r.Pomodoro, nowFunc())
	if !ok {
		return r.Pomodoro, nil
	}
	return next, s.setPomodoro(ctx, "start timer", roomID, next)
}

// StopTimer stops a running timer. The next start begins a full interval.
func (s *Service) StopTimer(ctx context.Context, roomID string) (domain.Pomodoro, error) {
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Pomodoro{}, err
	}
	next, ok := Stop(r.Pomodoro)
	if !ok {
		return r.Pomodoro, nil
	}
	return next, s.setPomodoro(ctx, "stop timer", roomID, next)
}

// ResetTimer returns the timer to a stopped focus interval and announces it.
func (s *Service) ResetTimer(ctx context.Context, roomID string) (domain.Pomodoro, error) {
	next := Reset()
	if err := s.setPomodoro(ctx, "reset timer", roomID, next); err != nil {
		return domain.Pomodoro{}, err
	}
	if _, err := s.PostSystemMessage(ctx, roomID, ResetMessage); err != nil {
		return next, err
	}
	return next, nil
}

// ExpireTimer switches a running timer whose interval has elapsed to the other mode and
// announces it. It reports false if the timer had not expired.
func (s *Service) ExpireTimer(ctx context.Context, roomID string) (domain.Pomodoro, bool, error) {
	r, err := s.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Pomodoro{}, false, err
	}
	if !s.durations.Expired(r.Pomodoro, nowFunc()) {
		return r.Pomodoro, false, nil
	}

	next, _ := Expire(r.Pomodoro)
	if err := s.setPomodoro(ctx, "expire timer", roomID, next); err != nil {
		return r.Pomodoro, false, err
	}
	if _, err := s.PostSystemMessage(ctx, roomID, s.durations.CompletionMessage(r.Pomodoro.Mode)); err != nil {
		slog.Warn("Failed to announce timer expiry", "room", roomID, "error", err)
	}
	return next, true, nil
}

// CurrentQuiz returns the active quiz, or nil when there is none.
func (s *Service) CurrentQuiz(ctx context.Context, roomID string) (*domain.Quiz, error) {
	doc, err := s.store.Get(ctx, quizPath(roomID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, nil
		}
		return nil, domain.Persistence("get quiz", err)
	}
	var q domain.Quiz
	if err := docstore.Decode(doc, &q); err != nil {
		return nil, err
	}
	return &q, nil
}

// PostQuiz makes payload the room's active quiz. It fails with ErrQuizActive if a quiz is
// already posted; the check and the write are not atomic.
func (s *Service) PostQuiz(ctx context.Context, roomID string, payload domain.QuizPayload) (domain.Quiz, error) {
	if err := parser.ValidateQuiz(&payload); err != nil {
		return domain.Quiz{}, err
	}
	current, err := s.CurrentQuiz(ctx, roomID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if current != nil {
		return domain.Quiz{}, domain.ErrQuizActive
	}

	q := domain.Quiz{
		ID:                 uuid.NewString(),
		Topic:              payload.Topic,
		Question:           payload.Question,
		Options:            payload.Options,
		CorrectOptionIndex: payload.CorrectOptionIndex,
		Answers:            []domain.QuizAnswer{},
	}
	doc, err := docstore.Encode(q)
	if err != nil {
		return domain.Quiz{}, err
	}
	if err := s.store.Set(ctx, quizPath(roomID), doc); err != nil {
		return domain.Quiz{}, domain.Persistence("post quiz", err)
	}
	slog.Info("Posted quiz", "room", roomID, "quiz", q.ID, "topic", q.Topic)
	return q, nil
}

// GenerateQuiz builds a quiz from the room's shared notes and posts it. Failures to generate
// are announced in chat.
func (s *Service) GenerateQuiz(ctx context.Context, roomID string, by domain.Participant) (domain.Quiz, error) {
	if s.gen == nil {
		return domain.Quiz{}, &domain.GenerationError{Op: "generate quiz", Err: errors.New("text generation is not configured")}
	}
	notes, err := s.Notes(ctx, roomID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if notes == "" {
		return domain.Quiz{}, &domain.GenerationError{Op: "generate quiz", Err: ErrNoNotes}
	}
	current, err := s.CurrentQuiz(ctx, roomID)
	if err != nil {
		return domain.Quiz{}, err
	}
	if current != nil {
		return domain.Quiz{}, domain.ErrQuizActive
	}

	by = withDefaultName(by)
	if _, err := s.PostSystemMessage(ctx, roomID, by.DisplayName+" is generating a quiz for the group!"); err != nil {
		slog.Warn("Failed to announce quiz generation", "room", roomID, "error", err)
	}

	fail := func(op string, err error) (domain.Quiz, error) {
		if _, perr := s.PostSystemMessage(ctx, roomID, QuizFailedMessage); perr != nil {
			slog.Warn("Failed to announce quiz failure", "room", roomID, "error", perr)
		}
		return domain.Quiz{}, &domain.GenerationError{Op: op, Err: err}
	}

	raw, err := s.gen.GenerateStructured(ctx, textgen.QuizPrompt(notes), textgen.QuizSchema())
	if err != nil {
		return fail("generate quiz", err)
	}
	payload, err := parser.ParseQuiz(raw)
	if err != nil {
		return fail("parse quiz", err)
	}
	return s.PostQuiz(ctx, roomID, payload)
}

// SubmitAnswer appends p's answer to the active quiz. Each participant answers once, with an
// index into the quiz options.
func (s *Service) SubmitAnswer(ctx context.Context, roomID string, p domain.Participant, answerIndex int) error {
	if err := parser.Validate(p); err != nil {
		return fmt.Errorf("invalid participant: %w", err)
	}
	q, err := s.CurrentQuiz(ctx, roomID)
	if err != nil {
		return err
	}
	if q == nil {
		return domain.ErrNoQuiz
	}
	if answerIndex < 0 || answerIndex >= len(q.Options) {
		return fmt.Errorf("answer index %d out of range: %w", answerIndex, domain.ErrInvalid)
	}
	if HasAnswered(*q, p.Email) {
		return ErrAlreadyAnswered
	}

	p = withDefaultName(p)
	answer := domain.QuizAnswer{
		UserID:      p.Email,
		DisplayName: p.DisplayName,
		AnswerIndex: answerIndex,
		Timestamp:   nowFunc().UnixMilli(),
	}
	err = s.store.Update(ctx, quizPath(roomID), docstore.Update{
		Field: "answers",
		Value: docstore.ArrayUnion(answer),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ErrNoQuiz
	}
	return domain.Persistence("submit answer", err)
}

// ClearQuiz removes the active quiz.
func (s *Service) ClearQuiz(ctx context.Context, roomID string) error {
	return domain.Persistence("clear quiz", s.store.Delete(ctx, quizPath(roomID)))
}

func (s *Service) appendMessage(ctx context.Context, op, roomID string, m domain.ChatMessage) (domain.ChatMessage, error) {
	err := s.store.Update(ctx, chatPath(roomID), docstore.Update{
		Field: "messages",
		Value: docstore.ArrayUnion(m),
	})
	if errors.Is(err, docstore.ErrNotFound) {
		return domain.ChatMessage{}, fmt.Errorf("room %s: %w", roomID, domain.ErrNotFound)
	}
	if err != nil {
		return domain.ChatMessage{}, domain.Persistence(op, err)
	}
	return m, nil
}

// SendMessage appends a participant's message to the chat log.
func (s *Service) SendMessage(ctx context.Context, roomID string, from domain.Participant, text string) (domain.ChatMessage, error) {
	if err := parser.Validate(from); err != nil {
		return domain.ChatMessage{}, fmt.Errorf("invalid participant: %w", err)
	}
	if text == "" {
		return domain.ChatMessage{}, fmt.Errorf("message is empty: %w", domain.ErrInvalid)
	}
	from = withDefaultName(from)
	return s.appendMessage(ctx, "send message", roomID, domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleUser,
		Parts:     []domain.MessagePart{{Text: text}},
		User:      &from,
		Timestamp: nowFunc().UnixMilli(),
	})
}

// PostSystemMessage appends a message authored by the room itself.
func (s *Service) PostSystemMessage(ctx context.Context, roomID, text string) (domain.ChatMessage, error) {
	return s.appendMessage(ctx, "post system message", roomID, domain.ChatMessage{
		ID:        uuid.NewString(),
		Role:      domain.RoleModel,
		Parts:     []domain.MessagePart{{Text: text}},
		Timestamp: nowFunc().UnixMilli(),
	})
}

// AnnounceUpload tells the room that p shared a new resource called file.
func (s *Service) AnnounceUpload(ctx context.Context, roomID string, p domain.Participant, file string) (domain.ChatMessage, error) {
	p = withDefaultName(p)
	return s.PostSystemMessage(ctx, roomID, fmt.Sprintf("%s uploaded a new resource: %s", p.DisplayName, file))
}

type chatLog struct {
	Messages []domain.ChatMessage `json:"messages"`
}

// Messages returns the chat log. With afterID set, only messages after that one are returned;
// an unknown afterID returns the whole log.
func (s *Service) Messages(ctx context.Context, roomID, afterID string) ([]domain.ChatMessage, error) {
	doc, err := s.store.Get(ctx, chatPath(roomID))
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return []domain.ChatMessage{}, nil
		}
		return nil, domain.Persistence("get messages", err)
	}
	var log chatLog
	if err := docstore.Decode(doc, &log); err != nil {
		return nil, err
	}
	return messagesAfter(log.Messages, afterID), nil
}

func messagesAfter(msgs []domain.ChatMessage, afterID string) []domain.ChatMessage {
	if afterID == "" {
		return msgs
	}
	for i, m := range msgs {
		if m.ID == afterID {
			return msgs[i+1:]
		}
	}
	return msgs
}

type notesDoc struct {
	Content     string `json:"content"`
	LastUpdated int64  `json:"lastUpdated"`
}

func (s *Service) saveNotes(ctx context.Context, op, path, content string) error {
	doc, err := docstore.Encode(notesDoc{Content: content, LastUpdated: nowFunc().UnixMilli()})
	if err != nil {
		return err
	}
	return domain.Persistence(op, s.store.Set(ctx, path, doc))
}

func (s *Service) readNotes(ctx context.Context, op, path string) (string, error) {
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", nil
		}
		return "", domain.Persistence(op, err)
	}
	var n notesDoc
	if err := docstore.Decode(doc, &n); err != nil {
		return "", err
	}
	return n.Content, nil
}

// SaveNotes overwrites the shared AI-notes context of the room.
func (s *Service) SaveNotes(ctx context.Context, roomID, content string) error {
	return s.saveNotes(ctx, "save notes", notesPath(roomID), content)
}

func (s *Service) Notes(ctx context.Context, roomID string) (string, error) {
	return s.readNotes(ctx, "get notes", notesPath(roomID))
}

// SaveUserNotes overwrites the room's collaborative user notes.
func (s *Service) SaveUserNotes(ctx context.Context, roomID, content string) error {
	return s.saveNotes(ctx, "save user notes", userNotesPath(roomID), content)
}

func (s *Service) UserNotes(ctx context.Context, roomID string) (string, error) {
	return s.readNotes(ctx, "get user notes", userNotesPath(roomID))
}
