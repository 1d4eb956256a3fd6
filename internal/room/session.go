package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/conorfennell/studyroom/internal/docstore"
	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/textgen"
)

var (
	ErrAlreadyAnswered = errors.New("already answered this quiz")
	ErrNoStudyBuddy    = errors.New("study buddy is not configured")
)

const DefaultTick = time.Second

// SessionOptions tunes a Session. Zero values select the defaults.
type SessionOptions struct {
	// Tick is how often the owner's session checks the timer for expiry.
	Tick     time.Duration
	Streamer textgen.Streamer
}

type pendingAnswer struct {
	quizID string
	index  int
}

// Session is one participant's live connection to a room. It joins on Open, follows the room's
// documents, and leaves on Close.
//
// Everything a Session shows is recomputed from the latest snapshots. Local optimistic state
// (a submitted but unconfirmed answer) is dropped on every quiz snapshot and on a failed write.
type Session struct {
	svc      *Service
	roomID   string
	self     domain.Participant
	tick     time.Duration
	streamer textgen.Streamer

	ctx       context.Context
	cancel    context.CancelFunc
	unsubs    []func()
	changes   chan struct{}
	closed    chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	mu             sync.Mutex
	room           *domain.StudyRoom
	roomGone       bool
	rosterSeen     bool
	quiz           *domain.Quiz
	pending        *pendingAnswer
	leaderboardFor string
	notes          string
	userNotes      string
	messages       []domain.ChatMessage
	buddy          *textgen.Conversation
	buddyNotes     string
	expiredStart   int64
}

// Open joins roomID as self and subscribes to the room's documents.
func Open(ctx context.Context, svc *Service, roomID string, self domain.Participant, opts SessionOptions) (*Session, error) {
	self = withDefaultName(self)
	if err := svc.Join(ctx, roomID, self); err != nil {
		return nil, err
	}
	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}

	sctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		svc:      svc,
		roomID:   roomID,
		self:     self,
		tick:     opts.Tick,
		streamer: opts.Streamer,
		ctx:      sctx,
		cancel:   cancel,
		changes:  make(chan struct{}, 1),
		closed:   make(chan struct{}),
		done:     make(chan struct{}),
	}

	subs := []struct {
		path string
		fn   func(docstore.Snapshot)
	}{
		{roomPath(roomID), s.onRoom},
		{quizPath(roomID), s.onQuiz},
		{notesPath(roomID), s.onNotes},
		{userNotesPath(roomID), s.onUserNotes},
		{chatPath(roomID), s.onChat},
	}
	for _, sub := range subs {
		unsubscribe, err := svc.store.Subscribe(sctx, sub.path, sub.fn)
		if err != nil {
			cancel()
			for _, u := range s.unsubs {
				u()
			}
			if lerr := svc.Leave(ctx, roomID, self); lerr != nil {
				slog.Warn("Failed to leave after subscribe error", "room", roomID, "user", self.Email, "error", lerr)
			}
			return nil, domain.Persistence("subscribe", err)
		}
		s.unsubs = append(s.unsubs, unsubscribe)
	}

	go s.run()
	slog.Info("Opened room session", "room", roomID, "user", self.Email)
	return s, nil
}

func (s *Session) RoomID() string           { return s.roomID }
func (s *Session) Self() domain.Participant { return s.self }
func (s *Session) Changes() <-chan struct{} { return s.changes }
func (s *Session) Done() <-chan struct{}    { return s.closed }

// Close leaves the room, then stops following it. The leave is issued first so the roster
// reflects the departure even if nobody reads the session any more.
func (s *Session) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		err = s.svc.Leave(ctx, s.roomID, s.self)
		for _, unsubscribe := range s.unsubs {
			unsubscribe()
		}
		s.cancel()
		<-s.done
		close(s.closed)
		slog.Info("Closed room session", "room", s.roomID, "user", s.self.Email)
	})
	return err
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *Session) run() {
	defer close(s.done)
	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-t.C:
			s.checkTimer()
		}
	}
}

// checkTimer expires the timer when it runs out. Only the owner's session does this, and at
// most once per interval.
func (s *Session) checkTimer() {
	s.mu.Lock()
	r := s.room
	if r == nil || r.CreatedBy != s.self.Email ||
		!s.svc.durations.Expired(r.Pomodoro, nowFunc()) ||
		s.expiredStart == r.Pomodoro.StartTime {
		s.mu.Unlock()
		return
	}
	start := r.Pomodoro.StartTime
	s.expiredStart = start
	s.mu.Unlock()

	if _, _, err := s.svc.ExpireTimer(s.ctx, s.roomID); err != nil {
		slog.Warn("Failed to expire timer", "room", s.roomID, "error", err)
		s.mu.Lock()
		if s.expiredStart == start {
			s.expiredStart = 0
		}
		s.mu.Unlock()
	}
}

func (s *Session) onRoom(snap docstore.Snapshot) {
	if !snap.Exists() {
		s.mu.Lock()
		s.room = nil
		s.roomGone = true
		s.mu.Unlock()
		s.notify()
		return
	}

	r, err := decodeRoom(s.roomID, snap.Data)
	if err != nil {
		slog.Warn("Ignoring undecodable room snapshot", "room", s.roomID, "error", err)
		return
	}

	s.mu.Lock()
	var arrived, departed []domain.Participant
	if s.rosterSeen && s.room != nil {
		arrived, departed = DiffRoster(s.room.Users, r.Users, s.self.Email)
	}
	s.rosterSeen = true
	s.room = &r
	s.roomGone = false
	s.refreshLeaderboard()
	owner := r.CreatedBy == s.self.Email
	s.mu.Unlock()
	s.notify()

	if owner {
		for _, p := range departed {
			s.announce(p.DisplayName + " has left the room.")
		}
		for _, p := range arrived {
			s.announce(p.DisplayName + " has joined the room.")
		}
	}
}

func (s *Session) announce(text string) {
	if _, err := s.svc.PostSystemMessage(s.ctx, s.roomID, text); err != nil {
		slog.Warn("Failed to post announcement", "room", s.roomID, "error", err)
	}
}

func (s *Session) onQuiz(snap docstore.Snapshot) {
	var q *domain.Quiz
	if snap.Exists() {
		var decoded domain.Quiz
		if err := snap.Decode(&decoded); err != nil {
			slog.Warn("Ignoring undecodable quiz snapshot", "room", s.roomID, "error", err)
			return
		}
		q = &decoded
	}

	s.mu.Lock()
	s.pending = nil
	s.quiz = q
	if q == nil {
		s.leaderboardFor = ""
	}
	s.refreshLeaderboard()
	s.mu.Unlock()
	s.notify()
}

// refreshLeaderboard latches the leaderboard for the active quiz once it is complete, so
// later roster changes do not hide it again. Callers hold s.mu.
func (s *Session) refreshLeaderboard() {
	if s.quiz == nil || s.room == nil {
		return
	}
	if Complete(*s.quiz, s.room.Users) {
		s.leaderboardFor = s.quiz.ID
	}
}

func (s *Session) onNotes(snap docstore.Snapshot) {
	var n notesDoc
	if snap.Exists() {
		if err := snap.Decode(&n); err != nil {
			slog.Warn("Ignoring undecodable notes snapshot", "room", s.roomID, "error", err)
			return
		}
	}
	s.mu.Lock()
	s.notes = n.Content
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onUserNotes(snap docstore.Snapshot) {
	var n notesDoc
	if snap.Exists() {
		if err := snap.Decode(&n); err != nil {
			slog.Warn("Ignoring undecodable user notes snapshot", "room", s.roomID, "error", err)
			return
		}
	}
	s.mu.Lock()
	s.userNotes = n.Content
	s.mu.Unlock()
	s.notify()
}

func (s *Session) onChat(snap docstore.Snapshot) {
	var log chatLog
	if snap.Exists() {
		if err := snap.Decode(&log); err != nil {
			slog.Warn("Ignoring undecodable chat snapshot", "room", s.roomID, "error", err)
			return
		}
	}
	s.mu.Lock()
	s.messages = log.Messages
	s.mu.Unlock()
	s.notify()
}

// Answer submits this participant's answer to the active quiz. The answer shows as pending
// until the next quiz snapshot.
func (s *Session) Answer(ctx context.Context, answerIndex int) error {
	s.mu.Lock()
	q := s.quiz
	switch {
	case q == nil:
		s.mu.Unlock()
		return domain.ErrNoQuiz
	case s.pending != nil || HasAnswered(*q, s.self.Email):
		s.mu.Unlock()
		return ErrAlreadyAnswered
	case answerIndex < 0 || answerIndex >= len(q.Options):
		s.mu.Unlock()
		return fmt.Errorf("answer index %d out of range: %w", answerIndex, domain.ErrInvalid)
	}
	s.pending = &pendingAnswer{quizID: q.ID, index: answerIndex}
	s.mu.Unlock()
	s.notify()

	if err := s.svc.SubmitAnswer(ctx, s.roomID, s.self, answerIndex); err != nil {
		s.mu.Lock()
		if s.pending != nil && s.pending.quizID == q.ID {
			s.pending = nil
		}
		s.mu.Unlock()
		s.notify()
		return err
	}
	return nil
}

// Ask puts a question to the study buddy. The buddy only knows the room's shared notes and
// starts over whenever they change.
func (s *Session) Ask(ctx context.Context, question string, onChunk func(string)) (string, error) {
	if s.streamer == nil {
		return "", ErrNoStudyBuddy
	}
	s.mu.Lock()
	if s.buddy == nil || s.buddyNotes != s.notes {
		s.buddy = textgen.NewStudyBuddy(s.streamer, s.notes)
		s.buddyNotes = s.notes
	}
	buddy := s.buddy
	s.mu.Unlock()

	return buddy.Ask(ctx, question, onChunk)
}

// View is what a participant sees, derived from the latest snapshots.
type View struct {
	Room            *domain.StudyRoom    `json:"room"`
	Closed          bool                 `json:"closed"`
	Owner           bool                 `json:"owner"`
	TimeLeft        int                  `json:"timeLeft"`
	Quiz            *domain.Quiz         `json:"quiz"`
	PendingAnswer   *int                 `json:"pendingAnswer,omitempty"`
	Answered        bool                 `json:"answered"`
	ShowLeaderboard bool                 `json:"showLeaderboard"`
	Leaderboard     []Score              `json:"leaderboard,omitempty"`
	Notes           string               `json:"notes"`
	UserNotes       string               `json:"userNotes"`
	Messages        []domain.ChatMessage `json:"messages"`
}

func (s *Session) View() View {
	now := nowFunc()
	s.mu.Lock()
	defer s.mu.Unlock()

	v := View{
		Closed:    s.roomGone,
		Notes:     s.notes,
		UserNotes: s.userNotes,
		Messages:  s.messages,
	}
	if s.room != nil {
		r := *s.room
		v.Room = &r
		v.Owner = r.CreatedBy == s.self.Email
		v.TimeLeft = s.svc.durations.TimeLeft(r.Pomodoro, now)
	}
	if s.quiz != nil {
		q := *s.quiz
		v.Quiz = &q
		v.Answered = HasAnswered(q, s.self.Email)
		if s.pending != nil && s.pending.quizID == q.ID {
			idx := s.pending.index
			v.PendingAnswer = &idx
		}
		if s.leaderboardFor == q.ID {
			v.ShowLeaderboard = true
			var roster []domain.Participant
			if s.room != nil {
				roster = s.room.Users
			}
			v.Leaderboard = Leaderboard(q, roster)
		}
	}
	return v
}
