package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/resources"
	"github.com/conorfennell/studyroom/internal/room"
	"github.com/conorfennell/studyroom/internal/textgen"
)

const closeTimeout = 5 * time.Second

var errNotConnected = errors.New("open the room's event stream before asking the study buddy")

// liveSession is a room session shared by every event stream of one participant.
type liveSession struct {
	sess *room.Session

	mu        sync.Mutex
	listeners map[chan struct{}]struct{}
}

func (l *liveSession) broadcast() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ch := range l.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (l *liveSession) fanOut() {
	for {
		select {
		case <-l.sess.Changes():
			l.broadcast()
		case <-l.sess.Done():
			l.broadcast()
			return
		}
	}
}

// sessions keeps one room.Session per (room, participant) while at least one stream is open.
type sessions struct {
	rooms *room.Service
	opts  room.SessionOptions

	mu   sync.Mutex
	live map[string]*liveSession
}

func newSessions(rooms *room.Service, opts room.SessionOptions) *sessions {
	return &sessions{rooms: rooms, opts: opts, live: make(map[string]*liveSession)}
}

func sessionKey(roomID, email string) string {
	return roomID + "\x00" + email
}

// acquire opens or reuses the participant's session and registers a change listener on it.
func (r *sessions) acquire(ctx context.Context, roomID string, p domain.Participant) (*liveSession, chan struct{}, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := sessionKey(roomID, p.Email)
	l, ok := r.live[key]
	if !ok {
		sess, err := room.Open(ctx, r.rooms, roomID, p, r.opts)
		if err != nil {
			return nil, nil, err
		}
		l = &liveSession{sess: sess, listeners: make(map[chan struct{}]struct{})}
		r.live[key] = l
		go l.fanOut()
	}

	ch := make(chan struct{}, 1)
	l.mu.Lock()
	l.listeners[ch] = struct{}{}
	l.mu.Unlock()
	return l, ch, nil
}

// release drops a listener and closes the session once nobody is listening. The close happens
// under the registry lock so a reconnect cannot join before the old session has left.
func (r *sessions) release(l *liveSession, ch chan struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	l.mu.Lock()
	delete(l.listeners, ch)
	idle := len(l.listeners) == 0
	l.mu.Unlock()
	if !idle {
		return
	}

	key := sessionKey(l.sess.RoomID(), l.sess.Self().Email)
	if r.live[key] == l {
		delete(r.live, key)
	}
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := l.sess.Close(ctx); err != nil {
		slog.Warn("Failed to leave room", "room", l.sess.RoomID(), "user", l.sess.Self().Email, "error", err)
	}
}

func (r *sessions) get(roomID, email string) *room.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.live[sessionKey(roomID, email)]; ok {
		return l.sess
	}
	return nil
}

func (r *sessions) closeAll() {
	r.mu.Lock()
	live := r.live
	r.live = make(map[string]*liveSession)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	for _, l := range live {
		if err := l.sess.Close(ctx); err != nil {
			slog.Warn("Failed to leave room", "room", l.sess.RoomID(), "user", l.sess.Self().Email, "error", err)
		}
	}
}

func writeEvent(w http.ResponseWriter, rc *http.ResponseController, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	return rc.Flush()
}

func startStream(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
}

// pollResources runs a resource poller for roomID until ctx is cancelled. Each changed list is
// handed to the returned channel.
func (s *Server) pollResources(ctx context.Context, roomID string) <-chan []resources.Resource {
	out := make(chan []resources.Resource)
	if s.resources == nil {
		return out
	}
	poller := s.resources.Poller(roomID, s.pollInterval, func(list []resources.Resource) {
		if list == nil {
			list = []resources.Resource{}
		}
		select {
		case out <- list:
		case <-ctx.Done():
		}
	})
	go poller.Run(ctx)
	return out
}

// handleEvents joins the room for the caller and streams their view as "view" events until the
// client disconnects or the room is deleted. The room's resource list is polled for as long as
// the stream is open and sent as "resources" events when it changes. Disconnecting leaves the
// room.
func (s *Server) handleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		roomID := r.PathValue("id")
		l, ch, err := s.sessions.acquire(r.Context(), roomID, participant(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		defer s.sessions.release(l, ch)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		lists := s.pollResources(ctx, roomID)

		rc := http.NewResponseController(w)
		startStream(w)

		// Tick so the countdown advances between snapshots.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			v := l.sess.View()
			if err := writeEvent(w, rc, "view", v); err != nil {
				return
			}
			if v.Closed {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-l.sess.Done():
				return
			case list := <-lists:
				if err := writeEvent(w, rc, "resources", list); err != nil {
					return
				}
			case <-ch:
			case <-ticker.C:
			}
		}
	}
}

type askFunc func(ctx context.Context, question string, onChunk func(string)) (string, error)

// streamAnswer runs ask and streams the answer as "chunk" events followed by a "done" event
// carrying the full reply. Errors before the first chunk get a normal error response.
func streamAnswer(w http.ResponseWriter, r *http.Request, question string, ask askFunc) {
	rc := http.NewResponseController(w)
	started := false
	reply, err := ask(r.Context(), question, func(chunk string) {
		if !started {
			startStream(w)
			started = true
		}
		writeEvent(w, rc, "chunk", map[string]string{"text": chunk})
	})
	if err != nil {
		if !started {
			writeError(w, r, err)
			return
		}
		slog.Warn("Answer stream failed", "path", r.URL.Path, "error", err)
		writeEvent(w, rc, "error", map[string]string{"error": "the answer stream stopped"})
		return
	}
	if !started {
		startStream(w)
	}
	writeEvent(w, rc, "done", map[string]string{"text": reply})
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req struct {
		Question string `json:"question"`
	}
	if !decodeJSON(w, r, &req) {
		return "", false
	}
	if strings.TrimSpace(req.Question) == "" {
		http.Error(w, "Question cannot be empty", http.StatusBadRequest)
		return "", false
	}
	return req.Question, true
}

// handleBuddy asks the room's study buddy, which only knows the shared notes. The caller must
// have an open event stream for the room.
func (s *Server) handleBuddy() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question, ok := decodeQuestion(w, r)
		if !ok {
			return
		}
		sess := s.sessions.get(r.PathValue("id"), participant(r).Email)
		if sess == nil {
			writeError(w, r, errNotConnected)
			return
		}
		streamAnswer(w, r, question, sess.Ask)
	}
}

// tutors holds one general tutoring conversation per participant.
type tutors struct {
	streamer textgen.Streamer

	mu    sync.Mutex
	convs map[string]*textgen.Conversation
}

func (t *tutors) get(email string) *textgen.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.convs[email]
	if !ok {
		c = textgen.NewTutor(t.streamer)
		t.convs[email] = c
	}
	return c
}

// handleTutor continues the caller's conversation with the general tutor.
func (s *Server) handleTutor() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		question, ok := decodeQuestion(w, r)
		if !ok {
			return
		}
		if s.tutors.streamer == nil {
			writeError(w, r, room.ErrNoStudyBuddy)
			return
		}
		p := participant(r)
		if p.Email == "" {
			http.Error(w, "Missing "+headerEmail+" header", http.StatusBadRequest)
			return
		}
		streamAnswer(w, r, question, s.tutors.get(p.Email).Ask)
	}
}
