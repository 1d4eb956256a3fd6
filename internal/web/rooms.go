package web

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/conorfennell/studyroom/internal/blob"
	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/room"
)

func (s *Server) handleListRooms() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rooms, err := s.rooms.ListRooms(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, rooms)
	}
}

// handleCreateRoom creates a room owned by the calling participant.
func (s *Server) handleCreateRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req room.NewRoom
		if !decodeJSON(w, r, &req) {
			return
		}
		created, err := s.rooms.CreateRoom(r.Context(), req, participant(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	}
}

func (s *Server) handleGetRoom() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		got, err := s.rooms.GetRoom(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, got)
	}
}

// handleTimer applies start, stop or reset to the room's Pomodoro timer.
func (s *Server) handleTimer() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		var (
			p   domain.Pomodoro
			err error
		)
		switch r.PathValue("action") {
		case "start":
			p, err = s.rooms.StartTimer(r.Context(), id)
		case "stop":
			p, err = s.rooms.StopTimer(r.Context(), id)
		case "reset":
			p, err = s.rooms.ResetTimer(r.Context(), id)
		default:
			http.Error(w, "Unknown timer action", http.StatusNotFound)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pomodoro": p,
			"timeLeft": s.rooms.Durations().TimeLeft(p, nowFunc()),
		})
	}
}

func (s *Server) handleGetQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.rooms.CurrentQuiz(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		if q == nil {
			writeError(w, r, domain.ErrNoQuiz)
			return
		}
		writeJSON(w, http.StatusOK, q)
	}
}

func (s *Server) handlePostQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload domain.QuizPayload
		if !decodeJSON(w, r, &payload) {
			return
		}
		q, err := s.rooms.PostQuiz(r.Context(), r.PathValue("id"), payload)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// handleGenerateQuiz builds a quiz from the room's shared notes and posts it.
func (s *Server) handleGenerateQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q, err := s.rooms.GenerateQuiz(r.Context(), r.PathValue("id"), participant(r))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// handleAnswer submits the caller's answer, through their live session when they have one so
// the answer shows as pending on their stream.
func (s *Server) handleAnswer() http.HandlerFunc {
	type request struct {
		AnswerIndex *int `json:"answerIndex"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.AnswerIndex == nil {
			http.Error(w, "Missing answer index", http.StatusBadRequest)
			return
		}
		id, p := r.PathValue("id"), participant(r)

		var err error
		if sess := s.sessions.get(id, p.Email); sess != nil {
			err = sess.Answer(r.Context(), *req.AnswerIndex)
		} else {
			err = s.rooms.SubmitAnswer(r.Context(), id, p, *req.AnswerIndex)
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleClearQuiz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.rooms.ClearQuiz(r.Context(), r.PathValue("id")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleListMessages returns the chat log, or the part of it after the "after" message id.
func (s *Server) handleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs, err := s.rooms.Messages(r.Context(), r.PathValue("id"), r.URL.Query().Get("after"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

func (s *Server) handleSendMessage() http.HandlerFunc {
	type request struct {
		Text string `json:"text"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if !decodeJSON(w, r, &req) {
			return
		}
		msg, err := s.rooms.SendMessage(r.Context(), r.PathValue("id"), participant(r), strings.TrimSpace(req.Text))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)
	}
}

type notesBody struct {
	Content string `json:"content"`
}

func (s *Server) handleGetNotes(read func(context.Context, string) (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := read(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, notesBody{Content: content})
	}
}

func (s *Server) handlePutNotes(save func(context.Context, string, string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req notesBody
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := save(r.Context(), r.PathValue("id"), req.Content); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleNotesHTML renders the shared notes, which are markdown, as an HTML fragment.
func (s *Server) handleNotesHTML() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		content, err := s.rooms.Notes(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		var buf bytes.Buffer
		if err := s.markdown.Convert([]byte(content), &buf); err != nil {
			writeError(w, r, fmt.Errorf("failed to render notes: %w", err))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(buf.Bytes())
	}
}

func (s *Server) handleListResources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := s.resources.List(r.Context(), r.PathValue("id"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// handleUploadResource stores the multipart "file" field as a room resource and tells the room
// about it.
func (s *Server) handleUploadResource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if _, err := s.rooms.GetRoom(r.Context(), id); err != nil {
			writeError(w, r, err)
			return
		}

		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, "Missing file: "+err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()

		p := participant(r)
		res, err := s.resources.Upload(r.Context(), id, header.Filename, file, p)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := s.rooms.AnnounceUpload(r.Context(), id, p, res.Name); err != nil {
			slog.Warn("Failed to announce upload", "room", id, "name", res.Name, "error", err)
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

func (s *Server) handleDeleteResource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.resources.Delete(r.Context(), r.PathValue("id"), r.PathValue("name")); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// inlineTypes are the media types a browser may render straight from the API origin. Anything
// else, HTML and SVG included, is served as a download.
var inlineTypes = map[string]bool{
	"application/pdf": true,
	"image/gif":       true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/webp":      true,
	"text/plain":      true,
}

func servedInline(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && inlineTypes[strings.ToLower(mediaType)]
}

// handleBlob serves a stored blob with its recorded content type.
func (s *Server) handleBlob() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ref := r.PathValue("path")
		if err := blob.ValidatePath(ref); err != nil {
			writeError(w, r, err)
			return
		}
		body, meta, err := s.blobs.Open(r.Context(), blob.Ref(ref))
		if err != nil {
			if errors.Is(err, blob.ErrNotFound) {
				http.NotFound(w, r)
				return
			}
			writeError(w, r, err)
			return
		}
		defer body.Close()

		w.Header().Set("Content-Type", meta.ContentType)
		w.Header().Set("Content-Length", fmt.Sprint(meta.Size))
		w.Header().Set("X-Content-Type-Options", "nosniff")
		if !servedInline(meta.ContentType) {
			w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": path.Base(ref)}))
		}
		io.Copy(w, body)
	}
}
