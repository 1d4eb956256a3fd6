package domain

// Participant identifies a user present in a room. Email is the identity key.
type Participant struct {
	Email       string `json:"email" validate:"required,email"`
	DisplayName string `json:"displayName"`
}

type PomodoroMode string

const (
	ModeFocus PomodoroMode = "focus"
	ModeBreak PomodoroMode = "break"
)

type PomodoroStatus string

const (
	StatusRunning PomodoroStatus = "running"
	StatusStopped PomodoroStatus = "stopped"
)

// Pomodoro is the shared timer. StartTime is epoch milliseconds, 0 while stopped.
type Pomodoro struct {
	State     PomodoroStatus `json:"state"`
	Mode      PomodoroMode   `json:"mode"`
	StartTime int64          `json:"startTime"`
}

// StudyRoom is the shared room document. The ID doubles as the join code.
type StudyRoom struct {
	ID         string        `json:"id"`
	Name       string        `json:"name" validate:"required"`
	CourseID   string        `json:"courseId"`
	MaxUsers   int           `json:"maxUsers" validate:"gte=1"`
	CreatedBy  string        `json:"createdBy" validate:"required"`
	University string        `json:"university,omitempty"`
	Technique  string        `json:"technique,omitempty"`
	Topic      string        `json:"topic,omitempty"`
	Users      []Participant `json:"users"`
	Pomodoro   Pomodoro      `json:"pomodoro"`
}

// Full reports whether the room has reached its advisory capacity.
func (r StudyRoom) Full() bool {
	return r.MaxUsers > 0 && len(r.Users) >= r.MaxUsers
}

// HasUser reports whether a participant with the given email is present.
func (r StudyRoom) HasUser(email string) bool {
	for _, u := range r.Users {
		if u.Email == email {
			return true
		}
	}
	return false
}

// QuizPayload is the generated part of a quiz, before it is posted to a room.
type QuizPayload struct {
	Topic              string   `json:"topic" validate:"required"`
	Question           string   `json:"question" validate:"required"`
	Options            []string `json:"options" validate:"min=2,dive,required"`
	CorrectOptionIndex int      `json:"correctOptionIndex" validate:"gte=0,ltfield=OptionCount"`
	// OptionCount mirrors len(Options) so the index bound can be validated.
	OptionCount int `json:"-"`
}

// QuizAnswer is one participant's answer. Timestamp is epoch milliseconds.
type QuizAnswer struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	AnswerIndex int    `json:"answerIndex"`
	Timestamp   int64  `json:"timestamp"`
}

// Quiz is the single active quiz of a room.
type Quiz struct {
	ID                 string       `json:"id"`
	Topic              string       `json:"topic"`
	Question           string       `json:"question"`
	Options            []string     `json:"options"`
	CorrectOptionIndex int          `json:"correctOptionIndex"`
	Answers            []QuizAnswer `json:"answers"`
}

type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

type MessagePart struct {
	Text string `json:"text"`
}

// ChatMessage is an entry of a room's append-only chat log.
// User is nil for system-authored messages.
type ChatMessage struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Parts     []MessagePart `json:"parts"`
	User      *Participant  `json:"user,omitempty"`
	Timestamp int64         `json:"timestamp"`
}

// Text joins the message parts.
func (m ChatMessage) Text() string {
	var s string
	for _, p := range m.Parts {
		s += p.Text
	}
	return s
}

// System reports whether the message was authored by the room itself.
func (m ChatMessage) System() bool {
	return m.User == nil
}
