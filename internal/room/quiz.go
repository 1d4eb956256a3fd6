package room

import (
	"sort"

	"github.com/conorfennell/studyroom/internal/domain"
)

// Score is one participant's result on a quiz.
type Score struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Answered    bool   `json:"answered"`
	AnswerIndex int    `json:"answerIndex"`
	Correct     bool   `json:"correct"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// FirstAnswers keeps the earliest recorded answer of each user, in log order.
func FirstAnswers(answers []domain.QuizAnswer) []domain.QuizAnswer {
	seen := make(map[string]bool, len(answers))
	out := make([]domain.QuizAnswer, 0, len(answers))
	for _, a := range answers {
		if seen[a.UserID] {
			continue
		}
		seen[a.UserID] = true
		out = append(out, a)
	}
	return out
}

// HasAnswered reports whether userID has an answer on the quiz.
func HasAnswered(q domain.Quiz, userID string) bool {
	for _, a := range q.Answers {
		if a.UserID == userID {
			return true
		}
	}
	return false
}

// Complete reports whether the quiz has as many recorded answers as the room has
// participants. Only the counts are compared, so a departed user's answer or a repeated
// answer still counts toward completion. An empty room never completes a quiz.
func Complete(q domain.Quiz, roster []domain.Participant) bool {
	return len(roster) > 0 && len(q.Answers) == len(roster)
}

// Scores grades each current participant by their first answer. Participants without an
// answer are marked unanswered and incorrect.
func Scores(q domain.Quiz, roster []domain.Participant) []Score {
	first := make(map[string]domain.QuizAnswer)
	for _, a := range FirstAnswers(q.Answers) {
		first[a.UserID] = a
	}

	scores := make([]Score, 0, len(roster))
	for _, p := range roster {
		s := Score{UserID: p.Email, DisplayName: p.DisplayName, AnswerIndex: -1}
		if a, ok := first[p.Email]; ok {
			s.Answered = true
			s.AnswerIndex = a.AnswerIndex
			s.Correct = a.AnswerIndex == q.CorrectOptionIndex
			s.Timestamp = a.Timestamp
			if a.DisplayName != "" {
				s.DisplayName = a.DisplayName
			}
		}
		scores = append(scores, s)
	}
	return scores
}

// Leaderboard orders Scores with correct answers first, fastest first among them.
func Leaderboard(q domain.Quiz, roster []domain.Participant) []Score {
	scores := Scores(q, roster)
	sort.SliceStable(scores, func(i, j int) bool {
		a, b := scores[i], scores[j]
		if a.Correct != b.Correct {
			return a.Correct
		}
		if a.Correct && a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		return false
	})
	return scores
}
