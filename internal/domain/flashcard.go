package domain

// Buckets of the Leitner box. New cards start in MinBucket.
const (
	MinBucket = 1
	MaxBucket = 4
)

// Flashcard is a single front/back card in a course deck.
// LastReview is epoch milliseconds of the most recent review outcome.
type Flashcard struct {
	ID         string `json:"id"`
	CourseID   string `json:"courseId"`
	Front      string `json:"front" validate:"required"`
	Back       string `json:"back" validate:"required"`
	Context    string `json:"context,omitempty"`
	Bucket     int    `json:"bucket"`
	LastReview int64  `json:"lastReview"`
	Hash       string `json:"hash,omitempty"`
	SourceID   int64  `json:"sourceId,omitempty"`
}
