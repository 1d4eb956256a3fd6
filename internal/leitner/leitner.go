package leitner

import (
	"time"

	"github.com/conorfennell/studyroom/internal/domain"
)

const dayMillis = 24 * 60 * 60 * 1000

// intervals holds the minimum number of days between reviews for each bucket.
var intervals = map[int]float64{
	1: 1,
	2: 3,
	3: 7,
	4: 14,
}

// nowFunc is overridden in tests.
var nowFunc = time.Now

// Interval returns the review interval for a bucket, and false when the bucket is unknown.
func Interval(bucket int) (time.Duration, bool) {
	days, ok := intervals[bucket]
	if !ok {
		return 0, false
	}
	return time.Duration(days * 24 * float64(time.Hour)), true
}

// DaysSinceReview returns the fractional number of days between the card's last review and now.
func DaysSinceReview(card domain.Flashcard, now time.Time) float64 {
	return float64(now.UnixMilli()-card.LastReview) / dayMillis
}

// IsDue reports whether a card should be reviewed at now.
// Cards with a missing review time or an unknown bucket are always due.
func IsDue(card domain.Flashcard, now time.Time) bool {
	days, ok := intervals[card.Bucket]
	if !ok || card.LastReview <= 0 {
		return true
	}
	return DaysSinceReview(card, now) >= days
}

// DueCards returns the cards of deck that are due at now, in deck order.
func DueCards(deck []domain.Flashcard, now time.Time) []domain.Flashcard {
	due := make([]domain.Flashcard, 0, len(deck))
	for _, card := range deck {
		if IsDue(card, now) {
			due = append(due, card)
		}
	}
	return due
}

// ApplyReview moves a card one bucket up on a correct answer (capped at MaxBucket)
// and back to the first bucket on an incorrect one.
func ApplyReview(card domain.Flashcard, correct bool) domain.Flashcard {
	bucket := card.Bucket
	if bucket < domain.MinBucket || bucket > domain.MaxBucket {
		bucket = domain.MinBucket
	}

	if correct {
		bucket = min(bucket+1, domain.MaxBucket)
	} else {
		bucket = domain.MinBucket
	}

	card.Bucket = bucket
	card.LastReview = nowFunc().UnixMilli()
	return card
}

// NextDueDate returns when a card becomes due again.
func NextDueDate(card domain.Flashcard) time.Time {
	interval, ok := Interval(card.Bucket)
	if !ok || card.LastReview <= 0 {
		return nowFunc()
	}
	return time.UnixMilli(card.LastReview).Add(interval)
}
