// Package textgen talks to the language model that writes quizzes, flashcards and study buddy
// answers. Everything above it depends on the Generator and Streamer interfaces only.
package textgen

import (
	"context"
	"iter"
	"unicode/utf8"

	"google.golang.org/genai"
)

// MaxContextChars caps how much source text goes into a generation prompt.
const MaxContextChars = 4000

// Generator produces a JSON document conforming to schema.
type Generator interface {
	GenerateStructured(ctx context.Context, prompt string, schema *genai.Schema) (string, error)
}

// Turn is one message of a conversation.
type Turn struct {
	Role genai.Role
	Text string
}

// Streamer streams the model's next turn for a conversation, chunk by chunk.
type Streamer interface {
	Stream(ctx context.Context, system string, history []Turn) iter.Seq2[string, error]
}

// TruncateContext returns the first max characters of s.
func TruncateContext(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
