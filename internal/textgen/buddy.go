package textgen

import (
	"context"
	"errors"
	"strings"
	"sync"

	"google.golang.org/genai"
)

// Conversation is a multi-turn chat with a fixed system instruction. A failed turn leaves the
// history untouched.
type Conversation struct {
	streamer Streamer
	system   string

	mu      sync.Mutex
	history []Turn
}

// NewTutor starts a general tutoring conversation.
func NewTutor(s Streamer) *Conversation {
	return &Conversation{streamer: s, system: tutorInstruction}
}

// NewStudyBuddy starts a conversation whose answers are restricted to notes.
func NewStudyBuddy(s Streamer, notes string) *Conversation {
	return &Conversation{streamer: s, system: studyBuddyInstruction(notes)}
}

// Ask sends message and streams the answer to onChunk as it arrives. It returns the full answer.
func (c *Conversation) Ask(ctx context.Context, message string, onChunk func(string)) (string, error) {
	if strings.TrimSpace(message) == "" {
		return "", errors.New("message is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	history := append(c.history[:len(c.history):len(c.history)], Turn{Role: genai.RoleUser, Text: message})

	var answer strings.Builder
	for chunk, err := range c.streamer.Stream(ctx, c.system, history) {
		if err != nil {
			return "", err
		}
		answer.WriteString(chunk)
		if onChunk != nil && chunk != "" {
			onChunk(chunk)
		}
	}

	c.history = append(history, Turn{Role: genai.RoleModel, Text: answer.String()})
	return answer.String(), nil
}

// Turns returns the number of completed exchanges.
func (c *Conversation) Turns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.history) / 2
}
