// Package docstore defines the realtime document store the room synchronizer builds on:
// keyed JSON documents with merge updates, array set operations and push subscriptions.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound    = errors.New("document not found")
	ErrInvalidPath = errors.New("invalid document path")
	ErrClosed      = errors.New("store is closed")
)

// Document is a JSON-shaped document: nested maps, slices, strings, float64s, bools and nils.
type Document map[string]any

// Snapshot is the state of one document at a point in time. Data is nil when the document is absent.
type Snapshot struct {
	Path string
	Data Document
}

// Exists reports whether the document was present.
func (s Snapshot) Exists() bool {
	return s.Data != nil
}

// Decode decodes the snapshot's data into out.
func (s Snapshot) Decode(out any) error {
	if s.Data == nil {
		return ErrNotFound
	}
	return Decode(s.Data, out)
}

// Store is a realtime document store.
//
// Subscribe invokes fn once with the current state and again after every change. Deliveries to a
// single subscriber are sequential, but intermediate states may be coalesced into the latest one.
// The returned function stops further deliveries; so does cancelling ctx.
type Store interface {
	Get(ctx context.Context, path string) (Document, error)
	Set(ctx context.Context, path string, doc Document) error
	Update(ctx context.Context, path string, updates ...Update) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, collection string) ([]Snapshot, error)
	Subscribe(ctx context.Context, path string, fn func(Snapshot)) (func(), error)
}

// Join builds a document path from segments.
func Join(segments ...string) string {
	return strings.Join(segments, "/")
}

// ValidatePath rejects empty paths, empty segments and leading or trailing slashes.
func ValidatePath(path string) error {
	if path == "" {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return nil
}

// IsChild reports whether path is a direct child document of collection.
func IsChild(collection, path string) bool {
	rest, ok := strings.CutPrefix(path, collection+"/")
	return ok && rest != "" && !strings.Contains(rest, "/")
}
