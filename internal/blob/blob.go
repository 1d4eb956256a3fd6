// Package blob stores uploaded files under slash-separated paths, each with a small set of
// custom metadata fields.
package blob

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidPath = errors.New("invalid blob path")
)

// Metadata describes a stored blob.
type Metadata struct {
	ContentType string            `json:"contentType"`
	Size        int64             `json:"size"`
	TimeCreated time.Time         `json:"timeCreated"`
	Custom      map[string]string `json:"customMetadata,omitempty"`
}

// Object is a reference to a stored blob.
type Object struct {
	Path string `json:"path"`
	Name string `json:"name"`
}

// Store is a blob store without a change feed.
type Store interface {
	Upload(ctx context.Context, path string, r io.Reader, custom map[string]string) (Object, error)
	// List returns the blobs directly under prefix, ordered by name.
	List(ctx context.Context, prefix string) ([]Object, error)
	URL(obj Object) string
	Metadata(ctx context.Context, obj Object) (Metadata, error)
	Open(ctx context.Context, obj Object) (io.ReadCloser, Metadata, error)
	Delete(ctx context.Context, obj Object) error
}

// Ref builds an Object for path.
func Ref(path string) Object {
	name := path
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		name = path[i+1:]
	}
	return Object{Path: path, Name: name}
}

// ValidatePath rejects empty, absolute and dot segments.
func ValidatePath(path string) error {
	if path == "" || strings.HasPrefix(path, "/") || strings.ContainsRune(path, '\\') {
		return ErrInvalidPath
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return ErrInvalidPath
		}
	}
	return nil
}
