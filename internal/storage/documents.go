package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/conorfennell/studyroom/internal/docstore"
)

// DocStore is a docstore.Store persisted in the documents table. Writes are serialized so that
// subscribers observe snapshots in commit order.
type DocStore struct {
	conn *sql.DB
	mu   sync.Mutex
	hub  *docstore.Hub
}

var _ docstore.Store = (*DocStore)(nil)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readDocument(ctx context.Context, q querier, path string) (docstore.Document, error) {
	var body string
	err := q.QueryRowContext(ctx, `SELECT body FROM documents WHERE path = ?`, path).Scan(&body)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, docstore.ErrNotFound
		}
		return nil, fmt.Errorf("failed to read document %s: %w", path, err)
	}

	var doc docstore.Document
	if err := json.Unmarshal([]byte(body), &doc); err != nil {
		return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
	}
	if doc == nil {
		doc = docstore.Document{}
	}
	return doc, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func writeDocument(ctx context.Context, e execer, path string, doc docstore.Document) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode document %s: %w", path, err)
	}
	_, err = e.ExecContext(ctx, `
		INSERT INTO documents (path, body, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, path, string(body), time.Now())
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}
	return nil
}

func (s *DocStore) Get(ctx context.Context, path string) (docstore.Document, error) {
	if err := docstore.ValidatePath(path); err != nil {
		return nil, err
	}
	return readDocument(ctx, s.conn, path)
}

func (s *DocStore) Set(ctx context.Context, path string, doc docstore.Document) error {
	if err := docstore.ValidatePath(path); err != nil {
		return err
	}
	normalized, err := docstore.Encode(doc)
	if err != nil {
		return err
	}
	if normalized == nil {
		normalized = docstore.Document{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeDocument(ctx, s.conn, path, normalized); err != nil {
		return err
	}
	s.hub.Publish(docstore.Snapshot{Path: path, Data: normalized})
	return nil
}

// Update applies the field updates in a read-modify-write transaction.
func (s *DocStore) Update(ctx context.Context, path string, updates ...docstore.Update) error {
	if err := docstore.ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin update of %s: %w", path, err)
	}
	defer tx.Rollback()

	current, err := readDocument(ctx, tx, path)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	next, err := docstore.Apply(current, updates...)
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", path, err)
	}
	if err := writeDocument(ctx, tx, path, next); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit update of %s: %w", path, err)
	}

	s.hub.Publish(docstore.Snapshot{Path: path, Data: next})
	return nil
}

func (s *DocStore) Delete(ctx context.Context, path string) error {
	if err := docstore.ValidatePath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.conn.ExecContext(ctx, `DELETE FROM documents WHERE path = ?`, path)
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.hub.Publish(docstore.Snapshot{Path: path})
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// List returns the direct children of collection ordered by path.
func (s *DocStore) List(ctx context.Context, collection string) ([]docstore.Snapshot, error) {
	if err := docstore.ValidatePath(collection); err != nil {
		return nil, err
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT path, body FROM documents
		WHERE path LIKE ? ESCAPE '\'
		ORDER BY path
	`, escapeLike(collection)+"/%")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var path, body string
		if err := rows.Scan(&path, &body); err != nil {
			return nil, fmt.Errorf("failed to scan document row: %w", err)
		}
		if !docstore.IsChild(collection, path) {
			continue
		}
		var doc docstore.Document
		if err := json.Unmarshal([]byte(body), &doc); err != nil {
			return nil, fmt.Errorf("failed to decode document %s: %w", path, err)
		}
		if doc == nil {
			doc = docstore.Document{}
		}
		out = append(out, docstore.Snapshot{Path: path, Data: doc})
	}
	return out, rows.Err()
}

func (s *DocStore) Subscribe(ctx context.Context, path string, fn func(docstore.Snapshot)) (func(), error) {
	if err := docstore.ValidatePath(path); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := readDocument(ctx, s.conn, path)
	if err != nil && err != docstore.ErrNotFound {
		return nil, err
	}
	return s.hub.Subscribe(ctx, path, docstore.Snapshot{Path: path, Data: current}, fn)
}
