package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/conorfennell/studyroom/internal/docstore"
	"github.com/conorfennell/studyroom/internal/domain"
	_ "modernc.org/sqlite" // Registers the sqlite driver
)

const pragmas = "_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// DB represents a wrapper around the SQL database connection.
type DB struct {
	conn *sql.DB
	docs *DocStore
}

// Open creates a new database connection and ensures the schema is up to date.
func Open(path string) (*DB, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?" + pragmas
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Execute the schema to create tables if they don't exist.
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	db := &DB{conn: conn}
	db.docs = &DocStore{conn: conn, hub: docstore.NewHub()}
	return db, nil
}

// Close stops document subscriptions and closes the database connection.
func (db *DB) Close() error {
	db.docs.hub.Close()
	return db.conn.Close()
}

// Documents returns the durable document store backed by this database.
func (db *DB) Documents() *DocStore {
	return db.docs
}

const flashcardColumns = `id, course_id, front, back, context, bucket, last_review, hash, source_id`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlashcard(row rowScanner) (domain.Flashcard, error) {
	var c domain.Flashcard
	var sourceID sql.NullInt64
	err := row.Scan(
		&c.ID,
		&c.CourseID,
		&c.Front,
		&c.Back,
		&c.Context,
		&c.Bucket,
		&c.LastReview,
		&c.Hash,
		&sourceID,
	)
	c.SourceID = sourceID.Int64
	return c, err
}

func nullSource(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// InsertFlashcards inserts a batch of cards in a single transaction: either every card
// is stored or none is.
func (db *DB) InsertFlashcards(ctx context.Context, cards []domain.Flashcard) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin flashcard insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flashcards (`+flashcardColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare flashcard insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cards {
		if _, err := stmt.ExecContext(ctx,
			c.ID,
			c.CourseID,
			c.Front,
			c.Back,
			c.Context,
			c.Bucket,
			c.LastReview,
			c.Hash,
			nullSource(c.SourceID),
		); err != nil {
			return fmt.Errorf("failed to insert flashcard %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit flashcard insert: %w", err)
	}
	return nil
}

// ListFlashcards returns a course deck in insertion order.
func (db *DB) ListFlashcards(ctx context.Context, courseID string) ([]domain.Flashcard, error) {
	return db.queryFlashcards(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE course_id = ? ORDER BY rowid
	`, courseID)
}

// GetFlashcardsBySourceID retrieves all cards imported from a specific source.
func (db *DB) GetFlashcardsBySourceID(ctx context.Context, sourceID int64) ([]domain.Flashcard, error) {
	return db.queryFlashcards(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE source_id = ? ORDER BY rowid
	`, sourceID)
}

func (db *DB) queryFlashcards(ctx context.Context, query string, args ...any) ([]domain.Flashcard, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flashcards: %w", err)
	}
	defer rows.Close()

	cards := []domain.Flashcard{}
	for rows.Next() {
		c, err := scanFlashcard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flashcard row: %w", err)
		}
		cards = append(cards, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate flashcards: %w", err)
	}
	return cards, nil
}

// FindFlashcard retrieves a card of a course deck. It returns nil when the card does not exist.
func (db *DB) FindFlashcard(ctx context.Context, courseID, id string) (*domain.Flashcard, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE course_id = ? AND id = ?
	`, courseID, id)

	c, err := scanFlashcard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Card not found
		}
		return nil, fmt.Errorf("failed to find flashcard %s: %w", id, err)
	}
	return &c, nil
}

// FindFlashcardByHash retrieves a card of a course deck by its content hash.
func (db *DB) FindFlashcardByHash(ctx context.Context, courseID, hash string) (*domain.Flashcard, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT `+flashcardColumns+`
		FROM flashcards WHERE course_id = ? AND hash = ? LIMIT 1
	`, courseID, hash)

	c, err := scanFlashcard(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find flashcard by hash %s: %w", hash, err)
	}
	return &c, nil
}

// UpdateFlashcardReview stores a card's bucket and last review time.
func (db *DB) UpdateFlashcardReview(ctx context.Context, c domain.Flashcard) error {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE flashcards
		SET bucket = ?, last_review = ?
		WHERE course_id = ? AND id = ?
	`, c.Bucket, c.LastReview, c.CourseID, c.ID)
	if err != nil {
		return fmt.Errorf("failed to update flashcard %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to update flashcard %s: %w", c.ID, domain.ErrNotFound)
	}
	return nil
}

// DeleteFlashcard removes a card from a course deck.
func (db *DB) DeleteFlashcard(ctx context.Context, courseID, id string) error {
	res, err := db.conn.ExecContext(ctx, `
		DELETE FROM flashcards
		WHERE course_id = ? AND id = ?
	`, courseID, id)
	if err != nil {
		return fmt.Errorf("failed to delete flashcard %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("failed to delete flashcard %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// Source represents a card source, either a local path or a Git URL.
type Source struct {
	ID          int64
	CourseID    string
	Path        string
	Type        string
	LastScanned sql.NullTime
}

// InsertSource inserts a new source path for a course and returns its ID.
func (db *DB) InsertSource(ctx context.Context, courseID, path, sourceType string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO sources (course_id, path, type)
		VALUES (?, ?, ?)
	`, courseID, path, sourceType)
	if err != nil {
		return 0, fmt.Errorf("failed to insert source %s: %w", path, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for source %s: %w", path, err)
	}
	return id, nil
}

// FindSource retrieves a course's source by its path. It returns nil when the source does not exist.
func (db *DB) FindSource(ctx context.Context, courseID, path string) (*Source, error) {
	var s Source
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, course_id, path, type, last_scanned
		FROM sources WHERE course_id = ? AND path = ?
	`, courseID, path)

	err := row.Scan(&s.ID, &s.CourseID, &s.Path, &s.Type, &s.LastScanned)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // Source not found
		}
		return nil, fmt.Errorf("failed to find source by path %s: %w", path, err)
	}
	return &s, nil
}

// GetAllSources retrieves all stored sources from the database.
func (db *DB) GetAllSources(ctx context.Context) ([]Source, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, course_id, path, type, last_scanned
		FROM sources ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get all sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		var s Source
		if err := rows.Scan(&s.ID, &s.CourseID, &s.Path, &s.Type, &s.LastScanned); err != nil {
			return nil, fmt.Errorf("failed to scan source row: %w", err)
		}
		sources = append(sources, s)
	}
	return sources, rows.Err()
}

// UpdateSourceLastScanned updates the last_scanned timestamp for a source.
func (db *DB) UpdateSourceLastScanned(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE sources
		SET last_scanned = ?
		WHERE id = ?
	`, time.Now(), sourceID)
	if err != nil {
		return fmt.Errorf("failed to update last scanned for source ID %d: %w", sourceID, err)
	}
	return nil
}

// DeleteSource removes a source together with the cards imported from it.
func (db *DB) DeleteSource(ctx context.Context, sourceID int64) error {
	_, err := db.conn.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, sourceID)
	if err != nil {
		return fmt.Errorf("failed to delete source ID %d: %w", sourceID, err)
	}
	return nil
}
