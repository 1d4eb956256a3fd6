// Package deckimport reconciles course decks with Q:/A:/C: markdown kept in local
// directories or git repositories.
package deckimport

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/conorfennell/studyroom/internal/domain"
	"github.com/conorfennell/studyroom/internal/gitsource"
	"github.com/conorfennell/studyroom/internal/knol"
	"github.com/conorfennell/studyroom/internal/parser"
	"github.com/conorfennell/studyroom/internal/storage"
	"github.com/google/uuid"
)

const (
	SourceLocal = "local"
	SourceGit   = "git"
)

type Store interface {
	InsertSource(ctx context.Context, courseID, path, sourceType string) (int64, error)
	FindSource(ctx context.Context, courseID, path string) (*storage.Source, error)
	GetAllSources(ctx context.Context) ([]storage.Source, error)
	UpdateSourceLastScanned(ctx context.Context, sourceID int64) error
	DeleteSource(ctx context.Context, sourceID int64) error
	ListFlashcards(ctx context.Context, courseID string) ([]domain.Flashcard, error)
	GetFlashcardsBySourceID(ctx context.Context, sourceID int64) ([]domain.Flashcard, error)
	InsertFlashcards(ctx context.Context, cards []domain.Flashcard) error
	DeleteFlashcard(ctx context.Context, courseID, id string) error
}

// Result summarizes one reconciliation of a source.
type Result struct {
	SourceID int64   `json:"sourceId"`
	Parsed   int     `json:"parsed"`
	Inserted int     `json:"inserted"`
	Deleted  int     `json:"deleted"`
	Errors   []error `json:"-"`
}

type Importer struct {
	db       Store
	reposDir string
}

// New returns an importer that keeps git checkouts under reposDir.
func New(db Store, reposDir string) *Importer {
	return &Importer{db: db, reposDir: reposDir}
}

// Import registers path as a source of courseID if it is new and reconciles it.
func (im *Importer) Import(ctx context.Context, courseID, path string) (Result, error) {
	sourceType := SourceLocal
	if gitsource.IsRemote(path) {
		sourceType = SourceGit
	} else {
		abs, err := filepath.Abs(path)
		if err != nil {
			return Result{}, fmt.Errorf("failed to resolve source path %s: %w", path, err)
		}
		path = abs
	}

	source, err := im.db.FindSource(ctx, courseID, path)
	if err != nil {
		return Result{}, domain.Persistence("find source", err)
	}
	if source == nil {
		id, err := im.db.InsertSource(ctx, courseID, path, sourceType)
		if err != nil {
			return Result{}, domain.Persistence("add source", err)
		}
		slog.Info("Added source", "course", courseID, "type", sourceType, "path", path)
		source = &storage.Source{ID: id, CourseID: courseID, Path: path, Type: sourceType}
	}
	return im.syncSource(ctx, *source)
}

// SyncAll reconciles every registered source. A failing source is logged and skipped.
func (im *Importer) SyncAll(ctx context.Context) error {
	slog.Info("Starting sync process for all sources...")
	sources, err := im.db.GetAllSources(ctx)
	if err != nil {
		return domain.Persistence("list sources", err)
	}
	if len(sources) == 0 {
		slog.Info("No sources configured. Add one with --import <course>=<path/or/url.git>")
		return nil
	}

	for _, source := range sources {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if _, err := im.syncSource(ctx, source); err != nil {
			slog.Error("Error syncing source", "id", source.ID, "path", source.Path, "error", err)
		}
	}
	slog.Info("Sync process complete.")
	return nil
}

// Remove unregisters a source of courseID and deletes the cards imported from it. A git source's
// checkout is deleted too.
func (im *Importer) Remove(ctx context.Context, courseID string, sourceID int64) error {
	sources, err := im.db.GetAllSources(ctx)
	if err != nil {
		return domain.Persistence("list sources", err)
	}
	var source *storage.Source
	for i := range sources {
		if sources[i].ID == sourceID && sources[i].CourseID == courseID {
			source = &sources[i]
			break
		}
	}
	if source == nil {
		return fmt.Errorf("source %d of course %s: %w", sourceID, courseID, domain.ErrNotFound)
	}

	if err := im.db.DeleteSource(ctx, sourceID); err != nil {
		return domain.Persistence("delete source", err)
	}
	slog.Info("Removed source", "course", courseID, "id", sourceID, "path", source.Path)

	if source.Type == SourceGit {
		checkout, err := gitsource.LocalPath(im.reposDir, source.Path)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(checkout); err != nil {
			slog.Warn("Failed to delete checkout", "path", checkout, "error", err)
		}
	}
	return nil
}

func (im *Importer) syncSource(ctx context.Context, source storage.Source) (Result, error) {
	slog.Info("Syncing source", "id", source.ID, "type", source.Type, "path", source.Path)

	dir := source.Path
	if source.Type == SourceGit {
		checkout, err := gitsource.LocalPath(im.reposDir, source.Path)
		if err != nil {
			return Result{SourceID: source.ID}, err
		}
		if err := os.MkdirAll(filepath.Dir(checkout), 0o755); err != nil {
			return Result{SourceID: source.ID}, fmt.Errorf("failed to create repos directory: %w", err)
		}
		if err := gitsource.Sync(ctx, source.Path, checkout); err != nil {
			return Result{SourceID: source.ID}, err
		}
		dir = checkout
	}
	return im.reconcile(ctx, source, dir)
}

func parseDir(dir string) ([]domain.Flashcard, []error, error) {
	var cards []domain.Flashcard
	var parseErrors []error

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			fileCards, parseErr := parser.ParseFile(path)
			if parseErr != nil {
				parseErrors = append(parseErrors, fmt.Errorf("parsing %s: %w", path, parseErr))
			}
			cards = append(cards, fileCards...)
		}
		return nil
	})
	return cards, parseErrors, walkErr
}

// reconcile inserts cards that are new to the course and deletes this source's cards that
// no longer appear in dir. Imported cards start in bucket 1 and are due immediately.
func (im *Importer) reconcile(ctx context.Context, source storage.Source, dir string) (Result, error) {
	res := Result{SourceID: source.ID}

	parsed, parseErrors, err := parseDir(dir)
	if err != nil {
		return res, fmt.Errorf("failed to walk %s: %w", dir, err)
	}
	res.Parsed = len(parsed)
	res.Errors = parseErrors

	found := make(map[string]bool, len(parsed))
	for _, card := range parsed {
		found[knol.Hash(card)] = true
	}

	deck, err := im.db.ListFlashcards(ctx, source.CourseID)
	if err != nil {
		return res, domain.Persistence("list flashcards", err)
	}
	seen := make(map[string]bool, len(deck))
	for _, card := range deck {
		seen[card.Hash] = true
	}

	fresh := knol.Dedupe(parsed, seen)
	for i := range fresh {
		fresh[i].ID = uuid.NewString()
		fresh[i].CourseID = source.CourseID
		fresh[i].Bucket = domain.MinBucket
		fresh[i].LastReview = 0
		fresh[i].SourceID = source.ID
	}
	if len(fresh) > 0 {
		if err := im.db.InsertFlashcards(ctx, fresh); err != nil {
			return res, domain.Persistence("insert flashcards", err)
		}
	}
	res.Inserted = len(fresh)

	owned, err := im.db.GetFlashcardsBySourceID(ctx, source.ID)
	if err != nil {
		return res, domain.Persistence("list source flashcards", err)
	}
	for _, card := range owned {
		if found[card.Hash] {
			continue
		}
		slog.Info("Orphaned card, deleting", "hash", card.Hash)
		if err := im.db.DeleteFlashcard(ctx, card.CourseID, card.ID); err != nil {
			slog.Warn("Failed to delete orphaned card", "hash", card.Hash, "error", err)
			res.Errors = append(res.Errors, err)
			continue
		}
		res.Deleted++
	}

	if err := im.db.UpdateSourceLastScanned(ctx, source.ID); err != nil {
		slog.Warn("Failed to update last scanned for source", "source_id", source.ID, "error", err)
	}

	slog.Info("reconciliation complete",
		"path", dir,
		"parsed_cards", res.Parsed,
		"inserted", res.Inserted,
		"orphaned_deleted", res.Deleted,
		"errors", len(res.Errors),
	)
	return res, nil
}
