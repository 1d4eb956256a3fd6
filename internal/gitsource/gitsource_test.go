package gitsource

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

func TestLocalPath(t *testing.T) {
	testCases := []struct {
		name     string
		url      string
		expected string
		wantErr  bool
	}{
		{"https", "https://github.com/conorfennell/decks.git", filepath.Join("repos", "github.com", "conorfennell", "decks"), false},
		{"scp style", "git@github.com:conorfennell/decks.git", filepath.Join("repos", "github.com", "conorfennell", "decks"), false},
		{"plain path", "/tmp/decks", "", true},
		{"no repo path", "https://github.com", "", true},
		{"traversal", "https://github.com/../../etc", "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := LocalPath("repos", tc.url)
			if tc.wantErr {
				if err == nil {
					t.Errorf("Expected an error for %s but got path %s", tc.url, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("LocalPath failed: %v", err)
			}
			if got != tc.expected {
				t.Errorf("Expected %s but got %s", tc.expected, got)
			}
		})
	}
}

func TestIsRemote(t *testing.T) {
	testCases := map[string]bool{
		"https://github.com/a/b.git": true,
		"git@github.com:a/b.git":     true,
		"./decks":                    false,
		"/srv/decks.git":             false,
	}
	for path, expected := range testCases {
		if got := IsRemote(path); got != expected {
			t.Errorf("IsRemote(%q): expected %v but got %v", path, expected, got)
		}
	}
}

func commitFile(t *testing.T, repo *git.Repository, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", name, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		t.Fatalf("Failed to get worktree: %v", err)
	}
	if _, err := wt.Add(name); err != nil {
		t.Fatalf("Failed to add %s: %v", name, err)
	}
	_, err = wt.Commit("add "+name, &git.CommitOptions{
		Author: &object.Signature{Name: "Test", Email: "test@example.com", When: time.Now()},
	})
	if err != nil {
		t.Fatalf("Failed to commit: %v", err)
	}
}

func TestSync(t *testing.T) {
	// Local clones go through git-upload-pack.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}
	ctx := context.Background()
	upstream := t.TempDir()
	repo, err := git.PlainInit(upstream, false)
	if err != nil {
		t.Fatalf("PlainInit failed: %v", err)
	}
	commitFile(t, repo, upstream, "cells.md", "Q: What is the powerhouse of the cell?\nA: Mitochondria\n")

	checkout := filepath.Join(t.TempDir(), "decks")

	t.Run("Clones when missing", func(t *testing.T) {
		if err := Sync(ctx, upstream, checkout); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(checkout, "cells.md")); err != nil {
			t.Errorf("Expected cells.md in the checkout: %v", err)
		}
	})

	t.Run("Pulls new commits", func(t *testing.T) {
		commitFile(t, repo, upstream, "atoms.md", "Q: What is the charge of an electron?\nA: Negative\n")
		if err := Sync(ctx, upstream, checkout); err != nil {
			t.Fatalf("Sync failed: %v", err)
		}
		if _, err := os.Stat(filepath.Join(checkout, "atoms.md")); err != nil {
			t.Errorf("Expected atoms.md after pull: %v", err)
		}
	})

	t.Run("Up to date is not an error", func(t *testing.T) {
		if err := Sync(ctx, upstream, checkout); err != nil {
			t.Errorf("Expected no error but got %v", err)
		}
	})
}
