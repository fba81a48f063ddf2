// Package testutil provides shared test helpers: temporary caches, post
// fixtures and a fake admin API server.
package testutil

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/ghostly/internal/cache"
	"github.com/starford/ghostly/internal/models"
	"github.com/starford/ghostly/internal/notify"
)

// Logger returns a logger that only reports errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStore creates a temporary cache database that is cleaned up with t.
func TestStore(t *testing.T) *cache.Store {
	t.Helper()
	broker := notify.NewBroker(0)
	t.Cleanup(broker.Close)

	store, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"), broker, Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// TempFile returns a path inside a per-test directory.
func TempFile(t *testing.T, name string) string {
	t.Helper()
	dir := t.TempDir()
	return filepath.Join(dir, name)
}

// Post returns a post fixture with one author and one persisted tag.
func Post(id string) models.Post {
	return models.Post{
		ID:        id,
		Slug:      "slug-" + id,
		Title:     "Title " + id,
		HTML:      "<p>body " + id + "</p>",
		Status:    models.StatusDraft,
		CreatedAt: "2024-01-01T00:00:00.000Z",
		UpdatedAt: "2024-01-02T00:00:00.000Z",
		Authors: []models.Author{
			{ID: "a-1", Name: "Ada", Slug: "ada"},
		},
		Tags: []models.Tag{
			{ID: models.PersistedTagID("t-1"), Name: "News", Slug: "news"},
		},
	}
}

// Posts returns n post fixtures with ids p1..pn.
func Posts(n int) []models.Post {
	out := make([]models.Post, n)
	for i := range out {
		out[i] = Post(fmt.Sprintf("p%d", i+1))
	}
	return out
}

// WriteFile writes content to path, failing the test on error.
func WriteFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}
