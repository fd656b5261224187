package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notewave/collabd/internal/store"
)

// Both backends must satisfy the same contract, so each test runs against
// every implementation.
func backends(t *testing.T) map[string]store.Store {
	t.Helper()
	pebbleStore, err := store.OpenPebbleStore(t.TempDir())
	if err != nil {
		t.Fatalf("OpenPebbleStore failed: %v", err)
	}
	return map[string]store.Store{
		"memory": store.NewMemoryStore(),
		"pebble": pebbleStore,
	}
}

func TestDocumentRoundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			if _, err := s.LoadDocument(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("Expected ErrNotFound for missing document, got %v", err)
			}

			if err := s.SaveDocument(ctx, "doc-1", "hello", "Notes"); err != nil {
				t.Fatalf("SaveDocument failed: %v", err)
			}
			doc, err := s.LoadDocument(ctx, "doc-1")
			if err != nil {
				t.Fatalf("LoadDocument failed: %v", err)
			}
			if doc.Content != "hello" || doc.Title != "Notes" {
				t.Errorf("Unexpected document: %+v", doc)
			}
			if doc.UpdatedAt.IsZero() {
				t.Error("Save must stamp UpdatedAt")
			}

			// Last save wins.
			if err := s.SaveDocument(ctx, "doc-1", "hello world", "Notes"); err != nil {
				t.Fatalf("SaveDocument failed: %v", err)
			}
			doc, _ = s.LoadDocument(ctx, "doc-1")
			if doc.Content != "hello world" {
				t.Errorf("Overwrite should win, got %q", doc.Content)
			}
		})
	}
}

func TestCommentsOrderedByCreation(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()
			ctx := context.Background()

			base := time.Now().Truncate(time.Millisecond)
			// Saved out of order on purpose.
			for i, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
				_, err := s.SaveComment(ctx, store.Comment{
					TaskID:    "task-1",
					AuthorID:  "alice",
					Body:      []string{"third", "first", "second"}[i],
					CreatedAt: base.Add(offset),
				})
				if err != nil {
					t.Fatalf("SaveComment failed: %v", err)
				}
			}
			// A comment on another task must not leak in.
			s.SaveComment(ctx, store.Comment{TaskID: "task-2", Body: "other"})

			comments, err := s.LoadComments(ctx, "task-1")
			if err != nil {
				t.Fatalf("LoadComments failed: %v", err)
			}
			if len(comments) != 3 {
				t.Fatalf("Expected 3 comments, got %d", len(comments))
			}
			for i, want := range []string{"first", "second", "third"} {
				if comments[i].Body != want {
					t.Errorf("Comment %d: expected %q, got %q", i, want, comments[i].Body)
				}
			}
		})
	}
}

func TestSaveCommentFillsDefaults(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			saved, err := s.SaveComment(context.Background(), store.Comment{TaskID: "task-1", Body: "hi"})
			if err != nil {
				t.Fatalf("SaveComment failed: %v", err)
			}
			if saved.ID == "" {
				t.Error("SaveComment must assign an id")
			}
			if saved.CreatedAt.IsZero() {
				t.Error("SaveComment must stamp CreatedAt")
			}
		})
	}
}

func TestLoadCommentsEmptyTask(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			defer s.Close()

			comments, err := s.LoadComments(context.Background(), "no-comments")
			if err != nil {
				t.Fatalf("LoadComments failed: %v", err)
			}
			if len(comments) != 0 {
				t.Errorf("Expected no comments, got %d", len(comments))
			}
		})
	}
}
