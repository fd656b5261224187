// Package store is the engine's boundary to the persistent data
// collaborator. The session engine never persists on the broadcast path;
// documents are written out-of-band (the client agent's debounced save, the
// server's CRUD endpoints) through this interface.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("store: not found")

type Document struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Title     string    `json:"title"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"taskId"`
	AuthorID  string    `json:"authorId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type Store interface {
	LoadDocument(ctx context.Context, id string) (Document, error)
	SaveDocument(ctx context.Context, id, content, title string) error
	LoadComments(ctx context.Context, taskID string) ([]Comment, error)
	SaveComment(ctx context.Context, comment Comment) (Comment, error)
	Close() error
}
