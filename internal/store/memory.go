package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is the default backend: good enough for single-process
// deployments and the one tests use.
type MemoryStore struct {
	mu       sync.RWMutex
	docs     map[string]Document
	comments map[string][]Comment // taskID -> comments
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:     make(map[string]Document),
		comments: make(map[string][]Comment),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) LoadDocument(_ context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return doc, nil
}

func (s *MemoryStore) SaveDocument(_ context.Context, id, content, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = Document{ID: id, Content: content, Title: title, UpdatedAt: time.Now()}
	return nil
}

func (s *MemoryStore) LoadComments(_ context.Context, taskID string) ([]Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	comments := make([]Comment, len(s.comments[taskID]))
	copy(comments, s.comments[taskID])
	sort.Slice(comments, func(i, j int) bool { return comments[i].CreatedAt.Before(comments[j].CreatedAt) })
	return comments, nil
}

func (s *MemoryStore) SaveComment(_ context.Context, comment Comment) (Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	s.comments[comment.TaskID] = append(s.comments[comment.TaskID], comment)
	return comment, nil
}

func (s *MemoryStore) Close() error { return nil }
