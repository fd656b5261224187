package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/google/uuid"
)

// PebbleStore persists documents and comments in a local Pebble database.
// Keys:
//
//	doc/{id}                      -> Document JSON
//	comment/{taskID}/{nano}-{id}  -> Comment JSON (nano prefix keeps scans time-ordered)
type PebbleStore struct {
	db *pebble.DB
}

func OpenPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble store: %w", err)
	}
	return &PebbleStore{db: db}, nil
}

var _ Store = (*PebbleStore)(nil)

func docKey(id string) []byte {
	return []byte("doc/" + id)
}

func commentKey(taskID string, createdAt time.Time, id string) []byte {
	return []byte(fmt.Sprintf("comment/%s/%020d-%s", taskID, createdAt.UnixNano(), id))
}

func commentPrefix(taskID string) []byte {
	return []byte("comment/" + taskID + "/")
}

func (s *PebbleStore) LoadDocument(_ context.Context, id string) (Document, error) {
	value, closer, err := s.db.Get(docKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, err
	}
	defer closer.Close()

	var doc Document
	if err := json.Unmarshal(value, &doc); err != nil {
		return Document{}, fmt.Errorf("decode document %s: %w", id, err)
	}
	return doc, nil
}

func (s *PebbleStore) SaveDocument(_ context.Context, id, content, title string) error {
	doc := Document{ID: id, Content: content, Title: title, UpdatedAt: time.Now()}
	value, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode document %s: %w", id, err)
	}
	return s.db.Set(docKey(id), value, pebble.Sync)
}

func (s *PebbleStore) LoadComments(_ context.Context, taskID string) ([]Comment, error) {
	prefix := commentPrefix(taskID)
	upper := append(append([]byte(nil), prefix...), 0xff)
	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: prefix, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var comments []Comment
	for iter.First(); iter.Valid(); iter.Next() {
		var c Comment
		if err := json.Unmarshal(iter.Value(), &c); err != nil {
			return nil, fmt.Errorf("decode comment %q: %w", iter.Key(), err)
		}
		comments = append(comments, c)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return comments, nil
}

func (s *PebbleStore) SaveComment(_ context.Context, comment Comment) (Comment, error) {
	if comment.ID == "" {
		comment.ID = uuid.NewString()
	}
	if comment.CreatedAt.IsZero() {
		comment.CreatedAt = time.Now()
	}
	value, err := json.Marshal(comment)
	if err != nil {
		return Comment{}, fmt.Errorf("encode comment: %w", err)
	}
	key := commentKey(comment.TaskID, comment.CreatedAt, comment.ID)
	if err := s.db.Set(key, value, pebble.Sync); err != nil {
		return Comment{}, err
	}
	return comment, nil
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}
