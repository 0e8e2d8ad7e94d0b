// Package memstore is an in-memory docstore.Store. It backs tests and dry
// runs, and supports failure injection so partial-failure paths can be
// exercised deterministically.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/ledgersync/internal/docstore"
)

// Store keeps documents in memory, keyed by collection path and id.
// Safe for concurrent use.
type Store struct {
	mu      gosync.Mutex
	docs    map[docstore.CollectionPath]map[string]docstore.Document
	commits []int // write count of each successful commit

	// failErr, when set, is returned by Commit call number failFrom
	// (1-based) and every call after it.
	failFrom  int
	failErr   error
	callCount int
}

var _ docstore.Store = (*Store)(nil)

// New returns an empty store.
func New() *Store {
	return &Store{docs: make(map[docstore.CollectionPath]map[string]docstore.Document)}
}

// NewDocumentID returns a random id. Nothing is written.
func (s *Store) NewDocumentID(_ context.Context, path docstore.CollectionPath) (string, error) {
	if err := path.Validate(); err != nil {
		return "", err
	}

	return uuid.NewString(), nil
}

// Commit applies all writes or none.
func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	if err := docstore.CheckBatch(batch); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.callCount++
	if s.failErr != nil && s.callCount >= s.failFrom {
		return s.failErr
	}

	for _, w := range batch.Writes() {
		coll := s.docs[w.Path]
		if coll == nil {
			coll = make(map[string]docstore.Document)
			s.docs[w.Path] = coll
		}

		coll[w.ID] = docstore.Document{
			ID:        w.ID,
			UpdatedAt: w.UpdatedAt,
			Fields:    append(json.RawMessage(nil), w.Fields...),
		}
	}

	s.commits = append(s.commits, batch.Len())

	return nil
}

// QuerySince returns matching documents ordered by updatedAt, then id.
func (s *Store) QuerySince(ctx context.Context, path docstore.CollectionPath, since time.Time) ([]docstore.Document, error) {
	if err := path.Validate(); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var out []docstore.Document

	for _, d := range s.docs[path] {
		if d.UpdatedAt.After(since) {
			out = append(out, d)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.Before(out[j].UpdatedAt)
		}

		return out[i].ID < out[j].ID
	})

	return out, nil
}

// Put stores a document directly, bypassing batching. fields is marshaled
// to JSON unless it is already a json.RawMessage or []byte.
func (s *Store) Put(path docstore.CollectionPath, id string, updatedAt time.Time, fields any) error {
	var raw json.RawMessage

	switch v := fields.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		data, err := json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("memstore: encoding fields: %w", err)
		}

		raw = data
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	coll := s.docs[path]
	if coll == nil {
		coll = make(map[string]docstore.Document)
		s.docs[path] = coll
	}

	coll[id] = docstore.Document{ID: id, UpdatedAt: updatedAt, Fields: raw}

	return nil
}

// Get returns a stored document.
func (s *Store) Get(path docstore.CollectionPath, id string) (docstore.Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[path][id]

	return d, ok
}

// Count returns the number of documents in a collection.
func (s *Store) Count(path docstore.CollectionPath) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.docs[path])
}

// Commits returns the write count of each successful commit, in order.
func (s *Store) Commits() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]int(nil), s.commits...)
}

// FailCommitsFrom makes the nth Commit call (1-based, counted from store
// creation) and every later call return err. A nil err clears the failure.
func (s *Store) FailCommitsFrom(n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failFrom = n
	s.failErr = err
}
