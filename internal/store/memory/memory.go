// Package memory provides an in-process implementation of store.Store. It
// is the default backend for development and the backing store of most
// tests; state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Tyrowin/groupchat/internal/store"
)

type entry struct {
	body []byte
	seq  int64
}

// Store keeps documents in maps keyed by collection and id.
type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]entry
	seq         int64
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		collections: make(map[string]map[string]entry),
	}
}

func (s *Store) Insert(ctx context.Context, collection string, doc any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, body, err := store.PrepareDocument(doc)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]entry)
		s.collections[collection] = docs
	}
	if _, exists := docs[id]; exists {
		return "", fmt.Errorf("memory: %s/%s already exists", collection, id)
	}
	s.seq++
	docs[id] = entry{body: body, seq: s.seq}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (store.Record, error) {
	if err := ctx.Err(); err != nil {
		return store.Record{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.collections[collection][id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return store.Record{ID: id, Body: slices.Clone(e.body)}, nil
}

func (s *Store) QueryByEquality(ctx context.Context, collection, field string, value any) ([]store.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := store.ValidateField(field); err != nil {
		return nil, err
	}
	want, err := store.CanonicalValue(value)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	type match struct {
		record store.Record
		seq    int64
	}
	var matches []match
	for id, e := range s.collections[collection] {
		raw, ok, err := store.FieldValue(e.body, field)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		got, err := store.CanonicalValue(raw)
		if err != nil {
			return nil, err
		}
		if got == want {
			matches = append(matches, match{record: store.Record{ID: id, Body: slices.Clone(e.body)}, seq: e.seq})
		}
	}

	slices.SortFunc(matches, func(a, b match) int {
		return int(a.seq - b.seq)
	})
	records := make([]store.Record, 0, len(matches))
	for _, m := range matches {
		records = append(records, m.record)
	}
	return records, nil
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.collections[collection][id]
	if !ok {
		return store.ErrNotFound
	}
	merged, err := store.MergeFields(e.body, fields)
	if err != nil {
		return err
	}
	e.body = merged
	s.collections[collection][id] = e
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *Store) Close() error {
	return nil
}
