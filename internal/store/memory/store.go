// Package memory is a map-backed DocumentStore for tests and ephemeral runs.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"lookup-billing-go/internal/store"
)

// Compile-time check: *Store must satisfy store.DocumentStore.
var _ store.DocumentStore = (*Store)(nil)

type Store struct {
	mu          sync.RWMutex
	collections map[string]map[string]store.Document
	order       map[string][]string
	closed      bool
}

func New() *Store {
	return &Store{
		collections: make(map[string]map[string]store.Document),
		order:       make(map[string][]string),
	}
}

func (s *Store) Get(_ context.Context, collection, id string) (store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}
	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return clone(doc)
}

// List returns matching documents in insertion order.
func (s *Store) List(_ context.Context, collection string, filters store.Filters) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	docs := make([]store.Document, 0)
	for _, id := range s.order[collection] {
		doc := s.collections[collection][id]
		if !store.Matches(doc, filters) {
			continue
		}
		c, err := clone(doc)
		if err != nil {
			return nil, err
		}
		docs = append(docs, c)
	}
	return docs, nil
}

func (s *Store) Create(_ context.Context, collection, id string, data store.Document) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	id = store.NewId(id)
	if _, exists := s.collections[collection][id]; exists {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrAlreadyExists, collection, id)
	}

	doc, err := clone(data)
	if err != nil {
		return nil, err
	}
	doc["id"] = id

	if s.collections[collection] == nil {
		s.collections[collection] = make(map[string]store.Document)
	}
	s.collections[collection][id] = doc
	s.order[collection] = append(s.order[collection], id)

	return clone(doc)
}

func (s *Store) Update(_ context.Context, collection, id string, patch store.Document) (store.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, store.ErrClosed
	}

	current, ok := s.collections[collection][id]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}

	merged, err := clone(store.Merge(current, patch))
	if err != nil {
		return nil, err
	}
	s.collections[collection][id] = merged

	return clone(merged)
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// Collections lists the collection names holding at least one document.
func (s *Store) Collections() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name, docs := range s.collections {
		if len(docs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// clone round-trips through JSON so stored values never alias caller memory
// and decimals are kept in their string form, as in the SQLite backend.
func clone(doc store.Document) (store.Document, error) {
	if doc == nil {
		return store.Document{}, nil
	}
	return store.Encode(doc)
}
