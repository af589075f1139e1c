package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound      = errors.New("document not found")
	ErrAlreadyExists = errors.New("document already exists")
	ErrClosed        = errors.New("store is closed")
)

// AutoId asks Create to generate the document id.
const AutoId = "auto"

// Collections used by this service.
const (
	CollectionAccounts     = "accounts"
	CollectionTransactions = "transactions"
	CollectionAudits       = "audits"
)

// Document is a schemaless record. The "id" key always holds the document id.
type Document map[string]any

// Id returns the document id
func (d Document) Id() string {
	id, _ := d["id"].(string)
	return id
}

// Filters are equality matches on top-level document fields.
type Filters map[string]string

// DocumentStore is the persistence contract every backend (SQLite, memory, ...) must satisfy.
// It guarantees read-after-write consistency per document and nothing across documents.
type DocumentStore interface {
	Get(ctx context.Context, collection, id string) (Document, error)
	List(ctx context.Context, collection string, filters Filters) ([]Document, error)
	Create(ctx context.Context, collection, id string, data Document) (Document, error)
	Update(ctx context.Context, collection, id string, patch Document) (Document, error)

	// --- Lifecycle ---
	Close()
}

// NewId resolves the id a Create call should use.
func NewId(id string) string {
	if id == "" || id == AutoId {
		return uuid.New().String()
	}
	return id
}

// Encode converts a typed value into a Document through its JSON form.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return doc, nil
}

// Decode fills v from a Document through its JSON form.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("failed to decode document: %w", err)
	}
	return nil
}

// Matches reports whether a document satisfies every equality filter.
func Matches(doc Document, filters Filters) bool {
	for field, want := range filters {
		value, ok := doc[field]
		if !ok || value == nil {
			return false
		}
		if fmt.Sprint(value) != want {
			return false
		}
	}
	return true
}

// Merge applies a patch on top of a copy of base. The id is never overwritten.
func Merge(base, patch Document) Document {
	merged := make(Document, len(base)+len(patch))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range patch {
		if k == "id" {
			continue
		}
		merged[k] = v
	}
	return merged
}
