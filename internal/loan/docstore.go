package loan

import (
	"context"
	"time"
)

// Document is one JSON document in a collection.
type Document struct {
	Collection string
	ID         string
	Data       map[string]any
	// CreatedAt and UpdatedAt are assigned by the store.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// DocumentStore is a schemaless collection store.
// Failures caused by access rules wrap ErrPermissionDenied.
type DocumentStore interface {
	// Get returns the document, or nil without error if it does not exist.
	Get(ctx context.Context, collection, id string) (*Document, error)

	// Set writes the document under id. With merge, top-level keys of data
	// are merged into an existing document instead of replacing it.
	Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error

	// Add stores data under a new store-assigned id.
	Add(ctx context.Context, collection string, data map[string]any) (*Document, error)

	// Query returns up to limit documents whose top-level field equals value,
	// newest first. A limit <= 0 returns all matches.
	Query(ctx context.Context, collection, field string, value any, limit int) ([]*Document, error)

	// Delete removes the document. Deleting a missing document is not an
	// error.
	Delete(ctx context.Context, collection, id string) error
}
