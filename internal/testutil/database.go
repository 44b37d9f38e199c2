package testutil

import (
	"context"
	"sync"
	"testing"

	"loanflow/internal/docstore"
	"loanflow/internal/docstore/migrations"
	"loanflow/internal/loan"
)

// NewTestDocumentStore creates an in-memory SQLite document store with the
// schema migrated. It is closed when the test completes.
func NewTestDocumentStore(t *testing.T, clock loan.Clock) *docstore.SQLStore {
	t.Helper()

	db, err := docstore.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	if err := migrations.MigrateUp(db, migrations.SQLite); err != nil {
		db.Close()
		t.Fatalf("failed to migrate database: %v", err)
	}

	store := docstore.NewSQLStore(db, migrations.SQLite, clock, NewPrefixedIDGenerator("doc"))
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// FaultyDocumentStore wraps a DocumentStore and fails selected operations.
type FaultyDocumentStore struct {
	loan.DocumentStore

	mu    sync.Mutex
	errs  map[string]error
	calls map[string]int
}

var _ loan.DocumentStore = (*FaultyDocumentStore)(nil)

func NewFaultyDocumentStore(inner loan.DocumentStore) *FaultyDocumentStore {
	return &FaultyDocumentStore{
		DocumentStore: inner,
		errs:          make(map[string]error),
		calls:         make(map[string]int),
	}
}

// FailOn makes the named operation ("Get", "Set", "Add", "Query",
// "Delete") return err. A nil err restores it.
func (f *FaultyDocumentStore) FailOn(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errs, op)
		return
	}
	f.errs[op] = err
}

// Calls returns how often op was invoked.
func (f *FaultyDocumentStore) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *FaultyDocumentStore) check(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	return f.errs[op]
}

func (f *FaultyDocumentStore) Get(ctx context.Context, collection, id string) (*loan.Document, error) {
	if err := f.check("Get"); err != nil {
		return nil, err
	}
	return f.DocumentStore.Get(ctx, collection, id)
}

func (f *FaultyDocumentStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := f.check("Set"); err != nil {
		return err
	}
	return f.DocumentStore.Set(ctx, collection, id, data, merge)
}

func (f *FaultyDocumentStore) Add(ctx context.Context, collection string, data map[string]any) (*loan.Document, error) {
	if err := f.check("Add"); err != nil {
		return nil, err
	}
	return f.DocumentStore.Add(ctx, collection, data)
}

func (f *FaultyDocumentStore) Query(ctx context.Context, collection, field string, value any, limit int) ([]*loan.Document, error) {
	if err := f.check("Query"); err != nil {
		return nil, err
	}
	return f.DocumentStore.Query(ctx, collection, field, value, limit)
}

func (f *FaultyDocumentStore) Delete(ctx context.Context, collection, id string) error {
	if err := f.check("Delete"); err != nil {
		return err
	}
	return f.DocumentStore.Delete(ctx, collection, id)
}
