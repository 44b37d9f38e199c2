package testutil

import (
	"context"
	"io"
	"strings"
	"sync"

	"loanflow/internal/loan"
	"loanflow/internal/objectstore"
)

// NewTestObjectStore creates a new in-memory object store for testing.
func NewTestObjectStore() *objectstore.MemoryStore {
	return objectstore.NewMemoryStore("test")
}

// RecordingObjectStore wraps a MemoryStore, counts uploads and can fail
// uploads whose path contains a given fragment.
type RecordingObjectStore struct {
	*objectstore.MemoryStore

	mu      sync.Mutex
	uploads []string
	deletes []string
	failOn  string
	failErr error
}

var _ loan.ObjectStore = (*RecordingObjectStore)(nil)

func NewRecordingObjectStore() *RecordingObjectStore {
	return &RecordingObjectStore{MemoryStore: NewTestObjectStore()}
}

// FailUploads makes every upload whose path contains fragment return err.
func (r *RecordingObjectStore) FailUploads(fragment string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failOn = fragment
	r.failErr = err
}

func (r *RecordingObjectStore) Upload(ctx context.Context, path string, rd io.Reader, size int64, contentType string) error {
	r.mu.Lock()
	r.uploads = append(r.uploads, path)
	fail := r.failErr != nil && strings.Contains(path, r.failOn)
	err := r.failErr
	r.mu.Unlock()
	if fail {
		return err
	}
	return r.MemoryStore.Upload(ctx, path, rd, size, contentType)
}

func (r *RecordingObjectStore) Delete(ctx context.Context, path string) error {
	r.mu.Lock()
	r.deletes = append(r.deletes, path)
	r.mu.Unlock()
	return r.MemoryStore.Delete(ctx, path)
}

// Uploads returns the attempted upload paths in call order.
func (r *RecordingObjectStore) Uploads() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.uploads...)
}

// Deletes returns the deleted paths in call order.
func (r *RecordingObjectStore) Deletes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.deletes...)
}
