package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"

	"loanflow/internal/loan"
)

type memoryObject struct {
	data        []byte
	contentType string
}

// MemoryStore is an in-memory implementation of loan.ObjectStore, useful for
// tests and local runs. It is safe for concurrent use.
type MemoryStore struct {
	name    string
	objects map[string]memoryObject
	mu      sync.RWMutex
}

var _ loan.ObjectStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store with the given name.
func NewMemoryStore(name string) *MemoryStore {
	return &MemoryStore{
		name:    name,
		objects: make(map[string]memoryObject),
	}
}

// Upload stores the object, replacing any existing one.
func (m *MemoryStore) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read content: %w", err)
	}
	if int64(len(data)) != size {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{data: data, contentType: contentType}
	return nil
}

// PublicURL returns memory://<name>/<path>.
func (m *MemoryStore) PublicURL(ctx context.Context, p string) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return "memory://" + m.name + "/" + key, nil
}

func (m *MemoryStore) Delete(ctx context.Context, p string) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Get writes the object's content to w.
func (m *MemoryStore) Get(p string, w io.Writer) error {
	key, err := cleanPath(p)
	if err != nil {
		return err
	}
	m.mu.RLock()
	obj, ok := m.objects[key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	if _, err := io.Copy(w, bytes.NewReader(obj.data)); err != nil {
		return fmt.Errorf("failed to write content: %w", err)
	}
	return nil
}

// ContentType returns the content type the object was uploaded with.
func (m *MemoryStore) ContentType(p string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.objects[p].contentType
}

// Paths lists every stored path in order.
func (m *MemoryStore) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
