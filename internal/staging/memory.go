package staging

import (
	"bytes"
	"fmt"
	"io"

	"loanflow/internal/loan"
)

type memoryEntry struct {
	meta loan.StagedFile
	data []byte
}

// memoryStore keeps staged files in memory.
type memoryStore struct {
	entries map[string]*memoryEntry
	size    int64
}

var _ stagingStore = (*memoryStore)(nil)

func newMemoryStore() *memoryStore {
	return &memoryStore{entries: make(map[string]*memoryEntry)}
}

func (m *memoryStore) Write(meta loan.StagedFile, r io.Reader) (pendingFile, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	meta.Size = int64(len(data))
	return &memoryPending{store: m, entry: &memoryEntry{meta: meta, data: data}}, nil
}

type memoryPending struct {
	store *memoryStore
	entry *memoryEntry
}

func (p *memoryPending) Size() int64 { return p.entry.meta.Size }

func (p *memoryPending) Commit() error {
	p.store.Remove(p.entry.meta.Slot)
	p.store.entries[p.entry.meta.Slot] = p.entry
	p.store.size += p.entry.meta.Size
	return nil
}

func (p *memoryPending) Discard() {}

// Open returns a reader over the stored slice. Commit never mutates a stored
// slice, so the reader stays valid after the slot is replaced.
func (m *memoryStore) Open(slot string) (io.ReadCloser, *loan.StagedFile, error) {
	e, ok := m.entries[slot]
	if !ok {
		return nil, nil, nil
	}
	meta := e.meta
	return io.NopCloser(bytes.NewReader(e.data)), &meta, nil
}

func (m *memoryStore) Meta(slot string) (loan.StagedFile, bool) {
	e, ok := m.entries[slot]
	if !ok {
		return loan.StagedFile{}, false
	}
	return e.meta, true
}

func (m *memoryStore) Remove(slot string) {
	if e, ok := m.entries[slot]; ok {
		m.size -= e.meta.Size
		delete(m.entries, slot)
	}
}

func (m *memoryStore) List() []loan.StagedFile {
	out := make([]loan.StagedFile, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.meta)
	}
	return out
}

func (m *memoryStore) Size() int64 { return m.size }

func (m *memoryStore) Destroy() error {
	m.entries = make(map[string]*memoryEntry)
	m.size = 0
	return nil
}

// NewMemoryStagingArea creates an in-memory staging area.
// maxSize is the maximum total size in bytes; must be positive.
func NewMemoryStagingArea(limits loan.SlotLimits, maxSize int64) loan.FileStaging {
	return newStagingArea(newMemoryStore(), limits, maxSize)
}
