package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"loanflow/internal/loan"
)

// filesystemStore keeps staged files on disk, one file per slot:
//
//	<staging_dir>/<session_id>/<slot>
//
// Metadata stays in memory; the directory is removed on Destroy.
type filesystemStore struct {
	dir     string
	entries map[string]loan.StagedFile
	size    int64
}

var _ stagingStore = (*filesystemStore)(nil)

func newFilesystemStore(dir string) (*filesystemStore, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}
	return &filesystemStore{dir: dir, entries: make(map[string]loan.StagedFile)}, nil
}

func (f *filesystemStore) slotPath(slot string) string {
	return filepath.Join(f.dir, slot)
}

// Write copies r into a temp file. Commit renames it over the slot so an
// open reader of the previous content keeps its own inode.
func (f *filesystemStore) Write(meta loan.StagedFile, r io.Reader) (pendingFile, error) {
	tmp, err := os.CreateTemp(f.dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return nil, fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return nil, fmt.Errorf("closing temp file: %w", err)
	}
	meta.Size = n
	return &filesystemPending{store: f, meta: meta, tmpName: tmpName}, nil
}

type filesystemPending struct {
	store   *filesystemStore
	meta    loan.StagedFile
	tmpName string
}

func (p *filesystemPending) Size() int64 { return p.meta.Size }

func (p *filesystemPending) Commit() error {
	f := p.store
	if err := os.Rename(p.tmpName, f.slotPath(p.meta.Slot)); err != nil {
		os.Remove(p.tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	if prev, ok := f.entries[p.meta.Slot]; ok {
		f.size -= prev.Size
	}
	f.entries[p.meta.Slot] = p.meta
	f.size += p.meta.Size
	return nil
}

func (p *filesystemPending) Discard() {
	os.Remove(p.tmpName)
}

func (f *filesystemStore) Open(slot string) (io.ReadCloser, *loan.StagedFile, error) {
	meta, ok := f.entries[slot]
	if !ok {
		return nil, nil, nil
	}
	file, err := os.Open(f.slotPath(slot))
	if err != nil {
		return nil, nil, fmt.Errorf("opening staged file: %w", err)
	}
	return file, &meta, nil
}

func (f *filesystemStore) Meta(slot string) (loan.StagedFile, bool) {
	meta, ok := f.entries[slot]
	return meta, ok
}

func (f *filesystemStore) Remove(slot string) {
	meta, ok := f.entries[slot]
	if !ok {
		return
	}
	os.Remove(f.slotPath(slot))
	f.size -= meta.Size
	delete(f.entries, slot)
}

func (f *filesystemStore) List() []loan.StagedFile {
	out := make([]loan.StagedFile, 0, len(f.entries))
	for _, meta := range f.entries {
		out = append(out, meta)
	}
	return out
}

func (f *filesystemStore) Size() int64 { return f.size }

func (f *filesystemStore) Destroy() error {
	f.entries = make(map[string]loan.StagedFile)
	f.size = 0
	if err := os.RemoveAll(f.dir); err != nil {
		return fmt.Errorf("removing staging directory: %w", err)
	}
	return nil
}

// NewFileSystemStagingArea creates a staging area under stagingDir/sessionID.
// maxSize is the maximum total size in bytes; must be positive.
func NewFileSystemStagingArea(stagingDir, sessionID string, limits loan.SlotLimits, maxSize int64) (loan.FileStaging, error) {
	store, err := newFilesystemStore(filepath.Join(stagingDir, sessionID))
	if err != nil {
		return nil, err
	}
	return newStagingArea(store, limits, maxSize), nil
}
