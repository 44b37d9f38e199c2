package staging

import (
	"io"

	"loanflow/internal/loan"
)

// stagingStore abstracts the storage mechanics for a staging area.
// Concurrency is managed by the caller (stagingArea.mu), so stores do not
// need to be safe for concurrent use. Readers returned by Open must stay
// valid after the slot is replaced or removed.
type stagingStore interface {
	// Write reads r into a pending entry. The slot keeps its current
	// content until the entry is committed.
	Write(meta loan.StagedFile, r io.Reader) (pendingFile, error)

	// Open returns the content and metadata of the slot, or nil if empty.
	Open(slot string) (io.ReadCloser, *loan.StagedFile, error)

	// Meta returns the metadata of the slot.
	Meta(slot string) (loan.StagedFile, bool)

	// Remove empties the slot (best-effort).
	Remove(slot string)

	// List returns the metadata of every occupied slot.
	List() []loan.StagedFile

	// Size returns the total bytes stored.
	Size() int64

	// Destroy removes everything and releases the store.
	Destroy() error
}

// pendingFile is content read by Write but not yet visible in its slot.
type pendingFile interface {
	// Size returns the number of bytes read.
	Size() int64

	// Commit replaces the slot's content with the entry.
	Commit() error

	// Discard drops the entry, leaving the slot untouched.
	Discard()
}
