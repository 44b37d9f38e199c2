package loan

import "io"

// StageResult reports whether a file was accepted into a slot.
// Rejections carry a user-facing reason and are not errors.
type StageResult struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// StagedFile describes the file held in a slot.
type StagedFile struct {
	Slot        string `json:"slot"`
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
}

// SlotLimits maps the slots a staging area accepts to their max size in
// bytes. Zero means unbounded.
type SlotLimits map[string]int64

// FileStaging holds at most one pending file per slot for one session until
// it is submitted. Implementations are safe for concurrent use.
type FileStaging interface {
	// Stage reads the file from r into the slot, replacing any earlier file.
	// size is the declared length; a negative size means unknown.
	Stage(slot, filename, contentType string, r io.Reader, size int64) (StageResult, error)

	// Preview returns the data URL preview of the slot once it is ready.
	Preview(slot string) (string, bool)

	// Clear empties the slot.
	Clear(slot string) error

	// Open returns the staged content of the slot, or nil if it is empty.
	Open(slot string) (io.ReadCloser, *StagedFile, error)

	// Staged lists the occupied slots ordered by slot name.
	Staged() []StagedFile

	// Reset empties every slot.
	Reset() error

	// Close empties every slot and releases the area's resources.
	Close() error
}

// StagingFactory creates one staging area per session.
type StagingFactory interface {
	NewArea(sessionID string, limits SlotLimits) (FileStaging, error)
}
