// Package staging holds the files an applicant has picked for each document
// slot until the session submits them.
package staging

import (
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"loanflow/internal/loan"
)

// stagingArea implements loan.FileStaging using a pluggable stagingStore
// for the storage mechanics. All shared algorithm logic lives here.
type stagingArea struct {
	store   stagingStore
	limits  loan.SlotLimits
	maxSize int64

	mu       sync.Mutex
	previews map[string]string
	versions map[string]uint64
	closed   bool
	wg       sync.WaitGroup
}

var _ loan.FileStaging = (*stagingArea)(nil)

func newStagingArea(store stagingStore, limits loan.SlotLimits, maxSize int64) *stagingArea {
	return &stagingArea{
		store:    store,
		limits:   limits,
		maxSize:  maxSize,
		previews: make(map[string]string),
		versions: make(map[string]uint64),
	}
}

// Stage stores the file in the slot. Unknown slots, oversized files and a
// full area are rejections, not errors. A rejected or failed Stage leaves
// the slot's earlier file in place.
func (s *stagingArea) Stage(slot, filename, contentType string, r io.Reader, size int64) (loan.StageResult, error) {
	limit, ok := s.limits[slot]
	if !ok {
		return reject("Unknown document type: %s", slot), nil
	}
	if limit > 0 && size > limit {
		return reject("File size must be less than %s", humanSize(limit)), nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return loan.StageResult{}, fmt.Errorf("staging area closed")
	}

	var existing int64
	if prev, ok := s.store.Meta(slot); ok {
		existing = prev.Size
	}
	if size > 0 && s.store.Size()-existing+size > s.maxSize {
		return reject("Too many files uploaded; remove one and try again"), nil
	}

	// Read one byte past the limit so an understated size is caught.
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	meta := loan.StagedFile{Slot: slot, Filename: filename, ContentType: contentType, Size: size}
	pending, err := s.store.Write(meta, src)
	if err != nil {
		return loan.StageResult{}, fmt.Errorf("storing content: %w", err)
	}

	// The slot keeps its previous file until every check passes.
	n := pending.Size()
	if limit > 0 && n > limit {
		pending.Discard()
		return reject("File size must be less than %s", humanSize(limit)), nil
	}
	if size >= 0 && n != size {
		pending.Discard()
		return loan.StageResult{}, fmt.Errorf("size mismatch: declared %d, read %d", size, n)
	}
	if s.store.Size()-existing+n > s.maxSize {
		pending.Discard()
		return reject("Too many files uploaded; remove one and try again"), nil
	}
	if err := pending.Commit(); err != nil {
		return loan.StageResult{}, fmt.Errorf("storing content: %w", err)
	}

	version := s.dropLocked(slot)
	s.wg.Add(1)
	go s.renderPreview(slot, version)
	return loan.StageResult{Accepted: true}, nil
}

// dropLocked forgets the slot's preview and invalidates any preview still
// being rendered. It returns the new version.
func (s *stagingArea) dropLocked(slot string) uint64 {
	s.versions[slot]++
	delete(s.previews, slot)
	return s.versions[slot]
}

// renderPreview builds the data URL off the caller's goroutine. The result
// is kept only if the slot still holds the same file.
func (s *stagingArea) renderPreview(slot string, version uint64) {
	defer s.wg.Done()

	s.mu.Lock()
	rc, meta, err := s.store.Open(slot)
	s.mu.Unlock()
	if err != nil || rc == nil {
		return
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return
	}
	url := dataURL(meta.ContentType, data)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.versions[slot] != version {
		return
	}
	s.previews[slot] = url
}

func (s *stagingArea) Preview(slot string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	url, ok := s.previews[slot]
	return url, ok
}

func (s *stagingArea) Clear(slot string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.store.Remove(slot)
	s.dropLocked(slot)
	return nil
}

func (s *stagingArea) Open(slot string) (io.ReadCloser, *loan.StagedFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.Open(slot)
}

func (s *stagingArea) Staged() []loan.StagedFile {
	s.mu.Lock()
	files := s.store.List()
	s.mu.Unlock()
	sort.Slice(files, func(i, j int) bool { return files[i].Slot < files[j].Slot })
	return files
}

func (s *stagingArea) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.store.List() {
		s.store.Remove(f.Slot)
		s.dropLocked(f.Slot)
	}
	return nil
}

// Close waits for preview rendering to stop and destroys the store.
func (s *stagingArea) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.previews = make(map[string]string)
	return s.store.Destroy()
}

func reject(format string, args ...any) loan.StageResult {
	return loan.StageResult{Reason: fmt.Sprintf(format, args...)}
}

func dataURL(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	var b strings.Builder
	b.WriteString("data:")
	b.WriteString(contentType)
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(data))
	return b.String()
}

func humanSize(n int64) string {
	const mb = 1024 * 1024
	const kb = 1024
	switch {
	case n%mb == 0:
		return fmt.Sprintf("%dMB", n/mb)
	case n%kb == 0:
		return fmt.Sprintf("%dKB", n/kb)
	default:
		return fmt.Sprintf("%d bytes", n)
	}
}
