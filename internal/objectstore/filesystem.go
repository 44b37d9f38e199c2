package objectstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"loanflow/internal/loan"
)

// FileSystemStore is a filesystem-based implementation of loan.ObjectStore.
// Objects are stored as files under root, keeping their slash-separated
// paths as directories:
//
//	<root>/
//	  personalLoans/<uid>/<slot>/<filename>
type FileSystemStore struct {
	name    string
	root    string
	baseURL string
}

var _ loan.ObjectStore = (*FileSystemStore)(nil)

// NewFileSystemStore creates a store rooted at root. URLs are built from
// baseURL when set, otherwise they are file:// URLs.
func NewFileSystemStore(name, root, baseURL string) (*FileSystemStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving object store root: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("failed to create object store root: %w", err)
	}
	return &FileSystemStore{name: name, root: abs, baseURL: baseURL}, nil
}

func (s *FileSystemStore) localPath(p string) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

// Upload writes the object atomically (temp file + rename).
func (s *FileSystemStore) Upload(ctx context.Context, p string, r io.Reader, size int64, contentType string) error {
	dest, err := s.localPath(p)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create object directory: %w", err)
	}
	return writeFile(dest, r, size)
}

func (s *FileSystemStore) PublicURL(ctx context.Context, p string) (string, error) {
	key, err := cleanPath(p)
	if err != nil {
		return "", err
	}
	if s.baseURL != "" {
		return joinURL(s.baseURL, key), nil
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(filepath.Join(s.root, filepath.FromSlash(key)))}
	return u.String(), nil
}

func (s *FileSystemStore) Delete(ctx context.Context, p string) error {
	dest, err := s.localPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// Get writes the object's content to w.
func (s *FileSystemStore) Get(p string, w io.Writer) error {
	src, err := s.localPath(p)
	if err != nil {
		return err
	}
	f, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}
	return nil
}

// writeFile writes data from r to destPath using atomic write (temp file + rename).
func writeFile(destPath string, r io.Reader, expectedSize int64) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(destPath), ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmpFile, r)
	if err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != expectedSize {
		return fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
