// Package objectstore implements loan.ObjectStore backends: in memory, on the
// local filesystem and in S3.
package objectstore

import (
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when reading an object that does not exist.
var ErrNotFound = errors.New("object not found")

// cleanPath validates an object path and returns it in canonical form.
// Absolute paths and paths escaping the store root are rejected.
func cleanPath(p string) (string, error) {
	if p == "" || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("invalid object path %q", p)
	}
	return c, nil
}

// joinURL appends an object path to a base URL.
func joinURL(base, p string) string {
	return strings.TrimRight(base, "/") + "/" + p
}
