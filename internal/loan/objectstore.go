package loan

import (
	"context"
	"io"
)

// ObjectStore holds uploaded applicant documents.
// Paths are slash-separated, e.g. personalLoans/<uid>/aadharFront/front.jpg.
type ObjectStore interface {
	// Upload stores the object at path, replacing any existing one.
	// size is the number of bytes that will be read from r.
	Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) error

	// PublicURL returns a URL the back office can use to fetch the object.
	PublicURL(ctx context.Context, path string) (string, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, path string) error
}
