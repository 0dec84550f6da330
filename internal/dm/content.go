package dm

import (
	"context"
	"io"
)

// ContentStore provides content-addressable blob storage.
// Blobs are keyed by their digest and never mutated once published.
// All operations stream so large files are never loaded entirely into memory.
type ContentStore interface {
	// Exists reports whether a blob with the given digest is stored.
	Exists(ctx context.Context, digest string) (bool, error)

	// Put stores the blob read from r under digest.
	// The operation is idempotent: storing a digest that is already present
	// succeeds without rewriting it. size is the number of bytes in r.
	// A failed Put never leaves a partial blob visible. Failures wrap
	// ErrStorageWrite.
	Put(ctx context.Context, digest string, r io.Reader, size int64) error

	// Open returns a reader for the blob. Returns ErrNotFound if absent.
	Open(ctx context.Context, digest string) (io.ReadCloser, error)

	// ValidateSetup verifies that the store is accessible and properly configured.
	ValidateSetup(ctx context.Context) error
}
