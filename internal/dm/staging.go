package dm

import (
	"context"
	"io"
)

// StagedContent describes an upload that has been spooled and fingerprinted.
type StagedContent struct {
	Digest string
	Size   int64
}

// StagingArea spools upload bodies before they are committed to the content
// store. Staging computes the digest while copying, so the source stream is
// read exactly once and the dedup decision can be made before any blob write.
// Identical content staged concurrently shares one spooled copy.
type StagingArea interface {
	// Stage reads r to completion, computing its digest.
	// Returns an error if the staging area would exceed its maximum size.
	Stage(ctx context.Context, r io.Reader) (*StagedContent, error)

	// Open returns a reader for staged content.
	Open(digest string) (io.ReadCloser, error)

	// Release drops one reference to staged content. The spooled copy is
	// removed once no upload references it.
	Release(digest string)

	// Size returns the total size of staged content in bytes.
	Size() (int64, error)
}
