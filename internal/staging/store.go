package staging

import "io"

// pendingContent is spooled content that has not yet been published in the
// store. It is owned by a single Stage call until Commit or Discard.
type pendingContent struct {
	checksum string
	size     int64
	data     []byte // memory store
	tmpPath  string // filesystem store
}

// stagingStore abstracts the storage mechanics for a staging area.
// Spool and Discard touch no shared state and may run concurrently; every
// other method is called with stagingArea.mu held, so stores do not need
// their own locking.
type stagingStore interface {
	// Spool reads r to completion, computing SHA-256 while copying.
	Spool(r io.Reader) (*pendingContent, error)

	// Commit publishes pending content under its checksum.
	Commit(p *pendingContent) error

	// Discard drops pending content that will not be committed (best-effort).
	Discard(p *pendingContent)

	// RemoveContent removes stored content by checksum (best-effort).
	RemoveContent(checksum string)

	// OpenContent returns a reader for stored content by checksum.
	OpenContent(checksum string) (io.ReadCloser, error)

	// ContentSize returns total bytes of all stored content.
	ContentSize() (int64, error)

	// Close removes everything the store holds.
	Close() error
}
