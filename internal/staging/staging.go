package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"dm-go/internal/dm"
)

// ErrFull is returned when staging an upload would exceed the configured
// maximum total size. It is transient: in-flight uploads release space.
var ErrFull = errors.New("staging area full")

// stagingArea implements dm.StagingArea using a pluggable stagingStore
// for the storage mechanics. All shared algorithm logic lives here.
type stagingArea struct {
	store   stagingStore
	maxSize int64
	mu      sync.Mutex
	refs    map[string]int // checksum -> uploads referencing it
}

var (
	_ dm.StagingArea = (*stagingArea)(nil)
	_ io.Closer      = (*stagingArea)(nil)
)

func newStagingArea(store stagingStore, maxSize int64) *stagingArea {
	return &stagingArea{
		store:   store,
		maxSize: maxSize,
		refs:    make(map[string]int),
	}
}

// Stage spools r and returns its digest and size.
func (s *stagingArea) Stage(ctx context.Context, r io.Reader) (*dm.StagedContent, error) {
	// Read at most one byte past the limit so oversize uploads are detected
	// without spooling them entirely.
	src := &contextReader{ctx: ctx, r: io.LimitReader(r, s.maxSize+1)}

	p, err := s.store.Spool(src)
	if err != nil {
		return nil, fmt.Errorf("spooling content: %w", err)
	}
	if p.size > s.maxSize {
		s.store.Discard(p)
		return nil, fmt.Errorf("%w: content exceeds staging limit of %d bytes", dm.ErrInvalidInput, s.maxSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs[p.checksum] > 0 {
		// Same content is already staged by another upload.
		s.store.Discard(p)
	} else {
		current, err := s.store.ContentSize()
		if err != nil {
			s.store.Discard(p)
			return nil, fmt.Errorf("getting current size: %w", err)
		}
		if current+p.size > s.maxSize {
			s.store.Discard(p)
			return nil, fmt.Errorf("%w: would exceed max size of %d bytes", ErrFull, s.maxSize)
		}
		if err := s.store.Commit(p); err != nil {
			s.store.Discard(p)
			return nil, fmt.Errorf("committing staged content: %w", err)
		}
	}
	s.refs[p.checksum]++

	return &dm.StagedContent{Digest: p.checksum, Size: p.size}, nil
}

// Open returns a reader for staged content.
func (s *stagingArea) Open(digest string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.refs[digest] == 0 {
		return nil, fmt.Errorf("content not staged: %s", digest)
	}
	return s.store.OpenContent(digest)
}

// Release drops one reference and removes the content at zero.
func (s *stagingArea) Release(digest string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.refs[digest]
	if n == 0 {
		return
	}
	if n == 1 {
		delete(s.refs, digest)
		s.store.RemoveContent(digest)
		return
	}
	s.refs[digest] = n - 1
}

// Size returns the total size of staged content in bytes.
func (s *stagingArea) Size() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store.ContentSize()
}

// Close drops all staged content. The area must not be used afterwards.
func (s *stagingArea) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clear(s.refs)
	return s.store.Close()
}

// contextReader stops reading once ctx is done, so an abandoned upload
// does not keep spooling.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
