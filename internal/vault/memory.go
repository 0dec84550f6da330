package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"dm-go/internal/dm"
)

// MemoryStore is an in-memory implementation of the ContentStore interface.
// It is useful for testing and safe for concurrent use.
type MemoryStore struct {
	content map[string][]byte // digest -> content
	mu      sync.RWMutex

	// FailPuts makes every Put fail, for exercising write-failure paths.
	FailPuts bool
}

// NewMemoryStore creates a new, empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		content: make(map[string][]byte),
	}
}

func (m *MemoryStore) Exists(ctx context.Context, digest string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.content[digest]
	return ok, nil
}

// Put stores content identified by its digest.
func (m *MemoryStore) Put(ctx context.Context, digest string, r io.Reader, size int64) error {
	if m.FailPuts {
		return fmt.Errorf("%w: memory store rejects writes", dm.ErrStorageWrite)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("%w: failed to read content: %w", dm.ErrStorageWrite, err)
	}

	if int64(len(data)) != size {
		return fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", dm.ErrStorageWrite, size, len(data))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.content[digest]; !ok {
		m.content[digest] = data
	}
	return nil
}

func (m *MemoryStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.content[digest]
	if !ok {
		return nil, fmt.Errorf("%w: content %s", dm.ErrNotFound, digest)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Delete removes a blob. Tests use it to simulate lost content.
func (m *MemoryStore) Delete(digest string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.content, digest)
}

// Len returns the number of stored blobs.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.content)
}

// ValidateSetup always succeeds for in-memory store.
func (m *MemoryStore) ValidateSetup(ctx context.Context) error {
	return nil
}

// Compile-time check that MemoryStore implements dm.ContentStore interface
var _ dm.ContentStore = (*MemoryStore)(nil)
