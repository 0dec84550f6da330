package staging

import (
	"bytes"
	"fmt"
	"io"

	"dm-go/internal/dm"
)

// memoryStore keeps staged content in memory. Useful for tests and small
// deployments.
type memoryStore struct {
	content map[string][]byte
}

// NewMemoryStagingArea creates a new in-memory staging area.
// maxSize is the maximum total size in bytes; must be positive.
// This implementation is safe for concurrent use.
func NewMemoryStagingArea(maxSize int64) dm.StagingArea {
	return newStagingArea(&memoryStore{content: make(map[string][]byte)}, maxSize)
}

func (m *memoryStore) Spool(r io.Reader) (*pendingContent, error) {
	d := dm.NewDigester(r)
	data, err := io.ReadAll(d)
	if err != nil {
		return nil, err
	}
	return &pendingContent{checksum: d.Digest(), size: d.Size(), data: data}, nil
}

func (m *memoryStore) Commit(p *pendingContent) error {
	if _, ok := m.content[p.checksum]; !ok {
		m.content[p.checksum] = p.data
	}
	return nil
}

func (m *memoryStore) Discard(p *pendingContent) {
	p.data = nil
}

func (m *memoryStore) RemoveContent(checksum string) {
	delete(m.content, checksum)
}

func (m *memoryStore) OpenContent(checksum string) (io.ReadCloser, error) {
	data, ok := m.content[checksum]
	if !ok {
		return nil, fmt.Errorf("content not found: %s", checksum)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) ContentSize() (int64, error) {
	var total int64
	for _, data := range m.content {
		total += int64(len(data))
	}
	return total, nil
}

func (m *memoryStore) Close() error {
	clear(m.content)
	return nil
}
