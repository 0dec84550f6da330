package testutil

import "sync"

// RecordingMetrics counts observations by name. Safe for concurrent use.
type RecordingMetrics struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{counts: make(map[string]int)}
}

func (m *RecordingMetrics) inc(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[key]++
}

func (m *RecordingMetrics) UploadFinished(outcome string)   { m.inc("upload/" + outcome) }
func (m *RecordingMetrics) DownloadFinished(outcome string) { m.inc("download/" + outcome) }
func (m *RecordingMetrics) ContentMissing()                 { m.inc("content_missing") }

// Count returns how often key was observed, e.g. "upload/created".
func (m *RecordingMetrics) Count(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}
