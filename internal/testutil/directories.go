package testutil

import (
	"path/filepath"
	"testing"

	"dm-go/internal/fs"
)

// NewTestDirectoryManager creates a directory manager over a fresh temp root.
func NewTestDirectoryManager(t *testing.T) *fs.OSDirectoryManager {
	t.Helper()

	m, err := fs.NewOSDirectoryManager(filepath.Join(t.TempDir(), "storage"), nil)
	if err != nil {
		t.Fatalf("failed to create directory manager: %v", err)
	}
	return m
}
