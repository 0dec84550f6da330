package testutil

import (
	"dm-go/internal/vault"
)

// NewTestStore creates a new in-memory content store for testing.
// The concrete type is returned so tests can delete blobs or fail writes.
func NewTestStore() *vault.MemoryStore {
	return vault.NewMemoryStore()
}
