package testutil

import (
	"testing"

	"dm-go/internal/database"
	"dm-go/internal/dm"
)

// NewTestDatabase creates a new in-memory SQLite registry with migrations applied.
// The database is automatically closed when the test completes.
func NewTestDatabase(t *testing.T) dm.Registry {
	t.Helper()

	db, err := database.NewSQLiteDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	if err := db.MigrateUp(); err != nil {
		db.Close()
		t.Fatalf("failed to apply migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}
