package migrations

import (
	"database/sql"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

func TestMigrateUp_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	err := MigrateUp(db)
	if err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Verify tables were created
	tables := []string{"contents", "file_versions", "ownerships", "operations", "schema_migrations"}
	for _, table := range tables {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("Table %s was not created: %v", table, err)
		}
	}
}

func TestCheckDBMigrationStatus_FreshDatabase(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Fresh database should need migration
	err := CheckDBMigrationStatus(db)
	if err == nil {
		t.Error("CheckDBMigrationStatus() expected error for fresh database, got nil")
	}

	// Error should mention needing migration
	if err.Error() != "database has no schema version (needs migration)" {
		t.Errorf("CheckDBMigrationStatus() error = %q, want error about needing migration", err.Error())
	}
}

func TestCheckDBMigrationStatus_AfterMigration(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Migrate up
	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// Status should be OK now
	err := CheckDBMigrationStatus(db)
	if err != nil {
		t.Errorf("CheckDBMigrationStatus() after migration returned error: %v", err)
	}
}

func TestMigrateUp_Idempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	// Run migration twice
	if err := MigrateUp(db); err != nil {
		t.Fatalf("First MigrateUp() failed: %v", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Errorf("Second MigrateUp() failed: %v (should be idempotent)", err)
	}

	// Status should still be OK
	if err := CheckDBMigrationStatus(db); err != nil {
		t.Errorf("CheckDBMigrationStatus() after double migration returned error: %v", err)
	}
}

func TestForeignKeyConstraints(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	// A file version pointing at unknown content must be rejected
	_, err := db.Exec(`
		INSERT INTO file_versions (id, logical_path, version_number, digest, original_name, size, created_at)
		VALUES ('fv-1', 'a.txt', 0, 'missing-digest', 'a.txt', 1, datetime('now'))
	`)
	if err == nil {
		t.Error("Expected foreign key constraint violation, but insert succeeded")
	}
}

func TestSchema_Contents(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	checksum := "abc123def456"
	_, err := db.Exec("INSERT INTO contents (id, size, created_at) VALUES (?, 3, datetime('now'))", checksum)
	if err != nil {
		t.Fatalf("Failed to insert content: %v", err)
	}

	var id string
	err = db.QueryRow("SELECT id FROM contents WHERE id = ?", checksum).Scan(&id)
	if err != nil {
		t.Errorf("Failed to retrieve content: %v", err)
	}

	if id != checksum {
		t.Errorf("Retrieved content id = %q, want %q", id, checksum)
	}
}

func TestSchema_FileVersionUniqueness(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	mustExec := func(q string) {
		t.Helper()
		if _, err := db.Exec(q); err != nil {
			t.Fatalf("Exec(%q) failed: %v", q, err)
		}
	}
	mustExec("INSERT INTO contents (id, size, created_at) VALUES ('d1', 1, datetime('now'))")
	mustExec("INSERT INTO contents (id, size, created_at) VALUES ('d2', 1, datetime('now'))")
	mustExec(`INSERT INTO file_versions (id, logical_path, version_number, digest, original_name, size, created_at)
		VALUES ('fv-1', 'a.txt', 0, 'd1', 'a.txt', 1, datetime('now'))`)

	tests := []struct {
		name  string
		query string
	}{
		{
			name: "same path and version",
			query: `INSERT INTO file_versions (id, logical_path, version_number, digest, original_name, size, created_at)
				VALUES ('fv-2', 'a.txt', 0, 'd2', 'a.txt', 1, datetime('now'))`,
		},
		{
			name: "same digest under another path",
			query: `INSERT INTO file_versions (id, logical_path, version_number, digest, original_name, size, created_at)
				VALUES ('fv-3', 'b.txt', 0, 'd1', 'b.txt', 1, datetime('now'))`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := db.Exec(tt.query); err == nil {
				t.Error("Expected unique constraint violation, but insert succeeded")
			}
		})
	}
}

// openTestDB opens an in-memory SQLite database for testing.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	// Every pooled connection to :memory: is a separate database
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		t.Fatalf("Failed to enable foreign keys: %v", err)
	}

	return db
}

func TestLatestVersion(t *testing.T) {
	got, err := LatestVersion()
	if err != nil {
		t.Fatalf("LatestVersion() error = %v", err)
	}
	if got != 1 {
		t.Errorf("LatestVersion() = %d, want 1", got)
	}
}

func TestCurrentVersion(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	if _, _, err := CurrentVersion(db); !errors.Is(err, ErrNoSchema) {
		t.Fatalf("CurrentVersion() on fresh database error = %v, want ErrNoSchema", err)
	}

	if err := MigrateUp(db); err != nil {
		t.Fatalf("MigrateUp() failed: %v", err)
	}

	version, dirty, err := CurrentVersion(db)
	if err != nil {
		t.Fatalf("CurrentVersion() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("CurrentVersion() = %d dirty=%v, want 1 clean", version, dirty)
	}
}
