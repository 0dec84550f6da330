package database

import (
	"fmt"
	"os"
	"path/filepath"

	"dm-go/internal/config"
	"dm-go/internal/dm"
)

// DatabaseFileName is the sqlite file created under data_dir.
const DatabaseFileName = "dm.db"

// NewDatabaseFromConfig creates a Registry implementation based on the database
// config type. The schema is migrated to the latest version before returning.
func NewDatabaseFromConfig(cfg config.DatabaseConfig) (dm.Registry, error) {
	var path string
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data_dir: %w", err)
		}
		path = filepath.Join(cfg.DataDir, DatabaseFileName)
	case "memory":
		path = ":memory:"
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}

	db, err := NewSQLiteDatabase(path)
	if err != nil {
		return nil, err
	}
	if err := db.MigrateUp(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return db, nil
}
