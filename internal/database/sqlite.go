package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3" // SQLite driver

	"dm-go/internal/database/migrations"
	"dm-go/internal/dm"
	"dm-go/internal/model"
)

// SQLiteDatabase implements the dm.Registry interface using SQLite.
type SQLiteDatabase struct {
	db   *sql.DB
	path string
}

// NewSQLiteDatabase creates a new SQLite database connection.
// path can be a file path or ":memory:" for in-memory database.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	return &SQLiteDatabase{
		db:   db,
		path: path,
	}, nil
}

// NewSQLiteDatabaseFromDB wraps an existing database connection.
// The caller is responsible for ensuring the connection is properly configured.
func NewSQLiteDatabaseFromDB(db *sql.DB) *SQLiteDatabase {
	return &SQLiteDatabase{
		db:   db,
		path: "",
	}
}

// OpenConnection opens and configures a SQLite database connection.
// PRAGMAs are passed in the DSN so that every pooled connection gets them.
// path can be a file path or ":memory:" for in-memory database.
func OpenConnection(path string) (*sql.DB, error) {
	params := "_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"

	var dsn string
	if path == ":memory:" {
		dsn = "file::memory:?" + params
	} else {
		dsn = "file:" + path + "?" + params + "&_journal_mode=WAL&_synchronous=NORMAL"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each connection to :memory: would otherwise see its own empty database
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

const fileVersionColumns = "id, logical_path, version_number, digest, original_name, size, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFileVersion(row rowScanner) (*model.FileVersion, error) {
	var (
		rec    model.FileVersion
		digest sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.LogicalPath, &rec.VersionNumber, &digest, &rec.OriginalName, &rec.Size, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Digest = digest.String
	return &rec, nil
}

func (s *SQLiteDatabase) queryFileVersions(ctx context.Context, query string, args ...any) ([]*model.FileVersion, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*model.FileVersion
	for rows.Next() {
		rec, err := scanFileVersion(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}

func (s *SQLiteDatabase) findFileVersion(ctx context.Context, where string, args ...any) (*model.FileVersion, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+fileVersionColumns+" FROM file_versions WHERE "+where, args...)
	rec, err := scanFileVersion(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not found
		}
		return nil, err
	}
	return rec, nil
}

// File version operations

// RecordUpload inserts the content row, the file version and the owner grant
// in a single transaction.
func (s *SQLiteDatabase) RecordUpload(ctx context.Context, rec *model.FileVersion, ownerID string) error {
	if rec.Digest == "" {
		return fmt.Errorf("%w: file version without content", dm.ErrInvalidInput)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	createdAt := rec.CreatedAt.UTC()

	_, err = tx.ExecContext(ctx,
		"INSERT INTO contents (id, size, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING",
		rec.Digest, rec.Size, createdAt)
	if err != nil {
		return fmt.Errorf("inserting content: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO file_versions ("+fileVersionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		rec.ID, rec.LogicalPath, rec.VersionNumber, rec.Digest, rec.OriginalName, rec.Size, createdAt)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "file_versions.digest") {
				return fmt.Errorf("%w: %s", dm.ErrDuplicateContent, rec.Digest)
			}
			return fmt.Errorf("%w: %s version %d", dm.ErrVersionConflict, rec.LogicalPath, rec.VersionNumber)
		}
		return fmt.Errorf("inserting file version: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		"INSERT INTO ownerships (user_id, file_version_id, created_at) VALUES (?, ?, ?)",
		ownerID, rec.ID, createdAt)
	if err != nil {
		return fmt.Errorf("granting owner: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) MaxVersion(ctx context.Context, logicalPath string) (int64, bool, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		"SELECT MAX(version_number) FROM file_versions WHERE logical_path = ?", logicalPath).Scan(&version)
	if err != nil {
		return 0, false, fmt.Errorf("finding max version: %w", err)
	}
	return version.Int64, version.Valid, nil
}

func (s *SQLiteDatabase) FindFileVersion(ctx context.Context, logicalPath string, version int64) (*model.FileVersion, error) {
	rec, err := s.findFileVersion(ctx, "logical_path = ? AND version_number = ?", logicalPath, version)
	if err != nil {
		return nil, fmt.Errorf("finding file version: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) FindFileVersionByID(ctx context.Context, id string) (*model.FileVersion, error) {
	rec, err := s.findFileVersion(ctx, "id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("finding file version by id: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) FindFileVersionByDigest(ctx context.Context, digest string) (*model.FileVersion, error) {
	rec, err := s.findFileVersion(ctx, "digest = ?", digest)
	if err != nil {
		return nil, fmt.Errorf("finding file version by digest: %w", err)
	}
	return rec, nil
}

func (s *SQLiteDatabase) ListFileVersions(ctx context.Context) ([]*model.FileVersion, error) {
	recs, err := s.queryFileVersions(ctx,
		"SELECT "+fileVersionColumns+" FROM file_versions ORDER BY logical_path, version_number")
	if err != nil {
		return nil, fmt.Errorf("listing file versions: %w", err)
	}
	return recs, nil
}

func (s *SQLiteDatabase) ListFileVersionsByOwner(ctx context.Context, userID string) ([]*model.FileVersion, error) {
	recs, err := s.queryFileVersions(ctx, `
		SELECT `+fileVersionColumns+` FROM file_versions
		WHERE id IN (SELECT file_version_id FROM ownerships WHERE user_id = ?)
		ORDER BY logical_path, version_number`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing file versions for owner: %w", err)
	}
	return recs, nil
}

// Ownership operations

func (s *SQLiteDatabase) GrantOwnership(ctx context.Context, userID string, fileVersionID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ownerships (user_id, file_version_id, created_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id, file_version_id) DO NOTHING`,
		userID, fileVersionID, time.Now().UTC())
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintForeignKey {
			return fmt.Errorf("%w: no file version with id %s", dm.ErrNotFound, fileVersionID)
		}
		return fmt.Errorf("granting ownership: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) IsOwner(ctx context.Context, userID string, fileVersionID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM ownerships WHERE user_id = ? AND file_version_id = ?",
		userID, fileVersionID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking ownership: %w", err)
	}
	return n > 0, nil
}

// Operation tracking

func (s *SQLiteDatabase) CreateOperation(ctx context.Context, operation string, parameters string) (*model.Operation, error) {
	op := &model.Operation{
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
		Status:     "running",
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT INTO operations (operation, parameters, started_at, status) VALUES (?, ?, ?, ?)",
		op.Operation, op.Parameters, op.StartedAt, op.Status)
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	op.ID, err = res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	return op, nil
}

func (s *SQLiteDatabase) FinishOperation(ctx context.Context, id int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE operations SET finished_at = ?, status = ? WHERE id = ?",
		time.Now().UTC(), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(ctx context.Context, limit int) ([]*model.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, operation, parameters, started_at, finished_at, status
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var result []*model.Operation
	for rows.Next() {
		var (
			op       model.Operation
			finished sql.NullTime
		)
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.StartedAt, &finished, &op.Status); err != nil {
			return nil, fmt.Errorf("listing operations: %w", err)
		}
		if finished.Valid {
			t := finished.Time
			op.FinishedAt = &t
		}
		result = append(result, &op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return result, nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// MigrateUp brings the schema to the latest version.
func (s *SQLiteDatabase) MigrateUp() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	_, err := s.db.Exec("VACUUM INTO ?", destPath)
	if err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// Compile-time check that SQLiteDatabase implements dm.Registry interface
var _ dm.Registry = (*SQLiteDatabase)(nil)
