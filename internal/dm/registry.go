package dm

import (
	"context"

	"dm-go/internal/model"
)

// Registry is the metadata store for file versions, content rows, ownership
// and operation history. It is the single source of truth for version
// ordering; nothing in the core caches version numbers across requests.
//
// Lookups that find nothing return (nil, nil) rather than ErrNotFound, in the
// same way as the rest of the persistence layer. The resolvers translate
// absence into ErrNotFound with a caller-facing message.
type Registry interface {
	// RecordUpload atomically inserts the content row, the file version and
	// the owner grant. Returns ErrDuplicateContent if the digest is already
	// recorded and ErrVersionConflict if (LogicalPath, VersionNumber) is taken.
	RecordUpload(ctx context.Context, rec *model.FileVersion, ownerID string) error

	// MaxVersion returns the highest version number for path.
	// ok is false if the path has no history.
	MaxVersion(ctx context.Context, logicalPath string) (version int64, ok bool, err error)

	// FindFileVersion returns the record for (path, version).
	FindFileVersion(ctx context.Context, logicalPath string, version int64) (*model.FileVersion, error)

	// FindFileVersionByID returns the record with the given ID.
	FindFileVersionByID(ctx context.Context, id string) (*model.FileVersion, error)

	// FindFileVersionByDigest returns the record that introduced digest.
	FindFileVersionByDigest(ctx context.Context, digest string) (*model.FileVersion, error)

	// ListFileVersions returns every record ordered by (logical path, version).
	ListFileVersions(ctx context.Context) ([]*model.FileVersion, error)

	// ListFileVersionsByOwner returns the records granted to userID ordered
	// by (logical path, version). Each record appears once.
	ListFileVersionsByOwner(ctx context.Context, userID string) ([]*model.FileVersion, error)

	// GrantOwnership links userID to a record. Granting twice is a no-op.
	// Returns ErrNotFound if the record does not exist.
	GrantOwnership(ctx context.Context, userID string, fileVersionID string) error

	// IsOwner reports whether userID has been granted the record.
	IsOwner(ctx context.Context, userID string, fileVersionID string) (bool, error)

	// Operation history

	// CreateOperation records the start of a mutating command.
	CreateOperation(ctx context.Context, operation string, parameters string) (*model.Operation, error)

	// FinishOperation stamps the finish time and status of an operation.
	FinishOperation(ctx context.Context, id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(ctx context.Context, limit int) ([]*model.Operation, error)

	// CheckMigrations verifies the schema is at the version this binary expects.
	CheckMigrations() error

	// Close closes the underlying connection.
	Close() error
}
