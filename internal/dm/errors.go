package dm

import "errors"

// Error taxonomy shared by the core and its adapters. Callers classify
// failures with errors.Is; every layer wraps with fmt.Errorf("...: %w").
var (
	// ErrInvalidInput covers missing paths, missing content, missing users
	// and negative versions.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidPath is returned when a user-supplied path would resolve
	// outside the storage root.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidName is returned for directory names that cannot be created.
	ErrInvalidName = errors.New("invalid name")

	// ErrAlreadyExists is returned when a directory is already present.
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotFound covers missing versions, missing records and records whose
	// content cannot be retrieved.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateContent signals that a digest is already recorded.
	// The service reports it as an UploadResult status, not as a failure.
	ErrDuplicateContent = errors.New("duplicate content")

	// ErrVersionConflict is returned by the registry when another writer
	// took the same (logical path, version number) pair first.
	ErrVersionConflict = errors.New("version conflict")

	// ErrStorageWrite wraps device errors while persisting a blob.
	ErrStorageWrite = errors.New("storage write failure")

	// ErrIO wraps read failures on the upload source.
	ErrIO = errors.New("i/o failure")
)
