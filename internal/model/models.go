package model

import "time"

// Content represents a blob in the content store.
// The ID is the SHA-256 checksum of the content itself.
type Content struct {
	ID        string // SHA-256 checksum (not a UUID)
	Size      int64
	CreatedAt time.Time
}

// FileVersion is one accepted upload of a logical path.
type FileVersion struct {
	ID            string // UUID
	LogicalPath   string // Name or directory-qualified name chosen by the uploader
	VersionNumber int64  // 0 for the first upload of LogicalPath
	Digest        string // Foreign key to Content; empty only for legacy rows
	OriginalName  string // Filename used when the content is transferred back
	Size          int64
	CreatedAt     time.Time
}

// HasContent reports whether the record references a blob.
func (f *FileVersion) HasContent() bool {
	return f.Digest != ""
}

// Ownership links a user to a file version they may see.
type Ownership struct {
	UserID        string
	FileVersionID string // Foreign key to FileVersion
	CreatedAt     time.Time
}

// Operation tracks a mutating command (upload, mkdir, grant).
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	StartedAt  time.Time
	FinishedAt *time.Time
	Status     string
}
