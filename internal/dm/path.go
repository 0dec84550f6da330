package dm

import (
	"fmt"
	"path"
	"strings"
)

// SafePath is a user-supplied path that has been resolved against a storage
// root and verified not to escape it. SafePath values are created by
// DirectoryManager.Resolve.
type SafePath struct {
	absPath string
	relPath string
}

// NewSafePath creates a SafePath from its components.
// This is primarily for use by DirectoryManager implementations.
func NewSafePath(absPath, relPath string) *SafePath {
	return &SafePath{absPath: absPath, relPath: relPath}
}

// String returns the absolute path.
func (p *SafePath) String() string {
	return p.absPath
}

// Rel returns the slash-separated path relative to the root, "." for the root.
func (p *SafePath) Rel() string {
	return p.relPath
}

// IsRoot reports whether the path is the storage root itself.
func (p *SafePath) IsRoot() bool {
	return p.relPath == "."
}

// CleanLogicalPath normalizes a logical path to the form stored in the
// registry: slash-separated, cleaned, relative. It fails with ErrInvalidInput
// for empty paths and ErrInvalidPath for absolute paths or paths that climb
// out of the namespace.
func CleanLogicalPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", fmt.Errorf("%w: path is required", ErrInvalidInput)
	}
	if strings.ContainsRune(p, 0) {
		return "", fmt.Errorf("%w: path contains NUL byte", ErrInvalidInput)
	}
	if path.IsAbs(p) {
		return "", fmt.Errorf("%w: absolute path %q", ErrInvalidPath, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: %q escapes the storage root", ErrInvalidPath, p)
	}
	return cleaned, nil
}

// baseName returns the last element of a logical path.
func baseName(logicalPath string) string {
	return path.Base(logicalPath)
}
