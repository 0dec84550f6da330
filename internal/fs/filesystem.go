package fs

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"dm-go/internal/dm"
)

// OSDirectoryManager is the real filesystem implementation of
// dm.DirectoryManager. Every user path is resolved against the storage root,
// and symlinks are evaluated so a link cannot lead outside it.
type OSDirectoryManager struct {
	root     string // real (symlink-free) absolute storage root
	reserved *ReservedMatcher
}

// NewOSDirectoryManager creates a directory manager for root, creating root
// if needed. Additional reserved patterns are added to the defaults.
func NewOSDirectoryManager(root string, reserved []string) (*OSDirectoryManager, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, fmt.Errorf("resolving storage root: %w", err)
	}
	return &OSDirectoryManager{
		root:     resolved,
		reserved: NewReservedMatcher(reserved),
	}, nil
}

// Root returns the resolved storage root.
func (m *OSDirectoryManager) Root() string {
	return m.root
}

// Resolve validates a user path and returns it as a SafePath under the root.
// An empty path or "." is the root itself.
func (m *OSDirectoryManager) Resolve(userPath string) (*dm.SafePath, error) {
	if strings.ContainsRune(userPath, 0) {
		return nil, fmt.Errorf("%w: path contains NUL byte", dm.ErrInvalidPath)
	}
	slashed := filepath.ToSlash(userPath)
	if path.IsAbs(slashed) || filepath.IsAbs(userPath) || filepath.VolumeName(userPath) != "" {
		return nil, fmt.Errorf("%w: absolute path %q", dm.ErrInvalidPath, userPath)
	}

	rel := path.Clean(slashed)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("%w: %q escapes the storage root", dm.ErrInvalidPath, userPath)
	}
	if rel == "." {
		return dm.NewSafePath(m.root, "."), nil
	}

	segments := strings.Split(rel, "/")
	if dm.ValidDigest(segments[0]) {
		return nil, fmt.Errorf("%w: %q collides with stored content", dm.ErrInvalidPath, userPath)
	}
	for i := range segments {
		if m.reserved.Match(strings.Join(segments[:i+1], "/")) {
			return nil, fmt.Errorf("%w: %q is reserved", dm.ErrInvalidPath, userPath)
		}
	}

	abs := filepath.Join(m.root, filepath.FromSlash(rel))
	if err := m.checkRealPath(abs); err != nil {
		return nil, err
	}
	return dm.NewSafePath(abs, rel), nil
}

// checkRealPath evaluates symlinks on the deepest existing ancestor of abs
// and fails if the real location is outside the root.
func (m *OSDirectoryManager) checkRealPath(abs string) error {
	existing := abs
	for {
		if _, err := os.Lstat(existing); err == nil {
			break
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", existing, err)
		}
		parent := filepath.Dir(existing)
		if parent == existing {
			break
		}
		existing = parent
	}

	resolved, err := filepath.EvalSymlinks(existing)
	if err != nil {
		return fmt.Errorf("%w: resolving symlinks: %w", dm.ErrInvalidPath, err)
	}
	if !within(m.root, resolved) {
		return fmt.Errorf("%w: path leaves the storage root through a symlink", dm.ErrInvalidPath)
	}
	return nil
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// MakeDirectory creates name inside parent and returns the created path
// relative to the root. The parent must already exist.
func (m *OSDirectoryManager) MakeDirectory(parent string, name string) (string, error) {
	if err := m.validateName(name); err != nil {
		return "", err
	}

	parentPath, err := m.Resolve(parent)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(parentPath.String())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: parent directory %s", dm.ErrNotFound, parentPath.Rel())
		}
		return "", fmt.Errorf("stat parent directory: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: parent %s is not a directory", dm.ErrInvalidPath, parentPath.Rel())
	}

	target, err := m.Resolve(path.Join(parentPath.Rel(), name))
	if err != nil {
		return "", err
	}

	if err := os.Mkdir(target.String(), 0755); err != nil {
		if errors.Is(err, os.ErrExist) {
			return "", fmt.Errorf("%w: %s", dm.ErrAlreadyExists, target.Rel())
		}
		return "", fmt.Errorf("creating directory: %w", err)
	}
	return target.Rel(), nil
}

func (m *OSDirectoryManager) validateName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return fmt.Errorf("%w: name is required", dm.ErrInvalidName)
	case strings.ContainsAny(name, "/\\\x00"):
		return fmt.Errorf("%w: %q contains a separator", dm.ErrInvalidName, name)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", dm.ErrInvalidName, name)
	case dm.ValidDigest(name):
		return fmt.Errorf("%w: %q looks like a content digest", dm.ErrInvalidName, name)
	case m.reserved.Match(name):
		return fmt.Errorf("%w: %q is reserved", dm.ErrInvalidName, name)
	}
	return nil
}

// EnsureDirectory creates the directory and any missing parents. The path is
// checked again because the tree may have changed since it was resolved.
func (m *OSDirectoryManager) EnsureDirectory(p *dm.SafePath) error {
	if p.IsRoot() {
		return nil
	}
	if _, err := m.Resolve(p.Rel()); err != nil {
		return err
	}
	if err := os.MkdirAll(p.String(), 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", p.Rel(), err)
	}
	return nil
}

// Compile-time check that OSDirectoryManager implements dm.DirectoryManager interface
var _ dm.DirectoryManager = (*OSDirectoryManager)(nil)
