package dm

// DirectoryManager guards and performs filesystem operations driven by user
// input under the storage root. Every user-influenced path segment goes
// through Resolve before the filesystem is touched.
type DirectoryManager interface {
	// Resolve resolves userPath against the root and fails with
	// ErrInvalidPath if the result is not the root or one of its descendants,
	// including escapes through symlinks.
	Resolve(userPath string) (*SafePath, error)

	// MakeDirectory creates name inside parent and returns the created path
	// relative to the root. Returns ErrInvalidName or ErrAlreadyExists.
	MakeDirectory(parent string, name string) (string, error)

	// EnsureDirectory creates the directory and any missing parents.
	EnsureDirectory(path *SafePath) error
}
