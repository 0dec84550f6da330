package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/renameio"

	"dm-go/internal/dm"
)

// FileSystemStore is a filesystem-based implementation of the ContentStore
// interface. Blobs live directly under the storage root, named by digest:
//
//	<root>/
//	  <digest>      (immutable content files)
//	  <user dirs>/  (created through the directory guard, never by the store)
type FileSystemStore struct {
	root string
}

// NewFileSystemStore creates a new filesystem store rooted at the given path.
func NewFileSystemStore(root string) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &FileSystemStore{root: root}, nil
}

func (v *FileSystemStore) blobPath(digest string) (string, error) {
	if _, err := dm.ParseDigest(digest); err != nil {
		return "", err
	}
	return filepath.Join(v.root, digest), nil
}

// Exists reports whether a blob with the given digest is stored.
func (v *FileSystemStore) Exists(ctx context.Context, digest string) (bool, error) {
	p, err := v.blobPath(digest)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat content: %w", err)
	}
	if !info.Mode().IsRegular() {
		return false, fmt.Errorf("content path is not a regular file: %s", digest)
	}
	return true, nil
}

// Put stores content identified by its digest.
// The operation is idempotent: storing the same digest multiple times is safe.
func (v *FileSystemStore) Put(ctx context.Context, digest string, r io.Reader, size int64) error {
	destPath, err := v.blobPath(digest)
	if err != nil {
		return err
	}

	if _, err := os.Stat(destPath); err == nil {
		return nil
	}

	return v.writeFile(ctx, destPath, digest, r, size)
}

// writeFile writes data from r to destPath through a temp file in the same
// directory that is renamed into place only after size and digest match.
func (v *FileSystemStore) writeFile(ctx context.Context, destPath, digest string, r io.Reader, expectedSize int64) error {
	pending, err := renameio.TempFile(filepath.Dir(destPath), destPath)
	if err != nil {
		return fmt.Errorf("%w: failed to create temp file: %w", dm.ErrStorageWrite, err)
	}
	// No-op once the file has been renamed into place
	defer pending.Cleanup()

	d := dm.NewDigester(r)
	written, err := io.Copy(pending, d)
	if err != nil {
		if errors.Is(err, dm.ErrIO) {
			return err
		}
		return fmt.Errorf("%w: failed to write data: %w", dm.ErrStorageWrite, err)
	}

	if written != expectedSize {
		return fmt.Errorf("%w: size mismatch: expected %d bytes, got %d", dm.ErrStorageWrite, expectedSize, written)
	}
	if d.Digest() != digest {
		return fmt.Errorf("%w: digest mismatch: expected %s, got %s", dm.ErrStorageWrite, digest, d.Digest())
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("%w: failed to publish content: %w", dm.ErrStorageWrite, err)
	}
	return nil
}

// Open returns a reader for the blob.
func (v *FileSystemStore) Open(ctx context.Context, digest string) (io.ReadCloser, error) {
	p, err := v.blobPath(digest)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: content %s", dm.ErrNotFound, digest)
		}
		return nil, fmt.Errorf("failed to open content: %w", err)
	}
	return f, nil
}

// ValidateSetup verifies that the storage root is an accessible directory.
func (v *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(v.root)
	if err != nil {
		return fmt.Errorf("storage root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root is not a directory: %s", v.root)
	}
	return nil
}

// Compile-time check that FileSystemStore implements dm.ContentStore interface
var _ dm.ContentStore = (*FileSystemStore)(nil)
