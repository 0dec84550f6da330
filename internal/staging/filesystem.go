package staging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"dm-go/internal/dm"
)

// fileSystemStore spools uploads to disk so large bodies never sit in memory.
// Every staging area owns a private subtree, so processes sharing one
// staging_dir never touch each other's files.
//
// Directory structure:
//
//	<staging_dir>/
//	  <area-id>/
//	    tmp/
//	      .spool-*      (uploads being read and hashed)
//	    content/
//	      <checksum>    (staged content, named by SHA-256)
type fileSystemStore struct {
	root       string
	tmpDir     string
	contentDir string
}

// NewFileSystemStagingArea creates a new filesystem-based staging area under
// a fresh subdirectory of stagingDir. maxSize is the maximum total size in
// bytes; must be positive. Close removes the subdirectory.
func NewFileSystemStagingArea(stagingDir string, maxSize int64) (dm.StagingArea, error) {
	root := filepath.Join(stagingDir, uuid.NewString())
	tmpDir := filepath.Join(root, "tmp")
	contentDir := filepath.Join(root, "content")

	for _, dir := range []string{tmpDir, contentDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create staging directory: %w", err)
		}
	}

	store := &fileSystemStore{
		root:       root,
		tmpDir:     tmpDir,
		contentDir: contentDir,
	}
	return newStagingArea(store, maxSize), nil
}

func (f *fileSystemStore) Spool(r io.Reader) (*pendingContent, error) {
	tmpFile, err := os.CreateTemp(f.tmpDir, ".spool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	tmpPath := tmpFile.Name()

	d := dm.NewDigester(r)
	if _, err := io.Copy(tmpFile, d); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return nil, err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("failed to close spool file: %w", err)
	}

	return &pendingContent{checksum: d.Digest(), size: d.Size(), tmpPath: tmpPath}, nil
}

func (f *fileSystemStore) Commit(p *pendingContent) error {
	destPath := filepath.Join(f.contentDir, p.checksum)
	if err := os.Rename(p.tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to publish spool file: %w", err)
	}
	p.tmpPath = ""
	return nil
}

func (f *fileSystemStore) Discard(p *pendingContent) {
	if p.tmpPath != "" {
		os.Remove(p.tmpPath)
		p.tmpPath = ""
	}
}

func (f *fileSystemStore) RemoveContent(checksum string) {
	os.Remove(filepath.Join(f.contentDir, checksum))
}

func (f *fileSystemStore) OpenContent(checksum string) (io.ReadCloser, error) {
	file, err := os.Open(filepath.Join(f.contentDir, checksum))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content not found: %s", checksum)
		}
		return nil, fmt.Errorf("failed to open staged content: %w", err)
	}
	return file, nil
}

func (f *fileSystemStore) ContentSize() (int64, error) {
	entries, err := os.ReadDir(f.contentDir)
	if err != nil {
		return 0, fmt.Errorf("failed to read staging directory: %w", err)
	}
	var total int64
	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			return 0, fmt.Errorf("stat %s: %w", entry.Name(), err)
		}
		total += info.Size()
	}
	return total, nil
}

func (f *fileSystemStore) Close() error {
	if err := os.RemoveAll(f.root); err != nil {
		return fmt.Errorf("failed to remove staging directory: %w", err)
	}
	return nil
}
