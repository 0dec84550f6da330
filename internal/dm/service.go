package dm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/im7mortal/kmutex"

	"dm-go/internal/model"
)

// maxVersionAttempts bounds how often an upload recomputes its version after
// another writer took the same number.
const maxVersionAttempts = 5

// UploadStatus is the non-failure outcome of an upload.
type UploadStatus int

const (
	// UploadCreated means a new file version was recorded.
	UploadCreated UploadStatus = iota
	// UploadDuplicate means the content is already stored; nothing was recorded.
	UploadDuplicate
)

func (s UploadStatus) String() string {
	switch s {
	case UploadCreated:
		return "created"
	case UploadDuplicate:
		return "duplicate"
	default:
		return fmt.Sprintf("UploadStatus(%d)", int(s))
	}
}

// UploadRequest is an upload as received from the request layer.
type UploadRequest struct {
	UserID       string
	LogicalPath  string
	Directory    string // optional; prefixed to LogicalPath
	OriginalName string // optional; defaults to the last element of the logical path
	Content      io.Reader
}

// UploadResult is the outcome of a successful Upload call.
type UploadResult struct {
	Status UploadStatus
	Digest string
	// Record is the created version when Status is UploadCreated.
	Record *model.FileVersion
	// Existing is the version already holding the content when Status is
	// UploadDuplicate. It may be nil if the duplicate was detected by the
	// registry constraint rather than the lookup.
	Existing *model.FileVersion
}

// DMService is the orchestration layer that coordinates staging, the content
// store, the registry and the directory guard for the request layer and CLI.
type DMService struct {
	registry  Registry
	staging   StagingArea
	store     ContentStore
	dirs      DirectoryManager
	versions  *VersionResolver
	ownership *OwnershipIndex
	retrieval *RetrievalResolver
	logger    Logger
	metrics   Metrics
	clock     Clock
	idgen     IDGenerator

	// digestLocks serializes dedup decisions per digest; pathLocks serializes
	// version assignment per logical path. Always acquired digest then path.
	digestLocks *kmutex.Kmutex
	pathLocks   *kmutex.Kmutex
}

// NewDMService creates a new DMService with the provided dependencies.
func NewDMService(registry Registry, staging StagingArea, store ContentStore, dirs DirectoryManager, logger Logger, metrics Metrics, clock Clock, idgen IDGenerator) *DMService {
	versions := NewVersionResolver(registry)
	return &DMService{
		registry:    registry,
		staging:     staging,
		store:       store,
		dirs:        dirs,
		versions:    versions,
		ownership:   NewOwnershipIndex(registry),
		retrieval:   NewRetrievalResolver(registry, store, versions, logger, metrics),
		logger:      logger,
		metrics:     metrics,
		clock:       clock,
		idgen:       idgen,
		digestLocks: kmutex.New(),
		pathLocks:   kmutex.New(),
	}
}

// Upload stores a new revision of a logical path.
//
// Content already recorded anywhere in the store is rejected with an
// UploadDuplicate result, regardless of the logical path. Otherwise the blob
// is written first and the registry row is inserted only after the write
// returns, so a record never exists without its blob. The upload directory
// is created last, once the record exists.
func (s *DMService) Upload(ctx context.Context, req UploadRequest) (result *UploadResult, err error) {
	defer func() {
		s.metrics.UploadFinished(uploadOutcome(result, err))
	}()

	logicalPath, dir, err := s.validateUpload(req)
	if err != nil {
		return nil, err
	}

	staged, err := s.staging.Stage(ctx, req.Content)
	if err != nil {
		return nil, fmt.Errorf("staging upload: %w", err)
	}
	defer s.staging.Release(staged.Digest)

	s.digestLocks.Lock(staged.Digest)
	defer s.digestLocks.Unlock(staged.Digest)

	existing, err := s.registry.FindFileVersionByDigest(ctx, staged.Digest)
	if err != nil {
		return nil, fmt.Errorf("checking for existing content: %w", err)
	}
	if existing != nil {
		s.logger.Info("duplicate content rejected", "path", logicalPath, "digest", staged.Digest, "existing", existing.LogicalPath)
		return &UploadResult{Status: UploadDuplicate, Digest: staged.Digest, Existing: existing}, nil
	}

	if err := s.storeContent(ctx, staged); err != nil {
		return nil, err
	}

	originalName := req.OriginalName
	if originalName == "" {
		originalName = baseName(logicalPath)
	}

	rec, err := s.recordVersion(ctx, req.UserID, logicalPath, originalName, staged)
	if errors.Is(err, ErrDuplicateContent) {
		s.logger.Info("duplicate content rejected by registry", "path", logicalPath, "digest", staged.Digest)
		return &UploadResult{Status: UploadDuplicate, Digest: staged.Digest}, nil
	}
	if err != nil {
		return nil, err
	}

	// The record is authoritative; a directory that cannot be created does
	// not undo it.
	if dir != nil && !dir.IsRoot() {
		if err := s.dirs.EnsureDirectory(dir); err != nil {
			s.logger.Error("creating upload directory", "path", rec.LogicalPath, "directory", dir.Rel(), "error", err)
		}
	}

	s.logger.Info("file version created", "path", rec.LogicalPath, "version", rec.VersionNumber, "digest", rec.Digest, "user", req.UserID)
	return &UploadResult{Status: UploadCreated, Digest: staged.Digest, Record: rec}, nil
}

// validateUpload checks the request before anything is written and returns
// the cleaned logical path and the guarded directory it lives in.
func (s *DMService) validateUpload(req UploadRequest) (string, *SafePath, error) {
	if strings.TrimSpace(req.UserID) == "" {
		return "", nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if req.Content == nil {
		return "", nil, fmt.Errorf("%w: content is required", ErrInvalidInput)
	}

	name, err := CleanLogicalPath(req.LogicalPath)
	if err != nil {
		return "", nil, err
	}

	logicalPath := name
	if req.Directory != "" {
		dir, err := CleanLogicalPath(req.Directory)
		if err != nil {
			return "", nil, err
		}
		logicalPath = path.Join(dir, name)
	}

	// A bare logical path is only an identifier; the directory guard applies
	// to trees that will be created on disk.
	if req.Directory == "" {
		return logicalPath, nil, nil
	}
	safeDir, err := s.dirs.Resolve(path.Dir(logicalPath))
	if err != nil {
		return "", nil, err
	}
	return logicalPath, safeDir, nil
}

// storeContent copies staged content into the content store. A blob that is
// already present without a registry row is left as is and adopted.
func (s *DMService) storeContent(ctx context.Context, staged *StagedContent) error {
	exists, err := s.store.Exists(ctx, staged.Digest)
	if err != nil {
		return fmt.Errorf("checking content store: %w", err)
	}
	if exists {
		s.logger.Warn("adopting stored content without a file version", "digest", staged.Digest)
		return nil
	}

	r, err := s.staging.Open(staged.Digest)
	if err != nil {
		return fmt.Errorf("opening staged content: %w", err)
	}
	defer r.Close()

	if err := s.store.Put(ctx, staged.Digest, r, staged.Size); err != nil {
		if !errors.Is(err, ErrStorageWrite) {
			err = fmt.Errorf("%w: %w", ErrStorageWrite, err)
		}
		return fmt.Errorf("storing content: %w", err)
	}
	return nil
}

// recordVersion assigns the next version under the path lock and inserts the
// record. A version conflict from another writer is retried with a freshly
// computed number.
func (s *DMService) recordVersion(ctx context.Context, userID, logicalPath, originalName string, staged *StagedContent) (*model.FileVersion, error) {
	s.pathLocks.Lock(logicalPath)
	defer s.pathLocks.Unlock(logicalPath)

	for attempt := 1; ; attempt++ {
		version, err := s.versions.NextVersion(ctx, logicalPath)
		if err != nil {
			return nil, err
		}

		rec := &model.FileVersion{
			ID:            s.idgen.New(),
			LogicalPath:   logicalPath,
			VersionNumber: version,
			Digest:        staged.Digest,
			OriginalName:  originalName,
			Size:          staged.Size,
			CreatedAt:     s.clock.Now(),
		}

		err = s.registry.RecordUpload(ctx, rec, userID)
		if err == nil {
			return rec, nil
		}
		if errors.Is(err, ErrVersionConflict) && attempt < maxVersionAttempts {
			s.logger.Debug("version taken, retrying", "path", logicalPath, "version", version, "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("recording file version: %w", err)
	}
}

// Download resolves a logical path and optional version to stored content.
func (s *DMService) Download(ctx context.Context, userID string, logicalPath string, version *int64) (*Download, error) {
	d, err := s.retrieval.Resolve(ctx, logicalPath, version)
	s.metrics.DownloadFinished(downloadOutcome(err))
	if err != nil {
		s.logger.Debug("download failed", "path", logicalPath, "user", userID, "error", err)
		return nil, err
	}
	s.logger.Debug("download resolved", "path", d.Record.LogicalPath, "version", d.Record.VersionNumber, "user", userID)
	return d, nil
}

// DownloadByID resolves a record ID to stored content.
func (s *DMService) DownloadByID(ctx context.Context, userID string, id string) (*Download, error) {
	d, err := s.retrieval.ResolveByID(ctx, id)
	s.metrics.DownloadFinished(downloadOutcome(err))
	if err != nil {
		s.logger.Debug("download failed", "id", id, "user", userID, "error", err)
		return nil, err
	}
	return d, nil
}

// GetFileVersion returns a single record by ID.
func (s *DMService) GetFileVersion(ctx context.Context, id string) (*model.FileVersion, error) {
	rec, err := s.registry.FindFileVersionByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding file version: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no file version with id %s", ErrNotFound, id)
	}
	return rec, nil
}

// ListOwned returns the file versions visible to userID.
func (s *DMService) ListOwned(ctx context.Context, userID string) ([]VisibleFile, error) {
	return s.ownership.ListVisible(ctx, userID)
}

// ListAll returns every recorded file version.
func (s *DMService) ListAll(ctx context.Context) ([]*model.FileVersion, error) {
	recs, err := s.registry.ListFileVersions(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing file versions: %w", err)
	}
	return recs, nil
}

// GrantAccess makes a record visible to granteeID. The granting user must
// already see the record; otherwise the record is reported as not found.
func (s *DMService) GrantAccess(ctx context.Context, granterID string, granteeID string, fileVersionID string) error {
	visible, err := s.ownership.IsVisible(ctx, granterID, fileVersionID)
	if err != nil {
		return err
	}
	if !visible {
		return fmt.Errorf("%w: no file version with id %s", ErrNotFound, fileVersionID)
	}
	if err := s.ownership.Grant(ctx, granteeID, fileVersionID); err != nil {
		return err
	}
	s.logger.Info("access granted", "id", fileVersionID, "from", granterID, "to", granteeID)
	return nil
}

// CreateDirectory creates name under parent in the storage root and returns
// the created path relative to the root.
func (s *DMService) CreateDirectory(ctx context.Context, parent string, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	created, err := s.dirs.MakeDirectory(parent, name)
	if err != nil {
		return "", err
	}
	s.logger.Info("directory created", "path", created)
	return created, nil
}

func uploadOutcome(result *UploadResult, err error) string {
	switch {
	case err == nil && result != nil && result.Status == UploadDuplicate:
		return "duplicate"
	case err == nil:
		return "created"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidPath):
		return "invalid_path"
	case errors.Is(err, ErrStorageWrite):
		return "write_failure"
	default:
		return "error"
	}
}

func downloadOutcome(err error) string {
	if err == nil {
		return "found"
	}
	if errors.Is(err, ErrNotFound) {
		return "not_found"
	}
	return "error"
}
