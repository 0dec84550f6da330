package dm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"dm-go/internal/model"
)

// Download is a resolved file version ready to be streamed to a caller.
// The caller must close Content.
type Download struct {
	Record   *model.FileVersion
	Filename string
	Content  io.ReadCloser
}

// RetrievalResolver maps (logical path, version?) or a record ID to stored bytes.
type RetrievalResolver struct {
	registry Registry
	store    ContentStore
	versions *VersionResolver
	logger   Logger
	metrics  Metrics
}

// NewRetrievalResolver creates a RetrievalResolver.
func NewRetrievalResolver(registry Registry, store ContentStore, versions *VersionResolver, logger Logger, metrics Metrics) *RetrievalResolver {
	return &RetrievalResolver{
		registry: registry,
		store:    store,
		versions: versions,
		logger:   logger,
		metrics:  metrics,
	}
}

// Resolve returns the content of logicalPath at version, or at the latest
// version when version is nil.
func (r *RetrievalResolver) Resolve(ctx context.Context, logicalPath string, version *int64) (*Download, error) {
	p, err := CleanLogicalPath(logicalPath)
	if err != nil {
		return nil, err
	}

	var v int64
	if version == nil {
		v, err = r.versions.LatestVersion(ctx, p)
		if err != nil {
			return nil, err
		}
	} else {
		if *version < 0 {
			return nil, fmt.Errorf("%w: version must be a non-negative integer", ErrInvalidInput)
		}
		v = *version
	}

	rec, err := r.registry.FindFileVersion(ctx, p, v)
	if err != nil {
		return nil, fmt.Errorf("finding file version: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no file version found for %s with version %d", ErrNotFound, p, v)
	}

	return r.open(ctx, rec)
}

// ResolveByID returns the content of the record with the given ID.
func (r *RetrievalResolver) ResolveByID(ctx context.Context, id string) (*Download, error) {
	rec, err := r.registry.FindFileVersionByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("finding file version: %w", err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: no file version with id %s", ErrNotFound, id)
	}
	return r.open(ctx, rec)
}

// open fetches the blob for rec. A record whose blob is missing is reported
// as not found and logged as a consistency anomaly.
func (r *RetrievalResolver) open(ctx context.Context, rec *model.FileVersion) (*Download, error) {
	if !rec.HasContent() {
		return nil, fmt.Errorf("%w: file does not exist on the server", ErrNotFound)
	}

	content, err := r.store.Open(ctx, rec.Digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Error("content missing for recorded file version",
				"id", rec.ID, "path", rec.LogicalPath, "version", rec.VersionNumber, "digest", rec.Digest)
			r.metrics.ContentMissing()
			return nil, fmt.Errorf("%w: file does not exist on the server", ErrNotFound)
		}
		return nil, fmt.Errorf("opening content: %w", err)
	}

	filename := rec.OriginalName
	if filename == "" {
		filename = baseName(rec.LogicalPath)
	}

	return &Download{
		Record:   rec,
		Filename: filename,
		Content:  content,
	}, nil
}
