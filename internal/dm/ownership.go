package dm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// VisibleFile is one entry of a user's file listing.
type VisibleFile struct {
	ID            string
	LogicalPath   string
	VersionNumber int64
	Size          int64
	CreatedAt     time.Time
}

// OwnershipIndex records which users may see which file versions.
// Grants are append-only; there is no revoke.
type OwnershipIndex struct {
	registry Registry
}

// NewOwnershipIndex creates an OwnershipIndex backed by registry.
func NewOwnershipIndex(registry Registry) *OwnershipIndex {
	return &OwnershipIndex{registry: registry}
}

// Grant makes the record visible to userID. Granting twice is a no-op.
func (o *OwnershipIndex) Grant(ctx context.Context, userID string, fileVersionID string) error {
	if strings.TrimSpace(userID) == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidInput)
	}
	if fileVersionID == "" {
		return fmt.Errorf("%w: file version is required", ErrInvalidInput)
	}
	if err := o.registry.GrantOwnership(ctx, userID, fileVersionID); err != nil {
		return fmt.Errorf("granting ownership: %w", err)
	}
	return nil
}

// IsVisible reports whether userID has been granted the record.
func (o *OwnershipIndex) IsVisible(ctx context.Context, userID string, fileVersionID string) (bool, error) {
	ok, err := o.registry.IsOwner(ctx, userID, fileVersionID)
	if err != nil {
		return false, fmt.Errorf("checking ownership: %w", err)
	}
	return ok, nil
}

// ListVisible returns every record granted to userID, each once, sorted by
// (logical path, version number).
func (o *OwnershipIndex) ListVisible(ctx context.Context, userID string) ([]VisibleFile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user is required", ErrInvalidInput)
	}

	records, err := o.registry.ListFileVersionsByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("listing owned file versions: %w", err)
	}

	seen := make(map[string]struct{}, len(records))
	files := make([]VisibleFile, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		files = append(files, VisibleFile{
			ID:            rec.ID,
			LogicalPath:   rec.LogicalPath,
			VersionNumber: rec.VersionNumber,
			Size:          rec.Size,
			CreatedAt:     rec.CreatedAt,
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].LogicalPath != files[j].LogicalPath {
			return files[i].LogicalPath < files[j].LogicalPath
		}
		return files[i].VersionNumber < files[j].VersionNumber
	})
	return files, nil
}
