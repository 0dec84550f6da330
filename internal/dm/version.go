package dm

import (
	"context"
	"fmt"
)

// VersionResolver assigns version numbers for new uploads and resolves
// "latest" for reads. It always asks the registry; callers that need the
// read-max/insert sequence to be atomic hold the path lock around it.
type VersionResolver struct {
	registry Registry
}

// NewVersionResolver creates a VersionResolver backed by registry.
func NewVersionResolver(registry Registry) *VersionResolver {
	return &VersionResolver{registry: registry}
}

// NextVersion returns 0 for a path with no history, otherwise max + 1.
func (v *VersionResolver) NextVersion(ctx context.Context, logicalPath string) (int64, error) {
	highest, ok, err := v.registry.MaxVersion(ctx, logicalPath)
	if err != nil {
		return 0, fmt.Errorf("querying max version: %w", err)
	}
	if !ok {
		return 0, nil
	}
	return highest + 1, nil
}

// LatestVersion returns the highest version number for the path.
// A path with no history fails with ErrNotFound, which is distinct from a
// path whose only version is 0.
func (v *VersionResolver) LatestVersion(ctx context.Context, logicalPath string) (int64, error) {
	highest, ok, err := v.registry.MaxVersion(ctx, logicalPath)
	if err != nil {
		return 0, fmt.Errorf("querying max version: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%w: no versions found for file %s", ErrNotFound, logicalPath)
	}
	return highest, nil
}
