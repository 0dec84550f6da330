package dm

import (
	"context"
	"fmt"

	"dm-go/internal/model"
)

// GetHistory returns the most recent mutating operations, newest first.
func (s *DMService) GetHistory(ctx context.Context, limit int) ([]*model.Operation, error) {
	s.logger.Debug("fetching operation history", "limit", limit)

	ops, err := s.registry.ListOperations(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
