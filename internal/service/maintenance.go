package service

import (
	"context"

	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// MaintenanceService removes concepts stranded without relationships
type MaintenanceService struct {
	concepts ConceptRepositoryInterface
}

// NewMaintenanceService creates a new MaintenanceService instance
func NewMaintenanceService(concepts ConceptRepositoryInterface) *MaintenanceService {
	return &MaintenanceService{concepts: concepts}
}

// RemoveOrphans deletes every concept with no relationship in either
// direction and returns the number removed.
func (s *MaintenanceService) RemoveOrphans(ctx context.Context) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "MaintenanceService.RemoveOrphans", telemetry.SpanAttributes{
		Operation: "remove_orphans",
	})
	defer span.End()

	return s.concepts.DeleteOrphans(ctx)
}
