package service

import (
	"context"

	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// GraphStats aggregates counts over the stored graph
type GraphStats struct {
	Concepts      int64
	Relationships int64
	ByCategory    []*CategoryCount
	ByType        []*TypeCount
}

// GraphStatsService reports aggregate graph counts for dashboards
type GraphStatsService struct {
	concepts      ConceptRepositoryInterface
	relationships RelationshipRepositoryInterface
}

// NewGraphStatsService creates a new GraphStatsService instance
func NewGraphStatsService(
	concepts ConceptRepositoryInterface,
	relationships RelationshipRepositoryInterface,
) *GraphStatsService {
	return &GraphStatsService{
		concepts:      concepts,
		relationships: relationships,
	}
}

// Stats returns total and per-bucket counts for concepts and relationships
func (s *GraphStatsService) Stats(ctx context.Context) (*GraphStats, error) {
	ctx, span := telemetry.StartSpan(ctx, "GraphStatsService.Stats", telemetry.SpanAttributes{
		Operation: "stats",
	})
	defer span.End()

	conceptCount, err := s.concepts.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	byCategory, err := s.concepts.CountByCategory(ctx)
	if err != nil {
		return nil, err
	}
	relCount, err := s.relationships.CountAll(ctx)
	if err != nil {
		return nil, err
	}
	byType, err := s.relationships.CountByType(ctx)
	if err != nil {
		return nil, err
	}

	return &GraphStats{
		Concepts:      conceptCount,
		Relationships: relCount,
		ByCategory:    byCategory,
		ByType:        byType,
	}, nil
}
