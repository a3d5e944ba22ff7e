package service

import (
	"context"
	"time"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/pagination"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// BuildJobRepositoryInterface defines the repository interface for graph build jobs
type BuildJobRepositoryInterface interface {
	Create(ctx context.Context, job *domain.GraphBuildJob) error
	GetByID(ctx context.Context, id string) (*domain.GraphBuildJob, error)
	CountActive(ctx context.Context, lectureID string) (int64, error)
	ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*BuildJobPageResult, error)
}

type BuildJobPageResult struct {
	Items      []*domain.GraphBuildJob
	NextCursor string
	HasMore    bool
}

// BuildJobService queues and inspects graph build runs
type BuildJobService struct {
	jobs    BuildJobRepositoryInterface
	uuidGen UUIDGenerator
}

// NewBuildJobService creates a new BuildJobService instance
func NewBuildJobService(jobs BuildJobRepositoryInterface) *BuildJobService {
	return NewBuildJobServiceWithUUIDGen(jobs, &DefaultUUIDGenerator{})
}

// NewBuildJobServiceWithUUIDGen creates a new BuildJobService with custom UUID generator (for testing)
func NewBuildJobServiceWithUUIDGen(jobs BuildJobRepositoryInterface, uuidGen UUIDGenerator) *BuildJobService {
	return &BuildJobService{
		jobs:    jobs,
		uuidGen: uuidGen,
	}
}

// Enqueue queues a build for the lecture unless one is already pending or
// running for the same scope.
func (s *BuildJobService) Enqueue(ctx context.Context, lectureID string) (*domain.GraphBuildJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "BuildJobService.Enqueue", telemetry.SpanAttributes{
		LectureID: lectureID,
		Operation: "enqueue",
	})
	defer span.End()

	active, err := s.jobs.CountActive(ctx, lectureID)
	if err != nil {
		return nil, err
	}
	if active > 0 {
		return nil, domain.ErrBuildAlreadyRunning
	}

	job := domain.NewGraphBuildJob(
		s.uuidGen.NewString(),
		lectureID,
		domain.GraphBuildJobStatusPending,
		0,
		"",
		time.Now().UTC(),
		nil,
	)
	if err := domain.ValidateGraphBuildJob(job); err != nil {
		return nil, err
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	return job, nil
}

// Get retrieves a build job with its report
func (s *BuildJobService) Get(ctx context.Context, id string) (*domain.GraphBuildJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "BuildJobService.Get", telemetry.SpanAttributes{
		JobID:     id,
		Operation: "get",
	})
	defer span.End()

	return s.jobs.GetByID(ctx, id)
}

type ListBuildsInput struct {
	Cursor string
	Limit  int
}

type ListBuildsOutput struct {
	Items   []*domain.GraphBuildJob
	Cursor  string
	HasMore bool
}

// List returns build jobs newest-first with cursor pagination
func (s *BuildJobService) List(ctx context.Context, input ListBuildsInput) (*ListBuildsOutput, error) {
	ctx, span := telemetry.StartSpan(ctx, "BuildJobService.List", telemetry.SpanAttributes{
		Operation: "list",
	})
	defer span.End()

	cursor, _ := pagination.DecodeCursor(input.Cursor)
	limit := input.Limit
	if limit <= 0 {
		limit = 20
	}

	result, err := s.jobs.ListWithCursor(ctx, cursor, limit)
	if err != nil {
		return nil, err
	}

	return &ListBuildsOutput{
		Items:   result.Items,
		Cursor:  result.NextCursor,
		HasMore: result.HasMore,
	}, nil
}
