package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// ChunkRepositoryInterface defines the repository interface for lecture content chunks
type ChunkRepositoryInterface interface {
	ListCompleted(ctx context.Context, lectureID string) ([]*domain.ContentChunk, error)
	CountCompleted(ctx context.Context, lectureID string) (int64, error)
}

// Extractor produces concept candidates from one content chunk
type Extractor interface {
	ExtractConcepts(ctx context.Context, chunk *domain.ContentChunk) ([]domain.ConceptCandidate, error)
}

// CandidateDeduper drops duplicate candidates from a batch
type CandidateDeduper interface {
	Dedupe(candidates []domain.ConceptCandidate) []domain.ConceptCandidate
}

// CandidateStore persists candidates as concepts
type CandidateStore interface {
	StoreCandidates(ctx context.Context, candidates []domain.ConceptCandidate) (*StoreResult, error)
}

// EdgeDetector finds relationships over the stored concept set
type EdgeDetector interface {
	Detect(ctx context.Context, lectureID string) (*DetectionResult, error)
}

// EdgeStore persists detected relationship edges
type EdgeStore interface {
	StoreEdges(ctx context.Context, edges []*domain.ConceptRelationship) (int, error)
}

// OrphanRemover sweeps concepts left without relationships
type OrphanRemover interface {
	RemoveOrphans(ctx context.Context) (int64, error)
}

// SnapshotExporter uploads a JSON snapshot of the current graph
type SnapshotExporter interface {
	Export(ctx context.Context) (string, error)
}

// BuildInput configures one graph build run
type BuildInput struct {
	LectureID string // Empty runs over the whole corpus
	OnStage   func(stage domain.BuildStage)
}

// GraphBuildService orchestrates the full pipeline: fetch chunks, extract
// candidates, dedupe, store concepts, detect and store relationships, sweep
// orphans. Chunk and candidate failures are contained in the report; only
// structural failures abort a run.
type GraphBuildService struct {
	chunks    ChunkRepositoryInterface
	extractor Extractor
	deduper   CandidateDeduper
	store     CandidateStore
	detector  EdgeDetector
	edges     EdgeStore
	sweeper   OrphanRemover
	snapshots SnapshotExporter
}

// NewGraphBuildService creates a new GraphBuildService instance
func NewGraphBuildService(
	chunks ChunkRepositoryInterface,
	extractor Extractor,
	deduper CandidateDeduper,
	store CandidateStore,
	detector EdgeDetector,
	edges EdgeStore,
	sweeper OrphanRemover,
) *GraphBuildService {
	return NewGraphBuildServiceWithSnapshots(chunks, extractor, deduper, store, detector, edges, sweeper, nil)
}

// NewGraphBuildServiceWithSnapshots additionally exports a graph snapshot
// after each successful run. A nil exporter disables the export.
func NewGraphBuildServiceWithSnapshots(
	chunks ChunkRepositoryInterface,
	extractor Extractor,
	deduper CandidateDeduper,
	store CandidateStore,
	detector EdgeDetector,
	edges EdgeStore,
	sweeper OrphanRemover,
	snapshots SnapshotExporter,
) *GraphBuildService {
	return &GraphBuildService{
		chunks:    chunks,
		extractor: extractor,
		deduper:   deduper,
		store:     store,
		detector:  detector,
		edges:     edges,
		sweeper:   sweeper,
		snapshots: snapshots,
	}
}

// Build runs the pipeline to completion. The returned report is non-nil even
// on failure so callers can persist partial progress.
func (s *GraphBuildService) Build(ctx context.Context, input BuildInput) (*domain.BuildReport, error) {
	ctx, span := telemetry.StartSpan(ctx, "GraphBuildService.Build", telemetry.SpanAttributes{
		LectureID: input.LectureID,
		Operation: "build",
	})
	defer span.End()

	report := &domain.BuildReport{
		Stage:     domain.BuildStageIdle,
		StartedAt: time.Now().UTC(),
	}

	runStage := func(stage domain.BuildStage, fn func(ctx context.Context) error) error {
		report.Stage = stage
		telemetry.AddBreadcrumb(ctx, "graph_build", string(stage))
		if input.OnStage != nil {
			input.OnStage(stage)
		}

		stageCtx, stageSpan := telemetry.StartSpan(ctx, "GraphBuild."+string(stage), telemetry.SpanAttributes{
			LectureID: input.LectureID,
			Stage:     string(stage),
		})
		defer stageSpan.End()

		if err := fn(stageCtx); err != nil {
			stageSpan.SetError(err)
			return err
		}
		return nil
	}

	var chunks []*domain.ContentChunk
	if err := runStage(domain.BuildStageFetchingChunks, func(ctx context.Context) error {
		var err error
		chunks, err = s.chunks.ListCompleted(ctx, input.LectureID)
		if err != nil {
			return fmt.Errorf("failed to list content chunks: %w", err)
		}
		report.ChunksFetched = len(chunks)
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	var candidates []domain.ConceptCandidate
	if err := runStage(domain.BuildStageExtracting, func(ctx context.Context) error {
		for _, chunk := range chunks {
			extracted, err := s.extractor.ExtractConcepts(ctx, chunk)
			if err != nil {
				// A dead run context aborts; anything else is contained
				// per chunk and the batch carries on.
				if ctx.Err() != nil {
					return ctx.Err()
				}
				report.ChunksFailed++
				report.AddFailure(domain.BuildStageExtracting, chunk.ID, err.Error())
				continue
			}
			candidates = append(candidates, extracted...)
		}
		report.CandidatesExtracted = len(candidates)
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	if err := runStage(domain.BuildStageDeduplicating, func(ctx context.Context) error {
		candidates = s.deduper.Dedupe(candidates)
		report.CandidatesAfterDedup = len(candidates)
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	if err := runStage(domain.BuildStageStoringConcepts, func(ctx context.Context) error {
		stored, err := s.store.StoreCandidates(ctx, candidates)
		if err != nil {
			return err
		}
		report.ConceptsCreated = stored.Created
		report.ConceptsReused = stored.Reused
		report.ConceptsDropped = len(stored.Dropped)
		for _, drop := range stored.Dropped {
			report.AddFailure(domain.BuildStageStoringConcepts, drop.Name, drop.Reason)
		}
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	var detected *DetectionResult
	if err := runStage(domain.BuildStageDetectingRelationships, func(ctx context.Context) error {
		var err error
		detected, err = s.detector.Detect(ctx, input.LectureID)
		if err != nil {
			return err
		}
		report.RelationshipsFound = len(detected.Edges)
		for _, f := range detected.Failures {
			report.AddFailure(domain.BuildStageDetectingRelationships, f.Signal, f.Reason)
		}
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	if err := runStage(domain.BuildStageStoringRelationships, func(ctx context.Context) error {
		count, err := s.edges.StoreEdges(ctx, detected.Edges)
		if err != nil {
			return fmt.Errorf("failed to store relationships: %w", err)
		}
		report.RelationshipsStored = count
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	if err := runStage(domain.BuildStageCleanup, func(ctx context.Context) error {
		removed, err := s.sweeper.RemoveOrphans(ctx)
		if err != nil {
			return fmt.Errorf("failed to remove orphans: %w", err)
		}
		report.OrphansRemoved = int(removed)
		return nil
	}); err != nil {
		return finishReport(report, err)
	}

	if s.snapshots != nil {
		key, err := s.snapshots.Export(ctx)
		if err != nil {
			report.AddFailure(domain.BuildStageCleanup, "snapshot", err.Error())
		} else {
			report.SnapshotKey = key
		}
	}

	report.Stage = domain.BuildStageDone
	telemetry.AddBreadcrumb(ctx, "graph_build", string(domain.BuildStageDone))
	if input.OnStage != nil {
		input.OnStage(domain.BuildStageDone)
	}

	return finishReport(report, nil)
}

func finishReport(report *domain.BuildReport, err error) (*domain.BuildReport, error) {
	report.FinishedAt = time.Now().UTC()
	return report, err
}
