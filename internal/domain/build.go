package domain

import (
	"fmt"
	"time"
)

// GraphBuildJobStatus represents the queue status of a graph build job
type GraphBuildJobStatus string

const (
	GraphBuildJobStatusPending    GraphBuildJobStatus = "pending"
	GraphBuildJobStatusProcessing GraphBuildJobStatus = "processing"
	GraphBuildJobStatusCompleted  GraphBuildJobStatus = "completed"
	GraphBuildJobStatusFailed     GraphBuildJobStatus = "failed"
)

// BuildStage identifies where in the pipeline a build run currently is
type BuildStage string

const (
	BuildStageIdle                   BuildStage = "idle"
	BuildStageFetchingChunks         BuildStage = "fetching_chunks"
	BuildStageExtracting             BuildStage = "extracting"
	BuildStageDeduplicating          BuildStage = "deduplicating"
	BuildStageStoringConcepts        BuildStage = "storing_concepts"
	BuildStageDetectingRelationships BuildStage = "detecting_relationships"
	BuildStageStoringRelationships   BuildStage = "storing_relationships"
	BuildStageCleanup                BuildStage = "cleanup"
	BuildStageDone                   BuildStage = "done"
)

// GraphBuildJob represents an async knowledge graph build run
type GraphBuildJob struct {
	ID          string
	LectureID   string // Empty means a full-corpus build
	Status      GraphBuildJobStatus
	Stage       BuildStage
	Retries     int32
	Error       string
	Report      *BuildReport
	CreatedAt   time.Time
	StartedAt   *time.Time
	ProcessedAt *time.Time
}

// BuildFailure records a single contained failure during a build run
type BuildFailure struct {
	Stage  BuildStage `json:"stage"`
	Ref    string     `json:"ref"`
	Reason string     `json:"reason"`
}

// BuildReport summarizes the outcome of a build run. A run with entries in
// Failures still counts as successful as long as the pipeline reached done.
type BuildReport struct {
	Stage                BuildStage     `json:"stage"`
	ChunksFetched        int            `json:"chunks_fetched"`
	ChunksFailed         int            `json:"chunks_failed"`
	CandidatesExtracted  int            `json:"candidates_extracted"`
	CandidatesAfterDedup int            `json:"candidates_after_dedup"`
	ConceptsCreated      int            `json:"concepts_created"`
	ConceptsReused       int            `json:"concepts_reused"`
	ConceptsDropped      int            `json:"concepts_dropped"`
	RelationshipsFound   int            `json:"relationships_found"`
	RelationshipsStored  int            `json:"relationships_stored"`
	OrphansRemoved       int            `json:"orphans_removed"`
	SnapshotKey          string         `json:"snapshot_key,omitempty"`
	Failures             []BuildFailure `json:"failures,omitempty"`
	StartedAt            time.Time      `json:"started_at"`
	FinishedAt           time.Time      `json:"finished_at"`
}

// AddFailure appends a contained failure to the report
func (r *BuildReport) AddFailure(stage BuildStage, ref, reason string) {
	r.Failures = append(r.Failures, BuildFailure{Stage: stage, Ref: ref, Reason: reason})
}

// NewGraphBuildJob creates a new GraphBuildJob instance
func NewGraphBuildJob(
	id, lectureID string,
	status GraphBuildJobStatus,
	retries int32,
	errMsg string,
	createdAt time.Time,
	processedAt *time.Time,
) *GraphBuildJob {
	return &GraphBuildJob{
		ID:          id,
		LectureID:   lectureID,
		Status:      status,
		Stage:       BuildStageIdle,
		Retries:     retries,
		Error:       errMsg,
		CreatedAt:   createdAt,
		ProcessedAt: processedAt,
	}
}

// ValidateGraphBuildJob validates a GraphBuildJob instance
func ValidateGraphBuildJob(j *GraphBuildJob) error {
	if j == nil {
		return fmt.Errorf("graph build job cannot be nil")
	}

	if j.ID == "" {
		return fmt.Errorf("graph build job ID is required")
	}

	if !isValidGraphBuildJobStatus(j.Status) {
		return fmt.Errorf("graph build job Status is invalid: %s", j.Status)
	}

	if j.Stage != "" && !isValidBuildStage(j.Stage) {
		return fmt.Errorf("graph build job Stage is invalid: %s", j.Stage)
	}

	if j.Retries < 0 {
		return fmt.Errorf("graph build job Retries cannot be negative")
	}

	return nil
}

// isValidGraphBuildJobStatus checks if a GraphBuildJobStatus is valid
func isValidGraphBuildJobStatus(s GraphBuildJobStatus) bool {
	switch s {
	case GraphBuildJobStatusPending, GraphBuildJobStatusProcessing,
		GraphBuildJobStatusCompleted, GraphBuildJobStatusFailed:
		return true
	}
	return false
}

// isValidBuildStage checks if a BuildStage is valid
func isValidBuildStage(s BuildStage) bool {
	switch s {
	case BuildStageIdle, BuildStageFetchingChunks, BuildStageExtracting,
		BuildStageDeduplicating, BuildStageStoringConcepts,
		BuildStageDetectingRelationships, BuildStageStoringRelationships,
		BuildStageCleanup, BuildStageDone:
		return true
	}
	return false
}
