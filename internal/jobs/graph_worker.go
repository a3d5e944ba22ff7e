package jobs

import (
	"context"
	"fmt"
	"log"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/service"
)

const (
	// MaxRetries is the maximum number of attempts for a failed build job
	MaxRetries = 3

	// claimBatchSize bounds how many jobs one poll claims at once
	claimBatchSize = 5
)

// GraphBuildJobRepository defines the interface for build job persistence
type GraphBuildJobRepository interface {
	// ClaimPending atomically claims pending jobs and marks them processing
	ClaimPending(ctx context.Context, limit int) ([]*domain.GraphBuildJob, error)

	// UpdateStatus updates the queue status of a build job
	UpdateStatus(ctx context.Context, jobID string, status domain.GraphBuildJobStatus, errMsg string) error

	// UpdateStage records pipeline progress for a running job
	UpdateStage(ctx context.Context, jobID string, stage domain.BuildStage) error

	// SaveReport persists the build report for a job
	SaveReport(ctx context.Context, jobID string, report *domain.BuildReport) error

	// IncrementRetries increments the retry count for a job
	IncrementRetries(ctx context.Context, jobID string) error
}

// GraphBuildService defines the interface for running a graph build
type GraphBuildService interface {
	Build(ctx context.Context, input service.BuildInput) (*domain.BuildReport, error)
}

// GraphBuildWorker processes queued knowledge graph build jobs
type GraphBuildWorker struct {
	repo    GraphBuildJobRepository
	service GraphBuildService
}

// NewGraphBuildWorker creates a new GraphBuildWorker instance
func NewGraphBuildWorker(repo GraphBuildJobRepository, service GraphBuildService) *GraphBuildWorker {
	return &GraphBuildWorker{
		repo:    repo,
		service: service,
	}
}

// ProcessJobs implements the JobProcessor interface
func (w *GraphBuildWorker) ProcessJobs(ctx context.Context) error {
	jobs, err := w.repo.ClaimPending(ctx, claimBatchSize)
	if err != nil {
		return fmt.Errorf("failed to claim pending jobs: %w", err)
	}

	if len(jobs) == 0 {
		return nil
	}

	log.Printf("Processing %d pending graph build jobs", len(jobs))

	for _, job := range jobs {
		if err := w.processJob(ctx, job); err != nil {
			log.Printf("Error processing job %s: %v", job.ID, err)
		}
	}

	return nil
}

func (w *GraphBuildWorker) processJob(ctx context.Context, job *domain.GraphBuildJob) error {
	if job.LectureID != "" {
		log.Printf("Processing build job %s for lecture %s", job.ID, job.LectureID)
	} else {
		log.Printf("Processing full-corpus build job %s", job.ID)
	}

	report, err := w.service.Build(ctx, service.BuildInput{
		LectureID: job.LectureID,
		OnStage: func(stage domain.BuildStage) {
			if err := w.repo.UpdateStage(ctx, job.ID, stage); err != nil {
				log.Printf("Error recording stage %s for job %s: %v", stage, job.ID, err)
			}
		},
	})

	// The report is produced even for aborted runs and records how far the
	// pipeline got.
	if report != nil {
		if saveErr := w.repo.SaveReport(ctx, job.ID, report); saveErr != nil {
			log.Printf("Error saving report for job %s: %v", job.ID, saveErr)
		}
	}

	if err != nil {
		return w.handleJobFailure(ctx, job, err)
	}

	if err := w.repo.UpdateStatus(ctx, job.ID, domain.GraphBuildJobStatusCompleted, ""); err != nil {
		return fmt.Errorf("failed to update job status to completed: %w", err)
	}

	log.Printf("Build job %s completed successfully", job.ID)
	return nil
}

// handleJobFailure handles a failed job with retry logic
func (w *GraphBuildWorker) handleJobFailure(ctx context.Context, job *domain.GraphBuildJob, jobErr error) error {
	log.Printf("Build job %s failed: %v", job.ID, jobErr)

	// Increment retry count
	if err := w.repo.IncrementRetries(ctx, job.ID); err != nil {
		return fmt.Errorf("failed to increment retries: %w", err)
	}

	// Check if max retries exceeded
	if job.Retries+1 >= MaxRetries {
		log.Printf("Build job %s exceeded max retries (%d), marking as failed", job.ID, MaxRetries)
		errMsg := fmt.Sprintf("max retries exceeded: %v", jobErr)
		if err := w.repo.UpdateStatus(ctx, job.ID, domain.GraphBuildJobStatusFailed, errMsg); err != nil {
			return fmt.Errorf("failed to update job status to failed: %w", err)
		}
		return nil
	}

	// Reset to pending for retry
	log.Printf("Build job %s will be retried (attempt %d/%d)", job.ID, job.Retries+1, MaxRetries)
	errMsg := fmt.Sprintf("retry %d: %v", job.Retries+1, jobErr)
	if err := w.repo.UpdateStatus(ctx, job.ID, domain.GraphBuildJobStatusPending, errMsg); err != nil {
		return fmt.Errorf("failed to reset job status to pending: %w", err)
	}

	return nil
}
