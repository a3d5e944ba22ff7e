package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/service"
)

// MockJobProcessor is a mock implementation of JobProcessor
type MockJobProcessor struct {
	mock.Mock
}

func (m *MockJobProcessor) ProcessJobs(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

// MockGraphBuildJobRepository is a mock implementation of GraphBuildJobRepository
type MockGraphBuildJobRepository struct {
	mock.Mock
}

func (m *MockGraphBuildJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.GraphBuildJob, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.GraphBuildJob), args.Error(1)
}

func (m *MockGraphBuildJobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.GraphBuildJobStatus, errMsg string) error {
	args := m.Called(ctx, jobID, status, errMsg)
	return args.Error(0)
}

func (m *MockGraphBuildJobRepository) UpdateStage(ctx context.Context, jobID string, stage domain.BuildStage) error {
	args := m.Called(ctx, jobID, stage)
	return args.Error(0)
}

func (m *MockGraphBuildJobRepository) SaveReport(ctx context.Context, jobID string, report *domain.BuildReport) error {
	args := m.Called(ctx, jobID, report)
	return args.Error(0)
}

func (m *MockGraphBuildJobRepository) IncrementRetries(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

// MockGraphBuildService is a mock implementation of GraphBuildService
type MockGraphBuildService struct {
	mock.Mock
}

func (m *MockGraphBuildService) Build(ctx context.Context, input service.BuildInput) (*domain.BuildReport, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BuildReport), args.Error(1)
}

// TestWorker_StartStop tests the worker start and stop functionality
func TestWorker_StartStop(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(250 * time.Millisecond)

	// Stop worker
	worker.Stop()
	wg.Wait()

	// Verify ProcessJobs was called at least once
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ContextCancellation tests worker stops on context cancellation
func TestWorker_ContextCancellation(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, 100*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())

	// Start worker in goroutine
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	// Let it run for a bit
	time.Sleep(150 * time.Millisecond)

	// Cancel context
	cancel()
	wg.Wait()

	// Verify ProcessJobs was called
	mockProcessor.AssertCalled(t, "ProcessJobs", mock.Anything)
}

// TestWorker_ImmediatePoll tests that startup polls without waiting a full interval
func TestWorker_ImmediatePoll(t *testing.T) {
	mockProcessor := new(MockJobProcessor)
	mockProcessor.On("ProcessJobs", mock.Anything).Return(nil)

	worker := NewWorker(mockProcessor, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		worker.Start(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	worker.Stop()
	wg.Wait()

	mockProcessor.AssertNumberOfCalls(t, "ProcessJobs", 1)
}

// TestGraphBuildWorker_ProcessJobs_NoPendingJobs tests when there are no pending jobs
func TestGraphBuildWorker_ProcessJobs_NoPendingJobs(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return([]*domain.GraphBuildJob{}, nil)

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertNotCalled(t, "Build", mock.Anything, mock.Anything)
}

// TestGraphBuildWorker_ProcessJobs_Success tests successful job processing
func TestGraphBuildWorker_ProcessJobs_Success(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	job := &domain.GraphBuildJob{
		ID:        "job-1",
		LectureID: "lecture-1",
		Status:    domain.GraphBuildJobStatusProcessing,
		Retries:   0,
	}
	report := &domain.BuildReport{Stage: domain.BuildStageDone, ConceptsCreated: 3}

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return([]*domain.GraphBuildJob{job}, nil)
	mockService.On("Build", mock.Anything, mock.MatchedBy(func(input service.BuildInput) bool {
		return input.LectureID == "lecture-1" && input.OnStage != nil
	})).Return(report, nil)
	mockRepo.On("SaveReport", mock.Anything, "job-1", report).Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GraphBuildJobStatusCompleted, "").Return(nil)

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
}

// TestGraphBuildWorker_ProcessJobs_StageCallbackPersists tests stage transitions are recorded
func TestGraphBuildWorker_ProcessJobs_StageCallbackPersists(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	job := &domain.GraphBuildJob{
		ID:     "job-1",
		Status: domain.GraphBuildJobStatusProcessing,
	}
	report := &domain.BuildReport{Stage: domain.BuildStageDone}

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return([]*domain.GraphBuildJob{job}, nil)
	mockService.On("Build", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			input := args.Get(1).(service.BuildInput)
			input.OnStage(domain.BuildStageExtracting)
			input.OnStage(domain.BuildStageDone)
		}).
		Return(report, nil)
	mockRepo.On("UpdateStage", mock.Anything, "job-1", domain.BuildStageExtracting).Return(nil)
	mockRepo.On("UpdateStage", mock.Anything, "job-1", domain.BuildStageDone).Return(nil)
	mockRepo.On("SaveReport", mock.Anything, "job-1", report).Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GraphBuildJobStatusCompleted, "").Return(nil)

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
}

// TestGraphBuildWorker_ProcessJobs_FailureWithRetry tests job failure with retry
func TestGraphBuildWorker_ProcessJobs_FailureWithRetry(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	job := &domain.GraphBuildJob{
		ID:        "job-1",
		LectureID: "lecture-1",
		Status:    domain.GraphBuildJobStatusProcessing,
		Retries:   0,
	}
	partial := &domain.BuildReport{Stage: domain.BuildStageFetchingChunks}

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return([]*domain.GraphBuildJob{job}, nil)
	mockService.On("Build", mock.Anything, mock.Anything).Return(partial, errors.New("failed to list content chunks"))
	mockRepo.On("SaveReport", mock.Anything, "job-1", partial).Return(nil)
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GraphBuildJobStatusPending, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
}

// TestGraphBuildWorker_ProcessJobs_MaxRetriesExceeded tests job failure after max retries
func TestGraphBuildWorker_ProcessJobs_MaxRetriesExceeded(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	job := &domain.GraphBuildJob{
		ID:      "job-1",
		Status:  domain.GraphBuildJobStatusProcessing,
		Retries: 2, // Already retried twice
	}

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return([]*domain.GraphBuildJob{job}, nil)
	mockService.On("Build", mock.Anything, mock.Anything).Return(nil, errors.New("completion service unavailable"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-1").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GraphBuildJobStatusFailed, mock.MatchedBy(func(msg string) bool {
		return msg != ""
	})).Return(nil)

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockRepo.AssertNotCalled(t, "SaveReport", mock.Anything, mock.Anything, mock.Anything)
}

// TestGraphBuildWorker_ProcessJobs_MultipleJobs tests processing multiple jobs
func TestGraphBuildWorker_ProcessJobs_MultipleJobs(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	jobs := []*domain.GraphBuildJob{
		{ID: "job-1", LectureID: "lecture-1", Status: domain.GraphBuildJobStatusProcessing},
		{ID: "job-2", LectureID: "lecture-2", Status: domain.GraphBuildJobStatusProcessing},
	}
	report := &domain.BuildReport{Stage: domain.BuildStageDone}

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return(jobs, nil)

	// Job 1 succeeds
	mockService.On("Build", mock.Anything, mock.MatchedBy(func(input service.BuildInput) bool {
		return input.LectureID == "lecture-1"
	})).Return(report, nil)
	mockRepo.On("SaveReport", mock.Anything, "job-1", report).Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-1", domain.GraphBuildJobStatusCompleted, "").Return(nil)

	// Job 2 fails and is requeued
	mockService.On("Build", mock.Anything, mock.MatchedBy(func(input service.BuildInput) bool {
		return input.LectureID == "lecture-2"
	})).Return(nil, errors.New("database error"))
	mockRepo.On("IncrementRetries", mock.Anything, "job-2").Return(nil)
	mockRepo.On("UpdateStatus", mock.Anything, "job-2", domain.GraphBuildJobStatusPending, mock.Anything).Return(nil)

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.NoError(t, err)
	mockRepo.AssertExpectations(t)
	mockService.AssertExpectations(t)
}

// TestGraphBuildWorker_ProcessJobs_RepositoryError tests repository error handling
func TestGraphBuildWorker_ProcessJobs_RepositoryError(t *testing.T) {
	mockRepo := new(MockGraphBuildJobRepository)
	mockService := new(MockGraphBuildService)

	mockRepo.On("ClaimPending", mock.Anything, claimBatchSize).Return(nil, errors.New("database error"))

	worker := NewGraphBuildWorker(mockRepo, mockService)
	err := worker.ProcessJobs(context.Background())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to claim pending jobs")
	mockRepo.AssertExpectations(t)
}
