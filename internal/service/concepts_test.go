package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/yinkev/Americano-sub010/internal/domain"
)

// MockConceptRepository is a mock implementation of ConceptRepositoryInterface
type MockConceptRepository struct {
	mock.Mock
}

func (m *MockConceptRepository) Create(ctx context.Context, c *domain.Concept) error {
	args := m.Called(ctx, c)
	return args.Error(0)
}

func (m *MockConceptRepository) GetByID(ctx context.Context, id string) (*domain.Concept, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Concept), args.Error(1)
}

func (m *MockConceptRepository) FindByName(ctx context.Context, name string) (*domain.Concept, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Concept), args.Error(1)
}

func (m *MockConceptRepository) UpdateDescription(ctx context.Context, id, description string) error {
	args := m.Called(ctx, id, description)
	return args.Error(0)
}

func (m *MockConceptRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	args := m.Called(ctx, id, embedding)
	return args.Error(0)
}

func (m *MockConceptRepository) ListAll(ctx context.Context) ([]*domain.Concept, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Concept), args.Error(1)
}

func (m *MockConceptRepository) ListWithEmbeddings(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockConceptRepository) NearestNeighbors(ctx context.Context, conceptID string, maxDistance float64, limit int) ([]*ConceptNeighbor, error) {
	args := m.Called(ctx, conceptID, maxDistance, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*ConceptNeighbor), args.Error(1)
}

func (m *MockConceptRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConceptRepository) CountAll(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockConceptRepository) CountByCategory(ctx context.Context) ([]*CategoryCount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*CategoryCount), args.Error(1)
}

// MockEmbeddingClient is a mock implementation of EmbeddingClient
type MockEmbeddingClient struct {
	mock.Mock
}

func (m *MockEmbeddingClient) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]float32), args.Error(1)
}

// MockUUIDGenerator is a mock implementation of UUIDGenerator
type MockUUIDGenerator struct {
	mock.Mock
	callCount int
	uuids     []string
}

func NewMockUUIDGenerator(uuids ...string) *MockUUIDGenerator {
	return &MockUUIDGenerator{uuids: uuids}
}

func (m *MockUUIDGenerator) NewString() string {
	if m.callCount < len(m.uuids) {
		uuid := m.uuids[m.callCount]
		m.callCount++
		return uuid
	}
	return "default-uuid"
}

func TestConceptService_StoreCandidates(t *testing.T) {
	ctx := context.Background()

	t.Run("creates a new concept with its embedding", func(t *testing.T) {
		mockRepo := new(MockConceptRepository)
		mockClient := new(MockEmbeddingClient)
		mockUUIDGen := NewMockUUIDGenerator("concept-id-1")
		service := NewConceptServiceWithUUIDGen(mockRepo, mockClient, passthroughExecutor{}, mockUUIDGen)

		embedding := []float32{0.1, 0.2, 0.3}
		mockRepo.On("FindByName", mock.Anything, "Cardiac Output").Return(nil, domain.ErrConceptNotFound)
		mockClient.On("GenerateEmbedding", mock.Anything, "Cardiac Output: Volume pumped per minute.").Return(embedding, nil)
		mockRepo.On("Create", mock.Anything, mock.MatchedBy(func(c *domain.Concept) bool {
			return c.ID == "concept-id-1" &&
				c.Name == "Cardiac Output" &&
				c.Category == domain.ConceptCategoryPhysiology &&
				len(c.Embedding) == 3
		})).Return(nil)

		result, err := service.StoreCandidates(ctx, []domain.ConceptCandidate{
			{Name: "Cardiac Output", Description: "Volume pumped per minute.", Category: domain.ConceptCategoryPhysiology},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		assert.Equal(t, 0, result.Reused)
		assert.Empty(t, result.Dropped)
		require.Len(t, result.Concepts, 1)
		assert.Equal(t, "concept-id-1", result.Concepts[0].ID)
		mockRepo.AssertExpectations(t)
		mockClient.AssertExpectations(t)
	})

	t.Run("reuses an existing concept without recomputing the embedding", func(t *testing.T) {
		mockRepo := new(MockConceptRepository)
		mockClient := new(MockEmbeddingClient)
		service := NewConceptService(mockRepo, mockClient, passthroughExecutor{})

		existing := &domain.Concept{ID: "existing-1", Name: "Cardiac Output", Description: "Already described.", Category: domain.ConceptCategoryPhysiology}
		mockRepo.On("FindByName", mock.Anything, "cardiac output").Return(existing, nil)

		result, err := service.StoreCandidates(ctx, []domain.ConceptCandidate{
			{Name: "cardiac output", Description: "New description.", Category: domain.ConceptCategoryPhysiology},
		})

		require.NoError(t, err)
		assert.Equal(t, 0, result.Created)
		assert.Equal(t, 1, result.Reused)
		require.Len(t, result.Concepts, 1)
		assert.Equal(t, "existing-1", result.Concepts[0].ID)
		assert.Equal(t, "Already described.", result.Concepts[0].Description)
		mockClient.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
		mockRepo.AssertNotCalled(t, "UpdateDescription", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("backfills an empty description on reuse", func(t *testing.T) {
		mockRepo := new(MockConceptRepository)
		mockClient := new(MockEmbeddingClient)
		service := NewConceptService(mockRepo, mockClient, passthroughExecutor{})

		existing := &domain.Concept{ID: "existing-1", Name: "Nephron", Description: "", Category: domain.ConceptCategoryAnatomy}
		mockRepo.On("FindByName", mock.Anything, "Nephron").Return(existing, nil)
		mockRepo.On("UpdateDescription", mock.Anything, "existing-1", "Functional unit of the kidney.").Return(nil)

		result, err := service.StoreCandidates(ctx, []domain.ConceptCandidate{
			{Name: "Nephron", Description: "Functional unit of the kidney.", Category: domain.ConceptCategoryAnatomy},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Reused)
		assert.Equal(t, "Functional unit of the kidney.", result.Concepts[0].Description)
		mockRepo.AssertExpectations(t)
	})

	t.Run("drops a candidate whose embedding fails and continues the batch", func(t *testing.T) {
		mockRepo := new(MockConceptRepository)
		mockClient := new(MockEmbeddingClient)
		mockUUIDGen := NewMockUUIDGenerator("concept-id-1")
		service := NewConceptServiceWithUUIDGen(mockRepo, mockClient, passthroughExecutor{}, mockUUIDGen)

		mockRepo.On("FindByName", mock.Anything, "Unembeddable").Return(nil, domain.ErrConceptNotFound)
		mockClient.On("GenerateEmbedding", mock.Anything, "Unembeddable: bad.").Return(nil, errors.New("embedding service down"))

		mockRepo.On("FindByName", mock.Anything, "Nephron").Return(nil, domain.ErrConceptNotFound)
		mockClient.On("GenerateEmbedding", mock.Anything, "Nephron: good.").Return([]float32{0.5}, nil)
		mockRepo.On("Create", mock.Anything, mock.Anything).Return(nil)

		result, err := service.StoreCandidates(ctx, []domain.ConceptCandidate{
			{Name: "Unembeddable", Description: "bad.", Category: domain.ConceptCategoryClinical},
			{Name: "Nephron", Description: "good.", Category: domain.ConceptCategoryAnatomy},
		})

		require.NoError(t, err)
		assert.Equal(t, 1, result.Created)
		require.Len(t, result.Dropped, 1)
		assert.Equal(t, "Unembeddable", result.Dropped[0].Name)
		assert.Contains(t, result.Dropped[0].Reason, "embedding service down")
		require.Len(t, result.Concepts, 1)
		assert.Equal(t, "Nephron", result.Concepts[0].Name)
	})

	t.Run("treats an insert conflict as reuse of the stored winner", func(t *testing.T) {
		mockRepo := new(MockConceptRepository)
		mockClient := new(MockEmbeddingClient)
		mockUUIDGen := NewMockUUIDGenerator("loser-id")
		service := NewConceptServiceWithUUIDGen(mockRepo, mockClient, passthroughExecutor{}, mockUUIDGen)

		winner := &domain.Concept{ID: "winner-id", Name: "Cardiac Output", Description: "Stored first.", Category: domain.ConceptCategoryPhysiology}
		mockRepo.On("FindByName", mock.Anything, "Cardiac Output").Return(nil, domain.ErrConceptNotFound).Once()
		mockClient.On("GenerateEmbedding", mock.Anything, mock.Anything).Return([]float32{0.1}, nil)
		mockRepo.On("Create", mock.Anything, mock.Anything).Return(domain.ErrConceptAlreadyExists)
		mockRepo.On("FindByName", mock.Anything, "Cardiac Output").Return(winner, nil).Once()

		result, err := service.StoreCandidates(ctx, []domain.ConceptCandidate{
			{Name: "Cardiac Output", Description: "Lost the race.", Category: domain.ConceptCategoryPhysiology},
		})

		require.NoError(t, err)
		assert.Equal(t, 0, result.Created)
		assert.Equal(t, 1, result.Reused)
		require.Len(t, result.Concepts, 1)
		assert.Equal(t, "winner-id", result.Concepts[0].ID)
	})

	t.Run("stops when the context is canceled", func(t *testing.T) {
		mockRepo := new(MockConceptRepository)
		mockClient := new(MockEmbeddingClient)
		service := NewConceptService(mockRepo, mockClient, passthroughExecutor{})

		canceled, cancel := context.WithCancel(ctx)
		cancel()

		result, err := service.StoreCandidates(canceled, []domain.ConceptCandidate{
			{Name: "Nephron", Category: domain.ConceptCategoryAnatomy},
		})

		assert.Nil(t, result)
		assert.ErrorIs(t, err, context.Canceled)
		mockRepo.AssertNotCalled(t, "FindByName", mock.Anything, mock.Anything)
	})
}
