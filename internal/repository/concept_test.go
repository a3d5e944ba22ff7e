//go:build integration

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/testutil"
)

// testEmbedding pads the given leading components to the full vector width.
func testEmbedding(components ...float32) []float32 {
	v := make([]float32, 1536)
	copy(v, components)
	return v
}

func createTestConcept(ctx context.Context, t *testing.T, repo *ConceptRepository, name string, category domain.ConceptCategory, embedding []float32) *domain.Concept {
	now := time.Now().UTC().Truncate(time.Microsecond)
	c := domain.NewConcept(uuid.NewString(), name, "test description for "+name, category, embedding, now, now)
	require.NoError(t, repo.Create(ctx, c))
	return c
}

func TestConceptRepository_CreateAndGetByID(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	now := time.Now().UTC().Truncate(time.Microsecond)
	c := domain.NewConcept(uuid.NewString(), "Cardiac Output", "Volume of blood pumped per minute.", domain.ConceptCategoryPhysiology, testEmbedding(1), now, now)
	require.NoError(t, repo.Create(ctx, c))

	retrieved, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, c.ID, retrieved.ID)
	assert.Equal(t, "Cardiac Output", retrieved.Name)
	assert.Equal(t, "Volume of blood pumped per minute.", retrieved.Description)
	assert.Equal(t, domain.ConceptCategoryPhysiology, retrieved.Category)
}

func TestConceptRepository_Create_DuplicateNameCaseInsensitive(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	createTestConcept(ctx, t, repo, "Cardiac Output", domain.ConceptCategoryPhysiology, nil)

	now := time.Now().UTC().Truncate(time.Microsecond)
	dup := domain.NewConcept(uuid.NewString(), "CARDIAC OUTPUT", "", domain.ConceptCategoryPhysiology, nil, now, now)
	err := repo.Create(ctx, dup)
	assert.ErrorIs(t, err, domain.ErrConceptAlreadyExists)
}

func TestConceptRepository_GetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	_, err := repo.GetByID(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrConceptNotFound)
}

func TestConceptRepository_FindByName(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	created := createTestConcept(ctx, t, repo, "Frank-Starling Mechanism", domain.ConceptCategoryPhysiology, nil)

	retrieved, err := repo.FindByName(ctx, "  frank-starling MECHANISM ")
	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)

	_, err = repo.FindByName(ctx, "stroke volume")
	assert.ErrorIs(t, err, domain.ErrConceptNotFound)
}

func TestConceptRepository_FindByName_InteriorSpacing(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	// NewConcept collapses the doubled space before the row is stored
	created := createTestConcept(ctx, t, repo, "CARDIAC  OUTPUT", domain.ConceptCategoryPhysiology, nil)
	assert.Equal(t, "CARDIAC OUTPUT", created.Name)

	retrieved, err := repo.FindByName(ctx, "cardiac output")
	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)

	retrieved, err = repo.FindByName(ctx, "Cardiac \t Output")
	require.NoError(t, err)
	assert.Equal(t, created.ID, retrieved.ID)

	// a respaced duplicate collides on the unique index and the follow-up
	// lookup lands on the stored row
	now := time.Now().UTC().Truncate(time.Microsecond)
	dup := domain.NewConcept(uuid.NewString(), "Cardiac   Output", "", domain.ConceptCategoryPhysiology, nil, now, now)
	require.ErrorIs(t, repo.Create(ctx, dup), domain.ErrConceptAlreadyExists)

	winner, err := repo.FindByName(ctx, "Cardiac   Output")
	require.NoError(t, err)
	assert.Equal(t, created.ID, winner.ID)
}

func TestConceptRepository_UpdateDescription(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	c := createTestConcept(ctx, t, repo, "Preload", domain.ConceptCategoryPhysiology, nil)

	require.NoError(t, repo.UpdateDescription(ctx, c.ID, "End-diastolic ventricular stretch."))

	retrieved, err := repo.GetByID(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "End-diastolic ventricular stretch.", retrieved.Description)

	err = repo.UpdateDescription(ctx, uuid.NewString(), "whatever")
	assert.ErrorIs(t, err, domain.ErrConceptNotFound)
}

func TestConceptRepository_UpdateEmbedding(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	c := createTestConcept(ctx, t, repo, "Afterload", domain.ConceptCategoryPhysiology, nil)

	ids, err := repo.ListWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, repo.UpdateEmbedding(ctx, c.ID, testEmbedding(0.5, 0.5)))

	ids, err = repo.ListWithEmbeddings(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{c.ID}, ids)

	err = repo.UpdateEmbedding(ctx, uuid.NewString(), testEmbedding(1))
	assert.ErrorIs(t, err, domain.ErrConceptNotFound)
}

func TestConceptRepository_NearestNeighbors(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	anchor := createTestConcept(ctx, t, repo, "Cardiac Output", domain.ConceptCategoryPhysiology, testEmbedding(1, 0))
	near := createTestConcept(ctx, t, repo, "Stroke Volume", domain.ConceptCategoryPhysiology, testEmbedding(1, 0.1))
	createTestConcept(ctx, t, repo, "Glycolysis", domain.ConceptCategoryBiochemistry, testEmbedding(0, 1))
	createTestConcept(ctx, t, repo, "No Embedding Yet", domain.ConceptCategoryClinical, nil)

	// Cosine distance anchor->near is ~0.005, anchor->Glycolysis is 1.
	neighbors, err := repo.NearestNeighbors(ctx, anchor.ID, 0.25, 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, near.ID, neighbors[0].ConceptID)
	assert.InDelta(t, 0.995, neighbors[0].Similarity, 0.01)
}

func TestConceptRepository_DeleteOrphans(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	conceptRepo := NewConceptRepository(pool)
	relRepo := NewRelationshipRepository(pool)

	a := createTestConcept(ctx, t, conceptRepo, "Cardiac Output", domain.ConceptCategoryPhysiology, nil)
	b := createTestConcept(ctx, t, conceptRepo, "Stroke Volume", domain.ConceptCategoryPhysiology, nil)
	orphan := createTestConcept(ctx, t, conceptRepo, "Lonely Concept", domain.ConceptCategoryClinical, nil)

	now := time.Now().UTC().Truncate(time.Microsecond)
	rel := domain.NewConceptRelationship(uuid.NewString(), a.ID, b.ID, domain.RelationshipTypeRelated, 0.4, false, now, now)
	require.NoError(t, relRepo.Upsert(ctx, rel))

	removed, err := conceptRepo.DeleteOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	_, err = conceptRepo.GetByID(ctx, orphan.ID)
	assert.ErrorIs(t, err, domain.ErrConceptNotFound)

	_, err = conceptRepo.GetByID(ctx, a.ID)
	assert.NoError(t, err)
	_, err = conceptRepo.GetByID(ctx, b.ID)
	assert.NoError(t, err)
}

func TestConceptRepository_Counts(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	createTestConcept(ctx, t, repo, "Cardiac Output", domain.ConceptCategoryPhysiology, nil)
	createTestConcept(ctx, t, repo, "Stroke Volume", domain.ConceptCategoryPhysiology, nil)
	createTestConcept(ctx, t, repo, "Myocardium", domain.ConceptCategoryAnatomy, nil)

	total, err := repo.CountAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)

	counts, err := repo.CountByCategory(ctx)
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, domain.ConceptCategoryAnatomy, counts[0].Category)
	assert.Equal(t, int64(1), counts[0].Count)
	assert.Equal(t, domain.ConceptCategoryPhysiology, counts[1].Category)
	assert.Equal(t, int64(2), counts[1].Count)
}

func TestConceptRepository_ListAll(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")
	defer pool.Close()

	repo := NewConceptRepository(pool)

	createTestConcept(ctx, t, repo, "Stroke Volume", domain.ConceptCategoryPhysiology, nil)
	createTestConcept(ctx, t, repo, "Cardiac Output", domain.ConceptCategoryPhysiology, nil)

	concepts, err := repo.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, concepts, 2)
	assert.Equal(t, "Cardiac Output", concepts[0].Name)
	assert.Equal(t, "Stroke Volume", concepts[1].Name)
}
