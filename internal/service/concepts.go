package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// ConceptRepositoryInterface defines the repository interface for concept persistence
type ConceptRepositoryInterface interface {
	Create(ctx context.Context, c *domain.Concept) error
	GetByID(ctx context.Context, id string) (*domain.Concept, error)
	FindByName(ctx context.Context, name string) (*domain.Concept, error)
	UpdateDescription(ctx context.Context, id, description string) error
	UpdateEmbedding(ctx context.Context, id string, embedding []float32) error
	ListAll(ctx context.Context) ([]*domain.Concept, error)
	ListWithEmbeddings(ctx context.Context) ([]string, error)
	NearestNeighbors(ctx context.Context, conceptID string, maxDistance float64, limit int) ([]*ConceptNeighbor, error)
	DeleteOrphans(ctx context.Context) (int64, error)
	CountAll(ctx context.Context) (int64, error)
	CountByCategory(ctx context.Context) ([]*CategoryCount, error)
}

// ConceptNeighbor is one nearest-neighbor hit for a concept embedding.
type ConceptNeighbor struct {
	ConceptID  string
	Similarity float64
}

// CategoryCount is the number of concepts in one category.
type CategoryCount struct {
	Category domain.ConceptCategory
	Count    int64
}

// EmbeddingClient defines the interface for generating embeddings
type EmbeddingClient interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// UUIDGenerator defines interface for UUID generation (for testing)
type UUIDGenerator interface {
	NewString() string
}

// DefaultUUIDGenerator is the default UUID generator using google/uuid
type DefaultUUIDGenerator struct{}

// NewString generates a new UUID string
func (g *DefaultUUIDGenerator) NewString() string {
	return uuid.NewString()
}

// ConceptService persists deduplicated concept candidates
type ConceptService struct {
	repo    ConceptRepositoryInterface
	client  EmbeddingClient
	exec    ModelExecutor
	uuidGen UUIDGenerator
}

// NewConceptService creates a new ConceptService instance
func NewConceptService(repo ConceptRepositoryInterface, client EmbeddingClient, exec ModelExecutor) *ConceptService {
	return NewConceptServiceWithUUIDGen(repo, client, exec, &DefaultUUIDGenerator{})
}

// NewConceptServiceWithUUIDGen creates a new ConceptService with custom UUID generator (for testing)
func NewConceptServiceWithUUIDGen(
	repo ConceptRepositoryInterface,
	client EmbeddingClient,
	exec ModelExecutor,
	uuidGen UUIDGenerator,
) *ConceptService {
	return &ConceptService{
		repo:    repo,
		client:  client,
		exec:    exec,
		uuidGen: uuidGen,
	}
}

// StoreResult summarizes one StoreCandidates run
type StoreResult struct {
	Concepts []*domain.Concept
	Created  int
	Reused   int
	Dropped  []StoreDrop
}

// StoreDrop records a candidate that could not be persisted
type StoreDrop struct {
	Name   string
	Reason string
}

// StoreCandidates persists a batch of candidates, reusing existing concepts
// where the name already exists. A candidate whose embedding cannot be
// generated is dropped for this run rather than persisted without one; the
// drop is recorded and the batch continues.
func (s *ConceptService) StoreCandidates(ctx context.Context, candidates []domain.ConceptCandidate) (*StoreResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "ConceptService.StoreCandidates", telemetry.SpanAttributes{
		Operation: "store_candidates",
	})
	defer span.End()

	result := &StoreResult{}
	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		concept, created, err := s.storeCandidate(ctx, cand)
		if err != nil {
			result.Dropped = append(result.Dropped, StoreDrop{Name: cand.Name, Reason: err.Error()})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Reused++
		}
		result.Concepts = append(result.Concepts, concept)
	}

	return result, nil
}

func (s *ConceptService) storeCandidate(ctx context.Context, cand domain.ConceptCandidate) (*domain.Concept, bool, error) {
	existing, err := s.repo.FindByName(ctx, cand.Name)
	if err == nil {
		return s.reuseConcept(ctx, existing, cand)
	}
	if !errors.Is(err, domain.ErrConceptNotFound) {
		return nil, false, err
	}

	embedding, err := s.embedCandidate(ctx, cand)
	if err != nil {
		return nil, false, fmt.Errorf("failed to generate embedding: %w", err)
	}

	now := time.Now().UTC()
	concept := domain.NewConcept(s.uuidGen.NewString(), cand.Name, cand.Description, cand.Category, embedding, now, now)
	if err := domain.ValidateConcept(concept); err != nil {
		return nil, false, err
	}

	if err := s.repo.Create(ctx, concept); err != nil {
		if errors.Is(err, domain.ErrConceptAlreadyExists) {
			// Lost an insert race on the unique name index; the stored row wins.
			winner, ferr := s.repo.FindByName(ctx, cand.Name)
			if ferr != nil {
				return nil, false, ferr
			}
			return s.reuseConcept(ctx, winner, cand)
		}
		return nil, false, err
	}

	return concept, true, nil
}

// reuseConcept returns the stored concept, backfilling an empty description
// from the candidate. Embeddings are never recomputed on reuse.
func (s *ConceptService) reuseConcept(ctx context.Context, existing *domain.Concept, cand domain.ConceptCandidate) (*domain.Concept, bool, error) {
	if existing.Description == "" && cand.Description != "" {
		if err := s.repo.UpdateDescription(ctx, existing.ID, cand.Description); err != nil {
			return nil, false, err
		}
		existing.Description = cand.Description
	}
	return existing, false, nil
}

func (s *ConceptService) embedCandidate(ctx context.Context, cand domain.ConceptCandidate) ([]float32, error) {
	var embedding []float32
	err := s.exec.Do(ctx, "embedding", func(ctx context.Context) error {
		out, err := s.client.GenerateEmbedding(ctx, cand.EmbeddingText())
		if err != nil {
			return err
		}
		embedding = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return embedding, nil
}
