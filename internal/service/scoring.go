package service

import (
	"context"
	"fmt"
	"time"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// RelationshipRepositoryInterface defines the repository interface for relationship persistence
type RelationshipRepositoryInterface interface {
	Upsert(ctx context.Context, rel *domain.ConceptRelationship) error
	GetByTriple(ctx context.Context, fromID, toID string, relType domain.RelationshipType) (*domain.ConceptRelationship, error)
	ListByConcept(ctx context.Context, conceptID string) ([]*domain.ConceptRelationship, error)
	ListAll(ctx context.Context) ([]*domain.ConceptRelationship, error)
	CountAll(ctx context.Context) (int64, error)
	CountByType(ctx context.Context) ([]*TypeCount, error)
}

// TypeCount is the number of relationships of one type.
type TypeCount struct {
	Type  domain.RelationshipType
	Count int64
}

// RelationshipStoreService persists detected edges in a single transaction
type RelationshipStoreService struct {
	txRunner TxRunner
	uuidGen  UUIDGenerator
}

// NewRelationshipStoreService creates a new RelationshipStoreService instance
func NewRelationshipStoreService(txRunner TxRunner) *RelationshipStoreService {
	return NewRelationshipStoreServiceWithUUIDGen(txRunner, &DefaultUUIDGenerator{})
}

// NewRelationshipStoreServiceWithUUIDGen creates a new RelationshipStoreService with custom UUID generator (for testing)
func NewRelationshipStoreServiceWithUUIDGen(txRunner TxRunner, uuidGen UUIDGenerator) *RelationshipStoreService {
	return &RelationshipStoreService{
		txRunner: txRunner,
		uuidGen:  uuidGen,
	}
}

// StoreEdges upserts the batch atomically. An existing (from, to, type) triple
// only ever gains strength, and a user-defined flag survives re-detection.
func (s *RelationshipStoreService) StoreEdges(ctx context.Context, edges []*domain.ConceptRelationship) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "RelationshipStoreService.StoreEdges", telemetry.SpanAttributes{
		Operation: "store_edges",
	})
	defer span.End()

	if len(edges) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	stored := 0
	err := s.txRunner.WithTx(ctx, func(repos TxRepositories) error {
		relRepo := repos.Relationships()
		for _, edge := range edges {
			rel := domain.NewConceptRelationship(
				s.uuidGen.NewString(),
				edge.FromConceptID,
				edge.ToConceptID,
				edge.Type,
				edge.Strength,
				edge.IsUserDefined,
				now,
				now,
			)
			if err := domain.ValidateConceptRelationship(rel); err != nil {
				return fmt.Errorf("invalid edge %s -> %s: %w", edge.FromConceptID, edge.ToConceptID, err)
			}
			if err := relRepo.Upsert(ctx, rel); err != nil {
				return err
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	return stored, nil
}
