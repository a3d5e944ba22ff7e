package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/telemetry"
)

// SnapshotStore uploads snapshot documents to object storage
type SnapshotStore interface {
	PutObject(ctx context.Context, key string, body []byte, contentType string) error
}

const snapshotKeyPrefix = "graph/snapshots/"

// SnapshotService exports the current graph as a JSON document for
// dashboards and offline analysis
type SnapshotService struct {
	concepts      ConceptRepositoryInterface
	relationships RelationshipRepositoryInterface
	store         SnapshotStore
}

// NewSnapshotService creates a new SnapshotService instance. A nil store
// disables exporting.
func NewSnapshotService(
	concepts ConceptRepositoryInterface,
	relationships RelationshipRepositoryInterface,
	store SnapshotStore,
) *SnapshotService {
	return &SnapshotService{
		concepts:      concepts,
		relationships: relationships,
		store:         store,
	}
}

type snapshotConcept struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Category    string `json:"category"`
}

type snapshotEdge struct {
	FromConceptID string  `json:"from_concept_id"`
	ToConceptID   string  `json:"to_concept_id"`
	Type          string  `json:"type"`
	Strength      float64 `json:"strength"`
	IsUserDefined bool    `json:"is_user_defined"`
}

type snapshotDocument struct {
	GeneratedAt   time.Time         `json:"generated_at"`
	ConceptCount  int               `json:"concept_count"`
	EdgeCount     int               `json:"edge_count"`
	Concepts      []snapshotConcept `json:"concepts"`
	Relationships []snapshotEdge    `json:"relationships"`
}

// Export uploads a snapshot of all concepts and relationships and returns
// the object key. Embeddings are not included.
func (s *SnapshotService) Export(ctx context.Context) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "SnapshotService.Export", telemetry.SpanAttributes{
		Operation: "export",
	})
	defer span.End()

	if s.store == nil {
		return "", domain.ErrSnapshotDisabled
	}

	concepts, err := s.concepts.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list concepts: %w", err)
	}
	relationships, err := s.relationships.ListAll(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list relationships: %w", err)
	}

	now := time.Now().UTC()
	doc := snapshotDocument{
		GeneratedAt:   now,
		ConceptCount:  len(concepts),
		EdgeCount:     len(relationships),
		Concepts:      make([]snapshotConcept, 0, len(concepts)),
		Relationships: make([]snapshotEdge, 0, len(relationships)),
	}
	for _, c := range concepts {
		doc.Concepts = append(doc.Concepts, snapshotConcept{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Category:    string(c.Category),
		})
	}
	for _, r := range relationships {
		doc.Relationships = append(doc.Relationships, snapshotEdge{
			FromConceptID: r.FromConceptID,
			ToConceptID:   r.ToConceptID,
			Type:          string(r.Type),
			Strength:      r.Strength,
			IsUserDefined: r.IsUserDefined,
		})
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("%s%s.json", snapshotKeyPrefix, now.Format("20060102T150405Z"))
	if err := s.store.PutObject(ctx, key, body, "application/json"); err != nil {
		return "", fmt.Errorf("failed to upload snapshot: %w", err)
	}

	return key, nil
}
