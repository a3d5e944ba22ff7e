package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/service"
)

type RelationshipRepository struct {
	db dbtx
}

func NewRelationshipRepository(pool *pgxpool.Pool) *RelationshipRepository {
	return &RelationshipRepository{db: pool}
}

func NewRelationshipRepositoryWithTx(tx pgx.Tx) *RelationshipRepository {
	return &RelationshipRepository{db: tx}
}

// Upsert inserts an edge or, when the (from, to, type) triple already
// exists, keeps the stronger of the stored and incoming strengths. A
// user-defined flag is never cleared by a detected edge.
func (r *RelationshipRepository) Upsert(ctx context.Context, rel *domain.ConceptRelationship) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO concept_relationships (id, from_concept_id, to_concept_id, relationship_type, strength, is_user_defined, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (from_concept_id, to_concept_id, relationship_type)
		 DO UPDATE SET
		     strength = GREATEST(concept_relationships.strength, EXCLUDED.strength),
		     is_user_defined = concept_relationships.is_user_defined OR EXCLUDED.is_user_defined,
		     updated_at = EXCLUDED.updated_at`,
		rel.ID, rel.FromConceptID, rel.ToConceptID, rel.Type, rel.Strength, rel.IsUserDefined, rel.CreatedAt, rel.UpdatedAt,
	)
	return err
}

func (r *RelationshipRepository) GetByTriple(ctx context.Context, fromID, toID string, relType domain.RelationshipType) (*domain.ConceptRelationship, error) {
	var rel domain.ConceptRelationship
	err := r.db.QueryRow(ctx,
		`SELECT id, from_concept_id, to_concept_id, relationship_type, strength, is_user_defined, created_at, updated_at
		 FROM concept_relationships
		 WHERE from_concept_id = $1 AND to_concept_id = $2 AND relationship_type = $3`,
		fromID, toID, relType,
	).Scan(&rel.ID, &rel.FromConceptID, &rel.ToConceptID, &rel.Type, &rel.Strength, &rel.IsUserDefined, &rel.CreatedAt, &rel.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrRelationshipNotFound
		}
		return nil, err
	}
	return &rel, nil
}

func (r *RelationshipRepository) ListByConcept(ctx context.Context, conceptID string) ([]*domain.ConceptRelationship, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, from_concept_id, to_concept_id, relationship_type, strength, is_user_defined, created_at, updated_at
		 FROM concept_relationships
		 WHERE from_concept_id = $1 OR to_concept_id = $1
		 ORDER BY strength DESC`,
		conceptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationshipRows(rows)
}

func (r *RelationshipRepository) ListAll(ctx context.Context) ([]*domain.ConceptRelationship, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, from_concept_id, to_concept_id, relationship_type, strength, is_user_defined, created_at, updated_at
		 FROM concept_relationships
		 ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRelationshipRows(rows)
}

func (r *RelationshipRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM concept_relationships`).Scan(&count)
	return count, err
}

func (r *RelationshipRepository) CountByType(ctx context.Context) ([]*service.TypeCount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT relationship_type, COUNT(*) FROM concept_relationships GROUP BY relationship_type ORDER BY relationship_type ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*service.TypeCount
	for rows.Next() {
		var c service.TypeCount
		if err := rows.Scan(&c.Type, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, &c)
	}
	return counts, rows.Err()
}

func scanRelationshipRows(rows pgx.Rows) ([]*domain.ConceptRelationship, error) {
	var results []*domain.ConceptRelationship
	for rows.Next() {
		var rel domain.ConceptRelationship
		if err := rows.Scan(&rel.ID, &rel.FromConceptID, &rel.ToConceptID, &rel.Type, &rel.Strength, &rel.IsUserDefined, &rel.CreatedAt, &rel.UpdatedAt); err != nil {
			return nil, err
		}
		results = append(results, &rel)
	}
	return results, rows.Err()
}
