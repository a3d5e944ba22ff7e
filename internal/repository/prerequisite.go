package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yinkev/Americano-sub010/internal/domain"
)

// PrerequisiteRepository reads learning objective dependencies maintained
// by the curriculum service.
type PrerequisiteRepository struct {
	db dbtx
}

func NewPrerequisiteRepository(pool *pgxpool.Pool) *PrerequisiteRepository {
	return &PrerequisiteRepository{db: pool}
}

func NewPrerequisiteRepositoryWithTx(tx pgx.Tx) *PrerequisiteRepository {
	return &PrerequisiteRepository{db: tx}
}

// ListEdges returns all objective prerequisite edges with the descriptive
// text of both endpoints, for projection onto concepts.
func (r *PrerequisiteRepository) ListEdges(ctx context.Context) ([]*domain.PrerequisiteEdge, error) {
	rows, err := r.db.Query(ctx,
		`SELECT op.from_objective_id, op.to_objective_id, f.description, t.description, op.confidence
		 FROM objective_prerequisites op
		 JOIN learning_objectives f ON f.id = op.from_objective_id
		 JOIN learning_objectives t ON t.id = op.to_objective_id
		 ORDER BY op.from_objective_id ASC, op.to_objective_id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []*domain.PrerequisiteEdge
	for rows.Next() {
		var e domain.PrerequisiteEdge
		if err := rows.Scan(&e.FromObjectiveID, &e.ToObjectiveID, &e.FromText, &e.ToText, &e.Confidence); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
