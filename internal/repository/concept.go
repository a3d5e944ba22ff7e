package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/service"
)

type ConceptRepository struct {
	db dbtx
}

func NewConceptRepository(pool *pgxpool.Pool) *ConceptRepository {
	return &ConceptRepository{db: pool}
}

func NewConceptRepositoryWithTx(tx pgx.Tx) *ConceptRepository {
	return &ConceptRepository{db: tx}
}

func (r *ConceptRepository) Create(ctx context.Context, c *domain.Concept) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO concepts (id, name, description, category, embedding, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Name, nullableString(c.Description), c.Category, vectorOrNil(c.Embedding), c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrConceptAlreadyExists
		}
		return err
	}
	return nil
}

func (r *ConceptRepository) GetByID(ctx context.Context, id string) (*domain.Concept, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, description, category, created_at, updated_at
		 FROM concepts WHERE id = $1`,
		id,
	)
	return scanConceptRow(row)
}

// FindByName looks up a concept by case-insensitive exact name match.
func (r *ConceptRepository) FindByName(ctx context.Context, name string) (*domain.Concept, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, name, description, category, created_at, updated_at
		 FROM concepts WHERE lower(name) = $1`,
		domain.NormalizeConceptName(name),
	)
	return scanConceptRow(row)
}

func (r *ConceptRepository) UpdateDescription(ctx context.Context, id, description string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE concepts SET description = $1, updated_at = $2 WHERE id = $3`,
		nullableString(description), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConceptNotFound
	}
	return nil
}

func (r *ConceptRepository) UpdateEmbedding(ctx context.Context, id string, embedding []float32) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE concepts SET embedding = $1, updated_at = $2 WHERE id = $3`,
		pgvector.NewVector(embedding), time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrConceptNotFound
	}
	return nil
}

func (r *ConceptRepository) ListAll(ctx context.Context) ([]*domain.Concept, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, name, description, category, created_at, updated_at
		 FROM concepts ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanConceptRows(rows)
}

// ListWithEmbeddings returns the ids of concepts that have an embedding and
// can therefore anchor a semantic neighbor query.
func (r *ConceptRepository) ListWithEmbeddings(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id FROM concepts WHERE embedding IS NOT NULL ORDER BY name ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// NearestNeighbors returns up to limit concepts closest to the anchor
// concept under cosine distance, excluding the anchor itself and anything
// farther than maxDistance.
func (r *ConceptRepository) NearestNeighbors(ctx context.Context, conceptID string, maxDistance float64, limit int) ([]*service.ConceptNeighbor, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`SELECT b.id, 1 - (b.embedding <=> a.embedding) AS similarity
		 FROM concepts a, concepts b
		 WHERE a.id = $1
		   AND b.id <> a.id
		   AND a.embedding IS NOT NULL
		   AND b.embedding IS NOT NULL
		   AND (b.embedding <=> a.embedding) <= $2
		 ORDER BY b.embedding <=> a.embedding ASC
		 LIMIT $3`,
		conceptID, maxDistance, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var neighbors []*service.ConceptNeighbor
	for rows.Next() {
		var n service.ConceptNeighbor
		if err := rows.Scan(&n.ConceptID, &n.Similarity); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, &n)
	}
	return neighbors, rows.Err()
}

// DeleteOrphans removes every concept with no relationship in either
// direction and returns the number of removed rows.
func (r *ConceptRepository) DeleteOrphans(ctx context.Context) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM concepts c
		 WHERE NOT EXISTS (
			 SELECT 1 FROM concept_relationships r
			 WHERE r.from_concept_id = c.id OR r.to_concept_id = c.id
		 )`,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *ConceptRepository) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM concepts`).Scan(&count)
	return count, err
}

func (r *ConceptRepository) CountByCategory(ctx context.Context) ([]*service.CategoryCount, error) {
	rows, err := r.db.Query(ctx,
		`SELECT category, COUNT(*) FROM concepts GROUP BY category ORDER BY category ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var counts []*service.CategoryCount
	for rows.Next() {
		var c service.CategoryCount
		if err := rows.Scan(&c.Category, &c.Count); err != nil {
			return nil, err
		}
		counts = append(counts, &c)
	}
	return counts, rows.Err()
}

func scanConceptRow(row pgx.Row) (*domain.Concept, error) {
	var c domain.Concept
	var description *string
	err := row.Scan(&c.ID, &c.Name, &description, &c.Category, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrConceptNotFound
		}
		return nil, err
	}
	if description != nil {
		c.Description = *description
	}
	return &c, nil
}

func scanConceptRows(rows pgx.Rows) ([]*domain.Concept, error) {
	var results []*domain.Concept
	for rows.Next() {
		var c domain.Concept
		var description *string
		if err := rows.Scan(&c.ID, &c.Name, &description, &c.Category, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		if description != nil {
			c.Description = *description
		}
		results = append(results, &c)
	}
	return results, rows.Err()
}

func vectorOrNil(embedding []float32) any {
	if len(embedding) == 0 {
		return nil
	}
	return pgvector.NewVector(embedding)
}
