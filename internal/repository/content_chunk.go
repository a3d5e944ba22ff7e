package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yinkev/Americano-sub010/internal/domain"
)

// ContentChunkRepository reads processed lecture chunks produced by the
// ingest service. The graph pipeline never writes to this table.
type ContentChunkRepository struct {
	db dbtx
}

func NewContentChunkRepository(pool *pgxpool.Pool) *ContentChunkRepository {
	return &ContentChunkRepository{db: pool}
}

func NewContentChunkRepositoryWithTx(tx pgx.Tx) *ContentChunkRepository {
	return &ContentChunkRepository{db: tx}
}

// ListCompleted returns chunks whose upstream processing finished, in
// lecture and chunk order. An empty lectureID returns the whole corpus.
func (r *ContentChunkRepository) ListCompleted(ctx context.Context, lectureID string) ([]*domain.ContentChunk, error) {
	query := `
		SELECT id, lecture_id, course_id, chunk_index, content, status, created_at
		FROM content_chunks
		WHERE status = $1`
	args := []interface{}{domain.ChunkStatusCompleted}

	if lectureID != "" {
		query += " AND lecture_id = $2"
		args = append(args, lectureID)
	}

	query += " ORDER BY lecture_id ASC, chunk_index ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []*domain.ContentChunk
	for rows.Next() {
		var c domain.ContentChunk
		var courseID *string
		if err := rows.Scan(&c.ID, &c.LectureID, &courseID, &c.ChunkIndex, &c.Text, &c.Status, &c.CreatedAt); err != nil {
			return nil, err
		}
		if courseID != nil {
			c.CourseID = *courseID
		}
		chunks = append(chunks, &c)
	}
	return chunks, rows.Err()
}

func (r *ContentChunkRepository) CountCompleted(ctx context.Context, lectureID string) (int64, error) {
	query := `SELECT COUNT(*) FROM content_chunks WHERE status = $1`
	args := []interface{}{domain.ChunkStatusCompleted}

	if lectureID != "" {
		query += " AND lecture_id = $2"
		args = append(args, lectureID)
	}

	var count int64
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}
