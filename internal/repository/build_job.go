package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/yinkev/Americano-sub010/internal/domain"
	"github.com/yinkev/Americano-sub010/internal/pagination"
	"github.com/yinkev/Americano-sub010/internal/service"
)

type GraphBuildJobRepository struct {
	db dbtx
}

func NewGraphBuildJobRepository(pool *pgxpool.Pool) *GraphBuildJobRepository {
	return &GraphBuildJobRepository{db: pool}
}

func NewGraphBuildJobRepositoryWithTx(tx pgx.Tx) *GraphBuildJobRepository {
	return &GraphBuildJobRepository{db: tx}
}

func (r *GraphBuildJobRepository) Create(ctx context.Context, job *domain.GraphBuildJob) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO graph_build_jobs (id, lecture_id, status, stage, retries, error, created_at, started_at, processed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, nullableString(job.LectureID), job.Status, job.Stage, job.Retries, nullableString(job.Error), job.CreatedAt, job.StartedAt, job.ProcessedAt,
	)
	return err
}

func (r *GraphBuildJobRepository) GetByID(ctx context.Context, id string) (*domain.GraphBuildJob, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, lecture_id, status, stage, retries, error, report, created_at, started_at, processed_at
		 FROM graph_build_jobs WHERE id = $1`,
		id,
	)
	job, err := scanBuildJobRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrGraphBuildJobNotFound
		}
		return nil, err
	}
	return job, nil
}

// ClaimPending atomically marks up to limit pending jobs as processing and
// returns them. Concurrent workers skip rows already claimed.
func (r *GraphBuildJobRepository) ClaimPending(ctx context.Context, limit int) ([]*domain.GraphBuildJob, error) {
	if limit <= 0 {
		limit = 10
	}

	rows, err := r.db.Query(ctx,
		`WITH cte AS (
			 SELECT id
			 FROM graph_build_jobs
			 WHERE status = $1
			 ORDER BY created_at ASC
			 FOR UPDATE SKIP LOCKED
			 LIMIT $2
		 )
		 UPDATE graph_build_jobs
		 SET status = $3,
		     error = NULL,
		     started_at = NOW(),
		     processed_at = NULL
		 FROM cte
		 WHERE graph_build_jobs.id = cte.id
		 RETURNING graph_build_jobs.id, graph_build_jobs.lecture_id, graph_build_jobs.status, graph_build_jobs.stage,
		           graph_build_jobs.retries, graph_build_jobs.error, graph_build_jobs.report,
		           graph_build_jobs.created_at, graph_build_jobs.started_at, graph_build_jobs.processed_at`,
		domain.GraphBuildJobStatusPending, limit, domain.GraphBuildJobStatusProcessing,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.GraphBuildJob
	for rows.Next() {
		job, err := scanBuildJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (r *GraphBuildJobRepository) UpdateStatus(ctx context.Context, id string, status domain.GraphBuildJobStatus, errMsg string) error {
	var processedAt *time.Time
	if status == domain.GraphBuildJobStatusCompleted || status == domain.GraphBuildJobStatusFailed {
		now := time.Now().UTC()
		processedAt = &now
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE graph_build_jobs SET status = $1, error = $2, processed_at = $3 WHERE id = $4`,
		status, nullableString(errMsg), processedAt, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrGraphBuildJobNotFound
	}
	return nil
}

// UpdateStage records pipeline progress so the run can be observed while
// it is still executing.
func (r *GraphBuildJobRepository) UpdateStage(ctx context.Context, id string, stage domain.BuildStage) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE graph_build_jobs SET stage = $1 WHERE id = $2`,
		stage, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrGraphBuildJobNotFound
	}
	return nil
}

func (r *GraphBuildJobRepository) SaveReport(ctx context.Context, id string, report *domain.BuildReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal build report: %w", err)
	}

	cmdTag, err := r.db.Exec(ctx,
		`UPDATE graph_build_jobs SET report = $1, stage = $2 WHERE id = $3`,
		payload, report.Stage, id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrGraphBuildJobNotFound
	}
	return nil
}

func (r *GraphBuildJobRepository) IncrementRetries(ctx context.Context, id string) error {
	cmdTag, err := r.db.Exec(ctx,
		`UPDATE graph_build_jobs SET retries = retries + 1 WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if cmdTag.RowsAffected() == 0 {
		return domain.ErrGraphBuildJobNotFound
	}
	return nil
}

// CountActive returns the number of pending or processing jobs for the
// given scope. An empty lectureID counts full-corpus jobs.
func (r *GraphBuildJobRepository) CountActive(ctx context.Context, lectureID string) (int64, error) {
	query := `SELECT COUNT(*) FROM graph_build_jobs WHERE status IN ($1, $2)`
	args := []interface{}{domain.GraphBuildJobStatusPending, domain.GraphBuildJobStatusProcessing}

	if lectureID != "" {
		query += " AND lecture_id = $3"
		args = append(args, lectureID)
	} else {
		query += " AND lecture_id IS NULL"
	}

	var count int64
	err := r.db.QueryRow(ctx, query, args...).Scan(&count)
	return count, err
}

func (r *GraphBuildJobRepository) ListWithCursor(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.BuildJobPageResult, error) {
	if limit <= 0 {
		limit = 20
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT id, lecture_id, status, stage, retries, error, report, created_at, started_at, processed_at
			 FROM graph_build_jobs
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT id, lecture_id, status, stage, retries, error, report, created_at, started_at, processed_at
			 FROM graph_build_jobs
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}

	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*domain.GraphBuildJob
	for rows.Next() {
		job, err := scanBuildJobRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, job)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hasMore := len(items) > limit
	if hasMore {
		items = items[:limit]
	}

	var nextCursor string
	if hasMore && len(items) > 0 {
		lastItem := items[len(items)-1]
		nextCursor = pagination.EncodeCursor(lastItem.ID, lastItem.CreatedAt)
	}

	return &service.BuildJobPageResult{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func scanBuildJobRow(row pgx.Row) (*domain.GraphBuildJob, error) {
	var job domain.GraphBuildJob
	var lectureID, errMsg, stage pgtype.Text
	var report []byte
	err := row.Scan(&job.ID, &lectureID, &job.Status, &stage, &job.Retries, &errMsg, &report, &job.CreatedAt, &job.StartedAt, &job.ProcessedAt)
	if err != nil {
		return nil, err
	}
	if lectureID.Valid {
		job.LectureID = lectureID.String
	}
	if errMsg.Valid {
		job.Error = errMsg.String
	}
	if stage.Valid {
		job.Stage = domain.BuildStage(stage.String)
	}
	if len(report) > 0 {
		var parsed domain.BuildReport
		if err := json.Unmarshal(report, &parsed); err != nil {
			return nil, fmt.Errorf("failed to unmarshal build report: %w", err)
		}
		job.Report = &parsed
	}
	return &job, nil
}
