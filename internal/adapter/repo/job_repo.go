package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaforge/internal/domain"
	"mediaforge/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL. Terminal
// rows are guarded in SQL: once a job is completed or failed no update
// touches it again, making terminal writes idempotent.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

// EnsureSchema creates the jobs table and its indexes when missing.
func (r *JobRepositoryPG) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, sqlinline.QCreateJobsTable); err != nil {
		return fmt.Errorf("repo: ensure schema: %w", err)
	}
	return nil
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	query := `
INSERT INTO jobs (id, kind, status, input, progress)
VALUES ($1, $2, $3, $4, $5);
`
	_, err := r.pool.Exec(ctx, query,
		job.ID,
		job.Kind,
		job.Status,
		job.Input,
		job.Progress,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	query := `
SELECT id, kind, status, input, progress, result_url, error_message, created_at, updated_at, completed_at
FROM jobs
WHERE id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Input,
		&job.Progress,
		&job.ResultURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// Update applies a partial mutation atomically. Progress only moves forward
// and terminal rows are never modified.
func (r *JobRepositoryPG) Update(ctx context.Context, jobID string, update domain.JobUpdate) error {
	query := `
UPDATE jobs
SET status = COALESCE($2, status),
    progress = GREATEST(progress, COALESCE($3, progress)),
    result_url = COALESCE($4, result_url),
    error_message = COALESCE($5, error_message),
    completed_at = COALESCE($6, completed_at),
    updated_at = NOW()
WHERE id = $1
  AND status NOT IN ('completed', 'failed');
`
	_, err := r.pool.Exec(ctx, query,
		jobID,
		update.Status,
		update.Progress,
		update.ResultURL,
		update.Error,
		update.CompletedAt,
	)
	return err
}

// ClaimPending atomically claims the oldest pending job for this worker,
// moving it to processing. Returns domain.ErrNotFound when the queue is
// empty.
func (r *JobRepositoryPG) ClaimPending(ctx context.Context) (*domain.Job, error) {
	query := `
UPDATE jobs
SET status = 'processing', updated_at = NOW()
WHERE id = (
    SELECT id FROM jobs
    WHERE status = 'pending'
    ORDER BY created_at
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING id, kind, status, input, progress, result_url, error_message, created_at, updated_at, completed_at;
`
	row := r.pool.QueryRow(ctx, query)
	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.Kind,
		&job.Status,
		&job.Input,
		&job.Progress,
		&job.ResultURL,
		&job.ErrorMessage,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &job, nil
}

// FailStalled fails processing jobs that have not been touched within
// olderThan. These are crash leftovers: the runner that owned them is gone
// and they will never progress again.
func (r *JobRepositoryPG) FailStalled(ctx context.Context, olderThan time.Duration) (int64, error) {
	query := `
UPDATE jobs
SET status = 'failed',
    error_message = $2,
    completed_at = NOW(),
    updated_at = NOW()
WHERE status = 'processing'
  AND updated_at < NOW() - $1::interval;
`
	interval := fmt.Sprintf("%d seconds", int(olderThan.Seconds()))
	tag, err := r.pool.Exec(ctx, query, interval, domain.ErrJobStalled.Error())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
