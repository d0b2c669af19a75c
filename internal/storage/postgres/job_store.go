// Package postgres provides the Postgres-backed JobStore implementation.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackmmaher/appscout/internal/pipeline"
)

// schema creates the jobs table. Applied once at startup; safe to re-run.
const schema = `
CREATE TABLE IF NOT EXISTS pipeline_jobs (
	id           TEXT PRIMARY KEY,
	job_type     TEXT NOT NULL,
	keyword      TEXT NOT NULL,
	category     TEXT NOT NULL DEFAULT '',
	country      TEXT NOT NULL,
	app_ref      TEXT NOT NULL DEFAULT '',
	result_limit INTEGER NOT NULL DEFAULT 0,
	dedup_key    TEXT NOT NULL,
	priority     INTEGER NOT NULL,
	status       TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	started_at   TIMESTAMPTZ,
	finished_at  TIMESTAMPTZ,
	error_text   TEXT NOT NULL DEFAULT '',
	result       JSONB
);
CREATE INDEX IF NOT EXISTS pipeline_jobs_dedup_active
	ON pipeline_jobs (dedup_key) WHERE status IN ('pending', 'processing');
CREATE INDEX IF NOT EXISTS pipeline_jobs_pending
	ON pipeline_jobs (priority DESC, created_at ASC) WHERE status = 'pending';
`

const jobColumns = `id, job_type, keyword, category, country, app_ref, result_limit,
	dedup_key, priority, status, attempts, created_at, started_at, finished_at,
	error_text, result`

type dbConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// JobStore persists pipeline jobs in Postgres.
type JobStore struct {
	db dbConn
}

// NewJobStore connects a pool from the DSN and ensures the schema exists.
func NewJobStore(ctx context.Context, dsn string) (*JobStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	store := &JobStore{db: pool}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

// NewJobStoreWithConn wraps an existing connection, mainly for tests.
func NewJobStoreWithConn(db dbConn) *JobStore {
	return &JobStore{db: db}
}

// Close releases the underlying pool.
func (s *JobStore) Close() {
	s.db.Close()
}

// CreateJob inserts a new pending job row.
func (s *JobStore) CreateJob(ctx context.Context, job pipeline.Job) error {
	const query = `
		INSERT INTO pipeline_jobs
			(id, job_type, keyword, category, country, app_ref, result_limit,
			 dedup_key, priority, status, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := s.db.Exec(ctx, query,
		job.ID, string(job.Type),
		job.Payload.Keyword, job.Payload.Category, job.Payload.Country,
		job.Payload.AppRef, job.Payload.Limit,
		job.DedupKey, job.Priority, string(job.Status), job.Attempts, job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetJob returns a job by id.
func (s *JobStore) GetJob(ctx context.Context, id string) (pipeline.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs WHERE id = $1`
	job, err := scanJob(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// FindActiveByKey returns the pending/processing job holding the dedup key.
func (s *JobStore) FindActiveByKey(ctx context.Context, key string) (pipeline.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs
		WHERE dedup_key = $1 AND status IN ('pending', 'processing')
		LIMIT 1`
	job, err := scanJob(s.db.QueryRow(ctx, query, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return pipeline.Job{}, pipeline.ErrNotFound
	}
	if err != nil {
		return pipeline.Job{}, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

// SelectPending returns up to limit pending jobs in drain order.
func (s *JobStore) SelectPending(ctx context.Context, limit int, types []pipeline.JobType) ([]pipeline.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM pipeline_jobs
		WHERE status = 'pending'`
	args := []any{limit}
	if len(types) > 0 {
		names := make([]string, 0, len(types))
		for _, t := range types {
			names = append(names, string(t))
		}
		query += ` AND job_type = ANY($2)`
		args = append(args, names)
	}
	query += ` ORDER BY priority DESC, created_at ASC LIMIT $1`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []pipeline.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending jobs: %w", err)
	}
	return jobs, nil
}

// UpdateStatus applies a lifecycle transition. The legal source states are
// encoded into the WHERE clause so an illegal move updates zero rows; a
// follow-up lookup distinguishes not-found from invalid-transition.
func (s *JobStore) UpdateStatus(
	ctx context.Context,
	id string,
	status pipeline.JobStatus,
	result json.RawMessage,
	errText string,
) error {
	from := legalSources(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: no state may enter %s", pipeline.ErrInvalidTransition, status)
	}

	const query = `
		UPDATE pipeline_jobs
		SET status = $2,
			error_text = $3,
			result = COALESCE($4, result),
			attempts = attempts + CASE WHEN $2 = 'processing' THEN 1 ELSE 0 END,
			started_at = CASE WHEN $2 = 'processing' AND started_at IS NULL THEN now() ELSE started_at END,
			finished_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE finished_at END
		WHERE id = $1 AND status = ANY($5)`

	var resultArg any
	if result != nil {
		resultArg = []byte(result)
	}
	tag, err := s.db.Exec(ctx, query, id, string(status), errText, resultArg, from)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetJob(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("%w: job %s cannot move to %s", pipeline.ErrInvalidTransition, id, status)
	}
	return nil
}

// Stats aggregates counts by status/type plus recent job summaries.
func (s *JobStore) Stats(ctx context.Context, recent int) (pipeline.Stats, error) {
	stats := pipeline.Stats{
		ByStatus: make(map[pipeline.JobStatus]int),
		ByType:   make(map[pipeline.JobType]int),
	}

	rows, err := s.db.Query(ctx, `SELECT status, job_type, COUNT(*) FROM pipeline_jobs GROUP BY status, job_type`)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status, jobType string
		var count int
		if err := rows.Scan(&status, &jobType, &count); err != nil {
			return pipeline.Stats{}, fmt.Errorf("scan job counts: %w", err)
		}
		stats.ByStatus[pipeline.JobStatus(status)] += count
		stats.ByType[pipeline.JobType(jobType)] += count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return pipeline.Stats{}, fmt.Errorf("iterate job counts: %w", err)
	}

	recentRows, err := s.db.Query(ctx,
		`SELECT id, job_type, keyword, status, priority, created_at
		 FROM pipeline_jobs ORDER BY created_at DESC LIMIT $1`, recent)
	if err != nil {
		return pipeline.Stats{}, fmt.Errorf("list recent jobs: %w", err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		var summary pipeline.Summary
		var jobType, status string
		if err := recentRows.Scan(&summary.ID, &jobType, &summary.Keyword, &status,
			&summary.Priority, &summary.CreatedAt); err != nil {
			return pipeline.Stats{}, fmt.Errorf("scan recent job: %w", err)
		}
		summary.Type = pipeline.JobType(jobType)
		summary.Status = pipeline.JobStatus(status)
		stats.RecentJobs = append(stats.RecentJobs, summary)
	}
	if err := recentRows.Err(); err != nil {
		return pipeline.Stats{}, fmt.Errorf("iterate recent jobs: %w", err)
	}
	return stats, nil
}

// legalSources inverts the transition table for one destination state.
func legalSources(to pipeline.JobStatus) []string {
	var from []string
	for _, candidate := range []pipeline.JobStatus{
		pipeline.StatusPending,
		pipeline.StatusProcessing,
	} {
		if pipeline.CanTransition(candidate, to) {
			from = append(from, string(candidate))
		}
	}
	return from
}

func scanJob(row pgx.Row) (pipeline.Job, error) {
	var job pipeline.Job
	var jobType, status string
	var startedAt, finishedAt *time.Time
	var result []byte
	err := row.Scan(
		&job.ID, &jobType,
		&job.Payload.Keyword, &job.Payload.Category, &job.Payload.Country,
		&job.Payload.AppRef, &job.Payload.Limit,
		&job.DedupKey, &job.Priority, &status, &job.Attempts,
		&job.CreatedAt, &startedAt, &finishedAt, &job.Error, &result,
	)
	if err != nil {
		return pipeline.Job{}, err
	}
	job.Type = pipeline.JobType(jobType)
	job.Status = pipeline.JobStatus(status)
	job.StartedAt = startedAt
	job.FinishedAt = finishedAt
	if len(result) > 0 {
		job.Result = json.RawMessage(result)
	}
	return job, nil
}
