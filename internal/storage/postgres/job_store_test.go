package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/jackmmaher/appscout/internal/pipeline"
)

func TestCreateJobInsertsRow(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithConn(mock)
	now := time.Unix(1700000000, 0).UTC()
	payload := pipeline.Payload{Keyword: "meal planner", Country: "us", Limit: 25}
	job := pipeline.Job{
		ID:        "job-1",
		Type:      pipeline.TypeDiscover,
		Payload:   payload,
		DedupKey:  pipeline.DedupKey(pipeline.TypeDiscover, payload),
		Priority:  10,
		Status:    pipeline.StatusPending,
		CreatedAt: now,
	}

	mock.ExpectExec("INSERT INTO pipeline_jobs").
		WithArgs(
			job.ID, "discover",
			"meal planner", "", "us", "", 25,
			job.DedupKey, 10, "pending", 0, now,
		).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CreateJob(context.Background(), job))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetJobNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithConn(mock)

	mock.ExpectQuery("SELECT (.+) FROM pipeline_jobs WHERE id").
		WithArgs("missing").
		WillReturnError(pgxErrNoRows())

	_, err = store.GetJob(context.Background(), "missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusInvalidTransition(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithConn(mock)
	now := time.Unix(1700000000, 0).UTC()

	// Zero rows updated, then the follow-up lookup finds a terminal job.
	mock.ExpectExec("UPDATE pipeline_jobs").
		WithArgs("job-1", "processing", "", nil, []string{"pending"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	mock.ExpectQuery("SELECT (.+) FROM pipeline_jobs WHERE id").
		WithArgs("job-1").
		WillReturnRows(jobRows(mock, "job-1", "completed", now))

	err = store.UpdateStatus(context.Background(), "job-1", pipeline.StatusProcessing, nil, "")
	require.ErrorIs(t, err, pipeline.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatusToCompleted(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithConn(mock)

	mock.ExpectExec("UPDATE pipeline_jobs").
		WithArgs("job-1", "completed", "", []byte(`{"score":42}`), []string{"processing"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = store.UpdateStatus(context.Background(), "job-1", pipeline.StatusCompleted, []byte(`{"score":42}`), "")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectPendingWithTypeFilter(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithConn(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT (.+) FROM pipeline_jobs").
		WithArgs(5, []string{"discover"}).
		WillReturnRows(jobRows(mock, "job-1", "pending", now))

	jobs, err := store.SelectPending(context.Background(), 5, []pipeline.JobType{pipeline.TypeDiscover})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.Equal(t, "job-1", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatsAggregates(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store := NewJobStoreWithConn(mock)
	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT status, job_type, COUNT").
		WillReturnRows(pgxmock.NewRows([]string{"status", "job_type", "count"}).
			AddRow("pending", "discover", 2).
			AddRow("completed", "discover", 1).
			AddRow("failed", "score_basic", 1))
	mock.ExpectQuery("SELECT id, job_type, keyword, status, priority, created_at").
		WithArgs(10).
		WillReturnRows(pgxmock.NewRows([]string{"id", "job_type", "keyword", "status", "priority", "created_at"}).
			AddRow("job-9", "discover", "meal planner", "pending", 10, now))

	stats, err := store.Stats(context.Background(), 10)
	require.NoError(t, err)
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 3, stats.ByType[pipeline.TypeDiscover])
	require.Equal(t, 2, stats.ByStatus[pipeline.StatusPending])
	require.Len(t, stats.RecentJobs, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func jobRows(mock pgxmock.PgxPoolIface, id, status string, created time.Time) *pgxmock.Rows {
	return mock.NewRows([]string{
		"id", "job_type", "keyword", "category", "country", "app_ref", "result_limit",
		"dedup_key", "priority", "status", "attempts", "created_at", "started_at",
		"finished_at", "error_text", "result",
	}).AddRow(
		id, "discover", "meal planner", "", "us", "", 0,
		"key", 10, status, 1, created, (*time.Time)(nil),
		(*time.Time)(nil), "", []byte(nil),
	)
}

func pgxErrNoRows() error {
	return pgx.ErrNoRows
}
