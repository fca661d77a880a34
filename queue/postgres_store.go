package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/jupark12/jobdesc-ingest/models"
)

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id              TEXT PRIMARY KEY,
	container       TEXT NOT NULL,
	source_path     TEXT NOT NULL,
	output_path     TEXT NOT NULL DEFAULT '',
	label           TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	started_at      TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ,
	error_message   TEXT NOT NULL DEFAULT '',
	processing_node TEXT NOT NULL DEFAULT ''
)`

const upsertJob = `
INSERT INTO jobs (id, container, source_path, output_path, label, status,
	created_at, updated_at, started_at, completed_at, error_message, processing_node)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (id) DO UPDATE SET
	container = EXCLUDED.container,
	source_path = EXCLUDED.source_path,
	output_path = EXCLUDED.output_path,
	label = EXCLUDED.label,
	status = EXCLUDED.status,
	updated_at = EXCLUDED.updated_at,
	started_at = EXCLUDED.started_at,
	completed_at = EXCLUDED.completed_at,
	error_message = EXCLUDED.error_message,
	processing_node = EXCLUDED.processing_node`

const selectJobs = `
SELECT id, container, source_path, output_path, label, status,
	created_at, updated_at, started_at, completed_at, error_message, processing_node
FROM jobs
ORDER BY created_at`

// PostgresStore persists job records in a jobs table
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// OpenPostgresStore connects, pings and creates the jobs table if it is missing
func OpenPostgresStore(ctx context.Context, dbURL string, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pc, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "jobdesc-ingest"

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(dialCtx, pc)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := pool.Ping(dialCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Info("connected to job database")
	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx, upsertJob,
		job.ID, job.Container, job.SourcePath, job.OutputPath, job.Label, string(job.Status),
		job.CreatedAt, job.UpdatedAt, nullTime(job.StartedAt), nullTime(job.CompletedAt),
		job.ErrorMessage, job.ProcessingNode,
	)
	if err != nil {
		return fmt.Errorf("save job %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) LoadAll(ctx context.Context) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx, selectJobs)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}

	jobs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*models.Job, error) {
		var (
			job         models.Job
			status      string
			startedAt   *time.Time
			completedAt *time.Time
		)
		if err := row.Scan(&job.ID, &job.Container, &job.SourcePath, &job.OutputPath, &job.Label, &status,
			&job.CreatedAt, &job.UpdatedAt, &startedAt, &completedAt, &job.ErrorMessage, &job.ProcessingNode); err != nil {
			return nil, err
		}
		job.Status = models.JobStatus(status)
		if startedAt != nil {
			job.StartedAt = *startedAt
		}
		if completedAt != nil {
			job.CompletedAt = *completedAt
		}
		return &job, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan jobs: %w", err)
	}
	return jobs, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
