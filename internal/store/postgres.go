package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/verifymyprovider/vmp/internal/db"
	"github.com/verifymyprovider/vmp/internal/model"
)

// PostgresStore implements Store on a shared pgx pool. The pool belongs to
// the caller; Close does not close it.
type PostgresStore struct {
	pool db.Pool
}

// NewPostgres creates a PostgresStore on an open pool.
func NewPostgres(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE SCHEMA IF NOT EXISTS ops;

CREATE TABLE IF NOT EXISTS ops.job_runs (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	job        TEXT NOT NULL,
	dry_run    BOOLEAN NOT NULL DEFAULT false,
	status     TEXT NOT NULL DEFAULT 'running',
	params     JSONB,
	result     JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_job_runs_job ON ops.job_runs(job, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_job_runs_status ON ops.job_runs(status, created_at DESC);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	return nil
}

func (s *PostgresStore) CreateRun(ctx context.Context, job string, dryRun bool, params map[string]any) (*model.JobRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := marshalOptional(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO ops.job_runs (id, job, dry_run, status, params, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, job, dryRun, string(model.JobStatusRunning), paramsJSON, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert run")
	}

	return &model.JobRun{
		ID:        id,
		Job:       job,
		DryRun:    dryRun,
		Status:    model.JobStatusRunning,
		Params:    params,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) finish(ctx context.Context, runID string, status model.JobStatus, result *model.JobResult, msg string) error {
	resultJSON, err := marshalOptional(result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE ops.job_runs SET status = $1, result = $2, error = $3, updated_at = $4 WHERE id = $5`,
		string(status), resultJSON, msg, time.Now().UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	return nil
}

func (s *PostgresStore) CompleteRun(ctx context.Context, runID string, result *model.JobResult) error {
	return s.finish(ctx, runID, model.JobStatusComplete, result, "")
}

func (s *PostgresStore) FailRun(ctx context.Context, runID string, result *model.JobResult, runErr error) error {
	return s.finish(ctx, runID, model.JobStatusFailed, result, errorText(runErr))
}

const postgresRunSelect = `SELECT id, job, dry_run, status, params, result, error, created_at, updated_at FROM ops.job_runs`

func scanPostgresRun(row pgx.Row) (*model.JobRun, error) {
	var r model.JobRun
	var status string
	var params, result []byte
	if err := row.Scan(&r.ID, &r.Job, &r.DryRun, &status, &params, &result, &r.Error, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = model.JobStatus(status)
	if err := unmarshalRun(&r, params, result); err != nil {
		return nil, eris.Wrap(err, "postgres: decode run")
	}
	return &r, nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.JobRun, error) {
	r, err := scanPostgresRun(s.pool.QueryRow(ctx, postgresRunSelect+` WHERE id = $1`, runID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get run %s", runID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.JobRun, error) {
	query := postgresRunSelect + ` WHERE 1=1`
	var args []any
	idx := 1

	if filter.Job != "" {
		query += fmt.Sprintf(` AND job = $%d`, idx)
		args = append(args, filter.Job)
		idx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, idx)
		args = append(args, string(filter.Status))
		idx++
	}
	if !filter.Since.IsZero() {
		query += fmt.Sprintf(` AND created_at >= $%d`, idx)
		args = append(args, filter.Since.UTC())
		idx++
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, idx)
	args = append(args, filter.limit())
	idx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, idx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.JobRun
	for rows.Next() {
		r, err := scanPostgresRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: list runs iterate")
}

func (s *PostgresStore) CountFailedSince(ctx context.Context, since time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM ops.job_runs WHERE status = $1 AND created_at >= $2`,
		string(model.JobStatusFailed), since.UTC(),
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count failed runs")
}
