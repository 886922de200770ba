package queue

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Postgres implements Store using PostgreSQL via database/sql.
// Only this package and main touch *sql.DB.
type Postgres struct {
	db *sql.DB
}

// NewPostgres returns a Store backed by the given database handle.
// Caller owns the handle and must close it when done.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS backport_jobs (
    id            UUID PRIMARY KEY,
    repository    TEXT        NOT NULL,
    target_branch TEXT        NOT NULL,
    filter_query  TEXT        NOT NULL,
    callback_url  TEXT        NOT NULL DEFAULT '',
    status        TEXT        NOT NULL DEFAULT 'queued',
    error         TEXT        NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS backport_jobs_status_created_idx
    ON backport_jobs (status, created_at);
`

// EnsureSchema creates the jobs table if it does not exist. Mirrors
// migrations/000001_init.up.sql for deployments without a migration runner.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *Postgres) Enqueue(ctx context.Context, params EnqueueParams) (*Job, error) {
	job := &Job{
		ID:           uuid.NewString(),
		Repository:   params.Repository,
		TargetBranch: params.TargetBranch,
		FilterQuery:  params.FilterQuery,
		CallbackURL:  params.CallbackURL,
		Status:       StatusQueued,
	}
	err := p.db.QueryRowContext(ctx, `
		INSERT INTO backport_jobs (id, repository, target_branch, filter_query, callback_url, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, job.ID, job.Repository, job.TargetBranch, job.FilterQuery, job.CallbackURL, string(job.Status)).
		Scan(&job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ClaimNext moves the oldest queued job to running and returns it.
// FOR UPDATE SKIP LOCKED keeps concurrent claimants from racing on the same
// row, so each job is handed out at most once.
func (p *Postgres) ClaimNext(ctx context.Context) (*Job, error) {
	job := &Job{}
	var status string
	err := p.db.QueryRowContext(ctx, `
		UPDATE backport_jobs
		SET status = 'running', updated_at = now()
		WHERE id = (
			SELECT id FROM backport_jobs
			WHERE status = 'queued'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, repository, target_branch, filter_query, callback_url, status, error, created_at, updated_at
	`).Scan(&job.ID, &job.Repository, &job.TargetBranch, &job.FilterQuery, &job.CallbackURL,
		&status, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	job.Status = Status(status)
	return job, nil
}

func (p *Postgres) Complete(ctx context.Context, id string) error {
	return p.finish(ctx, id, StatusCompleted, "")
}

func (p *Postgres) Fail(ctx context.Context, id string, errText string) error {
	return p.finish(ctx, id, StatusFailed, errText)
}

// finish transitions a running job to a terminal state. The status guard in
// the WHERE clause rejects double completion and completion of unclaimed jobs.
func (p *Postgres) finish(ctx context.Context, id string, status Status, errText string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE backport_jobs
		SET status = $2, error = $3, updated_at = now()
		WHERE id = $1 AND status = 'running'
	`, id, string(status), errText)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrInvalidTransition
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, id string) (*Job, error) {
	job := &Job{}
	var status string
	err := p.db.QueryRowContext(ctx, `
		SELECT id, repository, target_branch, filter_query, callback_url, status, error, created_at, updated_at
		FROM backport_jobs
		WHERE id = $1
	`, id).Scan(&job.ID, &job.Repository, &job.TargetBranch, &job.FilterQuery, &job.CallbackURL,
		&status, &job.Error, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	job.Status = Status(status)
	return job, nil
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

var _ Store = (*Postgres)(nil)
