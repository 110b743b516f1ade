// Package postgres implements the job and connection repositories on
// PostgreSQL through sqlx.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/shared/postgresql"
)

const jobColumns = `
	id, client_id, subject_id, kind, provider,
	status, attempts, last_error, locked_at, created_at, updated_at
`

// JobRepository persists jobs in the shared jobs table.
type JobRepository struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewJobRepository creates a new JobRepository instance.
func NewJobRepository(pg *postgresql.Client, logger *slog.Logger) *JobRepository {
	return &JobRepository{
		db:     pg.GetDB(),
		logger: logger,
	}
}

func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (
			id, client_id, subject_id, kind, provider,
			status, attempts, last_error, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		job.ID,
		job.ClientID,
		job.SubjectID,
		job.Kind,
		job.Provider,
		job.Status,
		job.Attempts,
		job.LastError,
		job.CreatedAt,
		job.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}

	return nil
}

func (r *JobRepository) GetByID(ctx context.Context, id string) (*domain.Job, error) {
	var job domain.Job
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	err := r.db.GetContext(ctx, &job, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return &job, nil
}

func (r *JobRepository) List(ctx context.Context, filter domain.JobFilter) ([]domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if filter.ClientID != "" {
		query += fmt.Sprintf(" AND client_id = $%d", argIdx)
		args = append(args, filter.ClientID)
		argIdx++
	}

	if filter.Kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, filter.Kind)
		argIdx++
	}

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, filter.Status)
		argIdx++
	}

	if filter.Cursor != nil {
		query += fmt.Sprintf(" AND (created_at, id) < ($%d, $%d)", argIdx, argIdx+1)
		args = append(args, filter.Cursor.CreatedAt, filter.Cursor.JobID)
		argIdx += 2
	}

	// Order by created_at DESC, id DESC for consistent pagination
	query += " ORDER BY created_at DESC, id DESC"

	// Fetch one extra to determine if there are more results
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, filter.PageSize+1)

	var jobs []domain.Job
	err := r.db.SelectContext(ctx, &jobs, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}

	return jobs, nil
}

// ClaimNext claims the oldest claimable job of the given kind using a
// conditional update. The WHERE clause re-checks the claimable
// condition, so when two workers race for the same row only one
// update matches and the loser falls through to the next candidate.
func (r *JobRepository) ClaimNext(ctx context.Context, kind string, staleAfter time.Duration) (*domain.Job, error) {
	query := `
		UPDATE jobs
		SET status = $1,
		    locked_at = NOW(),
		    updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobs
			WHERE kind = $2
			  AND (
			    (status = $3 AND attempts < $4)
			    OR (status = $1 AND locked_at < NOW() - ($5 * INTERVAL '1 second'))
			  )
			ORDER BY created_at ASC, id ASC
			LIMIT 1
		)
		  AND (
		    (status = $3 AND attempts < $4)
		    OR (status = $1 AND locked_at < NOW() - ($5 * INTERVAL '1 second'))
		  )
		RETURNING ` + jobColumns

	var job domain.Job
	err := r.db.QueryRowxContext(
		ctx,
		query,
		domain.JobStatusProcessing,
		kind,
		domain.JobStatusPending,
		domain.MaxRetries,
		staleAfter.Seconds(),
	).StructScan(&job)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNoJob
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}

	r.logger.Debug("Job claimed",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
	)

	return &job, nil
}

// Complete marks a claimed job done and releases its lock.
func (r *JobRepository) Complete(ctx context.Context, job *domain.Job) error {
	query := `
		UPDATE jobs
		SET status = $1,
		    last_error = '',
		    locked_at = NULL,
		    updated_at = NOW()
		WHERE id = $2
	`

	_, err := r.db.ExecContext(ctx, query, domain.JobStatusDone, job.ID)
	if err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}

	return nil
}

// Fail records one failed attempt. The status CASE parks the job as
// failed once the incremented attempts reach the retry cap, otherwise
// it goes back to pending for a later claim.
func (r *JobRepository) Fail(ctx context.Context, job *domain.Job, message string) error {
	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
		    last_error = $1,
		    locked_at = NULL,
		    status = CASE WHEN attempts + 1 >= $2 THEN $3 ELSE $4 END,
		    updated_at = NOW()
		WHERE id = $5
	`

	_, err := r.db.ExecContext(
		ctx,
		query,
		message,
		domain.MaxRetries,
		domain.JobStatusFailed,
		domain.JobStatusPending,
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to record job failure: %w", err)
	}

	return nil
}

// FailPermanently parks the job as failed immediately, bypassing the
// retry budget. Reserved for configuration errors.
func (r *JobRepository) FailPermanently(ctx context.Context, job *domain.Job, message string) error {
	query := `
		UPDATE jobs
		SET attempts = attempts + 1,
		    last_error = $1,
		    locked_at = NULL,
		    status = $2,
		    updated_at = NOW()
		WHERE id = $3
	`

	_, err := r.db.ExecContext(ctx, query, message, domain.JobStatusFailed, job.ID)
	if err != nil {
		return fmt.Errorf("failed to park job: %w", err)
	}

	return nil
}
