package postgres

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veridocs/mirror-be/internal/domain"
)

func newJobRepoWithMock(t *testing.T) (*JobRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := &JobRepository{
		db:     sqlx.NewDb(db, "sqlmock"),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	return repo, mock
}

// claimQuery pins the shape that makes the claim safe under
// concurrency: the outer WHERE re-checks the claimable condition after
// the subselect picks a candidate, so of two racing claimants only one
// update matches the row.
const claimQuery = `UPDATE jobs SET status = \$1, locked_at = NOW\(\), updated_at = NOW\(\) ` +
	`WHERE id = \( SELECT id FROM jobs WHERE kind = \$2 .* ORDER BY created_at ASC, id ASC LIMIT 1 \) ` +
	`AND \( \(status = \$3 AND attempts < \$4\) OR \(status = \$1 AND locked_at < NOW\(\) - \(\$5 \* INTERVAL '1 second'\)\) \) ` +
	`RETURNING`

func TestJobRepository_ClaimNext_ReturnsClaimedRow(t *testing.T) {
	repo, mock := newJobRepoWithMock(t)

	created := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	locked := time.Now()
	rows := sqlmock.NewRows([]string{
		"id", "client_id", "subject_id", "kind", "provider",
		"status", "attempts", "last_error", "locked_at", "created_at", "updated_at",
	}).AddRow(
		"job-1", "client-1", "documents/client-1/doc.pdf", domain.JobKindPreview, nil,
		domain.JobStatusProcessing, 1, "", locked, created, locked,
	)

	mock.ExpectQuery(claimQuery).
		WithArgs(
			domain.JobStatusProcessing,
			domain.JobKindPreview,
			domain.JobStatusPending,
			int64(domain.MaxRetries),
			float64(120),
		).
		WillReturnRows(rows)

	job, err := repo.ClaimNext(context.Background(), domain.JobKindPreview, 2*time.Minute)
	require.NoError(t, err)

	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, domain.JobStatusProcessing, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Nil(t, job.Provider)
	require.NotNil(t, job.LockedAt)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_ClaimNext_NothingClaimable(t *testing.T) {
	repo, mock := newJobRepoWithMock(t)

	mock.ExpectQuery(claimQuery).
		WithArgs(
			domain.JobStatusProcessing,
			domain.JobKindUpload,
			domain.JobStatusPending,
			int64(domain.MaxRetries),
			float64(120),
		).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.ClaimNext(context.Background(), domain.JobKindUpload, 2*time.Minute)
	assert.ErrorIs(t, err, domain.ErrNoJob)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_Fail_ParksAtRetryCap(t *testing.T) {
	repo, mock := newJobRepoWithMock(t)

	// The status CASE moves the job to failed exactly when the
	// incremented attempts reach the cap, inside the same UPDATE.
	mock.ExpectExec(`UPDATE jobs SET attempts = attempts \+ 1, last_error = \$1, locked_at = NULL, `+
		`status = CASE WHEN attempts \+ 1 >= \$2 THEN \$3 ELSE \$4 END, updated_at = NOW\(\) WHERE id = \$5`).
		WithArgs("boom", int64(domain.MaxRetries), domain.JobStatusFailed, domain.JobStatusPending, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Fail(context.Background(), &domain.Job{ID: "job-1"}, "boom")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_FailPermanently_BypassesRetryBudget(t *testing.T) {
	repo, mock := newJobRepoWithMock(t)

	mock.ExpectExec(`UPDATE jobs SET attempts = attempts \+ 1, last_error = \$1, locked_at = NULL, `+
		`status = \$2, updated_at = NOW\(\) WHERE id = \$3`).
		WithArgs("no driver registered", domain.JobStatusFailed, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.FailPermanently(context.Background(), &domain.Job{ID: "job-1"}, "no driver registered")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_Complete_ClearsLockAndError(t *testing.T) {
	repo, mock := newJobRepoWithMock(t)

	mock.ExpectExec(`UPDATE jobs SET status = \$1, last_error = '', locked_at = NULL, updated_at = NOW\(\) WHERE id = \$2`).
		WithArgs(domain.JobStatusDone, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Complete(context.Background(), &domain.Job{ID: "job-1"})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestJobRepository_GetByID_NotFound(t *testing.T) {
	repo, mock := newJobRepoWithMock(t)

	mock.ExpectQuery(`SELECT .* FROM jobs WHERE id = \$1`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := repo.GetByID(context.Background(), "missing")
	assert.True(t, errors.Is(err, domain.ErrJobNotFound))
}
