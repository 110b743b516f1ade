package domain

import (
	"context"
	"time"
)

// JobFilter narrows a job listing.
type JobFilter struct {
	ClientID string
	Kind     string
	Status   string
	PageSize int
	Cursor   *JobCursor
}

// JobCursor marks a position in the created_at/id ordering for
// keyset pagination.
type JobCursor struct {
	CreatedAt time.Time `json:"created_at"`
	JobID     string    `json:"job_id"`
}

// JobRepository is the narrow persistence surface the job engine needs.
// ClaimNext must be backed by a conditional update so that two
// concurrent claimants can never both win the same job.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id string) (*Job, error)
	List(ctx context.Context, filter JobFilter) ([]Job, error)

	// ClaimNext atomically claims the oldest claimable job of the given
	// kind: status pending with attempts < MaxRetries, or processing
	// with a lease older than staleAfter. Returns ErrNoJob when nothing
	// is claimable.
	ClaimNext(ctx context.Context, kind string, staleAfter time.Duration) (*Job, error)

	// Complete marks a claimed job done and clears its lock.
	Complete(ctx context.Context, job *Job) error

	// Fail records a processing failure: increments attempts, stores the
	// truncated error, clears the lock, and parks the job as failed once
	// the retry budget is exhausted.
	Fail(ctx context.Context, job *Job, message string) error

	// FailPermanently parks the job as failed regardless of remaining
	// retry budget. Used for configuration errors a retry cannot fix.
	FailPermanently(ctx context.Context, job *Job, message string) error
}

// ConnectionRepository persists storage connections. Upsert is keyed by
// (client_id, provider).
type ConnectionRepository interface {
	Upsert(ctx context.Context, conn *Connection) error
	GetByClientProvider(ctx context.Context, clientID, provider string) (*Connection, error)
	ListByClient(ctx context.Context, clientID string) ([]Connection, error)

	// UpdateTokens stores freshly encrypted tokens and the new expiry.
	UpdateTokens(ctx context.Context, id, accessToken string, refreshToken *string, expiresAt *time.Time) error

	// SetStatus transitions the connection state. Revoking also clears
	// stored tokens.
	SetStatus(ctx context.Context, id, status string) error
}
