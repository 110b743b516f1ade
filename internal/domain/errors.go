package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database
	ErrJobNotFound = errors.New("job not found")

	// ErrNoJob is returned by a claim attempt that found nothing claimable.
	// Not an error condition for the caller; the tick simply ends.
	ErrNoJob = errors.New("no claimable job")

	// ErrConnectionNotFound is returned when a client has no connection
	// for the requested provider
	ErrConnectionNotFound = errors.New("connection not found")

	// ErrJobTimeout is returned when a job exceeds its wall-clock budget.
	// Counted against the retry budget like any other processing failure.
	ErrJobTimeout = errors.New("job processing timed out")

	// ErrUnknownKind marks a job whose kind has no processing path. A
	// configuration problem; retrying cannot fix it.
	ErrUnknownKind = errors.New("unknown job kind")
)
