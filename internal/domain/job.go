package domain

import (
	"time"
	"unicode/utf8"
)

// Job kinds. Each kind has its own processing path in the worker; the
// set is closed and switches over it must handle every member.
const (
	JobKindPreview = "preview"
	JobKindExport  = "export"
	JobKindUpload  = "upload"
)

// Job status constants
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusDone       = "done"
	JobStatusFailed     = "failed"
)

const (
	// MaxRetries is the number of times a job may be attempted before it
	// is parked as failed. While status is pending or processing,
	// attempts stays strictly below this value.
	MaxRetries = 3

	// MaxErrorLength caps last_error; longer messages are truncated.
	MaxErrorLength = 500

	// UploadBatchSize is the most upload jobs a single tick will claim.
	UploadBatchSize = 10
)

// Job is one queued unit of asynchronous work against a document.
// Provider is only set for upload jobs.
type Job struct {
	ID        string     `db:"id"`
	ClientID  string     `db:"client_id"`
	SubjectID string     `db:"subject_id"`
	Kind      string     `db:"kind"`
	Provider  *string    `db:"provider"`
	Status    string     `db:"status"`
	Attempts  int        `db:"attempts"`
	LastError string     `db:"last_error"`
	LockedAt  *time.Time `db:"locked_at"`
	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
}

// TruncateError shortens an error message to at most MaxErrorLength
// bytes for storage. The cut backs up to a rune boundary so the result
// stays valid UTF-8; Postgres rejects writes carrying a split rune.
func TruncateError(msg string) string {
	if len(msg) <= MaxErrorLength {
		return msg
	}
	cut := MaxErrorLength
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
