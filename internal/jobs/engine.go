// Package jobs implements the asynchronous processing engine: claiming
// jobs from the shared table, dispatching them by kind, and applying
// the retry policy on failure.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"path"
	"time"

	"github.com/veridocs/mirror-be/internal/docstore"
	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/internal/preview"
	"github.com/veridocs/mirror-be/internal/provider"
)

// DefaultJobTimeout is the wall-clock budget for a single preview or
// export job.
const DefaultJobTimeout = 60 * time.Second

// Uploader sends document bytes to a client's external storage with a
// valid access token. Implemented by the token lifecycle manager.
type Uploader interface {
	UploadFile(ctx context.Context, conn *domain.Connection, data []byte, filename, mimeType string) (*provider.RemoteFile, error)
}

// Config holds engine dependencies.
type Config struct {
	Logger      *slog.Logger
	Jobs        domain.JobRepository
	Connections domain.ConnectionRepository
	Documents   docstore.Store
	Renderer    *preview.Renderer
	Uploader    Uploader
	JobTimeout  time.Duration
}

// Engine claims and processes jobs. The conditional-update claim in the
// repository is the sole cross-process synchronization; once claimed, a
// job is owned by this engine until completed or failed.
type Engine struct {
	logger      *slog.Logger
	jobs        domain.JobRepository
	connections domain.ConnectionRepository
	documents   docstore.Store
	renderer    *preview.Renderer
	uploader    Uploader
	jobTimeout  time.Duration
	staleAfter  time.Duration
}

// NewEngine creates an Engine.
func NewEngine(cfg *Config) *Engine {
	timeout := cfg.JobTimeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}

	return &Engine{
		logger:      cfg.Logger,
		jobs:        cfg.Jobs,
		connections: cfg.Connections,
		documents:   cfg.Documents,
		renderer:    cfg.Renderer,
		uploader:    cfg.Uploader,
		jobTimeout:  timeout,
		// Jobs stuck in processing past two budgets are presumed
		// abandoned by a crashed worker and become claimable again.
		staleAfter: 2 * timeout,
	}
}

// RunPreviewTick claims and fully processes at most one preview job.
// Finding nothing to claim is not an error.
func (e *Engine) RunPreviewTick(ctx context.Context) error {
	return e.runSingleTick(ctx, domain.JobKindPreview)
}

// RunExportTick claims and fully processes at most one export job.
func (e *Engine) RunExportTick(ctx context.Context) error {
	return e.runSingleTick(ctx, domain.JobKindExport)
}

// RunUploadTick claims up to UploadBatchSize upload jobs and processes
// them sequentially, stopping early once a claim finds nothing.
func (e *Engine) RunUploadTick(ctx context.Context) error {
	for i := 0; i < domain.UploadBatchSize; i++ {
		job, err := e.jobs.ClaimNext(ctx, domain.JobKindUpload, e.staleAfter)
		if err != nil {
			if errors.Is(err, domain.ErrNoJob) {
				return nil
			}
			return fmt.Errorf("failed to claim upload job: %w", err)
		}

		e.finish(ctx, job, e.process(ctx, job))
	}

	return nil
}

func (e *Engine) runSingleTick(ctx context.Context, kind string) error {
	job, err := e.jobs.ClaimNext(ctx, kind, e.staleAfter)
	if err != nil {
		if errors.Is(err, domain.ErrNoJob) {
			return nil
		}
		return fmt.Errorf("failed to claim %s job: %w", kind, err)
	}

	e.finish(ctx, job, e.processWithTimeout(ctx, job))
	return nil
}

// processWithTimeout races job processing against the wall-clock
// budget. A timeout is treated like any other processing failure.
func (e *Engine) processWithTimeout(ctx context.Context, job *domain.Job) error {
	jobCtx, cancel := context.WithTimeout(ctx, e.jobTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- e.process(jobCtx, job)
	}()

	select {
	case err := <-done:
		return err
	case <-jobCtx.Done():
		return fmt.Errorf("%w after %s", domain.ErrJobTimeout, e.jobTimeout)
	}
}

// process dispatches by kind. The kind set is closed; an unknown kind
// is a configuration problem, not a retry target.
func (e *Engine) process(ctx context.Context, job *domain.Job) error {
	switch job.Kind {
	case domain.JobKindPreview:
		return e.processPreview(ctx, job)
	case domain.JobKindExport:
		return e.processExport(ctx, job)
	case domain.JobKindUpload:
		return e.processUpload(ctx, job)
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownKind, job.Kind)
	}
}

// isConfigFailure reports whether the error is a configuration problem
// retrying cannot fix: an unregistered provider or an unknown job kind.
func isConfigFailure(err error) bool {
	return errors.Is(err, provider.ErrUnknownProvider) ||
		errors.Is(err, domain.ErrUnknownKind)
}

// finish applies the job outcome: done on success, the retry policy on
// failure. Persistence errors here are logged, not raised; the job will
// be reclaimed once its lease goes stale.
func (e *Engine) finish(ctx context.Context, job *domain.Job, processErr error) {
	if processErr == nil {
		if err := e.jobs.Complete(ctx, job); err != nil {
			e.logger.Error("failed to mark job done",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		} else {
			e.logger.Info("job completed",
				slog.String("job_id", job.ID),
				slog.String("kind", job.Kind),
			)
		}
		return
	}

	e.logger.Error("job processing failed",
		slog.String("job_id", job.ID),
		slog.String("kind", job.Kind),
		slog.Int("attempts", job.Attempts),
		slog.String("error", processErr.Error()),
	)

	message := domain.TruncateError(processErr.Error())

	if isConfigFailure(processErr) {
		if err := e.jobs.FailPermanently(ctx, job, message); err != nil {
			e.logger.Error("failed to park misconfigured job",
				slog.String("job_id", job.ID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if err := e.jobs.Fail(ctx, job, message); err != nil {
		e.logger.Error("failed to record job failure",
			slog.String("job_id", job.ID),
			slog.String("error", err.Error()),
		)
	}
}

// processPreview renders a thumbnail of the source document and stores
// it alongside the original.
func (e *Engine) processPreview(ctx context.Context, job *domain.Job) error {
	mimeType := mimeTypeFor(job.SubjectID)
	if !preview.Supported(mimeType) {
		// Refuse before fetching a buffer nothing can decode
		return fmt.Errorf("%w: %s", preview.ErrUnsupportedType, mimeType)
	}

	data, err := e.documents.Download(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch source document: %w", err)
	}

	rendered, err := e.renderer.Render(data, mimeType)
	if err != nil {
		return fmt.Errorf("failed to render preview: %w", err)
	}

	previewPath := PreviewPath(job.ClientID, job.SubjectID)
	if err := e.documents.Upload(ctx, previewPath, rendered.Buffer, rendered.MimeType); err != nil {
		return fmt.Errorf("failed to store preview: %w", err)
	}

	e.logger.Debug("preview stored",
		slog.String("job_id", job.ID),
		slog.String("path", previewPath),
		slog.Int("size", rendered.Size),
	)

	return nil
}

// processExport copies the source document into the export area.
func (e *Engine) processExport(ctx context.Context, job *domain.Job) error {
	data, err := e.documents.Download(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch source document: %w", err)
	}

	exportPath := ExportPath(job.ClientID, job.SubjectID)
	if err := e.documents.Upload(ctx, exportPath, data, mimeTypeFor(job.SubjectID)); err != nil {
		return fmt.Errorf("failed to store export: %w", err)
	}

	return nil
}

// processUpload mirrors the source document to the client's external
// storage through the token lifecycle manager.
func (e *Engine) processUpload(ctx context.Context, job *domain.Job) error {
	if job.Provider == nil {
		return fmt.Errorf("upload job %s has no provider", job.ID)
	}

	conn, err := e.connections.GetByClientProvider(ctx, job.ClientID, *job.Provider)
	if err != nil {
		return fmt.Errorf("failed to load connection: %w", err)
	}
	if conn.Status != domain.ConnectionStatusConnected {
		return fmt.Errorf("connection for provider %s is %s", *job.Provider, conn.Status)
	}

	data, err := e.documents.Download(ctx, job.SubjectID)
	if err != nil {
		return fmt.Errorf("failed to fetch source document: %w", err)
	}

	file, err := e.uploader.UploadFile(ctx, conn, data, path.Base(job.SubjectID), mimeTypeFor(job.SubjectID))
	if err != nil {
		return fmt.Errorf("failed to upload to %s: %w", *job.Provider, err)
	}

	e.logger.Info("document mirrored to external storage",
		slog.String("job_id", job.ID),
		slog.String("provider", *job.Provider),
		slog.String("remote_id", file.ID),
		slog.String("web_url", file.WebURL),
	)

	return nil
}

// PreviewPath is where a document's rendered preview is stored.
func PreviewPath(clientID, subjectID string) string {
	return fmt.Sprintf("previews/%s/%s.webp", clientID, path.Base(subjectID))
}

// ExportPath is where a document's export copy is stored.
func ExportPath(clientID, subjectID string) string {
	return fmt.Sprintf("exports/%s/%s", clientID, path.Base(subjectID))
}

// mimeTypeFor derives a document's mime type from its file extension.
func mimeTypeFor(subjectID string) string {
	mimeType := mime.TypeByExtension(path.Ext(subjectID))
	if mimeType == "" {
		return "application/octet-stream"
	}
	return mimeType
}
