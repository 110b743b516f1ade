package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/veridocs/mirror-be/internal/domain"
	"github.com/veridocs/mirror-be/shared/rabbitmq"
)

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Logger          *slog.Logger
	Engine          *Engine
	RabbitClient    *rabbitmq.Client // optional wake-up channel
	PreviewInterval time.Duration
	ExportInterval  time.Duration
	UploadInterval  time.Duration
}

// Worker drives the engine with one independent periodic tick per job
// kind. A tick never starts a second unit of work before the current
// one finishes. When a RabbitMQ client is configured, "job enqueued"
// messages trigger an immediate tick between polls; the messages are
// best-effort and the database claim stays authoritative.
type Worker struct {
	logger       *slog.Logger
	engine       *Engine
	rabbitClient *rabbitmq.Client

	previewInterval time.Duration
	exportInterval  time.Duration
	uploadInterval  time.Duration

	nudge map[string]chan struct{}

	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once
}

// NewWorker creates a new worker instance.
func NewWorker(cfg *WorkerConfig) *Worker {
	return &Worker{
		logger:          cfg.Logger,
		engine:          cfg.Engine,
		rabbitClient:    cfg.RabbitClient,
		previewInterval: cfg.PreviewInterval,
		exportInterval:  cfg.ExportInterval,
		uploadInterval:  cfg.UploadInterval,
		nudge: map[string]chan struct{}{
			domain.JobKindPreview: make(chan struct{}, 1),
			domain.JobKindExport:  make(chan struct{}, 1),
			domain.JobKindUpload:  make(chan struct{}, 1),
		},
		stopChan: make(chan struct{}),
	}
}

// Start begins processing jobs and blocks until the context is
// canceled or Stop is called.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.Duration("preview_interval", w.previewInterval),
		slog.Duration("export_interval", w.exportInterval),
		slog.Duration("upload_interval", w.uploadInterval),
	)

	w.spawnTickLoop(ctx, domain.JobKindPreview, w.previewInterval, w.engine.RunPreviewTick)
	w.spawnTickLoop(ctx, domain.JobKindExport, w.exportInterval, w.engine.RunExportTick)
	w.spawnTickLoop(ctx, domain.JobKindUpload, w.uploadInterval, w.engine.RunUploadTick)

	if w.rabbitClient != nil {
		w.wg.Add(1)
		go w.consumeWakeups(ctx)
	}

	<-ctx.Done()
	w.logger.Info("Worker context canceled, stopping...")

	return nil
}

// Stop gracefully stops the worker, waiting for in-flight ticks.
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}

func (w *Worker) spawnTickLoop(ctx context.Context, kind string, interval time.Duration, tick func(context.Context) error) {
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		w.logger.Info("Tick loop started",
			slog.String("kind", kind),
			slog.Duration("interval", interval),
		)

		for {
			select {
			case <-w.stopChan:
				w.logger.Info("Tick loop stopping", slog.String("kind", kind))
				return

			case <-ctx.Done():
				w.logger.Info("Tick loop stopping - context canceled", slog.String("kind", kind))
				return

			case <-ticker.C:
			case <-w.nudge[kind]:
			}

			if err := tick(ctx); err != nil {
				w.logger.Error("Tick failed",
					slog.String("kind", kind),
					slog.String("error", err.Error()),
				)
			}
		}
	}()
}

// wakeupMessage is the payload published when a job is enqueued.
type wakeupMessage struct {
	JobID string `json:"job_id"`
	Kind  string `json:"kind"`
}

// consumeWakeups turns queue messages into tick nudges. Malformed
// messages are dropped; polling covers any missed wake-up.
func (w *Worker) consumeWakeups(ctx context.Context) {
	defer w.wg.Done()

	deliveries, err := w.rabbitClient.Consume("mirror-worker")
	if err != nil {
		w.logger.Error("Failed to start wake-up consumer, relying on polling only",
			slog.String("error", err.Error()),
		)
		return
	}

	w.logger.Info("Wake-up consumer started")

	for {
		select {
		case <-w.stopChan:
			return

		case <-ctx.Done():
			return

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("Wake-up delivery channel closed, relying on polling only")
				return
			}

			var msg wakeupMessage
			if err := json.Unmarshal(delivery.Body, &msg); err != nil {
				w.logger.Warn("Dropping malformed wake-up message",
					slog.String("error", err.Error()),
				)
				delivery.Ack(false) //nolint:errcheck // best-effort
				continue
			}

			if ch, ok := w.nudge[msg.Kind]; ok {
				select {
				case ch <- struct{}{}:
				default:
					// A nudge is already pending; the next tick covers it
				}
			}

			delivery.Ack(false) //nolint:errcheck // best-effort
		}
	}
}
