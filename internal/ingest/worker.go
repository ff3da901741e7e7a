package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/detect"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
	"github.com/trailguard/trailguard/internal/infrastructure/queue"
	"github.com/trailguard/trailguard/internal/metrics"
)

// ErrorObserver receives processing failures for cross-component
// aggregation.
type ErrorObserver interface {
	Record(component string, err error)
}

// WorkerPool consumes the ingestion queue: verify the seal, persist, run
// pattern detection, ack. Retryable failures are nacked with backoff until
// the attempt budget is spent, then the event moves to the dead letter queue.
type WorkerPool struct {
	queue     queue.Queue
	sealer    *crypto.Sealer
	events    audit.EventRepository
	dlq       audit.DLQRepository
	detector  *detect.Detector
	alerts    *alerting.Engine
	collector *metrics.Collector
	observer  ErrorObserver
	retry     config.RetryConfig
	workers   int
	logger    *zap.Logger
}

// NewWorkerPool wires the consumer side of the pipeline.
func NewWorkerPool(q queue.Queue, sealer *crypto.Sealer, events audit.EventRepository, dlq audit.DLQRepository, detector *detect.Detector, alerts *alerting.Engine, collector *metrics.Collector, retry config.RetryConfig, workers int, logger *zap.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 4
	}
	return &WorkerPool{
		queue:     q,
		sealer:    sealer,
		events:    events,
		dlq:       dlq,
		detector:  detector,
		alerts:    alerts,
		collector: collector,
		retry:     retry,
		workers:   workers,
		logger:    logger,
	}
}

// WithErrorObserver attaches a failure observer; nil disables observation.
func (w *WorkerPool) WithErrorObserver(o ErrorObserver) *WorkerPool {
	w.observer = o
	return w
}

// Run blocks until the context is canceled, consuming with the configured
// concurrency. A canceled context is a clean shutdown.
func (w *WorkerPool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < w.workers; i++ {
		worker := i
		g.Go(func() error {
			w.consume(ctx, worker)
			return nil
		})
	}
	w.logger.Info("ingestion workers started", zap.Int("workers", w.workers))
	return g.Wait()
}

func (w *WorkerPool) consume(ctx context.Context, worker int) {
	log := w.logger.With(zap.Int("worker", worker))
	for {
		msg, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Info("worker stopping")
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			continue
		}
		w.handle(ctx, msg, log)
	}
}

func (w *WorkerPool) handle(ctx context.Context, msg *queue.Message, log *zap.Logger) {
	started := time.Now()

	event, err := decodeEvent(msg.Payload)
	if err == nil {
		err = w.process(ctx, event)
	}

	if err == nil {
		if ackErr := w.queue.Ack(ctx, msg); ackErr != nil {
			log.Error("ack failed", zap.String("message_id", msg.ID), zap.Error(ackErr))
		}
		w.collector.RecordEventProcessed(ctx, time.Since(started))
		return
	}

	w.collector.RecordError(ctx)
	if w.observer != nil {
		w.observer.Record("ingest.worker", err)
	}

	// Non-retryable failures and exhausted budgets both dead-letter; only
	// transient failures with attempts left go back on the queue.
	if errors.IsRetryable(err) && msg.Attempt < w.retry.MaxAttempts-1 {
		delay := w.retry.Delay(msg.Attempt)
		log.Warn("processing failed, rescheduling",
			zap.String("message_id", msg.ID),
			zap.Int("attempt", msg.Attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		if nackErr := w.queue.Nack(ctx, msg, delay); nackErr != nil {
			log.Error("nack failed", zap.String("message_id", msg.ID), zap.Error(nackErr))
		}
		return
	}

	w.deadLetter(ctx, msg, event, err, log)
	if ackErr := w.queue.Ack(ctx, msg); ackErr != nil {
		log.Error("ack after dead-letter failed", zap.String("message_id", msg.ID), zap.Error(ackErr))
	}
}

func decodeEvent(payload []byte) (*audit.Event, error) {
	var event audit.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, errors.NewValidationError("queued payload is not a valid event").WithCause(err)
	}
	return &event, nil
}

// process is the per-event pipeline stage: seal verification guards against
// corruption in transit, then the event is persisted and fed to detection.
func (w *WorkerPool) process(ctx context.Context, event *audit.Event) error {
	if err := w.sealer.VerifySealed(ctx, event); err != nil {
		if errors.IsType(err, errors.ErrorTypeIntegrity) {
			w.collector.RecordIntegrityViolation(ctx)
		}
		return err
	}

	if err := w.events.Store(ctx, event); err != nil {
		return err
	}

	patterns := w.detector.Process(event)
	for _, p := range patterns {
		w.collector.RecordSuspiciousPattern(ctx)
		a, err := p.ToAlert()
		if err != nil {
			w.logger.Error("failed to build pattern alert",
				zap.String("pattern", string(p.Type)), zap.Error(err))
			continue
		}
		// Alerting is best-effort: the event is already durable.
		if _, err := w.alerts.Raise(ctx, a); err != nil {
			w.logger.Error("failed to raise pattern alert",
				zap.String("pattern", string(p.Type)), zap.Error(err))
		}
	}
	return nil
}

func (w *WorkerPool) deadLetter(ctx context.Context, msg *queue.Message, event *audit.Event, cause error, log *zap.Logger) {
	now := time.Now().UTC()
	entry := &audit.DLQEntry{
		ID:               uuid.New(),
		FailureReason:    cause.Error(),
		FailureCount:     msg.Attempt + 1,
		FirstFailureTime: msg.EnqueuedAt,
		LastFailureTime:  now,
		ErrorStack:       cause.Error(),
		RetryHistory: []audit.RetryAttempt{{
			Attempt:   msg.Attempt,
			At:        now,
			Error:     cause.Error(),
			ErrorCode: errors.Code(cause),
		}},
	}
	if entry.FirstFailureTime.IsZero() {
		entry.FirstFailureTime = now
	}
	if event != nil {
		entry.OriginalEvent = event
	} else {
		// Undecodable payloads keep the raw bytes in the failure record.
		entry.FailureReason = "undecodable payload: " + cause.Error()
	}

	if err := w.dlq.Add(ctx, entry); err != nil {
		log.Error("failed to dead-letter event",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	log.Warn("event dead-lettered",
		zap.String("message_id", msg.ID),
		zap.Int("failures", entry.FailureCount),
		zap.String("reason", entry.FailureReason))
}
