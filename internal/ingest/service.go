package ingest

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
	"github.com/trailguard/trailguard/internal/infrastructure/queue"
	"github.com/trailguard/trailguard/internal/metrics"
)

// Service is the producer-facing entry point of the ingestion pipeline:
// validate, seal, enqueue. Persistence happens asynchronously in the worker
// pool.
type Service struct {
	validator *Validator
	sealer    *crypto.Sealer
	queue     queue.Queue
	collector *metrics.Collector
	retry     config.RetryConfig
	watermark int64
	logger    *zap.Logger
}

// NewService wires the producer side of the pipeline.
func NewService(v *Validator, sealer *crypto.Sealer, q queue.Queue, collector *metrics.Collector, retry config.RetryConfig, watermark int64, logger *zap.Logger) *Service {
	if watermark <= 0 {
		watermark = 10000
	}
	return &Service{
		validator: v,
		sealer:    sealer,
		queue:     q,
		collector: collector,
		retry:     retry,
		watermark: watermark,
		logger:    logger,
	}
}

// Log validates, seals, and enqueues an event with one enqueue attempt.
// Producer latency is bounded: a full or broken queue surfaces immediately as
// QUEUE_ERROR instead of blocking the caller.
func (s *Service) Log(ctx context.Context, in *EventInput) (*audit.Event, error) {
	event, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, event, false); err != nil {
		return nil, err
	}
	return event, nil
}

// LogWithGuaranteedDelivery validates, seals, and enqueues with retries: the
// configured backoff schedule is exhausted before giving up. Used for events
// that must not be lost to transient queue pressure.
func (s *Service) LogWithGuaranteedDelivery(ctx context.Context, in *EventInput) (*audit.Event, error) {
	event, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}
	if err := s.enqueue(ctx, event, true); err != nil {
		return nil, err
	}
	return event, nil
}

func (s *Service) prepare(ctx context.Context, in *EventInput) (*audit.Event, error) {
	event, err := s.validator.ValidateAndBuild(ctx, in)
	if err != nil {
		s.collector.RecordError(ctx)
		return nil, err
	}
	if err := s.sealer.Seal(ctx, event, crypto.DefaultSealOptions()); err != nil {
		s.collector.RecordError(ctx)
		return nil, err
	}
	return event, nil
}

func (s *Service) enqueue(ctx context.Context, event *audit.Event, guaranteed bool) error {
	depth, err := s.queue.Depth(ctx)
	if err == nil {
		s.collector.SetQueueDepth(ctx, depth)
		if depth >= s.watermark && !guaranteed {
			s.collector.RecordError(ctx)
			return errors.NewQueueError("ingestion queue is saturated").
				WithDetails(map[string]interface{}{"depth": depth, "watermark": s.watermark})
		}
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return errors.NewInternalError("failed to encode sealed event").WithCause(err)
	}
	msg := &queue.Message{OrganizationID: event.OrganizationID, Payload: payload}

	attempts := 1
	if guaranteed && s.retry.Enabled {
		attempts = s.retry.MaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := s.retry.Delay(attempt - 1)
			s.logger.Warn("enqueue retry",
				zap.String("event_id", event.ID.String()),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.NewQueueError("enqueue canceled").WithCause(ctx.Err())
			case <-timer.C:
			}
		}
		if lastErr = s.queue.Enqueue(ctx, msg); lastErr == nil {
			s.logger.Debug("event enqueued",
				zap.String("event_id", event.ID.String()),
				zap.String("organization_id", event.OrganizationID),
				zap.String("action", event.Action))
			return nil
		}
	}

	s.collector.RecordError(ctx)
	return errors.Wrap(lastErr, "failed to enqueue audit event")
}

// QueueDepth exposes the current queue depth for health checks.
func (s *Service) QueueDepth(ctx context.Context) (int64, error) {
	return s.queue.Depth(ctx)
}
