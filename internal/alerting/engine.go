package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/metrics"
)

// AlertSink receives every alert the engine accepts. The database sink is
// authoritative: its failure fails Raise. Every other sink is best-effort and
// only logged on failure.
type AlertSink interface {
	Name() string
	Send(ctx context.Context, a *alert.Alert) error
}

// Engine deduplicates, persists, and fans out alerts, and owns the alert
// lifecycle operations.
type Engine struct {
	repo      alert.Repository
	collector *metrics.Collector
	sinks     []AlertSink
	cooldown  time.Duration
	logger    *zap.Logger
}

// NewEngine builds the alert engine. The repository is always written first;
// sinks are notified after a successful insert.
func NewEngine(repo alert.Repository, collector *metrics.Collector, cooldown time.Duration, logger *zap.Logger, sinks ...AlertSink) *Engine {
	if cooldown <= 0 {
		cooldown = 300 * time.Second
	}
	return &Engine{
		repo:      repo,
		collector: collector,
		sinks:     sinks,
		cooldown:  cooldown,
		logger:    logger,
	}
}

// Raise persists the alert unless an identical one (same source, title,
// severity) fired within the cooldown window. Returns (nil, nil) when
// suppressed.
func (e *Engine) Raise(ctx context.Context, a *alert.Alert) (*alert.Alert, error) {
	cooldownKey := "alert_cooldown:" + a.DedupKey()

	on, err := e.collector.IsOnCooldown(ctx, cooldownKey)
	if err != nil {
		// A broken cooldown store must not drop alerts.
		e.logger.Warn("cooldown check failed, raising anyway",
			zap.String("alert_id", a.ID.String()), zap.Error(err))
	} else if on {
		e.logger.Debug("alert suppressed by cooldown",
			zap.String("source", a.Source),
			zap.String("title", a.Title),
			zap.String("severity", string(a.Severity)))
		return nil, nil
	}

	if err := e.repo.Insert(ctx, a); err != nil {
		return nil, errors.Wrap(err, "persisting alert")
	}

	if err := e.collector.SetCooldown(ctx, cooldownKey, e.cooldown); err != nil {
		e.logger.Warn("failed to arm alert cooldown", zap.Error(err))
	}
	e.collector.RecordAlertGenerated(ctx)

	for _, sink := range e.sinks {
		if err := sink.Send(ctx, a); err != nil {
			e.logger.Error("alert sink failed",
				zap.String("sink", sink.Name()),
				zap.String("alert_id", a.ID.String()),
				zap.Error(err))
		}
	}

	e.logger.Info("alert raised",
		zap.String("alert_id", a.ID.String()),
		zap.String("organization_id", a.OrganizationID),
		zap.String("severity", string(a.Severity)),
		zap.String("title", a.Title))
	return a, nil
}

// RaiseSystem raises a SYSTEM alert from an internal component.
func (e *Engine) RaiseSystem(ctx context.Context, organizationID string, severity alert.Severity, source, title, description string, metadata map[string]interface{}) (*alert.Alert, error) {
	a, err := alert.New(organizationID, severity, alert.TypeSystem, source, title, description)
	if err != nil {
		return nil, err
	}
	for k, v := range metadata {
		a.Metadata[k] = v
	}
	return e.Raise(ctx, a)
}

// Get loads one tenant-scoped alert.
func (e *Engine) Get(ctx context.Context, organizationID string, id uuid.UUID) (*alert.Alert, error) {
	return e.repo.GetByID(ctx, organizationID, id)
}

// List returns alerts matching the filter plus the unpaged total.
func (e *Engine) List(ctx context.Context, f alert.Filter) ([]*alert.Alert, int64, error) {
	if f.OrganizationID == "" {
		return nil, 0, errors.NewValidationError("organizationId is required")
	}
	return e.repo.List(ctx, f)
}

// Acknowledge moves an alert to acknowledged. Repeated calls are no-ops.
func (e *Engine) Acknowledge(ctx context.Context, organizationID string, id uuid.UUID, by string) (*alert.Alert, error) {
	return e.transition(ctx, organizationID, id, func(a *alert.Alert) error {
		return a.Acknowledge(by)
	})
}

// Resolve moves an alert to resolved with optional notes.
func (e *Engine) Resolve(ctx context.Context, organizationID string, id uuid.UUID, by, notes string) (*alert.Alert, error) {
	return e.transition(ctx, organizationID, id, func(a *alert.Alert) error {
		return a.Resolve(by, notes)
	})
}

// Dismiss moves an active alert to dismissed.
func (e *Engine) Dismiss(ctx context.Context, organizationID string, id uuid.UUID, by string) (*alert.Alert, error) {
	return e.transition(ctx, organizationID, id, func(a *alert.Alert) error {
		return a.Dismiss(by)
	})
}

func (e *Engine) transition(ctx context.Context, organizationID string, id uuid.UUID, apply func(*alert.Alert) error) (*alert.Alert, error) {
	a, err := e.repo.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	before := a.UpdatedAt
	if err := apply(a); err != nil {
		return nil, err
	}
	// Idempotent repeats leave the record untouched.
	if a.UpdatedAt.Equal(before) {
		return a, nil
	}
	if err := e.repo.Update(ctx, a); err != nil {
		return nil, errors.Wrap(err, "updating alert")
	}
	return a, nil
}

// Statistics aggregates tenant alert counts.
func (e *Engine) Statistics(ctx context.Context, organizationID string) (*alert.Statistics, error) {
	if organizationID == "" {
		return nil, errors.NewValidationError("organizationId is required")
	}
	return e.repo.Statistics(ctx, organizationID)
}

// CleanupResolved removes resolved alerts older than retentionDays.
func (e *Engine) CleanupResolved(ctx context.Context, organizationID string, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, errors.NewValidationError(
			fmt.Sprintf("invalid alert retention %d days", retentionDays))
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
	removed, err := e.repo.DeleteResolvedBefore(ctx, organizationID, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "cleaning up resolved alerts")
	}
	if removed > 0 {
		e.logger.Info("resolved alerts cleaned up",
			zap.String("organization_id", organizationID),
			zap.Int64("removed", removed))
	}
	return removed, nil
}
