package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/compliance"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/domain/report"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
)

// Orchestrator owns the scheduled-report lifecycle: CRUD, due-claiming,
// report generation, delivery, and execution records. Claiming is atomic at
// the store, so multiple orchestrator instances can tick concurrently.
type Orchestrator struct {
	schedules  report.ScheduleRepository
	executions report.ExecutionRepository
	generator  *compliance.Generator
	deliverers map[report.DeliveryChannel]Deliverer
	retry      config.RetryConfig
	window     time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator builds the orchestrator over the given deliverers.
func NewOrchestrator(
	schedules report.ScheduleRepository,
	executions report.ExecutionRepository,
	generator *compliance.Generator,
	deliverers []Deliverer,
	retry config.RetryConfig,
	retryWindow time.Duration,
	logger *zap.Logger,
) *Orchestrator {
	byChannel := make(map[report.DeliveryChannel]Deliverer, len(deliverers))
	for _, d := range deliverers {
		byChannel[d.Channel()] = d
	}
	if retryWindow <= 0 {
		retryWindow = 24 * time.Hour
	}
	return &Orchestrator{
		schedules:  schedules,
		executions: executions,
		generator:  generator,
		deliverers: byChannel,
		retry:      retry,
		window:     retryWindow,
		logger:     logger,
		now:        time.Now,
	}
}

// WithClock overrides the orchestrator clock; used by tests.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	o.now = now
	return o
}

// Run ticks until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context, tick time.Duration) error {
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		if err := o.ProcessDueReports(ctx); err != nil {
			o.logger.Error("due-report pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// CreateSchedule validates the schedule, assigns identity, and computes the
// first run.
func (o *Orchestrator) CreateSchedule(ctx context.Context, s *report.Schedule) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := o.now().UTC()
	s.CreatedAt = now
	s.UpdatedAt = now
	s.NextRun = NextRun(s, now)
	return o.schedules.Create(ctx, s)
}

// UpdateSchedule persists schedule changes, recomputing the next run in case
// the recurrence changed.
func (o *Orchestrator) UpdateSchedule(ctx context.Context, s *report.Schedule) error {
	s.UpdatedAt = o.now().UTC()
	s.NextRun = NextRun(s, o.now().UTC())
	return o.schedules.Update(ctx, s)
}

// DeleteSchedule removes a schedule; its execution history cascades away.
func (o *Orchestrator) DeleteSchedule(ctx context.Context, organizationID string, id uuid.UUID) error {
	return o.schedules.Delete(ctx, organizationID, id)
}

// ListSchedules returns a tenant's schedules.
func (o *Orchestrator) ListSchedules(ctx context.Context, organizationID string) ([]*report.Schedule, error) {
	return o.schedules.List(ctx, organizationID)
}

// GetSchedule returns one schedule, tenant-scoped.
func (o *Orchestrator) GetSchedule(ctx context.Context, organizationID string, id uuid.UUID) (*report.Schedule, error) {
	return o.schedules.GetByID(ctx, organizationID, id)
}

// ExecutionHistory returns the most recent runs of a schedule.
func (o *Orchestrator) ExecutionHistory(ctx context.Context, organizationID string, id uuid.UUID, limit int) ([]*report.Execution, error) {
	if _, err := o.schedules.GetByID(ctx, organizationID, id); err != nil {
		return nil, err
	}
	return o.executions.ListBySchedule(ctx, id, limit)
}

// UpcomingExecutions returns the next n (schedule, time) pairs for a tenant,
// soonest first.
func (o *Orchestrator) UpcomingExecutions(ctx context.Context, organizationID string, n int) ([]*report.Schedule, error) {
	schedules, err := o.schedules.List(ctx, organizationID)
	if err != nil {
		return nil, err
	}
	enabled := schedules[:0]
	for _, s := range schedules {
		if s.Enabled {
			enabled = append(enabled, s)
		}
	}
	for i := 1; i < len(enabled); i++ {
		for j := i; j > 0 && enabled[j].NextRun.Before(enabled[j-1].NextRun); j-- {
			enabled[j], enabled[j-1] = enabled[j-1], enabled[j]
		}
	}
	if n > 0 && len(enabled) > n {
		enabled = enabled[:n]
	}
	return enabled, nil
}

// ExecuteNow runs a schedule immediately without touching its recurrence.
func (o *Orchestrator) ExecuteNow(ctx context.Context, organizationID string, id uuid.UUID) (*report.Execution, error) {
	s, err := o.schedules.GetByID(ctx, organizationID, id)
	if err != nil {
		return nil, err
	}
	exec := o.execute(ctx, s, nil)
	if err := o.executions.Record(ctx, exec); err != nil {
		o.logger.Error("failed to record execution", zap.Error(err))
	}
	return exec, nil
}

// ProcessDueReports claims every due schedule, advances its recurrence, and
// executes it. One schedule failing does not block the rest of the batch.
func (o *Orchestrator) ProcessDueReports(ctx context.Context) error {
	now := o.now().UTC()
	due, err := o.schedules.ClaimDue(ctx, now, func(s *report.Schedule) time.Time {
		return NextRun(s, now)
	})
	if err != nil {
		return errors.Wrap(err, "claiming due schedules")
	}

	for _, s := range due {
		exec := o.execute(ctx, s, nil)
		if err := o.executions.Record(ctx, exec); err != nil {
			o.logger.Error("failed to record execution",
				zap.String("schedule_id", s.ID.String()), zap.Error(err))
		}
	}
	if len(due) > 0 {
		o.logger.Info("processed due schedules", zap.Int("count", len(due)))
	}
	return nil
}

// RetryFailedDeliveries re-runs recent failed or partial executions. The
// report is regenerated; only the channels that failed are retried.
func (o *Orchestrator) RetryFailedDeliveries(ctx context.Context) error {
	failed, err := o.executions.ListFailedSince(ctx, o.now().UTC().Add(-o.window))
	if err != nil {
		return errors.Wrap(err, "listing failed executions")
	}

	for _, exec := range failed {
		s, err := o.schedules.Get(ctx, exec.ScheduleID)
		if err != nil {
			if errors.IsType(err, errors.ErrorTypeNotFound) {
				continue // schedule deleted since the run
			}
			return err
		}
		retryExec := o.execute(ctx, s, failedChannels(exec))
		if err := o.executions.Record(ctx, retryExec); err != nil {
			o.logger.Error("failed to record retry execution",
				zap.String("schedule_id", s.ID.String()), zap.Error(err))
		}
	}
	return nil
}

// failedChannels extracts the channel set of an execution's failed
// deliveries; nil means "all channels".
func failedChannels(exec *report.Execution) map[report.DeliveryChannel]bool {
	out := map[report.DeliveryChannel]bool{}
	for _, d := range exec.Deliveries {
		if !d.Succeeded {
			out[d.Channel] = true
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// execute generates the report and delivers it. A non-nil channel filter
// restricts delivery to those channels (the retry path).
func (o *Orchestrator) execute(ctx context.Context, s *report.Schedule, only map[report.DeliveryChannel]bool) *report.Execution {
	started := o.now().UTC()
	exec := &report.Execution{
		ID:         uuid.New(),
		ScheduleID: s.ID,
		StartedAt:  started,
	}

	res, err := o.generateExport(ctx, s, started)
	if err != nil {
		exec.Status = report.ExecutionFailed
		exec.Error = err.Error()
		if ctx.Err() != nil {
			exec.Error = "cancelled"
		}
		exec.FinishedAt = o.now().UTC()
		o.logger.Error("scheduled report generation failed",
			zap.String("schedule_id", s.ID.String()), zap.Error(err))
		return exec
	}
	exec.ReportBytes = int64(len(res.Data))

	var failures int
	for _, d := range s.Deliveries {
		if only != nil && !only[d.Channel] {
			continue
		}
		result := o.deliver(ctx, d, res)
		if !result.Succeeded {
			failures++
		}
		exec.Deliveries = append(exec.Deliveries, result)
	}

	switch {
	case failures == 0:
		exec.Status = report.ExecutionSucceeded
	case failures == len(exec.Deliveries):
		exec.Status = report.ExecutionFailed
		exec.Error = "all deliveries failed"
	default:
		exec.Status = report.ExecutionPartial
	}
	exec.FinishedAt = o.now().UTC()
	return exec
}

// generateExport maps the schedule's report type onto the compliance
// generator and renders the configured format. The reporting window is one
// recurrence interval ending at the run time.
func (o *Orchestrator) generateExport(ctx context.Context, s *report.Schedule, at time.Time) (*compliance.ExportResult, error) {
	period := compliance.Period{From: periodStart(s.Frequency, at), To: at}

	var (
		framework compliance.Framework
		opts      compliance.GenerateOptions
	)
	switch s.ReportType {
	case report.TypeHIPAA:
		framework = compliance.FrameworkHIPAA
	case report.TypeGDPR:
		framework = compliance.FrameworkGDPR
	case report.TypeCustom:
		framework = compliance.FrameworkCustom
	case report.TypeIntegrity:
		framework = compliance.FrameworkCustom
		opts.VerifyIntegrity = true
	default:
		return nil, errors.NewValidationError("unknown report type " + string(s.ReportType))
	}

	rep, err := o.generator.Generate(ctx, framework, s.OrganizationID, period, opts)
	if err != nil {
		return nil, err
	}
	format, err := compliance.ParseFormat(s.Format)
	if err != nil {
		return nil, err
	}
	return compliance.ExportReport(rep, compliance.ExportOptions{Format: format})
}

func periodStart(f report.Frequency, at time.Time) time.Time {
	switch f {
	case report.FrequencyDaily:
		return at.AddDate(0, 0, -1)
	case report.FrequencyWeekly:
		return at.AddDate(0, 0, -7)
	case report.FrequencyQuarterly:
		return at.AddDate(0, -3, 0)
	}
	return at.AddDate(0, -1, 0)
}

// deliver runs one delivery with the configured backoff schedule.
func (o *Orchestrator) deliver(ctx context.Context, d report.Delivery, res *compliance.ExportResult) report.DeliveryResult {
	result := report.DeliveryResult{Channel: d.Channel, Target: deliveryTarget(d)}

	deliverer, ok := o.deliverers[d.Channel]
	if !ok {
		result.Error = "no deliverer configured for channel " + string(d.Channel)
		return result
	}

	operation := func() error {
		err := deliverer.Deliver(ctx, d, res)
		if err != nil && !errors.IsRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retry.InitialDelay
	bo.MaxInterval = o.retry.MaxDelay
	policy := backoff.WithContext(
		backoff.WithMaxRetries(bo, uint64(o.retry.MaxAttempts)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		result.Error = err.Error()
		o.logger.Warn("delivery failed",
			zap.String("channel", string(d.Channel)),
			zap.String("target", result.Target),
			zap.Error(err))
		return result
	}
	result.Succeeded = true
	return result
}

func deliveryTarget(d report.Delivery) string {
	switch d.Channel {
	case report.DeliveryEmail:
		return fmt.Sprintf("%d recipients", len(d.Recipients))
	case report.DeliveryWebhook:
		return d.URL
	case report.DeliveryStorage:
		return d.Provider + ":" + d.Bucket
	}
	return string(d.Channel)
}
