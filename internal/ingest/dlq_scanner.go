package ingest

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
)

// systemOrganizationID owns alerts that do not belong to a single tenant.
const systemOrganizationID = "system"

// DLQScanner sweeps the dead letter queue on an interval: archive entries
// past the archive threshold, delete entries past retention, and raise a
// SYSTEM alert when the backlog crosses the configured size.
type DLQScanner struct {
	dlq    audit.DLQRepository
	alerts *alerting.Engine
	cfg    config.DLQConfig
	logger *zap.Logger
}

// NewDLQScanner builds a scanner over the dead letter repository.
func NewDLQScanner(dlq audit.DLQRepository, alerts *alerting.Engine, cfg config.DLQConfig, logger *zap.Logger) *DLQScanner {
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	return &DLQScanner{dlq: dlq, alerts: alerts, cfg: cfg, logger: logger}
}

// Run sweeps until the context is canceled. The first sweep happens
// immediately so a restart does not delay backlog detection by a full
// interval.
func (s *DLQScanner) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if err := s.Sweep(ctx); err != nil {
			s.logger.Error("dead letter sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Sweep runs one maintenance pass. Each stage is independent: a failure in
// one does not skip the others.
func (s *DLQScanner) Sweep(ctx context.Context) error {
	now := time.Now().UTC()
	var firstErr error

	archived, err := s.dlq.Archive(ctx, now.AddDate(0, 0, -s.cfg.ArchiveAfterDays))
	if err != nil {
		firstErr = err
		s.logger.Error("dead letter archive failed", zap.Error(err))
	} else if archived > 0 {
		s.logger.Info("dead letter entries archived", zap.Int64("archived", archived))
	}

	deleted, err := s.dlq.Delete(ctx, now.AddDate(0, 0, -s.cfg.MaxRetentionDays))
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		s.logger.Error("dead letter delete failed", zap.Error(err))
	} else if deleted > 0 {
		s.logger.Info("dead letter entries deleted", zap.Int64("deleted", deleted))
	}

	count, err := s.dlq.Count(ctx)
	if err != nil {
		if firstErr == nil {
			firstErr = err
		}
		return firstErr
	}
	if count >= int64(s.cfg.AlertThreshold) {
		// Raise goes through the cooldown, so a persistent backlog alerts
		// once per window instead of every sweep.
		a, err := alert.New(systemOrganizationID, alert.SeverityHigh, alert.TypeSystem,
			"dlq-scanner", "Dead letter queue backlog",
			fmt.Sprintf("dead letter queue holds %d entries, threshold %d", count, s.cfg.AlertThreshold))
		if err == nil {
			a.Metadata["entryCount"] = count
			a.Metadata["threshold"] = s.cfg.AlertThreshold
			if _, err := s.alerts.Raise(ctx, a); err != nil {
				s.logger.Error("failed to raise backlog alert", zap.Error(err))
			}
		}
	}
	return firstErr
}
