package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/compliance"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
	"github.com/trailguard/trailguard/internal/infrastructure/database"
	"github.com/trailguard/trailguard/internal/infrastructure/kv"
	"github.com/trailguard/trailguard/internal/infrastructure/logging"
	"github.com/trailguard/trailguard/internal/metrics"
	"github.com/trailguard/trailguard/internal/scheduler"
)

const (
	retentionSweepInterval = time.Hour
	deliveryRetryInterval  = 15 * time.Minute
	alertCleanupInterval   = 24 * time.Hour
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	logger, err := logging.New(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := kv.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal("redis connection failed", zap.Error(err))
	}
	defer func() { _ = redisClient.Close() }()

	collector := metrics.NewCollector(
		kv.NewFromClient(redisClient, logger), prometheus.DefaultRegisterer, logger)

	auditRepo := database.NewAuditRepository(db)
	retentionRepo := database.NewRetentionRepository(db)
	if err := seedRetentionPolicies(ctx, retentionRepo, cfg.Retention.Policies); err != nil {
		logger.Fatal("retention policy seeding failed", zap.Error(err))
	}

	deliverers, err := buildDeliverers(cfg, logger)
	if err != nil {
		logger.Fatal("delivery initialization failed", zap.Error(err))
	}

	orchestrator := scheduler.NewOrchestrator(
		database.NewScheduleRepository(db),
		database.NewExecutionRepository(db),
		compliance.NewGenerator(auditRepo, logger),
		deliverers,
		cfg.Retry,
		cfg.Scheduler.RetryWindow,
		logger,
	)

	enforcer := compliance.NewRetentionEnforcer(auditRepo, retentionRepo, logger)
	alertRepo := database.NewAlertRepository(db)
	engine := alerting.NewEngine(alertRepo, collector,
		cfg.Scheduler.CooldownDuration, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCancel(orchestrator.Run(ctx, cfg.Scheduler.TickInterval))
	})
	g.Go(func() error {
		return every(ctx, deliveryRetryInterval, func() {
			if err := orchestrator.RetryFailedDeliveries(ctx); err != nil {
				logger.Error("delivery retry pass failed", zap.Error(err))
			}
		})
	})
	g.Go(func() error {
		return every(ctx, retentionSweepInterval, func() {
			results, err := enforcer.EnforceAll(ctx)
			if err != nil {
				logger.Error("retention sweep failed", zap.Error(err))
				return
			}
			for _, res := range results {
				if res.Archived > 0 || res.Deleted > 0 {
					logger.Info("retention applied",
						zap.String("policy", res.PolicyName),
						zap.Int64("archived", res.Archived),
						zap.Int64("deleted", res.Deleted))
				}
			}
		})
	})
	g.Go(func() error {
		return every(ctx, alertCleanupInterval, func() {
			cleanupResolvedAlerts(ctx, alertRepo, engine, cfg.Scheduler.AlertRetention, logger)
		})
	})

	logger.Info("scheduler started",
		zap.Duration("tick", cfg.Scheduler.TickInterval))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("scheduler terminated", zap.Error(err))
	}
	logger.Info("scheduler stopped")
}

func buildDeliverers(cfg *config.Config, logger *zap.Logger) ([]scheduler.Deliverer, error) {
	deliverers := []scheduler.Deliverer{
		scheduler.NewWebhookDeliverer(cfg.Delivery.Timeout, logger),
		scheduler.NewStorageDeliverer(cfg.Delivery.Storage, logger),
	}
	if cfg.Delivery.SMTP.Host != "" {
		email, err := scheduler.NewEmailDeliverer(cfg.Delivery.SMTP, logger)
		if err != nil {
			return nil, err
		}
		deliverers = append(deliverers, email)
	}
	return deliverers, nil
}

// seedRetentionPolicies upserts the configured policies so the enforcer and
// the ingest validator agree on the active set.
func seedRetentionPolicies(ctx context.Context, repo *database.RetentionRepository, policies []config.RetentionPolicyConfig) error {
	for _, p := range policies {
		policy := &audit.RetentionPolicy{
			Name:               p.Name,
			DataClassification: audit.DataClassification(p.DataClassification),
			RetentionDays:      p.RetentionDays,
			ArchiveAfterDays:   p.ArchiveAfterDays,
			DeleteAfterDays:    p.DeleteAfterDays,
			IsActive:           true,
		}
		if err := policy.Validate(); err != nil {
			return err
		}
		if err := repo.Upsert(ctx, policy); err != nil {
			return err
		}
	}
	return nil
}

func cleanupResolvedAlerts(ctx context.Context, repo *database.AlertRepository, engine *alerting.Engine, retentionDays int, logger *zap.Logger) {
	orgs, err := repo.Organizations(ctx)
	if err != nil {
		logger.Error("alert tenant listing failed", zap.Error(err))
		return
	}
	for _, org := range orgs {
		if _, err := engine.CleanupResolved(ctx, org, retentionDays); err != nil {
			logger.Error("alert cleanup failed",
				zap.String("organization_id", org), zap.Error(err))
		}
	}
}

// every runs fn immediately and then on the interval until cancellation.
func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		fn()
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
