package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/detect"
	erragg "github.com/trailguard/trailguard/internal/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
	"github.com/trailguard/trailguard/internal/infrastructure/database"
	"github.com/trailguard/trailguard/internal/infrastructure/kv"
	"github.com/trailguard/trailguard/internal/infrastructure/logging"
	"github.com/trailguard/trailguard/internal/infrastructure/queue"
	"github.com/trailguard/trailguard/internal/ingest"
	"github.com/trailguard/trailguard/internal/metrics"
)

const aggregatorSweepInterval = 5 * time.Minute

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

	signer, err := buildSigner(cfg, logger)
	if err != nil {
		logger.Fatal("signer initialization failed", zap.Error(err))
	}
	sealer := crypto.NewSealer(signer)

	q, err := queue.NewRedisStreamQueue(redisClient, consumerName(), logger)
	if err != nil {
		logger.Fatal("queue initialization failed", zap.Error(err))
	}
	defer func() { _ = q.Close() }()

	var sinks []alerting.AlertSink
	if cfg.Monitoring.Notification.Enabled {
		sink, err := alerting.NewWebhookSink(cfg.Monitoring.Notification, logger)
		if err != nil {
			logger.Fatal("webhook sink initialization failed", zap.Error(err))
		}
		sinks = append(sinks, sink)
	}

	alertRepo := database.NewAlertRepository(db)
	engine := alerting.NewEngine(alertRepo, collector,
		cfg.Scheduler.CooldownDuration, logger, sinks...)
	aggregator := erragg.NewAggregator(engine, "system", 0, logger)

	dlqRepo := database.NewDLQRepository(db)
	pool := ingest.NewWorkerPool(
		q,
		sealer,
		database.NewAuditRepository(db),
		dlqRepo,
		detect.NewDetector(cfg.PatternDetection, logger),
		engine,
		collector,
		cfg.Retry,
		cfg.Worker.Concurrency,
		logger,
	).WithErrorObserver(aggregator)

	scanner := ingest.NewDLQScanner(dlqRepo, engine, cfg.DLQ, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(ctx) })
	g.Go(func() error { return ignoreCancel(scanner.Run(ctx)) })
	g.Go(func() error { return ignoreCancel(aggregator.Run(ctx, aggregatorSweepInterval)) })
	g.Go(func() error {
		// Queue depth gauge for the dashboards.
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if depth, err := q.Depth(ctx); err == nil {
					collector.SetQueueDepth(ctx, depth)
				}
			}
		}
	})

	logger.Info("worker started", zap.Int("concurrency", cfg.Worker.Concurrency))
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("worker terminated", zap.Error(err))
	}
	logger.Info("worker stopped")
}

// buildSigner selects the signing backend: remote KMS when enabled, local
// HMAC otherwise.
func buildSigner(cfg *config.Config, logger *zap.Logger) (crypto.Signer, error) {
	if cfg.KMS.Enabled {
		client, err := crypto.NewKMSClient(crypto.KMSConfig{
			BaseURL:          cfg.KMS.BaseURL,
			AccessToken:      cfg.KMS.AccessToken,
			SigningAlgorithm: cfg.KMS.SigningAlgorithm,
			Timeout:          cfg.KMS.Timeout,
			MaxRetries:       cfg.KMS.MaxRetries,
		}, logger)
		if err != nil {
			return nil, err
		}
		return crypto.NewRemoteKMS(client, cfg.KMS.SigningAlgorithm), nil
	}
	return crypto.NewLocalHMAC([]byte(cfg.Crypto.SigningKey))
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
