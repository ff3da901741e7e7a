package ingest

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/detect"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
	"github.com/trailguard/trailguard/internal/infrastructure/kv"
	"github.com/trailguard/trailguard/internal/infrastructure/queue"
	"github.com/trailguard/trailguard/internal/metrics"
	"github.com/trailguard/trailguard/internal/testutil"
)

type pipeline struct {
	service *Service
	pool    *WorkerPool
	queue   *queue.MemoryQueue
	events  *testutil.EventRepo
	dlq     *testutil.DLQRepo
	alerts  *testutil.AlertRepo
}

func testRetry() config.RetryConfig {
	return config.RetryConfig{
		Enabled:           true,
		MaxAttempts:       3,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	collector := metrics.NewCollector(
		kv.NewFromClient(client, zap.NewNop()), prometheus.NewRegistry(), zap.NewNop())

	signer, err := crypto.NewLocalHMAC([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	sealer := crypto.NewSealer(signer)

	q := queue.NewMemoryQueue()
	events := testutil.NewEventRepo()
	dlqRepo := testutil.NewDLQRepo()
	alertRepo := testutil.NewAlertRepo()
	engine := alerting.NewEngine(alertRepo, collector, 300*time.Second, zap.NewNop())
	detector := detect.NewDetector(config.PatternDetectionConfig{
		FailedAuthThreshold:         5,
		FailedAuthWindow:            5 * time.Minute,
		UnauthorizedAccessThreshold: 3,
		UnauthorizedAccessWindow:    10 * time.Minute,
		DataAccessThreshold:         50,
		DataAccessWindow:            time.Minute,
		BulkOperationThreshold:      100,
		BulkOperationWindow:         5 * time.Minute,
		OffHoursStart:               22,
		OffHoursEnd:                 6,
	}, zap.NewNop())

	retry := testRetry()
	return &pipeline{
		service: NewService(NewValidator(audit.DefaultRetentionPolicies()),
			sealer, q, collector, retry, 100, zap.NewNop()),
		pool: NewWorkerPool(q, sealer, events, dlqRepo, detector, engine,
			collector, retry, 2, zap.NewNop()),
		queue:  q,
		events: events,
		dlq:    dlqRepo,
		alerts: alertRepo,
	}
}

// drain processes queued messages until the queue is empty or the timeout
// elapses.
func (p *pipeline) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = p.pool.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(4 * time.Second)
	for time.Now().Before(deadline) {
		depth, err := p.queue.Depth(ctx)
		require.NoError(t, err)
		if depth == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done
}

func TestPipelineDelivery(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	event, err := p.service.Log(ctx, &EventInput{
		Action:             "data.read.record",
		Status:             "success",
		PrincipalID:        "user-1",
		OrganizationID:     "org-1",
		DataClassification: "PHI",
	})
	require.NoError(t, err)
	assert.True(t, event.IsSealed())
	assert.NotEmpty(t, event.Signature)

	p.drain(t)

	stored := p.events.All()
	require.Len(t, stored, 1)
	assert.Equal(t, event.ID, stored[0].ID)
	assert.Equal(t, event.Hash, stored[0].Hash)
	assert.Empty(t, mustList(t, p.dlq))
}

func TestPipelineTamperedEventDeadLetters(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	event, err := p.service.Log(ctx, &EventInput{
		Action:         "data.read.record",
		Status:         "success",
		PrincipalID:    "user-1",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)

	// Corrupt the queued payload: flip the principal without resealing.
	msg, err := p.queue.Dequeue(ctx)
	require.NoError(t, err)
	tampered := event.Clone()
	tampered.PrincipalID = "attacker"
	payload, err := json.Marshal(tampered)
	require.NoError(t, err)
	require.NoError(t, p.queue.Ack(ctx, msg))
	require.NoError(t, p.queue.Enqueue(ctx, &queue.Message{
		OrganizationID: tampered.OrganizationID, Payload: payload}))

	p.drain(t)

	assert.Empty(t, p.events.All(), "tampered events must not persist")
	entries := mustList(t, p.dlq)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].FailureReason, "hash mismatch")
}

func TestPipelineBackpressure(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Saturate past the watermark of 100 without draining.
	for i := 0; i < 100; i++ {
		_, err := p.service.Log(ctx, &EventInput{
			Action:         "data.read.record",
			Status:         "success",
			PrincipalID:    "user-1",
			OrganizationID: "org-1",
		})
		require.NoError(t, err)
	}

	_, err := p.service.Log(ctx, &EventInput{
		Action:         "data.read.record",
		Status:         "success",
		PrincipalID:    "user-1",
		OrganizationID: "org-1",
	})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQueue))

	// Guaranteed delivery pushes through the watermark.
	_, err = p.service.LogWithGuaranteedDelivery(ctx, &EventInput{
		Action:         "data.read.record",
		Status:         "success",
		PrincipalID:    "user-1",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)
}

func TestPipelineRaisesPatternAlerts(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := p.service.Log(ctx, &EventInput{
			Action:             "auth.login.failure",
			Status:             "failure",
			PrincipalID:        "user-1",
			OrganizationID:     "org-1",
			OutcomeDescription: "bad password",
		})
		require.NoError(t, err)
	}

	p.drain(t)

	require.Len(t, p.events.All(), 5)
	alerts := p.alerts.All()
	require.NotEmpty(t, alerts, "failed-auth pattern must raise an alert")
	assert.Equal(t, "FAILED_AUTH", alerts[0].Metadata["patternType"])
}

func TestDLQScannerSweep(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	collector := metrics.NewCollector(
		kv.NewFromClient(client, zap.NewNop()), prometheus.NewRegistry(), zap.NewNop())
	alertRepo := testutil.NewAlertRepo()
	engine := alerting.NewEngine(alertRepo, collector, 300*time.Second, zap.NewNop())
	dlqRepo := testutil.NewDLQRepo()
	ctx := context.Background()

	scanner := NewDLQScanner(dlqRepo, engine, config.DLQConfig{
		AlertThreshold:   2,
		MaxRetentionDays: 30,
		ArchiveAfterDays: 7,
		ScanInterval:     time.Minute,
	}, zap.NewNop())

	now := time.Now().UTC()
	for _, age := range []time.Duration{time.Hour, 10 * 24 * time.Hour, 40 * 24 * time.Hour} {
		e := &audit.DLQEntry{
			ID:               uuid.New(),
			FailureReason:    "database unavailable",
			FailureCount:     3,
			FirstFailureTime: now.Add(-age),
			LastFailureTime:  now.Add(-age),
		}
		require.NoError(t, dlqRepo.Add(ctx, e))
	}

	require.NoError(t, scanner.Sweep(ctx))

	t.Run("old entries deleted", func(t *testing.T) {
		count, err := dlqRepo.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})

	t.Run("aging entries archived", func(t *testing.T) {
		entries := mustList(t, dlqRepo)
		archived := 0
		for _, e := range entries {
			if e.ArchivedAt != nil {
				archived++
			}
		}
		assert.Equal(t, 1, archived)
	})

	t.Run("backlog alert raised once per cooldown", func(t *testing.T) {
		require.NoError(t, scanner.Sweep(ctx))
		alerts := alertRepo.All()
		require.Len(t, alerts, 1)
		assert.Equal(t, "dlq-scanner", alerts[0].Source)
	})
}

func mustList(t *testing.T, repo *testutil.DLQRepo) []*audit.DLQEntry {
	t.Helper()
	entries, err := repo.List(context.Background(), 0)
	require.NoError(t, err)
	return entries
}
