package health

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/kv"
	"github.com/trailguard/trailguard/internal/metrics"
)

type stubAlertCounter struct {
	mu     sync.Mutex
	active int64
	err    error
	calls  int
}

func (s *stubAlertCounter) CountActive(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.active, s.err
}

func newTestChecker(t *testing.T, alerts *stubAlertCounter) (*Checker, *metrics.Collector) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	collector := metrics.NewCollector(
		kv.NewFromClient(client, zap.NewNop()), prometheus.NewRegistry(), zap.NewNop())
	checker := NewChecker(collector, alerts, zap.NewNop()).
		WithTimeouts(time.Second, time.Millisecond, 2)
	return checker, collector
}

func TestCheckAllHealthy(t *testing.T) {
	checker, collector := newTestChecker(t, &stubAlertCounter{active: 2})
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		collector.RecordEventProcessed(ctx, 10*time.Millisecond)
	}
	collector.RecordError(ctx)

	report := checker.Check(ctx)
	assert.Equal(t, StatusOK, report.Status)
	for name, component := range report.Components {
		assert.Equal(t, StatusOK, component.Status, name)
	}
}

func TestCheckPipelineThresholds(t *testing.T) {
	ctx := context.Background()

	t.Run("error rate above critical threshold", func(t *testing.T) {
		checker, collector := newTestChecker(t, &stubAlertCounter{})
		for i := 0; i < 100; i++ {
			collector.RecordEventProcessed(ctx, time.Millisecond)
		}
		for i := 0; i < 11; i++ {
			collector.RecordError(ctx)
		}
		report := checker.Check(ctx)
		assert.Equal(t, StatusCritical, report.Status)
		assert.Equal(t, StatusCritical, report.Components["pipeline"].Status)
	})

	t.Run("error rate in warning band", func(t *testing.T) {
		checker, collector := newTestChecker(t, &stubAlertCounter{})
		for i := 0; i < 100; i++ {
			collector.RecordEventProcessed(ctx, time.Millisecond)
		}
		for i := 0; i < 6; i++ {
			collector.RecordError(ctx)
		}
		report := checker.Check(ctx)
		assert.Equal(t, StatusWarning, report.Status)
	})

	t.Run("slow average latency warns", func(t *testing.T) {
		checker, collector := newTestChecker(t, &stubAlertCounter{})
		collector.RecordEventProcessed(ctx, 8*time.Second)
		report := checker.Check(ctx)
		assert.Equal(t, StatusWarning, report.Components["pipeline"].Status)
		assert.Contains(t, report.Components["pipeline"].Message, "latency")
	})
}

func TestCheckAlertingThreshold(t *testing.T) {
	checker, _ := newTestChecker(t, &stubAlertCounter{active: 11})
	report := checker.Check(context.Background())
	assert.Equal(t, StatusWarning, report.Components["alerting"].Status)
	assert.Equal(t, StatusWarning, report.Status)
}

func TestCheckDetectorThreshold(t *testing.T) {
	checker, collector := newTestChecker(t, &stubAlertCounter{})
	ctx := context.Background()
	for i := 0; i < 6; i++ {
		collector.RecordSuspiciousPattern(ctx)
	}
	report := checker.Check(ctx)
	assert.Equal(t, StatusWarning, report.Components["detector"].Status)
}

func TestCheckRetriesThenCritical(t *testing.T) {
	alerts := &stubAlertCounter{err: errors.NewDatabaseError("connection refused")}
	checker, _ := newTestChecker(t, alerts)

	report := checker.Check(context.Background())
	require.Equal(t, StatusCritical, report.Components["alerting"].Status)
	assert.Contains(t, report.Components["alerting"].Message, "health check failed")
	// Initial attempt plus the configured retries.
	assert.Equal(t, 3, alerts.calls)

	// The failing sub-check does not poison the healthy ones.
	assert.Equal(t, StatusOK, report.Components["pipeline"].Status)
	assert.Equal(t, StatusOK, report.Components["detector"].Status)
}
