package errors

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/domain/alert"
	domain "github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/kv"
	"github.com/trailguard/trailguard/internal/metrics"
	"github.com/trailguard/trailguard/internal/testutil"
)

func newTestAggregator(t *testing.T, threshold int64) (*Aggregator, *testutil.AlertRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	collector := metrics.NewCollector(
		kv.NewFromClient(client, zap.NewNop()), prometheus.NewRegistry(), zap.NewNop())
	repo := testutil.NewAlertRepo()
	engine := alerting.NewEngine(repo, collector, 300*time.Second, zap.NewNop())
	return NewAggregator(engine, "system", threshold, zap.NewNop()), repo
}

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			"uuid",
			"event 7f3a1b2c-4d5e-6f70-8192-a3b4c5d6e7f8 not found",
			"event {uuid} not found",
		},
		{
			"timestamp",
			"stale since 2026-04-01T12:00:00Z",
			"stale since {timestamp}",
		},
		{
			"numbers",
			"query timed out after 5000ms on attempt 3",
			"query timed out after {n}ms on attempt {n}",
		},
		{
			"mixed",
			"batch 42 failed at 2026-04-01 12:00:00 for f47ac10b-58cc-4372-a567-0e02b2c3d479",
			"batch {n} failed at {timestamp} for {uuid}",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestRecordGroupsSimilarErrors(t *testing.T) {
	agg, _ := newTestAggregator(t, 10)

	for i := 0; i < 5; i++ {
		agg.Record("ingest.worker",
			domain.NewDatabaseError("insert failed for event 7f3a1b2c-4d5e-6f70-8192-a3b4c5d6e7f8"))
	}
	agg.Record("ingest.worker", domain.NewQueueError("stream read timed out"))

	groups := agg.Groups()
	require.Len(t, groups, 2)

	assert.Equal(t, int64(5), groups[0].Count)
	assert.Equal(t, domain.ErrorTypeDatabase, groups[0].Category)
	assert.Equal(t, "insert failed for event {uuid}", groups[0].Pattern)
	assert.Equal(t, "ingest.worker", groups[0].Component)

	assert.Equal(t, int64(1), groups[1].Count)
	assert.Equal(t, domain.ErrorTypeQueue, groups[1].Category)
}

func TestRecordWrappedErrorKeepsCategory(t *testing.T) {
	agg, _ := newTestAggregator(t, 10)

	agg.Record("scheduler", domain.Wrap(domain.NewNetworkError("webhook unreachable"), "delivering report"))

	groups := agg.Groups()
	require.Len(t, groups, 1)
	assert.Equal(t, domain.ErrorTypeNetwork, groups[0].Category)
}

func TestSweepRaisesAlertOverThreshold(t *testing.T) {
	agg, repo := newTestAggregator(t, 3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		agg.Record("ingest.worker", domain.NewDatabaseError("connection refused"))
	}
	agg.Record("ingest.worker", domain.NewQueueError("stream read timed out"))

	agg.Sweep(ctx)

	alerts, _, err := repo.List(ctx, alert.Filter{OrganizationID: "system"})
	require.NoError(t, err)
	require.Len(t, alerts, 1)

	raised := alerts[0]
	assert.Equal(t, alert.TypeSystem, raised.Type)
	assert.Equal(t, alert.SeverityMedium, raised.Severity)
	assert.Equal(t, "error-aggregator", raised.Source)
	assert.Contains(t, raised.Title, "database")
	assert.Contains(t, raised.Title, "ingest.worker")
	assert.Equal(t, "connection refused", raised.Metadata["pattern"])
	assert.Equal(t, int64(4), raised.Metadata["windowCount"])
}

func TestSweepTrendsAcrossWindows(t *testing.T) {
	agg, _ := newTestAggregator(t, 100)
	ctx := context.Background()

	record := func(n int) {
		for i := 0; i < n; i++ {
			agg.Record("ingest.worker", domain.NewDatabaseError("connection refused"))
		}
	}

	record(2)
	agg.Sweep(ctx)
	record(5)
	agg.Sweep(ctx)
	assert.Equal(t, TrendIncreasing, agg.Groups()[0].Trend)

	record(5)
	agg.Sweep(ctx)
	assert.Equal(t, TrendStable, agg.Groups()[0].Trend)

	record(1)
	agg.Sweep(ctx)
	assert.Equal(t, TrendDecreasing, agg.Groups()[0].Trend)
}

func TestSweepResetsWindow(t *testing.T) {
	agg, repo := newTestAggregator(t, 3)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		agg.Record("ingest.worker", domain.NewDatabaseError("connection refused"))
	}
	agg.Sweep(ctx)
	// No further failures: the next window is below the threshold, and the
	// engine cooldown would suppress a duplicate anyway.
	agg.Sweep(ctx)

	alerts, _, err := repo.List(ctx, alert.Filter{OrganizationID: "system"})
	require.NoError(t, err)
	assert.Len(t, alerts, 1)
}
