package metrics

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

	"github.com/trailguard/trailguard/internal/infrastructure/kv"
)

func newTestCollector(t *testing.T) (*Collector, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kv.NewFromClient(client, zap.NewNop())
	return NewCollector(store, prometheus.NewRegistry(), zap.NewNop()), mr
}

func TestCollectorCounters(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()

	t.Run("missing counter reads zero", func(t *testing.T) {
		n, err := c.Counter(ctx, KeyEventsProcessed)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("increments accumulate", func(t *testing.T) {
		for i := 0; i < 3; i++ {
			c.RecordEventProcessed(ctx, 10*time.Millisecond)
		}
		n, err := c.Counter(ctx, KeyEventsProcessed)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})
}

func TestCollectorErrorRate(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()

	t.Run("zero when nothing processed", func(t *testing.T) {
		rate, err := c.ErrorRate(ctx)
		require.NoError(t, err)
		assert.Zero(t, rate)
	})

	t.Run("ratio of errors to events", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			c.RecordEventProcessed(ctx, time.Millisecond)
		}
		c.RecordError(ctx)

		rate, err := c.ErrorRate(ctx)
		require.NoError(t, err)
		assert.InDelta(t, 0.1, rate, 0.001)
	})
}

func TestCollectorHistogram(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()

	for _, v := range []float64{5, 10, 15} {
		require.NoError(t, c.RecordHistogram(ctx, "testLatency", v))
	}

	agg, err := c.Histogram(ctx, "testLatency")
	require.NoError(t, err)
	assert.Equal(t, int64(3), agg.Count)
	assert.Equal(t, float64(30), agg.Sum)
	assert.Equal(t, float64(5), agg.Min)
	assert.Equal(t, float64(15), agg.Max)
	assert.False(t, agg.LastUpdated.IsZero())
}

func TestCollectorLatency(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()

	c.RecordEventProcessed(ctx, 100*time.Millisecond)
	c.RecordEventProcessed(ctx, 200*time.Millisecond)

	avg, ema, err := c.ProcessingLatency(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 150, avg, 0.001)
	// EMA seeds at the first sample then moves toward the second.
	assert.InDelta(t, 120, ema, 0.001)
}

func TestCollectorCooldowns(t *testing.T) {
	c, mr := newTestCollector(t)
	ctx := context.Background()

	on, err := c.IsOnCooldown(ctx, "alert_cooldown:abc")
	require.NoError(t, err)
	assert.False(t, on)

	require.NoError(t, c.SetCooldown(ctx, "alert_cooldown:abc", 300*time.Second))

	on, err = c.IsOnCooldown(ctx, "alert_cooldown:abc")
	require.NoError(t, err)
	assert.True(t, on)

	// Cooldown expires with its TTL.
	mr.FastForward(301 * time.Second)
	on, err = c.IsOnCooldown(ctx, "alert_cooldown:abc")
	require.NoError(t, err)
	assert.False(t, on)
}

func TestGaugeKeyLabelOrder(t *testing.T) {
	c, _ := newTestCollector(t)
	ctx := context.Background()

	require.NoError(t, c.RecordGauge(ctx, "depth", 42,
		map[string]string{"b": "2", "a": "1"}))

	// Label order must not matter on read.
	g, err := c.Gauge(ctx, "depth", map[string]string{"a": "1", "b": "2"})
	require.NoError(t, err)
	assert.Equal(t, float64(42), g.Value)
}
