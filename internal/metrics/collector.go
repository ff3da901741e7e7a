package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/infrastructure/kv"
)

const (
	metricsPrefix  = "metrics:"
	alertsPrefix   = "alerts:"
	samplesTTL     = time.Hour
	aggregateTTL   = 24 * time.Hour
	latencyEMACoef = 0.2
)

// Counter key names shared with the health checker and dashboards.
const (
	KeyEventsProcessed     = "eventsProcessed"
	KeyErrorsGenerated     = "errorsGenerated"
	KeyIntegrityViolations = "integrityViolations"
	KeyAlertsGenerated     = "alertsGenerated"
	KeySuspiciousPatterns  = "suspiciousPatterns"
	KeyQueueDepth          = "queueDepth"
	KeyProcessingLatency   = "processingLatency"
)

// HistogramAggregate is the rolled-up view kept for 24h alongside raw
// samples kept for 1h.
type HistogramAggregate struct {
	Count       int64     `json:"count"`
	Sum         float64   `json:"sum"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// GaugeValue is a most-recent-value gauge with its observation time.
type GaugeValue struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// Collector is the shared-KV metrics collector. Counters, gauges, and
// histograms live under the metrics: prefix so every instance reads the same
// numbers; a Prometheus mirror serves scrapes. The alert-cooldown primitives
// for the alert engine live here too, under the alerts: prefix.
type Collector struct {
	kv     kv.KV
	logger *zap.Logger

	promEvents   prometheus.Counter
	promErrors   prometheus.Counter
	promLatency  prometheus.Histogram
	promPatterns prometheus.Counter
	promAlerts   prometheus.Counter
	promDepth    prometheus.Gauge
}

// NewCollector builds a collector and registers its Prometheus mirror.
func NewCollector(store kv.KV, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	c := &Collector{
		kv:     store,
		logger: logger,
		promEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trailguard_events_processed_total",
			Help: "Audit events processed by ingestion workers.",
		}),
		promErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trailguard_errors_total",
			Help: "Errors generated across the pipeline.",
		}),
		promLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trailguard_processing_latency_ms",
			Help:    "End-to-end event processing latency in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14),
		}),
		promPatterns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trailguard_suspicious_patterns_total",
			Help: "Suspicious patterns detected.",
		}),
		promAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trailguard_alerts_generated_total",
			Help: "Alerts persisted by the alert engine.",
		}),
		promDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trailguard_queue_depth",
			Help: "Current ingestion queue depth.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.promEvents, c.promErrors, c.promLatency,
			c.promPatterns, c.promAlerts, c.promDepth)
	}
	return c
}

func counterKey(name string) string { return metricsPrefix + name }

func gaugeKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return metricsPrefix + "gauge:" + name
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+labels[k])
	}
	return metricsPrefix + "gauge:" + name + ":" + strings.Join(parts, ",")
}

// IncrCounter increments a named counter.
func (c *Collector) IncrCounter(ctx context.Context, name string) (int64, error) {
	return c.kv.Incr(ctx, counterKey(name))
}

// Counter reads a named counter; missing counters read as zero.
func (c *Collector) Counter(ctx context.Context, name string) (int64, error) {
	raw, err := c.kv.Get(ctx, counterKey(name))
	if err != nil {
		if kv.IsNotFound(err) {
			return 0, nil
		}
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}

// RecordGauge stores a most-recent gauge value with timestamp.
func (c *Collector) RecordGauge(ctx context.Context, name string, value float64, labels map[string]string) error {
	payload, err := json.Marshal(GaugeValue{Value: value, Timestamp: time.Now().UTC()})
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, gaugeKey(name, labels), string(payload), aggregateTTL)
}

// Gauge reads a gauge value.
func (c *Collector) Gauge(ctx context.Context, name string, labels map[string]string) (*GaugeValue, error) {
	raw, err := c.kv.Get(ctx, gaugeKey(name, labels))
	if err != nil {
		return nil, err
	}
	var g GaugeValue
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// RecordHistogram stores one sample (kept 1h) and folds it into the
// aggregate (kept 24h).
func (c *Collector) RecordHistogram(ctx context.Context, name string, sample float64) error {
	sampleKey := fmt.Sprintf("%shist:%s:sample:%d", metricsPrefix, name, time.Now().UnixNano())
	if err := c.kv.Set(ctx, sampleKey, strconv.FormatFloat(sample, 'f', -1, 64), samplesTTL); err != nil {
		return err
	}

	aggKey := metricsPrefix + "hist:" + name + ":agg"
	agg := HistogramAggregate{Min: sample, Max: sample}
	if raw, err := c.kv.Get(ctx, aggKey); err == nil {
		if err := json.Unmarshal([]byte(raw), &agg); err != nil {
			agg = HistogramAggregate{Min: sample, Max: sample}
		}
	}
	agg.Count++
	agg.Sum += sample
	if sample < agg.Min || agg.Count == 1 {
		agg.Min = sample
	}
	if sample > agg.Max {
		agg.Max = sample
	}
	agg.LastUpdated = time.Now().UTC()

	payload, err := json.Marshal(agg)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, aggKey, string(payload), aggregateTTL)
}

// Histogram reads the aggregate for a named histogram.
func (c *Collector) Histogram(ctx context.Context, name string) (*HistogramAggregate, error) {
	raw, err := c.kv.Get(ctx, metricsPrefix+"hist:"+name+":agg")
	if err != nil {
		if kv.IsNotFound(err) {
			return &HistogramAggregate{}, nil
		}
		return nil, err
	}
	var agg HistogramAggregate
	if err := json.Unmarshal([]byte(raw), &agg); err != nil {
		return nil, err
	}
	return &agg, nil
}

// Domain metric helpers.

// RecordEventProcessed counts one processed event and its latency, and
// advances the latency EMA.
func (c *Collector) RecordEventProcessed(ctx context.Context, latency time.Duration) {
	ms := float64(latency.Milliseconds())
	c.promEvents.Inc()
	c.promLatency.Observe(ms)

	if _, err := c.IncrCounter(ctx, KeyEventsProcessed); err != nil {
		c.logger.Debug("failed to increment events counter", zap.Error(err))
	}
	if err := c.RecordHistogram(ctx, KeyProcessingLatency, ms); err != nil {
		c.logger.Debug("failed to record latency sample", zap.Error(err))
	}

	emaKey := metricsPrefix + KeyProcessingLatency + ":ema"
	ema := ms
	if raw, err := c.kv.Get(ctx, emaKey); err == nil {
		if prev, perr := strconv.ParseFloat(raw, 64); perr == nil {
			ema = latencyEMACoef*ms + (1-latencyEMACoef)*prev
		}
	}
	if err := c.kv.Set(ctx, emaKey, strconv.FormatFloat(ema, 'f', -1, 64), aggregateTTL); err != nil {
		c.logger.Debug("failed to store latency ema", zap.Error(err))
	}
}

// RecordError counts one generated error.
func (c *Collector) RecordError(ctx context.Context) {
	c.promErrors.Inc()
	if _, err := c.IncrCounter(ctx, KeyErrorsGenerated); err != nil {
		c.logger.Debug("failed to increment errors counter", zap.Error(err))
	}
}

// RecordIntegrityViolation counts one hash or signature mismatch.
func (c *Collector) RecordIntegrityViolation(ctx context.Context) {
	if _, err := c.IncrCounter(ctx, KeyIntegrityViolations); err != nil {
		c.logger.Debug("failed to increment integrity counter", zap.Error(err))
	}
}

// RecordAlertGenerated counts one persisted alert.
func (c *Collector) RecordAlertGenerated(ctx context.Context) {
	c.promAlerts.Inc()
	if _, err := c.IncrCounter(ctx, KeyAlertsGenerated); err != nil {
		c.logger.Debug("failed to increment alerts counter", zap.Error(err))
	}
}

// RecordSuspiciousPattern counts one detected pattern.
func (c *Collector) RecordSuspiciousPattern(ctx context.Context) {
	c.promPatterns.Inc()
	if _, err := c.IncrCounter(ctx, KeySuspiciousPatterns); err != nil {
		c.logger.Debug("failed to increment patterns counter", zap.Error(err))
	}
}

// SetQueueDepth publishes the observed queue depth.
func (c *Collector) SetQueueDepth(ctx context.Context, depth int64) {
	c.promDepth.Set(float64(depth))
	if err := c.RecordGauge(ctx, KeyQueueDepth, float64(depth), nil); err != nil {
		c.logger.Debug("failed to record queue depth", zap.Error(err))
	}
}

// ErrorRate returns errorsGenerated/eventsProcessed, zero when nothing has
// been processed.
func (c *Collector) ErrorRate(ctx context.Context) (float64, error) {
	events, err := c.Counter(ctx, KeyEventsProcessed)
	if err != nil {
		return 0, err
	}
	if events == 0 {
		return 0, nil
	}
	errs, err := c.Counter(ctx, KeyErrorsGenerated)
	if err != nil {
		return 0, err
	}
	return float64(errs) / float64(events), nil
}

// ProcessingLatency returns (average, EMA) in milliseconds.
func (c *Collector) ProcessingLatency(ctx context.Context) (avg, ema float64, err error) {
	agg, err := c.Histogram(ctx, KeyProcessingLatency)
	if err != nil {
		return 0, 0, err
	}
	if agg.Count > 0 {
		avg = agg.Sum / float64(agg.Count)
	}
	if raw, gerr := c.kv.Get(ctx, metricsPrefix+KeyProcessingLatency+":ema"); gerr == nil {
		ema, _ = strconv.ParseFloat(raw, 64)
	}
	return avg, ema, nil
}

// Cooldown primitives backing alert deduplication.

// SetCooldown arms a cooldown key for ttl.
func (c *Collector) SetCooldown(ctx context.Context, key string, ttl time.Duration) error {
	return c.kv.Set(ctx, alertsPrefix+key, "1", ttl)
}

// IsOnCooldown reports whether the cooldown key is still armed.
func (c *Collector) IsOnCooldown(ctx context.Context, key string) (bool, error) {
	return c.kv.Exists(ctx, alertsPrefix+key)
}
