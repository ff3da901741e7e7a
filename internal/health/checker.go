package health

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/metrics"
)

// Status is a component health level. Statuses order by severity so the
// overall report is the worst component.
type Status string

const (
	StatusOK       Status = "OK"
	StatusWarning  Status = "WARNING"
	StatusCritical Status = "CRITICAL"
)

func (s Status) rank() int {
	switch s {
	case StatusCritical:
		return 2
	case StatusWarning:
		return 1
	}
	return 0
}

func worse(a, b Status) Status {
	if b.rank() > a.rank() {
		return b
	}
	return a
}

// Thresholds are the health trip points.
const (
	errorRateCritical  = 0.1
	errorRateWarning   = 0.05
	latencyWarningMs   = 5000
	activeAlertWarning = 10
	patternWarning     = 5
)

// ComponentHealth is one sub-check result.
type ComponentHealth struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Report is the aggregated health view.
type Report struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	CheckedAt  time.Time                  `json:"checkedAt"`
}

// AlertCounter counts currently active (non-terminal) alerts across tenants.
type AlertCounter interface {
	CountActive(ctx context.Context) (int64, error)
}

// Checker derives component health from the shared metrics and the alert
// store. Each sub-check runs under its own timeout with retries, so one slow
// dependency does not wedge the whole probe.
type Checker struct {
	collector *metrics.Collector
	alerts    AlertCounter
	logger    *zap.Logger

	checkTimeout  time.Duration
	checkRetries  uint64
	retryInterval time.Duration
}

// NewChecker builds a checker with the default 5s timeout and 3x1s retries.
func NewChecker(collector *metrics.Collector, alerts AlertCounter, logger *zap.Logger) *Checker {
	return &Checker{
		collector:     collector,
		alerts:        alerts,
		logger:        logger,
		checkTimeout:  5 * time.Second,
		checkRetries:  3,
		retryInterval: time.Second,
	}
}

// WithTimeouts overrides the sub-check budget; used by tests.
func (c *Checker) WithTimeouts(timeout, retryInterval time.Duration, retries uint64) *Checker {
	c.checkTimeout = timeout
	c.retryInterval = retryInterval
	c.checkRetries = retries
	return c
}

// Check runs every sub-check and aggregates. A sub-check that keeps failing
// reports CRITICAL for its component rather than failing the probe.
func (c *Checker) Check(ctx context.Context) *Report {
	report := &Report{
		Status:     StatusOK,
		Components: map[string]ComponentHealth{},
		CheckedAt:  time.Now().UTC(),
	}

	checks := []struct {
		name string
		fn   func(context.Context) (ComponentHealth, error)
	}{
		{"pipeline", c.checkPipeline},
		{"alerting", c.checkAlerting},
		{"detector", c.checkDetector},
	}

	for _, check := range checks {
		health, err := c.run(ctx, check.fn)
		if err != nil {
			health = ComponentHealth{
				Status:  StatusCritical,
				Message: "health check failed: " + err.Error(),
			}
			c.logger.Warn("health sub-check failed",
				zap.String("component", check.name), zap.Error(err))
		}
		report.Components[check.name] = health
		report.Status = worse(report.Status, health.Status)
	}
	return report
}

// run executes one sub-check with per-attempt timeout and constant-interval
// retries.
func (c *Checker) run(ctx context.Context, fn func(context.Context) (ComponentHealth, error)) (ComponentHealth, error) {
	var health ComponentHealth
	operation := func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
		defer cancel()
		var err error
		health, err = fn(attemptCtx)
		return err
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.retryInterval), c.checkRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return ComponentHealth{}, err
	}
	return health, nil
}

func (c *Checker) checkPipeline(ctx context.Context) (ComponentHealth, error) {
	rate, err := c.collector.ErrorRate(ctx)
	if err != nil {
		return ComponentHealth{}, err
	}
	avg, _, err := c.collector.ProcessingLatency(ctx)
	if err != nil {
		return ComponentHealth{}, err
	}

	switch {
	case rate > errorRateCritical:
		return ComponentHealth{
			Status:  StatusCritical,
			Message: fmt.Sprintf("error rate %.2f exceeds %.2f", rate, errorRateCritical),
		}, nil
	case rate > errorRateWarning:
		return ComponentHealth{
			Status:  StatusWarning,
			Message: fmt.Sprintf("error rate %.2f exceeds %.2f", rate, errorRateWarning),
		}, nil
	case avg > latencyWarningMs:
		return ComponentHealth{
			Status:  StatusWarning,
			Message: fmt.Sprintf("average latency %.0fms exceeds %dms", avg, latencyWarningMs),
		}, nil
	}
	return ComponentHealth{Status: StatusOK}, nil
}

func (c *Checker) checkAlerting(ctx context.Context) (ComponentHealth, error) {
	active, err := c.alerts.CountActive(ctx)
	if err != nil {
		return ComponentHealth{}, err
	}
	if active > activeAlertWarning {
		return ComponentHealth{
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d active alerts exceed %d", active, activeAlertWarning),
		}, nil
	}
	return ComponentHealth{Status: StatusOK}, nil
}

func (c *Checker) checkDetector(ctx context.Context) (ComponentHealth, error) {
	patterns, err := c.collector.Counter(ctx, metrics.KeySuspiciousPatterns)
	if err != nil {
		return ComponentHealth{}, err
	}
	if patterns > patternWarning {
		return ComponentHealth{
			Status:  StatusWarning,
			Message: fmt.Sprintf("%d suspicious patterns exceed %d", patterns, patternWarning),
		}, nil
	}
	return ComponentHealth{Status: StatusOK}, nil
}
