// Package errors aggregates processing failures into groups so operators see
// "database timeouts in the worker are climbing" instead of ten thousand
// individual log lines.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/alerting"
	"github.com/trailguard/trailguard/internal/domain/alert"
	domain "github.com/trailguard/trailguard/internal/domain/errors"
)

// Grouping collapses variable parts of messages so "event 7f3a... timed out
// after 5000ms" and "event 91c2... timed out after 5001ms" land in one group.
var (
	uuidPattern = regexp.MustCompile(
		`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)
	timestampPattern = regexp.MustCompile(
		`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(\.\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	numberPattern = regexp.MustCompile(`\b\d+(\.\d+)?\b`)
)

// Normalize replaces UUIDs, timestamps, and numbers in an error message with
// placeholders, yielding the group key for similar failures.
func Normalize(message string) string {
	message = uuidPattern.ReplaceAllString(message, "{uuid}")
	message = timestampPattern.ReplaceAllString(message, "{timestamp}")
	message = numberPattern.ReplaceAllString(message, "{n}")
	return message
}

// Trend describes how a group's failure rate moved across sweep windows.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Group is one family of similar failures.
type Group struct {
	Category  domain.ErrorType `json:"category"`
	Component string           `json:"component"`
	Pattern   string           `json:"pattern"`
	Count     int64            `json:"count"`
	FirstSeen time.Time        `json:"firstSeen"`
	LastSeen  time.Time        `json:"lastSeen"`
	Trend     Trend            `json:"trend"`

	// windowCount resets every sweep; prevWindow feeds the trend.
	windowCount int64
	prevWindow  int64
}

func (g *Group) key() string {
	return string(g.Category) + "\x00" + g.Component + "\x00" + g.Pattern
}

// Aggregator groups recorded failures and raises a SYSTEM alert when a group
// exceeds the per-window threshold. The alert engine's cooldown suppresses
// repeats, so a sustained failure storm produces one alert per cooldown
// window rather than one per sweep.
type Aggregator struct {
	mu     sync.Mutex
	groups map[string]*Group

	engine       *alerting.Engine
	organization string
	threshold    int64
	logger       *zap.Logger
	now          func() time.Time
}

// NewAggregator builds an aggregator raising alerts under the given tenant
// (platform-level failures conventionally use "system"). Threshold is the
// per-window count that trips an alert; zero means the default of 10.
func NewAggregator(engine *alerting.Engine, organizationID string, threshold int64, logger *zap.Logger) *Aggregator {
	if organizationID == "" {
		organizationID = "system"
	}
	if threshold <= 0 {
		threshold = 10
	}
	return &Aggregator{
		groups:       map[string]*Group{},
		engine:       engine,
		organization: organizationID,
		threshold:    threshold,
		logger:       logger,
		now:          time.Now,
	}
}

// WithClock overrides the aggregator clock; used by tests.
func (a *Aggregator) WithClock(now func() time.Time) *Aggregator {
	a.now = now
	return a
}

// Record files one failure under its group. Nil errors are ignored.
func (a *Aggregator) Record(component string, err error) {
	if err == nil {
		return
	}

	category := domain.ErrorTypeInternal
	var app *domain.AppError
	if stderrors.As(err, &app) {
		category = app.Type
	}

	g := &Group{
		Category:  category,
		Component: component,
		Pattern:   Normalize(err.Error()),
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := a.now().UTC()
	existing, ok := a.groups[g.key()]
	if !ok {
		g.FirstSeen = now
		g.Trend = TrendStable
		existing = g
		a.groups[g.key()] = g
	}
	existing.Count++
	existing.windowCount++
	existing.LastSeen = now
}

// Groups returns a snapshot sorted by total count, largest first.
func (a *Aggregator) Groups() []Group {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Group, 0, len(a.groups))
	for _, g := range a.groups {
		out = append(out, *g)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].key() < out[j].key()
	})
	return out
}

// Run sweeps on the given interval until the context is cancelled.
func (a *Aggregator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			a.Sweep(ctx)
		}
	}
}

// Sweep closes the current window: updates each group's trend, raises alerts
// for groups over the threshold, and resets window counters.
func (a *Aggregator) Sweep(ctx context.Context) {
	type breach struct {
		group Group
	}

	a.mu.Lock()
	var breaches []breach
	for _, g := range a.groups {
		switch {
		case g.windowCount > g.prevWindow:
			g.Trend = TrendIncreasing
		case g.windowCount < g.prevWindow:
			g.Trend = TrendDecreasing
		default:
			g.Trend = TrendStable
		}
		if g.windowCount >= a.threshold {
			breaches = append(breaches, breach{group: *g})
		}
		g.prevWindow = g.windowCount
		g.windowCount = 0
	}
	a.mu.Unlock()

	for _, b := range breaches {
		g := b.group
		_, err := a.engine.RaiseSystem(ctx, a.organization,
			severityFor(g.Category),
			"error-aggregator",
			fmt.Sprintf("Elevated %s errors in %s", g.Category, g.Component),
			fmt.Sprintf("%d occurrences of %q in the last window", g.windowCount, g.Pattern),
			map[string]interface{}{
				"category":    string(g.Category),
				"component":   g.Component,
				"pattern":     g.Pattern,
				"windowCount": g.windowCount,
				"totalCount":  g.Count,
				"trend":       string(g.Trend),
			})
		if err != nil {
			a.logger.Error("failed to raise aggregated error alert",
				zap.String("component", g.Component),
				zap.String("pattern", g.Pattern),
				zap.Error(err))
		}
	}
}

func severityFor(category domain.ErrorType) alert.Severity {
	switch category {
	case domain.ErrorTypeIntegrity:
		return alert.SeverityCritical
	case domain.ErrorTypeCrypto:
		return alert.SeverityHigh
	case domain.ErrorTypeDatabase, domain.ErrorTypeQueue, domain.ErrorTypeNetwork:
		return alert.SeverityMedium
	default:
		return alert.SeverityLow
	}
}
