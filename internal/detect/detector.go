package detect

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
)

// PatternType identifies one of the rule-based detectors.
type PatternType string

const (
	PatternFailedAuth         PatternType = "FAILED_AUTH"
	PatternUnauthorizedAccess PatternType = "UNAUTHORIZED_ACCESS"
	PatternDataVelocity       PatternType = "DATA_VELOCITY"
	PatternBulkOperation      PatternType = "BULK_OPERATION"
	PatternOffHours           PatternType = "OFF_HOURS"
)

// SuspiciousPattern is one detector trigger. OrganizationID comes from the
// first event of the triggering group.
type SuspiciousPattern struct {
	Type           PatternType
	OrganizationID string
	GroupKey       string
	Severity       alert.Severity
	EventCount     int
	WindowStart    time.Time
	WindowEnd      time.Time
	Description    string
	Metadata       map[string]interface{}
}

// ToAlert derives the alert for a pattern.
func (p *SuspiciousPattern) ToAlert() (*alert.Alert, error) {
	a, err := alert.New(
		p.OrganizationID,
		p.Severity,
		alert.TypeSecurity,
		"pattern-detector",
		fmt.Sprintf("Suspicious pattern: %s", p.Type),
		p.Description,
	)
	if err != nil {
		return nil, err
	}
	a.Metadata["patternType"] = string(p.Type)
	a.Metadata["eventCount"] = p.EventCount
	for k, v := range p.Metadata {
		a.Metadata[k] = v
	}
	a.Tags = []string{"pattern", strings.ToLower(string(p.Type))}
	return a, nil
}

var (
	unauthorizedOutcome = regexp.MustCompile(`(?i)unauthorized|access denied|forbidden`)
	dataAccessAction    = regexp.MustCompile(`^(data\.read|fhir\.)`)
	bulkAction          = regexp.MustCompile(`^(data\.export|data\.import)$|bulk`)
	offHoursAction      = regexp.MustCompile(`^(data\.|fhir\.)`)
)

// Detector evaluates the five sliding-window rules over recent events. It is
// single-writer per instance: Process holds the lock for the full
// evaluation, and the window buffer is pruned past the longest configured
// window. Cross-instance aggregation goes through the store, not shared
// memory.
type Detector struct {
	cfg    config.PatternDetectionConfig
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	window []*audit.Event
}

// NewDetector builds a detector with the configured thresholds.
func NewDetector(cfg config.PatternDetectionConfig, logger *zap.Logger) *Detector {
	return &Detector{cfg: cfg, logger: logger, now: time.Now}
}

// WithClock overrides the detector clock; used by tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

func (d *Detector) longestWindow() time.Duration {
	longest := d.cfg.FailedAuthWindow
	for _, w := range []time.Duration{
		d.cfg.UnauthorizedAccessWindow,
		d.cfg.DataAccessWindow,
		d.cfg.BulkOperationWindow,
	} {
		if w > longest {
			longest = w
		}
	}
	return longest
}

// Process buffers the event and evaluates every detector. All triggered
// patterns are returned; the first to trigger wins attribution for the event
// but each still emits independently.
func (d *Detector) Process(e *audit.Event) []*SuspiciousPattern {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now().UTC()
	d.window = append(d.window, e)
	d.prune(now)

	var patterns []*SuspiciousPattern
	for _, rule := range []func(*audit.Event, time.Time) *SuspiciousPattern{
		d.detectFailedAuth,
		d.detectUnauthorizedAccess,
		d.detectDataVelocity,
		d.detectBulkOperation,
		d.detectOffHours,
	} {
		if p := rule(e, now); p != nil {
			patterns = append(patterns, p)
		}
	}

	if len(patterns) > 0 {
		d.logger.Info("suspicious patterns detected",
			zap.String("organization_id", e.OrganizationID),
			zap.Int("patterns", len(patterns)))
	}
	return patterns
}

// prune drops buffered events older than the longest window.
func (d *Detector) prune(now time.Time) {
	cutoff := now.Add(-d.longestWindow())
	kept := d.window[:0]
	for _, e := range d.window {
		if !e.Timestamp.Before(cutoff) {
			kept = append(kept, e)
		}
	}
	d.window = kept
}

// inWindow collects buffered events newer than now-window matching pred.
func (d *Detector) inWindow(now time.Time, window time.Duration, pred func(*audit.Event) bool) []*audit.Event {
	cutoff := now.Add(-window)
	var out []*audit.Event
	for _, e := range d.window {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if pred(e) {
			out = append(out, e)
		}
	}
	return out
}

func failedAuthGroupKey(e *audit.Event) string {
	if e.PrincipalID != "" {
		return e.PrincipalID
	}
	if e.SessionContext.IPAddress != "" {
		return e.SessionContext.IPAddress
	}
	return "unknown"
}

func (d *Detector) detectFailedAuth(e *audit.Event, now time.Time) *SuspiciousPattern {
	if e.Action != "auth.login.failure" || e.Status != audit.StatusFailure {
		return nil
	}
	key := failedAuthGroupKey(e)
	matches := d.inWindow(now, d.cfg.FailedAuthWindow, func(o *audit.Event) bool {
		return o.Action == "auth.login.failure" &&
			o.Status == audit.StatusFailure &&
			failedAuthGroupKey(o) == key
	})
	if len(matches) < d.cfg.FailedAuthThreshold {
		return nil
	}
	return &SuspiciousPattern{
		Type:           PatternFailedAuth,
		OrganizationID: matches[0].OrganizationID,
		GroupKey:       key,
		Severity:       alert.SeverityHigh,
		EventCount:     len(matches),
		WindowStart:    now.Add(-d.cfg.FailedAuthWindow),
		WindowEnd:      now,
		Description: fmt.Sprintf("%d failed login attempts for %q within %s",
			len(matches), key, d.cfg.FailedAuthWindow),
		Metadata: map[string]interface{}{
			"attemptCount": len(matches),
			"source":       key,
		},
	}
}

func (d *Detector) detectUnauthorizedAccess(e *audit.Event, now time.Time) *SuspiciousPattern {
	if e.Status != audit.StatusFailure || !unauthorizedOutcome.MatchString(e.OutcomeDescription) {
		return nil
	}
	key := e.PrincipalID
	matches := d.inWindow(now, d.cfg.UnauthorizedAccessWindow, func(o *audit.Event) bool {
		return o.Status == audit.StatusFailure &&
			o.PrincipalID == key &&
			unauthorizedOutcome.MatchString(o.OutcomeDescription)
	})
	if len(matches) < d.cfg.UnauthorizedAccessThreshold {
		return nil
	}
	return &SuspiciousPattern{
		Type:           PatternUnauthorizedAccess,
		OrganizationID: matches[0].OrganizationID,
		GroupKey:       key,
		Severity:       alert.SeverityCritical,
		EventCount:     len(matches),
		WindowStart:    now.Add(-d.cfg.UnauthorizedAccessWindow),
		WindowEnd:      now,
		Description: fmt.Sprintf("%d unauthorized access attempts by %q within %s",
			len(matches), key, d.cfg.UnauthorizedAccessWindow),
		Metadata: map[string]interface{}{
			"principalId": key,
		},
	}
}

func isDataAccess(e *audit.Event) bool {
	if dataAccessAction.MatchString(e.Action) {
		return true
	}
	return e.TargetResourceType != nil && *e.TargetResourceType != ""
}

func (d *Detector) detectDataVelocity(e *audit.Event, now time.Time) *SuspiciousPattern {
	if e.Status != audit.StatusSuccess || !isDataAccess(e) {
		return nil
	}
	key := e.PrincipalID
	matches := d.inWindow(now, d.cfg.DataAccessWindow, func(o *audit.Event) bool {
		return o.Status == audit.StatusSuccess &&
			o.PrincipalID == key &&
			isDataAccess(o)
	})
	if len(matches) < d.cfg.DataAccessThreshold {
		return nil
	}
	return &SuspiciousPattern{
		Type:           PatternDataVelocity,
		OrganizationID: matches[0].OrganizationID,
		GroupKey:       key,
		Severity:       alert.SeverityMedium,
		EventCount:     len(matches),
		WindowStart:    now.Add(-d.cfg.DataAccessWindow),
		WindowEnd:      now,
		Description: fmt.Sprintf("%d data accesses by %q within %s",
			len(matches), key, d.cfg.DataAccessWindow),
		Metadata: map[string]interface{}{
			"principalId": key,
			"accessCount": len(matches),
		},
	}
}

func recordCount(e *audit.Event) int {
	if e.Details == nil {
		return 0
	}
	switch v := e.Details["recordCount"].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func isBulkOperation(e *audit.Event) bool {
	return bulkAction.MatchString(e.Action) || recordCount(e) > 10
}

func (d *Detector) detectBulkOperation(e *audit.Event, now time.Time) *SuspiciousPattern {
	if !isBulkOperation(e) {
		return nil
	}
	// Global grouping: volume counts across all principals.
	total := 0
	matches := d.inWindow(now, d.cfg.BulkOperationWindow, isBulkOperation)
	for _, m := range matches {
		if rc := recordCount(m); rc > 0 {
			total += rc
		} else {
			total++
		}
	}
	if total < d.cfg.BulkOperationThreshold {
		return nil
	}
	return &SuspiciousPattern{
		Type:           PatternBulkOperation,
		OrganizationID: matches[0].OrganizationID,
		Severity:       alert.SeverityMedium,
		EventCount:     len(matches),
		WindowStart:    now.Add(-d.cfg.BulkOperationWindow),
		WindowEnd:      now,
		Description: fmt.Sprintf("bulk operation volume %d within %s",
			total, d.cfg.BulkOperationWindow),
		Metadata: map[string]interface{}{
			"recordVolume": total,
		},
	}
}

// isOffHours checks whether hour falls in [start, end), wrapping midnight.
func isOffHours(hour, start, end int) bool {
	if start == end {
		return false
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (d *Detector) detectOffHours(e *audit.Event, now time.Time) *SuspiciousPattern {
	if e.Status != audit.StatusSuccess || !offHoursAction.MatchString(e.Action) {
		return nil
	}
	if !isOffHours(e.Timestamp.UTC().Hour(), d.cfg.OffHoursStart, d.cfg.OffHoursEnd) {
		return nil
	}
	return &SuspiciousPattern{
		Type:           PatternOffHours,
		OrganizationID: e.OrganizationID,
		GroupKey:       e.PrincipalID,
		Severity:       alert.SeverityLow,
		EventCount:     1,
		WindowStart:    e.Timestamp,
		WindowEnd:      e.Timestamp,
		Description: fmt.Sprintf("data access by %q at hour %02d, outside business hours",
			e.PrincipalID, e.Timestamp.UTC().Hour()),
		Metadata: map[string]interface{}{
			"principalId": e.PrincipalID,
			"hour":        e.Timestamp.UTC().Hour(),
		},
	}
}

// WindowSize reports the current buffer length; used by health checks.
func (d *Detector) WindowSize() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.window)
}
