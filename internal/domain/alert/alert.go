package alert

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Severity orders alerts from informational to critical.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Rank maps severities onto a total order for sorting; CRITICAL sorts first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 3
	case SeverityInfo:
		return 4
	default:
		return 5
	}
}

func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// Type classifies the alert's origin domain.
type Type string

const (
	TypeSecurity    Type = "SECURITY"
	TypeCompliance  Type = "COMPLIANCE"
	TypePerformance Type = "PERFORMANCE"
	TypeSystem      Type = "SYSTEM"
	TypeMetrics     Type = "METRICS"
	TypeCustom      Type = "CUSTOM"
)

func (t Type) IsValid() bool {
	switch t {
	case TypeSecurity, TypeCompliance, TypePerformance, TypeSystem, TypeMetrics, TypeCustom:
		return true
	}
	return false
}

// LifecycleStatus is the alert state machine:
// active -> acknowledged -> resolved, active -> dismissed.
type LifecycleStatus string

const (
	StatusActive       LifecycleStatus = "active"
	StatusAcknowledged LifecycleStatus = "acknowledged"
	StatusResolved     LifecycleStatus = "resolved"
	StatusDismissed    LifecycleStatus = "dismissed"
)

// Alert is a persisted, multi-tenant alert record.
type Alert struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID string          `json:"organizationId"`
	Severity       Severity        `json:"severity"`
	Type           Type            `json:"type"`
	Status         LifecycleStatus `json:"status"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	Source         string          `json:"source"`
	CorrelationID  string          `json:"correlationId,omitempty"`

	// Metadata always contains organizationId so downstream consumers can
	// attribute the alert without joining back to the row.
	Metadata map[string]interface{} `json:"metadata"`

	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
	AcknowledgedAt  *time.Time `json:"acknowledgedAt,omitempty"`
	AcknowledgedBy  string     `json:"acknowledgedBy,omitempty"`
	ResolvedAt      *time.Time `json:"resolvedAt,omitempty"`
	ResolvedBy      string     `json:"resolvedBy,omitempty"`
	ResolutionNotes string     `json:"resolutionNotes,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// New constructs an active alert with the tenant invariant enforced.
func New(organizationID string, severity Severity, alertType Type, source, title, description string) (*Alert, error) {
	if organizationID == "" {
		return nil, errors.NewValidationError("alert organizationId is required")
	}
	if !severity.IsValid() {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid alert severity %q", severity))
	}
	if !alertType.IsValid() {
		return nil, errors.NewValidationError(fmt.Sprintf("invalid alert type %q", alertType))
	}
	if title == "" {
		return nil, errors.NewValidationError("alert title is required")
	}
	now := time.Now().UTC()
	return &Alert{
		ID:             uuid.New(),
		OrganizationID: organizationID,
		Severity:       severity,
		Type:           alertType,
		Status:         StatusActive,
		Title:          title,
		Description:    description,
		Source:         source,
		Metadata:       map[string]interface{}{"organizationId": organizationID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// DedupKey is the duplicate-suppression key: base64(source|title|severity).
// The key deliberately omits organizationId so similar noise across tenants
// shares one cooldown window.
func (a *Alert) DedupKey() string {
	raw := a.Source + "|" + a.Title + "|" + string(a.Severity)
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// IsAcknowledged reports whether the alert sits in the acknowledged state.
func (a *Alert) IsAcknowledged() bool { return a.Status == StatusAcknowledged }

// IsResolved reports whether the alert reached a terminal status.
func (a *Alert) IsResolved() bool {
	return a.Status == StatusResolved || a.Status == StatusDismissed
}

// Acknowledge transitions active -> acknowledged. Repeat requests are no-ops.
func (a *Alert) Acknowledge(by string) error {
	if a.Status == StatusAcknowledged {
		return nil
	}
	if a.Status != StatusActive {
		return errors.NewConflictError(
			fmt.Sprintf("cannot acknowledge alert in status %q", a.Status))
	}
	now := time.Now().UTC()
	a.Status = StatusAcknowledged
	a.AcknowledgedAt = &now
	a.AcknowledgedBy = by
	a.UpdatedAt = now
	return nil
}

// Resolve transitions active|acknowledged -> resolved. Idempotent.
func (a *Alert) Resolve(by, notes string) error {
	if a.Status == StatusResolved {
		return nil
	}
	if a.Status == StatusDismissed {
		return errors.NewConflictError("cannot resolve a dismissed alert")
	}
	now := time.Now().UTC()
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.ResolvedBy = by
	a.ResolutionNotes = notes
	a.UpdatedAt = now
	return nil
}

// Dismiss transitions active -> dismissed. Idempotent.
func (a *Alert) Dismiss(by string) error {
	if a.Status == StatusDismissed {
		return nil
	}
	if a.Status != StatusActive {
		return errors.NewConflictError(
			fmt.Sprintf("cannot dismiss alert in status %q", a.Status))
	}
	now := time.Now().UTC()
	a.Status = StatusDismissed
	a.ResolvedAt = &now
	a.ResolvedBy = by
	a.UpdatedAt = now
	return nil
}
