package alert

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Filter selects alerts. OrganizationID is mandatory: every alert query is
// tenant-scoped.
type Filter struct {
	OrganizationID string
	Statuses       []LifecycleStatus
	Severities     []Severity
	Types          []Type
	Sources        []string
	From           time.Time
	To             time.Time

	Limit     int
	Offset    int
	SortBy    string // createdAt | updatedAt | severity
	SortOrder string // asc | desc
}

// TrendPoint is one bucket of the alert trend series.
type TrendPoint struct {
	Date  string `json:"date"`
	Count int64  `json:"count"`
}

// Statistics aggregates alert counts for one tenant.
type Statistics struct {
	OrganizationID string           `json:"organizationId"`
	Total          int64            `json:"total"`
	ByStatus       map[string]int64 `json:"byStatus"`
	BySeverity     map[string]int64 `json:"bySeverity"`
	ByType         map[string]int64 `json:"byType"`
	BySource       map[string]int64 `json:"bySource"`
	Trend          []TrendPoint     `json:"trend"`
}

// Repository is the persistence capability for alerts. The database sink of
// the alert engine is the authoritative writer; lifecycle methods go through
// Update.
type Repository interface {
	Insert(ctx context.Context, a *Alert) error
	Update(ctx context.Context, a *Alert) error
	GetByID(ctx context.Context, organizationID string, id uuid.UUID) (*Alert, error)
	List(ctx context.Context, f Filter) ([]*Alert, int64, error)
	Statistics(ctx context.Context, organizationID string) (*Statistics, error)
	// DeleteResolvedBefore removes resolved alerts whose resolvedAt is
	// older than the cutoff. Returns rows removed.
	DeleteResolvedBefore(ctx context.Context, organizationID string, cutoff time.Time) (int64, error)
}
