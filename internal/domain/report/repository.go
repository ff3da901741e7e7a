package report

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleRepository persists report schedules. Due-claiming must be atomic:
// ClaimDue advances nextRun in the same statement that selects the row, so
// concurrent scheduler instances never double-run a schedule.
type ScheduleRepository interface {
	Create(ctx context.Context, s *Schedule) error
	Update(ctx context.Context, s *Schedule) error
	GetByID(ctx context.Context, organizationID string, id uuid.UUID) (*Schedule, error)
	// Get loads a schedule without tenant scoping. Only the scheduler's
	// delivery-retry path uses it; execution records carry the schedule id
	// but not the organization.
	Get(ctx context.Context, id uuid.UUID) (*Schedule, error)
	List(ctx context.Context, organizationID string) ([]*Schedule, error)
	Delete(ctx context.Context, organizationID string, id uuid.UUID) error

	// ClaimDue atomically selects enabled schedules with nextRun <= now and
	// advances each row's nextRun to the given computed value before
	// returning it. The nextRun function receives the claimed schedule.
	ClaimDue(ctx context.Context, now time.Time, nextRun func(*Schedule) time.Time) ([]*Schedule, error)
}

// ExecutionRepository persists run records.
type ExecutionRepository interface {
	Record(ctx context.Context, e *Execution) error
	ListBySchedule(ctx context.Context, scheduleID uuid.UUID, limit int) ([]*Execution, error)
	// ListFailedSince returns failed or partial executions newer than the
	// cutoff, for delivery retry.
	ListFailedSince(ctx context.Context, cutoff time.Time) ([]*Execution, error)
}
