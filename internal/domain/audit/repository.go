package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventRepository is the persistence capability for audit events. The store
// owns all persisted rows; at-least-once delivery means the same sealed
// event may be stored twice, and the repository must accept that without
// failing (producers own idempotency keys).
type EventRepository interface {
	// Store persists a sealed event.
	Store(ctx context.Context, event *Event) error

	// GetByID retrieves an event by id.
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)

	// Query returns a page of events matching the filter, stable-ordered
	// on (sortBy, id).
	Query(ctx context.Context, filter EventFilter, page PageRequest) (*Page, error)

	// Stream invokes fn for every event matching the filter in id order.
	// Used by integrity verification and retention sweeps; fn errors abort
	// the stream.
	Stream(ctx context.Context, filter EventFilter, fn func(*Event) error) error

	// CountByPrincipal counts rows owned by a principal within an org.
	CountByPrincipal(ctx context.Context, organizationID, principalID string) (int64, error)

	// UpdatePseudonymized rewrites the pseudonymization-mutable fields
	// (principalId, sessionContext.ipAddress, sessionContext.userAgent)
	// of a principal's rows whose action is in the given set. An empty
	// action set means all rows. Returns the number of rows rewritten.
	UpdatePseudonymized(ctx context.Context, organizationID, principalID, pseudonymID string, actions []string) (int64, error)

	// DeleteByPrincipal removes a principal's rows, excluding any whose
	// action is in the keep set. Returns the number of rows deleted.
	DeleteByPrincipal(ctx context.Context, organizationID, principalID string, keepActions []string) (int64, error)

	// ArchiveOlderThan sets archivedAt=now on unarchived rows of the given
	// classification with timestamp <= cutoff. Idempotent.
	ArchiveOlderThan(ctx context.Context, cls DataClassification, cutoff time.Time) (int64, error)

	// DeleteArchivedOlderThan removes archived rows of the given
	// classification with timestamp <= cutoff. Idempotent.
	DeleteArchivedOlderThan(ctx context.Context, cls DataClassification, cutoff time.Time) (int64, error)
}

// RetentionPolicyRepository persists retention policies.
type RetentionPolicyRepository interface {
	Upsert(ctx context.Context, policy *RetentionPolicy) error
	GetByName(ctx context.Context, name string) (*RetentionPolicy, error)
	ListActive(ctx context.Context) ([]*RetentionPolicy, error)
}

// DLQRepository persists dead-letter entries.
type DLQRepository interface {
	Add(ctx context.Context, entry *DLQEntry) error
	List(ctx context.Context, limit int) ([]*DLQEntry, error)
	Count(ctx context.Context) (int64, error)
	Archive(ctx context.Context, olderThan time.Time) (int64, error)
	Delete(ctx context.Context, olderThan time.Time) (int64, error)
	Remove(ctx context.Context, id uuid.UUID) error
}

// RetentionResult summarizes one policy application pass.
type RetentionResult struct {
	PolicyName string `json:"policyName"`
	Archived   int64  `json:"archived"`
	Deleted    int64  `json:"deleted"`
}
