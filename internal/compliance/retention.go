package compliance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// RetentionEnforcer applies active retention policies to the event store.
// Both stages are idempotent, so overlapping runs converge: archival flags
// rows past the archive threshold, deletion removes archived rows past the
// delete threshold.
type RetentionEnforcer struct {
	events   audit.EventRepository
	policies audit.RetentionPolicyRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewRetentionEnforcer builds an enforcer.
func NewRetentionEnforcer(events audit.EventRepository, policies audit.RetentionPolicyRepository, logger *zap.Logger) *RetentionEnforcer {
	return &RetentionEnforcer{events: events, policies: policies, logger: logger, now: time.Now}
}

// WithClock overrides the enforcement clock; used by tests.
func (e *RetentionEnforcer) WithClock(now func() time.Time) *RetentionEnforcer {
	e.now = now
	return e
}

// EnforceAll applies every active policy and reports per-policy counts. A
// failing policy does not stop the others; the first error is returned after
// the full pass.
func (e *RetentionEnforcer) EnforceAll(ctx context.Context) ([]audit.RetentionResult, error) {
	policies, err := e.policies.ListActive(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "listing active retention policies")
	}

	var results []audit.RetentionResult
	var firstErr error
	for _, policy := range policies {
		result, err := e.Enforce(ctx, policy)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.logger.Error("retention enforcement failed",
				zap.String("policy", policy.Name), zap.Error(err))
			continue
		}
		results = append(results, *result)
	}
	return results, firstErr
}

// Enforce applies one policy.
func (e *RetentionEnforcer) Enforce(ctx context.Context, policy *audit.RetentionPolicy) (*audit.RetentionResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	now := e.now().UTC()
	result := &audit.RetentionResult{PolicyName: policy.Name}

	if policy.ArchiveAfterDays > 0 {
		cutoff := now.AddDate(0, 0, -policy.ArchiveAfterDays)
		archived, err := e.events.ArchiveOlderThan(ctx, policy.DataClassification, cutoff)
		if err != nil {
			return nil, errors.Wrap(err, "archiving events")
		}
		result.Archived = archived
	}

	deleteAfter := policy.DeleteAfterDays
	if deleteAfter == 0 {
		deleteAfter = policy.RetentionDays
	}
	cutoff := now.AddDate(0, 0, -deleteAfter)
	deleted, err := e.events.DeleteArchivedOlderThan(ctx, policy.DataClassification, cutoff)
	if err != nil {
		return nil, errors.Wrap(err, "deleting archived events")
	}
	result.Deleted = deleted

	if result.Archived > 0 || result.Deleted > 0 {
		e.logger.Info("retention policy applied",
			zap.String("policy", policy.Name),
			zap.String("classification", string(policy.DataClassification)),
			zap.Int64("archived", result.Archived),
			zap.Int64("deleted", result.Deleted))
	}
	return result, nil
}
