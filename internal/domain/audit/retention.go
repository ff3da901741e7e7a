package audit

import (
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// RetentionPolicy governs how long events of a data classification are kept
// online, when they move to archive, and when they are deleted. Enforcement
// is idempotent: rerunning in the same window converges to the same state.
type RetentionPolicy struct {
	Name               string             `json:"name"`
	DataClassification DataClassification `json:"dataClassification"`
	RetentionDays      int                `json:"retentionDays"`
	ArchiveAfterDays   int                `json:"archiveAfterDays,omitempty"`
	DeleteAfterDays    int                `json:"deleteAfterDays,omitempty"`
	IsActive           bool               `json:"isActive"`
}

// Validate checks policy consistency.
func (p *RetentionPolicy) Validate() error {
	if p.Name == "" {
		return errors.NewValidationError("retention policy name is required")
	}
	if !p.DataClassification.IsValid() {
		return errors.NewValidationError("retention policy requires a valid data classification")
	}
	if p.RetentionDays <= 0 {
		return errors.NewValidationError("retentionDays must be positive")
	}
	if p.ArchiveAfterDays < 0 || p.DeleteAfterDays < 0 {
		return errors.NewValidationError("archive and delete thresholds must not be negative")
	}
	if p.ArchiveAfterDays > 0 && p.DeleteAfterDays > 0 && p.DeleteAfterDays < p.ArchiveAfterDays {
		return errors.NewValidationError("deleteAfterDays must not precede archiveAfterDays")
	}
	return nil
}

// DefaultRetentionPolicies are the recommended per-classification defaults:
// PHI 7y retain / 1y archive, CONFIDENTIAL 3y/1y, INTERNAL 180d/90d,
// PUBLIC 90d/30d.
func DefaultRetentionPolicies() []*RetentionPolicy {
	return []*RetentionPolicy{
		{
			Name:               "phi-default",
			DataClassification: ClassificationPHI,
			RetentionDays:      2555,
			ArchiveAfterDays:   365,
			DeleteAfterDays:    2555,
			IsActive:           true,
		},
		{
			Name:               "confidential-default",
			DataClassification: ClassificationConfidential,
			RetentionDays:      1095,
			ArchiveAfterDays:   365,
			DeleteAfterDays:    1095,
			IsActive:           true,
		},
		{
			Name:               "internal-default",
			DataClassification: ClassificationInternal,
			RetentionDays:      180,
			ArchiveAfterDays:   90,
			DeleteAfterDays:    180,
			IsActive:           true,
		},
		{
			Name:               "public-default",
			DataClassification: ClassificationPublic,
			RetentionDays:      90,
			ArchiveAfterDays:   30,
			DeleteAfterDays:    90,
			IsActive:           true,
		},
	}
}

// ResolveRetentionPolicy picks the policy name for a classification from the
// given set, falling back to the classification default.
func ResolveRetentionPolicy(policies []*RetentionPolicy, cls DataClassification) string {
	for _, p := range policies {
		if p.IsActive && p.DataClassification == cls {
			return p.Name
		}
	}
	for _, p := range DefaultRetentionPolicies() {
		if p.DataClassification == cls {
			return p.Name
		}
	}
	return "internal-default"
}
