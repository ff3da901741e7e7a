package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/trailguard/trailguard/internal/domain/errors"
)

// SessionContext carries the producer session attributes of an event. The
// ipAddress and userAgent fields may be rewritten by pseudonymization; every
// other event field outside the pseudonymization set is immutable once
// persisted.
type SessionContext struct {
	SessionID string `json:"sessionId,omitempty"`
	IPAddress string `json:"ipAddress,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Event is an immutable, tamper-evident audit record. The integrity hash
// covers the critical-field set (see CriticalFields); the signature binds the
// hash to a key. After persistence only ArchivedAt, retention-driven
// deletion, and pseudonymization of PrincipalID and session network fields
// are permitted.
type Event struct {
	ID             uuid.UUID `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Action         string    `json:"action"`
	Status         Status    `json:"status"`
	PrincipalID    string    `json:"principalId"`
	OrganizationID string    `json:"organizationId"`

	// Optional target. Nil and empty string are distinct states and hash
	// differently.
	TargetResourceType *string `json:"targetResourceType,omitempty"`
	TargetResourceID   *string `json:"targetResourceId,omitempty"`

	DataClassification DataClassification `json:"dataClassification"`
	OutcomeDescription string             `json:"outcomeDescription"`

	SessionContext SessionContext         `json:"sessionContext"`
	Details        map[string]interface{} `json:"details,omitempty"`
	CorrelationID  string                 `json:"correlationId,omitempty"`

	RetentionPolicy string `json:"retentionPolicy"`

	Hash               string `json:"hash"`
	HashAlgorithm      string `json:"hashAlgorithm"`
	Signature          string `json:"signature,omitempty"`
	SignatureAlgorithm string `json:"signatureAlgorithm,omitempty"`

	ArchivedAt *time.Time `json:"archivedAt,omitempty"`
}

// CriticalField is one entry of the hash input. A nil value means the field
// is unset; an empty non-nil value is a present-but-empty field.
type CriticalField struct {
	Name  string
	Value *string
}

// CriticalFields returns the hash-covered fields in canonical (lexicographic)
// order. Mutating any of these without recomputing the hash is an integrity
// violation; all other fields are outside the hash.
func (e *Event) CriticalFields() []CriticalField {
	action := e.Action
	cls := string(e.DataClassification)
	org := e.OrganizationID
	outcome := e.OutcomeDescription
	principal := e.PrincipalID
	status := string(e.Status)
	var ts *string
	if !e.Timestamp.IsZero() {
		v := e.Timestamp.UTC().Format(time.RFC3339Nano)
		ts = &v
	}
	return []CriticalField{
		{Name: "action", Value: &action},
		{Name: "dataClassification", Value: &cls},
		{Name: "organizationId", Value: &org},
		{Name: "outcomeDescription", Value: &outcome},
		{Name: "principalId", Value: &principal},
		{Name: "status", Value: &status},
		{Name: "targetResourceId", Value: e.TargetResourceID},
		{Name: "targetResourceType", Value: e.TargetResourceType},
		{Name: "timestamp", Value: ts},
	}
}

// IsSealed reports whether the event carries an integrity hash.
func (e *Event) IsSealed() bool {
	return e.Hash != ""
}

// IsArchived reports whether the event has been moved to archive state.
func (e *Event) IsArchived() bool {
	return e.ArchivedAt != nil
}

// Validate checks the structural invariants of a sealed event. Producer-side
// input validation (field grammar, size bounds, forbidden keys) lives in the
// ingest validator; this guards what the store accepts.
func (e *Event) Validate() error {
	if e.ID == uuid.Nil {
		return errors.NewValidationError("event id is required")
	}
	if e.Timestamp.IsZero() {
		return errors.NewValidationError("timestamp is required on sealed events")
	}
	if err := ValidateAction(e.Action); err != nil {
		return err
	}
	if !e.Status.IsValid() {
		return errors.NewValidationError("invalid status")
	}
	if e.OrganizationID == "" {
		return errors.NewValidationError("organizationId is required")
	}
	if !e.DataClassification.IsValid() {
		return errors.NewValidationError("invalid data classification")
	}
	if e.Hash == "" {
		return errors.NewIntegrityError("sealed event has no hash and is unverifiable")
	}
	if e.HashAlgorithm == "" {
		return errors.NewValidationError("hash algorithm is required")
	}
	if e.Signature != "" && !IsValidSignatureAlgorithm(e.SignatureAlgorithm) {
		return errors.NewValidationError("unrecognized signature algorithm")
	}
	return nil
}

// Clone returns a deep copy of the event.
func (e *Event) Clone() *Event {
	clone := *e
	if e.TargetResourceType != nil {
		v := *e.TargetResourceType
		clone.TargetResourceType = &v
	}
	if e.TargetResourceID != nil {
		v := *e.TargetResourceID
		clone.TargetResourceID = &v
	}
	if e.ArchivedAt != nil {
		v := *e.ArchivedAt
		clone.ArchivedAt = &v
	}
	if e.Details != nil {
		clone.Details = make(map[string]interface{}, len(e.Details))
		for k, v := range e.Details {
			clone.Details[k] = v
		}
	}
	return &clone
}

// StringPtr is a convenience for populating optional target fields.
func StringPtr(s string) *string { return &s }
