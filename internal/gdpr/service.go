package gdpr

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/compliance"
	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	domain "github.com/trailguard/trailguard/internal/domain/gdpr"
	"github.com/trailguard/trailguard/internal/ingest"
	"github.com/trailguard/trailguard/internal/metrics"
)

// complianceCriticalActions are the exact actions whose rows must survive
// erasure. Prefix families are matched separately, see isComplianceCritical.
var complianceCriticalActions = map[string]struct{}{
	"auth.login.success":       {},
	"auth.login.failure":       {},
	"auth.logout":              {},
	"data.access.unauthorized": {},
	"data.breach.detected":     {},
}

var complianceCriticalPrefixes = []string{"gdpr.", "security.", "compliance.", "system.backup."}

func isComplianceCritical(action string) bool {
	if _, ok := complianceCriticalActions[action]; ok {
		return true
	}
	for _, prefix := range complianceCriticalPrefixes {
		if strings.HasPrefix(action, prefix) {
			return true
		}
	}
	return false
}

// AuditRecorder writes the audit trail for GDPR operations. Trail events use
// guaranteed delivery: an erasure without its gdpr.data.delete record is a
// compliance gap.
type AuditRecorder interface {
	LogWithGuaranteedDelivery(ctx context.Context, in *ingest.EventInput) (*audit.Event, error)
}

// Service implements the data-subject operations: export, pseudonymization
// with a reversible encrypted mapping, and deletion that preserves
// compliance-critical rows.
type Service struct {
	events     audit.EventRepository
	pseudonyms domain.PseudonymRepository
	cipher     crypto.Cipher
	recorder   AuditRecorder
	collector  *metrics.Collector
	salt       string
	logger     *zap.Logger
	now        func() time.Time
}

// NewService builds the GDPR service. The salt feeds the deterministic hash
// strategy; it must be stable across deployments or hash pseudonyms stop
// being reusable.
func NewService(
	events audit.EventRepository,
	pseudonyms domain.PseudonymRepository,
	cipher crypto.Cipher,
	recorder AuditRecorder,
	collector *metrics.Collector,
	salt string,
	logger *zap.Logger,
) (*Service, error) {
	if salt == "" {
		return nil, errors.NewConfigError("pseudonym salt is required")
	}
	return &Service{
		events:     events,
		pseudonyms: pseudonyms,
		cipher:     cipher,
		recorder:   recorder,
		collector:  collector,
		salt:       salt,
		logger:     logger,
		now:        time.Now,
	}, nil
}

// WithClock overrides the service clock; used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// ExportRequest describes a data-subject export (Articles 15/20).
type ExportRequest struct {
	OrganizationID string
	PrincipalID    string
	From           time.Time
	To             time.Time
	Format         compliance.Format
	Compression    compliance.Compression
	EncryptionKey  []byte
	RequestedBy    string
}

// ExportUserData collects the subject's events, strips the integrity and
// retention bookkeeping fields, and renders them in the requested format.
// The export itself is recorded as a gdpr.data.export event.
func (s *Service) ExportUserData(ctx context.Context, req ExportRequest) (*compliance.ExportResult, error) {
	if req.OrganizationID == "" || req.PrincipalID == "" {
		return nil, errors.NewValidationError("organizationId and principalId are required")
	}

	var sanitized []*audit.Event
	err := s.events.Stream(ctx, audit.EventFilter{
		From:            req.From,
		To:              req.To,
		OrganizationIDs: []string{req.OrganizationID},
		PrincipalIDs:    []string{req.PrincipalID},
	}, func(e *audit.Event) error {
		sanitized = append(sanitized, compliance.Sanitize(e))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "collecting subject events")
	}

	result, err := compliance.ExportEvents(sanitized, req.OrganizationID, compliance.ExportOptions{
		Format:        req.Format,
		Compression:   req.Compression,
		EncryptionKey: req.EncryptionKey,
	})
	if err != nil {
		return nil, err
	}

	s.recordTrail(ctx, req.OrganizationID, req.RequestedBy, "gdpr.data.export", req.PrincipalID,
		map[string]interface{}{"recordCount": len(sanitized), "format": string(req.Format)})
	return result, nil
}

// PseudonymizeResult reports one pseudonymization run.
type PseudonymizeResult struct {
	PseudonymID    string `json:"pseudonymId"`
	RecordsUpdated int64  `json:"recordsUpdated"`
}

// PseudonymizeUserData replaces the principal id (and session network
// fields) on all of the subject's rows with a pseudonym, storing the
// encrypted original so the mapping stays reversible.
func (s *Service) PseudonymizeUserData(ctx context.Context, organizationID, principalID string, strategy domain.Strategy, requestedBy string) (*PseudonymizeResult, error) {
	if organizationID == "" || principalID == "" {
		return nil, errors.NewValidationError("organizationId and principalId are required")
	}
	if !strategy.IsValid() {
		return nil, errors.NewValidationError("strategy must be hash, token, or encryption")
	}

	pseudonymID, err := s.derivePseudonym(principalID, strategy)
	if err != nil {
		return nil, err
	}
	if err := s.saveMapping(ctx, organizationID, principalID, pseudonymID, strategy); err != nil {
		return nil, err
	}

	updated, err := s.events.UpdatePseudonymized(ctx, organizationID, principalID, pseudonymID, nil)
	if err != nil {
		return nil, errors.Wrap(err, "rewriting subject rows")
	}

	s.recordTrail(ctx, organizationID, requestedBy, "gdpr.data.pseudonymize", pseudonymID,
		map[string]interface{}{"strategy": string(strategy), "recordsUpdated": updated})
	s.logger.Info("principal pseudonymized",
		zap.String("organization_id", organizationID),
		zap.String("pseudonym_id", pseudonymID),
		zap.String("strategy", string(strategy)),
		zap.Int64("records_updated", updated))
	return &PseudonymizeResult{PseudonymID: pseudonymID, RecordsUpdated: updated}, nil
}

func (s *Service) derivePseudonym(principalID string, strategy domain.Strategy) (string, error) {
	switch strategy {
	case domain.StrategyHash:
		sum := sha256.Sum256([]byte(principalID + s.salt))
		return "pseudo-" + hex.EncodeToString(sum[:])[:16], nil
	case domain.StrategyToken:
		token := make([]byte, 16)
		if _, err := rand.Read(token); err != nil {
			return "", errors.NewCryptoError("failed to generate pseudonym token").WithCause(err)
		}
		return "pseudo-" + hex.EncodeToString(token), nil
	case domain.StrategyEncryption:
		encoded := base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString([]byte(principalID))
		if len(encoded) > 16 {
			encoded = encoded[:16]
		}
		return "pseudo-enc-" + encoded, nil
	}
	return "", errors.NewValidationError("unknown pseudonymization strategy")
}

func (s *Service) saveMapping(ctx context.Context, organizationID, principalID, pseudonymID string, strategy domain.Strategy) error {
	encrypted, err := s.cipher.Encrypt(ctx, []byte(principalID))
	if err != nil {
		return errors.Wrap(err, "encrypting original id")
	}
	return s.pseudonyms.Save(ctx, &domain.PseudonymMapping{
		PseudonymID:       pseudonymID,
		OrganizationID:    organizationID,
		EncryptedOriginal: encrypted,
		Strategy:          strategy,
		CreatedAt:         s.now().UTC(),
	})
}

// GetOriginalID reverses a pseudonym through the encrypted mapping. Any
// decryption failure surfaces as not-found: a mapping that cannot be
// decrypted is indistinguishable from a missing one to the caller, but it is
// an integrity signal worth recording.
func (s *Service) GetOriginalID(ctx context.Context, organizationID, pseudonymID string) (string, error) {
	mapping, err := s.pseudonyms.GetByPseudonym(ctx, organizationID, pseudonymID)
	if err != nil {
		return "", err
	}
	plain, err := s.cipher.Decrypt(ctx, mapping.EncryptedOriginal)
	if err != nil {
		s.logger.Error("pseudonym mapping failed to decrypt",
			zap.String("organization_id", organizationID),
			zap.String("pseudonym_id", pseudonymID),
			zap.Error(err))
		if s.collector != nil {
			s.collector.RecordIntegrityViolation(ctx)
		}
		return "", errors.NewNotFoundError("pseudonym mapping")
	}
	return string(plain), nil
}

// DeletionResult reports one erasure run.
type DeletionResult struct {
	RecordsDeleted             int64  `json:"recordsDeleted"`
	ComplianceRecordsPreserved int64  `json:"complianceRecordsPreserved"`
	PseudonymID                string `json:"pseudonymId,omitempty"`
}

// DeleteUserDataWithAuditTrail erases a subject's rows. With
// preserveComplianceAudits, rows whose action is compliance-critical are
// pseudonymized (hash strategy) instead of deleted; everything else goes.
// The run always records a gdpr.data.delete event with the counts.
func (s *Service) DeleteUserDataWithAuditTrail(ctx context.Context, organizationID, principalID, requestedBy string, preserveComplianceAudits bool) (*DeletionResult, error) {
	if organizationID == "" || principalID == "" {
		return nil, errors.NewValidationError("organizationId and principalId are required")
	}

	// Collect the subject's distinct compliance-critical actions; the store
	// APIs take exact action sets, and prefix families have to be resolved
	// against what the subject actually has.
	criticalSet := map[string]struct{}{}
	var preserved int64
	err := s.events.Stream(ctx, audit.EventFilter{
		OrganizationIDs: []string{organizationID},
		PrincipalIDs:    []string{principalID},
	}, func(e *audit.Event) error {
		if isComplianceCritical(e.Action) {
			criticalSet[e.Action] = struct{}{}
			preserved++
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "scanning subject events")
	}

	result := &DeletionResult{}
	var keepActions []string
	if preserveComplianceAudits {
		keepActions = make([]string, 0, len(criticalSet))
		for action := range criticalSet {
			keepActions = append(keepActions, action)
		}
	}

	if preserveComplianceAudits && preserved > 0 {
		pseudonymID, err := s.derivePseudonym(principalID, domain.StrategyHash)
		if err != nil {
			return nil, err
		}
		if err := s.saveMapping(ctx, organizationID, principalID, pseudonymID, domain.StrategyHash); err != nil {
			return nil, err
		}
		if _, err := s.events.UpdatePseudonymized(ctx, organizationID, principalID, pseudonymID, keepActions); err != nil {
			return nil, errors.Wrap(err, "pseudonymizing compliance rows")
		}
		result.ComplianceRecordsPreserved = preserved
		result.PseudonymID = pseudonymID
	}

	deleted, err := s.events.DeleteByPrincipal(ctx, organizationID, principalID, keepActions)
	if err != nil {
		return nil, errors.Wrap(err, "deleting subject rows")
	}
	result.RecordsDeleted = deleted

	s.recordTrail(ctx, organizationID, requestedBy, "gdpr.data.delete", result.PseudonymID,
		map[string]interface{}{
			"recordsDeleted":             result.RecordsDeleted,
			"complianceRecordsPreserved": result.ComplianceRecordsPreserved,
		})
	s.logger.Info("subject data erased",
		zap.String("organization_id", organizationID),
		zap.Int64("records_deleted", result.RecordsDeleted),
		zap.Int64("compliance_records_preserved", result.ComplianceRecordsPreserved))
	return result, nil
}

// recordTrail writes the GDPR audit trail event. Trail failures are logged
// but do not undo the operation they describe; the data change has already
// committed.
func (s *Service) recordTrail(ctx context.Context, organizationID, requestedBy, action, subjectRef string, details map[string]interface{}) {
	if requestedBy == "" {
		requestedBy = "system"
	}
	in := &ingest.EventInput{
		Action:             action,
		Status:             string(audit.StatusSuccess),
		PrincipalID:        requestedBy,
		OrganizationID:     organizationID,
		DataClassification: string(audit.ClassificationConfidential),
		Details:            details,
	}
	if subjectRef != "" {
		in.TargetResourceType = audit.StringPtr("principal")
		in.TargetResourceID = audit.StringPtr(subjectRef)
	}
	if _, err := s.recorder.LogWithGuaranteedDelivery(ctx, in); err != nil {
		s.logger.Error("failed to record gdpr audit trail event",
			zap.String("action", action),
			zap.String("organization_id", organizationID),
			zap.Error(err))
	}
}
