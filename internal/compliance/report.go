package compliance

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
)

// Framework selects the compliance lens a report is built through.
type Framework string

const (
	FrameworkHIPAA  Framework = "HIPAA"
	FrameworkGDPR   Framework = "GDPR"
	FrameworkCustom Framework = "CUSTOM"
)

// Period is the inclusive reporting window.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// TimeRange is the observed event span of a report window; nil ends mean the
// window matched no events.
type TimeRange struct {
	Earliest *time.Time `json:"earliest,omitempty"`
	Latest   *time.Time `json:"latest,omitempty"`
}

// Summary is the framework-independent core of every report.
type Summary struct {
	TotalEvents         int64            `json:"totalEvents"`
	ByStatus            map[string]int64 `json:"byStatus"`
	ByClassification    map[string]int64 `json:"byClassification"`
	ByAction            map[string]int64 `json:"byAction"`
	UniquePrincipals    int64            `json:"uniquePrincipals"`
	UniqueResources     int64            `json:"uniqueResources"`
	IntegrityViolations int64            `json:"integrityViolations"`
	TimeRange           TimeRange        `json:"timeRange"`
	FailureRate         float64          `json:"failureRate"`
}

// RiskAssessment condenses the HIPAA risk indicators of a window.
type RiskAssessment struct {
	HighRiskEvents     int64    `json:"highRiskEvents"`
	SuspiciousPatterns int64    `json:"suspiciousPatterns"`
	Recommendations    []string `json:"recommendations"`
}

// HIPAASection carries the PHI-access detail HIPAA audits ask for.
type HIPAASection struct {
	PHIAccessCount        int64            `json:"phiAccessEvents"`
	PHIModificationEvents int64            `json:"phiModificationEvents"`
	PHIAccessByAction     map[string]int64 `json:"phiAccessByAction"`
	UnauthorizedPHI       int64            `json:"unauthorizedAttempts"`
	AfterHoursPHIAccess   int64            `json:"afterHoursPhiAccess"`
	EmergencyAccess       int64            `json:"emergencyAccess"`
	BreakGlassEvents      int64            `json:"breakGlassEvents"`
	// MinimumNecessaryViolations counts bulk PHI operations, the access
	// pattern a minimum-necessary review flags.
	MinimumNecessaryViolations int64            `json:"minimumNecessaryViolations"`
	TopPHIPrincipals           []PrincipalCount `json:"topPhiPrincipals"`
	RiskAssessment             RiskAssessment   `json:"riskAssessment"`
}

// DataSubjectRights breaks subject requests down by the right exercised.
type DataSubjectRights struct {
	AccessRequests        int64 `json:"accessRequests"`
	RectificationRequests int64 `json:"rectificationRequests"`
	ErasureRequests       int64 `json:"erasureRequests"`
	PortabilityRequests   int64 `json:"portabilityRequests"`
	ObjectionRequests     int64 `json:"objectionRequests"`
}

// GDPRSection carries the data-subject activity GDPR audits ask for.
type GDPRSection struct {
	PersonalDataEvents   int64             `json:"personalDataEvents"`
	DataSubjectRequests  int64             `json:"dataSubjectRequests"`
	DataSubjectRights    DataSubjectRights `json:"dataSubjectRights"`
	RequestsByKind       map[string]int64  `json:"requestsByKind"`
	ConsentEvents        int64             `json:"consentEvents"`
	BreachEvents         int64             `json:"dataBreaches"`
	CrossBorderTransfers int64             `json:"crossBorderTransfers"`
	RetentionViolations  int64             `json:"retentionViolations"`
	LegalBasisBreakdown  map[string]int64  `json:"legalBasisBreakdown"`
	ExportEvents         int64             `json:"exportEvents"`
}

// PrincipalCount is one row of a per-principal ranking.
type PrincipalCount struct {
	PrincipalID string `json:"principalId"`
	Count       int64  `json:"count"`
}

// Report is the envelope produced for every framework; framework sections
// are nil unless that framework was requested.
type Report struct {
	ID             uuid.UUID `json:"id"`
	Framework      Framework `json:"framework"`
	OrganizationID string    `json:"organizationId"`
	Period         Period    `json:"period"`
	GeneratedAt    time.Time `json:"generatedAt"`
	GeneratedBy    string    `json:"generatedBy"`

	// Criteria is the effective event filter the report was built from.
	Criteria *audit.EventFilter `json:"criteria,omitempty"`

	Summary Summary       `json:"summary"`
	HIPAA   *HIPAASection `json:"hipaa,omitempty"`
	GDPR    *GDPRSection  `json:"gdpr,omitempty"`

	// Events are the matched rows, sanitized the same way subject exports
	// are: no integrity material, no retention bookkeeping.
	Events []*audit.Event `json:"events"`

	// Integrity is included when the report was generated with
	// verification enabled.
	Integrity *VerificationReport `json:"integrity,omitempty"`
}

// GenerateOptions tune report generation.
type GenerateOptions struct {
	// VerifyIntegrity re-verifies the hash of every event in the window and
	// attaches the verification report.
	VerifyIntegrity bool
	// Custom filter for CUSTOM reports; ignored for HIPAA and GDPR.
	CustomFilter *audit.EventFilter
	// GeneratedBy names the requester recorded in the metadata; defaults to
	// "system" for scheduled runs.
	GeneratedBy string
}

// Generator builds compliance reports by streaming the store.
type Generator struct {
	events audit.EventRepository
	logger *zap.Logger
	now    func() time.Time
}

// NewGenerator builds a report generator.
func NewGenerator(events audit.EventRepository, logger *zap.Logger) *Generator {
	return &Generator{events: events, logger: logger, now: time.Now}
}

// WithClock overrides the generation clock; used by tests.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds a report for one tenant and window.
func (g *Generator) Generate(ctx context.Context, framework Framework, organizationID string, period Period, opts GenerateOptions) (*Report, error) {
	if organizationID == "" {
		return nil, errors.NewValidationError("organizationId is required")
	}
	if period.From.IsZero() || period.To.IsZero() || period.To.Before(period.From) {
		return nil, errors.NewValidationError("report period must be a non-empty window")
	}

	filter := audit.EventFilter{
		From:            period.From,
		To:              period.To,
		OrganizationIDs: []string{organizationID},
	}
	if framework == FrameworkCustom && opts.CustomFilter != nil {
		filter = *opts.CustomFilter
		filter.From = period.From
		filter.To = period.To
		filter.OrganizationIDs = []string{organizationID}
	}

	generatedBy := opts.GeneratedBy
	if generatedBy == "" {
		generatedBy = "system"
	}
	criteria := filter
	rep := &Report{
		ID:             uuid.New(),
		Framework:      framework,
		OrganizationID: organizationID,
		Period:         period,
		GeneratedAt:    g.now().UTC(),
		GeneratedBy:    generatedBy,
		Criteria:       &criteria,
		Events:         []*audit.Event{},
		Summary: Summary{
			ByStatus:         map[string]int64{},
			ByClassification: map[string]int64{},
			ByAction:         map[string]int64{},
		},
	}
	switch framework {
	case FrameworkHIPAA:
		rep.HIPAA = &HIPAASection{PHIAccessByAction: map[string]int64{}}
	case FrameworkGDPR:
		rep.GDPR = &GDPRSection{
			RequestsByKind:      map[string]int64{},
			LegalBasisBreakdown: map[string]int64{},
		}
	case FrameworkCustom:
	default:
		return nil, errors.NewValidationError("unknown report framework")
	}

	principals := map[string]int64{}
	resources := map[string]struct{}{}
	phiByPrincipal := map[string]int64{}
	suspiciousPHIPrincipals := map[string]struct{}{}
	var failures int64
	var earliest, latest time.Time
	var verification *VerificationReport
	if opts.VerifyIntegrity {
		verification = newVerificationReport(organizationID, period)
	}

	err := g.events.Stream(ctx, filter, func(e *audit.Event) error {
		rep.Summary.TotalEvents++
		rep.Summary.ByStatus[string(e.Status)]++
		rep.Summary.ByClassification[string(e.DataClassification)]++
		rep.Summary.ByAction[e.Action]++
		principals[e.PrincipalID]++
		if e.TargetResourceID != nil {
			var typ string
			if e.TargetResourceType != nil {
				typ = *e.TargetResourceType
			}
			resources[typ+"\x00"+*e.TargetResourceID] = struct{}{}
		}
		if earliest.IsZero() || e.Timestamp.Before(earliest) {
			earliest = e.Timestamp
		}
		if e.Timestamp.After(latest) {
			latest = e.Timestamp
		}
		if e.Status == audit.StatusFailure {
			failures++
		}
		if rep.HIPAA != nil {
			accumulateHIPAA(rep.HIPAA, e)
			if e.DataClassification.IsPHI() {
				phiByPrincipal[e.PrincipalID]++
				if e.Status == audit.StatusFailure {
					suspiciousPHIPrincipals[e.PrincipalID] = struct{}{}
				}
			}
		}
		if rep.GDPR != nil {
			accumulateGDPR(rep.GDPR, e)
		}
		if verification != nil {
			verification.observe(e)
		}
		rep.Events = append(rep.Events, Sanitize(e))
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "streaming events for report")
	}

	rep.Summary.UniquePrincipals = int64(len(principals))
	rep.Summary.UniqueResources = int64(len(resources))
	if !earliest.IsZero() {
		from, to := earliest.UTC(), latest.UTC()
		rep.Summary.TimeRange = TimeRange{Earliest: &from, Latest: &to}
	}
	if rep.Summary.TotalEvents > 0 {
		rep.Summary.FailureRate = float64(failures) / float64(rep.Summary.TotalEvents)
	}
	if rep.HIPAA != nil {
		rep.HIPAA.TopPHIPrincipals = topPrincipals(phiByPrincipal, 10)
		rep.HIPAA.RiskAssessment = assessRisk(rep.HIPAA, int64(len(suspiciousPHIPrincipals)))
	}
	if verification != nil {
		verification.finish(g.now().UTC())
		rep.Integrity = verification
		rep.Summary.IntegrityViolations = verification.Failed
	}

	g.logger.Info("compliance report generated",
		zap.String("report_id", rep.ID.String()),
		zap.String("framework", string(framework)),
		zap.String("organization_id", organizationID),
		zap.Int64("events", rep.Summary.TotalEvents))
	return rep, nil
}

func accumulateHIPAA(section *HIPAASection, e *audit.Event) {
	if !e.DataClassification.IsPHI() {
		return
	}
	section.PHIAccessCount++
	section.PHIAccessByAction[e.Action]++
	if isModification(e.Action) {
		section.PHIModificationEvents++
	}
	if e.Status == audit.StatusFailure {
		section.UnauthorizedPHI++
	}
	hour := e.Timestamp.UTC().Hour()
	if hour >= 22 || hour < 6 {
		section.AfterHoursPHIAccess++
	}
	if strings.Contains(e.Action, "emergency") {
		section.EmergencyAccess++
	}
	if strings.Contains(e.Action, "break_glass") {
		section.BreakGlassEvents++
	}
	if isBulkAccess(e.Action) {
		section.MinimumNecessaryViolations++
	}
}

// assessRisk folds the HIPAA indicators into the risk block. Suspicious
// patterns count principals with at least one failed PHI access.
func assessRisk(section *HIPAASection, suspiciousPrincipals int64) RiskAssessment {
	ra := RiskAssessment{
		HighRiskEvents: section.UnauthorizedPHI + section.AfterHoursPHIAccess +
			section.BreakGlassEvents,
		SuspiciousPatterns: suspiciousPrincipals,
	}
	if section.UnauthorizedPHI > 0 {
		ra.Recommendations = append(ra.Recommendations,
			"Review unauthorized PHI access attempts and confirm access controls")
	}
	if section.AfterHoursPHIAccess > 0 {
		ra.Recommendations = append(ra.Recommendations,
			"Audit after-hours PHI access against on-call schedules")
	}
	if section.BreakGlassEvents > 0 {
		ra.Recommendations = append(ra.Recommendations,
			"Verify each break-glass access carries a documented justification")
	}
	if section.MinimumNecessaryViolations > 0 {
		ra.Recommendations = append(ra.Recommendations,
			"Check bulk PHI operations against minimum-necessary policies")
	}
	if len(ra.Recommendations) == 0 {
		ra.Recommendations = []string{"No elevated PHI risk indicators in this period"}
	}
	return ra
}

func accumulateGDPR(section *GDPRSection, e *audit.Event) {
	if e.DataClassification.IsPHI() ||
		e.DataClassification == audit.ClassificationConfidential {
		section.PersonalDataEvents++
	}
	if basis, ok := e.Details["legalBasis"].(string); ok && basis != "" {
		section.LegalBasisBreakdown[basis]++
	}
	switch {
	case hasPrefix(e.Action, "gdpr."):
		section.DataSubjectRequests++
		section.RequestsByKind[e.Action]++
		classifyRight(&section.DataSubjectRights, e.Action)
	case hasPrefix(e.Action, "consent."):
		section.ConsentEvents++
	case hasPrefix(e.Action, "data.transfer"):
		section.CrossBorderTransfers++
	case hasPrefix(e.Action, "retention.") && e.Status == audit.StatusFailure:
		section.RetentionViolations++
	case e.Action == "data.breach.detected":
		section.BreachEvents++
	case e.Action == "data.export":
		section.ExportEvents++
	}
}

// classifyRight maps a gdpr.* action onto the data-subject right it
// exercises (Articles 15-21).
func classifyRight(rights *DataSubjectRights, action string) {
	switch {
	case strings.Contains(action, "access"):
		rights.AccessRequests++
	case strings.Contains(action, "rectif"):
		rights.RectificationRequests++
	case strings.Contains(action, "delete") || strings.Contains(action, "erasure"):
		rights.ErasureRequests++
	case strings.Contains(action, "export") || strings.Contains(action, "portab"):
		rights.PortabilityRequests++
	case strings.Contains(action, "object"):
		rights.ObjectionRequests++
	}
}

func isModification(action string) bool {
	for _, verb := range []string{"update", "delete", "create", "write", "import"} {
		if strings.Contains(action, verb) {
			return true
		}
	}
	return false
}

func isBulkAccess(action string) bool {
	return action == "data.export" || action == "data.import" ||
		strings.Contains(action, "bulk")
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Sanitize strips the fields a report or subject export must not leak:
// integrity material and retention bookkeeping.
func Sanitize(e *audit.Event) *audit.Event {
	out := e.Clone()
	out.Hash = ""
	out.HashAlgorithm = ""
	out.Signature = ""
	out.SignatureAlgorithm = ""
	out.RetentionPolicy = ""
	out.ArchivedAt = nil
	return out
}

func topPrincipals(counts map[string]int64, n int) []PrincipalCount {
	out := make([]PrincipalCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, PrincipalCount{PrincipalID: id, Count: c})
	}
	// Insertion sort is fine at ranking sizes.
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && (out[j].Count > out[j-1].Count ||
			(out[j].Count == out[j-1].Count && out[j].PrincipalID < out[j-1].PrincipalID)); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

// VerificationReport summarizes an integrity sweep: every event's stored
// hash recomputed and compared.
type VerificationReport struct {
	OrganizationID string             `json:"organizationId"`
	Period         Period             `json:"period"`
	Verified       int64              `json:"verified"`
	Failed         int64              `json:"failed"`
	Unsigned       int64              `json:"unsigned"`
	Failures       []IntegrityFailure `json:"failures,omitempty"`
	CompletedAt    time.Time          `json:"completedAt"`
}

// IntegrityFailure names one event whose recorded hash no longer matches its
// critical fields.
type IntegrityFailure struct {
	EventID uuid.UUID `json:"eventId"`
	Reason  string    `json:"reason"`
}

func newVerificationReport(organizationID string, period Period) *VerificationReport {
	return &VerificationReport{OrganizationID: organizationID, Period: period}
}

func (v *VerificationReport) observe(e *audit.Event) {
	if e.Hash == "" {
		v.Failed++
		v.Failures = append(v.Failures, IntegrityFailure{EventID: e.ID, Reason: "missing hash"})
		return
	}
	if !crypto.VerifyHash(e) {
		v.Failed++
		v.Failures = append(v.Failures, IntegrityFailure{EventID: e.ID, Reason: "hash mismatch"})
		return
	}
	v.Verified++
	if e.Signature == "" {
		v.Unsigned++
	}
}

func (v *VerificationReport) finish(at time.Time) {
	v.CompletedAt = at
}

// VerifyIntegrity runs a standalone integrity sweep over a tenant window.
func (g *Generator) VerifyIntegrity(ctx context.Context, organizationID string, period Period) (*VerificationReport, error) {
	if organizationID == "" {
		return nil, errors.NewValidationError("organizationId is required")
	}
	v := newVerificationReport(organizationID, period)
	err := g.events.Stream(ctx, audit.EventFilter{
		From:            period.From,
		To:              period.To,
		OrganizationIDs: []string{organizationID},
	}, func(e *audit.Event) error {
		v.observe(e)
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "streaming events for verification")
	}
	v.finish(g.now().UTC())
	if v.Failed > 0 {
		g.logger.Warn("integrity verification found failures",
			zap.String("organization_id", organizationID),
			zap.Int64("failed", v.Failed))
	}
	return v, nil
}
