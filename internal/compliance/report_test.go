package compliance

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/testutil"
)

var reportClock = time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

func sealedEvent(t *testing.T, ts time.Time, action string, status audit.Status, principal string, cls audit.DataClassification) *audit.Event {
	t.Helper()
	e := &audit.Event{
		ID:                 uuid.New(),
		Timestamp:          ts,
		Action:             action,
		Status:             status,
		PrincipalID:        principal,
		OrganizationID:     "org-1",
		DataClassification: cls,
		RetentionPolicy:    "internal-default",
	}
	e.Hash = crypto.ComputeHash(e)
	e.HashAlgorithm = audit.HashAlgorithmSHA256
	return e
}

func seededRepo(t *testing.T) *testutil.EventRepo {
	t.Helper()
	repo := testutil.NewEventRepo()
	base := reportClock.Add(-24 * time.Hour)
	repo.Seed(
		sealedEvent(t, base, "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationPHI),
		sealedEvent(t, base.Add(time.Minute), "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationPHI),
		sealedEvent(t, base.Add(2*time.Minute), "data.read.record", audit.StatusFailure, "user-2", audit.ClassificationPHI),
		sealedEvent(t, base.Add(3*time.Minute), "gdpr.data.export", audit.StatusSuccess, "user-3", audit.ClassificationConfidential),
		sealedEvent(t, base.Add(4*time.Minute), "auth.login.success", audit.StatusSuccess, "user-2", audit.ClassificationInternal),
	)
	return repo
}

func testPeriod() Period {
	return Period{From: reportClock.Add(-48 * time.Hour), To: reportClock}
}

func TestGenerateHIPAAReport(t *testing.T) {
	g := NewGenerator(seededRepo(t), zap.NewNop()).WithClock(func() time.Time { return reportClock })

	rep, err := g.Generate(context.Background(), FrameworkHIPAA, "org-1", testPeriod(), GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, int64(5), rep.Summary.TotalEvents)
	assert.Equal(t, int64(3), rep.Summary.UniquePrincipals)
	assert.InDelta(t, 0.2, rep.Summary.FailureRate, 0.001)

	require.NotNil(t, rep.HIPAA)
	assert.Equal(t, int64(3), rep.HIPAA.PHIAccessCount)
	assert.Equal(t, int64(1), rep.HIPAA.UnauthorizedPHI)
	assert.Zero(t, rep.HIPAA.PHIModificationEvents)
	assert.Zero(t, rep.HIPAA.BreakGlassEvents)
	assert.Zero(t, rep.HIPAA.MinimumNecessaryViolations)
	require.NotEmpty(t, rep.HIPAA.TopPHIPrincipals)
	assert.Equal(t, "user-1", rep.HIPAA.TopPHIPrincipals[0].PrincipalID)

	// One failed PHI access: one high-risk event, one suspicious principal.
	assert.Equal(t, int64(1), rep.HIPAA.RiskAssessment.HighRiskEvents)
	assert.Equal(t, int64(1), rep.HIPAA.RiskAssessment.SuspiciousPatterns)
	assert.Contains(t, rep.HIPAA.RiskAssessment.Recommendations,
		"Review unauthorized PHI access attempts and confirm access controls")
	assert.Nil(t, rep.GDPR)
}

func TestGenerateGDPRReport(t *testing.T) {
	g := NewGenerator(seededRepo(t), zap.NewNop()).WithClock(func() time.Time { return reportClock })

	rep, err := g.Generate(context.Background(), FrameworkGDPR, "org-1", testPeriod(), GenerateOptions{})
	require.NoError(t, err)

	require.NotNil(t, rep.GDPR)
	assert.Equal(t, int64(1), rep.GDPR.DataSubjectRequests)
	assert.Equal(t, int64(1), rep.GDPR.RequestsByKind["gdpr.data.export"])
	// gdpr.data.export is an Article 20 portability request.
	assert.Equal(t, int64(1), rep.GDPR.DataSubjectRights.PortabilityRequests)
	assert.Zero(t, rep.GDPR.DataSubjectRights.ErasureRequests)
	// 3 PHI rows + the confidential export event.
	assert.Equal(t, int64(4), rep.GDPR.PersonalDataEvents)
	assert.Zero(t, rep.GDPR.CrossBorderTransfers)
	assert.Zero(t, rep.GDPR.RetentionViolations)
	assert.Nil(t, rep.HIPAA)
}

func TestReportEnvelope(t *testing.T) {
	repo := testutil.NewEventRepo()
	base := reportClock.Add(-24 * time.Hour)

	withTarget := sealedEvent(t, base, "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationPHI)
	withTarget.TargetResourceType = audit.StringPtr("patient")
	withTarget.TargetResourceID = audit.StringPtr("p-100")
	withTarget.Hash = crypto.ComputeHash(withTarget)

	sameTarget := sealedEvent(t, base.Add(time.Hour), "data.update.record", audit.StatusSuccess, "user-1", audit.ClassificationPHI)
	sameTarget.TargetResourceType = audit.StringPtr("patient")
	sameTarget.TargetResourceID = audit.StringPtr("p-100")
	sameTarget.Hash = crypto.ComputeHash(sameTarget)

	otherTarget := sealedEvent(t, base.Add(2*time.Hour), "data.read.record", audit.StatusSuccess, "user-2", audit.ClassificationPHI)
	otherTarget.TargetResourceType = audit.StringPtr("patient")
	otherTarget.TargetResourceID = audit.StringPtr("p-200")
	otherTarget.Hash = crypto.ComputeHash(otherTarget)

	repo.Seed(withTarget, sameTarget, otherTarget,
		sealedEvent(t, base.Add(3*time.Hour), "auth.login.success", audit.StatusSuccess, "user-2", audit.ClassificationInternal))

	g := NewGenerator(repo, zap.NewNop()).WithClock(func() time.Time { return reportClock })
	rep, err := g.Generate(context.Background(), FrameworkHIPAA, "org-1", testPeriod(),
		GenerateOptions{VerifyIntegrity: true, GeneratedBy: "auditor@example.com"})
	require.NoError(t, err)

	assert.Equal(t, "auditor@example.com", rep.GeneratedBy)
	require.NotNil(t, rep.Criteria)
	assert.Equal(t, []string{"org-1"}, rep.Criteria.OrganizationIDs)

	// Two distinct patient resources across three targeted events.
	assert.Equal(t, int64(2), rep.Summary.UniqueResources)
	assert.Zero(t, rep.Summary.IntegrityViolations)
	require.NotNil(t, rep.Summary.TimeRange.Earliest)
	require.NotNil(t, rep.Summary.TimeRange.Latest)
	assert.Equal(t, base, *rep.Summary.TimeRange.Earliest)
	assert.Equal(t, base.Add(3*time.Hour), *rep.Summary.TimeRange.Latest)

	// The update action counts as a PHI modification.
	require.NotNil(t, rep.HIPAA)
	assert.Equal(t, int64(1), rep.HIPAA.PHIModificationEvents)

	// Matched rows ride along sanitized: no integrity material.
	require.Len(t, rep.Events, 4)
	for _, e := range rep.Events {
		assert.Empty(t, e.Hash)
		assert.Empty(t, e.Signature)
		assert.Empty(t, e.RetentionPolicy)
	}
}

func TestReportEnvelopeEmptyWindow(t *testing.T) {
	g := NewGenerator(testutil.NewEventRepo(), zap.NewNop()).
		WithClock(func() time.Time { return reportClock })
	rep, err := g.Generate(context.Background(), FrameworkCustom, "org-1", testPeriod(), GenerateOptions{})
	require.NoError(t, err)

	assert.Equal(t, "system", rep.GeneratedBy)
	assert.Empty(t, rep.Events)
	assert.Nil(t, rep.Summary.TimeRange.Earliest)
	assert.Nil(t, rep.Summary.TimeRange.Latest)
	assert.Zero(t, rep.Summary.UniqueResources)
}

func TestGenerateValidation(t *testing.T) {
	g := NewGenerator(testutil.NewEventRepo(), zap.NewNop())
	ctx := context.Background()

	t.Run("organization required", func(t *testing.T) {
		_, err := g.Generate(ctx, FrameworkHIPAA, "", testPeriod(), GenerateOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("inverted period rejected", func(t *testing.T) {
		_, err := g.Generate(ctx, FrameworkHIPAA, "org-1",
			Period{From: reportClock, To: reportClock.Add(-time.Hour)}, GenerateOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})

	t.Run("unknown framework rejected", func(t *testing.T) {
		_, err := g.Generate(ctx, Framework("SOC2"), "org-1", testPeriod(), GenerateOptions{})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestVerifyIntegrity(t *testing.T) {
	repo := seededRepo(t)

	// Tamper exactly one stored event: change outcome without resealing.
	all := repo.All()
	tampered := all[0].Clone()
	tampered.OutcomeDescription = "rewritten after the fact"
	victim := tampered.ID
	fresh := testutil.NewEventRepo()
	fresh.Seed(tampered)
	for _, e := range all[1:] {
		fresh.Seed(e)
	}

	g := NewGenerator(fresh, zap.NewNop()).WithClock(func() time.Time { return reportClock })
	v, err := g.VerifyIntegrity(context.Background(), "org-1", testPeriod())
	require.NoError(t, err)

	assert.Equal(t, int64(4), v.Verified)
	assert.Equal(t, int64(1), v.Failed)
	require.Len(t, v.Failures, 1)
	assert.Equal(t, victim, v.Failures[0].EventID)
	assert.Equal(t, "hash mismatch", v.Failures[0].Reason)
}

func TestExportReport(t *testing.T) {
	g := NewGenerator(seededRepo(t), zap.NewNop()).WithClock(func() time.Time { return reportClock })
	rep, err := g.Generate(context.Background(), FrameworkHIPAA, "org-1", testPeriod(), GenerateOptions{})
	require.NoError(t, err)

	t.Run("json round trips", func(t *testing.T) {
		res, err := ExportReport(rep, ExportOptions{Format: FormatJSON})
		require.NoError(t, err)
		assert.Equal(t, "application/json", res.ContentType)
		assert.Equal(t, FormatJSON, res.Format)
		assert.NotEqual(t, uuid.Nil, res.ExportID)
		assert.Equal(t, int64(len(res.Data)), res.Size)
		assert.Empty(t, res.Encryption)

		var decoded Report
		require.NoError(t, json.Unmarshal(res.Data, &decoded))
		assert.Equal(t, rep.ID, decoded.ID)
		assert.Len(t, decoded.Events, len(rep.Events))

		sum := sha256.Sum256(res.Data)
		assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)
	})

	t.Run("csv has summary rows", func(t *testing.T) {
		res, err := ExportReport(rep, ExportOptions{Format: FormatCSV})
		require.NoError(t, err)
		assert.Contains(t, string(res.Data), "totalEvents,,5")
	})

	t.Run("xml is well formed", func(t *testing.T) {
		res, err := ExportReport(rep, ExportOptions{Format: FormatXML})
		require.NoError(t, err)
		assert.Contains(t, string(res.Data), "<complianceReport>")
	})

	t.Run("pdf has header and trailer", func(t *testing.T) {
		res, err := ExportReport(rep, ExportOptions{Format: FormatPDF})
		require.NoError(t, err)
		assert.True(t, bytes.HasPrefix(res.Data, []byte("%PDF-1.4")))
		assert.Contains(t, string(res.Data), "%%EOF")
	})

	t.Run("gzip compresses recoverably", func(t *testing.T) {
		res, err := ExportReport(rep, ExportOptions{Format: FormatJSON, Compression: CompressionGzip})
		require.NoError(t, err)
		assert.Contains(t, res.Filename, ".json.gz")
		assert.Equal(t, CompressionGzip, res.Compression)

		zr, err := gzip.NewReader(bytes.NewReader(res.Data))
		require.NoError(t, err)
		plain, err := io.ReadAll(zr)
		require.NoError(t, err)
		var decoded Report
		require.NoError(t, json.Unmarshal(plain, &decoded))
	})

	t.Run("encryption round trips", func(t *testing.T) {
		key := bytes.Repeat([]byte{7}, 32)
		res, err := ExportReport(rep, ExportOptions{Format: FormatJSON, EncryptionKey: key})
		require.NoError(t, err)
		assert.True(t, res.Encrypted)
		assert.Equal(t, "aes-256-gcm", res.Encryption)
		assert.NotEmpty(t, res.Nonce)
		assert.NotContains(t, string(res.Data), rep.OrganizationID)

		plain, err := DecryptExport(res.Data, key)
		require.NoError(t, err)
		var decoded Report
		require.NoError(t, json.Unmarshal(plain, &decoded))
		assert.Equal(t, rep.ID, decoded.ID)
	})

	t.Run("short key is a config error", func(t *testing.T) {
		_, err := ExportReport(rep, ExportOptions{Format: FormatJSON, EncryptionKey: []byte("short")})
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})
}

func TestRetentionEnforcer(t *testing.T) {
	ctx := context.Background()
	now := reportClock

	repo := testutil.NewEventRepo()
	repo.Seed(
		// Past delete threshold once archived.
		sealedEvent(t, now.AddDate(0, 0, -200), "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationInternal),
		// Past archive threshold only.
		sealedEvent(t, now.AddDate(0, 0, -100), "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationInternal),
		// Fresh.
		sealedEvent(t, now.AddDate(0, 0, -10), "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationInternal),
		// Other classification, untouched by the internal policy.
		sealedEvent(t, now.AddDate(0, 0, -200), "data.read.record", audit.StatusSuccess, "user-1", audit.ClassificationPHI),
	)

	policies := testutil.NewRetentionPolicyRepo(&audit.RetentionPolicy{
		Name:               "internal-default",
		DataClassification: audit.ClassificationInternal,
		RetentionDays:      180,
		ArchiveAfterDays:   90,
		DeleteAfterDays:    180,
		IsActive:           true,
	})

	enforcer := NewRetentionEnforcer(repo, policies, zap.NewNop()).
		WithClock(func() time.Time { return now })

	results, err := enforcer.EnforceAll(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// Archival runs before deletion, so the 200-day-old event is archived
	// and deleted in the same sweep.
	assert.Equal(t, int64(2), results[0].Archived)
	assert.Equal(t, int64(1), results[0].Deleted)

	remaining := repo.All()
	assert.Len(t, remaining, 3)
	for _, e := range remaining {
		if e.DataClassification == audit.ClassificationInternal {
			assert.True(t, e.Timestamp.After(now.AddDate(0, 0, -180)))
		}
	}

	t.Run("second sweep is a no-op", func(t *testing.T) {
		results, err := enforcer.EnforceAll(ctx)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, int64(0), results[0].Archived)
		assert.Equal(t, int64(0), results[0].Deleted)
		assert.Len(t, repo.All(), 3)
	})
}
