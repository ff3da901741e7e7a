package gdpr

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/compliance"
	"github.com/trailguard/trailguard/internal/crypto"
	"github.com/trailguard/trailguard/internal/domain/audit"
	"github.com/trailguard/trailguard/internal/domain/errors"
	domain "github.com/trailguard/trailguard/internal/domain/gdpr"
	"github.com/trailguard/trailguard/internal/ingest"
	"github.com/trailguard/trailguard/internal/testutil"
)

type trailRecorder struct {
	mu     sync.Mutex
	inputs []*ingest.EventInput
}

func (r *trailRecorder) LogWithGuaranteedDelivery(_ context.Context, in *ingest.EventInput) (*audit.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return &audit.Event{ID: uuid.New()}, nil
}

func (r *trailRecorder) last() *ingest.EventInput {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.inputs) == 0 {
		return nil
	}
	return r.inputs[len(r.inputs)-1]
}

type fixture struct {
	svc        *Service
	events     *testutil.EventRepo
	pseudonyms *testutil.PseudonymRepo
	trail      *trailRecorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cipher, err := crypto.NewLocalAES(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)

	events := testutil.NewEventRepo()
	pseudonyms := testutil.NewPseudonymRepo()
	trail := &trailRecorder{}
	svc, err := NewService(events, pseudonyms, cipher, trail, nil, "test-salt", zap.NewNop())
	require.NoError(t, err)
	return &fixture{svc: svc, events: events, pseudonyms: pseudonyms, trail: trail}
}

func subjectEvent(action, principal string) *audit.Event {
	return &audit.Event{
		ID:                 uuid.New(),
		Timestamp:          time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC),
		Action:             action,
		Status:             audit.StatusSuccess,
		PrincipalID:        principal,
		OrganizationID:     "org-1",
		DataClassification: audit.ClassificationInternal,
		SessionContext: audit.SessionContext{
			SessionID: "sess-1",
			IPAddress: "10.0.0.9",
			UserAgent: "curl/8",
		},
		Hash:          "deadbeef",
		HashAlgorithm: audit.HashAlgorithmSHA256,
		Signature:     "sig",
	}
}

func TestPseudonymizeUserData(t *testing.T) {
	ctx := context.Background()

	t.Run("hash strategy is deterministic", func(t *testing.T) {
		f := newFixture(t)
		f.events.Seed(
			subjectEvent("data.read.record", "user-1"),
			subjectEvent("data.read.record", "user-1"),
			subjectEvent("data.read.record", "someone-else"),
		)

		first, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-1", domain.StrategyHash, "admin")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(first.PseudonymID, "pseudo-"))
		assert.Equal(t, int64(2), first.RecordsUpdated)

		// Re-running targets the pseudonym, not the original, so no rows
		// remain to rewrite; the derived id and mapping stay the same.
		second, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-1", domain.StrategyHash, "admin")
		require.NoError(t, err)
		assert.Equal(t, first.PseudonymID, second.PseudonymID)
		assert.Equal(t, int64(0), second.RecordsUpdated)
		assert.Equal(t, 1, f.pseudonyms.Count())

		for _, e := range f.events.All() {
			if e.PrincipalID == first.PseudonymID {
				assert.Empty(t, e.SessionContext.IPAddress)
				assert.Empty(t, e.SessionContext.UserAgent)
				assert.Equal(t, "sess-1", e.SessionContext.SessionID)
			}
		}

		trail := f.trail.last()
		require.NotNil(t, trail)
		assert.Equal(t, "gdpr.data.pseudonymize", trail.Action)
	})

	t.Run("token strategy allocates fresh ids", func(t *testing.T) {
		f := newFixture(t)
		a, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-1", domain.StrategyToken, "admin")
		require.NoError(t, err)
		b, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-2", domain.StrategyToken, "admin")
		require.NoError(t, err)
		assert.NotEqual(t, a.PseudonymID, b.PseudonymID)
		assert.Len(t, a.PseudonymID, len("pseudo-")+32)
	})

	t.Run("encryption strategy is fingerprintable", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-1", domain.StrategyEncryption, "admin")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(res.PseudonymID, "pseudo-enc-"))
	})

	t.Run("unknown strategy rejected", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-1", domain.Strategy("rot13"), "admin")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestGetOriginalID(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips through the mapping", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.svc.PseudonymizeUserData(ctx, "org-1", "user-1", domain.StrategyHash, "admin")
		require.NoError(t, err)

		original, err := f.svc.GetOriginalID(ctx, "org-1", res.PseudonymID)
		require.NoError(t, err)
		assert.Equal(t, "user-1", original)
	})

	t.Run("unknown pseudonym is not found", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.GetOriginalID(ctx, "org-1", "pseudo-missing")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})

	t.Run("undecryptable mapping reads as not found", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.pseudonyms.Save(ctx, &domain.PseudonymMapping{
			PseudonymID:       "pseudo-broken",
			OrganizationID:    "org-1",
			EncryptedOriginal: "bm90IHJlYWwgY2lwaGVydGV4dA==",
			Strategy:          domain.StrategyHash,
			CreatedAt:         time.Now().UTC(),
		}))
		_, err := f.svc.GetOriginalID(ctx, "org-1", "pseudo-broken")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})
}

func TestDeleteUserDataWithAuditTrail(t *testing.T) {
	ctx := context.Background()

	seedSubject := func(f *fixture) {
		// 10 rows: 3 compliance-critical, 7 not.
		f.events.Seed(
			subjectEvent("auth.login.success", "u3"),
			subjectEvent("gdpr.consent.update", "u3"),
			subjectEvent("security.scan.completed", "u3"),
		)
		for i := 0; i < 7; i++ {
			f.events.Seed(subjectEvent("data.read.record", "u3"))
		}
	}

	t.Run("preserving keeps pseudonymized compliance rows", func(t *testing.T) {
		f := newFixture(t)
		seedSubject(f)
		f.events.Seed(subjectEvent("data.read.record", "bystander"))

		res, err := f.svc.DeleteUserDataWithAuditTrail(ctx, "org-1", "u3", "admin", true)
		require.NoError(t, err)
		assert.Equal(t, int64(7), res.RecordsDeleted)
		assert.Equal(t, int64(3), res.ComplianceRecordsPreserved)
		require.NotEmpty(t, res.PseudonymID)

		var pseudonymized, original int
		for _, e := range f.events.All() {
			switch e.PrincipalID {
			case res.PseudonymID:
				pseudonymized++
			case "u3":
				original++
			}
		}
		assert.Equal(t, 3, pseudonymized)
		assert.Zero(t, original)

		// The mapping keeps the erasure reversible for auditors.
		back, err := f.svc.GetOriginalID(ctx, "org-1", res.PseudonymID)
		require.NoError(t, err)
		assert.Equal(t, "u3", back)

		trail := f.trail.last()
		require.NotNil(t, trail)
		assert.Equal(t, "gdpr.data.delete", trail.Action)
		assert.Equal(t, int64(7), trail.Details["recordsDeleted"])
		assert.Equal(t, int64(3), trail.Details["complianceRecordsPreserved"])
	})

	t.Run("without preservation everything goes", func(t *testing.T) {
		f := newFixture(t)
		seedSubject(f)

		res, err := f.svc.DeleteUserDataWithAuditTrail(ctx, "org-1", "u3", "admin", false)
		require.NoError(t, err)
		assert.Equal(t, int64(10), res.RecordsDeleted)
		assert.Zero(t, res.ComplianceRecordsPreserved)
		assert.Empty(t, res.PseudonymID)
		assert.Empty(t, f.events.All())
	})
}

func TestExportUserData(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.events.Seed(
		subjectEvent("data.read.record", "user-1"),
		subjectEvent("auth.login.success", "user-1"),
		subjectEvent("data.read.record", "other"),
	)

	res, err := f.svc.ExportUserData(ctx, ExportRequest{
		OrganizationID: "org-1",
		PrincipalID:    "user-1",
		Format:         compliance.FormatJSON,
		RequestedBy:    "dpo",
	})
	require.NoError(t, err)

	var exported []*audit.Event
	require.NoError(t, json.Unmarshal(res.Data, &exported))
	require.Len(t, exported, 2)
	for _, e := range exported {
		assert.Equal(t, "user-1", e.PrincipalID)
		assert.Empty(t, e.Hash)
		assert.Empty(t, e.Signature)
		assert.Empty(t, e.RetentionPolicy)
	}

	trail := f.trail.last()
	require.NotNil(t, trail)
	assert.Equal(t, "gdpr.data.export", trail.Action)
	assert.Equal(t, 2, trail.Details["recordCount"])
}
