package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trailguard/trailguard/internal/domain/alert"
	"github.com/trailguard/trailguard/internal/domain/errors"
	"github.com/trailguard/trailguard/internal/infrastructure/config"
	"github.com/trailguard/trailguard/internal/infrastructure/kv"
	"github.com/trailguard/trailguard/internal/metrics"
	"github.com/trailguard/trailguard/internal/testutil"
)

type recordingSink struct {
	mu   sync.Mutex
	sent []*alert.Alert
	err  error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, a *alert.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, a)
	return s.err
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func newTestEngine(t *testing.T, sinks ...AlertSink) (*Engine, *testutil.AlertRepo, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	collector := metrics.NewCollector(
		kv.NewFromClient(client, zap.NewNop()), prometheus.NewRegistry(), zap.NewNop())
	repo := testutil.NewAlertRepo()
	return NewEngine(repo, collector, 300*time.Second, zap.NewNop(), sinks...), repo, mr
}

func newAlert(t *testing.T, title string) *alert.Alert {
	t.Helper()
	a, err := alert.New("org-1", alert.SeverityHigh, alert.TypeSecurity,
		"pattern-detector", title, "description")
	require.NoError(t, err)
	return a
}

func TestEngineRaise(t *testing.T) {
	ctx := context.Background()

	t.Run("persists and fans out", func(t *testing.T) {
		sink := &recordingSink{}
		e, repo, _ := newTestEngine(t, sink)

		raised, err := e.Raise(ctx, newAlert(t, "Suspicious pattern: FAILED_AUTH"))
		require.NoError(t, err)
		require.NotNil(t, raised)
		assert.Len(t, repo.All(), 1)
		assert.Equal(t, 1, sink.count())
	})

	t.Run("duplicate suppressed within cooldown", func(t *testing.T) {
		e, repo, _ := newTestEngine(t)

		first, err := e.Raise(ctx, newAlert(t, "Suspicious pattern: FAILED_AUTH"))
		require.NoError(t, err)
		require.NotNil(t, first)

		second, err := e.Raise(ctx, newAlert(t, "Suspicious pattern: FAILED_AUTH"))
		require.NoError(t, err)
		assert.Nil(t, second, "duplicate within cooldown must be suppressed")
		assert.Len(t, repo.All(), 1)
	})

	t.Run("fires again after cooldown expiry", func(t *testing.T) {
		e, repo, mr := newTestEngine(t)

		_, err := e.Raise(ctx, newAlert(t, "Suspicious pattern: FAILED_AUTH"))
		require.NoError(t, err)

		mr.FastForward(301 * time.Second)

		second, err := e.Raise(ctx, newAlert(t, "Suspicious pattern: FAILED_AUTH"))
		require.NoError(t, err)
		require.NotNil(t, second)
		assert.Len(t, repo.All(), 2)
	})

	t.Run("different titles do not share a cooldown", func(t *testing.T) {
		e, repo, _ := newTestEngine(t)

		_, err := e.Raise(ctx, newAlert(t, "Suspicious pattern: FAILED_AUTH"))
		require.NoError(t, err)
		_, err = e.Raise(ctx, newAlert(t, "Suspicious pattern: DATA_VELOCITY"))
		require.NoError(t, err)
		assert.Len(t, repo.All(), 2)
	})

	t.Run("sink failure does not fail raise", func(t *testing.T) {
		sink := &recordingSink{err: errors.NewNetworkError("endpoint down")}
		e, repo, _ := newTestEngine(t, sink)

		raised, err := e.Raise(ctx, newAlert(t, "Sink failure case"))
		require.NoError(t, err)
		require.NotNil(t, raised)
		assert.Len(t, repo.All(), 1)
	})
}

func TestEngineLifecycle(t *testing.T) {
	ctx := context.Background()
	e, _, _ := newTestEngine(t)

	raised, err := e.Raise(ctx, newAlert(t, "Lifecycle alert"))
	require.NoError(t, err)

	t.Run("acknowledge", func(t *testing.T) {
		a, err := e.Acknowledge(ctx, "org-1", raised.ID, "analyst-1")
		require.NoError(t, err)
		assert.Equal(t, alert.StatusAcknowledged, a.Status)
		assert.Equal(t, "analyst-1", a.AcknowledgedBy)
		require.NotNil(t, a.AcknowledgedAt)
	})

	t.Run("repeat acknowledge is a no-op", func(t *testing.T) {
		a, err := e.Acknowledge(ctx, "org-1", raised.ID, "analyst-2")
		require.NoError(t, err)
		assert.Equal(t, "analyst-1", a.AcknowledgedBy)
	})

	t.Run("resolve with notes", func(t *testing.T) {
		a, err := e.Resolve(ctx, "org-1", raised.ID, "analyst-1", "false positive")
		require.NoError(t, err)
		assert.Equal(t, alert.StatusResolved, a.Status)
		assert.Equal(t, "false positive", a.ResolutionNotes)
	})

	t.Run("dismiss after resolve conflicts", func(t *testing.T) {
		_, err := e.Dismiss(ctx, "org-1", raised.ID, "analyst-1")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConflict))
	})

	t.Run("wrong tenant cannot see the alert", func(t *testing.T) {
		_, err := e.Get(ctx, "org-2", raised.ID)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
	})
}

func TestEngineStatistics(t *testing.T) {
	ctx := context.Background()
	e, _, mr := newTestEngine(t)

	for _, title := range []string{"a", "b", "c"} {
		_, err := e.Raise(ctx, newAlert(t, title))
		require.NoError(t, err)
		mr.FastForward(301 * time.Second)
	}

	stats, err := e.Statistics(ctx, "org-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.Total)
	assert.Equal(t, int64(3), stats.ByStatus[string(alert.StatusActive)])
	assert.Equal(t, int64(3), stats.BySeverity[string(alert.SeverityHigh)])
	assert.Equal(t, int64(3), stats.BySource["pattern-detector"])

	t.Run("organization is mandatory", func(t *testing.T) {
		_, err := e.Statistics(ctx, "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestEngineCleanupResolved(t *testing.T) {
	ctx := context.Background()
	e, repo, _ := newTestEngine(t)

	raised, err := e.Raise(ctx, newAlert(t, "Old resolved alert"))
	require.NoError(t, err)
	_, err = e.Resolve(ctx, "org-1", raised.ID, "analyst-1", "")
	require.NoError(t, err)

	// Backdate the resolution past the retention horizon.
	stored, err := repo.GetByID(ctx, "org-1", raised.ID)
	require.NoError(t, err)
	old := time.Now().UTC().AddDate(0, 0, -120)
	stored.ResolvedAt = &old
	require.NoError(t, repo.Update(ctx, stored))

	removed, err := e.CleanupResolved(ctx, "org-1", 90)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Empty(t, repo.All())

	t.Run("rejects non-positive retention", func(t *testing.T) {
		_, err := e.CleanupResolved(ctx, "org-1", 0)
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	})
}

func TestWebhookSink(t *testing.T) {
	ctx := context.Background()

	t.Run("delivers with headers", func(t *testing.T) {
		var gotPath, gotTitle, gotTags, gotAuth, gotPriority string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotTitle = r.Header.Get("Title")
			gotTags = r.Header.Get("Tags")
			gotAuth = r.Header.Get("Authorization")
			gotPriority = r.Header.Get("Priority")
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		sink, err := NewWebhookSink(config.NotificationConfig{
			Enabled:     true,
			URL:         srv.URL,
			Credentials: "token-123",
		}, zap.NewNop())
		require.NoError(t, err)

		a := newAlert(t, "Critical breach")
		a.Severity = alert.SeverityCritical
		require.NoError(t, sink.Send(ctx, a))
		assert.Equal(t, "/org-1", gotPath)
		assert.Equal(t, "Critical breach", gotTitle)
		assert.Equal(t, "warning,SECURITY,CRITICAL,pattern-detector,active", gotTags)
		assert.Equal(t, "Bearer token-123", gotAuth)
		assert.Equal(t, "5", gotPriority)
	})

	t.Run("disabled sink is silent", func(t *testing.T) {
		sink, err := NewWebhookSink(config.NotificationConfig{Enabled: false}, zap.NewNop())
		require.NoError(t, err)
		require.NoError(t, sink.Send(ctx, newAlert(t, "ignored")))
	})

	t.Run("enabled without url is a config error", func(t *testing.T) {
		_, err := NewWebhookSink(config.NotificationConfig{Enabled: true}, zap.NewNop())
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	})

	t.Run("server rejection surfaces a network error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		sink, err := NewWebhookSink(config.NotificationConfig{Enabled: true, URL: srv.URL}, zap.NewNop())
		require.NoError(t, err)
		err = sink.Send(ctx, newAlert(t, "rejected"))
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrorTypeNetwork))
	})
}
