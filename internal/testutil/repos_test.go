package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trailguard/trailguard/internal/domain/audit"
)

func queryEvent(ts time.Time, principal string) *audit.Event {
	return &audit.Event{
		ID:                 uuid.New(),
		Timestamp:          ts,
		Action:             "data.read.record",
		Status:             audit.StatusSuccess,
		PrincipalID:        principal,
		OrganizationID:     "org-1",
		DataClassification: audit.ClassificationInternal,
	}
}

func TestEventRepoQueryPagination(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)

	repo := NewEventRepo()
	for i := 0; i < 5; i++ {
		repo.Seed(queryEvent(base.Add(time.Duration(i)*time.Minute), "user-1"))
	}

	t.Run("pages are stable and total covers all matches", func(t *testing.T) {
		first, err := repo.Query(ctx, audit.EventFilter{}, audit.PageRequest{Limit: 2})
		require.NoError(t, err)
		assert.Equal(t, int64(5), first.Total)
		require.Len(t, first.Events, 2)
		// Default order is timestamp descending.
		assert.Equal(t, base.Add(4*time.Minute), first.Events[0].Timestamp)
		assert.Equal(t, base.Add(3*time.Minute), first.Events[1].Timestamp)

		second, err := repo.Query(ctx, audit.EventFilter{}, audit.PageRequest{Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, second.Events, 2)
		assert.Equal(t, base.Add(2*time.Minute), second.Events[0].Timestamp)
	})

	t.Run("last partial page", func(t *testing.T) {
		page, err := repo.Query(ctx, audit.EventFilter{}, audit.PageRequest{Limit: 2, Offset: 4})
		require.NoError(t, err)
		assert.Equal(t, int64(5), page.Total)
		require.Len(t, page.Events, 1)
		assert.Equal(t, base, page.Events[0].Timestamp)
	})

	t.Run("offset at total returns empty with total unchanged", func(t *testing.T) {
		page, err := repo.Query(ctx, audit.EventFilter{}, audit.PageRequest{Limit: 2, Offset: 5})
		require.NoError(t, err)
		assert.Empty(t, page.Events)
		assert.Equal(t, int64(5), page.Total)
		assert.Equal(t, 5, page.Offset)
	})

	t.Run("offset past total returns empty", func(t *testing.T) {
		page, err := repo.Query(ctx, audit.EventFilter{}, audit.PageRequest{Limit: 2, Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, page.Events)
		assert.Equal(t, int64(5), page.Total)
	})
}
