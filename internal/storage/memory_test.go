package storage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bias-aggregator/internal/aggregator"
)

func scoredEvent(symbol string, at time.Time) aggregator.ScoredEvent {
	return aggregator.ScoredEvent{
		Symbol:        symbol,
		CandleType:    "CLASSIC",
		Interval:      "5m",
		IndicatorName: "IND1",
		SubCategory:   "SUB1",
		Score:         decimal.NewFromInt(1),
		ScoreMin:      decimal.NewFromInt(-1),
		ScoreMax:      decimal.NewFromInt(1),
		EventTime:     at,
	}
}

func TestMemoryStoreLatestFollowsAdvance(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	latest, err := store.GetLatest(ctx, "NQ")
	require.NoError(t, err)
	assert.Nil(t, latest)

	first, err := aggregator.Fold(scoredEvent("NQ", time.Now()), nil)
	require.NoError(t, err)
	version, err := store.SaveSnapshot(ctx, first)
	require.NoError(t, err)
	require.NoError(t, store.AdvanceLatest(ctx, "NQ", version))

	second, err := aggregator.Fold(scoredEvent("NQ", time.Now()), first)
	require.NoError(t, err)
	version2, err := store.SaveSnapshot(ctx, second)
	require.NoError(t, err)
	require.NoError(t, store.AdvanceLatest(ctx, "NQ", version2))

	for i := 0; i < 2; i++ {
		latest, err = store.GetLatest(ctx, "NQ")
		require.NoError(t, err)
		assert.Equal(t, version2, latest.Version)
	}

	pointers, err := store.ListLatest(ctx)
	require.NoError(t, err)
	require.Len(t, pointers, 1)
	assert.Equal(t, version2, pointers[0].Version)
}

func TestMemoryStoreSavedVersionsAreImmutable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	snap, err := aggregator.Fold(scoredEvent("NQ", time.Now()), nil)
	require.NoError(t, err)
	version, err := store.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	require.NoError(t, store.AdvanceLatest(ctx, "NQ", version))

	snap.Score = decimal.NewFromInt(42)
	loaded, err := store.GetLatest(ctx, "NQ")
	require.NoError(t, err)
	assert.True(t, loaded.Score.Equal(decimal.NewFromInt(1)))

	loaded.Score = decimal.NewFromInt(7)
	again, err := store.GetLatest(ctx, "NQ")
	require.NoError(t, err)
	assert.True(t, again.Score.Equal(decimal.NewFromInt(1)))

	_, err = store.SaveSnapshot(ctx, snap)
	assert.ErrorIs(t, err, ErrDuplicateVersion)
}

func TestMemoryStoreAdvanceRequiresSavedVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.AdvanceLatest(ctx, "NQ", "missing")
	assert.ErrorIs(t, err, ErrUnknownVersion)

	snap, err := aggregator.Fold(scoredEvent("ES", time.Now()), nil)
	require.NoError(t, err)
	version, err := store.SaveSnapshot(ctx, snap)
	require.NoError(t, err)
	assert.ErrorIs(t, store.AdvanceLatest(ctx, "NQ", version), ErrUnknownVersion)
}

func TestMemoryStorePendingEvents(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)

	stale, err := store.InsertEvent(ctx, scoredEvent("NQ", now.Add(-5*time.Hour)))
	require.NoError(t, err)
	later, err := store.InsertEvent(ctx, scoredEvent("NQ", now.Add(-time.Minute)))
	require.NoError(t, err)
	earlier, err := store.InsertEvent(ctx, scoredEvent("ES", now.Add(-time.Hour)))
	require.NoError(t, err)
	done, err := store.InsertEvent(ctx, scoredEvent("ES", now.Add(-2*time.Minute)))
	require.NoError(t, err)
	require.NoError(t, store.MarkEventProcessed(ctx, done.ID))

	assert.Equal(t, aggregator.StatusPending, stale.Status)

	pending, err := store.ListPendingEvents(ctx, now.Add(-4*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, earlier.ID, pending[0].ID)
	assert.Equal(t, later.ID, pending[1].ID)

	limited, err := store.ListPendingEvents(ctx, now.Add(-4*time.Hour), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, store.MarkEventFailed(ctx, later.ID, "boom"))
	failed, ok := store.Event(later.ID)
	require.True(t, ok)
	assert.Equal(t, aggregator.StatusFailed, failed.Status)
	assert.Equal(t, "boom", failed.Error)

	counts, err := store.CountEventsByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, []StatusCount{
		{Status: aggregator.StatusFailed, Count: 1},
		{Status: aggregator.StatusPending, Count: 2},
		{Status: aggregator.StatusProcessed, Count: 1},
	}, counts)

	assert.Error(t, store.MarkEventProcessed(ctx, 99))
}

func TestMemoryStoreHistoryWindow(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	clock := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	var snap *aggregator.Snapshot
	for i := 0; i < 3; i++ {
		next, err := aggregator.Fold(scoredEvent("NQ", clock), snap)
		require.NoError(t, err)
		_, err = store.SaveSnapshot(ctx, next)
		require.NoError(t, err)
		snap = next
		clock = clock.Add(time.Minute)
	}

	history, err := store.ListSnapshotHistory(ctx, "NQ", clock.Add(-time.Minute), clock, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, snap.Version, history[0].Version)
	assert.Equal(t, clock.Add(-time.Minute), history[0].CreatedAt)

	limited, err := store.ListSnapshotHistory(ctx, "NQ", clock.Add(-time.Hour), clock, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}
