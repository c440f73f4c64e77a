package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/catalog"
	"bias-aggregator/internal/storage"
)

const rules = `indicatorName,indicatorDisplayName,description,matchType,alertPattern,interval,subCategory,subCategoryDisplayName,skipScoring,score,isAlertable
MACD,MACD,,PREFIX,bullish cross,,CROSS,Signal cross,false,2,true
MACD,MACD,,PREFIX,bearish cross,,CROSS,Signal cross,false,-2,true
MACD,MACD,,CONTAINS,heartbeat,,PING,Heartbeat,true,,false
`

func newTestIngestor(t *testing.T) (*Ingestor, *storage.MemoryStore) {
	t.Helper()
	cat, err := catalog.Load(strings.NewReader(rules))
	require.NoError(t, err)
	store := storage.NewMemoryStore()
	return NewIngestor(cat, store, zerolog.Nop()), store
}

func TestIngestScoresAndEnqueues(t *testing.T) {
	ing, store := newTestIngestor(t)
	at := time.Date(2026, 5, 6, 13, 55, 0, 0, time.UTC)

	ev, err := ing.Ingest(context.Background(), Alert{
		Symbol:        " NQ ",
		CandleType:    "CLASSIC",
		Interval:      "5m",
		IndicatorName: "macd",
		Message:       "Bearish cross on close",
		EventTime:     at,
	})
	require.NoError(t, err)
	assert.NotZero(t, ev.ID)
	assert.Equal(t, "NQ", ev.Symbol)
	assert.Equal(t, "MACD", ev.IndicatorName)
	assert.Equal(t, "CROSS", ev.SubCategory)
	assert.Equal(t, "Signal cross", ev.SubCategoryDisplayName)
	assert.True(t, ev.Score.Equal(decimal.NewFromInt(-2)))
	assert.True(t, ev.ScoreMin.Equal(decimal.NewFromInt(-2)))
	assert.True(t, ev.ScoreMax.Equal(decimal.NewFromInt(2)))
	assert.Equal(t, at, ev.EventTime)

	pending, err := store.ListPendingEvents(context.Background(), at.Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, aggregator.StatusPending, pending[0].Status)
}

func TestIngestRejectsUnscoredAlerts(t *testing.T) {
	ing, store := newTestIngestor(t)

	_, err := ing.Ingest(context.Background(), Alert{Symbol: "NQ", IndicatorName: "MACD", Message: "sideways"})
	assert.ErrorIs(t, err, catalog.ErrNoMatchingRule)

	_, err = ing.Ingest(context.Background(), Alert{Symbol: "NQ", IndicatorName: "MACD", Message: "heartbeat"})
	assert.ErrorIs(t, err, ErrNotScored)

	_, err = ing.Ingest(context.Background(), Alert{IndicatorName: "MACD", Message: "bullish cross"})
	assert.ErrorIs(t, err, aggregator.ErrInvalidEvent)

	counts, err := store.CountEventsByStatus(context.Background())
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestIngestDefaultsEventTime(t *testing.T) {
	ing, _ := newTestIngestor(t)
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ing.now = func() time.Time { return fixed }

	ev, err := ing.Score(Alert{Symbol: "NQ", IndicatorName: "MACD", Message: "bullish cross"})
	require.NoError(t, err)
	assert.Equal(t, fixed, ev.EventTime)
	assert.Zero(t, ev.ID)
}

func TestIngestedEventFoldsThroughPass(t *testing.T) {
	ing, store := newTestIngestor(t)
	now := time.Now().UTC()
	_, err := ing.Ingest(context.Background(), Alert{
		Symbol: "NQ", CandleType: "CLASSIC", Interval: "5m",
		IndicatorName: "MACD", Message: "bullish cross", EventTime: now.Add(-time.Minute),
	})
	require.NoError(t, err)

	agg := NewAggregator(Options{Lookback: time.Hour, BatchSize: 10}, Deps{Events: store, Snapshots: store}, zerolog.Nop())
	result, err := agg.RunPass(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Processed)

	snap, err := store.GetLatest(context.Background(), "NQ")
	require.NoError(t, err)
	assert.True(t, snap.Percentage.Equal(decimal.NewFromInt(100)))
}
