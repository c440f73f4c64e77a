package aggregator

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bias-aggregator/internal/score"
)

func event(indicator, sub string, value, min, max int64) ScoredEvent {
	return ScoredEvent{
		Symbol:        "NQ",
		CandleType:    "CLASSIC",
		Interval:      "5m",
		IndicatorName: indicator,
		SubCategory:   sub,
		RawMessage:    fmt.Sprintf("%s %s %d", indicator, sub, value),
		Score:         decimal.NewFromInt(value),
		ScoreMin:      decimal.NewFromInt(min),
		ScoreMax:      decimal.NewFromInt(max),
		EventTime:     time.Date(2026, 1, 2, 15, 0, 0, 0, time.UTC),
	}
}

func TestFoldFirstEventCreatesSnapshot(t *testing.T) {
	snap, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)

	assert.Equal(t, "NQ", snap.Symbol)
	assert.NotEmpty(t, snap.Version)
	assert.True(t, snap.Score.Equal(decimal.NewFromInt(1)))
	assert.True(t, snap.Percentage.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, score.StrongBull, snap.Direction)
	assert.Equal(t, 1, snap.Leaves())

	leaf, ok := snap.Leaf("CLASSIC", "5m", "IND1", "SUB1")
	require.True(t, ok)
	assert.Equal(t, "IND1 SUB1 1", leaf.LastMessage)
}

func TestFoldSecondIndicatorBalancesGroup(t *testing.T) {
	first, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)
	second, err := Fold(event("IND2", "SUBX", -1, -1, 1), first)
	require.NoError(t, err)

	group, ok := second.Group("CLASSIC", "5m")
	require.True(t, ok)
	assert.True(t, group.Score.IsZero())
	assert.True(t, group.Min.Equal(decimal.NewFromInt(-2)))
	assert.True(t, group.Max.Equal(decimal.NewFromInt(2)))
	assert.True(t, group.Percentage.IsZero())
	assert.Equal(t, score.Neutral, group.Direction)
	assert.Len(t, group.Indicators, 2)
}

func TestFoldReplacesLeafInPlace(t *testing.T) {
	snap, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)
	snap, err = Fold(event("IND1", "SUB1", -1, -1, 1), snap)
	require.NoError(t, err)

	assert.Equal(t, 1, snap.Leaves())
	assert.True(t, snap.Score.Equal(decimal.NewFromInt(-1)))
	assert.Equal(t, score.StrongBear, snap.Direction)
}

func TestFoldDoesNotMutateInput(t *testing.T) {
	first, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)
	before, err := json.Marshal(first)
	require.NoError(t, err)

	second, err := Fold(event("IND1", "SUB1", -1, -1, 1), first)
	require.NoError(t, err)
	after, err := json.Marshal(first)
	require.NoError(t, err)

	assert.JSONEq(t, string(before), string(after))
	assert.NotEqual(t, first.Version, second.Version)
}

func TestFoldRejectsInvalidEvents(t *testing.T) {
	base, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)
	snapshotJSON, err := json.Marshal(base)
	require.NoError(t, err)

	missingSymbol := event("IND1", "SUB1", 1, -1, 1)
	missingSymbol.Symbol = " "
	missingIndicator := event("", "SUB1", 1, -1, 1)
	missingSub := event("IND1", "", 1, -1, 1)
	outOfRange := event("IND1", "SUB1", 3, -1, 1)
	notBipolar := event("IND1", "SUB1", 2, 1, 3)
	otherSymbol := event("IND1", "SUB1", 1, -1, 1)
	otherSymbol.Symbol = "ES"

	for name, ev := range map[string]ScoredEvent{
		"missing symbol":    missingSymbol,
		"missing indicator": missingIndicator,
		"missing sub":       missingSub,
		"out of range":      outOfRange,
		"not bipolar":       notBipolar,
		"other symbol":      otherSymbol,
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Fold(ev, base)
			assert.ErrorIs(t, err, ErrInvalidEvent)
			assert.Nil(t, out)
		})
	}

	after, err := json.Marshal(base)
	require.NoError(t, err)
	assert.JSONEq(t, string(snapshotJSON), string(after))
}

func TestFoldDegenerateRangeLeavesInputUntouched(t *testing.T) {
	base, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)

	// a negative-only range with a zero score has no positive bound
	out, err := Fold(event("IND2", "SUB1", 0, -2, 0), base)
	assert.ErrorIs(t, err, score.ErrDegenerateRange)
	assert.Nil(t, out)

	_, ok := base.Group("CLASSIC", "5m")
	require.True(t, ok)
	assert.Equal(t, 1, base.Leaves())
}

func TestRecomputeIsIdempotent(t *testing.T) {
	snap, err := Fold(event("IND1", "SUB1", 2, -3, 3), nil)
	require.NoError(t, err)
	snap, err = Fold(event("IND1", "SUB2", -1, -2, 2), snap)
	require.NoError(t, err)

	group, _ := snap.Group("CLASSIC", "5m")
	ind, _ := group.Indicator("IND1")

	first, err := json.Marshal(snap)
	require.NoError(t, err)
	require.NoError(t, ind.Recompute())
	require.NoError(t, group.Recompute())
	require.NoError(t, snap.Recompute())
	second, err := json.Marshal(snap)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestSumInvariantHoldsAfterRandomFolds(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	candles := []string{"CLASSIC", "HEIKIN_ASHI"}
	intervals := []string{"1m", "5m", "1h"}
	indicators := []string{"RSI", "MACD", "VWAP", "EMA"}
	subs := []string{"CROSS", "LEVEL", "DIVERGENCE"}

	var snap *Snapshot
	for i := 0; i < 500; i++ {
		max := int64(rng.Intn(5) + 1)
		min := -int64(rng.Intn(5) + 1)
		value := min + rng.Int63n(max-min+1)
		ev := event(indicators[rng.Intn(len(indicators))], subs[rng.Intn(len(subs))], value, min, max)
		ev.CandleType = candles[rng.Intn(len(candles))]
		ev.Interval = intervals[rng.Intn(len(intervals))]
		ev.Score = ev.Score.Div(decimal.NewFromInt(3))

		next, err := Fold(ev, snap)
		require.NoError(t, err)
		snap = next
		assertSums(t, snap)
	}
	assert.LessOrEqual(t, snap.Leaves(), len(candles)*len(intervals)*len(indicators)*len(subs))
}

func assertSums(t *testing.T, snap *Snapshot) {
	t.Helper()
	hundred := decimal.NewFromInt(100)
	check := func(node Tally, parts []Tally) {
		t.Helper()
		total := sumTallies(parts)
		require.True(t, node.Score.Equal(total.Score), "score %s != %s", node.Score, total.Score)
		require.True(t, node.Min.Equal(total.Min))
		require.True(t, node.Max.Equal(total.Max))
		require.True(t, node.Percentage.Abs().LessThanOrEqual(hundred))
		require.Equal(t, score.ClassifyDirection(node.Percentage), node.Direction)
	}

	groups := make([]Tally, 0)
	for _, g := range snap.Groups {
		groups = append(groups, g.Tally)
		inds := make([]Tally, 0)
		for _, ind := range g.Indicators {
			inds = append(inds, ind.Tally)
			leaves := make([]Tally, 0)
			for _, sub := range ind.SubCategories {
				leaves = append(leaves, sub.Tally)
				require.True(t, sub.Percentage.Abs().LessThanOrEqual(hundred))
			}
			check(ind.Tally, leaves)
		}
		check(g.Tally, inds)
	}
	check(snap.Tally, groups)
}

func TestSortedIterationAndClone(t *testing.T) {
	snap, err := Fold(event("RSI", "LEVEL", 1, -1, 1), nil)
	require.NoError(t, err)
	ev := event("EMA", "CROSS", 1, -1, 1)
	ev.Interval = "1m"
	snap, err = Fold(ev, snap)
	require.NoError(t, err)

	groups := snap.SortedGroups()
	require.Len(t, groups, 2)
	assert.Equal(t, "1m", groups[0].Interval)
	assert.Equal(t, "5m", groups[1].Interval)

	clone := snap.Clone()
	leaf, _ := clone.Leaf("CLASSIC", "5m", "RSI", "LEVEL")
	leaf.LastMessage = "changed"
	original, _ := snap.Leaf("CLASSIC", "5m", "RSI", "LEVEL")
	assert.NotEqual(t, "changed", original.LastMessage)
}

func TestSnapshotJSONRoundTripKeepsTree(t *testing.T) {
	snap, err := Fold(event("IND1", "SUB1", 1, -1, 1), nil)
	require.NoError(t, err)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)

	var decoded Snapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	leaf, ok := decoded.Leaf("CLASSIC", "5m", "IND1", "SUB1")
	require.True(t, ok)
	assert.True(t, leaf.Max.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, score.StrongBull, decoded.Direction)
}

func TestTimeframeExposesGroupBias(t *testing.T) {
	snap, err := Fold(event("RSI", "LEVEL", -1, -1, 1), nil)
	require.NoError(t, err)

	tally, ok := snap.Timeframe("CLASSIC", "5m")
	require.True(t, ok)
	assert.Equal(t, score.StrongBear, tally.Direction)

	_, ok = snap.Timeframe("HEIKIN_ASHI", "5m")
	assert.False(t, ok)
}

func TestGroupKeysDoNotCollide(t *testing.T) {
	first := event("IND1", "SUB1", 1, -1, 1)
	first.CandleType, first.Interval = "A/B", "C"
	second := event("IND2", "SUB1", -1, -1, 1)
	second.CandleType, second.Interval = "A", "B/C"

	snap, err := Fold(first, nil)
	require.NoError(t, err)
	snap, err = Fold(second, snap)
	require.NoError(t, err)

	require.Len(t, snap.Groups, 2)
	g, ok := snap.Group("A", "B/C")
	require.True(t, ok)
	assert.Equal(t, "A", g.CandleType)
	assert.Equal(t, "B/C", g.Interval)
	_, ok = g.Indicator("IND1")
	assert.False(t, ok)

	g, ok = snap.Group("A/B", "C")
	require.True(t, ok)
	assert.Len(t, g.Indicators, 1)
	assert.True(t, snap.Score.IsZero())
}

func TestFoldRejectsKeySeparator(t *testing.T) {
	ev := event("IND1", "SUB1", 1, -1, 1)
	ev.Interval = "5m\x1f1h"
	_, err := Fold(ev, nil)
	assert.ErrorIs(t, err, ErrInvalidEvent)
}

func TestSnapshotJSONRekeysGroups(t *testing.T) {
	raw := `{"version":"v1","symbol":"NQ","groups":{"CLASSIC/5m":{"candle_type":"CLASSIC","interval":"5m",` +
		`"indicators":{"RSI":{"indicator":"RSI","sub_categories":{"LEVEL":{"sub_category":"LEVEL","score":"1","min":"-1","max":"1"}}}}}}}`

	var decoded Snapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &decoded))
	leaf, ok := decoded.Leaf("CLASSIC", "5m", "RSI", "LEVEL")
	require.True(t, ok)
	assert.True(t, leaf.Score.Equal(decimal.NewFromInt(1)))
	assert.Equal(t, "v1", decoded.Version)
}

func TestAppliedDetectsReflectedEvents(t *testing.T) {
	older := event("RSI", "LEVEL", 1, -1, 1)
	older.ID = 1
	newer := event("RSI", "LEVEL", -1, -1, 1)
	newer.ID = 2
	newer.EventTime = older.EventTime.Add(time.Minute)

	var none *Snapshot
	assert.False(t, none.Applied(older))

	snap, err := Fold(older, nil)
	require.NoError(t, err)
	assert.True(t, snap.Applied(older))
	assert.False(t, snap.Applied(newer))

	snap, err = Fold(newer, snap)
	require.NoError(t, err)
	assert.True(t, snap.Applied(older), "older event is superseded by the newer leaf")

	late := event("RSI", "LEVEL", 1, -1, 1)
	late.ID = 3
	late.EventTime = older.EventTime
	assert.False(t, snap.Applied(late), "a later-enqueued event still folds")

	other := event("MACD", "HIST", 1, -1, 1)
	other.ID = 1
	assert.False(t, snap.Applied(other))
}
