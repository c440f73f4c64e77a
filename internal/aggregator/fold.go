package aggregator

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	nowFunc     = func() time.Time { return time.Now().UTC() }
	versionFunc = newVersion
)

func newVersion() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Fold applies event to current and returns a new snapshot version. current
// may be nil for the first event of a symbol and is never modified. The
// affected leaf is overwritten and every ancestor on its path is recomputed
// from its children.
func Fold(event ScoredEvent, current *Snapshot) (*Snapshot, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}
	symbol, candle, interval, indicator, sub := event.key()

	var snap *Snapshot
	if current == nil {
		snap = NewSnapshot(symbol)
	} else {
		if current.Symbol != symbol {
			return nil, fmt.Errorf("%w: event for %s folded into snapshot of %s", ErrInvalidEvent, symbol, current.Symbol)
		}
		snap = current.Clone()
	}

	groupKey := GroupKey(candle, interval)
	group, ok := snap.Groups[groupKey]
	if !ok {
		group = &CandleIntervalGroup{CandleType: candle, Interval: interval, Indicators: make(map[string]*IndicatorScore)}
		snap.Groups[groupKey] = group
	}

	ind, ok := group.Indicators[indicator]
	if !ok {
		ind = &IndicatorScore{Indicator: indicator, SubCategories: make(map[string]*SubCategoryScore)}
		group.Indicators[indicator] = ind
	}
	if event.IndicatorDisplayName != "" {
		ind.DisplayName = event.IndicatorDisplayName
	}

	leaf, ok := ind.SubCategories[sub]
	if !ok {
		leaf = &SubCategoryScore{SubCategory: sub}
		ind.SubCategories[sub] = leaf
	}
	if event.SubCategoryDisplayName != "" {
		leaf.DisplayName = event.SubCategoryDisplayName
	}
	leaf.Score = event.Score
	leaf.Min = event.ScoreMin
	leaf.Max = event.ScoreMax
	leaf.LastMessage = event.RawMessage
	leaf.IsStrategy = event.IsStrategy
	leaf.StrategyName = event.StrategyName
	leaf.EventID = event.ID
	leaf.EventTime = event.EventTime
	if err := leaf.settle(); err != nil {
		return nil, fmt.Errorf("sub-category %s/%s: %w", indicator, sub, err)
	}

	if err := ind.Recompute(); err != nil {
		return nil, fmt.Errorf("indicator %s: %w", indicator, err)
	}
	if err := group.Recompute(); err != nil {
		return nil, fmt.Errorf("group %s: %w", GroupLabel(candle, interval), err)
	}
	if err := snap.Recompute(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, err)
	}

	snap.Version = versionFunc()
	snap.UpdatedAt = nowFunc()
	snap.LastEventID = event.ID
	snap.LastEventTime = event.EventTime
	return snap, nil
}
