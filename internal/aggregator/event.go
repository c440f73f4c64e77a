package aggregator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidEvent indicates an event that cannot be folded into a snapshot.
var ErrInvalidEvent = errors.New("aggregator: invalid event")

// ProcessingStatus tracks an event through the aggregation queue.
type ProcessingStatus string

const (
	StatusPending   ProcessingStatus = "PENDING"
	StatusProcessed ProcessingStatus = "PROCESSED"
	StatusFailed    ProcessingStatus = "FAILED"
)

// ScoredEvent is one alert resolved against the rule catalog.
type ScoredEvent struct {
	ID                     int64
	Symbol                 string
	CandleType             string
	Interval               string
	IndicatorName          string
	IndicatorDisplayName   string
	SubCategory            string
	SubCategoryDisplayName string
	RawMessage             string
	Score                  decimal.Decimal
	ScoreMin               decimal.Decimal
	ScoreMax               decimal.Decimal
	IsStrategy             bool
	StrategyName           string
	EventTime              time.Time
	Status                 ProcessingStatus
	Error                  string
	CreatedAt              time.Time
}

// Validate checks the key fields and the score bounds of the event.
func (e ScoredEvent) Validate() error {
	switch {
	case strings.TrimSpace(e.Symbol) == "":
		return fmt.Errorf("%w: symbol is required", ErrInvalidEvent)
	case strings.TrimSpace(e.IndicatorName) == "":
		return fmt.Errorf("%w: indicator is required", ErrInvalidEvent)
	case strings.TrimSpace(e.SubCategory) == "":
		return fmt.Errorf("%w: sub-category is required", ErrInvalidEvent)
	case strings.Contains(e.CandleType, groupKeySep) || strings.Contains(e.Interval, groupKeySep):
		return fmt.Errorf("%w: candle type or interval contains a control separator", ErrInvalidEvent)
	}
	if e.ScoreMin.IsPositive() || e.ScoreMax.IsNegative() {
		return fmt.Errorf("%w: range [%s, %s] does not straddle zero", ErrInvalidEvent, e.ScoreMin, e.ScoreMax)
	}
	if e.Score.LessThan(e.ScoreMin) || e.Score.GreaterThan(e.ScoreMax) {
		return fmt.Errorf("%w: score %s outside [%s, %s]", ErrInvalidEvent, e.Score, e.ScoreMin, e.ScoreMax)
	}
	return nil
}

func (e ScoredEvent) key() (symbol, candle, interval, indicator, sub string) {
	return strings.TrimSpace(e.Symbol),
		strings.TrimSpace(e.CandleType),
		strings.TrimSpace(e.Interval),
		strings.TrimSpace(e.IndicatorName),
		strings.TrimSpace(e.SubCategory)
}
