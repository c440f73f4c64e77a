package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/catalog"
	"bias-aggregator/internal/logging"
	"bias-aggregator/internal/storage"
)

// ErrNotScored indicates an alert matched a rule that opts out of scoring.
var ErrNotScored = errors.New("service: alert matched a non-scoring rule")

// Alert is a raw indicator alert as received from the charting platform.
type Alert struct {
	Symbol        string
	CandleType    string
	Interval      string
	IndicatorName string
	Message       string
	IsStrategy    bool
	StrategyName  string
	EventTime     time.Time
}

// Ingestor scores raw alerts against the catalog and enqueues them.
type Ingestor struct {
	catalog *catalog.Catalog
	events  storage.EventStore
	logger  zerolog.Logger
	now     func() time.Time
}

// NewIngestor wires an ingestor to a loaded catalog and the event queue.
func NewIngestor(cat *catalog.Catalog, events storage.EventStore, logger zerolog.Logger) *Ingestor {
	return &Ingestor{
		catalog: cat,
		events:  events,
		logger:  logging.Component(logger, "ingest"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Score resolves alert to a scored event without enqueueing it.
func (i *Ingestor) Score(alert Alert) (aggregator.ScoredEvent, error) {
	if strings.TrimSpace(alert.Symbol) == "" {
		return aggregator.ScoredEvent{}, fmt.Errorf("%w: symbol is required", aggregator.ErrInvalidEvent)
	}

	matched, err := i.catalog.Match(alert.IndicatorName, alert.Message)
	if err != nil {
		return aggregator.ScoredEvent{}, err
	}
	if matched.SkipScoring {
		return aggregator.ScoredEvent{}, fmt.Errorf("%w: %s/%s", ErrNotScored, matched.IndicatorName, matched.SubCategory)
	}

	eventTime := alert.EventTime
	if eventTime.IsZero() {
		eventTime = i.now()
	}

	ev := aggregator.ScoredEvent{
		Symbol:                 strings.TrimSpace(alert.Symbol),
		CandleType:             strings.TrimSpace(alert.CandleType),
		Interval:               strings.TrimSpace(alert.Interval),
		IndicatorName:          matched.IndicatorName,
		IndicatorDisplayName:   matched.IndicatorDisplayName,
		SubCategory:            matched.SubCategory,
		SubCategoryDisplayName: matched.SubCategoryDisplayName,
		RawMessage:             alert.Message,
		Score:                  matched.Score,
		ScoreMin:               matched.Range.Min,
		ScoreMax:               matched.Range.Max,
		IsStrategy:             alert.IsStrategy,
		StrategyName:           alert.StrategyName,
		EventTime:              eventTime.UTC(),
		Status:                 aggregator.StatusPending,
	}
	if err := ev.Validate(); err != nil {
		return aggregator.ScoredEvent{}, err
	}
	return ev, nil
}

// Ingest scores alert and enqueues it PENDING.
func (i *Ingestor) Ingest(ctx context.Context, alert Alert) (aggregator.ScoredEvent, error) {
	ev, err := i.Score(alert)
	if err != nil {
		return aggregator.ScoredEvent{}, err
	}

	stored, err := i.events.InsertEvent(ctx, ev)
	if err != nil {
		return aggregator.ScoredEvent{}, fmt.Errorf("enqueue event: %w", err)
	}

	i.logger.Debug().
		Int64("event_id", stored.ID).
		Str("symbol", stored.Symbol).
		Str("indicator", stored.IndicatorName).
		Str("sub_category", stored.SubCategory).
		Str("score", stored.Score.String()).
		Msg("alert enqueued")
	return stored, nil
}
