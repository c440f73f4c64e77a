package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/alerting"
	"bias-aggregator/internal/config"
	"bias-aggregator/internal/logging"
	"bias-aggregator/internal/publish"
	"bias-aggregator/internal/scheduler"
	"bias-aggregator/internal/score"
	"bias-aggregator/internal/storage"
)

// State is the pass state of an Aggregator.
type State int32

const (
	StateIdle State = iota
	StateRunning
)

func (s State) String() string {
	if s == StateRunning {
		return "RUNNING"
	}
	return "IDLE"
}

// Recorder receives pass and event observations.
type Recorder interface {
	ObservePass(outcome string, seconds float64)
	ObserveEvent(status string)
	ObserveBias(symbol string, percentage float64)
}

type noopRecorder struct{}

func (noopRecorder) ObservePass(string, float64) {}
func (noopRecorder) ObserveEvent(string)         {}
func (noopRecorder) ObserveBias(string, float64) {}

// Pass outcomes reported to the Recorder.
const (
	OutcomeCompleted   = "completed"
	OutcomeSkipped     = "skipped"
	OutcomeInterrupted = "interrupted"
	OutcomeError       = "error"
)

// Options bound a single pass.
type Options struct {
	Lookback    time.Duration
	BatchSize   int
	PassTimeout time.Duration
}

// OptionsFromConfig reads pass bounds from the aggregation section.
func OptionsFromConfig(cfg config.AggregationConfig) Options {
	return Options{Lookback: cfg.Lookback, BatchSize: cfg.BatchSize, PassTimeout: cfg.PassTimeout}
}

// Deps are the collaborators of an Aggregator. Events and Snapshots are
// required; the rest are optional.
type Deps struct {
	Events    storage.EventStore
	Snapshots storage.SnapshotStore
	Locker    PassLocker
	Scheduler *scheduler.Scheduler
	Publisher publish.Publisher
	Notifier  alerting.Notifier
	Policy    alerting.Policy
	Recorder  Recorder
}

// PassResult summarises one pass.
type PassResult struct {
	Skipped   bool
	Fetched   int
	Processed int
	Failed    int
	// Remaining counts fetched events left PENDING because the pass deadline hit.
	Remaining int
	Duration  time.Duration
}

// Aggregator drains PENDING scored events into snapshot versions. At most
// one pass runs at a time per PassLocker.
type Aggregator struct {
	opts   Options
	deps   Deps
	state  atomic.Int32
	logger zerolog.Logger
	now    func() time.Time
}

// NewAggregator constructs the pass driver.
func NewAggregator(opts Options, deps Deps, logger zerolog.Logger) *Aggregator {
	if deps.Locker == nil {
		deps.Locker = NewProcessLocker()
	}
	if deps.Recorder == nil {
		deps.Recorder = noopRecorder{}
	}
	return &Aggregator{
		opts:   opts,
		deps:   deps,
		logger: logging.Component(logger, "aggregator"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// State reports whether a pass is running.
func (a *Aggregator) State() State {
	return State(a.state.Load())
}

// Run drives passes from the scheduler until ctx is cancelled.
func (a *Aggregator) Run(ctx context.Context) error {
	if a.deps.Scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return a.deps.Scheduler.Run(ctx, func(ctx context.Context, at time.Time) error {
		_, err := a.RunPass(ctx, at)
		return err
	})
}

// RunPass folds the PENDING events of the lookback window ending at now. A
// pass that cannot take the lock returns Skipped without touching the queue.
func (a *Aggregator) RunPass(ctx context.Context, now time.Time) (PassResult, error) {
	started := a.now()

	unlock, acquired, err := a.deps.Locker.TryLock(ctx)
	if err != nil {
		a.deps.Recorder.ObservePass(OutcomeError, 0)
		return PassResult{}, fmt.Errorf("acquire pass lock: %w", err)
	}
	if !acquired {
		a.logger.Debug().Time("tick", now).Msg("skip pass because another pass holds the lock")
		a.deps.Recorder.ObservePass(OutcomeSkipped, 0)
		return PassResult{Skipped: true}, nil
	}
	defer unlock()

	a.state.Store(int32(StateRunning))
	defer a.state.Store(int32(StateIdle))

	passCtx := ctx
	if a.opts.PassTimeout > 0 {
		var cancel context.CancelFunc
		passCtx, cancel = context.WithTimeout(ctx, a.opts.PassTimeout)
		defer cancel()
	}

	result, err := a.drain(passCtx, now)
	result.Duration = a.now().Sub(started)

	outcome := OutcomeCompleted
	switch {
	case err != nil:
		outcome = OutcomeError
	case result.Remaining > 0:
		outcome = OutcomeInterrupted
	}
	a.deps.Recorder.ObservePass(outcome, result.Duration.Seconds())

	if err != nil {
		return result, err
	}
	if result.Fetched > 0 {
		a.logger.Info().
			Int("fetched", result.Fetched).
			Int("processed", result.Processed).
			Int("failed", result.Failed).
			Int("remaining", result.Remaining).
			Dur("duration", result.Duration).
			Msg("aggregation pass finished")
	}
	return result, nil
}

func (a *Aggregator) drain(ctx context.Context, now time.Time) (PassResult, error) {
	var result PassResult

	events, err := a.deps.Events.ListPendingEvents(ctx, now.Add(-a.opts.Lookback), a.opts.BatchSize)
	if err != nil {
		return result, fmt.Errorf("list pending events: %w", err)
	}
	result.Fetched = len(events)

	for i, ev := range events {
		if ctx.Err() != nil {
			result.Remaining = len(events) - i
			a.logger.Warn().Int("remaining", result.Remaining).Msg("pass deadline reached, leaving events pending")
			break
		}

		if err := a.processEvent(ctx, ev); err != nil {
			if ctx.Err() != nil && isContextErr(err) {
				result.Remaining = len(events) - i
				a.logger.Warn().Int("remaining", result.Remaining).Msg("pass deadline reached, leaving events pending")
				break
			}
			result.Failed++
			a.fail(ctx, ev, err)
			continue
		}
		result.Processed++
	}
	return result, nil
}

func (a *Aggregator) processEvent(ctx context.Context, ev aggregator.ScoredEvent) error {
	current, err := a.deps.Snapshots.GetLatest(ctx, ev.Symbol)
	if err != nil {
		return fmt.Errorf("load latest snapshot: %w", err)
	}

	// A pass that advanced the snapshot but failed to mark the event leaves it
	// pending; refolding it then could overwrite a newer leaf.
	if current.Applied(ev) {
		if err := a.deps.Events.MarkEventProcessed(ctx, ev.ID); err != nil {
			return fmt.Errorf("mark applied event processed: %w", err)
		}
		a.deps.Recorder.ObserveEvent(string(aggregator.StatusProcessed))
		a.logger.Info().
			Int64("event_id", ev.ID).
			Str("symbol", ev.Symbol).
			Str("version", current.Version).
			Msg("event already reflected in latest snapshot, marked processed")
		return nil
	}

	next, err := aggregator.Fold(ev, current)
	if err != nil {
		return fmt.Errorf("fold event: %w", err)
	}

	version, err := a.deps.Snapshots.SaveSnapshot(ctx, next)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if err := a.deps.Snapshots.AdvanceLatest(ctx, next.Symbol, version); err != nil {
		return fmt.Errorf("advance latest: %w", err)
	}

	// The snapshot is already live; a later pass finds the event applied
	// and only marks it.
	if err := a.deps.Events.MarkEventProcessed(ctx, ev.ID); err != nil {
		a.logger.Error().Err(err).Int64("event_id", ev.ID).Str("symbol", ev.Symbol).Msg("failed to mark event processed")
	}
	a.deps.Recorder.ObserveEvent(string(aggregator.StatusProcessed))

	a.logger.Debug().
		Int64("event_id", ev.ID).
		Str("symbol", next.Symbol).
		Str("version", version).
		Str("percentage", next.Percentage.StringFixed(2)).
		Str("direction", string(next.Direction)).
		Msg("snapshot advanced")

	a.downstream(ctx, current, next)
	return nil
}

func (a *Aggregator) fail(ctx context.Context, ev aggregator.ScoredEvent, cause error) {
	a.logger.Error().Err(cause).Int64("event_id", ev.ID).Str("symbol", ev.Symbol).Msg("event failed")
	a.deps.Recorder.ObserveEvent(string(aggregator.StatusFailed))
	if err := a.deps.Events.MarkEventFailed(ctx, ev.ID, cause.Error()); err != nil {
		a.logger.Error().Err(err).Int64("event_id", ev.ID).Msg("failed to mark event failed")
	}
}

// downstream failures are logged and never fail the event.
func (a *Aggregator) downstream(ctx context.Context, previous, next *aggregator.Snapshot) {
	pct, _ := next.Percentage.Float64()
	a.deps.Recorder.ObserveBias(next.Symbol, pct)

	if a.deps.Publisher != nil {
		if err := a.deps.Publisher.Publish(ctx, next); err != nil {
			a.logger.Warn().Err(err).Str("symbol", next.Symbol).Str("version", next.Version).Msg("failed to publish snapshot")
		}
	}

	if a.deps.Notifier == nil {
		return
	}
	var prevDir score.Direction
	if previous != nil {
		prevDir = previous.Direction
	}
	if !a.deps.Policy.Triggered(prevDir, next.Direction) {
		return
	}
	note := alerting.Notification{
		Symbol:     next.Symbol,
		Version:    next.Version,
		Previous:   prevDir,
		Direction:  next.Direction,
		Percentage: next.Percentage,
		Score:      next.Score,
		Min:        next.Min,
		Max:        next.Max,
		At:         next.UpdatedAt,
	}
	if err := a.deps.Notifier.Notify(ctx, note); err != nil {
		a.logger.Error().Err(err).Str("symbol", next.Symbol).Msg("failed to dispatch direction change")
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
