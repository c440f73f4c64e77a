package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"bias-aggregator/internal/catalog"
	"bias-aggregator/internal/service"
)

// alert file columns
const (
	colSymbol = iota
	colCandleType
	colInterval
	colIndicator
	colMessage
	colEventTime
	colStrategy
	minAlertColumns = colEventTime + 1
)

// Backfill replays a file of historical alerts: each alert inside the window
// is scored and enqueued, then passes run until the queue is drained.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	from, to := opts.From.UTC(), opts.To.UTC()
	if !from.Before(to) {
		return errors.New("backfill window is empty, check --from/--to")
	}

	alerts, err := readAlertFile(opts.Path)
	if err != nil {
		return err
	}

	cat, err := a.loadCatalog()
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}

	var b *backend
	if opts.DryRun {
		a.Logger.Warn().Msg("backfill dry-run: nothing is written")
	} else {
		if b, err = a.openBackend(ctx, true, "backfill"); err != nil {
			return err
		}
		defer b.close()
	}

	var ing *service.Ingestor
	if b != nil {
		ing = service.NewIngestor(cat, b.events, a.Logger)
	} else {
		ing = service.NewIngestor(cat, nil, a.Logger)
	}

	var enqueued, unmatched, unscored, outside int
	for _, alert := range alerts {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if alert.EventTime.Before(from) || !alert.EventTime.Before(to) {
			outside++
			continue
		}

		if opts.DryRun {
			_, err = ing.Score(alert)
		} else {
			_, err = ing.Ingest(ctx, alert)
		}
		switch {
		case err == nil:
			enqueued++
		case errors.Is(err, catalog.ErrNoMatchingRule):
			unmatched++
			a.Logger.Debug().Str("indicator", alert.IndicatorName).Str("message", alert.Message).Msg("no rule matches alert")
		case errors.Is(err, service.ErrNotScored):
			unscored++
		default:
			return fmt.Errorf("ingest alert at %s: %w", alert.EventTime.Format(time.RFC3339), err)
		}
	}

	fmt.Fprintf(a.Out, "alerts=%d scored=%d unmatched=%d not_scored=%d outside_window=%d\n",
		len(alerts), enqueued, unmatched, unscored, outside)
	if opts.DryRun || enqueued == 0 {
		return nil
	}

	return a.drainBackfill(ctx, b, from, enqueued)
}

func (a *App) drainBackfill(ctx context.Context, b *backend, from time.Time, enqueued int) error {
	opts := service.OptionsFromConfig(a.Config.Aggregation)
	// widen the window so the replayed events are eligible
	opts.Lookback = time.Since(from) + time.Hour
	agg := a.newAggregator(b, opts, service.Deps{})

	var processed, failed int
	maxPasses := enqueued/opts.BatchSize + 2
	for pass := 0; pass < maxPasses; pass++ {
		result, err := agg.RunPass(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if result.Skipped {
			return errors.New("another pass holds the lock; drain the queue with aggregate")
		}
		processed += result.Processed
		failed += result.Failed
		if result.Processed+result.Failed == 0 {
			break
		}
	}

	a.Logger.Info().Int("processed", processed).Int("failed", failed).Msg("backfill finished")
	fmt.Fprintf(a.Out, "processed=%d failed=%d\n", processed, failed)
	if failed > 0 {
		return errors.New("some backfilled events failed, check the logs")
	}
	return nil
}

func readAlertFile(path string) ([]service.Alert, error) {
	if path == "" {
		return nil, errors.New("--file is required")
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open alert file: %w", err)
	}
	defer f.Close()
	return readAlerts(f)
}

// readAlerts parses symbol,candle_type,interval,indicator,message,event_time[,strategy]
// rows. A leading header row is skipped.
func readAlerts(r io.Reader) ([]service.Alert, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var alerts []service.Alert
	for line := 1; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("alert file line %d: %w", line, err)
		}
		if line == 1 && strings.EqualFold(strings.TrimSpace(record[0]), "symbol") {
			continue
		}
		if len(record) < minAlertColumns {
			return nil, fmt.Errorf("alert file line %d: want at least %d columns, got %d", line, minAlertColumns, len(record))
		}

		at, err := parseEventTime(record[colEventTime])
		if err != nil {
			return nil, fmt.Errorf("alert file line %d: %w", line, err)
		}
		alert := service.Alert{
			Symbol:        record[colSymbol],
			CandleType:    record[colCandleType],
			Interval:      record[colInterval],
			IndicatorName: record[colIndicator],
			Message:       record[colMessage],
			EventTime:     at,
		}
		if len(record) > colStrategy && strings.TrimSpace(record[colStrategy]) != "" {
			alert.IsStrategy = true
			alert.StrategyName = strings.TrimSpace(record[colStrategy])
		}
		alerts = append(alerts, alert)
	}
	return alerts, nil
}

// parseEventTime accepts RFC3339 or unix milliseconds.
func parseEventTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid event time %q", raw)
	}
	return at.UTC(), nil
}
