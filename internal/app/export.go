package app

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"bias-aggregator/internal/storage"
)

// Export renders the snapshot history of a symbol as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}
	if opts.Symbol == "" {
		return errors.New("--symbol is required")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	b, err := a.openBackend(ctx, true, "export")
	if err != nil {
		return err
	}
	defer b.close()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-a.Config.Aggregation.Lookback)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	history, err := b.snapshots.ListSnapshotHistory(ctx, opts.Symbol, from, to, 0)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		a.Logger.Info().Str("symbol", opts.Symbol).Msg("no snapshots found for export window")
		return nil
	}

	downsampled := downsampleHistory(history, opts.MaxPoints)
	a.Logger.Info().Int("total", len(history)).Int("exported", len(downsampled)).Msg("exporting snapshot history")

	if opts.CSVPath != "" {
		if err := writeHistoryCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeHistoryPNG(opts.PNGPath, opts.Symbol, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleHistory(history []storage.SnapshotSummary, max int) []storage.SnapshotSummary {
	if max <= 0 || len(history) <= max {
		return history
	}
	if max == 1 {
		return history[len(history)-1:]
	}

	result := make([]storage.SnapshotSummary, 0, max)
	step := float64(len(history)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(history) {
			idx = len(history) - 1
		}
		result = append(result, history[idx])
	}
	return result
}

func writeHistoryCSV(path string, history []storage.SnapshotSummary) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"created_at", "symbol", "version", "last_event_id", "score", "score_min", "score_max", "percentage", "direction"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, s := range history {
		record := []string{
			s.CreatedAt.UTC().Format(time.RFC3339Nano),
			s.Symbol,
			s.Version,
			strconv.FormatInt(s.LastEventID, 10),
			s.Score.String(),
			s.Min.String(),
			s.Max.String(),
			formatDecimal(s.Percentage, 2),
			string(s.Direction),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeHistoryPNG(path, symbol string, history []storage.SnapshotSummary) error {
	if len(history) < 2 {
		return fmt.Errorf("need at least 2 snapshots to chart, have %d", len(history))
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(history))
	pct := make([]float64, len(history))
	score := make([]float64, len(history))

	for i, s := range history {
		x[i] = s.CreatedAt
		pct[i] = s.Percentage.InexactFloat64()
		score[i] = s.Score.InexactFloat64()
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Title:  symbol + " composite bias",
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Bias (%)",
			ValueFormatter: pctFormatter,
			Range:          &chart.ContinuousRange{Min: -100, Max: 100},
		},
		YAxisSecondary: chart.YAxis{
			Name:  "Score",
			Range: paddedRange(score),
		},
		Series: []chart.Series{
			chart.TimeSeries{
				Name:    "Bias %",
				XValues: x,
				YValues: pct,
			},
			chart.TimeSeries{
				Name:    "Score",
				XValues: x,
				YValues: score,
				YAxis:   chart.YAxisSecondary,
			},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

// paddedRange spans values and never collapses to a zero-width range.
func paddedRange(values []float64) *chart.ContinuousRange {
	lo, hi := values[0], values[0]
	for _, v := range values[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo == hi {
		lo, hi = lo-1, hi+1
	}
	return &chart.ContinuousRange{Min: lo, Max: hi}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
