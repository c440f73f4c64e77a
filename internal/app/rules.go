package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"bias-aggregator/internal/catalog"
	"bias-aggregator/internal/service"
)

// Ingest scores one alert and, unless dry-run, enqueues it.
func (a *App) Ingest(ctx context.Context, opts IngestOptions) error {
	cat, err := a.loadCatalog()
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}

	if opts.DryRun {
		ing := service.NewIngestor(cat, nil, a.Logger)
		ev, err := ing.Score(opts.Alert)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.Out, "%s/%s score=%s range=[%s, %s] (dry run, not enqueued)\n",
			ev.IndicatorName, ev.SubCategory, ev.Score, ev.ScoreMin, ev.ScoreMax)
		return nil
	}

	b, err := a.openBackend(ctx, true, "ingest")
	if err != nil {
		return err
	}
	defer b.close()

	ev, err := service.NewIngestor(cat, b.events, a.Logger).Ingest(ctx, opts.Alert)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.Out, "enqueued event %d: %s/%s score=%s range=[%s, %s]\n",
		ev.ID, ev.IndicatorName, ev.SubCategory, ev.Score, ev.ScoreMin, ev.ScoreMax)
	return nil
}

// Rules validates the catalog and prints its computed ranges.
func (a *App) Rules(ctx context.Context, verbose bool) error {
	cat, err := a.loadCatalog()
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}
	renderRanges(a.Out, cat)
	if verbose {
		fmt.Fprintln(a.Out)
		renderRules(a.Out, cat)
	}
	return nil
}

func renderRanges(out io.Writer, cat *catalog.Catalog) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Indicator\tSub-category\tMin\tMax")
	for _, entry := range cat.Ranges() {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", entry.Indicator, entry.SubCategory, entry.Min, entry.Max)
	}
	writer.Flush()
	fmt.Fprintf(out, "%d rules, %d ranges\n", cat.Len(), len(cat.Ranges()))
}

func renderRules(out io.Writer, cat *catalog.Catalog) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Indicator\tSub-category\tMatch\tPattern\tScore\tIntervals\tFlags")
	for _, rule := range cat.Rules() {
		score := rule.Score.String()
		var flags []string
		if rule.SkipScoring {
			score = "-"
			flags = append(flags, "skip")
		}
		if rule.Alertable {
			flags = append(flags, "alertable")
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			rule.IndicatorName,
			rule.SubCategory,
			rule.MatchType,
			sanitizeInline(rule.AlertPattern),
			score,
			strings.Join(rule.Intervals, ","),
			strings.Join(flags, ","),
		)
	}
	writer.Flush()
}
