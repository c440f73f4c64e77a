package app

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/storage"
)

// Show prints the latest snapshot tree of a symbol, or the latest pointers
// of every symbol when none is given.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	b, err := a.openBackend(ctx, true, "show snapshots")
	if err != nil {
		return err
	}
	defer b.close()

	if opts.Stats {
		counts, err := b.events.CountEventsByStatus(ctx)
		if err != nil {
			return err
		}
		renderStats(a.Out, counts)
		fmt.Fprintln(a.Out)
	}

	if opts.Symbol == "" {
		pointers, err := b.snapshots.ListLatest(ctx)
		if err != nil {
			return err
		}
		renderPointers(a.Out, pointers)
		return nil
	}

	snap, err := b.snapshots.GetLatest(ctx, opts.Symbol)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Fprintf(a.Out, "no snapshot for %s\n", opts.Symbol)
		return nil
	}
	renderTree(a.Out, snap)
	return nil
}

func renderStats(out io.Writer, counts []storage.StatusCount) {
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Status\tEvents")
	for _, c := range counts {
		fmt.Fprintf(writer, "%s\t%d\n", c.Status, c.Count)
	}
	writer.Flush()
}

func renderPointers(out io.Writer, pointers []storage.LatestPointer) {
	if len(pointers) == 0 {
		fmt.Fprintln(out, "no snapshots found")
		return
	}
	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tVersion\tUpdated (UTC)")
	for _, p := range pointers {
		fmt.Fprintf(writer, "%s\t%s\t%s\n", p.Symbol, p.Version, p.LastUpdated.UTC().Format(time.RFC3339))
	}
	writer.Flush()
}

// renderTree prints one row per node, indented by depth.
func renderTree(out io.Writer, snap *aggregator.Snapshot) {
	fmt.Fprintf(out, "%s version %s updated %s\n", snap.Symbol, snap.Version, snap.UpdatedAt.UTC().Format(time.RFC3339))

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Node\tScore\tRange\tBias%\tDirection\tLast message")
	row := func(depth int, name string, t aggregator.Tally, msg string) {
		fmt.Fprintf(writer, "%s%s\t%s\t[%s, %s]\t%s\t%s\t%s\n",
			strings.Repeat("  ", depth), name,
			t.Score, t.Min, t.Max,
			formatDecimal(t.Percentage, 2),
			t.Direction,
			sanitizeInline(msg),
		)
	}

	row(0, snap.Symbol, snap.Tally, "")
	for _, g := range snap.SortedGroups() {
		row(1, aggregator.GroupLabel(g.CandleType, g.Interval), g.Tally, "")
		for _, ind := range g.SortedIndicators() {
			row(2, label(ind.Indicator, ind.DisplayName), ind.Tally, "")
			for _, sub := range ind.SortedSubCategories() {
				row(3, label(sub.SubCategory, sub.DisplayName), sub.Tally, sub.LastMessage)
			}
		}
	}
	writer.Flush()
}

func label(name, display string) string {
	if display == "" || display == name {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, display)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}

func formatDecimal(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
