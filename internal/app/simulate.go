package app

import (
	"context"
	"errors"
	"fmt"

	"bias-aggregator/internal/aggregator"
	"bias-aggregator/internal/alerting"
	"bias-aggregator/internal/service"
)

// SimulateAlert folds one alert into a throwaway copy of the latest snapshot
// and prints the result. Nothing is persisted. With notify set, the resulting
// direction is pushed through the configured notifier.
func (a *App) SimulateAlert(ctx context.Context, alert service.Alert, notify bool) error {
	var notifier alerting.Notifier
	if notify {
		if !a.Config.Alerting.Enabled {
			return errors.New("alerting is not enabled")
		}
		notifier = a.newNotifier()
		if notifier == nil {
			return errors.New("no notification channel configured")
		}
	}

	cat, err := a.loadCatalog()
	if err != nil {
		return fmt.Errorf("load rule catalog: %w", err)
	}
	ev, err := service.NewIngestor(cat, nil, a.Logger).Score(alert)
	if err != nil {
		return err
	}

	var current *aggregator.Snapshot
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store != nil {
		defer closeStore()
		if current, err = store.GetLatest(ctx, ev.Symbol); err != nil {
			return err
		}
	}

	next, err := aggregator.Fold(ev, current)
	if err != nil {
		return err
	}
	renderTree(a.Out, next)

	if notifier == nil {
		return nil
	}
	note := alerting.Notification{
		Symbol:     next.Symbol,
		Version:    next.Version,
		Direction:  next.Direction,
		Percentage: next.Percentage,
		Score:      next.Score,
		Min:        next.Min,
		Max:        next.Max,
		At:         next.UpdatedAt,
	}
	if current != nil {
		note.Previous = current.Direction
	}
	return notifier.Notify(ctx, note)
}
