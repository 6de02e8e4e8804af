package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"
)

// Show prints recently fired alerts from the audit table.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alert history")
	}
	if closeStore != nil {
		defer closeStore()
	}

	events, err := store.ListRecentAlertEvents(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Fired (UTC)\tSubscriber\tKind\tAsset\tObserved\tThreshold")

	for _, event := range events {
		asset := event.Asset
		if asset == "" {
			asset = "*"
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			event.FiredAt.UTC().Format(time.RFC3339),
			event.SubscriberID,
			event.Kind,
			asset,
			event.ObservedValue.StringFixed(6),
			event.Threshold.StringFixed(6),
		)
	}

	writer.Flush()
	return nil
}
