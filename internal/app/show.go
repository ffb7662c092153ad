package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"auxite-wallet/internal/market"
	"auxite-wallet/internal/storage"
)

// Show prints recent ticks, or recent alerts when opts.Alerts is set.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show ticks")
	}
	if closeStore != nil {
		defer closeStore()
	}

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, opts.Limit)
		if err != nil {
			return err
		}
		return a.printAlerts(alerts)
	}

	ticks, err := store.ListRecentTicks(ctx, opts.Symbol, opts.Limit)
	if err != nil {
		return err
	}
	return a.printTicks(ticks)
}

func (a *App) printTicks(ticks []storage.PriceTick) error {
	if len(ticks) == 0 {
		fmt.Fprintln(a.out(), "no ticks found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tPrice\tPrev\tBid\tSource")
	for _, tick := range ticks {
		bid := "-"
		if tick.Bid != nil {
			bid = tick.Bid.StringFixed(market.PricePlaces)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			tick.ObservedAt.UTC().Format(time.RFC3339),
			tick.Symbol,
			tick.Price.StringFixed(market.PricePlaces),
			tick.PrevPrice.StringFixed(market.PricePlaces),
			bid,
			tick.Source,
		)
	}
	return writer.Flush()
}

func (a *App) printAlerts(alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(a.out(), "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tSymbol\tChange%\tThreshold%\tDirection\tChannels")
	for _, rec := range alerts {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\n",
			rec.ObservedAt.UTC().Format(time.RFC3339),
			rec.Symbol,
			rec.ChangePct.StringFixed(2),
			rec.ThresholdPct.StringFixed(2),
			rec.Direction,
			sanitizeInline(strings.Join(rec.Channels, ",")),
		)
	}
	return writer.Flush()
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
