package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"text/tabwriter"
	"time"

	"auxite-wallet/internal/market"
	"auxite-wallet/internal/service"
)

// SimulateOptions configure an offline run of the random walk.
type SimulateOptions struct {
	Ticks int
	Seed  int64
}

// SimulateAlertOptions describe one synthetic move pushed through the alerter.
type SimulateAlertOptions struct {
	Symbol market.Symbol
	From   float64
	To     float64
}

// Simulate advances the random walk opts.Ticks times and prints the resulting cards.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.Ticks <= 0 {
		return errors.New("ticks must be greater than zero")
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	svc := service.New(a.newPriceStore(), service.Options{
		TickInterval: a.Config.Feed.TickInterval,
		Rand:         rand.New(rand.NewSource(seed)),
	}, a.Logger)

	at := time.Now().UTC()
	for i := 0; i < opts.Ticks; i++ {
		if err := svc.TickOnce(ctx, at); err != nil {
			return err
		}
		at = at.Add(a.Config.Feed.TickInterval)
	}

	snap := svc.Snapshot()
	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tName\tPrice\tChange\tChange%\tBid\tSamples")
	for _, row := range snap.Rows {
		card := market.NewCard(row, snap.History[row.Symbol], snap.Status[row.Symbol].Stale)
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\t%s\t%d\n",
			card.Symbol, card.Name, card.Price, card.Change, card.ChangePct, card.Bid, len(card.Spark))
	}
	return writer.Flush()
}

// SimulateAlert moves one symbol from opts.From to opts.To and runs the update through
// the configured alert channel.
func (a *App) SimulateAlert(ctx context.Context, opts SimulateAlertOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting is not enabled")
	}
	if !market.IsFinite(opts.From) || !market.IsFinite(opts.To) || opts.From <= 0 || opts.To <= 0 {
		return errors.New("from and to must be positive prices")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("no alert channel configured")
	}

	store := a.newPriceStore()
	store.Apply(opts.Symbol, opts.From, market.SourceSimulated)
	row, ok := store.Apply(opts.Symbol, opts.To, market.SourceSimulated)
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownSymbol, opts.Symbol)
	}

	_, pct := market.Change(row)
	a.Logger.Info().Str("symbol", row.Symbol.String()).Float64("change_pct", pct).Msg("simulating move alert")
	return a.newAlerter(notifier, nil).HandleUpdate(ctx, row)
}
