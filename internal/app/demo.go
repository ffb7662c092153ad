package app

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"auxite-wallet/internal/allocation"
	"auxite-wallet/internal/market"
	"auxite-wallet/internal/oracle"
	"auxite-wallet/internal/trade"
)

// EstimateOptions describe a trade panel entry.
type EstimateOptions struct {
	Symbol   market.Symbol
	Side     trade.Side
	Quantity string
	// Price overrides the seeded price when set.
	Price   *float64
	Confirm bool
}

// Estimate prints the quote for opts against the seeded (or overridden) price. With
// Confirm set it also attempts the demo confirmation, which always fails.
func (a *App) Estimate(ctx context.Context, opts EstimateOptions) error {
	store := a.newPriceStore()
	if opts.Price != nil {
		if _, ok := store.Apply(opts.Symbol, *opts.Price, market.SourceSimulated); !ok {
			return fmt.Errorf("invalid price %v for %s", *opts.Price, opts.Symbol)
		}
	}
	row, ok := store.Row(opts.Symbol)
	if !ok {
		return fmt.Errorf("%w: %s", market.ErrUnknownSymbol, opts.Symbol)
	}

	q := trade.NewQuote(row, opts.Side, opts.Quantity)
	unit := "-"
	if q.UnitPrice != nil {
		unit = fmt.Sprintf("%.3f", *q.UnitPrice)
	}
	fmt.Fprintf(a.out(), "%s %s %s g @ %s = %s USDT\n", q.Side, q.Symbol, orDash(q.Quantity), unit, q.Display)

	if !opts.Confirm {
		return nil
	}
	return trade.Confirm(q)
}

// AllocationCheck prints the allocation answer for addr.
func (a *App) AllocationCheck(ctx context.Context, addr string) error {
	res, err := allocation.NewChecker(a.Logger).Check(addr)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out(), res.Message)
	return nil
}

// Balances prints the configured token balances of holder.
func (a *App) Balances(ctx context.Context, holder string) error {
	registry := a.newRegistry()
	if registry == nil {
		return errors.New("oracle.ws_url or oracle.rpc_url required to read balances")
	}
	reader := oracle.NewBalanceReader(registry, oracle.BalanceOptions{
		Tokens:  a.tokenAddresses(),
		Timeout: a.Config.Oracle.RequestTimeout,
	}, a.Logger)

	rows, err := reader.Balances(ctx, holder)
	if err != nil {
		return err
	}

	writer := tabwriter.NewWriter(a.out(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Symbol\tToken\tName\tBalance\tDecimals")
	for _, row := range rows {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%d\n", row.Symbol, row.SymbolLabel, row.Name, row.Balance, row.Decimals)
	}
	return writer.Flush()
}

func orDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
