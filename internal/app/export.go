package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"auxite-wallet/internal/market"
	"auxite-wallet/internal/plot"
	"auxite-wallet/internal/storage"
)

// Export renders recorded ticks as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Feed.TickInterval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	ticks, err := store.ListTicksBetween(ctx, opts.Symbol, from, to)
	if err != nil {
		return err
	}
	if len(ticks) == 0 {
		a.Logger.Info().Msg("no ticks found for export window")
		return nil
	}

	grouped := groupTicks(ticks)
	var exported []storage.PriceTick
	for _, sym := range market.Symbols {
		grouped[sym] = downsampleTicks(grouped[sym], opts.MaxPoints)
		exported = append(exported, grouped[sym]...)
	}
	a.Logger.Info().Int("total", len(ticks)).Int("exported", len(exported)).Msg("exporting ticks")

	if opts.CSVPath != "" {
		if err := writeTicksCSV(opts.CSVPath, exported); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeTicksPNG(opts.PNGPath, grouped); err != nil {
			return err
		}
	}

	return nil
}

func groupTicks(ticks []storage.PriceTick) map[market.Symbol][]storage.PriceTick {
	out := make(map[market.Symbol][]storage.PriceTick, len(market.Symbols))
	for _, t := range ticks {
		out[t.Symbol] = append(out[t.Symbol], t)
	}
	return out
}

func downsampleTicks(ticks []storage.PriceTick, max int) []storage.PriceTick {
	if max <= 0 || len(ticks) <= max {
		return ticks
	}
	if max == 1 {
		return ticks[len(ticks)-1:]
	}

	result := make([]storage.PriceTick, 0, max)
	step := float64(len(ticks)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(ticks) {
			idx = len(ticks) - 1
		}
		result = append(result, ticks[idx])
	}
	return result
}

func writeTicksCSV(path string, ticks []storage.PriceTick) error {
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

	header := []string{"observed_at", "symbol", "price", "prev_price", "bid", "source"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, tick := range ticks {
		bid := ""
		if tick.Bid != nil {
			bid = tick.Bid.StringFixed(market.PricePlaces)
		}
		record := []string{
			tick.ObservedAt.UTC().Format(time.RFC3339),
			tick.Symbol.String(),
			tick.Price.StringFixed(market.PricePlaces),
			tick.PrevPrice.StringFixed(market.PricePlaces),
			bid,
			string(tick.Source),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeTicksPNG(path string, grouped map[market.Symbol][]storage.PriceTick) error {
	series := make([]plot.Series, 0, len(grouped))
	for _, sym := range market.Symbols {
		ticks := grouped[sym]
		s := plot.Series{
			Symbol: sym,
			Times:  make([]time.Time, len(ticks)),
			Prices: make([]float64, len(ticks)),
		}
		for i, t := range ticks {
			s.Times[i] = t.ObservedAt
			s.Prices[i] = t.Price.InexactFloat64()
		}
		series = append(series, s)
	}

	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return plot.History(file, series, 0, 0)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
