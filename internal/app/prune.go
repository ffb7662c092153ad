package app

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Prune deletes recorded ticks older than opts.OlderThan.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.OlderThan <= 0 {
		return errors.New("older-than must be greater than zero")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; nothing to prune")
	}
	if closeStore != nil {
		defer closeStore()
	}

	cutoff := time.Now().UTC().Add(-opts.OlderThan)
	total, err := store.CountTicks(ctx)
	if err != nil {
		return err
	}

	if opts.DryRun {
		a.Logger.Info().Time("cutoff", cutoff).Int64("stored", total).Msg("dry run; no ticks deleted")
		fmt.Fprintf(a.out(), "stored ticks: %d (cutoff %s, dry run)\n", total, cutoff.Format(time.RFC3339))
		return nil
	}

	deleted, err := store.DeleteTicksBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	a.Logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Int64("stored", total).Msg("pruned ticks")
	fmt.Fprintf(a.out(), "deleted %d of %d ticks older than %s\n", deleted, total, cutoff.Format(time.RFC3339))
	return nil
}
