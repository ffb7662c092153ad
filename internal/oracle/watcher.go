package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"auxite-wallet/internal/market"
)

// errSubscriptionClosed is reported when the node ends a subscription without an error.
var errSubscriptionClosed = errors.New("oracle: subscription closed")

// DefaultPollInterval paces log polling on endpoints without subscriptions.
const DefaultPollInterval = 4 * time.Second

// WatcherOptions tune resubscription behaviour.
type WatcherOptions struct {
	MinBackoff time.Duration
	MaxBackoff time.Duration
	LogBuffer  int
	// PollInterval applies when the endpoint cannot push logs (plain HTTP RPC).
	PollInterval time.Duration
}

// Watcher streams oracle events for individual symbols over the shared registry connection.
type Watcher struct {
	registry *Registry
	opts     WatcherOptions
	logger   zerolog.Logger
	now      func() time.Time
}

// NewWatcher constructs a Watcher.
func NewWatcher(registry *Registry, opts WatcherOptions, logger zerolog.Logger) *Watcher {
	if opts.MinBackoff <= 0 {
		opts.MinBackoff = time.Second
	}
	if opts.MaxBackoff < opts.MinBackoff {
		opts.MaxBackoff = time.Minute
	}
	if opts.LogBuffer <= 0 {
		opts.LogBuffer = 16
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	return &Watcher{
		registry: registry,
		opts:     opts,
		logger:   logger.With().Str("component", "oracle_watcher").Logger(),
		now:      time.Now,
	}
}

// Watch delivers one Result per received event (or decode failure) to sink until ctx is
// cancelled. Failed subscriptions are retried with exponential backoff. The shared
// connection is held for the lifetime of the call and released on return; it is only
// reset when an established subscription reports that the transport dropped.
func (w *Watcher) Watch(ctx context.Context, feed Feed, sink func(market.Result)) error {
	logger := w.logger.With().Str("symbol", feed.Symbol.String()).Str("address", feed.Address.Hex()).Logger()
	backoff := w.opts.MinBackoff

	for {
		conn, release, err := w.registry.Acquire(ctx)
		if err == nil {
			var received, dropped bool
			received, dropped, err = w.follow(ctx, conn, feed, sink, logger)
			if dropped && ctx.Err() == nil {
				w.registry.Reset(conn)
			}
			release()
			if received {
				backoff = w.opts.MinBackoff
			}
		}

		if ctx.Err() != nil {
			logger.Info().Msg("oracle listener stopped")
			return nil
		}

		logger.Warn().Err(err).Dur("retry_in", backoff).Msg("oracle subscription failed")
		sink(market.Result{Symbol: feed.Symbol, Source: market.SourceOracle, Err: err, At: w.now().UTC()})

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			logger.Info().Msg("oracle listener stopped")
			return nil
		case <-timer.C:
		}
		backoff *= 2
		if backoff > w.opts.MaxBackoff {
			backoff = w.opts.MaxBackoff
		}
	}
}

// follow subscribes to the feed's logs, or polls for them when the endpoint has no
// notification support. dropped reports that the subscription died under the
// connection, which is then unusable for every holder.
func (w *Watcher) follow(ctx context.Context, conn Conn, feed Feed, sink func(market.Result), logger zerolog.Logger) (received, dropped bool, err error) {
	logs := make(chan types.Log, w.opts.LogBuffer)
	sub, err := conn.SubscribeFilterLogs(ctx, feed.Query(), logs)
	switch {
	case errors.Is(err, rpc.ErrNotificationsUnsupported):
		logger.Info().Str("event", feed.EventName).Dur("interval", w.opts.PollInterval).Msg("endpoint cannot push logs, polling oracle events")
		received, err = w.poll(ctx, conn, feed, sink)
		return received, false, err
	case err != nil:
		return false, false, fmt.Errorf("subscribe %s: %w", feed.EventName, err)
	}
	defer sub.Unsubscribe()

	logger.Info().Str("event", feed.EventName).Int32("decimals", feed.Decimals).Msg("listening for oracle events")
	for {
		select {
		case <-ctx.Done():
			return received, false, ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errSubscriptionClosed
			}
			return received, true, err
		case lg := <-logs:
			received = true
			w.deliver(feed, lg, sink)
		}
	}
}

// poll reads the feed's logs block range by block range, starting after the head
// observed when polling began.
func (w *Watcher) poll(ctx context.Context, conn Conn, feed Feed, sink func(market.Result)) (bool, error) {
	head, err := conn.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("read block number: %w", err)
	}
	from := head + 1

	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	received := false
	for {
		select {
		case <-ctx.Done():
			return received, ctx.Err()
		case <-ticker.C:
		}

		head, err := conn.BlockNumber(ctx)
		if err != nil {
			return received, fmt.Errorf("read block number: %w", err)
		}
		if head < from {
			continue
		}

		q := feed.Query()
		q.FromBlock = new(big.Int).SetUint64(from)
		q.ToBlock = new(big.Int).SetUint64(head)
		logs, err := conn.FilterLogs(ctx, q)
		if err != nil {
			return received, fmt.Errorf("filter %s logs: %w", feed.EventName, err)
		}
		for _, lg := range logs {
			if lg.Removed {
				continue
			}
			received = true
			w.deliver(feed, lg, sink)
		}
		from = head + 1
	}
}

func (w *Watcher) deliver(feed Feed, lg types.Log, sink func(market.Result)) {
	res := market.Result{Symbol: feed.Symbol, Source: market.SourceOracle, At: w.now().UTC()}
	price, err := feed.Decode(lg)
	if err != nil {
		res.Err = err
		w.logger.Error().Err(err).Str("symbol", feed.Symbol.String()).Str("tx", lg.TxHash.Hex()).Msg("oracle event dropped")
	} else {
		res.Price = price
		w.logger.Debug().Str("symbol", feed.Symbol.String()).Float64("price", price).Uint64("block", lg.BlockNumber).Msg("oracle price received")
	}
	sink(res)
}
