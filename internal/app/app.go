package app

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"auxite-wallet/internal/alerting"
	"auxite-wallet/internal/cache"
	"auxite-wallet/internal/config"
	"auxite-wallet/internal/fetcher"
	"auxite-wallet/internal/market"
	"auxite-wallet/internal/oracle"
	"auxite-wallet/internal/server"
	"auxite-wallet/internal/service"
	"auxite-wallet/internal/storage"
	"auxite-wallet/internal/wallet"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
	// Out receives command output (tables, quotes). Defaults to stdout.
	Out io.Writer
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger(), Out: os.Stdout}
}

func (a *App) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *App) newPriceStore() *market.Store {
	seed := make(map[market.Symbol]float64, len(a.Config.Feed.Seed))
	for key, price := range a.Config.Feed.Seed {
		sym, err := market.ParseSymbol(key)
		if err != nil || !market.IsFinite(price) || price <= 0 {
			a.Logger.Warn().Str("symbol", key).Float64("price", price).Msg("ignoring invalid seed price")
			continue
		}
		seed[sym] = price
	}
	return market.NewStore(market.StoreOptions{HistoryLimit: a.Config.Feed.HistoryLimit, Seed: seed})
}

func (a *App) newRegistry() *oracle.Registry {
	cfg := a.Config.Oracle
	if strings.TrimSpace(cfg.WSURL) == "" && strings.TrimSpace(cfg.RPCURL) == "" {
		return nil
	}
	return oracle.NewRegistry(oracle.DialEthereum(cfg.WSURL, cfg.RPCURL, a.Logger), a.Logger)
}

// oracleFeeds resolves configured contracts in display order. Unknown symbols and
// invalid addresses are skipped so the simulation stays the only source for them.
func (a *App) oracleFeeds() []oracle.Feed {
	feeds := make([]oracle.Feed, 0, len(a.Config.Oracle.Feeds))
	for key, fc := range a.Config.Oracle.Feeds {
		sym, err := market.ParseSymbol(key)
		if err != nil {
			a.Logger.Warn().Str("symbol", key).Msg("ignoring oracle feed for unknown symbol")
			continue
		}
		if strings.TrimSpace(fc.Address) == "" {
			continue
		}
		feed, err := oracle.NewFeed(sym, fc.Address, a.Config.FeedEventName(fc), a.Config.FeedDecimals(fc))
		if err != nil {
			a.Logger.Warn().Err(err).Str("symbol", sym.String()).Msg("oracle feed skipped; simulation only")
			continue
		}
		feeds = append(feeds, feed)
	}
	sort.Slice(feeds, func(i, j int) bool { return symbolIndex(feeds[i].Symbol) < symbolIndex(feeds[j].Symbol) })
	return feeds
}

func (a *App) tokenAddresses() map[market.Symbol]common.Address {
	out := make(map[market.Symbol]common.Address, len(a.Config.Tokens.Addresses))
	for key, addr := range a.Config.Tokens.Addresses {
		sym, err := market.ParseSymbol(key)
		if err != nil {
			a.Logger.Warn().Str("symbol", key).Msg("ignoring token address for unknown symbol")
			continue
		}
		if !common.IsHexAddress(addr) {
			a.Logger.Warn().Str("symbol", sym.String()).Str("address", addr).Msg("ignoring invalid token address")
			continue
		}
		out[sym] = common.HexToAddress(addr)
	}
	return out
}

func symbolIndex(sym market.Symbol) int {
	for i, s := range market.Symbols {
		if s == sym {
			return i
		}
	}
	return len(market.Symbols)
}

func (a *App) newPoller() fetcher.PriceFetcher {
	url := a.Config.PollURL()
	if url == "" {
		return nil
	}
	return fetcher.NewPoller(fetcher.PollerOptions{
		URL:       url,
		Timeout:   a.Config.Poller.Timeout,
		UserAgent: a.Config.Poller.UserAgent,
	}, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) newAlerter(notifier alerting.Notifier, store *storage.Store) *alerting.MoveAlerter {
	var recorder alerting.AlertRecorder
	if store != nil {
		recorder = store
	}
	return alerting.NewMoveAlerter(notifier, recorder, alerting.MoveOptions{
		ThresholdPct: a.Config.Alerting.ThresholdPct,
		Cooldown:     a.Config.Alerting.Cooldown,
		Channels:     a.Config.Alerting.Channels,
	}, a.Logger)
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	store := storage.NewStore(pool)
	if a.Config.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
	}
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) openMirror(ctx context.Context) (*cache.Mirror, func()) {
	cfg := a.Config.Redis
	if strings.TrimSpace(cfg.Addr) == "" {
		return nil, nil
	}
	opts := cache.Options{
		Addr:      cfg.Addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		KeyPrefix: cfg.KeyPrefix,
		TTL:       cfg.TTL,
	}
	client := cache.NewClient(opts)
	mirror := cache.NewMirror(client, opts, a.Logger)
	if err := mirror.Ping(ctx); err != nil {
		a.Logger.Warn().Err(err).Str("addr", cfg.Addr).Msg("redis unreachable at startup; mirror writes will be retried per update")
	}
	return mirror, func() { _ = client.Close() }
}

// Run executes the long-running price feed service and its API.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		a.Logger.Warn().Msg("database.dsn not configured; persistence disabled")
	}
	if closeStore != nil {
		defer closeStore()
	}

	var sinks []service.Sink
	if store != nil {
		sinks = append(sinks, store)
	}
	if mirror, closeMirror := a.openMirror(ctx); mirror != nil {
		defer closeMirror()
		sinks = append(sinks, mirror)
	}
	if a.Config.Alerting.Enabled {
		if notifier := a.newNotifier(); notifier != nil {
			sinks = append(sinks, a.newAlerter(notifier, store))
		} else {
			a.Logger.Warn().Msg("alerting enabled but no channel configured")
		}
	}
	hub := server.NewHub(a.Logger)
	sinks = append(sinks, hub)

	registry := a.newRegistry()
	feeds := a.oracleFeeds()
	opts := service.Options{
		TickInterval: a.Config.Feed.TickInterval,
		PollInterval: a.Config.Poller.Interval,
		LiveGrace:    a.Config.Feed.LiveGrace,
		StaleAfter:   a.Config.Feed.StaleAfter,
		UpdateBuffer: a.Config.Feed.UpdateBuffer,
		Poller:       a.newPoller(),
		Sinks:        sinks,
	}
	if registry != nil {
		opts.Watcher = oracle.NewWatcher(registry, oracle.WatcherOptions{
			MinBackoff:   a.Config.Oracle.MinBackoff,
			MaxBackoff:   a.Config.Oracle.MaxBackoff,
			PollInterval: a.Config.Oracle.PollInterval,
		}, a.Logger)
		opts.Feeds = feeds
	} else if len(feeds) > 0 {
		a.Logger.Warn().Int("feeds", len(feeds)).Msg("oracle feeds configured without oracle.ws_url or oracle.rpc_url; simulation only")
	}

	svc := service.New(a.newPriceStore(), opts, a.Logger)
	hub.Bind(svc)

	deps := server.Deps{
		Feed:   svc,
		Wallet: wallet.New(a.Config.Wallet, a.Logger),
		Hub:    hub,
	}
	if store != nil {
		deps.Ticks = store
	}
	if url := a.Config.Poller.InfoURL; url != "" {
		deps.Info = fetcher.NewInfoClient(fetcher.InfoOptions{
			URL:       url,
			Timeout:   a.Config.Poller.Timeout,
			UserAgent: a.Config.Poller.UserAgent,
		}, a.Logger)
	}
	if tokens := a.tokenAddresses(); registry != nil && len(tokens) > 0 {
		deps.Balances = oracle.NewBalanceReader(registry, oracle.BalanceOptions{
			Tokens:  tokens,
			Timeout: a.Config.Oracle.RequestTimeout,
		}, a.Logger)
	}
	api := server.New(server.Options{
		Addr:           a.Config.Server.Addr,
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
	}, deps, a.Logger)

	a.Logger.Info().Msg("starting price feed service")

	var (
		wg     sync.WaitGroup
		apiErr error
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.Run(ctx); err != nil {
			apiErr = err
			cancel()
		}
	}()

	err = svc.Run(ctx)
	cancel()
	wg.Wait()

	if apiErr != nil {
		a.Logger.Error().Err(apiErr).Msg("http server terminated with error")
		return apiErr
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("service terminated with error")
		return err
	}

	a.Logger.Info().Msg("price feed service stopped")
	return nil
}

// ExportOptions hold parameters for exporting recorded ticks.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	Symbol    market.Symbol
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit  int
	Symbol market.Symbol
	Alerts bool
}

// PruneOptions configure the prune job.
type PruneOptions struct {
	OlderThan time.Duration
	DryRun    bool
}

var (
	_ service.Sink = (*storage.Store)(nil)
	_ service.Sink = (*cache.Mirror)(nil)
	_ service.Sink = (*alerting.MoveAlerter)(nil)
	_ service.Sink = (*server.Hub)(nil)
)
