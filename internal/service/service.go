package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"auxite-wallet/internal/fetcher"
	"auxite-wallet/internal/market"
	"auxite-wallet/internal/oracle"
	"auxite-wallet/internal/scheduler"
)

// Sink consumes every accepted price update.
type Sink interface {
	Name() string
	HandleUpdate(ctx context.Context, row market.TokenRow) error
}

// EventWatcher streams oracle results for one feed until ctx is cancelled.
type EventWatcher interface {
	Watch(ctx context.Context, feed oracle.Feed, sink func(market.Result)) error
}

// Options wire the aggregator's sources and tuning.
type Options struct {
	TickInterval time.Duration
	PollInterval time.Duration
	// LiveGrace suppresses the simulation for a symbol while a live update arrived
	// within the window. Zero lets both sources write.
	LiveGrace  time.Duration
	StaleAfter time.Duration
	// UpdateBuffer sizes the fan-out queue towards sinks.
	UpdateBuffer int

	Watcher EventWatcher
	Feeds   []oracle.Feed
	Poller  fetcher.PriceFetcher
	Sinks   []Sink

	Rand market.Rand
	Now  func() time.Time
}

// FeedStatus summarises the health of a symbol's sources.
type FeedStatus struct {
	Source     market.Source `json:"source"`
	Live       bool          `json:"live"`
	LastUpdate *time.Time    `json:"lastUpdate,omitempty"`
	LastError  string        `json:"lastError,omitempty"`
	Failures   int           `json:"failures"`
	Stale      bool          `json:"stale"`
}

// Snapshot is the store snapshot plus per-symbol feed status.
type Snapshot struct {
	market.Snapshot
	Status map[market.Symbol]FeedStatus `json:"status"`
}

type feedState struct {
	source     market.Source
	live       bool
	lastUpdate time.Time
	lastLive   time.Time
	lastError  string
	lastFailed bool
	failures   int
}

// Service owns the price store and is the only writer into it. Sources (simulation,
// oracle events, poller) feed results in; accepted updates fan out to sinks.
type Service struct {
	store  *market.Store
	opts   Options
	logger zerolog.Logger

	randMu sync.Mutex
	rand   market.Rand
	now    func() time.Time

	mu      sync.Mutex
	state   map[market.Symbol]*feedState
	started time.Time

	watchMu sync.Mutex
	watches map[market.Symbol]*watch
	watchWg sync.WaitGroup

	updates chan market.TokenRow
}

type watch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs the aggregator around store.
func New(store *market.Store, opts Options, logger zerolog.Logger) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.UpdateBuffer <= 0 {
		opts.UpdateBuffer = 256
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	r := opts.Rand
	if r == nil {
		r = rand.New(rand.NewSource(now().UnixNano()))
	}

	s := &Service{
		store:   store,
		opts:    opts,
		logger:  logger.With().Str("component", "aggregator").Logger(),
		rand:    r,
		now:     now,
		state:   make(map[market.Symbol]*feedState, len(market.Symbols)),
		started: now().UTC(),
		watches: make(map[market.Symbol]*watch),
		updates: make(chan market.TokenRow, opts.UpdateBuffer),
	}
	for _, sym := range market.Symbols {
		s.state[sym] = &feedState{source: market.SourceDefault}
	}
	for _, feed := range opts.Feeds {
		if st, ok := s.state[feed.Symbol]; ok {
			st.live = true
		}
	}
	if opts.Poller != nil {
		for _, st := range s.state {
			st.live = true
		}
	}
	return s
}

// Store exposes the underlying store for read-only consumers.
func (s *Service) Store() *market.Store {
	return s.store
}

// Apply routes one source result into the store. Failed results and non-finite
// prices are recorded against the symbol's status and otherwise dropped.
func (s *Service) Apply(r market.Result) (market.TokenRow, bool) {
	if !r.Symbol.Valid() {
		s.logger.Debug().Str("symbol", r.Symbol.String()).Str("source", string(r.Source)).Msg("result for untracked symbol ignored")
		return market.TokenRow{}, false
	}
	if !r.OK() {
		s.recordFailure(r.Symbol, r.Err)
		return market.TokenRow{}, false
	}

	row, applied := s.store.Apply(r.Symbol, r.Price, r.Source)
	if !applied {
		err := fmt.Errorf("rejected non-finite price %v", r.Price)
		s.logger.Warn().Str("symbol", r.Symbol.String()).Str("source", string(r.Source)).Msg(err.Error())
		s.recordFailure(r.Symbol, err)
		return row, false
	}
	s.recordSuccess(row)
	s.publish(row)
	return row, true
}

// TickOnce advances the simulation by one step for every symbol not currently driven
// by a live source.
func (s *Service) TickOnce(ctx context.Context, at time.Time) error {
	s.randMu.Lock()
	rows := s.store.Tick(s.rand, s.suppressed)
	s.randMu.Unlock()

	for _, row := range rows {
		s.recordSuccess(row)
		s.publish(row)
	}
	s.logger.Debug().Time("at", at).Int("updated", len(rows)).Msg("simulation tick applied")
	return nil
}

// PollOnce performs one request against the polling endpoint and applies every row
// naming a tracked symbol.
func (s *Service) PollOnce(ctx context.Context, at time.Time) error {
	if s.opts.Poller == nil {
		return errors.New("poller not configured")
	}
	rows, err := s.opts.Poller.FetchPrices(ctx)
	if err != nil {
		for _, sym := range market.Symbols {
			s.recordFailure(sym, err)
		}
		return fmt.Errorf("poll prices: %w", err)
	}

	applied := 0
	for _, pr := range rows {
		sym, err := market.ParseSymbol(pr.Symbol)
		if err != nil {
			s.logger.Debug().Str("symbol", pr.Symbol).Msg("skipping unknown symbol from poller")
			continue
		}
		if _, ok := s.Apply(market.Result{Symbol: sym, Price: pr.Price, Source: market.SourcePoller, At: at}); ok {
			applied++
		}
	}
	s.logger.Debug().Time("at", at).Int("rows", len(rows)).Int("applied", applied).Msg("poll applied")
	return nil
}

// Watch starts streaming feed on the shared oracle connection. A running watch for the
// same symbol is replaced.
func (s *Service) Watch(ctx context.Context, feed oracle.Feed) error {
	if s.opts.Watcher == nil {
		return errors.New("oracle watcher not configured")
	}
	s.Unwatch(feed.Symbol)

	wctx, cancel := context.WithCancel(ctx)
	w := &watch{cancel: cancel, done: make(chan struct{})}

	s.watchMu.Lock()
	s.watches[feed.Symbol] = w
	s.watchMu.Unlock()

	s.mu.Lock()
	s.state[feed.Symbol].live = true
	s.mu.Unlock()

	s.watchWg.Add(1)
	go func() {
		defer s.watchWg.Done()
		defer close(w.done)
		if err := s.opts.Watcher.Watch(wctx, feed, func(r market.Result) { s.Apply(r) }); err != nil {
			s.logger.Error().Err(err).Str("symbol", feed.Symbol.String()).Msg("oracle watch ended")
		}
	}()
	return nil
}

// Unwatch stops the oracle watch for sym only and waits for it to exit.
func (s *Service) Unwatch(sym market.Symbol) {
	s.watchMu.Lock()
	w, ok := s.watches[sym]
	delete(s.watches, sym)
	s.watchMu.Unlock()
	if !ok {
		return
	}
	w.cancel()
	<-w.done
}

// Watching reports the symbols with an active oracle watch.
func (s *Service) Watching() []market.Symbol {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	out := make([]market.Symbol, 0, len(s.watches))
	for _, sym := range market.Symbols {
		if _, ok := s.watches[sym]; ok {
			out = append(out, sym)
		}
	}
	return out
}

// Run starts the fan-out, every configured oracle watch, the simulation timer and the
// poller, and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.dispatch(ctx)
	}()

	for _, feed := range s.opts.Feeds {
		if err := s.Watch(ctx, feed); err != nil {
			s.logger.Warn().Err(err).Str("symbol", feed.Symbol.String()).Msg("oracle feed skipped")
		}
	}

	sim := scheduler.New(scheduler.Options{Name: "simulation", Interval: s.opts.TickInterval}, s.logger)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = sim.Run(ctx, s.TickOnce)
	}()

	if s.opts.Poller != nil {
		poll := scheduler.New(scheduler.Options{Name: "poller", Interval: s.opts.PollInterval, Immediate: true}, s.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = poll.Run(ctx, s.PollOnce)
		}()
	}

	s.logger.Info().
		Dur("tick_interval", s.opts.TickInterval).
		Int("oracle_feeds", len(s.opts.Feeds)).
		Bool("poller", s.opts.Poller != nil).
		Int("sinks", len(s.opts.Sinks)).
		Msg("aggregator started")

	<-ctx.Done()
	s.stopWatches()
	wg.Wait()
	s.logger.Info().Msg("aggregator stopped")
	return ctx.Err()
}

func (s *Service) stopWatches() {
	s.watchMu.Lock()
	for sym, w := range s.watches {
		w.cancel()
		delete(s.watches, sym)
	}
	s.watchMu.Unlock()
	s.watchWg.Wait()
}

// Snapshot returns rows, history and feed status.
func (s *Service) Snapshot() Snapshot {
	snap := Snapshot{Snapshot: s.store.Snapshot(), Status: make(map[market.Symbol]FeedStatus, len(market.Symbols))}
	for _, sym := range market.Symbols {
		snap.Status[sym] = s.Status(sym)
	}
	return snap
}

// Status reports the feed status of sym.
func (s *Service) Status(sym market.Symbol) FeedStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.state[sym]
	if !ok {
		return FeedStatus{}
	}
	out := FeedStatus{
		Source:    st.source,
		Live:      st.live,
		LastError: st.lastError,
		Failures:  st.failures,
		Stale:     s.staleLocked(st),
	}
	if !st.lastUpdate.IsZero() {
		ts := st.lastUpdate
		out.LastUpdate = &ts
	}
	return out
}

func (s *Service) staleLocked(st *feedState) bool {
	if !st.live {
		return false
	}
	if st.lastFailed {
		return true
	}
	if s.opts.StaleAfter <= 0 {
		return false
	}
	ref := st.lastLive
	if ref.IsZero() {
		ref = s.started
	}
	return s.now().UTC().Sub(ref) > s.opts.StaleAfter
}

func (s *Service) suppressed(sym market.Symbol) bool {
	if s.opts.LiveGrace <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[sym]
	if !ok || st.lastLive.IsZero() {
		return false
	}
	return s.now().UTC().Sub(st.lastLive) < s.opts.LiveGrace
}

func (s *Service) recordSuccess(row market.TokenRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state[row.Symbol]
	st.source = row.Source
	st.lastUpdate = row.UpdatedAt
	if isLive(row.Source) {
		st.lastLive = s.now().UTC()
		st.lastFailed = false
		st.lastError = ""
	}
}

func (s *Service) recordFailure(sym market.Symbol, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.state[sym]
	if !ok {
		return
	}
	st.failures++
	st.lastFailed = true
	if err != nil {
		st.lastError = err.Error()
	}
}

func isLive(src market.Source) bool {
	return src == market.SourceOracle || src == market.SourcePoller
}

func (s *Service) publish(row market.TokenRow) {
	if len(s.opts.Sinks) == 0 {
		return
	}
	select {
	case s.updates <- row:
	default:
		s.logger.Warn().Str("symbol", row.Symbol.String()).Msg("update queue full, dropping update for sinks")
	}
}

func (s *Service) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case row := <-s.updates:
			for _, sink := range s.opts.Sinks {
				if err := sink.HandleUpdate(ctx, row); err != nil {
					s.logger.Error().Err(err).Str("sink", sink.Name()).Str("symbol", row.Symbol.String()).Msg("sink failed to handle update")
				}
			}
		}
	}
}
