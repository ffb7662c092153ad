package oracle

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auxite-wallet/internal/market"
)

const (
	goldOracle   = "0x1111111111111111111111111111111111111111"
	silverOracle = "0x2222222222222222222222222222222222222222"
	holder       = "0x3333333333333333333333333333333333333333"
)

type fakeSub struct {
	mu    sync.Mutex
	errCh chan error
	done  bool
}

func newFakeSub() *fakeSub { return &fakeSub{errCh: make(chan error, 1)} }

func (s *fakeSub) Err() <-chan error { return s.errCh }

func (s *fakeSub) Unsubscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.errCh)
}

func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.errCh <- err
}

type fakeConn struct {
	mu           sync.Mutex
	sinks        map[common.Address]chan<- types.Log
	subs         []*fakeSub
	subscribeErr error
	rejected     map[common.Address]error
	chainLogs    []types.Log
	responses    map[string][]byte
	head         atomic.Uint64
	headReads    atomic.Int32
	closed       atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		sinks:     map[common.Address]chan<- types.Log{},
		rejected:  map[common.Address]error{},
		responses: map[string][]byte{},
	}
}

func (c *fakeConn) SubscribeFilterLogs(_ context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeErr != nil {
		return nil, c.subscribeErr
	}
	if err := c.rejected[q.Addresses[0]]; err != nil {
		return nil, err
	}
	sub := newFakeSub()
	c.subs = append(c.subs, sub)
	c.sinks[q.Addresses[0]] = ch
	return sub, nil
}

func (c *fakeConn) FilterLogs(_ context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Log
	for _, lg := range c.chainLogs {
		if lg.Address != q.Addresses[0] {
			continue
		}
		if lg.BlockNumber < q.FromBlock.Uint64() || lg.BlockNumber > q.ToBlock.Uint64() {
			continue
		}
		out = append(out, lg)
	}
	return out, nil
}

func (c *fakeConn) BlockNumber(context.Context) (uint64, error) {
	c.headReads.Add(1)
	return c.head.Load(), nil
}

func (c *fakeConn) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	for name, method := range erc20ABI.Methods {
		if len(msg.Data) >= 4 && string(msg.Data[:4]) == string(method.ID) {
			if out, ok := c.responses[name]; ok {
				return out, nil
			}
			return nil, errors.New("execution reverted")
		}
	}
	return nil, errors.New("unknown selector")
}

func (c *fakeConn) Close() {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sub := range c.subs {
		sub.fail(errors.New("connection closed"))
	}
}

func (c *fakeConn) subscriptions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func (c *fakeConn) sub(i int) *fakeSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[i]
}

func (c *fakeConn) emit(addr string, lg types.Log) {
	c.mu.Lock()
	ch := c.sinks[common.HexToAddress(addr)]
	c.mu.Unlock()
	ch <- lg
}

func (c *fakeConn) mine(lg types.Log) {
	c.mu.Lock()
	c.chainLogs = append(c.chainLogs, lg)
	c.mu.Unlock()
	if lg.BlockNumber > c.head.Load() {
		c.head.Store(lg.BlockNumber)
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	conns []*fakeConn
	setup func(*fakeConn)
}

func (d *fakeDialer) dial(context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := newFakeConn()
	if d.setup != nil {
		d.setup(c)
	}
	d.conns = append(d.conns, c)
	return c, nil
}

func (d *fakeDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[len(d.conns)-1]
}

func priceLog(t *testing.T, feed Feed, raw int64) types.Log {
	t.Helper()
	return types.Log{
		Address: feed.Address,
		Topics:  []common.Hash{feed.Topic()},
		Data:    common.LeftPadBytes(big.NewInt(raw).Bytes(), 32),
	}
}

func TestRegistrySharesOneConnection(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, zerolog.Nop())

	c1, rel1, err := reg.Acquire(context.Background())
	require.NoError(t, err)
	c2, rel2, err := reg.Acquire(context.Background())
	require.NoError(t, err)

	assert.Same(t, c1, c2)
	assert.Equal(t, 1, d.count())
	assert.Equal(t, 2, reg.Refs())

	rel1()
	rel1()
	assert.Equal(t, 1, reg.Refs(), "release must be idempotent")
	assert.True(t, reg.Connected())
	assert.False(t, d.last().closed.Load())

	rel2()
	assert.False(t, reg.Connected())
	assert.True(t, d.last().closed.Load())
}

func TestRegistryResetForcesRedial(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, zerolog.Nop())

	conn, stale, err := reg.Acquire(context.Background())
	require.NoError(t, err)
	reg.Reset(conn)
	assert.False(t, reg.Connected())
	assert.True(t, d.last().closed.Load())

	_, fresh, err := reg.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, d.count())

	stale()
	assert.Equal(t, 1, reg.Refs(), "release from a reset generation is ignored")
	fresh()
	assert.False(t, reg.Connected())
}

func TestRegistryDialError(t *testing.T) {
	reg := NewRegistry(func(context.Context) (Conn, error) { return nil, ErrNoEndpoint }, zerolog.Nop())
	_, _, err := reg.Acquire(context.Background())
	assert.ErrorIs(t, err, ErrNoEndpoint)
	assert.Equal(t, 0, reg.Refs())
}

func TestFeedDecode(t *testing.T) {
	feed, err := NewFeed(market.Gold, goldOracle, "", -1)
	require.NoError(t, err)
	assert.Equal(t, DefaultEventName, feed.EventName)
	assert.EqualValues(t, DefaultDecimals, feed.Decimals)

	price, err := feed.Decode(priceLog(t, feed, 7519))
	require.NoError(t, err)
	assert.Equal(t, 75.19, price)

	indexed := types.Log{Topics: []common.Hash{feed.Topic(), common.BigToHash(big.NewInt(110))}}
	price, err = feed.Decode(indexed)
	require.NoError(t, err)
	assert.Equal(t, 1.1, price)

	_, err = feed.Decode(types.Log{Topics: []common.Hash{{}}})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = feed.Decode(types.Log{Topics: []common.Hash{feed.Topic()}})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestNewFeedValidation(t *testing.T) {
	_, err := NewFeed(market.Gold, "not-an-address", "", 2)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = NewFeed(market.Symbol("AUXX"), goldOracle, "", 2)
	assert.ErrorIs(t, err, market.ErrUnknownSymbol)

	feed, err := NewFeed(market.Silver, silverOracle, "PriceSet", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 0, feed.Decimals)
	assert.Equal(t, 42.0, ScalePrice(big.NewInt(42), feed.Decimals))
}

func TestScalePriceRoundsToThreePlaces(t *testing.T) {
	assert.Equal(t, 75.19, ScalePrice(big.NewInt(7519), 2))
	assert.Equal(t, 1.235, ScalePrice(big.NewInt(1234567), 6))
}

// Cancelling one symbol's watch must not tear down the shared connection that other
// symbols still stream over.
func TestWatchCancelKeepsSiblingAlive(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, zerolog.Nop())
	w := NewWatcher(reg, WatcherOptions{MinBackoff: time.Millisecond}, zerolog.Nop())

	gold, err := NewFeed(market.Gold, goldOracle, "", 2)
	require.NoError(t, err)
	silver, err := NewFeed(market.Silver, silverOracle, "", 2)
	require.NoError(t, err)

	results := make(chan market.Result, 8)
	sink := func(r market.Result) { results <- r }

	goldCtx, cancelGold := context.WithCancel(context.Background())
	silverCtx, cancelSilver := context.WithCancel(context.Background())
	defer cancelSilver()

	goldDone := make(chan error, 1)
	silverDone := make(chan error, 1)
	go func() { goldDone <- w.Watch(goldCtx, gold, sink) }()
	go func() { silverDone <- w.Watch(silverCtx, silver, sink) }()

	require.Eventually(t, func() bool {
		return d.count() == 1 && d.last().subscriptions() == 2
	}, time.Second, time.Millisecond)
	conn := d.last()

	cancelGold()
	select {
	case err := <-goldDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("gold watcher did not stop")
	}
	assert.False(t, conn.closed.Load())
	assert.Equal(t, 1, reg.Refs())

	conn.emit(silverOracle, priceLog(t, silver, 112))
	select {
	case r := <-results:
		require.True(t, r.OK())
		assert.Equal(t, market.Silver, r.Symbol)
		assert.Equal(t, market.SourceOracle, r.Source)
		assert.Equal(t, 1.12, r.Price)
	case <-time.After(time.Second):
		t.Fatal("silver update not delivered")
	}

	cancelSilver()
	select {
	case err := <-silverDone:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("silver watcher did not stop")
	}
	assert.True(t, conn.closed.Load())
	assert.False(t, reg.Connected())
}

func TestWatchReportsErrorsAndResubscribes(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) { c.subscribeErr = errors.New("filter rejected") }}
	reg := NewRegistry(d.dial, zerolog.Nop())
	w := NewWatcher(reg, WatcherOptions{MinBackoff: time.Millisecond, MaxBackoff: 4 * time.Millisecond}, zerolog.Nop())

	feed, err := NewFeed(market.Gold, goldOracle, "", 2)
	require.NoError(t, err)

	var failures atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, feed, func(r market.Result) {
			if !r.OK() && failures.Add(1) >= 3 {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not stop")
	}
	assert.GreaterOrEqual(t, d.count(), 3, "the sole holder releases on failure so each retry dials")
	assert.False(t, reg.Connected())
}

func TestRejectedSubscribeKeepsSiblingStreaming(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.rejected[common.HexToAddress(silverOracle)] = errors.New("filter rejected")
	}}
	reg := NewRegistry(d.dial, zerolog.Nop())
	w := NewWatcher(reg, WatcherOptions{MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, zerolog.Nop())

	gold, err := NewFeed(market.Gold, goldOracle, "", 2)
	require.NoError(t, err)
	silver, err := NewFeed(market.Silver, silverOracle, "", 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	goldResults := make(chan market.Result, 8)
	go func() { _ = w.Watch(ctx, gold, func(r market.Result) { goldResults <- r }) }()
	require.Eventually(t, func() bool { return d.count() == 1 && d.last().subscriptions() == 1 }, time.Second, time.Millisecond)
	conn := d.last()

	var silverFailures atomic.Int32
	go func() {
		_ = w.Watch(ctx, silver, func(r market.Result) {
			if !r.OK() {
				silverFailures.Add(1)
			}
		})
	}()
	require.Eventually(t, func() bool { return silverFailures.Load() >= 3 }, time.Second, time.Millisecond)

	assert.False(t, conn.closed.Load())
	assert.Equal(t, 1, d.count())
	assert.True(t, reg.Connected())

	conn.emit(goldOracle, priceLog(t, gold, 7600))
	select {
	case r := <-goldResults:
		require.True(t, r.OK())
		assert.Equal(t, market.Gold, r.Symbol)
		assert.Equal(t, 76.0, r.Price)
	case <-time.After(time.Second):
		t.Fatal("gold update not delivered")
	}
}

func TestDroppedSubscriptionResetsSharedConnection(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, zerolog.Nop())
	w := NewWatcher(reg, WatcherOptions{MinBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, zerolog.Nop())

	gold, err := NewFeed(market.Gold, goldOracle, "", 2)
	require.NoError(t, err)
	silver, err := NewFeed(market.Silver, silverOracle, "", 2)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := func(market.Result) {}

	go func() { _ = w.Watch(ctx, gold, sink) }()
	require.Eventually(t, func() bool { return d.count() == 1 && d.last().subscriptions() == 1 }, time.Second, time.Millisecond)
	go func() { _ = w.Watch(ctx, silver, sink) }()
	require.Eventually(t, func() bool { return d.last().subscriptions() == 2 }, time.Second, time.Millisecond)
	first := d.last()

	first.sub(0).fail(errors.New("websocket: close 1006"))

	require.Eventually(t, func() bool {
		return d.count() == 2 && d.last().subscriptions() == 2
	}, time.Second, time.Millisecond)
	assert.True(t, first.closed.Load())
	assert.Equal(t, 2, reg.Refs())
}

func TestWatchPollsWhenSubscriptionsUnsupported(t *testing.T) {
	d := &fakeDialer{setup: func(c *fakeConn) {
		c.subscribeErr = rpc.ErrNotificationsUnsupported
	}}
	reg := NewRegistry(d.dial, zerolog.Nop())
	w := NewWatcher(reg, WatcherOptions{PollInterval: time.Millisecond}, zerolog.Nop())

	feed, err := NewFeed(market.Gold, goldOracle, "", 2)
	require.NoError(t, err)

	results := make(chan market.Result, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = w.Watch(ctx, feed, func(r market.Result) { results <- r }) }()
	require.Eventually(t, func() bool { return d.count() == 1 }, time.Second, time.Millisecond)
	conn := d.last()

	old := priceLog(t, feed, 7000)
	old.BlockNumber = 0
	conn.mine(old)
	require.Eventually(t, func() bool { return conn.headReads.Load() >= 2 }, time.Second, time.Millisecond)

	fresh := priceLog(t, feed, 7725)
	fresh.BlockNumber = 5
	conn.mine(fresh)

	select {
	case r := <-results:
		require.True(t, r.OK(), "unexpected failure: %v", r.Err)
		assert.Equal(t, 77.25, r.Price)
		assert.Equal(t, market.SourceOracle, r.Source)
	case <-time.After(time.Second):
		t.Fatal("polled update not delivered")
	}
	assert.Equal(t, 1, d.count())
	assert.False(t, conn.closed.Load())
	assert.Empty(t, results, "logs at or before the starting head are not replayed")
}

func TestWatchDecodeErrorIsForwarded(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, zerolog.Nop())
	w := NewWatcher(reg, WatcherOptions{}, zerolog.Nop())

	feed, err := NewFeed(market.Platinum, goldOracle, "", 2)
	require.NoError(t, err)

	results := make(chan market.Result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Watch(ctx, feed, func(r market.Result) { results <- r }) }()

	require.Eventually(t, func() bool { return d.count() == 1 && d.last().subscriptions() == 1 }, time.Second, time.Millisecond)
	d.last().emit(goldOracle, types.Log{Topics: []common.Hash{feed.Topic()}})

	select {
	case r := <-results:
		assert.ErrorIs(t, r.Err, ErrDecode)
		assert.Equal(t, market.Platinum, r.Symbol)
	case <-time.After(time.Second):
		t.Fatal("decode failure not forwarded")
	}
}

func TestBalancesUseFallbacks(t *testing.T) {
	pack := func(method string, v interface{}) []byte {
		out, err := erc20ABI.Methods[method].Outputs.Pack(v)
		require.NoError(t, err)
		return out
	}

	d := &fakeDialer{setup: func(c *fakeConn) {
		c.responses["decimals"] = pack("decimals", uint8(6))
		c.responses["balanceOf"] = pack("balanceOf", big.NewInt(1_500_000))
		c.responses["name"] = pack("name", "Auxite Gold")
	}}
	reg := NewRegistry(d.dial, zerolog.Nop())
	reader := NewBalanceReader(reg, BalanceOptions{Tokens: map[market.Symbol]common.Address{
		market.Gold: common.HexToAddress(goldOracle),
	}}, zerolog.Nop())

	rows, err := reader.Balances(context.Background(), holder)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Equal(t, market.Gold, row.Symbol)
	assert.EqualValues(t, 6, row.Decimals)
	assert.Equal(t, "1.5", row.Balance)
	assert.Equal(t, "1500000", row.Raw)
	assert.Equal(t, "AUXG", row.SymbolLabel, "symbol() reverted so the key is used")
	assert.Equal(t, "Auxite Gold", row.Name)
	assert.False(t, reg.Connected(), "reader releases the shared connection")
}

func TestBalancesAllCallsFailing(t *testing.T) {
	d := &fakeDialer{}
	reg := NewRegistry(d.dial, zerolog.Nop())
	reader := NewBalanceReader(reg, BalanceOptions{Tokens: map[market.Symbol]common.Address{
		market.Silver: common.HexToAddress(silverOracle),
	}}, zerolog.Nop())

	rows, err := reader.Balances(context.Background(), holder)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.EqualValues(t, 18, rows[0].Decimals)
	assert.Equal(t, "0", rows[0].Balance)
	assert.Equal(t, "AUXS", rows[0].Name)

	_, err = reader.Balances(context.Background(), "0xnope")
	assert.ErrorIs(t, err, ErrInvalidAddress)
}
