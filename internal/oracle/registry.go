package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"
)

// Conn is the subset of the Ethereum client used by subscriptions, log polling and
// contract reads.
type Conn interface {
	SubscribeFilterLogs(ctx context.Context, q ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// Dialer opens a new connection to the chain.
type Dialer func(ctx context.Context) (Conn, error)

// ErrNoEndpoint is returned when neither a websocket nor an HTTP endpoint is configured.
var ErrNoEndpoint = errors.New("oracle: no rpc endpoint configured")

// DialEthereum prefers the websocket endpoint and falls back to plain RPC. Over plain
// RPC subscriptions fail with rpc.ErrNotificationsUnsupported and watchers poll logs.
func DialEthereum(wsURL, rpcURL string, logger zerolog.Logger) Dialer {
	wsURL = strings.TrimSpace(wsURL)
	rpcURL = strings.TrimSpace(rpcURL)
	return func(ctx context.Context) (Conn, error) {
		if wsURL != "" {
			client, err := ethclient.DialContext(ctx, wsURL)
			if err == nil {
				logger.Info().Str("endpoint", "ws").Msg("shared oracle connection opened")
				return client, nil
			}
			logger.Warn().Err(err).Msg("websocket dial failed, falling back to rpc")
		}
		if rpcURL == "" {
			return nil, ErrNoEndpoint
		}
		client, err := ethclient.DialContext(ctx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		logger.Info().Str("endpoint", "rpc").Msg("shared oracle connection opened")
		return client, nil
	}
}

// Registry shares one chain connection between all consumers. The connection is
// dialed by the first Acquire and closed when the last holder releases it.
type Registry struct {
	dial   Dialer
	logger zerolog.Logger

	mu   sync.Mutex
	conn Conn
	refs int
	gen  uint64
}

// NewRegistry builds a registry around dial.
func NewRegistry(dial Dialer, logger zerolog.Logger) *Registry {
	return &Registry{dial: dial, logger: logger.With().Str("component", "oracle_registry").Logger()}
}

// Acquire returns the shared connection and a release func. Release is idempotent.
func (r *Registry) Acquire(ctx context.Context) (Conn, func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		conn, err := r.dial(ctx)
		if err != nil {
			return nil, nil, err
		}
		r.conn = conn
		r.gen++
	}
	r.refs++
	gen := r.gen
	conn := r.conn

	var once sync.Once
	release := func() {
		once.Do(func() { r.release(gen) })
	}
	return conn, release, nil
}

func (r *Registry) release(gen uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// the holder belongs to a connection that was already reset
	if gen != r.gen || r.conn == nil {
		return
	}
	r.refs--
	if r.refs > 0 {
		return
	}
	r.conn.Close()
	r.conn = nil
	r.refs = 0
	r.logger.Info().Msg("last holder released, shared oracle connection closed")
}

// Reset drops conn if it is still the shared connection so the next Acquire re-dials.
// Outstanding release funcs for the dropped connection become no-ops.
func (r *Registry) Reset(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil || r.conn != conn {
		return
	}
	r.conn.Close()
	r.conn = nil
	r.refs = 0
	r.gen++
	r.logger.Warn().Msg("shared oracle connection reset")
}

// Refs reports the number of live holders.
func (r *Registry) Refs() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.refs
}

// Connected reports whether a shared connection is currently open.
func (r *Registry) Connected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}
