package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"auxite-wallet/internal/market"
)

const defaultPrefix = "auxite"

// Options configure the Redis mirror.
type Options struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// NewClient opens a Redis client for opts.
func NewClient(opts Options) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
}

// Mirror copies every accepted update to Redis: the latest row per symbol under
// <prefix>:latest:<SYM> and a pub/sub message on <prefix>:prices.
type Mirror struct {
	client redis.Cmdable
	prefix string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewMirror wraps client.
func NewMirror(client redis.Cmdable, opts Options, logger zerolog.Logger) *Mirror {
	prefix := strings.Trim(strings.TrimSpace(opts.KeyPrefix), ":")
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &Mirror{
		client: client,
		prefix: prefix,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_mirror").Logger(),
	}
}

// LatestKey is the key holding the latest row of sym.
func (m *Mirror) LatestKey(sym market.Symbol) string {
	return fmt.Sprintf("%s:latest:%s", m.prefix, sym)
}

// Channel is the pub/sub channel updates are published on.
func (m *Mirror) Channel() string {
	return m.prefix + ":prices"
}

// Name identifies the mirror as an update sink.
func (m *Mirror) Name() string {
	return "redis"
}

// HandleUpdate stores and publishes row in one pipeline.
func (m *Mirror) HandleUpdate(ctx context.Context, row market.TokenRow) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("marshal row: %w", err)
	}

	_, err = m.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, m.LatestKey(row.Symbol), payload, m.ttl)
		pipe.Publish(ctx, m.Channel(), payload)
		return nil
	})
	if err != nil {
		return fmt.Errorf("mirror %s: %w", row.Symbol, err)
	}
	m.logger.Trace().Str("symbol", row.Symbol.String()).Msg("row mirrored")
	return nil
}

// Ping checks connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
