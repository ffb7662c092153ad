package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"auxite-wallet/internal/logging"
	"auxite-wallet/internal/wallet"
)

// EnvPrefix namespaces environment overrides, e.g. AUXITE_FEED_TICK_INTERVAL.
const EnvPrefix = "AUXITE"

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Server   ServerConfig   `mapstructure:"server"`
	Feed     FeedConfig     `mapstructure:"feed"`
	Oracle   OracleConfig   `mapstructure:"oracle"`
	Poller   PollerConfig   `mapstructure:"poller"`
	Tokens   TokensConfig   `mapstructure:"tokens"`
	Wallet   wallet.Config  `mapstructure:"wallet"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr           string        `mapstructure:"addr"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
}

// FeedConfig governs the simulation and source arbitration.
type FeedConfig struct {
	TickInterval time.Duration      `mapstructure:"tick_interval"`
	HistoryLimit int                `mapstructure:"history_limit"`
	LiveGrace    time.Duration      `mapstructure:"live_grace"`
	StaleAfter   time.Duration      `mapstructure:"stale_after"`
	UpdateBuffer int                `mapstructure:"update_buffer"`
	Seed         map[string]float64 `mapstructure:"seed"`
}

// OracleConfig covers the on-chain event source.
type OracleConfig struct {
	WSURL          string                      `mapstructure:"ws_url"`
	RPCURL         string                      `mapstructure:"rpc_url"`
	EventName      string                      `mapstructure:"event_name"`
	Decimals       int                         `mapstructure:"decimals"`
	RequestTimeout time.Duration               `mapstructure:"request_timeout"`
	MinBackoff     time.Duration               `mapstructure:"min_backoff"`
	MaxBackoff     time.Duration               `mapstructure:"max_backoff"`
	PollInterval   time.Duration               `mapstructure:"poll_interval"`
	Feeds          map[string]OracleFeedConfig `mapstructure:"feeds"`
}

// OracleFeedConfig configures one symbol's oracle contract. Nil Decimals and an empty
// EventName inherit the oracle-wide values.
type OracleFeedConfig struct {
	Address   string `mapstructure:"address"`
	Decimals  *int   `mapstructure:"decimals"`
	EventName string `mapstructure:"event_name"`
}

// PollerConfig captures the alternate polling endpoint.
type PollerConfig struct {
	URL string `mapstructure:"url"`
	// APIBase is the endpoint root; "/prices" is appended when URL is empty.
	APIBase   string        `mapstructure:"api_base"`
	Interval  time.Duration `mapstructure:"interval"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
	// InfoURL is proxied verbatim by /api/info.
	InfoURL string `mapstructure:"info_url"`
}

// TokensConfig lists ERC-20 token contracts per symbol.
type TokensConfig struct {
	Addresses map[string]string `mapstructure:"addresses"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	EnsureSchema    bool          `mapstructure:"ensure_schema"`
}

// RedisConfig controls the latest-price mirror.
type RedisConfig struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled      bool           `mapstructure:"enabled"`
	ThresholdPct float64        `mapstructure:"threshold_pct"`
	Cooldown     time.Duration  `mapstructure:"cooldown"`
	Channels     []string       `mapstructure:"channels"`
	Telegram     TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig describes the Telegram channel.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// legacyEnv maps keys to the environment names used by the earlier dashboard build.
var legacyEnv = map[string][]string{
	"oracle.ws_url":              {"NEXT_PUBLIC_SEPOLIA_WSS_URL"},
	"oracle.rpc_url":             {"NEXT_PUBLIC_SEPOLIA_RPC_URL"},
	"oracle.feeds.auxg.address":  {"ORACLE_XAU", "NEXT_PUBLIC_ORACLE_XAU"},
	"oracle.feeds.auxs.address":  {"ORACLE_XAG", "NEXT_PUBLIC_ORACLE_XAG"},
	"oracle.feeds.auxpt.address": {"ORACLE_XPT", "NEXT_PUBLIC_ORACLE_XPT"},
	"oracle.feeds.auxpd.address": {"ORACLE_XPD", "NEXT_PUBLIC_ORACLE_XPD"},
	"tokens.addresses.auxg":      {"NEXT_PUBLIC_AUXG_ADDR"},
	"tokens.addresses.auxs":      {"NEXT_PUBLIC_AUXS_ADDR"},
	"tokens.addresses.auxpt":     {"NEXT_PUBLIC_AUXPT_ADDR"},
	"tokens.addresses.auxpd":     {"NEXT_PUBLIC_AUXPD_ADDR"},
	"wallet.project_id":          {"NEXT_PUBLIC_WC_PROJECT_ID"},
	"poller.api_base":            {"NEXT_PUBLIC_API_URL"},
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// bindEnv registers the prefixed name plus any legacy names for keys that have no
// default, so AutomaticEnv alone would not surface them during Unmarshal.
func bindEnv(v *viper.Viper) error {
	for key, legacy := range legacyEnv {
		names := append([]string{envName(key)}, legacy...)
		if err := v.BindEnv(append([]string{key}, names...)...); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	for _, key := range []string{"database.dsn", "redis.addr", "redis.password", "poller.url", "alerting.telegram.bot_token", "alerting.telegram.chat_id"} {
		if err := v.BindEnv(key, envName(key)); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "auxite")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:3000"})
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.write_timeout", "15s")

	v.SetDefault("feed.tick_interval", "10s")
	v.SetDefault("feed.history_limit", 120)
	v.SetDefault("feed.live_grace", "30s")
	v.SetDefault("feed.stale_after", "2m")
	v.SetDefault("feed.update_buffer", 256)

	v.SetDefault("oracle.event_name", "PriceUpdated")
	v.SetDefault("oracle.decimals", 2)
	v.SetDefault("oracle.request_timeout", "10s")
	v.SetDefault("oracle.min_backoff", "1s")
	v.SetDefault("oracle.max_backoff", "1m")
	v.SetDefault("oracle.poll_interval", "4s")

	v.SetDefault("poller.interval", "5s")
	v.SetDefault("poller.timeout", "10s")
	v.SetDefault("poller.user_agent", "auxite-feed/1.0")
	v.SetDefault("poller.info_url", "https://api.auxite.io/v1/info")

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.ensure_schema", true)

	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "auxite")
	v.SetDefault("redis.ttl", "2m")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_pct", 1.0)
	v.SetDefault("alerting.cooldown", "15m")
	v.SetDefault("alerting.channels", []string{"telegram"})
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 5000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values. Per-item problems
// such as a malformed contract address are left to the components, which skip them.
func (c *Config) Validate() error {
	if c.Feed.TickInterval <= 0 {
		return fmt.Errorf("feed.tick_interval must be greater than zero")
	}
	if c.Feed.HistoryLimit <= 0 {
		return fmt.Errorf("feed.history_limit must be greater than zero")
	}
	if c.Feed.LiveGrace < 0 {
		return fmt.Errorf("feed.live_grace cannot be negative")
	}
	if c.Feed.StaleAfter < 0 {
		return fmt.Errorf("feed.stale_after cannot be negative")
	}
	if c.Poller.Interval <= 0 {
		return fmt.Errorf("poller.interval must be greater than zero")
	}
	if c.Oracle.PollInterval <= 0 {
		return fmt.Errorf("oracle.poll_interval must be greater than zero")
	}
	if c.Oracle.Decimals < 0 || c.Oracle.Decimals > 36 {
		return fmt.Errorf("oracle.decimals must be between 0 and 36")
	}
	for sym, feed := range c.Oracle.Feeds {
		if feed.Decimals != nil && (*feed.Decimals < 0 || *feed.Decimals > 36) {
			return fmt.Errorf("oracle.feeds.%s.decimals must be between 0 and 36", sym)
		}
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}

// PollURL is the polling endpoint, derived from APIBase when URL is unset.
func (c *Config) PollURL() string {
	if u := strings.TrimSpace(c.Poller.URL); u != "" {
		return u
	}
	if base := strings.TrimRight(strings.TrimSpace(c.Poller.APIBase), "/"); base != "" {
		return base + "/prices"
	}
	return ""
}

// FeedDecimals returns the decimals of one oracle feed, falling back to the
// oracle-wide setting.
func (c *Config) FeedDecimals(feed OracleFeedConfig) int {
	if feed.Decimals != nil {
		return *feed.Decimals
	}
	return c.Oracle.Decimals
}

// FeedEventName returns the event name of one oracle feed, falling back to the
// oracle-wide setting.
func (c *Config) FeedEventName(feed OracleFeedConfig) string {
	if name := strings.TrimSpace(feed.EventName); name != "" {
		return name
	}
	return c.Oracle.EventName
}
