package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

var schemaSQL = []string{
	`CREATE TABLE IF NOT EXISTS price_ticks (
        id          BIGSERIAL PRIMARY KEY,
        symbol      TEXT NOT NULL,
        price       NUMERIC(20,6) NOT NULL,
        prev_price  NUMERIC(20,6) NOT NULL,
        bid         NUMERIC(20,6),
        source      TEXT NOT NULL,
        observed_at TIMESTAMPTZ NOT NULL,
        created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
	`CREATE INDEX IF NOT EXISTS price_ticks_symbol_observed_idx ON price_ticks (symbol, observed_at DESC);`,
	`CREATE TABLE IF NOT EXISTS move_alerts (
        id            BIGSERIAL PRIMARY KEY,
        symbol        TEXT NOT NULL,
        observed_at   TIMESTAMPTZ NOT NULL,
        change_pct    NUMERIC(12,4) NOT NULL,
        threshold_pct NUMERIC(12,4) NOT NULL,
        direction     TEXT NOT NULL,
        channels      TEXT[] NOT NULL DEFAULT '{}',
        created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
    );`,
}

const (
	insertTickSQL = `INSERT INTO price_ticks (
        symbol,
        price,
        prev_price,
        bid,
        source,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    );`

	tickColumns = `id,
        symbol,
        price::text,
        prev_price::text,
        bid::text,
        source,
        observed_at,
        created_at`

	listTicksBetweenSQL = `SELECT ` + tickColumns + `
    FROM price_ticks
    WHERE observed_at >= $1
      AND observed_at < $2
      AND ($3::text = '' OR symbol = $3::text)
    ORDER BY observed_at, id;`

	listRecentTicksSQL = `SELECT ` + tickColumns + `
    FROM price_ticks
    WHERE ($1::text = '' OR symbol = $1::text)
    ORDER BY observed_at DESC, id DESC
    LIMIT $2;`

	countTicksSQL = `SELECT COUNT(*) FROM price_ticks;`

	deleteTicksBeforeSQL = `DELETE FROM price_ticks WHERE observed_at < $1;`

	insertAlertSQL = `INSERT INTO move_alerts (
        symbol,
        observed_at,
        change_pct,
        threshold_pct,
        direction,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    RETURNING id, created_at;`

	listRecentAlertsSQL = `SELECT
        id,
        symbol,
        observed_at,
        change_pct::text,
        threshold_pct::text,
        direction,
        channels,
        created_at
    FROM move_alerts
    ORDER BY created_at DESC
    LIMIT $1;`
)

// TickStore defines operations for price tick persistence.
type TickStore interface {
	InsertTick(ctx context.Context, tick PriceTick) error
	ListTicksBetween(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]PriceTick, error)
	ListRecentTicks(ctx context.Context, symbol market.Symbol, limit int) ([]PriceTick, error)
	CountTicks(ctx context.Context) (int64, error)
	DeleteTicksBefore(ctx context.Context, olderThan time.Time) (int64, error)
}

// AlertStore defines operations for alert auditing.
type AlertStore interface {
	InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error)
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error)
}

// Store aggregates access to price ticks and alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	for _, stmt := range schemaSQL {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Name identifies the store as an update sink.
func (s *Store) Name() string {
	return "postgres"
}

// HandleUpdate records an accepted store update.
func (s *Store) HandleUpdate(ctx context.Context, row market.TokenRow) error {
	return s.InsertTick(ctx, TickFromRow(row))
}

// InsertTick persists one price tick.
func (s *Store) InsertTick(ctx context.Context, tick PriceTick) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var bid interface{}
	if tick.Bid != nil {
		bid = tick.Bid.String()
	}

	_, execErr := pool.Exec(ctx, insertTickSQL,
		tick.Symbol.String(),
		tick.Price.String(),
		tick.PrevPrice.String(),
		bid,
		string(tick.Source),
		tick.ObservedAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert price tick: %w", execErr)
	}
	return nil
}

// ListTicksBetween lists ticks within a time window, oldest first. An empty symbol
// selects every symbol.
func (s *Store) ListTicksBetween(ctx context.Context, symbol market.Symbol, from, to time.Time) ([]PriceTick, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listTicksBetweenSQL, from, to, symbol.String())
	if queryErr != nil {
		return nil, fmt.Errorf("list ticks between: %w", queryErr)
	}
	defer rows.Close()

	return collectTicks(rows, 0)
}

// ListRecentTicks lists the most recent ticks, newest first.
func (s *Store) ListRecentTicks(ctx context.Context, symbol market.Symbol, limit int) ([]PriceTick, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTicksSQL, symbol.String(), limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent ticks: %w", queryErr)
	}
	defer rows.Close()

	return collectTicks(rows, limit)
}

// CountTicks counts stored ticks.
func (s *Store) CountTicks(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countTicksSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count ticks: %w", scanErr)
	}
	return count, nil
}

// DeleteTicksBefore prunes old ticks and reports how many were removed.
func (s *Store) DeleteTicksBefore(ctx context.Context, olderThan time.Time) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	tag, execErr := pool.Exec(ctx, deleteTicksBeforeSQL, olderThan)
	if execErr != nil {
		return 0, fmt.Errorf("delete ticks before: %w", execErr)
	}
	return tag.RowsAffected(), nil
}

// InsertAlert persists an alert emission.
func (s *Store) InsertAlert(ctx context.Context, alert AlertRecord) (AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlertRecord{}, err
	}

	channels := alert.Channels
	if channels == nil {
		channels = []string{}
	}

	row := pool.QueryRow(ctx, insertAlertSQL,
		alert.Symbol.String(),
		alert.ObservedAt,
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Direction,
		channels,
	)

	rec := alert
	if scanErr := row.Scan(&rec.ID, &rec.CreatedAt); scanErr != nil {
		return AlertRecord{}, fmt.Errorf("insert alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentAlerts lists most recent alerts.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]AlertRecord, 0, limit)
	for rows.Next() {
		var rec AlertRecord
		var symbol, changeStr, thresholdStr string
		if err := rows.Scan(
			&rec.ID,
			&symbol,
			&rec.ObservedAt,
			&changeStr,
			&thresholdStr,
			&rec.Direction,
			&rec.Channels,
			&rec.CreatedAt,
		); err != nil {
			return nil, err
		}
		rec.Symbol = market.Symbol(symbol)

		var convErr error
		rec.ChangePct, convErr = decimal.NewFromString(changeStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse change pct: %w", convErr)
		}
		rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse threshold pct: %w", convErr)
		}

		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

func collectTicks(rows pgx.Rows, capacity int) ([]PriceTick, error) {
	ticks := make([]PriceTick, 0, capacity)
	for rows.Next() {
		tick, scanErr := scanTick(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		ticks = append(ticks, tick)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return ticks, nil
}

func scanTick(rows pgx.Rows) (PriceTick, error) {
	var (
		id         int64
		symbol     string
		priceStr   string
		prevStr    string
		bidStr     sql.NullString
		source     string
		observedAt time.Time
		createdAt  time.Time
	)

	if err := rows.Scan(
		&id,
		&symbol,
		&priceStr,
		&prevStr,
		&bidStr,
		&source,
		&observedAt,
		&createdAt,
	); err != nil {
		return PriceTick{}, err
	}

	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return PriceTick{}, fmt.Errorf("parse price: %w", err)
	}
	prev, err := decimal.NewFromString(prevStr)
	if err != nil {
		return PriceTick{}, fmt.Errorf("parse prev price: %w", err)
	}

	tick := PriceTick{
		ID:         id,
		Symbol:     market.Symbol(symbol),
		Price:      price,
		PrevPrice:  prev,
		Source:     market.Source(source),
		ObservedAt: observedAt,
		CreatedAt:  createdAt,
	}
	if bidStr.Valid {
		bid, err := decimal.NewFromString(bidStr.String)
		if err != nil {
			return PriceTick{}, fmt.Errorf("parse bid: %w", err)
		}
		tick.Bid = &bid
	}
	return tick, nil
}
