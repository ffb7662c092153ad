package alerting

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
	"auxite-wallet/internal/storage"
)

// AlertRecorder persists emitted alerts.
type AlertRecorder interface {
	InsertAlert(ctx context.Context, alert storage.AlertRecord) (storage.AlertRecord, error)
}

// MoveOptions tune the move alerter.
type MoveOptions struct {
	ThresholdPct float64
	Cooldown     time.Duration
	Channels     []string
	Now          func() time.Time
}

// MoveAlerter notifies when a single update moves a price by at least the threshold.
// Each symbol is muted for the cooldown after a successful notification.
type MoveAlerter struct {
	notifier  Notifier
	recorder  AlertRecorder
	threshold decimal.Decimal
	opts      MoveOptions
	logger    zerolog.Logger

	mu   sync.Mutex
	last map[market.Symbol]time.Time
}

// NewMoveAlerter constructs the alerter. recorder may be nil.
func NewMoveAlerter(notifier Notifier, recorder AlertRecorder, opts MoveOptions, logger zerolog.Logger) *MoveAlerter {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &MoveAlerter{
		notifier:  notifier,
		recorder:  recorder,
		threshold: decimal.NewFromFloat(opts.ThresholdPct),
		opts:      opts,
		logger:    logger.With().Str("component", "move_alerter").Logger(),
		last:      make(map[market.Symbol]time.Time),
	}
}

// Name identifies the alerter as an update sink.
func (a *MoveAlerter) Name() string {
	return "alerts"
}

// HandleUpdate checks row against the threshold and notifies when crossed.
func (a *MoveAlerter) HandleUpdate(ctx context.Context, row market.TokenRow) error {
	if a.notifier == nil || !a.threshold.IsPositive() {
		return nil
	}
	_, pct := market.Change(row)
	changePct := decimal.NewFromFloat(pct)
	if changePct.Abs().LessThan(a.threshold) {
		return nil
	}

	now := a.opts.Now().UTC()
	if a.coolingDown(row.Symbol, now) {
		a.logger.Debug().Str("symbol", row.Symbol.String()).Msg("move alert suppressed by cooldown")
		return nil
	}

	observed := row.UpdatedAt
	if observed.IsZero() {
		observed = now
	}
	note := Notification{
		Symbol:       row.Symbol,
		Name:         row.Name,
		ObservedAt:   observed,
		Price:        decimal.NewFromFloat(row.Price),
		PrevPrice:    decimal.NewFromFloat(row.PrevPrice),
		ChangePct:    changePct,
		ThresholdPct: a.threshold,
		Direction:    market.DirectionOf(row),
		Source:       row.Source,
		Channels:     a.opts.Channels,
	}

	if err := a.notifier.Notify(ctx, note); err != nil {
		return fmt.Errorf("notify %s move: %w", row.Symbol, err)
	}

	// only delivered alerts are recorded; a failed send is retried on the next move
	if a.recorder != nil {
		record := storage.AlertRecord{
			Symbol:       row.Symbol,
			ObservedAt:   observed,
			ChangePct:    changePct,
			ThresholdPct: a.threshold,
			Direction:    string(note.Direction),
			Channels:     a.opts.Channels,
		}
		if _, err := a.recorder.InsertAlert(ctx, record); err != nil {
			a.logger.Error().Err(err).Str("symbol", row.Symbol.String()).Msg("failed to persist alert record")
		}
	}

	a.mu.Lock()
	a.last[row.Symbol] = now
	a.mu.Unlock()
	return nil
}

func (a *MoveAlerter) coolingDown(sym market.Symbol, now time.Time) bool {
	if a.opts.Cooldown <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.last[sym]
	return ok && now.Sub(last) < a.opts.Cooldown
}
