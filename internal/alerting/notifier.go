package alerting

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
)

// Notification describes a single large price move.
type Notification struct {
	Symbol        market.Symbol
	Name          string
	ObservedAt    time.Time
	Price         decimal.Decimal
	PrevPrice     decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     market.Direction
	Source        market.Source
	Channels      []string
	AdditionalMsg string
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	client   *resty.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHostURL(strings.TrimRight(baseURL, "/"))
	client.SetHeader("Content-Type", "application/json")

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		client:   client,
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage with the rendered text.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	resp, err := n.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(fmt.Sprintf("/bot%s/sendMessage", n.botToken))
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	if !resp.IsSuccess() {
		return fmt.Errorf("telegram responded with status %d", resp.StatusCode())
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.Unmarshal(resp.Body(), &result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false")
	}

	n.logger.Info().
		Str("symbol", note.Symbol.String()).
		Str("direction", string(note.Direction)).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Msg("alert sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString(fmt.Sprintf("[Auxite %s Move]\n", note.Symbol))
	if note.Name != "" {
		builder.WriteString(fmt.Sprintf("Token: %s (%s)\n", note.Name, note.Symbol))
	}
	builder.WriteString(fmt.Sprintf("Time: %s UTC\n", note.ObservedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Price: %s %s\n", note.Price.StringFixed(market.PricePlaces), market.UnitLabel))
	builder.WriteString(fmt.Sprintf("Previous: %s %s\n", note.PrevPrice.StringFixed(market.PricePlaces), market.UnitLabel))
	builder.WriteString(fmt.Sprintf("Change: %s%% (threshold %s%%)\n", note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("Direction: %s\n", note.Direction))
	if note.Source != "" {
		builder.WriteString(fmt.Sprintf("Source: %s\n", note.Source))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
