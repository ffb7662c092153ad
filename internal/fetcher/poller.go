package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"

	"auxite-wallet/internal/market"
)

// PollerOptions parameterise the polling source.
type PollerOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// Poller reads the alternate JSON price endpoint.
type Poller struct {
	opts   PollerOptions
	logger zerolog.Logger
	client *resty.Client
}

// NewPoller constructs a polling fetcher.
func NewPoller(opts PollerOptions, logger zerolog.Logger) *Poller {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ua := strings.TrimSpace(opts.UserAgent)
	if ua == "" {
		ua = "auxite-feed/1.0"
	}

	client := resty.New()
	client.SetTimeout(timeout)
	client.SetHeader("Accept", "application/json")
	client.SetHeader("User-Agent", ua)

	return &Poller{
		opts:   opts,
		logger: logger.With().Str("component", "price_poller").Logger(),
		client: client,
	}
}

// FetchPrices performs one GET and returns the decoded rows. Rows are returned as
// delivered; symbol filtering is left to the caller.
func (p *Poller) FetchPrices(ctx context.Context) ([]PriceRow, error) {
	endpoint := strings.TrimSpace(p.opts.URL)
	if endpoint == "" {
		return nil, errors.New("poller url not configured")
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParam("symbols", symbolList()).
		Get(endpoint)
	if err != nil {
		return nil, fmt.Errorf("poll prices: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, parseHTTPError(resp.StatusCode(), resp.Body())
	}

	rows, err := decodeRows(resp.Body())
	if err != nil {
		return nil, err
	}
	p.logger.Debug().Int("rows", len(rows)).Msg("price poll completed")
	return rows, nil
}

// decodeRows accepts a bare array or one wrapped in a "data" envelope.
func decodeRows(payload []byte) ([]PriceRow, error) {
	trimmed := strings.TrimSpace(string(payload))
	if strings.HasPrefix(trimmed, "{") {
		var envelope struct {
			Data []PriceRow `json:"data"`
		}
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return nil, fmt.Errorf("decode price envelope: %w", err)
		}
		return envelope.Data, nil
	}
	var rows []PriceRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode prices: %w", err)
	}
	return rows, nil
}

func symbolList() string {
	parts := make([]string, 0, len(market.Symbols))
	for _, sym := range market.Symbols {
		parts = append(parts, sym.String())
	}
	return strings.Join(parts, ",")
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("price api error (%d): %s", status, apiErr.Error)
		}
	}
	if body := strings.TrimSpace(string(payload)); body != "" {
		return fmt.Errorf("price api error (%d): %s", status, body)
	}
	return fmt.Errorf("price api error (%d)", status)
}

var _ PriceFetcher = (*Poller)(nil)
