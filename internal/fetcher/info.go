package fetcher

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// InfoOptions configure the upstream info document fetch.
type InfoOptions struct {
	URL       string
	Timeout   time.Duration
	UserAgent string
}

// InfoClient fetches the upstream service info document so browsers can read it
// through this API without cross-origin restrictions.
type InfoClient struct {
	url    string
	client *resty.Client
	logger zerolog.Logger
}

// NewInfoClient constructs an InfoClient.
func NewInfoClient(opts InfoOptions, logger zerolog.Logger) *InfoClient {
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
	client.SetHeader("User-Agent", ua)

	return &InfoClient{
		url:    strings.TrimSpace(opts.URL),
		client: client,
		logger: logger.With().Str("component", "info_client").Logger(),
	}
}

// FetchInfo returns the raw upstream body.
func (c *InfoClient) FetchInfo(ctx context.Context) ([]byte, error) {
	if c.url == "" {
		return nil, errors.New("info url not configured")
	}
	resp, err := c.client.R().SetContext(ctx).Get(c.url)
	if err != nil {
		return nil, fmt.Errorf("fetch info: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, parseHTTPError(resp.StatusCode(), resp.Body())
	}
	c.logger.Debug().Int("bytes", len(resp.Body())).Msg("info document fetched")
	return resp.Body(), nil
}
