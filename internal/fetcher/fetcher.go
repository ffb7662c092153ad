package fetcher

import (
	"context"
)

// PriceFetcher retrieves the latest quotes from an external price endpoint.
type PriceFetcher interface {
	FetchPrices(ctx context.Context) ([]PriceRow, error)
}

// PriceRow is one entry of the polling endpoint payload. Change and ChangePct are
// 24h figures computed by the endpoint; Series feeds its own sparkline.
type PriceRow struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	ChangePct float64   `json:"changePct"`
	Bid       float64   `json:"bid"`
	Series    []float64 `json:"series"`
}
