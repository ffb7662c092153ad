package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
)

// PriceTick is one accepted price update as persisted.
type PriceTick struct {
	ID         int64            `json:"id"`
	Symbol     market.Symbol    `json:"symbol"`
	Price      decimal.Decimal  `json:"price"`
	PrevPrice  decimal.Decimal  `json:"prevPrice"`
	Bid        *decimal.Decimal `json:"bid,omitempty"`
	Source     market.Source    `json:"source"`
	ObservedAt time.Time        `json:"observedAt"`
	CreatedAt  time.Time        `json:"createdAt"`
}

// TickFromRow converts a store row into its persisted form.
func TickFromRow(row market.TokenRow) PriceTick {
	tick := PriceTick{
		Symbol:     row.Symbol,
		Price:      decimal.NewFromFloat(row.Price),
		PrevPrice:  decimal.NewFromFloat(row.PrevPrice),
		Source:     row.Source,
		ObservedAt: row.UpdatedAt.UTC(),
	}
	if row.Bid != nil {
		bid := decimal.NewFromFloat(*row.Bid)
		tick.Bid = &bid
	}
	if tick.ObservedAt.IsZero() {
		tick.ObservedAt = time.Now().UTC()
	}
	return tick
}

// AlertRecord captures an emitted move alert for auditing.
type AlertRecord struct {
	ID           int64
	Symbol       market.Symbol
	ObservedAt   time.Time
	ChangePct    decimal.Decimal
	ThresholdPct decimal.Decimal
	Direction    string
	Channels     []string
	CreatedAt    time.Time
}
