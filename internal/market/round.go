package market

import (
	"math"

	"github.com/shopspring/decimal"
)

// BidFactor is the fixed synthetic spread applied to derive the bid from the price.
var BidFactor = decimal.RequireFromString("0.999")

// PricePlaces is the number of decimals prices are quoted with.
const PricePlaces = 3

// IsFinite reports whether v is neither NaN nor infinite.
func IsFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Round3 rounds v half away from zero to three decimals. Non-finite input is returned as-is.
func Round3(v float64) float64 {
	if !IsFinite(v) {
		return v
	}
	return decimal.NewFromFloat(v).Round(PricePlaces).InexactFloat64()
}

// BidFor derives the synthetic bid for a price.
func BidFor(price float64) float64 {
	return decimal.NewFromFloat(price).Mul(BidFactor).Round(PricePlaces).InexactFloat64()
}
