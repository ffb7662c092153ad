package market

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Direction of the last price move.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	Flat Direction = "flat"
)

// UnitLabel is the quote unit shown next to every price.
const UnitLabel = "USDT / gram"

// Palette holds the sparkline colours of a token as hex strings without '#'.
type Palette struct {
	Line string `json:"line"`
	Fill string `json:"fill"`
}

var palettes = map[Symbol]Palette{
	Gold:      {Line: "f59e0b", Fill: "f59e0b"},
	Silver:    {Line: "9ca3af", Fill: "9ca3af"},
	Platinum:  {Line: "60a5fa", Fill: "60a5fa"},
	Palladium: {Line: "34d399", Fill: "34d399"},
}

// PaletteFor returns the chart colours for sym.
func PaletteFor(sym Symbol) Palette {
	if p, ok := palettes[sym]; ok {
		return p
	}
	return Palette{Line: "6b7280", Fill: "6b7280"}
}

// Card is the presentation model of one token.
type Card struct {
	Symbol    Symbol    `json:"symbol"`
	Name      string    `json:"name"`
	Price     string    `json:"price"`
	Change    string    `json:"change"`
	ChangePct string    `json:"changePct"`
	Direction Direction `json:"direction"`
	Bid       string    `json:"bid,omitempty"`
	Unit      string    `json:"unit"`
	Palette   Palette   `json:"palette"`
	Spark     []float64 `json:"spark"`
	Stale     bool      `json:"stale"`
}

// Change returns price - prevPrice and the percentage move relative to prevPrice.
// The percentage is zero when prevPrice is zero.
func Change(row TokenRow) (diff, pct float64) {
	diff = row.Price - row.PrevPrice
	if row.PrevPrice != 0 {
		pct = diff / row.PrevPrice * 100
	}
	return diff, pct
}

// DirectionOf classifies the last move of row.
func DirectionOf(row TokenRow) Direction {
	switch {
	case row.Price > row.PrevPrice:
		return Up
	case row.Price < row.PrevPrice:
		return Down
	default:
		return Flat
	}
}

// NewCard builds the card for row with its history samples.
func NewCard(row TokenRow, history []float64, stale bool) Card {
	diff, pct := Change(row)
	change := decimal.NewFromFloat(diff).StringFixed(PricePlaces)
	if diff >= 0 && !strings.HasPrefix(change, "-") {
		change = "+" + change
	}

	card := Card{
		Symbol:    row.Symbol,
		Name:      row.Name,
		Price:     decimal.NewFromFloat(row.Price).StringFixed(PricePlaces),
		Change:    change,
		ChangePct: decimal.NewFromFloat(pct).StringFixed(2),
		Direction: DirectionOf(row),
		Unit:      UnitLabel,
		Palette:   PaletteFor(row.Symbol),
		Spark:     append([]float64(nil), history...),
		Stale:     stale,
	}
	if row.Bid != nil {
		card.Bid = decimal.NewFromFloat(*row.Bid).StringFixed(PricePlaces)
	}
	return card
}
