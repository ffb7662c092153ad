package trade

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
)

// Side is the order direction chosen in the trade panel.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// NoEstimate is displayed when no total can be computed.
const NoEstimate = "—"

var (
	// ErrInvalidSide marks a side other than BUY or SELL.
	ErrInvalidSide = errors.New("trade: side must be BUY or SELL")
	// ErrSettlementUnavailable is returned by Confirm: orders are never executed.
	ErrSettlementUnavailable = errors.New("trade: settlement not available in demo mode")
)

// ParseSide accepts BUY or SELL case-insensitively.
func ParseSide(raw string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(raw))) {
	case Buy:
		return Buy, nil
	case Sell:
		return Sell, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidSide, raw)
}

// Quote is an estimated order total.
type Quote struct {
	ID         string        `json:"id"`
	Symbol     market.Symbol `json:"symbol"`
	Side       Side          `json:"side"`
	Quantity   string        `json:"quantity"`
	UnitPrice  *float64      `json:"unitPrice,omitempty"`
	Total      float64       `json:"total"`
	Display    string        `json:"display"`
	CanConfirm bool          `json:"canConfirm"`
}

// UnitPrice selects the price a side trades at: the bid for SELL when one exists,
// otherwise the current price.
func UnitPrice(row market.TokenRow, side Side) (float64, bool) {
	price := row.Price
	if side == Sell && row.Bid != nil {
		price = *row.Bid
	}
	if !market.IsFinite(price) || price <= 0 {
		return 0, false
	}
	return price, true
}

// Estimate multiplies qty by unit. An empty, unparsable, zero or negative quantity,
// or a missing unit price, yields a zero total and ok=false.
func Estimate(qty string, unit float64) (decimal.Decimal, bool) {
	q, err := decimal.NewFromString(strings.TrimSpace(qty))
	if err != nil || !q.IsPositive() {
		return decimal.Zero, false
	}
	if !market.IsFinite(unit) || unit <= 0 {
		return decimal.Zero, false
	}
	return q.Mul(decimal.NewFromFloat(unit)), true
}

// NewQuote builds the panel state for a symbol, side and quantity entry.
func NewQuote(row market.TokenRow, side Side, qty string) Quote {
	q := Quote{
		ID:       uuid.NewString(),
		Symbol:   row.Symbol,
		Side:     side,
		Quantity: strings.TrimSpace(qty),
		Display:  NoEstimate,
	}
	unit, ok := UnitPrice(row, side)
	if !ok {
		return q
	}
	q.UnitPrice = &unit

	total, ok := Estimate(qty, unit)
	if !ok {
		return q
	}
	q.Total = total.InexactFloat64()
	q.Display = total.StringFixed(market.PricePlaces)
	q.CanConfirm = true
	return q
}

// Confirm never executes: there is no settlement backend.
func Confirm(q Quote) error {
	if !q.CanConfirm {
		return fmt.Errorf("trade: quote %s has no valid total", q.ID)
	}
	return fmt.Errorf("%w: %s %s g %s @ %s", ErrSettlementUnavailable, q.Side, q.Quantity, q.Symbol, q.Display)
}
