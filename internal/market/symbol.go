package market

import (
	"errors"
	"fmt"
	"strings"
)

// Symbol identifies one of the four metal-backed tokens.
type Symbol string

const (
	Gold      Symbol = "AUXG"
	Silver    Symbol = "AUXS"
	Platinum  Symbol = "AUXPT"
	Palladium Symbol = "AUXPD"
)

// ErrUnknownSymbol is returned when a string does not name a tracked token.
var ErrUnknownSymbol = errors.New("unknown token symbol")

// Symbols lists the tracked tokens in display order.
var Symbols = []Symbol{Gold, Silver, Platinum, Palladium}

var (
	names = map[Symbol]string{
		Gold:      "Gold",
		Silver:    "Silver",
		Platinum:  "Platinum",
		Palladium: "Palladium",
	}

	// USDT per gram.
	defaultPrices = map[Symbol]float64{
		Gold:      75.0,
		Silver:    1.10,
		Platinum:  32.0,
		Palladium: 70.0,
	}

	metalCodes = map[string]Symbol{
		"XAU": Gold,
		"XAG": Silver,
		"XPT": Platinum,
		"XPD": Palladium,
	}
)

// ParseSymbol accepts a token symbol or its metal code (XAU, XAG, XPT, XPD), case-insensitively.
func ParseSymbol(raw string) (Symbol, error) {
	key := strings.ToUpper(strings.TrimSpace(raw))
	if sym, ok := metalCodes[key]; ok {
		return sym, nil
	}
	sym := Symbol(key)
	if _, ok := names[sym]; ok {
		return sym, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSymbol, raw)
}

// Valid reports whether s is one of the tracked tokens.
func (s Symbol) Valid() bool {
	_, ok := names[s]
	return ok
}

// Name returns the display label of the token.
func (s Symbol) Name() string {
	return names[s]
}

// MetalCode returns the ISO-like metal code backing the token.
func (s Symbol) MetalCode() string {
	for code, sym := range metalCodes {
		if sym == s {
			return code
		}
	}
	return ""
}

// DefaultPrice is the seed price used before any feed update arrives.
func DefaultPrice(s Symbol) float64 {
	return defaultPrices[s]
}

func (s Symbol) String() string {
	return string(s)
}
