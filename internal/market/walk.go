package market

import "time"

// MaxDrift bounds a single random-walk step to ±0.25%.
const MaxDrift = 0.005

// Rand supplies uniform samples in [0, 1). *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

// Drift maps a uniform sample u in [0, 1) to a multiplicative factor in [0.9975, 1.0025).
func Drift(u float64) float64 {
	return 1 + (u-0.5)*MaxDrift
}

// NextPrice applies one random-walk step to price and rounds to three decimals.
func NextPrice(price, u float64) float64 {
	return Round3(price * Drift(u))
}

// Result is the outcome of one feed observation: either a price for a symbol or an error.
type Result struct {
	Symbol Symbol
	Price  float64
	Source Source
	Err    error
	At     time.Time
}

// OK reports whether the result carries a price.
func (r Result) OK() bool {
	return r.Err == nil
}
