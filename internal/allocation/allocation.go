package allocation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// ErrInvalidAddress marks input that is not a hex account address.
var ErrInvalidAddress = errors.New("allocation: invalid address")

const (
	addressRequired = "address required"
	demoCount       = 3
	prefixLen       = 8
)

// Result is the checker answer shown to the user.
type Result struct {
	Address string `json:"address,omitempty"`
	Message string `json:"message"`
	Count   int    `json:"count"`
	Demo    bool   `json:"demo"`
}

// Checker answers allocation queries. There is no allocation backend: every valid
// address gets the same canned answer, flagged as demo data.
type Checker struct {
	logger zerolog.Logger
}

// NewChecker constructs a Checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{logger: logger.With().Str("component", "allocation_checker").Logger()}
}

// Check returns the canned answer for addr.
func (c *Checker) Check(addr string) (Result, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return Result{Message: addressRequired}, nil
	}
	if !common.IsHexAddress(addr) {
		return Result{}, fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	c.logger.Debug().Str("address", addr).Msg("allocation check answered with demo data")
	return Result{
		Address: addr,
		Message: fmt.Sprintf("Demo: %s… has %d active allocations.", addr[:prefixLen], demoCount),
		Count:   demoCount,
		Demo:    true,
	}, nil
}
