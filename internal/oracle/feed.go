package oracle

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
)

const (
	// DefaultEventName is the oracle event carrying a new price.
	DefaultEventName = "PriceUpdated"
	// DefaultDecimals is the fixed-point scale of the raw event value.
	DefaultDecimals = 2
)

var (
	// ErrInvalidAddress marks a malformed contract address.
	ErrInvalidAddress = errors.New("oracle: invalid contract address")
	// ErrDecode marks an event payload that could not be turned into a price.
	ErrDecode = errors.New("oracle: decode event")
)

// Feed describes one symbol's oracle contract.
type Feed struct {
	Symbol    market.Symbol
	Address   common.Address
	EventName string
	Decimals  int32

	event abi.Event
}

// NewFeed validates address and prepares the event decoder. An empty event name and
// a negative decimals value fall back to the defaults.
func NewFeed(sym market.Symbol, address, eventName string, decimals int) (Feed, error) {
	if !sym.Valid() {
		return Feed{}, fmt.Errorf("%w: %q", market.ErrUnknownSymbol, sym)
	}
	address = strings.TrimSpace(address)
	if address == "" || !common.IsHexAddress(address) {
		return Feed{}, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	if eventName == "" {
		eventName = DefaultEventName
	}
	if decimals < 0 {
		decimals = DefaultDecimals
	}

	parsed, err := abi.JSON(strings.NewReader(priceEventABI(eventName)))
	if err != nil {
		return Feed{}, fmt.Errorf("parse %s abi: %w", eventName, err)
	}

	return Feed{
		Symbol:    sym,
		Address:   common.HexToAddress(address),
		EventName: eventName,
		Decimals:  int32(decimals),
		event:     parsed.Events[eventName],
	}, nil
}

// Topic is the event signature hash, e.g. keccak256("PriceUpdated(uint256)").
func (f Feed) Topic() common.Hash {
	return f.event.ID
}

// Query filters logs of this feed's event on its contract.
func (f Feed) Query() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{f.Address},
		Topics:    [][]common.Hash{{f.Topic()}},
	}
}

// DecodeRaw extracts the uint256 value carried by lg. Both the standard non-indexed
// layout and an indexed value in the first topic are accepted.
func (f Feed) DecodeRaw(lg types.Log) (*big.Int, error) {
	if len(lg.Topics) == 0 || lg.Topics[0] != f.Topic() {
		return nil, fmt.Errorf("%w: unexpected topic", ErrDecode)
	}
	if len(lg.Data) > 0 {
		values, err := f.event.Inputs.Unpack(lg.Data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecode, err)
		}
		if len(values) != 1 {
			return nil, fmt.Errorf("%w: expected 1 value, got %d", ErrDecode, len(values))
		}
		raw, ok := values[0].(*big.Int)
		if !ok || raw == nil {
			return nil, fmt.Errorf("%w: value is not uint256", ErrDecode)
		}
		return raw, nil
	}
	if len(lg.Topics) > 1 {
		return lg.Topics[1].Big(), nil
	}
	return nil, fmt.Errorf("%w: empty payload", ErrDecode)
}

// Decode turns lg into a price rounded to three decimals.
func (f Feed) Decode(lg types.Log) (float64, error) {
	raw, err := f.DecodeRaw(lg)
	if err != nil {
		return 0, err
	}
	return ScalePrice(raw, f.Decimals), nil
}

// ScalePrice interprets raw as a fixed-point number with the given decimals.
func ScalePrice(raw *big.Int, decimals int32) float64 {
	return decimal.NewFromBigInt(raw, -decimals).Round(market.PricePlaces).InexactFloat64()
}

func priceEventABI(name string) string {
	return fmt.Sprintf(`[{"anonymous":false,"inputs":[{"indexed":false,"internalType":"uint256","name":"newPrice","type":"uint256"}],"name":%q,"type":"event"}]`, name)
}
