package oracle

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"auxite-wallet/internal/market"
)

const erc20ABIJSON = `[
{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"symbol","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
{"inputs":[],"name":"name","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"}
]`

const defaultTokenDecimals = 18

var erc20ABI abi.ABI

func init() {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		panic("failed to parse ERC-20 ABI: " + err.Error())
	}
	erc20ABI = parsed
}

// Balance is one token holding of a wallet.
type Balance struct {
	Symbol      market.Symbol `json:"symbol"`
	Balance     string        `json:"balance"`
	Raw         string        `json:"raw"`
	Decimals    uint8         `json:"decimals"`
	Name        string        `json:"name,omitempty"`
	SymbolLabel string        `json:"symbolLabel,omitempty"`
}

// BalanceOptions parameterise the ERC-20 reader.
type BalanceOptions struct {
	Tokens  map[market.Symbol]common.Address
	Timeout time.Duration
}

// BalanceReader reads token metadata and balances over the shared connection.
type BalanceReader struct {
	registry *Registry
	opts     BalanceOptions
	logger   zerolog.Logger
}

// NewBalanceReader builds a reader for the configured token contracts.
func NewBalanceReader(registry *Registry, opts BalanceOptions, logger zerolog.Logger) *BalanceReader {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &BalanceReader{registry: registry, opts: opts, logger: logger.With().Str("component", "balance_reader").Logger()}
}

// Balances returns one row per tracked symbol. Metadata and balance calls that fail
// fall back to defaults (18 decimals, the symbol as label, zero balance) so a single
// broken contract never hides the others.
func (b *BalanceReader) Balances(ctx context.Context, holder string) ([]Balance, error) {
	if !common.IsHexAddress(holder) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, holder)
	}
	if len(b.opts.Tokens) == 0 {
		return nil, errors.New("no token contracts configured")
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	conn, release, err := b.registry.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	owner := common.HexToAddress(holder)
	rows := make([]Balance, 0, len(market.Symbols))
	for _, sym := range market.Symbols {
		token, ok := b.opts.Tokens[sym]
		if !ok {
			continue
		}
		rows = append(rows, b.readToken(ctx, conn, sym, token, owner))
	}
	return rows, nil
}

func (b *BalanceReader) readToken(ctx context.Context, conn Conn, sym market.Symbol, token, owner common.Address) Balance {
	row := Balance{Symbol: sym, Decimals: defaultTokenDecimals, SymbolLabel: sym.String()}

	if out, err := b.call(ctx, conn, token, "decimals"); err == nil {
		if v, ok := out[0].(uint8); ok {
			row.Decimals = v
		}
	}
	if out, err := b.call(ctx, conn, token, "symbol"); err == nil {
		if v, ok := out[0].(string); ok && v != "" {
			row.SymbolLabel = v
		}
	}
	row.Name = row.SymbolLabel
	if out, err := b.call(ctx, conn, token, "name"); err == nil {
		if v, ok := out[0].(string); ok && v != "" {
			row.Name = v
		}
	}

	raw := big.NewInt(0)
	out, err := b.call(ctx, conn, token, "balanceOf", owner)
	if err != nil {
		b.logger.Warn().Err(err).Str("symbol", sym.String()).Msg("balanceOf failed, reporting zero")
	} else if v, ok := out[0].(*big.Int); ok && v != nil {
		raw = v
	}

	row.Raw = raw.String()
	row.Balance = decimal.NewFromBigInt(raw, -int32(row.Decimals)).String()
	return row
}

func (b *BalanceReader) call(ctx context.Context, conn Conn, token common.Address, method string, args ...interface{}) ([]interface{}, error) {
	payload, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}
	res, err := conn.CallContract(ctx, ethereum.CallMsg{To: &token, Data: payload}, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}
	out, err := erc20ABI.Unpack(method, res)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unexpected %s response", method)
	}
	return out, nil
}
