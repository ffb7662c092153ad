package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"auxite-wallet/internal/app"
	"auxite-wallet/internal/market"
	"auxite-wallet/internal/trade"
)

var (
	estimateSymbol  string
	estimateSide    string
	estimateQty     string
	estimatePrice   string
	estimateConfirm bool
)

var estimateCmd = &cobra.Command{
	Use:   "estimate",
	Short: "Estimate a demo buy/sell order total",
	RunE: func(cmd *cobra.Command, args []string) error {
		sym, err := market.ParseSymbol(estimateSymbol)
		if err != nil {
			return err
		}
		side, err := trade.ParseSide(estimateSide)
		if err != nil {
			return err
		}

		opts := app.EstimateOptions{
			Symbol:   sym,
			Side:     side,
			Quantity: estimateQty,
			Confirm:  estimateConfirm,
		}
		if estimatePrice != "" {
			price, err := strconv.ParseFloat(estimatePrice, 64)
			if err != nil {
				return fmt.Errorf("invalid --price value: %w", err)
			}
			opts.Price = &price
		}

		return getApp().Estimate(cmd.Context(), opts)
	},
}

var allocationCmd = &cobra.Command{
	Use:   "allocation-check <address>",
	Short: "Check metal allocations of a wallet (demo data)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := ""
		if len(args) == 1 {
			addr = args[0]
		}
		return getApp().AllocationCheck(cmd.Context(), addr)
	},
}

var balancesCmd = &cobra.Command{
	Use:   "balances <address>",
	Short: "Read token balances of a wallet from the configured contracts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Balances(cmd.Context(), args[0])
	},
}

func init() {
	estimateCmd.Flags().StringVar(&estimateSymbol, "symbol", "AUXG", "Token symbol or metal code")
	estimateCmd.Flags().StringVar(&estimateSide, "side", "BUY", "BUY or SELL")
	estimateCmd.Flags().StringVar(&estimateQty, "qty", "", "Quantity in grams")
	estimateCmd.Flags().StringVar(&estimatePrice, "price", "", "Override the seeded price")
	estimateCmd.Flags().BoolVar(&estimateConfirm, "confirm", false, "Attempt the demo confirmation")
}
