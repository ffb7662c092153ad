package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"auxite-wallet/internal/app"
	"auxite-wallet/internal/market"
)

var (
	simulateTicks int
	simulateSeed  int64

	simulateAlertSymbol string
	simulateAlertFrom   float64
	simulateAlertTo     float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the random-walk simulation offline and print the token cards",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{Ticks: simulateTicks, Seed: simulateSeed})
	},
}

var simulateAlertCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic price move through the alert channel",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAlertFrom <= 0 || simulateAlertTo <= 0 {
			return errors.New("--from and --to must be greater than 0")
		}
		sym, err := market.ParseSymbol(simulateAlertSymbol)
		if err != nil {
			return err
		}
		return getApp().SimulateAlert(cmd.Context(), app.SimulateAlertOptions{
			Symbol: sym,
			From:   simulateAlertFrom,
			To:     simulateAlertTo,
		})
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simulateTicks, "ticks", 12, "Number of simulation ticks")
	simulateCmd.Flags().Int64Var(&simulateSeed, "seed", 0, "Random seed (0 uses the clock)")

	simulateAlertCmd.Flags().StringVar(&simulateAlertSymbol, "symbol", "AUXG", "Token symbol or metal code")
	simulateAlertCmd.Flags().Float64Var(&simulateAlertFrom, "from", 0, "Previous price (USDT / gram)")
	simulateAlertCmd.Flags().Float64Var(&simulateAlertTo, "to", 0, "New price (USDT / gram)")
}
