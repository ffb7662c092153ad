package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"auxite-wallet/internal/app"
	"auxite-wallet/internal/market"
)

var (
	showLimit  int
	showSymbol string
	showAlerts bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent recorded ticks or alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:  showLimit,
			Alerts: showAlerts,
		}
		if showSymbol != "" {
			sym, err := market.ParseSymbol(showSymbol)
			if err != nil {
				return err
			}
			opts.Symbol = sym
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().StringVar(&showSymbol, "symbol", "", "Limit ticks to one token")
	showCmd.Flags().BoolVar(&showAlerts, "alerts", false, "Show recent move alerts instead of ticks")
}
