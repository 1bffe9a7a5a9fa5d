package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"whale-alerts/internal/app"
)

var simulateOpts app.SimulateOptions

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push one synthetic whale alert through enrichment and delivery",
	RunE: func(cmd *cobra.Command, args []string) error {
		if strings.TrimSpace(simulateOpts.Symbol) == "" {
			return errors.New("--symbol must be provided")
		}

		res, err := getApp().SimulateAlert(cmd.Context(), simulateOpts)
		if res.Message != "" {
			fmt.Fprintln(cmd.OutOrStdout(), res.Message)
		}
		return err
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateOpts.Symbol, "symbol", "ETH", "Asset symbol")
	simulateCmd.Flags().StringVar(&simulateOpts.Blockchain, "blockchain", "ethereum", "Blockchain name")
	simulateCmd.Flags().StringVar(&simulateOpts.Amount, "amount", "1500", "Transferred amount in asset units")
	simulateCmd.Flags().StringVar(&simulateOpts.ValueUSD, "value-usd", "4500000", "Transferred value in USD")
	simulateCmd.Flags().StringVar(&simulateOpts.From, "from", "binance", "Sender owner label or address")
	simulateCmd.Flags().StringVar(&simulateOpts.To, "to", "unknown", "Receiver owner label or address")
}
