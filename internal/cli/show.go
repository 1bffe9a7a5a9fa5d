package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"whale-alerts/internal/app"
)

var (
	showLimit  int
	showFailed bool
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alert deliveries",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		return getApp().Show(cmd.Context(), app.ShowOptions{
			Limit:      showLimit,
			FailedOnly: showFailed,
		})
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of deliveries to display")
	showCmd.Flags().BoolVar(&showFailed, "failed", false, "Only list deliveries that did not reach Telegram")
}
