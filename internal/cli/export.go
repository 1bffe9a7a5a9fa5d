package cli

import (
	"time"

	"github.com/spf13/cobra"

	"whale-alerts/internal/app"
)

var (
	exportFrom string
	exportTo   string
	exportOpts app.ExportOptions
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export delivery history as CSV and/or PNG chart",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := time.Now().UTC()
		opts := exportOpts

		var err error
		if opts.From, err = parseTimeFlag("from", exportFrom, now); err != nil {
			return err
		}
		if opts.To, err = parseTimeFlag("to", exportTo, now); err != nil {
			return err
		}

		return getApp().Export(cmd.Context(), opts)
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "Window start, RFC3339 or look-back such as 48h (default 7 days before --to)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "Window end, RFC3339 or look-back (default now)")
	exportCmd.Flags().StringVar(&exportOpts.PNGPath, "png", "", "Path to write PNG chart")
	exportCmd.Flags().StringVar(&exportOpts.CSVPath, "csv", "", "Path to write CSV data")
	exportCmd.Flags().StringVar(&exportOpts.Symbol, "symbol", "", "Only export deliveries for this symbol")
	exportCmd.Flags().IntVar(&exportOpts.MaxPoints, "max-points", 0, "Maximum data points to export (defaults to config)")
}
