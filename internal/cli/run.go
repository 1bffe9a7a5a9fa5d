package cli

import (
	"errors"

	"github.com/spf13/cobra"
)

var (
	runMaxInFlight int
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Stream whale alerts and deliver enriched messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := getApp()
		if cmd.Flags().Changed("max-in-flight") {
			if runMaxInFlight < 0 {
				return errors.New("--max-in-flight must be zero (unbounded) or positive")
			}
			a.Config.Pipeline.MaxInFlight = runMaxInFlight
		}
		if cmd.Flags().Changed("metrics-addr") {
			a.Config.Metrics.ListenAddr = runMetricsAddr
		}
		return a.Run(cmd.Context())
	},
}

func init() {
	runCmd.Flags().IntVar(&runMaxInFlight, "max-in-flight", 0, "Override pipeline.max_in_flight (0 = unbounded)")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "", "Override metrics.listen_addr (empty disables)")
}
