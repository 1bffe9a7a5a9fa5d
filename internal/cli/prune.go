package cli

import (
	"time"

	"github.com/spf13/cobra"

	"whale-alerts/internal/app"
)

var pruneBefore string

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete delivery audit rows older than a cutoff",
	RunE: func(cmd *cobra.Command, args []string) error {
		before, err := parseTimeFlag("before", pruneBefore, time.Now().UTC())
		if err != nil {
			return err
		}
		return getApp().Prune(cmd.Context(), app.PruneOptions{Before: before})
	},
}

func init() {
	pruneCmd.Flags().StringVar(&pruneBefore, "before", "", "Cutoff, RFC3339 or look-back such as 720h (defaults to audit.retention)")
}
