package cli

import (
	"github.com/spf13/cobra"

	"lol-match-alerts/internal/app"
)

var (
	showPUUID string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show recent fired rules, or a player's personal records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Show(cmd.Context(), app.ShowOptions{
			PUUID: showPUUID,
			Limit: showLimit,
		})
	},
}

func init() {
	showCmd.Flags().StringVar(&showPUUID, "puuid", "", "Show personal records for this player instead of notifications")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Maximum notifications to show")
}
