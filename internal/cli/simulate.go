package cli

import (
	"github.com/spf13/cobra"

	"lol-match-alerts/internal/app"
)

var (
	simulatePUUID string
	simulateMatch string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Dry-run the rule set against a stored match",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			PUUID:   simulatePUUID,
			MatchID: simulateMatch,
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulatePUUID, "puuid", "", "Player PUUID to evaluate")
	simulateCmd.Flags().StringVar(&simulateMatch, "match", "", "Stored match id to evaluate")
	_ = simulateCmd.MarkFlagRequired("puuid")
	_ = simulateCmd.MarkFlagRequired("match")
}
