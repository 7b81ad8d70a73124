package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"lol-match-alerts/internal/app"
)

var (
	backfillPUUID string
	backfillSince string
	backfillCount int
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Ingest historical matches for a player without firing rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.BackfillOptions{
			PUUID: backfillPUUID,
			Count: backfillCount,
		}

		if backfillSince != "" {
			since, err := time.Parse(time.RFC3339, backfillSince)
			if err != nil {
				return fmt.Errorf("invalid --since value: %w", err)
			}
			opts.Since = since
		}

		return getApp().Backfill(cmd.Context(), opts)
	},
}

func init() {
	backfillCmd.Flags().StringVar(&backfillPUUID, "puuid", "", "Player PUUID to backfill")
	backfillCmd.Flags().StringVar(&backfillSince, "since", "", "Earliest match start to ingest (RFC3339)")
	backfillCmd.Flags().IntVar(&backfillCount, "count", 0, "Maximum matches to ingest (defaults to polling batch size)")
	_ = backfillCmd.MarkFlagRequired("puuid")
}
