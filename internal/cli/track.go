package cli

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var trackCmd = &cobra.Command{
	Use:   "track <gameName#tagLine>",
	Short: "Start tracking a player by Riot ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		gameName, tagLine, ok := strings.Cut(args[0], "#")
		if !ok {
			return errors.New("riot id must be in gameName#tagLine form")
		}
		return getApp().Track(cmd.Context(), gameName, tagLine)
	},
}

var untrackCmd = &cobra.Command{
	Use:   "untrack <puuid>",
	Short: "Stop tracking a player",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Untrack(cmd.Context(), args[0])
	},
}

var playersCmd = &cobra.Command{
	Use:   "players",
	Short: "List tracked players",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Players(cmd.Context())
	},
}
