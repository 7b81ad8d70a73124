package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"lol-match-alerts/internal/storage"
)

func newTrackedPlayer(puuid, gameName, tagLine, region string) storage.TrackedPlayer {
	return storage.TrackedPlayer{
		PUUID:          puuid,
		GameName:       gameName,
		TagLine:        tagLine,
		Region:         region,
		PollingEnabled: true,
	}
}

// Track resolves a Riot ID to a PUUID and registers the player for polling.
// Re-tracking an existing player refreshes the stored identity.
func (a *App) Track(ctx context.Context, gameName, tagLine string) error {
	if gameName == "" || tagLine == "" {
		return errors.New("both game name and tag line are required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot track players")
	}
	defer closeStore()

	account, err := a.newClient().FetchAccountByRiotID(ctx, gameName, tagLine)
	if err != nil {
		return fmt.Errorf("resolve riot id %s#%s: %w", gameName, tagLine, err)
	}

	player := newTrackedPlayer(account.PUUID, account.GameName, account.TagLine, a.Config.Riot.Region)
	if err := store.AddPlayer(ctx, player); err != nil {
		return fmt.Errorf("register player: %w", err)
	}

	a.Logger.Info().
		Str("puuid", account.PUUID).
		Str("player", player.RiotID()).
		Msg("player tracked")
	fmt.Fprintf(os.Stdout, "tracking %s (%s)\n", player.RiotID(), account.PUUID)
	return nil
}

// Untrack removes a player and stops polling them. Stored match history is
// kept; it still feeds the population percentile snapshot.
func (a *App) Untrack(ctx context.Context, puuid string) error {
	if puuid == "" {
		return errors.New("puuid is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot untrack players")
	}
	defer closeStore()

	if err := store.RemovePlayer(ctx, puuid); err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	fmt.Fprintf(os.Stdout, "untracked %s\n", puuid)
	return nil
}

// Players prints the tracked roster.
func (a *App) Players(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list players")
	}
	defer closeStore()

	players, err := store.ListPlayers(ctx, false)
	if err != nil {
		return err
	}
	if len(players) == 0 {
		fmt.Fprintln(os.Stdout, "no tracked players")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Player\tPUUID\tRegion\tEnabled\tCursor\tLast Polled")
	for _, p := range players {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%t\t%s\t%s\n",
			p.RiotID(),
			p.PUUID,
			p.Region,
			p.PollingEnabled,
			formatTimePtr(p.LastMatchTime),
			formatTimePtr(p.LastPolledAt),
		)
	}
	return writer.Flush()
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}
