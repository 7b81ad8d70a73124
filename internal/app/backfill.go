package app

import (
	"context"
	"errors"
	"fmt"

	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/poller"
)

// Backfill ingests a player's historical matches without firing rules. It
// reuses the normal poll cycle but publishes into an empty bus, so old
// matches fill the stat history silently instead of flooding notifications.
func (a *App) Backfill(ctx context.Context, opts BackfillOptions) error {
	if opts.PUUID == "" {
		return errors.New("puuid is required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot backfill")
	}
	defer closeStore()

	player, err := store.GetPlayer(ctx, opts.PUUID)
	if err != nil {
		return fmt.Errorf("load player: %w", err)
	}
	if player == nil {
		return fmt.Errorf("player %s is not tracked", opts.PUUID)
	}

	// Rewind the in-memory cursor so the window covers the requested range.
	// The stored cursor is monotonic and only advances if the backfill finds
	// something newer than it, which keeps live polling unaffected.
	if !opts.Since.IsZero() {
		since := opts.Since.UTC()
		player.LastMatchTime = &since
	} else {
		player.LastMatchTime = nil
	}

	cfg := a.Config.Polling
	if opts.Count > 0 {
		cfg.BatchSize = opts.Count
	}

	before, err := store.CountMatches(ctx)
	if err != nil {
		return err
	}

	silentBus := events.NewBus(a.Logger)
	svc := poller.New(store, store, a.newClient(), silentBus, cfg, a.Config.Riot.RequestTimeout, a.Logger)
	if err := svc.BackfillPlayer(ctx, *player); err != nil {
		return err
	}

	after, err := store.CountMatches(ctx)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("puuid", opts.PUUID).
		Int64("new_matches", after-before).
		Msg("backfill complete")
	return nil
}
