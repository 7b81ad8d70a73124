package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/notify"
	"lol-match-alerts/internal/rules"
	"lol-match-alerts/internal/stats"
	"lol-match-alerts/internal/storage"
)

// Simulate re-evaluates the rule set against a stored match and prints what
// would fire to stdout. Record and audit writes land in a throwaway copy of
// the player's state, so a dry-run never mutates real history or dedups a
// future live firing.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if opts.PUUID == "" || opts.MatchID == "" {
		return errors.New("both puuid and match id are required")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot simulate")
	}
	defer closeStore()

	ruleSet, err := rules.Load(a.Config.Rules.Path)
	if err != nil {
		return fmt.Errorf("load rules from %s: %w", a.Config.Rules.Path, err)
	}

	match, err := store.GetMatch(ctx, opts.MatchID)
	if err != nil {
		return err
	}
	if match == nil {
		return fmt.Errorf("match %s is not stored", opts.MatchID)
	}
	participant, ok := match.ParticipantByPUUID(opts.PUUID)
	if !ok {
		return fmt.Errorf("player %s did not play in match %s", opts.PUUID, opts.MatchID)
	}

	player, err := store.GetPlayer(ctx, opts.PUUID)
	if err != nil {
		return err
	}
	if player == nil {
		player = &storage.TrackedPlayer{PUUID: opts.PUUID}
	}

	scratch, err := scratchRecords(ctx, store, opts.PUUID)
	if err != nil {
		return err
	}

	provider := stats.NewProvider(store, a.Logger)
	if err := provider.Refresh(ctx, []string{opts.PUUID}); err != nil {
		return fmt.Errorf("build percentile snapshot: %w", err)
	}

	evaluator := rules.NewEvaluator(
		ruleSet,
		scratch,
		scratch,
		provider,
		&notify.ConsoleNotifier{Out: os.Stdout},
		a.Logger,
	)

	fmt.Fprintf(os.Stdout, "simulating %d rules against match %s for %s\n",
		len(ruleSet), opts.MatchID, player.RiotID())

	return evaluator.HandleEvent(ctx, events.NewMatchEvent{
		Player:      *player,
		Match:       *match,
		Participant: participant,
		PublishedAt: time.Now().UTC(),
	})
}

// scratchRecords seeds an in-memory store with the player's current personal
// records so personal-record rules compare against real state.
func scratchRecords(ctx context.Context, store storage.RecordStore, puuid string) (*storage.Memory, error) {
	scratch := storage.NewMemory()
	records, err := store.ListPersonalRecords(ctx, puuid)
	if err != nil {
		return nil, err
	}
	for _, rec := range records {
		if err := scratch.SetPersonalRecord(ctx, rec); err != nil {
			return nil, err
		}
	}
	return scratch, nil
}
