package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"lol-match-alerts/internal/config"
	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/riot"
	"lol-match-alerts/internal/scheduler"
	"lol-match-alerts/internal/storage"
)

// Fetcher is the slice of the API client the poller consumes.
type Fetcher interface {
	FetchMatchIDs(ctx context.Context, puuid string, since time.Time, count int) ([]string, error)
	FetchMatch(ctx context.Context, matchID string) (*storage.MatchRecord, error)
}

// Service discovers new matches for tracked players on a fixed cadence and
// publishes one event per newly persisted match.
type Service struct {
	players storage.PlayerStore
	matches storage.MatchStore
	fetcher Fetcher
	bus     *events.Bus
	cfg     config.PollingConfig
	timeout time.Duration
	logger  zerolog.Logger
}

// New constructs the polling service. Timeout bounds each individual API
// fetch; zero disables the per-fetch deadline.
func New(
	players storage.PlayerStore,
	matches storage.MatchStore,
	fetcher Fetcher,
	bus *events.Bus,
	cfg config.PollingConfig,
	timeout time.Duration,
	logger zerolog.Logger,
) *Service {
	return &Service{
		players: players,
		matches: matches,
		fetcher: fetcher,
		bus:     bus,
		cfg:     cfg,
		timeout: timeout,
		logger:  logger.With().Str("component", "poller").Logger(),
	}
}

// Run blocks, polling on the configured interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	sched := scheduler.New(scheduler.Options{
		Interval:     s.cfg.Interval,
		AlignToStart: s.cfg.AlignToInterval,
		StartupDelay: s.cfg.StartupDelay,
	}, s.logger)
	return sched.Run(ctx, func(ctx context.Context, _ time.Time) error {
		return s.PollOnce(ctx)
	})
}

// PollOnce runs one full cycle over all enabled players. Player cycles run
// concurrently up to the worker limit; each player's own cycle is strictly
// sequential so cursor updates stay ordered. A storage failure listing
// players abandons the cycle; polling resumes on the next tick.
func (s *Service) PollOnce(ctx context.Context) error {
	players, err := s.players.ListPlayers(ctx, true)
	if err != nil {
		return fmt.Errorf("list enabled players: %w", err)
	}
	if len(players) == 0 {
		s.logger.Debug().Msg("no enabled players to poll")
		return nil
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for _, player := range players {
		player := player
		g.Go(func() error {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Per-player failures are contained; one player's API trouble
			// must not stop the rest of the roster.
			if err := s.pollPlayer(ctx, player); err != nil {
				s.logger.Error().Err(err).
					Str("puuid", player.PUUID).
					Str("player", player.RiotID()).
					Msg("player poll cycle failed")
			}
			return nil
		})
	}
	return g.Wait()
}

// BackfillPlayer runs a single cycle for the player exactly as given,
// honouring the cursor on the passed struct rather than the stored one. The
// backfill command rewinds that cursor to widen the fetch window.
func (s *Service) BackfillPlayer(ctx context.Context, player storage.TrackedPlayer) error {
	return s.pollPlayer(ctx, player)
}

// pollPlayer fetches and processes everything newer than the player's
// cursor. The cursor only advances after the batch completes: a retryable
// failure mid-batch aborts without advancing, so the next tick refetches the
// same window and the idempotent upsert absorbs the overlap.
func (s *Service) pollPlayer(ctx context.Context, player storage.TrackedPlayer) error {
	since := time.Time{}
	if player.LastMatchTime != nil {
		// Nudge past the cursor so the boundary match is not refetched.
		since = player.LastMatchTime.Add(time.Second)
	}

	ids, err := s.fetchIDs(ctx, player.PUUID, since)
	if err != nil {
		if riot.IsRetryable(err) {
			s.logger.Warn().Err(err).Str("puuid", player.PUUID).Msg("match id fetch deferred")
			return nil
		}
		return fmt.Errorf("fetch match ids: %w", err)
	}

	defer func() {
		if err := s.players.TouchPolled(ctx, player.PUUID, time.Now().UTC()); err != nil {
			s.logger.Error().Err(err).Str("puuid", player.PUUID).Msg("failed to record poll time")
		}
	}()

	if len(ids) == 0 {
		return nil
	}

	var newest time.Time
	inserted := 0
	for _, matchID := range ids {
		rec, err := s.fetchMatch(ctx, matchID)
		if err != nil {
			if riot.IsPermanent(err) {
				s.logger.Error().Err(err).Str("match_id", matchID).Msg("skipping unprocessable match")
				continue
			}
			s.logger.Warn().Err(err).Str("match_id", matchID).Msg("aborting batch, will retry next tick")
			return nil
		}

		result, err := s.matches.UpsertMatch(ctx, *rec)
		if err != nil {
			return fmt.Errorf("persist match %s: %w", matchID, err)
		}

		if rec.GameStart.After(newest) {
			newest = rec.GameStart
		}
		if result != storage.Inserted {
			continue
		}
		inserted++

		participant, ok := rec.ParticipantByPUUID(player.PUUID)
		if !ok {
			s.logger.Error().
				Str("match_id", matchID).
				Str("puuid", player.PUUID).
				Msg("tracked player absent from own match")
			continue
		}
		s.bus.Publish(ctx, events.NewMatchEvent{
			Player:      player,
			Match:       *rec,
			Participant: participant,
			PublishedAt: time.Now().UTC(),
		})
	}

	if !newest.IsZero() {
		advanced, err := s.players.AdvanceCursor(ctx, player.PUUID, newest)
		if err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		if advanced {
			s.logger.Info().
				Str("puuid", player.PUUID).
				Time("cursor", newest).
				Int("new_matches", inserted).
				Msg("player cursor advanced")
		}
	}
	return nil
}

func (s *Service) fetchIDs(ctx context.Context, puuid string, since time.Time) ([]string, error) {
	ctx, cancel := s.fetchContext(ctx)
	defer cancel()
	return s.fetcher.FetchMatchIDs(ctx, puuid, since, s.cfg.BatchSize)
}

func (s *Service) fetchMatch(ctx context.Context, matchID string) (*storage.MatchRecord, error) {
	ctx, cancel := s.fetchContext(ctx)
	defer cancel()
	return s.fetcher.FetchMatch(ctx, matchID)
}

func (s *Service) fetchContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
