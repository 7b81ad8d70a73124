package stats

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"lol-match-alerts/internal/storage"
)

// Summary holds the moments of one stat distribution.
type Summary struct {
	Count  int
	Mean   float64
	StdDev float64
}

// Percentile estimates where value falls within the distribution, in the
// 0..100 range, assuming normality. Degenerate distributions resolve without
// division: an empty sample yields 0, a single sample yields 50, and a
// zero-variance sample splits on the mean.
func (s Summary) Percentile(value float64) float64 {
	switch {
	case s.Count == 0:
		return 0
	case s.Count == 1:
		return 50
	case s.StdDev == 0:
		switch {
		case value < s.Mean:
			return 0
		case value > s.Mean:
			return 100
		default:
			return 50
		}
	}
	z := (value - s.Mean) / s.StdDev
	return 100 * 0.5 * (1 + math.Erf(z/math.Sqrt2))
}

// Summarize computes the moments of a sample. StdDev is the population
// standard deviation, matching the snapshot's all-observed-matches scope.
func Summarize(values []float64) Summary {
	n := len(values)
	if n == 0 {
		return Summary{}
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(n)

	var sqDiff float64
	for _, v := range values {
		d := v - mean
		sqDiff += d * d
	}

	return Summary{
		Count:  n,
		Mean:   mean,
		StdDev: math.Sqrt(sqDiff / float64(n)),
	}
}

// Provider serves percentile snapshots over stored match history. Snapshots
// refresh on their own cadence, deliberately slower than rule evaluation, so
// a burst of new matches does not turn every poll into a full table scan.
type Provider struct {
	store  storage.StatStore
	logger zerolog.Logger

	mu         sync.RWMutex
	population map[string]Summary
	players    map[string]map[string]Summary
	refreshed  time.Time
}

// NewProvider constructs a Provider. Call Refresh or RefreshLoop before
// evaluating percentile rules; an unrefreshed provider reports empty
// distributions.
func NewProvider(store storage.StatStore, logger zerolog.Logger) *Provider {
	return &Provider{
		store:      store,
		logger:     logger.With().Str("component", "stats").Logger(),
		population: make(map[string]Summary),
		players:    make(map[string]map[string]Summary),
	}
}

// Population returns the all-players snapshot for a stat field.
func (p *Provider) Population(statField string) Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.population[statField]
}

// Player returns one player's own snapshot for a stat field.
func (p *Provider) Player(puuid, statField string) Summary {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.players[puuid][statField]
}

// LastRefreshed reports when the snapshot was last rebuilt.
func (p *Provider) LastRefreshed() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.refreshed
}

// Refresh rebuilds the population snapshot for every stat field and the
// per-player snapshots for the given players.
func (p *Provider) Refresh(ctx context.Context, puuids []string) error {
	started := time.Now()
	population := make(map[string]Summary, len(storage.StatFields()))
	players := make(map[string]map[string]Summary, len(puuids))

	for _, field := range storage.StatFields() {
		values, err := p.store.StatValues(ctx, field)
		if err != nil {
			return err
		}
		population[field] = Summarize(values)

		for _, puuid := range puuids {
			own, err := p.store.PlayerStatValues(ctx, puuid, field)
			if err != nil {
				return err
			}
			if players[puuid] == nil {
				players[puuid] = make(map[string]Summary)
			}
			players[puuid][field] = Summarize(own)
		}
	}

	p.mu.Lock()
	p.population = population
	p.players = players
	p.refreshed = time.Now().UTC()
	p.mu.Unlock()

	p.logger.Debug().
		Int("players", len(puuids)).
		Dur("elapsed", time.Since(started)).
		Msg("percentile snapshot refreshed")
	return nil
}

// RefreshLoop refreshes on the given interval until ctx is cancelled. The
// first refresh runs immediately. Failures are logged and the stale snapshot
// stays in service until the next attempt succeeds.
func (p *Provider) RefreshLoop(ctx context.Context, interval time.Duration, listPlayers func(context.Context) ([]string, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		puuids, err := listPlayers(ctx)
		if err != nil {
			p.logger.Error().Err(err).Msg("failed to list players for snapshot refresh")
		} else if err := p.Refresh(ctx, puuids); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error().Err(err).Msg("percentile snapshot refresh failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
