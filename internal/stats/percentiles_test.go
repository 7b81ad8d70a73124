package stats

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lol-match-alerts/internal/storage"
)

func TestPercentileDegenerateDistributions(t *testing.T) {
	if got := (Summary{}).Percentile(10); got != 0 {
		t.Fatalf("empty sample percentile = %v, want 0", got)
	}
	if got := (Summary{Count: 1, Mean: 10}).Percentile(99); got != 50 {
		t.Fatalf("single sample percentile = %v, want 50", got)
	}

	flat := Summary{Count: 10, Mean: 5, StdDev: 0}
	if got := flat.Percentile(4); got != 0 {
		t.Fatalf("below zero-variance mean = %v, want 0", got)
	}
	if got := flat.Percentile(5); got != 50 {
		t.Fatalf("at zero-variance mean = %v, want 50", got)
	}
	if got := flat.Percentile(6); got != 100 {
		t.Fatalf("above zero-variance mean = %v, want 100", got)
	}
}

func TestPercentileNormalApproximation(t *testing.T) {
	s := Summary{Count: 100, Mean: 10, StdDev: 2}

	if got := s.Percentile(10); math.Abs(got-50) > 1e-9 {
		t.Fatalf("percentile at mean = %v, want 50", got)
	}
	// One standard deviation above the mean sits near the 84th percentile.
	if got := s.Percentile(12); math.Abs(got-84.134) > 0.01 {
		t.Fatalf("percentile at mean+1sd = %v, want ~84.13", got)
	}
	if got := s.Percentile(8); math.Abs(got-15.866) > 0.01 {
		t.Fatalf("percentile at mean-1sd = %v, want ~15.87", got)
	}
}

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{2, 4, 4, 4, 5, 5, 7, 9})
	if s.Count != 8 || s.Mean != 5 || s.StdDev != 2 {
		t.Fatalf("summary = %+v, want count 8 mean 5 stddev 2", s)
	}
	if got := Summarize(nil); got.Count != 0 {
		t.Fatalf("nil sample summary = %+v", got)
	}
}

func TestProviderRefreshScopesPlayers(t *testing.T) {
	store := storage.NewMemory()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, kills := range []int{2, 4, 6, 8} {
		rec := storage.MatchRecord{
			MatchID:      "EUW1_" + string(rune('1'+i)),
			GameStart:    base.Add(time.Duration(i) * time.Hour),
			GameDuration: 1800,
			Participants: []storage.Participant{
				{PUUID: "p1", Kills: kills, Deaths: 2, Assists: 1},
				{PUUID: "p2", Kills: 10 - kills, Deaths: 3, Assists: 2},
			},
		}
		if _, err := store.UpsertMatch(ctx, rec); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}

	p := NewProvider(store, zerolog.Nop())
	if err := p.Refresh(ctx, []string{"p1"}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	pop := p.Population("kills")
	if pop.Count != 8 || pop.Mean != 5 {
		t.Fatalf("population kills = %+v, want count 8 mean 5", pop)
	}

	own := p.Player("p1", "kills")
	if own.Count != 4 || own.Mean != 5 {
		t.Fatalf("player kills = %+v, want count 4 mean 5", own)
	}

	// A player without a snapshot reports an empty distribution.
	if got := p.Player("p3", "kills"); got.Count != 0 {
		t.Fatalf("unknown player summary = %+v", got)
	}
	if p.LastRefreshed().IsZero() {
		t.Fatal("refresh timestamp not recorded")
	}
}
