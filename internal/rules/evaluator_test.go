package rules

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/notify"
	"lol-match-alerts/internal/stats"
	"lol-match-alerts/internal/storage"
)

type captureNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
	fail error
}

func (c *captureNotifier) Notify(_ context.Context, n notify.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail != nil {
		return c.fail
	}
	c.sent = append(c.sent, n)
	return nil
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fixture struct {
	store    *storage.Memory
	provider *stats.Provider
	notifier *captureNotifier
	eval     *Evaluator
}

func newFixture(t *testing.T, set []Rule) *fixture {
	t.Helper()
	store := storage.NewMemory()
	provider := stats.NewProvider(store, zerolog.Nop())
	notifier := &captureNotifier{}
	return &fixture{
		store:    store,
		provider: provider,
		notifier: notifier,
		eval:     NewEvaluator(set, store, store, provider, notifier, zerolog.Nop()),
	}
}

func matchEvent(matchID string, p storage.Participant) events.NewMatchEvent {
	return events.NewMatchEvent{
		Player:      storage.TrackedPlayer{PUUID: p.PUUID, GameName: "One", TagLine: "EUW"},
		Match:       storage.MatchRecord{MatchID: matchID, GameStart: time.Now().UTC(), GameDuration: 1800},
		Participant: p,
		PublishedAt: time.Now().UTC(),
	}
}

func TestAbsoluteRuleFiresAtThreshold(t *testing.T) {
	f := newFixture(t, []Rule{{
		ID: "high-kills", StatField: "kills", Kind: KindAbsolute,
		Operator: OpGreaterOrEqual, Threshold: decimal.NewFromInt(10),
	}})
	ctx := context.Background()

	if err := f.eval.HandleEvent(ctx, matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Kills: 12})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1 for 12 kills", f.notifier.count())
	}

	if err := f.eval.HandleEvent(ctx, matchEvent("EUW1_2", storage.Participant{PUUID: "p1", Kills: 9})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, 9 kills must stay silent", f.notifier.count())
	}
}

func TestPersonalMaxRecordLifecycle(t *testing.T) {
	f := newFixture(t, []Rule{{ID: "kill-record", StatField: "kills", Kind: KindPersonalMax}})
	ctx := context.Background()

	// The first observation fires and seeds the record.
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Kills: 5}))
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, first observation must fire", f.notifier.count())
	}
	rec, _ := f.store.GetPersonalRecord(ctx, "p1", "kills", storage.RecordMax)
	if rec == nil || !rec.Value.Equal(decimal.NewFromInt(5)) {
		t.Fatalf("seeded record = %+v, want 5", rec)
	}

	// A higher value fires and advances the record.
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_2", storage.Participant{PUUID: "p1", Kills: 7}))
	if f.notifier.count() != 2 {
		t.Fatalf("notifications = %d, want 2 after beating the record", f.notifier.count())
	}
	rec, _ = f.store.GetPersonalRecord(ctx, "p1", "kills", storage.RecordMax)
	if !rec.Value.Equal(decimal.NewFromInt(7)) || rec.MatchID != "EUW1_2" {
		t.Fatalf("record = %+v, want 7 from EUW1_2", rec)
	}

	// Equal and lower values stay silent and leave the record alone.
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_3", storage.Participant{PUUID: "p1", Kills: 7}))
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_4", storage.Participant{PUUID: "p1", Kills: 6}))
	if f.notifier.count() != 2 {
		t.Fatalf("notifications = %d, equal or lower values must not fire", f.notifier.count())
	}
	rec, _ = f.store.GetPersonalRecord(ctx, "p1", "kills", storage.RecordMax)
	if rec.MatchID != "EUW1_2" {
		t.Fatalf("record moved to %s on a non-improving value", rec.MatchID)
	}
}

func TestPersonalMinRuleFiresOnImprovement(t *testing.T) {
	f := newFixture(t, []Rule{{ID: "fewest-deaths", StatField: "deaths", Kind: KindPersonalMin}})
	ctx := context.Background()

	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Deaths: 5}))
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_2", storage.Participant{PUUID: "p1", Deaths: 2}))
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_3", storage.Participant{PUUID: "p1", Deaths: 4}))
	if f.notifier.count() != 2 {
		t.Fatalf("notifications = %d, want seed + new minimum only", f.notifier.count())
	}

	rec, _ := f.store.GetPersonalRecord(ctx, "p1", "deaths", storage.RecordMin)
	if !rec.Value.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("min record = %s, want 2", rec.Value)
	}
}

func TestPersonalRecordSurvivesConcurrentArrivalOrder(t *testing.T) {
	f := newFixture(t, []Rule{{ID: "kill-record", StatField: "kills", Kind: KindPersonalMax}})
	ctx := context.Background()

	// Values 1..32 arrive in a random interleaving; the stored record must
	// end at the maximum no matter which goroutine wins each race.
	var wg sync.WaitGroup
	for i, v := range rand.Perm(32) {
		wg.Add(1)
		go func(matchID string, kills int) {
			defer wg.Done()
			_ = f.eval.HandleEvent(ctx, matchEvent(matchID, storage.Participant{PUUID: "p1", Kills: kills}))
		}(fmt.Sprintf("EUW1_%d", i), v+1)
	}
	wg.Wait()

	rec, err := f.store.GetPersonalRecord(ctx, "p1", "kills", storage.RecordMax)
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if rec == nil || !rec.Value.Equal(decimal.NewFromInt(32)) {
		t.Fatalf("record = %+v, want 32 regardless of arrival order", rec)
	}
}

func TestMinValueSuppressesTrivialRecords(t *testing.T) {
	f := newFixture(t, []Rule{{
		ID: "damage-record", StatField: "damage_dealt", Kind: KindPersonalMax,
		MinValue: decimal.NewFromInt(20000),
	}})
	ctx := context.Background()

	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_1", storage.Participant{PUUID: "p1", DamageDealt: 5000}))
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_2", storage.Participant{PUUID: "p1", DamageDealt: 8000}))
	if f.notifier.count() != 0 {
		t.Fatal("records below min_value must update silently")
	}

	// The record still tracked the quiet improvements.
	rec, _ := f.store.GetPersonalRecord(ctx, "p1", "damage_dealt", storage.RecordMax)
	if !rec.Value.Equal(decimal.NewFromInt(8000)) {
		t.Fatalf("record = %s, want 8000", rec.Value)
	}

	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_3", storage.Participant{PUUID: "p1", DamageDealt: 25000}))
	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, want 1 once past min_value", f.notifier.count())
	}
}

func TestDurationNormalizationScalesValue(t *testing.T) {
	f := newFixture(t, []Rule{{
		ID: "cs-pace", StatField: "creep_score", Kind: KindAbsolute,
		Operator: OpGreaterOrEqual, Threshold: decimal.NewFromInt(300),
		NormalizeByDuration: true,
	}})
	ctx := context.Background()

	// 250 cs in 20 minutes scales to 375 against the 30 minute baseline.
	ev := matchEvent("EUW1_1", storage.Participant{PUUID: "p1", CreepScore: 250})
	ev.Match.GameDuration = 1200
	if err := f.eval.HandleEvent(ctx, ev); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatal("normalized value should clear the threshold")
	}

	// The same raw value over 40 minutes scales down to 225 and stays silent.
	ev = matchEvent("EUW1_2", storage.Participant{PUUID: "p1", CreepScore: 250})
	ev.Match.GameDuration = 2400
	_ = f.eval.HandleEvent(ctx, ev)
	if f.notifier.count() != 1 {
		t.Fatal("normalized value below threshold must not fire")
	}
}

func TestPercentileRulesConsultSnapshot(t *testing.T) {
	f := newFixture(t, []Rule{
		{ID: "top-pop", StatField: "kills", Kind: KindPopulationPercentile, Percentile: 90, Direction: DirectionAbove},
		{ID: "own-slump", StatField: "kills", Kind: KindPlayerPercentile, Percentile: 10, Direction: DirectionBelow},
	})
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, kills := range []int{4, 5, 5, 6, 4, 6, 5, 5} {
		rec := storage.MatchRecord{
			MatchID:      "EUW1_seed_" + string(rune('a'+i)),
			GameStart:    base.Add(time.Duration(i) * time.Hour),
			GameDuration: 1800,
			Participants: []storage.Participant{{PUUID: "p1", Kills: kills}},
		}
		if _, err := f.store.UpsertMatch(ctx, rec); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if err := f.provider.Refresh(ctx, []string{"p1"}); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	// Far above the seeded distribution: the population rule fires.
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_hi", storage.Participant{PUUID: "p1", Kills: 20}))
	if f.notifier.count() != 1 || f.notifier.sent[0].RuleID != "top-pop" {
		t.Fatalf("expected top-pop to fire once, got %+v", f.notifier.sent)
	}

	// Far below the player's own history: the slump rule fires.
	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_lo", storage.Participant{PUUID: "p1", Kills: 0}))
	if f.notifier.count() != 2 || f.notifier.sent[1].RuleID != "own-slump" {
		t.Fatalf("expected own-slump to fire, got %+v", f.notifier.sent)
	}
}

func TestPercentileRuleSilentWithoutHistory(t *testing.T) {
	f := newFixture(t, []Rule{{
		ID: "top-pop", StatField: "kills", Kind: KindPopulationPercentile,
		Percentile: 90, Direction: DirectionAbove,
	}})

	// No snapshot refresh happened, the distribution is empty.
	_ = f.eval.HandleEvent(context.Background(), matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Kills: 30}))
	if f.notifier.count() != 0 {
		t.Fatal("percentile rule fired with no history")
	}
}

func TestRepeatedEventDeliversOnce(t *testing.T) {
	f := newFixture(t, []Rule{{
		ID: "high-kills", StatField: "kills", Kind: KindAbsolute,
		Operator: OpGreaterOrEqual, Threshold: decimal.NewFromInt(10),
	}})
	ctx := context.Background()

	ev := matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Kills: 12})
	_ = f.eval.HandleEvent(ctx, ev)
	_ = f.eval.HandleEvent(ctx, ev)

	if f.notifier.count() != 1 {
		t.Fatalf("notifications = %d, audit row must deduplicate redelivery", f.notifier.count())
	}
	audited, _ := f.store.ListRecentNotifications(ctx, 10)
	if len(audited) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(audited))
	}
}

func TestNotifyFailureKeepsRecordAndAudit(t *testing.T) {
	f := newFixture(t, []Rule{{ID: "kill-record", StatField: "kills", Kind: KindPersonalMax}})
	f.notifier.fail = errors.New("webhook down")
	ctx := context.Background()

	_ = f.eval.HandleEvent(ctx, matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Kills: 5}))
	if err := f.eval.HandleEvent(ctx, matchEvent("EUW1_2", storage.Participant{PUUID: "p1", Kills: 9})); err != nil {
		t.Fatalf("delivery failure must not propagate: %v", err)
	}

	rec, _ := f.store.GetPersonalRecord(ctx, "p1", "kills", storage.RecordMax)
	if !rec.Value.Equal(decimal.NewFromInt(9)) {
		t.Fatalf("record = %s, delivery failure must not roll it back", rec.Value)
	}
	audited, _ := f.store.ListRecentNotifications(ctx, 10)
	if len(audited) != 2 {
		t.Fatalf("audit rows = %d, want both firings despite failed delivery", len(audited))
	}
}

func TestBrokenRuleDoesNotStopSiblings(t *testing.T) {
	f := newFixture(t, []Rule{
		{ID: "broken", StatField: "kills", Kind: "nonsense"},
		{ID: "high-kills", StatField: "kills", Kind: KindAbsolute, Operator: OpGreaterOrEqual, Threshold: decimal.NewFromInt(10)},
	})

	if err := f.eval.HandleEvent(context.Background(), matchEvent("EUW1_1", storage.Participant{PUUID: "p1", Kills: 12})); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if f.notifier.count() != 1 {
		t.Fatal("sibling rule did not run after a broken rule")
	}
}
