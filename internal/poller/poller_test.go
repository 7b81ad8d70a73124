package poller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"lol-match-alerts/internal/config"
	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/riot"
	"lol-match-alerts/internal/storage"
)

type stubFetcher struct {
	mu        sync.Mutex
	ids       []string
	idsErr    error
	matches   map[string]*storage.MatchRecord
	matchErrs map[string]error
	sinceSeen []time.Time
}

func (s *stubFetcher) FetchMatchIDs(_ context.Context, _ string, since time.Time, _ int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinceSeen = append(s.sinceSeen, since)
	if s.idsErr != nil {
		return nil, s.idsErr
	}
	return s.ids, nil
}

func (s *stubFetcher) FetchMatch(_ context.Context, matchID string) (*storage.MatchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.matchErrs[matchID]; err != nil {
		return nil, err
	}
	rec, ok := s.matches[matchID]
	if !ok {
		return nil, &riot.PermanentError{Op: "fetch_match", StatusCode: 404, Err: errors.New("not found")}
	}
	return rec, nil
}

type eventCapture struct {
	mu   sync.Mutex
	seen []events.NewMatchEvent
}

func (c *eventCapture) handle(_ context.Context, ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen = append(c.seen, ev.(events.NewMatchEvent))
	return nil
}

func (c *eventCapture) matchIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, len(c.seen))
	for i, ev := range c.seen {
		ids[i] = ev.Match.MatchID
	}
	return ids
}

var pollCfg = config.PollingConfig{Interval: time.Minute, Workers: 2, BatchSize: 20}

func match(id string, start time.Time, puuid string) *storage.MatchRecord {
	return &storage.MatchRecord{
		MatchID:      id,
		GameStart:    start,
		GameDuration: 1800,
		Participants: []storage.Participant{{PUUID: puuid, Kills: 5, Deaths: 2, Assists: 4}},
	}
}

func newService(t *testing.T, fetcher *stubFetcher) (*Service, *storage.Memory, *eventCapture) {
	t.Helper()
	store := storage.NewMemory()
	bus := events.NewBus(zerolog.Nop())
	capture := &eventCapture{}
	bus.Subscribe(events.NewMatchEventName, capture.handle)
	svc := New(store, store, fetcher, bus, pollCfg, 5*time.Second, zerolog.Nop())
	return svc, store, capture
}

func TestPollProcessesNewMatchesAndAdvancesCursor(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)
	t3 := t1.Add(2 * time.Hour)

	fetcher := &stubFetcher{
		ids: []string{"M3", "M2"},
		matches: map[string]*storage.MatchRecord{
			"M2": match("M2", t2, "p1"),
			"M3": match("M3", t3, "p1"),
		},
	}
	svc, store, capture := newService(t, fetcher)
	ctx := context.Background()

	cursor := t1
	if err := store.AddPlayer(ctx, storage.TrackedPlayer{PUUID: "p1", PollingEnabled: true, LastMatchTime: &cursor}); err != nil {
		t.Fatalf("add player: %v", err)
	}

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if ids := capture.matchIDs(); len(ids) != 2 || ids[0] != "M3" || ids[1] != "M2" {
		t.Fatalf("published events = %v, want [M3 M2]", ids)
	}

	p, _ := store.GetPlayer(ctx, "p1")
	if p.LastMatchTime == nil || !p.LastMatchTime.Equal(t3) {
		t.Fatalf("cursor = %v, want %v", p.LastMatchTime, t3)
	}
	if p.LastPolledAt == nil {
		t.Fatal("poll time not recorded")
	}

	// The request window starts just past the stored cursor.
	if len(fetcher.sinceSeen) != 1 || !fetcher.sinceSeen[0].Equal(t1.Add(time.Second)) {
		t.Fatalf("since = %v, want cursor plus one second", fetcher.sinceSeen)
	}
}

func TestRetryableIDFetchLeavesCursorUntouched(t *testing.T) {
	fetcher := &stubFetcher{
		idsErr: &riot.RetryableError{Op: "fetch_match_ids", StatusCode: 429, Err: errors.New("rate limited")},
	}
	svc, store, capture := newService(t, fetcher)
	ctx := context.Background()

	cursor := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	_ = store.AddPlayer(ctx, storage.TrackedPlayer{PUUID: "p1", PollingEnabled: true, LastMatchTime: &cursor})

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(capture.matchIDs()) != 0 {
		t.Fatal("no events expected on a deferred fetch")
	}
	p, _ := store.GetPlayer(ctx, "p1")
	if !p.LastMatchTime.Equal(cursor) {
		t.Fatalf("cursor moved to %v on a retryable failure", p.LastMatchTime)
	}
}

func TestPermanentMatchErrorSkipsAndContinues(t *testing.T) {
	t2 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{
		ids: []string{"M3", "M2"},
		matches: map[string]*storage.MatchRecord{
			"M2": match("M2", t2, "p1"),
		},
		matchErrs: map[string]error{
			"M3": &riot.PermanentError{Op: "fetch_match", Err: errors.New("malformed payload")},
		},
	}
	svc, store, capture := newService(t, fetcher)
	ctx := context.Background()
	_ = store.AddPlayer(ctx, storage.TrackedPlayer{PUUID: "p1", PollingEnabled: true})

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}

	if ids := capture.matchIDs(); len(ids) != 1 || ids[0] != "M2" {
		t.Fatalf("events = %v, want the batch to continue past M3", ids)
	}
	p, _ := store.GetPlayer(ctx, "p1")
	if p.LastMatchTime == nil || !p.LastMatchTime.Equal(t2) {
		t.Fatalf("cursor = %v, want %v from the processed match", p.LastMatchTime, t2)
	}
}

func TestRetryableMatchErrorAbortsBatchThenRecovers(t *testing.T) {
	t2 := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	t3 := t2.Add(time.Hour)
	fetcher := &stubFetcher{
		ids: []string{"M3", "M2"},
		matches: map[string]*storage.MatchRecord{
			"M2": match("M2", t2, "p1"),
			"M3": match("M3", t3, "p1"),
		},
		matchErrs: map[string]error{
			"M2": &riot.RetryableError{Op: "fetch_match", StatusCode: 503, Err: errors.New("upstream flake")},
		},
	}
	svc, store, capture := newService(t, fetcher)
	ctx := context.Background()
	_ = store.AddPlayer(ctx, storage.TrackedPlayer{PUUID: "p1", PollingEnabled: true})

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("first poll: %v", err)
	}

	// M3 was persisted and published, but the cursor must not move past the
	// unfetched M2.
	if ids := capture.matchIDs(); len(ids) != 1 || ids[0] != "M3" {
		t.Fatalf("events after aborted batch = %v, want [M3]", ids)
	}
	p, _ := store.GetPlayer(ctx, "p1")
	if p.LastMatchTime != nil {
		t.Fatalf("cursor = %v, want untouched after aborted batch", p.LastMatchTime)
	}

	// The flake clears; the next tick refetches the window. M3 deduplicates
	// silently and M2 finally lands.
	fetcher.mu.Lock()
	delete(fetcher.matchErrs, "M2")
	fetcher.mu.Unlock()

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("second poll: %v", err)
	}
	if ids := capture.matchIDs(); len(ids) != 2 || ids[1] != "M2" {
		t.Fatalf("events after recovery = %v, want [M3 M2]", ids)
	}
	p, _ = store.GetPlayer(ctx, "p1")
	if p.LastMatchTime == nil || !p.LastMatchTime.Equal(t3) {
		t.Fatalf("cursor = %v, want %v after full batch", p.LastMatchTime, t3)
	}
}

func TestKnownMatchPublishesNoEvent(t *testing.T) {
	t1 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	fetcher := &stubFetcher{
		ids:     []string{"M1"},
		matches: map[string]*storage.MatchRecord{"M1": match("M1", t1, "p1")},
	}
	svc, store, capture := newService(t, fetcher)
	ctx := context.Background()
	_ = store.AddPlayer(ctx, storage.TrackedPlayer{PUUID: "p1", PollingEnabled: true})
	if _, err := store.UpsertMatch(ctx, *match("M1", t1, "p1")); err != nil {
		t.Fatalf("seed match: %v", err)
	}

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(capture.matchIDs()) != 0 {
		t.Fatal("already persisted match must not publish an event")
	}
	// Observing the known match still advances the cursor past it.
	p, _ := store.GetPlayer(ctx, "p1")
	if p.LastMatchTime == nil || !p.LastMatchTime.Equal(t1) {
		t.Fatalf("cursor = %v, want %v", p.LastMatchTime, t1)
	}
}

func TestDisabledPlayersAreNotPolled(t *testing.T) {
	fetcher := &stubFetcher{ids: []string{"M1"}}
	svc, store, _ := newService(t, fetcher)
	ctx := context.Background()
	_ = store.AddPlayer(ctx, storage.TrackedPlayer{PUUID: "p1", PollingEnabled: false})

	if err := svc.PollOnce(ctx); err != nil {
		t.Fatalf("poll: %v", err)
	}
	if len(fetcher.sinceSeen) != 0 {
		t.Fatal("disabled player was polled")
	}
}
