package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrPlayerNotFound is returned by Memory for operations on unknown players.
var ErrPlayerNotFound = errors.New("storage: player not found")

// Memory implements every repository interface in process memory. It backs
// the service-level tests and the poller/evaluator tests, with the same
// idempotency and monotonicity semantics as the PostgreSQL store.
type Memory struct {
	mu            sync.Mutex
	players       map[string]TrackedPlayer
	matches       map[string]MatchRecord
	records       map[string]PersonalRecord // key puuid|field|kind
	notifications []NotificationRecord
	notifKeys     map[string]struct{} // key rule|match|puuid
	nextNotifID   int64
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		players:   make(map[string]TrackedPlayer),
		matches:   make(map[string]MatchRecord),
		records:   make(map[string]PersonalRecord),
		notifKeys: make(map[string]struct{}),
	}
}

func (m *Memory) UpsertMatch(_ context.Context, rec MatchRecord) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.matches[rec.MatchID]; ok {
		return AlreadyExists, nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.matches[rec.MatchID] = rec
	return Inserted, nil
}

func (m *Memory) GetMatch(_ context.Context, matchID string) (*MatchRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.matches[matchID]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) CountMatches(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.matches)), nil
}

func (m *Memory) AddPlayer(_ context.Context, player TrackedPlayer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.players[player.PUUID]; ok {
		player.LastMatchTime = existing.LastMatchTime
		player.LastPolledAt = existing.LastPolledAt
		player.CreatedAt = existing.CreatedAt
	} else if player.CreatedAt.IsZero() {
		player.CreatedAt = time.Now().UTC()
	}
	m.players[player.PUUID] = player
	return nil
}

func (m *Memory) RemovePlayer(_ context.Context, puuid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.players[puuid]; !ok {
		return ErrPlayerNotFound
	}
	delete(m.players, puuid)
	return nil
}

func (m *Memory) GetPlayer(_ context.Context, puuid string) (*TrackedPlayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[puuid]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListPlayers(_ context.Context, enabledOnly bool) ([]TrackedPlayer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	players := make([]TrackedPlayer, 0, len(m.players))
	for _, p := range m.players {
		if enabledOnly && !p.PollingEnabled {
			continue
		}
		players = append(players, p)
	}
	sort.Slice(players, func(i, j int) bool {
		if players[i].CreatedAt.Equal(players[j].CreatedAt) {
			return players[i].PUUID < players[j].PUUID
		}
		return players[i].CreatedAt.Before(players[j].CreatedAt)
	})
	return players, nil
}

func (m *Memory) AdvanceCursor(_ context.Context, puuid string, ts time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[puuid]
	if !ok {
		return false, ErrPlayerNotFound
	}
	if p.LastMatchTime != nil && !p.LastMatchTime.Before(ts) {
		return false, nil
	}
	cursor := ts
	p.LastMatchTime = &cursor
	m.players[puuid] = p
	return true, nil
}

func (m *Memory) TouchPolled(_ context.Context, puuid string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.players[puuid]
	if !ok {
		return ErrPlayerNotFound
	}
	polled := at
	p.LastPolledAt = &polled
	m.players[puuid] = p
	return nil
}

func (m *Memory) GetPersonalRecord(_ context.Context, puuid, statField string, kind RecordKind) (*PersonalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[recordKey(puuid, statField, kind)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) SetPersonalRecord(_ context.Context, rec PersonalRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[recordKey(rec.PUUID, rec.StatField, rec.Kind)] = rec
	return nil
}

func (m *Memory) ListPersonalRecords(_ context.Context, puuid string) ([]PersonalRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := make([]PersonalRecord, 0)
	for _, rec := range m.records {
		if rec.PUUID == puuid {
			records = append(records, rec)
		}
	}
	sort.Slice(records, func(i, j int) bool {
		if records[i].StatField == records[j].StatField {
			return records[i].Kind < records[j].Kind
		}
		return records[i].StatField < records[j].StatField
	})
	return records, nil
}

func (m *Memory) StatValues(_ context.Context, statField string) ([]float64, error) {
	return m.statValues(statField, "")
}

func (m *Memory) PlayerStatValues(_ context.Context, puuid, statField string) ([]float64, error) {
	return m.statValues(statField, puuid)
}

func (m *Memory) statValues(statField, puuid string) ([]float64, error) {
	if _, ok := StatColumn(statField); !ok {
		return nil, ErrUnknownStatField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	values := make([]float64, 0)
	for _, match := range m.matches {
		for _, p := range match.Participants {
			if puuid != "" && p.PUUID != puuid {
				continue
			}
			values = append(values, participantStat(p, statField))
		}
	}
	return values, nil
}

func (m *Memory) PlayerStatSeries(_ context.Context, puuid, statField string, limit int) ([]StatPoint, error) {
	if _, ok := StatColumn(statField); !ok {
		return nil, ErrUnknownStatField
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	points := make([]StatPoint, 0)
	for _, match := range m.matches {
		p, ok := match.ParticipantByPUUID(puuid)
		if !ok {
			continue
		}
		points = append(points, StatPoint{
			MatchID:   match.MatchID,
			GameStart: match.GameStart,
			Value:     participantStat(p, statField),
		})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].GameStart.Before(points[j].GameStart) })
	if limit > 0 && len(points) > limit {
		points = points[len(points)-limit:]
	}
	return points, nil
}

func (m *Memory) InsertNotification(_ context.Context, rec NotificationRecord) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := rec.RuleID + "|" + rec.MatchID + "|" + rec.PUUID
	if _, ok := m.notifKeys[key]; ok {
		return false, nil
	}
	m.notifKeys[key] = struct{}{}

	m.nextNotifID++
	rec.ID = m.nextNotifID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	m.notifications = append(m.notifications, rec)
	return true, nil
}

func (m *Memory) ListRecentNotifications(_ context.Context, limit int) ([]NotificationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.notifications)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]NotificationRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.notifications[i])
	}
	return out, nil
}

// participantStat extracts a whitelisted stat field as float64. The rules
// package performs the same extraction with decimal precision; this variant
// serves the snapshot and series queries.
func participantStat(p Participant, statField string) float64 {
	switch statField {
	case "kills":
		return float64(p.Kills)
	case "deaths":
		return float64(p.Deaths)
	case "assists":
		return float64(p.Assists)
	case "kda":
		return p.KDA()
	case "damage_dealt":
		return float64(p.DamageDealt)
	case "gold_earned":
		return float64(p.GoldEarned)
	case "vision_score":
		return float64(p.VisionScore)
	case "creep_score":
		return float64(p.CreepScore)
	default:
		return 0
	}
}

func recordKey(puuid, field string, kind RecordKind) string {
	return puuid + "|" + field + "|" + string(kind)
}

var (
	_ PlayerStore       = (*Memory)(nil)
	_ MatchStore        = (*Memory)(nil)
	_ RecordStore       = (*Memory)(nil)
	_ StatStore         = (*Memory)(nil)
	_ NotificationStore = (*Memory)(nil)
)
