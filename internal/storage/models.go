package storage

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// TrackedPlayer identifies a player being polled for new matches.
type TrackedPlayer struct {
	PUUID          string
	GameName       string
	TagLine        string
	Region         string
	PollingEnabled bool
	// LastMatchTime is the polling cursor: game start time of the newest
	// match already processed. Advanced only after a batch persists.
	LastMatchTime *time.Time
	LastPolledAt  *time.Time
	CreatedAt     time.Time
}

// RiotID renders the display identifier, GameName#TagLine.
func (p TrackedPlayer) RiotID() string {
	return p.GameName + "#" + p.TagLine
}

// MatchRecord is one completed game. MatchID is the globally unique external
// key; a match is stored at most once no matter how often it is fetched.
type MatchRecord struct {
	MatchID      string
	GameStart    time.Time
	GameDuration int // seconds
	GameMode     string
	GameVersion  string
	QueueID      int
	Participants []Participant
	// Timeline is the raw optional timeline blob, kept verbatim.
	Timeline  json.RawMessage
	CreatedAt time.Time
}

// ParticipantByPUUID returns the stat bundle for one player, if present.
func (m MatchRecord) ParticipantByPUUID(puuid string) (Participant, bool) {
	for _, p := range m.Participants {
		if p.PUUID == puuid {
			return p, true
		}
	}
	return Participant{}, false
}

// Participant is one player's stat bundle within a match.
type Participant struct {
	PUUID        string
	SummonerName string
	ChampionID   int
	ChampionName string
	TeamID       int
	Role         string
	Kills        int
	Deaths       int
	Assists      int
	DamageDealt  int64
	GoldEarned   int
	VisionScore  int
	CreepScore   int
	Win          bool
}

// KDA computes (kills+assists)/deaths, with deaths clamped to 1, the usual
// convention for perfect games.
func (p Participant) KDA() float64 {
	deaths := p.Deaths
	if deaths == 0 {
		deaths = 1
	}
	return float64(p.Kills+p.Assists) / float64(deaths)
}

// PersonalRecord is the running extremum of one stat field for one player.
type PersonalRecord struct {
	PUUID     string
	StatField string
	Kind      RecordKind
	Value     decimal.Decimal
	MatchID   string
	SetAt     time.Time
}

// RecordKind distinguishes max-type from min-type records.
type RecordKind string

const (
	RecordMax RecordKind = "max"
	RecordMin RecordKind = "min"
)

// NotificationRecord audits a fired rule, deduplicated on
// (rule_id, match_id, puuid).
type NotificationRecord struct {
	ID        int64
	RuleID    string
	PUUID     string
	MatchID   string
	Value     decimal.Decimal
	Message   string
	CreatedAt time.Time
}

// UpsertResult reports whether an upsert wrote a new row.
type UpsertResult int

const (
	// Inserted means the match was not previously stored.
	Inserted UpsertResult = iota
	// AlreadyExists means the call was an idempotent no-op.
	AlreadyExists
)

func (r UpsertResult) String() string {
	if r == Inserted {
		return "inserted"
	}
	return "already_exists"
}

// StatPoint is one (time, value) observation used by show/export and the
// percentile snapshots.
type StatPoint struct {
	MatchID   string
	GameStart time.Time
	Value     float64
}
