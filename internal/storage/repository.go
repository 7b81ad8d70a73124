package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnknownStatField rejects stat fields outside the participant schema.
	ErrUnknownStatField = errors.New("storage: unknown stat field")
)

// statColumns whitelists the participant stat fields addressable by rules,
// percentile queries, and export. Keys are the names used in rules.yaml.
var statColumns = map[string]string{
	"kills":        "kills",
	"deaths":       "deaths",
	"assists":      "assists",
	"kda":          "kda",
	"damage_dealt": "damage_dealt",
	"gold_earned":  "gold_earned",
	"vision_score": "vision_score",
	"creep_score":  "creep_score",
}

// StatColumn resolves a rules-facing stat field name to its column, so rule
// validation can reject unknown fields at startup.
func StatColumn(field string) (string, bool) {
	col, ok := statColumns[field]
	return col, ok
}

// StatFields lists every addressable stat field in a stable order.
func StatFields() []string {
	return []string{
		"kills", "deaths", "assists", "kda",
		"damage_dealt", "gold_earned", "vision_score", "creep_score",
	}
}

const (
	insertMatchSQL = `INSERT INTO matches (
        match_id, game_start, game_duration, game_mode, game_version, queue_id, timeline
    ) VALUES ($1,$2,$3,$4,$5,$6,$7)
    ON CONFLICT (match_id) DO NOTHING;`

	insertParticipantSQL = `INSERT INTO match_participants (
        match_id, puuid, summoner_name, champion_id, champion_name, team_id, role,
        kills, deaths, assists, kda, damage_dealt, gold_earned, vision_score,
        creep_score, win, game_start
    ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
    ON CONFLICT (match_id, puuid) DO NOTHING;`

	getMatchSQL = `SELECT match_id, game_start, game_duration, game_mode, game_version, queue_id, timeline, created_at
    FROM matches WHERE match_id = $1;`

	getMatchParticipantsSQL = `SELECT puuid, summoner_name, champion_id, champion_name, team_id, role,
        kills, deaths, assists, damage_dealt, gold_earned, vision_score, creep_score, win
    FROM match_participants WHERE match_id = $1 ORDER BY team_id, puuid;`

	countMatchesSQL = `SELECT COUNT(*) FROM matches;`

	insertPlayerSQL = `INSERT INTO tracked_players (puuid, game_name, tag_line, region, polling_enabled)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (puuid) DO UPDATE
    SET game_name = EXCLUDED.game_name,
        tag_line  = EXCLUDED.tag_line,
        region    = EXCLUDED.region,
        polling_enabled = EXCLUDED.polling_enabled;`

	deletePlayerSQL = `DELETE FROM tracked_players WHERE puuid = $1;`

	getPlayerSQL = `SELECT puuid, game_name, tag_line, region, polling_enabled, last_match_time, last_polled_at, created_at
    FROM tracked_players WHERE puuid = $1;`

	listPlayersSQL = `SELECT puuid, game_name, tag_line, region, polling_enabled, last_match_time, last_polled_at, created_at
    FROM tracked_players ORDER BY created_at;`

	listEnabledPlayersSQL = `SELECT puuid, game_name, tag_line, region, polling_enabled, last_match_time, last_polled_at, created_at
    FROM tracked_players WHERE polling_enabled ORDER BY created_at;`

	advanceCursorSQL = `UPDATE tracked_players
    SET last_match_time = $2
    WHERE puuid = $1 AND (last_match_time IS NULL OR last_match_time < $2);`

	touchPolledSQL = `UPDATE tracked_players SET last_polled_at = $2 WHERE puuid = $1;`

	getRecordSQL = `SELECT puuid, stat_field, kind, value::text, match_id, set_at
    FROM personal_records WHERE puuid = $1 AND stat_field = $2 AND kind = $3;`

	setRecordSQL = `INSERT INTO personal_records (puuid, stat_field, kind, value, match_id, set_at)
    VALUES ($1,$2,$3,$4,$5,$6)
    ON CONFLICT (puuid, stat_field, kind) DO UPDATE
    SET value = EXCLUDED.value,
        match_id = EXCLUDED.match_id,
        set_at = EXCLUDED.set_at;`

	listRecordsSQL = `SELECT puuid, stat_field, kind, value::text, match_id, set_at
    FROM personal_records WHERE puuid = $1 ORDER BY stat_field, kind;`

	insertNotificationSQL = `INSERT INTO notifications (rule_id, puuid, match_id, value, message)
    VALUES ($1,$2,$3,$4,$5)
    ON CONFLICT (rule_id, match_id, puuid) DO NOTHING;`

	listNotificationsSQL = `SELECT id, rule_id, puuid, match_id, value::text, message, created_at
    FROM notifications ORDER BY created_at DESC LIMIT $1;`
)

// PlayerStore defines tracked-player persistence, including the cursor.
type PlayerStore interface {
	AddPlayer(ctx context.Context, player TrackedPlayer) error
	RemovePlayer(ctx context.Context, puuid string) error
	GetPlayer(ctx context.Context, puuid string) (*TrackedPlayer, error)
	ListPlayers(ctx context.Context, enabledOnly bool) ([]TrackedPlayer, error)
	// AdvanceCursor moves the polling cursor forward, never backward. It
	// reports whether the stored cursor changed.
	AdvanceCursor(ctx context.Context, puuid string, ts time.Time) (bool, error)
	TouchPolled(ctx context.Context, puuid string, at time.Time) error
}

// MatchStore defines idempotent match persistence.
type MatchStore interface {
	UpsertMatch(ctx context.Context, rec MatchRecord) (UpsertResult, error)
	GetMatch(ctx context.Context, matchID string) (*MatchRecord, error)
	CountMatches(ctx context.Context) (int64, error)
}

// RecordStore defines personal-record persistence. SetPersonalRecord is an
// unconditional overwrite; the evaluator serialises read-compare-write per
// (puuid, stat field).
type RecordStore interface {
	GetPersonalRecord(ctx context.Context, puuid, statField string, kind RecordKind) (*PersonalRecord, error)
	SetPersonalRecord(ctx context.Context, rec PersonalRecord) error
	ListPersonalRecords(ctx context.Context, puuid string) ([]PersonalRecord, error)
}

// StatStore serves historical stat values for percentile snapshots and export.
type StatStore interface {
	StatValues(ctx context.Context, statField string) ([]float64, error)
	PlayerStatValues(ctx context.Context, puuid, statField string) ([]float64, error)
	PlayerStatSeries(ctx context.Context, puuid, statField string, limit int) ([]StatPoint, error)
}

// NotificationStore audits fired rules.
type NotificationStore interface {
	// InsertNotification reports false when the (rule, match, player) triple
	// was already recorded.
	InsertNotification(ctx context.Context, rec NotificationRecord) (bool, error)
	ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error)
}

// Store is the PostgreSQL implementation of all repository interfaces.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertMatch stores a match and its participants exactly once. A repeated
// call for the same match ID is a no-op reporting AlreadyExists.
func (s *Store) UpsertMatch(ctx context.Context, rec MatchRecord) (UpsertResult, error) {
	pool, err := s.getPool()
	if err != nil {
		return AlreadyExists, err
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return AlreadyExists, fmt.Errorf("begin upsert match: %w", err)
	}
	defer tx.Rollback(ctx)

	var timeline interface{}
	if len(rec.Timeline) > 0 {
		timeline = []byte(rec.Timeline)
	}

	tag, err := tx.Exec(ctx, insertMatchSQL,
		rec.MatchID,
		rec.GameStart,
		rec.GameDuration,
		rec.GameMode,
		rec.GameVersion,
		rec.QueueID,
		timeline,
	)
	if err != nil {
		return AlreadyExists, fmt.Errorf("insert match: %w", err)
	}

	if tag.RowsAffected() == 0 {
		// Lost the race or re-fetched a stored match; nothing to write.
		return AlreadyExists, nil
	}

	for _, p := range rec.Participants {
		if _, err := tx.Exec(ctx, insertParticipantSQL,
			rec.MatchID,
			p.PUUID,
			p.SummonerName,
			p.ChampionID,
			p.ChampionName,
			p.TeamID,
			p.Role,
			p.Kills,
			p.Deaths,
			p.Assists,
			p.KDA(),
			p.DamageDealt,
			p.GoldEarned,
			p.VisionScore,
			p.CreepScore,
			p.Win,
			rec.GameStart,
		); err != nil {
			return AlreadyExists, fmt.Errorf("insert participant %s: %w", p.PUUID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return AlreadyExists, fmt.Errorf("commit upsert match: %w", err)
	}
	return Inserted, nil
}

// GetMatch loads a match with its participants, or nil when absent.
func (s *Store) GetMatch(ctx context.Context, matchID string) (*MatchRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	var rec MatchRecord
	var timeline []byte
	row := pool.QueryRow(ctx, getMatchSQL, matchID)
	if err := row.Scan(&rec.MatchID, &rec.GameStart, &rec.GameDuration, &rec.GameMode,
		&rec.GameVersion, &rec.QueueID, &timeline, &rec.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get match: %w", err)
	}
	rec.Timeline = timeline

	rows, err := pool.Query(ctx, getMatchParticipantsSQL, matchID)
	if err != nil {
		return nil, fmt.Errorf("get match participants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p Participant
		if err := rows.Scan(&p.PUUID, &p.SummonerName, &p.ChampionID, &p.ChampionName,
			&p.TeamID, &p.Role, &p.Kills, &p.Deaths, &p.Assists, &p.DamageDealt,
			&p.GoldEarned, &p.VisionScore, &p.CreepScore, &p.Win); err != nil {
			return nil, err
		}
		rec.Participants = append(rec.Participants, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return &rec, nil
}

// CountMatches counts stored matches.
func (s *Store) CountMatches(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if err := pool.QueryRow(ctx, countMatchesSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count matches: %w", err)
	}
	return count, nil
}

// AddPlayer registers a tracked player, updating identity fields on re-add.
func (s *Store) AddPlayer(ctx context.Context, player TrackedPlayer) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, insertPlayerSQL,
		player.PUUID, player.GameName, player.TagLine, player.Region, player.PollingEnabled,
	); err != nil {
		return fmt.Errorf("add player: %w", err)
	}
	return nil
}

// RemovePlayer drops a tracked player. Matches remain for population stats.
func (s *Store) RemovePlayer(ctx context.Context, puuid string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	tag, err := pool.Exec(ctx, deletePlayerSQL, puuid)
	if err != nil {
		return fmt.Errorf("remove player: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// GetPlayer loads a tracked player, or nil when absent.
func (s *Store) GetPlayer(ctx context.Context, puuid string) (*TrackedPlayer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	var p TrackedPlayer
	row := pool.QueryRow(ctx, getPlayerSQL, puuid)
	if err := scanPlayer(row, &p); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get player: %w", err)
	}
	return &p, nil
}

// ListPlayers lists tracked players, optionally only those with polling on.
func (s *Store) ListPlayers(ctx context.Context, enabledOnly bool) ([]TrackedPlayer, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	query := listPlayersSQL
	if enabledOnly {
		query = listEnabledPlayersSQL
	}

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list players: %w", err)
	}
	defer rows.Close()

	players := make([]TrackedPlayer, 0)
	for rows.Next() {
		var p TrackedPlayer
		if err := scanPlayer(rows, &p); err != nil {
			return nil, err
		}
		players = append(players, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return players, nil
}

// AdvanceCursor applies the monotonic-advance invariant at the SQL level: a
// stale or concurrent call with an older timestamp affects zero rows.
func (s *Store) AdvanceCursor(ctx context.Context, puuid string, ts time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, advanceCursorSQL, puuid, ts)
	if err != nil {
		return false, fmt.Errorf("advance cursor: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// TouchPolled records when a player's poll cycle last completed.
func (s *Store) TouchPolled(ctx context.Context, puuid string, at time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, touchPolledSQL, puuid, at); err != nil {
		return fmt.Errorf("touch polled: %w", err)
	}
	return nil
}

// GetPersonalRecord loads one record, or nil when the player has none yet.
func (s *Store) GetPersonalRecord(ctx context.Context, puuid, statField string, kind RecordKind) (*PersonalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}
	rec, err := scanRecord(pool.QueryRow(ctx, getRecordSQL, puuid, statField, string(kind)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get personal record: %w", err)
	}
	return rec, nil
}

// SetPersonalRecord overwrites a record unconditionally; the caller has
// already decided the new value is the extremum.
func (s *Store) SetPersonalRecord(ctx context.Context, rec PersonalRecord) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, err := pool.Exec(ctx, setRecordSQL,
		rec.PUUID, rec.StatField, string(rec.Kind), rec.Value.String(), rec.MatchID, rec.SetAt,
	); err != nil {
		return fmt.Errorf("set personal record: %w", err)
	}
	return nil
}

// ListPersonalRecords lists all records held by one player.
func (s *Store) ListPersonalRecords(ctx context.Context, puuid string) ([]PersonalRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listRecordsSQL, puuid)
	if err != nil {
		return nil, fmt.Errorf("list personal records: %w", err)
	}
	defer rows.Close()

	records := make([]PersonalRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// StatValues returns every stored observation of one stat field across all
// participants, feeding the population percentile snapshot.
func (s *Store) StatValues(ctx context.Context, statField string) ([]float64, error) {
	return s.statValues(ctx, statField, "")
}

// PlayerStatValues restricts StatValues to one player's own games.
func (s *Store) PlayerStatValues(ctx context.Context, puuid, statField string) ([]float64, error) {
	return s.statValues(ctx, statField, puuid)
}

func (s *Store) statValues(ctx context.Context, statField, puuid string) ([]float64, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	column, ok := statColumns[statField]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatField, statField)
	}

	query := `SELECT ` + column + `::float8 FROM match_participants`
	args := []interface{}{}
	if puuid != "" {
		query += ` WHERE puuid = $1`
		args = append(args, puuid)
	}

	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("stat values %s: %w", statField, err)
	}
	defer rows.Close()

	values := make([]float64, 0)
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return values, nil
}

// PlayerStatSeries returns the most recent observations of one stat for one
// player, oldest first, for show/export.
func (s *Store) PlayerStatSeries(ctx context.Context, puuid, statField string, limit int) ([]StatPoint, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	column, ok := statColumns[statField]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStatField, statField)
	}

	query := `SELECT match_id, game_start, ` + column + `::float8
    FROM match_participants WHERE puuid = $1
    ORDER BY game_start DESC LIMIT $2`

	rows, err := pool.Query(ctx, query, puuid, limit)
	if err != nil {
		return nil, fmt.Errorf("stat series %s: %w", statField, err)
	}
	defer rows.Close()

	points := make([]StatPoint, 0, limit)
	for rows.Next() {
		var p StatPoint
		if err := rows.Scan(&p.MatchID, &p.GameStart, &p.Value); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	// Reverse to chronological order.
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}

// InsertNotification audits a fired rule, once per (rule, match, player).
func (s *Store) InsertNotification(ctx context.Context, rec NotificationRecord) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, err := pool.Exec(ctx, insertNotificationSQL,
		rec.RuleID, rec.PUUID, rec.MatchID, rec.Value.String(), rec.Message,
	)
	if err != nil {
		return false, fmt.Errorf("insert notification: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListRecentNotifications lists the latest audited notifications.
func (s *Store) ListRecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, listNotificationsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	records := make([]NotificationRecord, 0, limit)
	for rows.Next() {
		var rec NotificationRecord
		var valueStr string
		if err := rows.Scan(&rec.ID, &rec.RuleID, &rec.PUUID, &rec.MatchID,
			&valueStr, &rec.Message, &rec.CreatedAt); err != nil {
			return nil, err
		}
		value, convErr := decimal.NewFromString(valueStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse notification value: %w", convErr)
		}
		rec.Value = value
		records = append(records, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

func scanPlayer(row pgx.Row, p *TrackedPlayer) error {
	return row.Scan(
		&p.PUUID,
		&p.GameName,
		&p.TagLine,
		&p.Region,
		&p.PollingEnabled,
		&p.LastMatchTime,
		&p.LastPolledAt,
		&p.CreatedAt,
	)
}

func scanRecord(row pgx.Row) (*PersonalRecord, error) {
	var rec PersonalRecord
	var kind string
	var valueStr string
	if err := row.Scan(&rec.PUUID, &rec.StatField, &kind, &valueStr, &rec.MatchID, &rec.SetAt); err != nil {
		return nil, err
	}
	rec.Kind = RecordKind(kind)

	value, err := decimal.NewFromString(valueStr)
	if err != nil {
		return nil, fmt.Errorf("parse record value: %w", err)
	}
	rec.Value = value
	return &rec, nil
}

var (
	_ PlayerStore       = (*Store)(nil)
	_ MatchStore        = (*Store)(nil)
	_ RecordStore       = (*Store)(nil)
	_ StatStore         = (*Store)(nil)
	_ NotificationStore = (*Store)(nil)
)
