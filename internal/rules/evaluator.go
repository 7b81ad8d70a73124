package rules

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"lol-match-alerts/internal/events"
	"lol-match-alerts/internal/notify"
	"lol-match-alerts/internal/stats"
	"lol-match-alerts/internal/storage"
)

// baselineDuration is the 30 minute reference game length that
// duration-normalised stats are scaled to.
const baselineDuration = 1800

// Outcome describes one rule's evaluation against one match.
type Outcome struct {
	Rule     Rule
	Fired    bool
	Value    decimal.Decimal
	Previous *decimal.Decimal
	Message  string
}

// Evaluator runs the rule set against every new match event. Personal-record
// rules serialise their read-compare-write through a per-(player, stat field)
// mutex so concurrent player cycles cannot race a record update.
type Evaluator struct {
	set      []Rule
	records  storage.RecordStore
	audit    storage.NotificationStore
	provider *stats.Provider
	notifier notify.Notifier
	logger   zerolog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewEvaluator constructs an Evaluator over a validated rule set.
func NewEvaluator(
	set []Rule,
	records storage.RecordStore,
	audit storage.NotificationStore,
	provider *stats.Provider,
	notifier notify.Notifier,
	logger zerolog.Logger,
) *Evaluator {
	return &Evaluator{
		set:      set,
		records:  records,
		audit:    audit,
		provider: provider,
		notifier: notifier,
		logger:   logger.With().Str("component", "rules").Logger(),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Register subscribes the evaluator to new-match events.
func (e *Evaluator) Register(bus *events.Bus) {
	bus.Subscribe(events.NewMatchEventName, e.HandleEvent)
}

// HandleEvent evaluates the full rule set against one new match. Rules are
// isolated from each other: a failing or panicking rule is logged and its
// siblings still run.
func (e *Evaluator) HandleEvent(ctx context.Context, ev events.Event) error {
	match, ok := ev.(events.NewMatchEvent)
	if !ok {
		return fmt.Errorf("unexpected event payload %T", ev)
	}

	for _, rule := range e.set {
		outcome, err := e.evaluateIsolated(ctx, rule, match)
		if err != nil {
			e.logger.Error().Err(err).
				Str("rule", rule.ID).
				Str("match_id", match.Match.MatchID).
				Str("puuid", match.Player.PUUID).
				Msg("rule evaluation failed")
			continue
		}
		if !outcome.Fired {
			continue
		}
		e.deliver(ctx, outcome, match)
	}
	return nil
}

func (e *Evaluator) evaluateIsolated(ctx context.Context, rule Rule, match events.NewMatchEvent) (out Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rule %s panicked: %v", rule.ID, r)
		}
	}()
	return e.Evaluate(ctx, rule, match)
}

// Evaluate runs a single rule against a match event.
func (e *Evaluator) Evaluate(ctx context.Context, rule Rule, match events.NewMatchEvent) (Outcome, error) {
	value := StatValue(match.Participant, rule.StatField)
	if rule.NormalizeByDuration && match.Match.GameDuration > 0 {
		value = value.
			Mul(decimal.NewFromInt(baselineDuration)).
			Div(decimal.NewFromInt(int64(match.Match.GameDuration)))
	}

	out := Outcome{Rule: rule, Value: value}

	switch rule.Kind {
	case KindAbsolute:
		out.Fired = compare(value, rule.Operator, rule.Threshold)

	case KindPersonalMax:
		prev, improved, err := e.updateRecord(ctx, match, rule, storage.RecordMax, value)
		if err != nil {
			return out, err
		}
		out.Previous = prev
		out.Fired = improved && value.GreaterThanOrEqual(rule.MinValue)

	case KindPersonalMin:
		prev, improved, err := e.updateRecord(ctx, match, rule, storage.RecordMin, value)
		if err != nil {
			return out, err
		}
		out.Previous = prev
		out.Fired = improved && value.GreaterThanOrEqual(rule.MinValue)

	case KindPopulationPercentile:
		summary := e.provider.Population(rule.StatField)
		out.Fired = percentileFired(summary, value, rule)

	case KindPlayerPercentile:
		summary := e.provider.Player(match.Player.PUUID, rule.StatField)
		out.Fired = percentileFired(summary, value, rule)

	default:
		return out, fmt.Errorf("rule %s: unknown kind %q", rule.ID, rule.Kind)
	}

	if out.Fired {
		previous := ""
		if out.Previous != nil {
			previous = out.Previous.String()
		}
		out.Message = rule.RenderMessage(match.Player.RiotID(), value.String(), previous)
	}
	return out, nil
}

// updateRecord performs the read-compare-write for a personal record. It
// reports whether the value strictly improved on the stored record; the very
// first observation counts as an improvement and seeds the record.
func (e *Evaluator) updateRecord(ctx context.Context, match events.NewMatchEvent, rule Rule, kind storage.RecordKind, value decimal.Decimal) (*decimal.Decimal, bool, error) {
	lock := e.lockFor(match.Player.PUUID, rule.StatField, kind)
	lock.Lock()
	defer lock.Unlock()

	prev, err := e.records.GetPersonalRecord(ctx, match.Player.PUUID, rule.StatField, kind)
	if err != nil {
		return nil, false, fmt.Errorf("load personal record: %w", err)
	}

	var prevValue *decimal.Decimal
	if prev != nil {
		v := prev.Value
		prevValue = &v
	}

	improved := prev == nil ||
		(kind == storage.RecordMax && value.GreaterThan(prev.Value)) ||
		(kind == storage.RecordMin && value.LessThan(prev.Value))
	if !improved {
		return prevValue, false, nil
	}

	if err := e.records.SetPersonalRecord(ctx, storage.PersonalRecord{
		PUUID:     match.Player.PUUID,
		StatField: rule.StatField,
		Kind:      kind,
		Value:     value,
		MatchID:   match.Match.MatchID,
		SetAt:     time.Now().UTC(),
	}); err != nil {
		return nil, false, fmt.Errorf("store personal record: %w", err)
	}

	return prevValue, true, nil
}

// deliver audits the fired rule and pushes the notification. A duplicate
// audit row means the rule already fired for this (rule, match, player)
// triple, so delivery is skipped. A delivery failure is logged only; the
// record update above stays committed.
func (e *Evaluator) deliver(ctx context.Context, out Outcome, match events.NewMatchEvent) {
	inserted, err := e.audit.InsertNotification(ctx, storage.NotificationRecord{
		RuleID:  out.Rule.ID,
		PUUID:   match.Player.PUUID,
		MatchID: match.Match.MatchID,
		Value:   out.Value,
		Message: out.Message,
	})
	if err != nil {
		e.logger.Error().Err(err).Str("rule", out.Rule.ID).Msg("failed to audit notification")
		return
	}
	if !inserted {
		e.logger.Debug().
			Str("rule", out.Rule.ID).
			Str("match_id", match.Match.MatchID).
			Msg("notification already recorded, skipping delivery")
		return
	}

	e.logger.Info().
		Str("rule", out.Rule.ID).
		Str("puuid", match.Player.PUUID).
		Str("match_id", match.Match.MatchID).
		Str("value", out.Value.String()).
		Msg("rule fired")

	if err := e.notifier.Notify(ctx, notify.Notification{
		RuleID:   out.Rule.ID,
		RuleName: out.Rule.DisplayName(),
		Player:   match.Player.RiotID(),
		MatchID:  match.Match.MatchID,
		Value:    out.Value.String(),
		Message:  out.Message,
		FiredAt:  time.Now().UTC(),
	}); err != nil {
		e.logger.Error().Err(err).Str("rule", out.Rule.ID).Msg("notification delivery failed")
	}
}

func (e *Evaluator) lockFor(puuid, statField string, kind storage.RecordKind) *sync.Mutex {
	key := puuid + "|" + statField + "|" + string(kind)
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

// StatValue extracts a rule-facing stat from a participant line. Unknown
// fields resolve to zero; rule validation rejects them before evaluation.
func StatValue(p storage.Participant, field string) decimal.Decimal {
	switch field {
	case "kills":
		return decimal.NewFromInt(int64(p.Kills))
	case "deaths":
		return decimal.NewFromInt(int64(p.Deaths))
	case "assists":
		return decimal.NewFromInt(int64(p.Assists))
	case "kda":
		return decimal.NewFromFloat(p.KDA()).Round(2)
	case "damage_dealt":
		return decimal.NewFromInt(p.DamageDealt)
	case "gold_earned":
		return decimal.NewFromInt(int64(p.GoldEarned))
	case "vision_score":
		return decimal.NewFromInt(int64(p.VisionScore))
	case "creep_score":
		return decimal.NewFromInt(int64(p.CreepScore))
	default:
		return decimal.Zero
	}
}

func compare(value decimal.Decimal, op Operator, threshold decimal.Decimal) bool {
	switch op {
	case OpGreaterOrEqual:
		return value.GreaterThanOrEqual(threshold)
	case OpGreater:
		return value.GreaterThan(threshold)
	case OpLessOrEqual:
		return value.LessThanOrEqual(threshold)
	case OpLess:
		return value.LessThan(threshold)
	case OpEqual:
		return value.Equal(threshold)
	default:
		return false
	}
}

func percentileFired(summary stats.Summary, value decimal.Decimal, rule Rule) bool {
	// A thin history makes percentile ranks meaningless noise.
	if summary.Count < 2 {
		return false
	}
	rank := summary.Percentile(value.InexactFloat64())
	if rule.Direction == DirectionAbove {
		return rank >= rule.Percentile
	}
	return rank <= rule.Percentile
}
