package rules

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"lol-match-alerts/internal/storage"
)

// Kind selects the condition family a rule evaluates. The set is closed;
// evaluation switches over it exhaustively.
type Kind string

const (
	KindAbsolute             Kind = "absolute"
	KindPersonalMax          Kind = "personal_max"
	KindPersonalMin          Kind = "personal_min"
	KindPopulationPercentile Kind = "population_percentile"
	KindPlayerPercentile     Kind = "player_percentile"
)

// Operator compares a stat value against an absolute threshold.
type Operator string

const (
	OpGreaterOrEqual Operator = "gte"
	OpGreater        Operator = "gt"
	OpLessOrEqual    Operator = "lte"
	OpLess           Operator = "lt"
	OpEqual          Operator = "eq"
)

// Direction orients percentile rules: fire when the value ranks above or
// below the configured percentile.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Rule is one declarative alert condition from rules.yaml.
type Rule struct {
	ID        string `mapstructure:"id"`
	Name      string `mapstructure:"name"`
	StatField string `mapstructure:"stat_field"`
	Kind      Kind   `mapstructure:"kind"`

	// Absolute rules.
	Operator  Operator        `mapstructure:"operator"`
	Threshold decimal.Decimal `mapstructure:"threshold"`

	// Personal-record rules: values below MinValue update the record
	// silently, so early games do not fire trivial alerts.
	MinValue decimal.Decimal `mapstructure:"min_value"`

	// Percentile rules.
	Percentile float64   `mapstructure:"percentile"`
	Direction  Direction `mapstructure:"direction"`

	// NormalizeByDuration scales the stat to a 30 minute baseline before
	// comparison, so a 50 minute stomp does not dwarf a normal game.
	NormalizeByDuration bool `mapstructure:"normalize_by_duration"`

	// MessageTemplate supports {player}, {rule}, {value} and {previous}
	// placeholders. Empty templates fall back to a generated message.
	MessageTemplate string `mapstructure:"message"`
}

// Validate enforces the family-dependent field contract.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule missing id")
	}
	if r.StatField == "" {
		return fmt.Errorf("rule %s: missing stat_field", r.ID)
	}
	if _, ok := storage.StatColumn(r.StatField); !ok {
		return fmt.Errorf("rule %s: unknown stat_field %q", r.ID, r.StatField)
	}

	switch r.Kind {
	case KindAbsolute:
		switch r.Operator {
		case OpGreaterOrEqual, OpGreater, OpLessOrEqual, OpLess, OpEqual:
		case "":
			return fmt.Errorf("rule %s: absolute rule requires an operator", r.ID)
		default:
			return fmt.Errorf("rule %s: unknown operator %q", r.ID, r.Operator)
		}
	case KindPersonalMax, KindPersonalMin:
		if r.MinValue.IsNegative() {
			return fmt.Errorf("rule %s: min_value must not be negative", r.ID)
		}
	case KindPopulationPercentile, KindPlayerPercentile:
		if r.Percentile <= 0 || r.Percentile >= 100 {
			return fmt.Errorf("rule %s: percentile must be between 0 and 100 exclusive", r.ID)
		}
		switch r.Direction {
		case DirectionAbove, DirectionBelow:
		case "":
			return fmt.Errorf("rule %s: percentile rule requires a direction", r.ID)
		default:
			return fmt.Errorf("rule %s: unknown direction %q", r.ID, r.Direction)
		}
	case "":
		return fmt.Errorf("rule %s: missing kind", r.ID)
	default:
		return fmt.Errorf("rule %s: unknown kind %q", r.ID, r.Kind)
	}
	return nil
}

// DisplayName prefers the human name over the id.
func (r Rule) DisplayName() string {
	if r.Name != "" {
		return r.Name
	}
	return r.ID
}

// RenderMessage fills the template placeholders for a fired rule.
func (r Rule) RenderMessage(player, value, previous string) string {
	tmpl := r.MessageTemplate
	if tmpl == "" {
		tmpl = "{rule}: {player} reached {value} " + r.StatField
	}
	return strings.NewReplacer(
		"{player}", player,
		"{rule}", r.DisplayName(),
		"{value}", value,
		"{previous}", previous,
	).Replace(tmpl)
}

// ruleFile is the top-level shape of rules.yaml.
type ruleFile struct {
	Rules []Rule `mapstructure:"rules"`
}

// Load reads and validates the rule set. Any invalid rule fails the whole
// load; the daemon refuses to start on a broken rule file.
func Load(path string) ([]Rule, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var file ruleFile
	if err := v.Unmarshal(&file, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(decimalHook())
	}); err != nil {
		return nil, fmt.Errorf("unmarshal rules: %w", err)
	}

	return ValidateSet(file.Rules)
}

// ValidateSet checks every rule and rejects duplicate ids.
func ValidateSet(set []Rule) ([]Rule, error) {
	if len(set) == 0 {
		return nil, fmt.Errorf("rule set is empty")
	}
	seen := make(map[string]struct{}, len(set))
	for _, r := range set {
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[r.ID]; dup {
			return nil, fmt.Errorf("duplicate rule id %q", r.ID)
		}
		seen[r.ID] = struct{}{}
	}
	return set, nil
}

// decimalHook converts yaml scalars into decimal.Decimal without a float
// round trip for string-typed thresholds.
func decimalHook() mapstructure.DecodeHookFuncType {
	decType := reflect.TypeOf(decimal.Decimal{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != decType {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return decimal.NewFromString(v)
		case int:
			return decimal.NewFromInt(int64(v)), nil
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		default:
			return data, nil
		}
	}
}
