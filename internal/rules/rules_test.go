package rules

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func writeRulesFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write rules file: %v", err)
	}
	return path
}

func TestLoadValidRuleSet(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - id: high-kills
    name: Kill spree
    stat_field: kills
    kind: absolute
    operator: gte
    threshold: 10
    message: "{player} got {value} kills"
  - id: damage-record
    stat_field: damage_dealt
    kind: personal_max
    min_value: "20000"
    normalize_by_duration: true
  - id: top-vision
    stat_field: vision_score
    kind: population_percentile
    percentile: 95
    direction: above
`)

	set, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(set) != 3 {
		t.Fatalf("rule count = %d, want 3", len(set))
	}

	if !set[0].Threshold.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("threshold = %s, want 10", set[0].Threshold)
	}
	if !set[1].MinValue.Equal(decimal.NewFromInt(20000)) {
		t.Fatalf("min_value = %s, want 20000", set[1].MinValue)
	}
	if !set[1].NormalizeByDuration {
		t.Fatal("normalize_by_duration not decoded")
	}
	if set[2].Direction != DirectionAbove || set[2].Percentile != 95 {
		t.Fatalf("percentile rule = %+v", set[2])
	}
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	path := writeRulesFile(t, `
rules:
  - {id: r1, stat_field: kills, kind: absolute, operator: gte, threshold: 10}
  - {id: r1, stat_field: deaths, kind: absolute, operator: gte, threshold: 10}
`)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate id error, got %v", err)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing rules file")
	}
}

func TestValidateRejectsBadRules(t *testing.T) {
	cases := []struct {
		name string
		rule Rule
		want string
	}{
		{"missing id", Rule{StatField: "kills", Kind: KindAbsolute, Operator: OpGreater}, "missing id"},
		{"unknown stat", Rule{ID: "r", StatField: "toes_stubbed", Kind: KindAbsolute, Operator: OpGreater}, "unknown stat_field"},
		{"unknown kind", Rule{ID: "r", StatField: "kills", Kind: "fancy"}, "unknown kind"},
		{"missing operator", Rule{ID: "r", StatField: "kills", Kind: KindAbsolute}, "requires an operator"},
		{"bad operator", Rule{ID: "r", StatField: "kills", Kind: KindAbsolute, Operator: ">="}, "unknown operator"},
		{"percentile out of range", Rule{ID: "r", StatField: "kills", Kind: KindPlayerPercentile, Percentile: 100, Direction: DirectionAbove}, "percentile"},
		{"missing direction", Rule{ID: "r", StatField: "kills", Kind: KindPopulationPercentile, Percentile: 90}, "direction"},
		{"negative min_value", Rule{ID: "r", StatField: "kills", Kind: KindPersonalMax, MinValue: decimal.NewFromInt(-1)}, "min_value"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rule.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error = %v, want containing %q", err, tc.want)
			}
		})
	}
}

func TestValidateSetRejectsEmpty(t *testing.T) {
	if _, err := ValidateSet(nil); err == nil {
		t.Fatal("empty rule set should be rejected")
	}
}

func TestRenderMessage(t *testing.T) {
	r := Rule{ID: "r1", Name: "Kill record", StatField: "kills", MessageTemplate: "{rule}: {player} {value} (was {previous})"}
	got := r.RenderMessage("One#EUW", "12", "9")
	if got != "Kill record: One#EUW 12 (was 9)" {
		t.Fatalf("rendered = %q", got)
	}

	r.MessageTemplate = ""
	got = r.RenderMessage("One#EUW", "12", "")
	if got != "Kill record: One#EUW reached 12 kills" {
		t.Fatalf("default rendered = %q", got)
	}
}
