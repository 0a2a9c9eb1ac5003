package decision

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

var testColumns = map[string]bool{
	"close": true, "volume": true,
	"rsi": true, "macd.hist": true,
	"rsi_low": true, "rsi_high": true,
}

var testFuzzy = map[string]bool{"rsi_low": true, "rsi_high": true}

func TestParseRule_Rejections(t *testing.T) {
	cases := []struct {
		name string
		rule string
	}{
		{"unknown identifier", "momentum > 50"},
		{"missing operator", "rsi 50"},
		{"dangling operator", "rsi >"},
		{"unbalanced paren", "(rsi > 50"},
		{"bare equals", "rsi = 50"},
		{"garbage character", "rsi > 50 #"},
		{"empty", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseRule(tc.rule, testColumns)
			if !kerr.IsKind(err, kerr.KindConfig) {
				t.Fatalf("rule %q: expected config error, got %v", tc.rule, err)
			}
		})
	}
}

func TestParseRule_Evaluation(t *testing.T) {
	row := map[string]float64{
		"rsi": 25, "macd.hist": -0.5, "close": 100, "volume": 0,
		"rsi_low": 0.8, "rsi_high": 0,
	}
	cases := []struct {
		rule string
		want bool
	}{
		{"rsi < 30", true},
		{"rsi <= 25", true},
		{"rsi > 30", false},
		{"rsi == 25", true},
		{"rsi != 25", false},
		{"volume == 0", true},
		{"macd.hist < 0", true},
		{"rsi < close", true},
		{"rsi < 30 and macd.hist < 0", true},
		{"rsi < 20 and macd.hist < 0", false},
		{"rsi < 20 or macd.hist < 0", true},
		// "and" binds tighter than "or".
		{"rsi < 30 or rsi > 90 and macd.hist > 0", true},
		{"(rsi < 30 or rsi > 90) and macd.hist > 0", false},
		{"rsi_low > 0.5", true},
		{"rsi > -30", true},
	}
	for _, tc := range cases {
		t.Run(tc.rule, func(t *testing.T) {
			rule, err := ParseRule(tc.rule, testColumns)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if got := rule.Match(row); got != tc.want {
				t.Errorf("Match = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseRule_UndefinedInputNeverMatches(t *testing.T) {
	rule, err := ParseRule("rsi < 30 or rsi >= 30", testColumns)
	if err != nil {
		t.Fatal(err)
	}
	if rule.Match(map[string]float64{"rsi": math.NaN()}) {
		t.Error("undefined column must not satisfy any comparison")
	}
	if rule.Match(map[string]float64{}) {
		t.Error("missing column must not satisfy any comparison")
	}
}

func newTestEngine(t *testing.T, rules config.RulesConfig, model StrengthModel) *Engine {
	t.Helper()
	e, err := NewEngine(Options{
		Rules:      rules,
		Columns:    testColumns,
		FuzzyNames: testFuzzy,
		Model:      model,
		Logger:     zerolog.Nop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func TestEngine_EntrySignalCarriesTrace(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{
		Entry: []string{"rsi_low > 0.5 and rsi < 30"},
		Exit:  []string{"rsi_high > 0.7"},
	}, nil)

	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	row := map[string]float64{"rsi": 22, "rsi_low": 0.83, "rsi_high": 0.1}
	signals := e.Evaluate(ts, row)
	if len(signals) != 1 {
		t.Fatalf("expected one signal, got %d", len(signals))
	}
	sig := signals[0]
	if sig.Type != domain.SignalEntry || sig.Direction != domain.DirectionLong {
		t.Errorf("unexpected signal %+v", sig)
	}
	if sig.Strength != 0.83 {
		t.Errorf("strength must be the fired membership, got %v", sig.Strength)
	}
	if !sig.TS.Equal(ts) {
		t.Errorf("signal timestamp %v", sig.TS)
	}
	if sig.Trace.Rule != "rsi_low > 0.5 and rsi < 30" {
		t.Errorf("trace rule %q", sig.Trace.Rule)
	}
	if sig.Trace.Memberships["rsi_low"] != 0.83 {
		t.Errorf("trace memberships %v", sig.Trace.Memberships)
	}
	if sig.Trace.Indicators["rsi"] != 22 {
		t.Errorf("trace indicators %v", sig.Trace.Indicators)
	}
}

func TestEngine_ThresholdSuppressesWeakSignals(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{
		Entry:           []string{"rsi_low > 0.1"},
		SignalThreshold: 0.6,
	}, nil)

	ts := time.Now().UTC()
	if got := e.Evaluate(ts, map[string]float64{"rsi_low": 0.4}); len(got) != 0 {
		t.Errorf("strength 0.4 under threshold 0.6 must be suppressed, got %v", got)
	}
	if got := e.Evaluate(ts, map[string]float64{"rsi_low": 0.9}); len(got) != 1 {
		t.Errorf("strength 0.9 must pass, got %v", got)
	}
}

func TestEngine_NoFuzzyInputsFullStrength(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{Entry: []string{"rsi < 30"}}, nil)
	signals := e.Evaluate(time.Now().UTC(), map[string]float64{"rsi": 10})
	if len(signals) != 1 || signals[0].Strength != 1 {
		t.Fatalf("rule without memberships must emit full strength, got %v", signals)
	}
}

func TestEngine_StrongestRuleWins(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{
		Entry: []string{"rsi_low > 0.1", "rsi_high > 0.1"},
	}, nil)
	signals := e.Evaluate(time.Now().UTC(), map[string]float64{"rsi_low": 0.3, "rsi_high": 0.9})
	if len(signals) != 1 {
		t.Fatalf("expected one entry signal, got %d", len(signals))
	}
	if signals[0].Strength != 0.9 || signals[0].Trace.Rule != "rsi_high > 0.1" {
		t.Errorf("strongest matching rule must win: %+v", signals[0])
	}
}

type fixedModel struct{ p float64 }

func (m fixedModel) Strength(map[string]float64) float64 { return m.p }

func TestEngine_ModelOverridesFuzzyStrength(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{
		Entry: []string{"rsi_low > 0.5"},
	}, fixedModel{p: 0.42})
	signals := e.Evaluate(time.Now().UTC(), map[string]float64{"rsi_low": 0.99})
	if len(signals) != 1 || signals[0].Strength != 0.42 {
		t.Fatalf("attached model must drive strength, got %v", signals)
	}
}

func TestEngine_ExitOrderedBeforeEntry(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{
		Entry: []string{"rsi < 30"},
		Exit:  []string{"rsi < 40"},
	}, nil)
	signals := e.Evaluate(time.Now().UTC(), map[string]float64{"rsi": 20})
	if len(signals) != 2 {
		t.Fatalf("expected exit and entry, got %d", len(signals))
	}
	if signals[0].Type != domain.SignalExit || signals[1].Type != domain.SignalEntry {
		t.Errorf("exit must precede entry on the same bar: %v, %v", signals[0].Type, signals[1].Type)
	}
}

func TestEngine_EvaluateSeries(t *testing.T) {
	e := newTestEngine(t, config.RulesConfig{Entry: []string{"rsi < 30"}}, nil)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts := []time.Time{start, start.Add(time.Hour), start.Add(2 * time.Hour)}
	signals, err := e.EvaluateSeries(ts, map[string][]float64{
		"rsi": {50, 25, math.NaN()},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(signals) != 1 || !signals[0].TS.Equal(ts[1]) {
		t.Fatalf("expected a single signal at the second bar, got %v", signals)
	}

	_, err = e.EvaluateSeries(ts, map[string][]float64{"rsi": {1, 2}})
	if !kerr.IsKind(err, kerr.KindContract) {
		t.Errorf("misaligned columns must fail, got %v", err)
	}
}
