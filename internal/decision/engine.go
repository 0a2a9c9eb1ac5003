package decision

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// StrengthModel scores a row with a class probability. When attached,
// its output replaces the fuzzy aggregation as signal strength.
type StrengthModel interface {
	Strength(row map[string]float64) float64
}

// Engine evaluates the strategy's entry and exit predicates over
// aligned rows of bar, indicator, and fuzzy columns.
type Engine struct {
	entry     []*Rule
	exit      []*Rule
	threshold float64
	fuzzy     map[string]bool
	model     StrengthModel
	log       zerolog.Logger
}

// Options configures an Engine.
type Options struct {
	Rules config.RulesConfig
	// Columns is the full identifier set rules may reference.
	Columns map[string]bool
	// FuzzyNames marks which columns are membership values; they feed
	// the strength aggregation.
	FuzzyNames map[string]bool
	// Model is optional. With a model attached, strength comes from it
	// instead of the fuzzy memberships.
	Model  StrengthModel
	Logger zerolog.Logger
}

// NewEngine parses and resolves all configured rules.
func NewEngine(opts Options) (*Engine, error) {
	if len(opts.Rules.Entry) == 0 {
		return nil, kerr.New(kerr.KindConfig, "rules.entry: at least one entry rule is required")
	}
	entry, err := parseRules(opts.Rules.Entry, opts.Columns)
	if err != nil {
		return nil, err
	}
	exit, err := parseRules(opts.Rules.Exit, opts.Columns)
	if err != nil {
		return nil, err
	}
	return &Engine{
		entry:     entry,
		exit:      exit,
		threshold: opts.Rules.SignalThreshold,
		fuzzy:     opts.FuzzyNames,
		model:     opts.Model,
		log:       opts.Logger,
	}, nil
}

func parseRules(texts []string, columns map[string]bool) ([]*Rule, error) {
	rules := make([]*Rule, 0, len(texts))
	for _, text := range texts {
		rule, err := ParseRule(text, columns)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, nil
}

// Evaluate runs all rules against one row and returns the surviving
// signals: at most one entry and one exit, ordered exit first so a
// same-bar flip closes before it opens.
func (e *Engine) Evaluate(ts time.Time, row map[string]float64) []domain.Signal {
	var signals []domain.Signal
	if sig, ok := e.evaluateRules(e.exit, ts, row, domain.SignalExit, domain.DirectionClose); ok {
		signals = append(signals, sig)
	}
	if sig, ok := e.evaluateRules(e.entry, ts, row, domain.SignalEntry, domain.DirectionLong); ok {
		signals = append(signals, sig)
	}
	return signals
}

// EvaluateSeries evaluates every row of aligned columns. All column
// slices must match the timestamp length.
func (e *Engine) EvaluateSeries(ts []time.Time, columns map[string][]float64) ([]domain.Signal, error) {
	for name, col := range columns {
		if len(col) != len(ts) {
			return nil, kerr.Newf(kerr.KindContract, "column %q has %d rows, expected %d", name, len(col), len(ts))
		}
	}
	var signals []domain.Signal
	row := make(map[string]float64, len(columns))
	for i := range ts {
		for name, col := range columns {
			row[name] = col[i]
		}
		signals = append(signals, e.Evaluate(ts[i], row)...)
	}
	return signals, nil
}

// evaluateRules picks the strongest matching rule of a set and builds
// the signal with its trace.
func (e *Engine) evaluateRules(rules []*Rule, ts time.Time, row map[string]float64, typ domain.SignalType, dir domain.Direction) (domain.Signal, bool) {
	var best *Rule
	bestStrength := -1.0
	for _, rule := range rules {
		if !rule.Match(row) {
			continue
		}
		strength := e.ruleStrength(rule, row)
		if strength > bestStrength {
			best = rule
			bestStrength = strength
		}
	}
	if best == nil {
		return domain.Signal{}, false
	}
	if bestStrength < e.threshold {
		e.log.Debug().Str("rule", best.Text).Float64("strength", bestStrength).
			Msg("signal below threshold suppressed")
		return domain.Signal{}, false
	}
	return domain.Signal{
		Type:      typ,
		Direction: dir,
		Strength:  bestStrength,
		TS:        ts,
		Trace:     e.trace(best, row),
	}, true
}

// ruleStrength is the model probability when a model is attached,
// otherwise the largest membership among the rule's fuzzy inputs. A
// matching rule with no fuzzy inputs counts as full strength.
func (e *Engine) ruleStrength(rule *Rule, row map[string]float64) float64 {
	if e.model != nil {
		return clamp01(e.model.Strength(row))
	}
	strength := -1.0
	for _, name := range rule.Idents {
		if !e.fuzzy[name] {
			continue
		}
		if v, ok := row[name]; ok && !math.IsNaN(v) && v > strength {
			strength = v
		}
	}
	if strength < 0 {
		return 1
	}
	return clamp01(strength)
}

func (e *Engine) trace(rule *Rule, row map[string]float64) domain.SignalTrace {
	trace := domain.SignalTrace{Rule: rule.Text}
	for _, name := range rule.Idents {
		v, ok := row[name]
		if !ok {
			continue
		}
		if e.fuzzy[name] {
			if trace.Memberships == nil {
				trace.Memberships = make(map[string]float64)
			}
			trace.Memberships[name] = v
			continue
		}
		if trace.Indicators == nil {
			trace.Indicators = make(map[string]float64)
		}
		trace.Indicators[name] = v
	}
	return trace
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
