// Package config loads and validates declarative strategy documents.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"ktrdr/internal/fuzzy"
	"ktrdr/internal/indicator"
	"ktrdr/internal/kerr"
)

// Strategy is the declarative description of one trading strategy:
// indicators, fuzzy sets, feature selection, labels, model, training
// schedule, risk, and rules.
type Strategy struct {
	Name       string            `yaml:"name"`
	Symbols    []string          `yaml:"symbols"`
	Timeframes []string          `yaml:"timeframes"`
	Indicators []IndicatorConfig `yaml:"indicators"`
	FuzzySets  []FuzzySetConfig  `yaml:"fuzzy_sets"`
	Features   FeatureConfig     `yaml:"features"`
	Labels     LabelConfig       `yaml:"labels"`
	Model      ModelConfig       `yaml:"model"`
	Training   TrainingConfig    `yaml:"training"`
	Risk       RiskConfig        `yaml:"risk"`
	Rules      RulesConfig       `yaml:"rules"`
}

// IndicatorConfig names one registry indicator with its parameters.
type IndicatorConfig struct {
	Name   string             `yaml:"name"`
	Params map[string]float64 `yaml:"params"`
}

// FuzzySetConfig declares one membership function.
type FuzzySetConfig struct {
	Name   string             `yaml:"name"`
	Input  string             `yaml:"input"`
	Kind   string             `yaml:"kind"`
	Params map[string]float64 `yaml:"params"`
	Scale  string             `yaml:"scale"`
}

// FeatureConfig selects the model's input columns.
type FeatureConfig struct {
	IncludeIndicators []string `yaml:"include_indicators"`
	IncludeFuzzy      []string `yaml:"include_fuzzy"`
}

// LabelConfig selects the target generator.
type LabelConfig struct {
	Generator string             `yaml:"generator"`
	Params    map[string]float64 `yaml:"params"`
}

// ModelConfig describes the classifier architecture.
type ModelConfig struct {
	Architecture string  `yaml:"architecture"`
	Layers       []int   `yaml:"layers"`
	Dropout      float64 `yaml:"dropout"`
	Activation   string  `yaml:"activation"`
}

// TrainingConfig drives the training loop.
type TrainingConfig struct {
	Epochs        int     `yaml:"epochs"`
	Batch         int     `yaml:"batch"`
	LearningRate  float64 `yaml:"learning_rate"`
	Optimizer     string  `yaml:"optimizer"`
	ValSplit      float64 `yaml:"val_split"`
	TestSplit     float64 `yaml:"test_split"`
	EarlyStopping int     `yaml:"early_stopping"`
	Seed          int64   `yaml:"seed"`
	// Split is "time" (default) or "random"; random requires a seed.
	Split string `yaml:"split"`
}

// RiskConfig bounds position sizing and exposure.
type RiskConfig struct {
	PositionSizing SizingConfig  `yaml:"position_sizing"`
	Stops          StopsConfig   `yaml:"stops"`
	ExposureLimits ExposureLimit `yaml:"exposure_limits"`
}

// SizingConfig selects how entry quantities are computed.
type SizingConfig struct {
	Method string  `yaml:"method"`
	Value  float64 `yaml:"value"`
}

// StopsConfig holds protective levels as fractions of entry price.
type StopsConfig struct {
	StopLoss   float64 `yaml:"stop_loss"`
	TakeProfit float64 `yaml:"take_profit"`
}

// ExposureLimit rejects entries beyond the configured envelope.
type ExposureLimit struct {
	MaxPositions int     `yaml:"max_positions"`
	MaxExposure  float64 `yaml:"max_exposure"`
}

// RulesConfig holds entry/exit predicates and the signal floor.
type RulesConfig struct {
	Entry           []string `yaml:"entry"`
	Exit            []string `yaml:"exit"`
	SignalThreshold float64  `yaml:"signal_threshold"`
}

// barColumns are always addressable as fuzzy inputs and rule
// identifiers without declaring an indicator.
var barColumns = map[string]bool{
	"open": true, "high": true, "low": true, "close": true, "volume": true,
}

// Load reads, decodes, and validates a strategy file.
func Load(path string) (*Strategy, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindConfig, "read strategy file", err).With("path", path)
	}
	return Parse(raw)
}

// Parse decodes and validates a strategy document. Unknown keys are
// rejected with their field path.
func Parse(raw []byte) (*Strategy, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var s Strategy
	if err := dec.Decode(&s); err != nil && err != io.EOF {
		return nil, kerr.Wrap(kerr.KindConfig, "decode strategy", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the document field by field and resolves every
// cross-reference: fuzzy inputs against indicator columns, feature
// selections against both.
func (s *Strategy) Validate() error {
	if s.Name == "" {
		return badField("name", "must not be empty")
	}
	if len(s.Symbols) == 0 {
		return badField("symbols", "at least one symbol is required")
	}
	if len(s.Timeframes) == 0 {
		return badField("timeframes", "at least one timeframe is required")
	}

	columns, err := s.indicatorColumns()
	if err != nil {
		return err
	}

	fuzzyNames := make(map[string]bool, len(s.FuzzySets))
	for i, fs := range s.FuzzySets {
		path := fmt.Sprintf("fuzzy_sets[%d]", i)
		if fs.Kind != "" && fs.Kind != "triangular" {
			return badField(path+".kind", fmt.Sprintf("unknown kind %q", fs.Kind))
		}
		if !columns[fs.Input] && !barColumns[fs.Input] {
			return badField(path+".input", fmt.Sprintf("unknown input column %q", fs.Input))
		}
		if fuzzyNames[fs.Name] {
			return badField(path+".name", fmt.Sprintf("duplicate fuzzy set %q", fs.Name))
		}
		fuzzyNames[fs.Name] = true
		if _, err := fs.toSet(); err != nil {
			return err
		}
	}

	for i, name := range s.Features.IncludeIndicators {
		if !columns[name] {
			return badField(fmt.Sprintf("features.include_indicators[%d]", i),
				fmt.Sprintf("unknown indicator column %q", name))
		}
	}
	for i, name := range s.Features.IncludeFuzzy {
		if !fuzzyNames[name] {
			return badField(fmt.Sprintf("features.include_fuzzy[%d]", i),
				fmt.Sprintf("unknown fuzzy set %q", name))
		}
	}

	if err := s.validateTraining(); err != nil {
		return err
	}
	if err := s.validateModel(); err != nil {
		return err
	}
	if s.Rules.SignalThreshold < 0 || s.Rules.SignalThreshold > 1 {
		return badField("rules.signal_threshold", "must be in [0, 1]")
	}
	return nil
}

// indicatorColumns builds the set of addressable indicator column
// names, validating each entry against the registry. Single-field
// indicators expose their name; multi-field ones expose name.field.
func (s *Strategy) indicatorColumns() (map[string]bool, error) {
	columns := make(map[string]bool)
	seen := make(map[string]bool, len(s.Indicators))
	for i, ic := range s.Indicators {
		path := fmt.Sprintf("indicators[%d]", i)
		spec, ok := indicator.Lookup(ic.Name)
		if !ok {
			return nil, badField(path+".name", fmt.Sprintf("unknown indicator %q", ic.Name))
		}
		if seen[ic.Name] {
			return nil, badField(path+".name", fmt.Sprintf("duplicate indicator %q", ic.Name))
		}
		seen[ic.Name] = true
		if _, err := indicator.ValidateParams(spec, ic.Params); err != nil {
			return nil, kerr.Wrap(kerr.KindConfig, path+".params", err)
		}
		if len(spec.Fields) == 1 {
			columns[ic.Name] = true
			continue
		}
		for _, field := range spec.Fields {
			columns[ic.Name+"."+field] = true
		}
	}
	return columns, nil
}

func (s *Strategy) validateTraining() error {
	t := s.Training
	if t.Epochs <= 0 {
		return badField("training.epochs", "must be positive")
	}
	if t.Batch <= 0 {
		return badField("training.batch", "must be positive")
	}
	if t.LearningRate <= 0 {
		return badField("training.learning_rate", "must be positive")
	}
	if t.ValSplit < 0 || t.ValSplit >= 1 {
		return badField("training.val_split", "must be in [0, 1)")
	}
	if t.TestSplit < 0 || t.TestSplit >= 1 {
		return badField("training.test_split", "must be in [0, 1)")
	}
	if t.ValSplit+t.TestSplit >= 1 {
		return badField("training", "val_split + test_split must leave a training share")
	}
	switch t.Optimizer {
	case "", "sgd", "adam":
	default:
		return badField("training.optimizer", fmt.Sprintf("unknown optimizer %q", t.Optimizer))
	}
	switch t.Split {
	case "", "time":
	case "random":
		if t.Seed == 0 {
			return badField("training.split", "random split requires an explicit seed")
		}
	default:
		return badField("training.split", fmt.Sprintf("unknown split %q", t.Split))
	}
	return nil
}

func (s *Strategy) validateModel() error {
	m := s.Model
	switch m.Architecture {
	case "", "mlp":
	default:
		return badField("model.architecture", fmt.Sprintf("unknown architecture %q", m.Architecture))
	}
	for i, n := range m.Layers {
		if n <= 0 {
			return badField(fmt.Sprintf("model.layers[%d]", i), "layer width must be positive")
		}
	}
	if m.Dropout < 0 || m.Dropout >= 1 {
		return badField("model.dropout", "must be in [0, 1)")
	}
	switch m.Activation {
	case "", "relu", "tanh", "sigmoid":
	default:
		return badField("model.activation", fmt.Sprintf("unknown activation %q", m.Activation))
	}
	return nil
}

// FeatureColumns returns the ordered feature column names: configured
// indicator columns first, then fuzzy memberships.
func (s *Strategy) FeatureColumns() []string {
	out := make([]string, 0, len(s.Features.IncludeIndicators)+len(s.Features.IncludeFuzzy))
	out = append(out, s.Features.IncludeIndicators...)
	out = append(out, s.Features.IncludeFuzzy...)
	return out
}

// FuzzyNames returns the declared fuzzy set names.
func (s *Strategy) FuzzyNames() map[string]bool {
	names := make(map[string]bool, len(s.FuzzySets))
	for _, fs := range s.FuzzySets {
		names[fs.Name] = true
	}
	return names
}

// Columns returns every identifier addressable by rules and features:
// raw bar columns, indicator columns, and fuzzy set names.
func (s *Strategy) Columns() (map[string]bool, error) {
	columns, err := s.indicatorColumns()
	if err != nil {
		return nil, err
	}
	for name := range barColumns {
		columns[name] = true
	}
	for name := range s.FuzzyNames() {
		columns[name] = true
	}
	return columns, nil
}

// BuildFuzzySets materializes the configured fuzzy sets.
func (s *Strategy) BuildFuzzySets() ([]fuzzy.Set, error) {
	sets := make([]fuzzy.Set, 0, len(s.FuzzySets))
	for _, fc := range s.FuzzySets {
		set, err := fc.toSet()
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}

func (fc FuzzySetConfig) toSet() (fuzzy.Set, error) {
	a, okA := fc.Params["a"]
	b, okB := fc.Params["b"]
	c, okC := fc.Params["c"]
	if !okA || !okB || !okC {
		return fuzzy.Set{}, badField("fuzzy_sets."+fc.Name+".params", "triangular sets require a, b, c")
	}
	set := fuzzy.Set{
		Name:  fc.Name,
		Input: fc.Input,
		A:     a, B: b, C: c,
		Scale: fuzzy.Scale(fc.Scale),
	}
	if err := set.Validate(); err != nil {
		return fuzzy.Set{}, err
	}
	return set, nil
}

// Snapshot serializes the strategy back to YAML for artifact storage.
func (s *Strategy) Snapshot() ([]byte, error) {
	var buf strings.Builder
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return nil, fmt.Errorf("encode strategy snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("close strategy snapshot: %w", err)
	}
	return []byte(buf.String()), nil
}

func badField(path, msg string) error {
	return kerr.Newf(kerr.KindConfig, "%s: %s", path, msg)
}
