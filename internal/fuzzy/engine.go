package fuzzy

import (
	"time"

	"ktrdr/internal/kerr"
)

// Frame is a columnar fuzzy result: one column per set name, aligned
// to the input timestamps, values in [0,1] or undefined.
type Frame struct {
	TS     []time.Time
	Fields map[string][]float64
}

// Field returns the named membership column, or nil when absent.
func (f Frame) Field(name string) []float64 { return f.Fields[name] }

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.TS) }

// Engine evaluates a fixed collection of fuzzy sets. Sets may share an
// input column; memberships are independent of each other.
type Engine struct {
	sets []Set
}

// NewEngine validates the sets and rejects duplicate names.
func NewEngine(sets []Set) (*Engine, error) {
	seen := make(map[string]bool, len(sets))
	for _, s := range sets {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, kerr.Newf(kerr.KindConfig, "duplicate fuzzy set name %q", s.Name)
		}
		seen[s.Name] = true
	}
	return &Engine{sets: sets}, nil
}

// Sets returns the configured sets.
func (e *Engine) Sets() []Set { return e.sets }

// Evaluate computes every set's membership column over the named input
// columns. All input columns must have len(ts) rows; a set referencing
// a missing input is a config error.
func (e *Engine) Evaluate(ts []time.Time, inputs map[string][]float64) (Frame, error) {
	for name, col := range inputs {
		if len(col) != len(ts) {
			return Frame{}, kerr.Newf(kerr.KindConfig, "input column %q has %d rows, expected %d",
				name, len(col), len(ts))
		}
	}
	out := Frame{TS: ts, Fields: make(map[string][]float64, len(e.sets))}
	for _, s := range e.sets {
		src, ok := inputs[s.Input]
		if !ok {
			return Frame{}, kerr.Newf(kerr.KindConfig, "fuzzy set %q references unknown input %q", s.Name, s.Input)
		}
		col := make([]float64, len(ts))
		for i, x := range src {
			col[i] = s.Membership(x)
		}
		out.Fields[s.Name] = col
	}
	return out, nil
}
