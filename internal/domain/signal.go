package domain

import "time"

// SignalType distinguishes entries from exits.
type SignalType string

// Signal types.
const (
	SignalEntry SignalType = "entry"
	SignalExit  SignalType = "exit"
)

// Direction of a signal.
type Direction string

// Signal directions.
const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionClose Direction = "close"
)

// SignalTrace explains why a signal fired: the rule that matched, the
// indicator inputs it saw, and the fuzzy memberships involved.
type SignalTrace struct {
	Rule        string             `json:"rule"`
	Indicators  map[string]float64 `json:"indicators,omitempty"`
	Memberships map[string]float64 `json:"memberships,omitempty"`
}

// Signal is one decision emitted by the decision engine.
type Signal struct {
	Type      SignalType
	Direction Direction
	Strength  float64 // in [0,1]
	TS        time.Time
	Trace     SignalTrace
}
