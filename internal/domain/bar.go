package domain

import (
	"fmt"
	"math"
	"time"
)

// Source records where a bar's values came from.
type Source string

// Bar sources, in merge precedence order: Broker wins over Repaired,
// Repaired wins over Synthetic.
const (
	SourceBroker    Source = "broker"
	SourceRepaired  Source = "repaired"
	SourceSynthetic Source = "synthetic"
)

// sourceRank orders sources for merge conflicts; higher wins.
func sourceRank(s Source) int {
	switch s {
	case SourceBroker:
		return 3
	case SourceRepaired:
		return 2
	case SourceSynthetic:
		return 1
	}
	return 0
}

// Wins reports whether a bar from source s replaces one from other.
func (s Source) Wins(other Source) bool {
	return sourceRank(s) >= sourceRank(other)
}

// Bar is one OHLCV observation on a timeframe grid. TS is always UTC.
type Bar struct {
	TS     time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	Source Source
}

// Validate checks OHLC ordering, volume sign, finiteness, and that TS
// is UTC-aligned to the given timeframe.
func (b *Bar) Validate(tf Timeframe) error {
	for _, v := range [5]float64{b.Open, b.High, b.Low, b.Close, b.Volume} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("bar at %s has non-finite field", b.TS.Format(time.RFC3339))
		}
	}
	lo, hi := math.Min(b.Open, b.Close), math.Max(b.Open, b.Close)
	if b.Low > lo || hi > b.High {
		return fmt.Errorf("bar at %s violates low<=min(o,c)<=max(o,c)<=high (o=%g h=%g l=%g c=%g)",
			b.TS.Format(time.RFC3339), b.Open, b.High, b.Low, b.Close)
	}
	if b.Volume < 0 {
		return fmt.Errorf("bar at %s has negative volume %g", b.TS.Format(time.RFC3339), b.Volume)
	}
	if b.TS.Location() != time.UTC {
		return fmt.Errorf("bar at %s is not UTC", b.TS)
	}
	if !tf.IsAligned(b.TS) {
		return fmt.Errorf("bar at %s is not aligned to %s grid", b.TS.Format(time.RFC3339), tf)
	}
	return nil
}

// ValidateSeries checks a whole slice: per-bar invariants plus strictly
// ascending timestamps.
func ValidateSeries(bars []Bar, tf Timeframe) error {
	for i := range bars {
		if err := bars[i].Validate(tf); err != nil {
			return err
		}
		if i > 0 && !bars[i].TS.After(bars[i-1].TS) {
			return fmt.Errorf("non-ascending timestamps at index %d: %s then %s",
				i, bars[i-1].TS.Format(time.RFC3339), bars[i].TS.Format(time.RFC3339))
		}
	}
	return nil
}

// TimeRange is a closed UTC interval [Start, End].
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range (inclusive).
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// Validate rejects inverted or non-UTC ranges. Naive local timestamps
// are rejected at every boundary of the core.
func (r TimeRange) Validate() error {
	if r.Start.Location() != time.UTC || r.End.Location() != time.UTC {
		return fmt.Errorf("time range must be UTC")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("time range end %s before start %s",
			r.End.Format(time.RFC3339), r.Start.Format(time.RFC3339))
	}
	return nil
}
