package data

import (
	"time"

	"ktrdr/internal/domain"
)

// expectedGrid returns every grid point of tf inside [rng.Start,
// rng.End], inclusive, regardless of calendar.
func expectedGrid(tf domain.Timeframe, rng domain.TimeRange) []time.Time {
	var grid []time.Time
	t := tf.Align(rng.Start)
	if t.Before(rng.Start) {
		t = tf.Next(t)
	}
	for !t.After(rng.End) {
		grid = append(grid, t)
		t = tf.Next(t)
	}
	return grid
}

// classifyGaps walks the expected grid, drops points covered by have,
// and groups consecutive missing points of the same kind into maximal
// gaps. The gap end is the last missing grid point (inclusive).
func classifyGaps(cal Calendar, tf domain.Timeframe, rng domain.TimeRange, have []domain.Bar) []domain.Gap {
	present := make(map[int64]struct{}, len(have))
	for _, b := range have {
		present[b.TS.UnixNano()] = struct{}{}
	}

	var gaps []domain.Gap
	var current *domain.Gap
	for _, t := range expectedGrid(tf, rng) {
		if _, ok := present[t.UnixNano()]; ok {
			current = nil
			continue
		}
		kind := cal.Classify(t, tf)
		if current != nil && current.Kind == kind {
			current.End = t
			continue
		}
		gaps = append(gaps, domain.Gap{Kind: kind, Start: t, End: t})
		current = &gaps[len(gaps)-1]
	}
	return gaps
}

// dataGaps filters classified gaps down to the fetchable kind.
func dataGaps(gaps []domain.Gap) []domain.Gap {
	var out []domain.Gap
	for _, g := range gaps {
		if g.Kind == domain.GapData {
			out = append(out, g)
		}
	}
	return out
}

// splitByCap slices a gap into fetch ranges of at most capBars grid
// points each, so a single provider call never exceeds its cap.
func splitByCap(tf domain.Timeframe, g domain.Gap, capBars int) []domain.TimeRange {
	var ranges []domain.TimeRange
	start := g.Start
	count := 0
	t := g.Start
	for !t.After(g.End) {
		count++
		if count == capBars {
			ranges = append(ranges, domain.TimeRange{Start: start, End: t})
			start = tf.Next(t)
			count = 0
		}
		t = tf.Next(t)
	}
	if count > 0 {
		ranges = append(ranges, domain.TimeRange{Start: start, End: g.End})
	}
	return ranges
}
