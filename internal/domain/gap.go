package domain

import "time"

// GapKind classifies why grid points are missing from a series.
type GapKind string

// Gap kinds. Only KindData gaps trigger upstream fetches.
const (
	GapWeekend      GapKind = "weekend"
	GapHoliday      GapKind = "holiday"
	GapOutsideHours GapKind = "outside_trading_hours"
	GapData         GapKind = "data"
)

// Gap is a maximal contiguous run of missing grid points, inclusive on
// both ends.
type Gap struct {
	Kind  GapKind
	Start time.Time
	End   time.Time
}

// QualityReport summarizes a DataManager load.
type QualityReport struct {
	Total         int   // bars in the returned frame
	Fetched       int   // bars obtained from the provider during this call
	Repaired      int   // bars modified by repair rules
	RemainingGaps []Gap // data gaps still unfilled (provider NoData, partial failures)
	Incomplete    bool  // true when a recoverable failure left the frame partial
	Warnings      []string
}
