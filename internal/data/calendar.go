// Package data implements the DataManager: the only entry point for
// bar data anywhere in the system. It detects gaps, fetches the
// minimum necessary ranges from the provider under pacing, merges and
// repairs bars, and persists them through the store.
package data

import (
	"time"

	"ktrdr/internal/domain"
)

// Calendar classifies why a grid point can legitimately have no bar.
// A point the calendar reports as open but that is missing from the
// store is a Data gap and triggers an upstream fetch.
type Calendar interface {
	// Classify returns GapData for points where a bar is expected, or
	// the kind explaining its legitimate absence.
	Classify(t time.Time, tf domain.Timeframe) domain.GapKind
}

// AlwaysOpen is the 24x7 calendar used for crypto-style symbols: every
// missing grid point is a Data gap.
type AlwaysOpen struct{}

// Classify implements Calendar.
func (AlwaysOpen) Classify(time.Time, domain.Timeframe) domain.GapKind {
	return domain.GapData
}

// SessionCalendar models an exchange with weekday sessions and a
// holiday list. Session hours apply to intraday timeframes only; daily
// and coarser bars exist on every trading day.
type SessionCalendar struct {
	// OpenMinute/CloseMinute bound the session as minutes from UTC
	// midnight, half-open [open, close).
	OpenMinute  int
	CloseMinute int
	// Holidays is a set of YYYY-MM-DD dates with no session.
	Holidays map[string]bool
}

// NewUSEquityCalendar returns a Mon–Fri 14:30–21:00 UTC session
// (09:30–16:00 ET ignoring DST) with the given holidays.
func NewUSEquityCalendar(holidays ...string) *SessionCalendar {
	hs := make(map[string]bool, len(holidays))
	for _, h := range holidays {
		hs[h] = true
	}
	return &SessionCalendar{OpenMinute: 14*60 + 30, CloseMinute: 21 * 60, Holidays: hs}
}

// Classify implements Calendar.
func (c *SessionCalendar) Classify(t time.Time, tf domain.Timeframe) domain.GapKind {
	t = t.UTC()
	switch t.Weekday() {
	case time.Saturday, time.Sunday:
		return domain.GapWeekend
	}
	if c.Holidays[t.Format("2006-01-02")] {
		return domain.GapHoliday
	}
	if isIntraday(tf) {
		minute := t.Hour()*60 + t.Minute()
		if minute < c.OpenMinute || minute >= c.CloseMinute {
			return domain.GapOutsideHours
		}
	}
	return domain.GapData
}

// isIntraday reports whether the timeframe is finer than one day.
func isIntraday(tf domain.Timeframe) bool {
	switch tf {
	case domain.Timeframe1d, domain.Timeframe1w, domain.Timeframe1M:
		return false
	}
	return true
}

// CalendarForContract maps a provider calendar identifier to a
// Calendar. Unknown identifiers default to 24x7, the conservative
// choice: it fetches more rather than silently skipping.
func CalendarForContract(id string, holidays ...string) Calendar {
	switch id {
	case "us_equity":
		return NewUSEquityCalendar(holidays...)
	default:
		return AlwaysOpen{}
	}
}
