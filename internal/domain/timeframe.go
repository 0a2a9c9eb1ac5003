package domain

import (
	"fmt"
	"time"
)

// Timeframe is the grid spacing between bars.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe2h  Timeframe = "2h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
	Timeframe1M  Timeframe = "1M"
)

// ParseTimeframe validates and returns a Timeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
		Timeframe1h, Timeframe2h, Timeframe4h,
		Timeframe1d, Timeframe1w, Timeframe1M:
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the fixed grid step for intraday and daily frames.
// Weekly and monthly frames are calendar-based; Duration returns a
// nominal step for those (7 days, 30 days) and callers that need exact
// stepping must use Next.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe2h:
		return 2 * time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	case Timeframe1w:
		return 7 * 24 * time.Hour
	case Timeframe1M:
		return 30 * 24 * time.Hour
	}
	return 0
}

// Align floors t onto the timeframe grid in UTC.
func (tf Timeframe) Align(t time.Time) time.Time {
	t = t.UTC()
	switch tf {
	case Timeframe1w:
		// Weeks start Monday 00:00 UTC.
		day := t.Truncate(24 * time.Hour)
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Timeframe1M:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t.Truncate(tf.Duration())
	}
}

// IsAligned reports whether t sits exactly on the timeframe grid.
func (tf Timeframe) IsAligned(t time.Time) bool {
	return tf.Align(t).Equal(t.UTC())
}

// Next returns the grid point after t (t must be aligned).
func (tf Timeframe) Next(t time.Time) time.Time {
	switch tf {
	case Timeframe1M:
		return t.AddDate(0, 1, 0)
	default:
		return t.Add(tf.Duration())
	}
}

// SeriesKey identifies a bar series: one symbol at one timeframe.
type SeriesKey struct {
	Symbol    string
	Timeframe Timeframe
}

// MaxSymbolLen bounds symbol identifiers.
const MaxSymbolLen = 32

// NewSeriesKey validates symbol and timeframe and builds a key.
func NewSeriesKey(symbol string, tf Timeframe) (SeriesKey, error) {
	if symbol == "" || len(symbol) > MaxSymbolLen {
		return SeriesKey{}, fmt.Errorf("symbol must be 1..%d chars, got %q", MaxSymbolLen, symbol)
	}
	for i := 0; i < len(symbol); i++ {
		if symbol[i] < 0x21 || symbol[i] > 0x7e {
			return SeriesKey{}, fmt.Errorf("symbol %q contains non-printable-ascii byte at %d", symbol, i)
		}
	}
	if _, err := ParseTimeframe(string(tf)); err != nil {
		return SeriesKey{}, err
	}
	return SeriesKey{Symbol: symbol, Timeframe: tf}, nil
}

// String renders the key as "SYMBOL/tf".
func (k SeriesKey) String() string {
	return k.Symbol + "/" + string(k.Timeframe)
}
