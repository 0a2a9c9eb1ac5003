package data

import (
	"testing"
	"time"

	"ktrdr/internal/domain"
)

func TestExpectedGrid_Daily(t *testing.T) {
	rng := domain.TimeRange{
		Start: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}
	grid := expectedGrid(domain.Timeframe1d, rng)
	if len(grid) != 4 {
		t.Fatalf("expected 4 grid points, got %d", len(grid))
	}
	if !grid[0].Equal(rng.Start) || !grid[3].Equal(rng.End) {
		t.Errorf("grid bounds wrong: %v .. %v", grid[0], grid[3])
	}
}

func TestClassifyGaps_WeekendVsData(t *testing.T) {
	cal := NewUSEquityCalendar()
	rng := domain.TimeRange{
		Start: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),  // Friday
		End:   time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC),  // Tuesday
	}
	have := []domain.Bar{
		{TS: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)},
		{TS: time.Date(2024, 1, 9, 0, 0, 0, 0, time.UTC)},
	}

	gaps := classifyGaps(cal, domain.Timeframe1d, rng, have)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 gaps (weekend, data), got %d: %+v", len(gaps), gaps)
	}
	if gaps[0].Kind != domain.GapWeekend {
		t.Errorf("expected weekend gap first, got %s", gaps[0].Kind)
	}
	if !gaps[0].Start.Equal(time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)) ||
		!gaps[0].End.Equal(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("weekend gap bounds wrong: %+v", gaps[0])
	}
	if gaps[1].Kind != domain.GapData ||
		!gaps[1].Start.Equal(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("expected Monday data gap, got %+v", gaps[1])
	}
}

func TestClassifyGaps_Holiday(t *testing.T) {
	cal := NewUSEquityCalendar("2024-01-15") // MLK day
	rng := domain.TimeRange{
		Start: time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC), // Friday
		End:   time.Date(2024, 1, 16, 0, 0, 0, 0, time.UTC), // Tuesday
	}
	have := []domain.Bar{
		{TS: rng.Start},
		{TS: rng.End},
	}
	gaps := classifyGaps(cal, domain.Timeframe1d, rng, have)
	kinds := map[domain.GapKind]bool{}
	for _, g := range gaps {
		kinds[g.Kind] = true
	}
	if !kinds[domain.GapWeekend] || !kinds[domain.GapHoliday] {
		t.Errorf("expected weekend+holiday gaps, got %+v", gaps)
	}
	if kinds[domain.GapData] {
		t.Errorf("no data gap expected, got %+v", gaps)
	}
}

func TestSessionCalendar_IntradayOutsideHours(t *testing.T) {
	cal := NewUSEquityCalendar()
	// 02:00 UTC on a Wednesday is outside the session for hourly bars.
	kind := cal.Classify(time.Date(2024, 1, 10, 2, 0, 0, 0, time.UTC), domain.Timeframe1h)
	if kind != domain.GapOutsideHours {
		t.Errorf("expected outside-hours, got %s", kind)
	}
	// 15:00 UTC is inside.
	kind = cal.Classify(time.Date(2024, 1, 10, 15, 0, 0, 0, time.UTC), domain.Timeframe1h)
	if kind != domain.GapData {
		t.Errorf("expected data, got %s", kind)
	}
}

func TestSplitByCap(t *testing.T) {
	g := domain.Gap{
		Kind:  domain.GapData,
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC),
	}
	ranges := splitByCap(domain.Timeframe1d, g, 4)
	if len(ranges) != 3 {
		t.Fatalf("expected 3 capped ranges, got %d: %+v", len(ranges), ranges)
	}
	if !ranges[0].End.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("first range should cap at 4 bars, got %+v", ranges[0])
	}
	if !ranges[2].End.Equal(g.End) {
		t.Errorf("last range must end at gap end, got %+v", ranges[2])
	}
}
