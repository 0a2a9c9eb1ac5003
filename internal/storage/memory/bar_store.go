// Package memory provides in-memory storage backends for tests and
// in-process runs. Semantics mirror the ClickHouse backend.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/storage"
)

// BarStore is an in-memory implementation of storage.BarStore.
type BarStore struct {
	mu   sync.RWMutex
	data map[domain.SeriesKey]map[int64]domain.Bar // keyed by ts.UnixNano()
}

// NewBarStore creates a new in-memory bar store.
func NewBarStore() *BarStore {
	return &BarStore{data: make(map[domain.SeriesKey]map[int64]domain.Bar)}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// UpsertBars inserts or replaces bars. The whole batch is validated
// first; a failed batch leaves the series untouched.
func (s *BarStore) UpsertBars(_ context.Context, key domain.SeriesKey, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for i := range bars {
		if err := bars[i].Validate(key.Timeframe); err != nil {
			return kerr.Wrap(kerr.KindDataIntegrity, "reject bar batch", err).
				With("series", key.String())
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	series, ok := s.data[key]
	if !ok {
		series = make(map[int64]domain.Bar, len(bars))
		s.data[key] = series
	}
	for _, b := range bars {
		series[b.TS.UnixNano()] = b
	}
	return nil
}

// LoadBars returns bars in strictly ascending ts.
func (s *BarStore) LoadBars(_ context.Context, key domain.SeriesKey, rng *domain.TimeRange) ([]domain.Bar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[key]
	result := make([]domain.Bar, 0, len(series))
	for _, b := range series {
		if rng == nil || rng.Contains(b.TS) {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TS.Before(result[j].TS) })
	return result, nil
}

// DateRange returns the min and max stored ts.
func (s *BarStore) DateRange(_ context.Context, key domain.SeriesKey) (time.Time, time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.data[key]
	if len(series) == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	var min, max time.Time
	first := true
	for _, b := range series {
		if first || b.TS.Before(min) {
			min = b.TS
		}
		if first || b.TS.After(max) {
			max = b.TS
		}
		first = false
	}
	return min, max, true, nil
}

// DeleteBars removes bars in rng and returns the count removed.
func (s *BarStore) DeleteBars(_ context.Context, key domain.SeriesKey, rng *domain.TimeRange) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.data[key]
	var removed int
	for ts, b := range series {
		if rng == nil || rng.Contains(b.TS) {
			delete(series, ts)
			removed++
		}
	}
	return removed, nil
}

// DeleteBefore removes bars older than cutoff and returns the count.
func (s *BarStore) DeleteBefore(_ context.Context, key domain.SeriesKey, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.data[key]
	var removed int
	for ts, b := range series {
		if b.TS.Before(cutoff) {
			delete(series, ts)
			removed++
		}
	}
	return removed, nil
}

// ListSymbols returns sorted unique symbols, optionally for one timeframe.
func (s *BarStore) ListSymbols(_ context.Context, tf domain.Timeframe) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for key, series := range s.data {
		if len(series) == 0 {
			continue
		}
		if tf != "" && key.Timeframe != tf {
			continue
		}
		seen[key.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Count returns the number of stored bars for a series. Test helper.
func (s *BarStore) Count(key domain.SeriesKey) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data[key])
}
