package memory

import (
	"context"
	"sort"
	"sync"

	"ktrdr/internal/domain"
	"ktrdr/internal/storage"
)

// indicatorKey identifies one persisted indicator frame.
type indicatorKey struct {
	series     domain.SeriesKey
	name       string
	paramsHash string
}

// IndicatorStore is an in-memory implementation of storage.IndicatorStore.
type IndicatorStore struct {
	mu   sync.RWMutex
	data map[indicatorKey]map[int64]storage.IndicatorPoint
}

// NewIndicatorStore creates a new in-memory indicator store.
func NewIndicatorStore() *IndicatorStore {
	return &IndicatorStore{data: make(map[indicatorKey]map[int64]storage.IndicatorPoint)}
}

// Compile-time interface check.
var _ storage.IndicatorStore = (*IndicatorStore)(nil)

// UpsertIndicator inserts or replaces points.
func (s *IndicatorStore) UpsertIndicator(_ context.Context, key domain.SeriesKey, name, paramsHash string, points []storage.IndicatorPoint) error {
	if len(points) == 0 {
		return nil
	}
	if name == "" || paramsHash == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ik := indicatorKey{series: key, name: name, paramsHash: paramsHash}
	frame, ok := s.data[ik]
	if !ok {
		frame = make(map[int64]storage.IndicatorPoint, len(points))
		s.data[ik] = frame
	}
	for _, p := range points {
		cp := p
		cp.Values = make(map[string]float64, len(p.Values))
		for k, v := range p.Values {
			cp.Values[k] = v
		}
		frame[p.TS.UnixNano()] = cp
	}
	return nil
}

// LoadIndicator returns points in ascending ts.
func (s *IndicatorStore) LoadIndicator(_ context.Context, key domain.SeriesKey, name, paramsHash string, rng *domain.TimeRange) ([]storage.IndicatorPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ik := indicatorKey{series: key, name: name, paramsHash: paramsHash}
	var result []storage.IndicatorPoint
	for _, p := range s.data[ik] {
		if rng == nil || rng.Contains(p.TS) {
			cp := p
			cp.Values = make(map[string]float64, len(p.Values))
			for k, v := range p.Values {
				cp.Values[k] = v
			}
			result = append(result, cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].TS.Before(result[j].TS) })
	return result, nil
}
