package data

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"ktrdr/internal/domain"
)

// frameCache is the in-process LRU of recently requested frames, keyed
// by (series, range, mode). Invalidation is per series: every upsert
// bumps the series generation, which is part of the cache key, so
// stale entries become unreachable and age out.
type frameCache struct {
	lru *lru.Cache[string, cachedFrame]

	mu  sync.Mutex
	gen map[domain.SeriesKey]uint64
}

// cachedFrame holds one load result.
type cachedFrame struct {
	bars   []domain.Bar
	report domain.QualityReport
}

// newFrameCache creates a cache holding up to size frames.
func newFrameCache(size int) (*frameCache, error) {
	inner, err := lru.New[string, cachedFrame](size)
	if err != nil {
		return nil, fmt.Errorf("create frame cache: %w", err)
	}
	return &frameCache{lru: inner, gen: make(map[domain.SeriesKey]uint64)}, nil
}

// key builds the generation-qualified cache key.
func (c *frameCache) key(series domain.SeriesKey, rng domain.TimeRange, mode Mode) string {
	c.mu.Lock()
	g := c.gen[series]
	c.mu.Unlock()
	return fmt.Sprintf("%s|%d|%d|%s|%d", series, rng.Start.UnixNano(), rng.End.UnixNano(), mode, g)
}

// get returns a cached frame copy if present.
func (c *frameCache) get(series domain.SeriesKey, rng domain.TimeRange, mode Mode) ([]domain.Bar, domain.QualityReport, bool) {
	entry, ok := c.lru.Get(c.key(series, rng, mode))
	if !ok {
		return nil, domain.QualityReport{}, false
	}
	return append([]domain.Bar(nil), entry.bars...), entry.report, true
}

// put stores a frame copy.
func (c *frameCache) put(series domain.SeriesKey, rng domain.TimeRange, mode Mode, bars []domain.Bar, report domain.QualityReport) {
	c.lru.Add(c.key(series, rng, mode), cachedFrame{
		bars:   append([]domain.Bar(nil), bars...),
		report: report,
	})
}

// invalidate drops all entries for a series by bumping its generation.
func (c *frameCache) invalidate(series domain.SeriesKey) {
	c.mu.Lock()
	c.gen[series]++
	c.mu.Unlock()
}
