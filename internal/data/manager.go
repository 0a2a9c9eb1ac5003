package data

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/observability"
	"ktrdr/internal/provider"
	"ktrdr/internal/storage"
)

// Mode selects how much of the requested range the manager ensures.
type Mode string

// Load modes.
const (
	// ModeLocal returns store rows only; the provider is never called.
	ModeLocal Mode = "local"
	// ModeTail ensures data from the last stored bar through the range end.
	ModeTail Mode = "tail"
	// ModeBackfill ensures data from the range start through the first stored bar.
	ModeBackfill Mode = "backfill"
	// ModeFull ensures the whole range by fetching classified Data gaps.
	ModeFull Mode = "full"
)

// LoadOptions tune one LoadData call.
type LoadOptions struct {
	Mode Mode
	// Strict promotes recoverable partial-frame conditions (pacing
	// exhaustion, dropped connections) to errors.
	Strict bool
}

// Manager is the hybrid local/remote data manager.
type Manager struct {
	store    storage.BarStore
	provider provider.MarketDataProvider
	backoff  *provider.Backoff
	cache    *frameCache
	log      zerolog.Logger
	metrics  *observability.Metrics

	calMu       sync.Mutex
	calendars   map[string]Calendar
	defaultCal  Calendar
	fetchCap    int
	repairDojis bool
	clock       func() time.Time
}

// Options configures a Manager.
type Options struct {
	Store    storage.BarStore
	Provider provider.MarketDataProvider
	// Calendars maps symbols to their trading calendars; symbols not
	// listed use DefaultCalendar (24x7 when nil).
	Calendars       map[string]Calendar
	DefaultCalendar Calendar
	// FetchCap bounds bars per provider call. Default 2000.
	FetchCap int
	// RepairZeroVolume enables zero-volume doji smoothing.
	RepairZeroVolume bool
	// CacheSize bounds the frame LRU. Default 128.
	CacheSize int
	// Clock overrides time.Now for tests.
	Clock  func() time.Time
	Logger zerolog.Logger
	// Metrics is optional; nil records nothing.
	Metrics *observability.Metrics
}

// retry policy for recoverable provider errors.
const maxFetchRetries = 3

// NewManager creates a DataManager.
func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("data manager requires a store")
	}
	if opts.FetchCap <= 0 {
		opts.FetchCap = 2000
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 128
	}
	if opts.DefaultCalendar == nil {
		opts.DefaultCalendar = AlwaysOpen{}
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	cache, err := newFrameCache(opts.CacheSize)
	if err != nil {
		return nil, err
	}
	calendars := make(map[string]Calendar, len(opts.Calendars))
	for sym, cal := range opts.Calendars {
		calendars[sym] = cal
	}
	return &Manager{
		store:       opts.Store,
		provider:    opts.Provider,
		backoff:     provider.NewBackoff(),
		cache:       cache,
		log:         opts.Logger,
		metrics:     opts.Metrics,
		calendars:   calendars,
		defaultCal:  opts.DefaultCalendar,
		fetchCap:    opts.FetchCap,
		repairDojis: opts.RepairZeroVolume,
		clock:       opts.Clock,
	}, nil
}

// calendar returns the configured or previously resolved calendar for
// a symbol, falling back to the default. Never calls the provider.
func (m *Manager) calendar(symbol string) Calendar {
	m.calMu.Lock()
	defer m.calMu.Unlock()
	if cal, ok := m.calendars[symbol]; ok {
		return cal
	}
	return m.defaultCal
}

// resolveCalendar resolves an unconfigured symbol's calendar from its
// broker contract, once, and caches it. Lookup failures fall back to
// the default; the next fetch retries.
func (m *Manager) resolveCalendar(ctx context.Context, symbol string) Calendar {
	m.calMu.Lock()
	if cal, ok := m.calendars[symbol]; ok {
		m.calMu.Unlock()
		return cal
	}
	m.calMu.Unlock()

	details, err := m.provider.ContractDetails(ctx, symbol)
	if err != nil || details.Calendar == "" {
		m.log.Debug().Str("symbol", symbol).Err(err).Msg("contract calendar unavailable, using default")
		return m.defaultCal
	}
	cal := CalendarForContract(details.Calendar)

	m.calMu.Lock()
	m.calendars[symbol] = cal
	m.calMu.Unlock()
	return cal
}

// LoadData returns ordered bars for the range plus a quality report.
// It is the single entry point for bar data: callers never touch the
// store or the provider directly.
func (m *Manager) LoadData(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange, opts LoadOptions) ([]domain.Bar, domain.QualityReport, error) {
	if err := rng.Validate(); err != nil {
		return nil, domain.QualityReport{}, kerr.Wrap(kerr.KindConfig, "invalid load range", err).
			With("series", key.String())
	}
	if opts.Mode == "" {
		opts.Mode = ModeLocal
	}

	if bars, report, ok := m.cache.get(key, rng, opts.Mode); ok {
		m.metrics.RecordCache(true)
		return bars, report, nil
	}
	m.metrics.RecordCache(false)

	bars, report, err := m.load(ctx, key, rng, opts)
	if err != nil {
		return nil, report, err
	}

	if err := domain.ValidateSeries(bars, key.Timeframe); err != nil {
		return nil, report, kerr.Wrap(kerr.KindDataIntegrity, "final frame validation", err).
			With("series", key.String())
	}

	// Incomplete frames are never cached: the caller may retry with
	// different strictness and must see the live outcome.
	if !report.Incomplete {
		m.cache.put(key, rng, opts.Mode, bars, report)
	}
	return bars, report, nil
}

// load dispatches on mode.
func (m *Manager) load(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange, opts LoadOptions) ([]domain.Bar, domain.QualityReport, error) {
	local, err := m.store.LoadBars(ctx, key, &rng)
	if err != nil {
		return nil, domain.QualityReport{}, err
	}

	if opts.Mode == ModeLocal || m.provider == nil {
		report := domain.QualityReport{Total: len(local)}
		report.RemainingGaps = dataGaps(classifyGaps(m.calendar(key.Symbol), key.Timeframe, rng, local))
		return local, report, nil
	}

	fetchRng, ok := m.fetchWindow(ctx, key, rng, opts.Mode)
	if !ok {
		// Nothing to ensure; the stored data already covers the mode's window.
		return local, domain.QualityReport{Total: len(local)}, nil
	}

	gaps := dataGaps(classifyGaps(m.resolveCalendar(ctx, key.Symbol), key.Timeframe, fetchRng, local))
	return m.fillGaps(ctx, key, rng, local, gaps, opts)
}

// fetchWindow computes the sub-range a mode must ensure. ok=false
// means nothing needs fetching.
func (m *Manager) fetchWindow(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange, mode Mode) (domain.TimeRange, bool) {
	switch mode {
	case ModeFull:
		return rng, true
	case ModeTail:
		_, max, ok, err := m.store.DateRange(ctx, key)
		if err != nil || !ok {
			return rng, true
		}
		start := key.Timeframe.Next(max)
		end := rng.End
		if now := key.Timeframe.Align(m.clock()); end.After(now) {
			end = now
		}
		if start.After(end) {
			return domain.TimeRange{}, false
		}
		return domain.TimeRange{Start: start, End: end}, true
	case ModeBackfill:
		min, _, ok, err := m.store.DateRange(ctx, key)
		if err != nil || !ok {
			return rng, true
		}
		if !rng.Start.Before(min) {
			return domain.TimeRange{}, false
		}
		// End one grid step before the first stored bar.
		prev := min.Add(-time.Nanosecond)
		return domain.TimeRange{Start: rng.Start, End: key.Timeframe.Align(prev)}, true
	}
	return domain.TimeRange{}, false
}

// fillGaps fetches each Data gap, merges, persists, and reports.
func (m *Manager) fillGaps(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange, local []domain.Bar, gaps []domain.Gap, opts LoadOptions) ([]domain.Bar, domain.QualityReport, error) {
	report := domain.QualityReport{}
	var fetched []domain.Bar
	var remaining []domain.Gap

fetch:
	for _, gap := range gaps {
		for _, sub := range splitByCap(key.Timeframe, gap, m.fetchCap) {
			bars, err := m.fetchWithRetry(ctx, key, sub)
			switch {
			case err == nil:
				fetched = append(fetched, bars...)
			case kerr.IsKind(err, kerr.KindNoData):
				// Not an error: the range stays on record as a data gap.
				remaining = append(remaining, domain.Gap{Kind: domain.GapData, Start: sub.Start, End: sub.End})
			case kerr.IsKind(err, kerr.KindRateLimited):
				if opts.Strict {
					return nil, report, err
				}
				report.Incomplete = true
				report.Warnings = append(report.Warnings, fmt.Sprintf("rate limited fetching %s..%s",
					sub.Start.Format(time.RFC3339), sub.End.Format(time.RFC3339)))
				remaining = append(remaining, domain.Gap{Kind: domain.GapData, Start: sub.Start, End: sub.End})
				m.log.Warn().Str("series", key.String()).Msg("pacing retries exhausted, returning partial frame")
				break fetch
			case kerr.IsKind(err, kerr.KindConnLost):
				if opts.Strict {
					return nil, report, err
				}
				// Keep whatever arrived; flag the rest.
				report.Incomplete = true
				report.Warnings = append(report.Warnings, "connection lost mid-range")
				remaining = append(remaining, domain.Gap{Kind: domain.GapData, Start: sub.Start, End: sub.End})
				m.log.Warn().Str("series", key.String()).Msg("connection lost, returning partial frame")
				break fetch
			default:
				// ContractError, DataIntegrity, cancellation: fatal for this series.
				return nil, report, err
			}
		}
	}

	merged := mergeBars(local, fetched)
	report.Fetched = len(fetched)

	if m.repairDojis {
		report.Repaired = repairZeroVolumeDojis(merged)
		m.metrics.RecordRepairs(report.Repaired)
	}

	if len(fetched) > 0 || report.Repaired > 0 {
		if err := m.store.UpsertBars(ctx, key, merged); err != nil {
			return nil, report, err // DataIntegrity/Persistence bubble up untouched
		}
		m.cache.invalidate(key)
	}

	// Trim to the requested range; tail/backfill may have fetched outside it.
	final := merged[:0:0]
	for _, b := range merged {
		if rng.Contains(b.TS) {
			final = append(final, b)
		}
	}
	report.Total = len(final)
	report.RemainingGaps = remaining
	return final, report, nil
}

// fetchWithRetry fetches one range, retrying pacing errors with
// full-jitter backoff up to maxFetchRetries consecutive failures.
func (m *Manager) fetchWithRetry(ctx context.Context, key domain.SeriesKey, rng domain.TimeRange) ([]domain.Bar, error) {
	var lastErr error
	for attempt := 0; attempt < maxFetchRetries; attempt++ {
		start := m.clock()
		bars, err := m.provider.FetchBars(ctx, key, rng)
		m.metrics.RecordFetch(len(bars), m.clock().Sub(start), string(kerr.KindOf(err)))
		if err == nil {
			return bars, nil
		}
		lastErr = err
		if !kerr.IsKind(err, kerr.KindRateLimited) {
			return nil, err
		}
		if attempt < maxFetchRetries-1 {
			if err := m.backoff.Sleep(ctx, attempt); err != nil {
				return nil, kerr.Wrap(kerr.KindCancelled, "backoff interrupted", err)
			}
		}
	}
	return nil, lastErr
}

// mergeBars merges fetched bars into local ones by ts. Upstream values
// win over prior Synthetic/Repaired rows; equal-precedence conflicts
// keep the newly fetched bar.
func mergeBars(local, fetched []domain.Bar) []domain.Bar {
	byTS := make(map[int64]domain.Bar, len(local)+len(fetched))
	for _, b := range local {
		byTS[b.TS.UnixNano()] = b
	}
	for _, b := range fetched {
		if prev, ok := byTS[b.TS.UnixNano()]; !ok || b.Source.Wins(prev.Source) {
			byTS[b.TS.UnixNano()] = b
		}
	}
	merged := make([]domain.Bar, 0, len(byTS))
	for _, b := range byTS {
		merged = append(merged, b)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].TS.Before(merged[j].TS) })
	return merged
}
