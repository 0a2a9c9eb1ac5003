// Package storage defines the persistence contracts of the core. The
// time-series store is the only shared mutable resource in the system:
// many readers, one writer per series key.
package storage

import (
	"context"
	"time"

	"ktrdr/internal/domain"
)

// BarStore persists OHLCV bars.
type BarStore interface {
	// UpsertBars inserts or replaces bars keyed by (ts, symbol, timeframe).
	// The batch is atomic and idempotent: on conflict all OHLCV+source
	// fields are replaced. Any OHLC/volume/alignment violation rejects
	// the whole batch with a DataIntegrity error and leaves the series
	// untouched.
	UpsertBars(ctx context.Context, key domain.SeriesKey, bars []domain.Bar) error

	// LoadBars returns bars in strictly ascending ts. A nil rng loads
	// the whole series. Missing ranges return empty without error.
	LoadBars(ctx context.Context, key domain.SeriesKey, rng *domain.TimeRange) ([]domain.Bar, error)

	// DateRange returns the min and max stored ts, or ok=false for an
	// empty series.
	DateRange(ctx context.Context, key domain.SeriesKey) (min, max time.Time, ok bool, err error)

	// DeleteBars removes bars in rng (whole series when nil) and
	// returns the number removed.
	DeleteBars(ctx context.Context, key domain.SeriesKey, rng *domain.TimeRange) (int, error)

	// DeleteBefore removes bars with ts strictly before cutoff and
	// returns the number removed. Retention maintenance.
	DeleteBefore(ctx context.Context, key domain.SeriesKey, cutoff time.Time) (int, error)

	// ListSymbols returns the sorted unique symbols present, optionally
	// restricted to one timeframe ("" means all).
	ListSymbols(ctx context.Context, tf domain.Timeframe) ([]string, error)
}

// IndicatorPoint is one persisted indicator row. Undefined (warm-up)
// rows are not persisted; absence is the sentinel at the storage layer.
type IndicatorPoint struct {
	TS     time.Time
	Values map[string]float64 // field name -> value; single-output indicators use "value"
}

// IndicatorStore persists computed indicator frames keyed by
// (series, indicator name, params hash).
type IndicatorStore interface {
	// UpsertIndicator inserts or replaces points with UpsertBars semantics.
	UpsertIndicator(ctx context.Context, key domain.SeriesKey, name, paramsHash string, points []IndicatorPoint) error

	// LoadIndicator returns points in ascending ts, optionally bounded.
	LoadIndicator(ctx context.Context, key domain.SeriesKey, name, paramsHash string, rng *domain.TimeRange) ([]IndicatorPoint, error)
}

// Session is the persisted state of one remote training session.
type Session struct {
	SessionID    string
	StrategyName string
	Status       string // domain.Status* values
	Progress     float64
	ResultJSON   []byte // pipeline result stored verbatim
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// SessionStore persists remote-orchestrator sessions.
type SessionStore interface {
	// Create adds a new session. Returns ErrDuplicateKey if the ID exists.
	Create(ctx context.Context, s *Session) error

	// Get retrieves a session by ID. Returns ErrNotFound if absent.
	Get(ctx context.Context, sessionID string) (*Session, error)

	// UpdateStatus sets status and progress.
	UpdateStatus(ctx context.Context, sessionID, status string, progress float64) error

	// StoreResult attaches the final result payload and status.
	StoreResult(ctx context.Context, sessionID, status string, resultJSON []byte) error
}
