package clickhouse

import (
	"context"
	"fmt"
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/storage"
)

// BarStore implements storage.BarStore using ClickHouse.
type BarStore struct {
	conn *Conn
}

// NewBarStore creates a new BarStore.
func NewBarStore(conn *Conn) *BarStore {
	return &BarStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BarStore = (*BarStore)(nil)

// UpsertBars inserts or replaces bars keyed by (symbol, timeframe, ts).
// Validation happens client-side before the batch is sent, so a failed
// batch never reaches the table.
func (s *BarStore) UpsertBars(ctx context.Context, key domain.SeriesKey, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	for i := range bars {
		if err := bars[i].Validate(key.Timeframe); err != nil {
			return kerr.Wrap(kerr.KindDataIntegrity, "reject bar batch", err).
				With("series", key.String())
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO bars (symbol, timeframe, ts, open, high, low, close, volume, source)
	`)
	if err != nil {
		return kerr.Wrap(kerr.KindPersistence, "prepare bar batch", err).With("series", key.String())
	}

	for _, b := range bars {
		err = batch.Append(
			key.Symbol, string(key.Timeframe), b.TS,
			b.Open, b.High, b.Low, b.Close, b.Volume, string(b.Source),
		)
		if err != nil {
			return kerr.Wrap(kerr.KindPersistence, "append to bar batch", err).With("series", key.String())
		}
	}

	if err := batch.Send(); err != nil {
		return kerr.Wrap(kerr.KindPersistence, "send bar batch", err).With("series", key.String())
	}
	return nil
}

// LoadBars returns bars in strictly ascending ts. FINAL deduplicates
// rows that ReplacingMergeTree has not merged yet.
func (s *BarStore) LoadBars(ctx context.Context, key domain.SeriesKey, rng *domain.TimeRange) ([]domain.Bar, error) {
	query := `
		SELECT ts, open, high, low, close, volume, source
		FROM bars FINAL
		WHERE symbol = ? AND timeframe = ?
	`
	args := []any{key.Symbol, string(key.Timeframe)}
	if rng != nil {
		query += " AND ts >= ? AND ts <= ?"
		args = append(args, rng.Start, rng.End)
	}
	query += " ORDER BY ts ASC"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindPersistence, "query bars", err).With("series", key.String())
	}
	defer rows.Close()

	return scanBars(rows)
}

// DateRange returns the min and max stored ts for the series.
func (s *BarStore) DateRange(ctx context.Context, key domain.SeriesKey) (time.Time, time.Time, bool, error) {
	query := `
		SELECT count(), min(ts), max(ts)
		FROM bars FINAL
		WHERE symbol = ? AND timeframe = ?
	`
	var count uint64
	var min, max time.Time
	err := s.conn.QueryRow(ctx, query, key.Symbol, string(key.Timeframe)).Scan(&count, &min, &max)
	if err != nil {
		return time.Time{}, time.Time{}, false, kerr.Wrap(kerr.KindPersistence, "query date range", err).
			With("series", key.String())
	}
	if count == 0 {
		return time.Time{}, time.Time{}, false, nil
	}
	return min.UTC(), max.UTC(), true, nil
}

// DeleteBars removes bars in rng and returns the count removed.
// ClickHouse deletes are asynchronous mutations; the count is computed
// up front from the same predicate.
func (s *BarStore) DeleteBars(ctx context.Context, key domain.SeriesKey, rng *domain.TimeRange) (int, error) {
	where := "symbol = ? AND timeframe = ?"
	args := []any{key.Symbol, string(key.Timeframe)}
	if rng != nil {
		where += " AND ts >= ? AND ts <= ?"
		args = append(args, rng.Start, rng.End)
	}

	var count uint64
	err := s.conn.QueryRow(ctx, "SELECT count() FROM bars FINAL WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, kerr.Wrap(kerr.KindPersistence, "count bars for delete", err).With("series", key.String())
	}

	err = s.conn.Exec(ctx, "DELETE FROM bars WHERE "+where, args...)
	if err != nil {
		return 0, kerr.Wrap(kerr.KindPersistence, "delete bars", err).With("series", key.String())
	}
	return int(count), nil
}

// DeleteBefore removes bars older than cutoff. The table TTL handles
// steady-state retention; this is the on-demand form, with the same
// asynchronous mutation caveat as DeleteBars.
func (s *BarStore) DeleteBefore(ctx context.Context, key domain.SeriesKey, cutoff time.Time) (int, error) {
	where := "symbol = ? AND timeframe = ? AND ts < ?"
	args := []any{key.Symbol, string(key.Timeframe), cutoff}

	var count uint64
	err := s.conn.QueryRow(ctx, "SELECT count() FROM bars FINAL WHERE "+where, args...).Scan(&count)
	if err != nil {
		return 0, kerr.Wrap(kerr.KindPersistence, "count bars for retention delete", err).With("series", key.String())
	}

	err = s.conn.Exec(ctx, "DELETE FROM bars WHERE "+where, args...)
	if err != nil {
		return 0, kerr.Wrap(kerr.KindPersistence, "delete bars before cutoff", err).With("series", key.String())
	}
	return int(count), nil
}

// ListSymbols returns sorted unique symbols, optionally for one timeframe.
func (s *BarStore) ListSymbols(ctx context.Context, tf domain.Timeframe) ([]string, error) {
	query := "SELECT DISTINCT symbol FROM bars"
	var args []any
	if tf != "" {
		query += " WHERE timeframe = ?"
		args = append(args, string(tf))
	}
	query += " ORDER BY symbol ASC"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindPersistence, "list symbols", err)
	}
	defer rows.Close()

	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan symbol row: %w", err)
		}
		symbols = append(symbols, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate symbol rows: %w", err)
	}
	return symbols, nil
}

// scanBars scans multiple bar rows.
func scanBars(rows chRows) ([]domain.Bar, error) {
	var bars []domain.Bar
	for rows.Next() {
		var b domain.Bar
		var ts time.Time
		var source string
		err := rows.Scan(&ts, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &source)
		if err != nil {
			return nil, fmt.Errorf("scan bar row: %w", err)
		}
		b.TS = ts.UTC()
		b.Source = domain.Source(source)
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bar rows: %w", err)
	}
	return bars, nil
}
