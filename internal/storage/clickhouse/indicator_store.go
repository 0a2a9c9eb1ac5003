package clickhouse

import (
	"context"
	"fmt"
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/storage"
)

// IndicatorStore implements storage.IndicatorStore using ClickHouse.
// Multi-field indicators store one row per (ts, field).
type IndicatorStore struct {
	conn *Conn
}

// NewIndicatorStore creates a new IndicatorStore.
func NewIndicatorStore(conn *Conn) *IndicatorStore {
	return &IndicatorStore{conn: conn}
}

// Compile-time interface check.
var _ storage.IndicatorStore = (*IndicatorStore)(nil)

// UpsertIndicator inserts or replaces indicator points.
func (s *IndicatorStore) UpsertIndicator(ctx context.Context, key domain.SeriesKey, name, paramsHash string, points []storage.IndicatorPoint) error {
	if len(points) == 0 {
		return nil
	}
	if name == "" || paramsHash == "" {
		return storage.ErrInvalidInput
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO indicator_values (symbol, timeframe, indicator_name, params_hash, ts, field, value)
	`)
	if err != nil {
		return kerr.Wrap(kerr.KindPersistence, "prepare indicator batch", err).With("series", key.String())
	}

	for _, p := range points {
		for field, value := range p.Values {
			err = batch.Append(
				key.Symbol, string(key.Timeframe), name, paramsHash,
				p.TS, field, value,
			)
			if err != nil {
				return kerr.Wrap(kerr.KindPersistence, "append to indicator batch", err).
					With("series", key.String()).With("indicator", name)
			}
		}
	}

	if err := batch.Send(); err != nil {
		return kerr.Wrap(kerr.KindPersistence, "send indicator batch", err).
			With("series", key.String()).With("indicator", name)
	}
	return nil
}

// LoadIndicator returns points in ascending ts, fields regrouped per
// timestamp.
func (s *IndicatorStore) LoadIndicator(ctx context.Context, key domain.SeriesKey, name, paramsHash string, rng *domain.TimeRange) ([]storage.IndicatorPoint, error) {
	query := `
		SELECT ts, field, value
		FROM indicator_values FINAL
		WHERE symbol = ? AND timeframe = ? AND indicator_name = ? AND params_hash = ?
	`
	args := []any{key.Symbol, string(key.Timeframe), name, paramsHash}
	if rng != nil {
		query += " AND ts >= ? AND ts <= ?"
		args = append(args, rng.Start, rng.End)
	}
	query += " ORDER BY ts ASC, field ASC"

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindPersistence, "query indicator values", err).
			With("series", key.String()).With("indicator", name)
	}
	defer rows.Close()

	var points []storage.IndicatorPoint
	var current *storage.IndicatorPoint
	for rows.Next() {
		var ts time.Time
		var field string
		var value float64
		if err := rows.Scan(&ts, &field, &value); err != nil {
			return nil, fmt.Errorf("scan indicator row: %w", err)
		}
		ts = ts.UTC()
		if current == nil || !current.TS.Equal(ts) {
			points = append(points, storage.IndicatorPoint{TS: ts, Values: make(map[string]float64)})
			current = &points[len(points)-1]
		}
		current.Values[field] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate indicator rows: %w", err)
	}
	return points, nil
}
