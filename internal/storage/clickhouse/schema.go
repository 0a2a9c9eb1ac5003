package clickhouse

import (
	"context"
	"fmt"
)

// Schema tunables. Partition interval and retention are deployment
// knobs; the defaults match 7-day partitions and 10-year retention.
const (
	defaultRetentionYears = 10
)

// ddl statements for the time-series tables. ReplacingMergeTree keyed
// by the series identity makes UpsertBars idempotent: re-inserted rows
// collapse to the latest version at merge time, and reads deduplicate
// with FINAL.
var ddl = []string{
	fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS bars (
			symbol        LowCardinality(String),
			timeframe     LowCardinality(String),
			ts            DateTime64(3, 'UTC'),
			open          Float64,
			high          Float64,
			low           Float64,
			close         Float64,
			volume        Float64,
			source        LowCardinality(String),
			inserted_at   DateTime64(3, 'UTC') DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(inserted_at)
		PARTITION BY toMonday(ts)
		ORDER BY (symbol, timeframe, ts)
		TTL toDateTime(ts) + INTERVAL %d YEAR
	`, defaultRetentionYears),
	fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS indicator_values (
			symbol         LowCardinality(String),
			timeframe      LowCardinality(String),
			indicator_name LowCardinality(String),
			params_hash    String,
			ts             DateTime64(3, 'UTC'),
			field          LowCardinality(String),
			value          Float64,
			inserted_at    DateTime64(3, 'UTC') DEFAULT now64(3)
		)
		ENGINE = ReplacingMergeTree(inserted_at)
		PARTITION BY toMonday(ts)
		ORDER BY (symbol, timeframe, indicator_name, params_hash, ts, field)
		TTL toDateTime(ts) + INTERVAL %d YEAR
	`, defaultRetentionYears),
}

// Migrate creates the time-series tables if they do not exist.
func Migrate(ctx context.Context, conn *Conn) error {
	for _, stmt := range ddl {
		if err := conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply clickhouse ddl: %w", err)
		}
	}
	return nil
}
