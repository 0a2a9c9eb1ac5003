package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ktrdr/internal/domain"
	"ktrdr/internal/storage"
)

func TestBarStore_Integration_UpsertLoad(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewBarStore(conn)
	ctx := context.Background()
	key, err := domain.NewSeriesKey("AAPL", domain.Timeframe1d)
	require.NoError(t, err)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 5)
	for i := range bars {
		px := 100.0 + float64(i)
		bars[i] = domain.Bar{
			TS: start.AddDate(0, 0, i), Open: px, High: px + 1, Low: px - 1, Close: px,
			Volume: 1000, Source: domain.SourceBroker,
		}
	}

	require.NoError(t, store.UpsertBars(ctx, key, bars))

	// Idempotent: same batch again must not change the visible rows.
	require.NoError(t, store.UpsertBars(ctx, key, bars))

	loaded, err := store.LoadBars(ctx, key, nil)
	require.NoError(t, err)
	require.Len(t, loaded, 5)
	for i := 1; i < len(loaded); i++ {
		require.True(t, loaded[i].TS.After(loaded[i-1].TS), "rows must be strictly ascending")
	}

	min, max, ok, err := store.DateRange(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, start, min)
	require.Equal(t, start.AddDate(0, 0, 4), max)

	symbols, err := store.ListSymbols(ctx, domain.Timeframe1d)
	require.NoError(t, err)
	require.Equal(t, []string{"AAPL"}, symbols)

	// Retention: drop everything older than the third bar.
	removed, err := store.DeleteBefore(ctx, key, start.AddDate(0, 0, 2))
	require.NoError(t, err)
	require.Equal(t, 2, removed)
}

func TestIndicatorStore_Integration_UpsertLoad(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewIndicatorStore(conn)
	ctx := context.Background()
	key, err := domain.NewSeriesKey("AAPL", domain.Timeframe1h)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	points := []storage.IndicatorPoint{
		{TS: start, Values: map[string]float64{"macd": 1.2, "signal": 1.0, "hist": 0.2}},
		{TS: start.Add(time.Hour), Values: map[string]float64{"macd": 1.3, "signal": 1.1, "hist": 0.2}},
	}

	require.NoError(t, store.UpsertIndicator(ctx, key, "macd", "abc123", points))

	loaded, err := store.LoadIndicator(ctx, key, "macd", "abc123", nil)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	require.Equal(t, 1.2, loaded[0].Values["macd"])
	require.Equal(t, 0.2, loaded[1].Values["hist"])
}
