// Command ingest fills gaps in stored bar series from the broker
// gateway and prints a quality report per series.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/indicator"
	"ktrdr/internal/observability"
	"ktrdr/internal/provider"
	"ktrdr/internal/provider/gateway"
	"ktrdr/internal/storage/clickhouse"
)

func main() {
	symbols := flag.String("symbols", "", "Comma-separated symbols to ingest")
	timeframe := flag.String("timeframe", "1d", "Bar timeframe")
	start := flag.String("start", "", "Range start (RFC3339 or YYYY-MM-DD)")
	end := flag.String("end", "", "Range end (RFC3339 or YYYY-MM-DD)")
	mode := flag.String("mode", string(data.ModeFull), "Load mode: tail, backfill, or full")
	repair := flag.Bool("repair", false, "Repair zero-volume doji bars")
	strategyPath := flag.String("strategy", "", "Strategy YAML; when set, its indicators are computed and persisted per series")
	metricsAddr := flag.String("metrics-addr", "", "Address to serve Prometheus metrics on (empty disables)")
	debug := flag.Bool("debug", false, "Debug logging")
	flag.Parse()

	log := newLogger(*debug)
	if *symbols == "" {
		log.Fatal().Msg("-symbols is required")
	}
	rng, err := parseRange(*start, *end)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid range")
	}
	tf, err := domain.ParseTimeframe(*timeframe)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid timeframe")
	}
	var strat *config.Strategy
	if *strategyPath != "" {
		if strat, err = config.Load(*strategyPath); err != nil {
			log.Fatal().Err(err).Msg("strategy config rejected")
		}
	}

	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		log.Fatal().Msg("CLICKHOUSE_DSN is required")
	}
	gatewayAddr := os.Getenv("GATEWAY_ADDR")
	if gatewayAddr == "" {
		log.Fatal().Msg("GATEWAY_ADDR is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("clickhouse connect failed")
	}
	defer conn.Close()
	if err := clickhouse.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("clickhouse migrate failed")
	}
	store := clickhouse.NewBarStore(conn)
	indStore := clickhouse.NewIndicatorStore(conn)

	client := gateway.New(gateway.DefaultConfig(gatewayAddr))
	if err := client.Connect(ctx); err != nil {
		log.Fatal().Err(err).Msg("gateway connect failed")
	}
	defer client.Disconnect(context.Background())
	paced := provider.NewPacedProvider(client, provider.DefaultPacing())

	metrics := observability.NewMetrics("")
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener stopped")
			}
		}()
	}

	mgr, err := data.NewManager(data.Options{
		Store:            store,
		Provider:         paced,
		RepairZeroVolume: *repair,
		Metrics:          metrics,
		Logger:           log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("data manager setup failed")
	}

	exitCode := 0
	for _, symbol := range strings.Split(*symbols, ",") {
		symbol = strings.TrimSpace(symbol)
		key, err := domain.NewSeriesKey(symbol, tf)
		if err != nil {
			log.Error().Err(err).Str("symbol", symbol).Msg("bad series key")
			exitCode = 1
			continue
		}
		bars, report, err := mgr.LoadData(ctx, key, rng, data.LoadOptions{Mode: data.Mode(*mode)})
		if err != nil {
			log.Error().Err(err).Str("series", key.String()).Msg("ingest failed")
			exitCode = 1
			continue
		}
		if strat != nil {
			if err := persistIndicators(ctx, indStore, key, bars, strat, log); err != nil {
				log.Error().Err(err).Str("series", key.String()).Msg("indicator precompute failed")
				exitCode = 1
				continue
			}
		}
		log.Info().
			Str("series", key.String()).
			Int("total", report.Total).
			Int("fetched", report.Fetched).
			Int("repaired", report.Repaired).
			Int("remaining_gaps", len(report.RemainingGaps)).
			Bool("incomplete", report.Incomplete).
			Msg("series ingested")
		for _, gap := range report.RemainingGaps {
			log.Warn().Str("series", key.String()).
				Time("start", gap.Start).Time("end", gap.End).
				Msg("data gap remains")
		}
	}
	os.Exit(exitCode)
}

// persistIndicators computes a strategy's indicators over the ingested
// bars and stores the defined points, warming the indicator cache for
// later training and backtest runs.
func persistIndicators(ctx context.Context, store *clickhouse.IndicatorStore, key domain.SeriesKey, bars []domain.Bar, strat *config.Strategy, log zerolog.Logger) error {
	for _, ind := range strat.Indicators {
		frame, err := indicator.Compute(ind.Name, indicator.Params(ind.Params), bars)
		if err != nil {
			return err
		}
		points := frame.Points()
		if err := store.UpsertIndicator(ctx, key, frame.Name, frame.ParamsHash, points); err != nil {
			return err
		}
		log.Info().Str("series", key.String()).Str("indicator", frame.Name).
			Int("points", len(points)).Msg("indicator persisted")
	}
	return nil
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

// parseRange accepts RFC3339 or plain dates; both bounds are required.
func parseRange(start, end string) (domain.TimeRange, error) {
	s, err := parseTime(start)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("start: %w", err)
	}
	e, err := parseTime(end)
	if err != nil {
		return domain.TimeRange{}, fmt.Errorf("end: %w", err)
	}
	rng := domain.TimeRange{Start: s, End: e}
	return rng, rng.Validate()
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, fmt.Errorf("missing value")
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.UTC(), nil
	}
	return time.ParseInLocation("2006-01-02", v, time.UTC)
}
