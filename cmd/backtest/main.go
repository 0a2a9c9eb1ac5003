// Command backtest replays a strategy over stored bars and prints the
// performance record.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/backtest"
	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/storage/clickhouse"
	"ktrdr/internal/training"
)

func main() {
	strategyPath := flag.String("strategy", "", "Strategy YAML file")
	symbol := flag.String("symbol", "", "Symbol to replay (default: strategy's first symbol)")
	start := flag.String("start", "", "Range start (RFC3339 or YYYY-MM-DD)")
	end := flag.String("end", "", "Range end (RFC3339 or YYYY-MM-DD)")
	capital := flag.Float64("capital", 100_000, "Initial capital")
	commissionType := flag.String("commission-type", "", "Commission model: fixed or percent")
	commission := flag.Float64("commission", 0, "Commission value")
	slippageType := flag.String("slippage-type", "", "Slippage model: fixed, percent, or vol")
	slippage := flag.Float64("slippage", 0, "Slippage value")
	modelDir := flag.String("model", "", "Model artifact directory to drive signal strength (optional)")
	trades := flag.Bool("trades", false, "Print the full trade log")
	debug := flag.Bool("debug", false, "Debug logging")
	flag.Parse()

	log := newLogger(*debug)
	if *strategyPath == "" {
		log.Fatal().Msg("-strategy is required")
	}
	s, err := config.Load(*strategyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("strategy config rejected")
	}
	rng, err := parseRange(*start, *end)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid range")
	}

	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		log.Fatal().Msg("CLICKHOUSE_DSN is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("clickhouse connect failed")
	}
	defer conn.Close()
	mgr, err := data.NewManager(data.Options{Store: clickhouse.NewBarStore(conn), Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("data manager setup failed")
	}
	engine, err := backtest.NewEngine(backtest.Options{Data: mgr, Logger: log})
	if err != nil {
		log.Fatal().Err(err).Msg("backtest setup failed")
	}

	req := backtest.Request{
		Strategy:       s,
		Symbol:         *symbol,
		Range:          rng,
		InitialCapital: *capital,
		Execution: backtest.ExecutionConfig{
			Commission: backtest.CommissionConfig{Type: *commissionType, Value: *commission},
			Slippage:   backtest.SlippageConfig{Type: *slippageType, Value: *slippage},
		},
	}
	if *modelDir != "" {
		scorer, err := training.NewScorer(*modelDir)
		if err != nil {
			log.Fatal().Err(err).Msg("model artifact rejected")
		}
		req.Model = scorer
	}

	result, err := engine.Run(ctx, req)
	if err != nil {
		log.Fatal().Err(err).Msg("backtest failed")
	}

	log.Info().
		Str("symbol", result.Symbol).
		Int("bars", result.BarCount).
		Int("signals", len(result.Signals)).
		Int("trades", len(result.Trades)).
		Msg("backtest complete")

	summary := struct {
		Symbol  string           `json:"symbol"`
		Metrics backtest.Metrics `json:"metrics"`
		Trades  []domain.Trade   `json:"trades,omitempty"`
	}{Symbol: result.Symbol, Metrics: result.Metrics}
	if *trades {
		summary.Trades = result.Trades
	}
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("encode result")
	}
	fmt.Println(string(out))
}

func newLogger(debug bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}

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
