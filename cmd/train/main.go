// Command train runs a strategy's training pipeline, locally or
// against a remote training host, and prints the result record.
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

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/orchestrator"
	"ktrdr/internal/provider"
	"ktrdr/internal/provider/gateway"
	"ktrdr/internal/storage/clickhouse"
	"ktrdr/internal/training"
)

func main() {
	strategyPath := flag.String("strategy", "", "Strategy YAML file")
	start := flag.String("start", "", "Range start (RFC3339 or YYYY-MM-DD)")
	end := flag.String("end", "", "Range end (RFC3339 or YYYY-MM-DD)")
	mode := flag.String("mode", string(data.ModeLocal), "Data load mode: local, tail, backfill, or full")
	host := flag.String("host", "", "Remote training host base URL (empty runs locally)")
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
	req := training.Request{Strategy: s, Range: rng, Mode: data.Mode(*mode)}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result domain.RunResult
	if *host != "" {
		result, err = trainRemote(ctx, *host, req, log)
	} else {
		result, err = trainLocal(ctx, req, log)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("training failed")
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		log.Fatal().Err(err).Msg("encode result")
	}
	fmt.Println(string(out))
}

func trainRemote(ctx context.Context, host string, req training.Request, log zerolog.Logger) (domain.RunResult, error) {
	remote, err := orchestrator.NewRemote(orchestrator.RemoteOptions{BaseURL: host, Logger: log})
	if err != nil {
		return domain.RunResult{}, err
	}
	return remote.Train(ctx, req)
}

func trainLocal(ctx context.Context, req training.Request, log zerolog.Logger) (domain.RunResult, error) {
	dsn := os.Getenv("CLICKHOUSE_DSN")
	if dsn == "" {
		return domain.RunResult{}, fmt.Errorf("CLICKHOUSE_DSN is required for local training")
	}
	conn, err := clickhouse.NewConn(ctx, dsn)
	if err != nil {
		return domain.RunResult{}, err
	}
	defer conn.Close()
	store := clickhouse.NewBarStore(conn)

	opts := data.Options{Store: store, Logger: log}
	if addr := os.Getenv("GATEWAY_ADDR"); addr != "" && req.Mode != data.ModeLocal {
		client := gateway.New(gateway.DefaultConfig(addr))
		if err := client.Connect(ctx); err != nil {
			return domain.RunResult{}, err
		}
		defer client.Disconnect(context.Background())
		opts.Provider = provider.NewPacedProvider(client, provider.DefaultPacing())
	}
	mgr, err := data.NewManager(opts)
	if err != nil {
		return domain.RunResult{}, err
	}

	modelDir := os.Getenv("MODEL_DIR")
	if modelDir == "" {
		modelDir = "models"
	}
	pipeline, err := training.NewPipeline(training.Options{Data: mgr, ModelDir: modelDir, Logger: log})
	if err != nil {
		return domain.RunResult{}, err
	}
	local, err := orchestrator.NewLocal(pipeline, log)
	if err != nil {
		return domain.RunResult{}, err
	}

	run, err := local.Start(ctx, req)
	if err != nil {
		return domain.RunResult{}, err
	}
	go func() {
		<-ctx.Done()
		run.Cancel()
	}()
	for p := range run.Progress() {
		if p.ProgressType == "epoch" {
			log.Info().Int("epoch", p.Epoch).Int("total_epochs", p.TotalEpochs).
				Float64("train_loss", p.Metrics["train_loss"]).
				Float64("val_loss", p.Metrics["val_loss"]).
				Msg("epoch finished")
		}
	}
	return run.Wait(context.Background())
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
