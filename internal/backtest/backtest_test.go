package backtest

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
	"ktrdr/internal/storage/memory"
)

const strategyDoc = `
name: bt-test
symbols: [AAPL]
timeframes: [1d]
training:
  epochs: 1
  batch: 8
  learning_rate: 0.01
rules:
  entry: ["close < 95"]
  exit: ["close > 105"]
%s
`

func parseStrategy(t *testing.T, riskYAML string) *config.Strategy {
	t.Helper()
	s, err := config.Parse([]byte(fmt.Sprintf(strategyDoc, riskYAML)))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// barsFromCloses builds a consecutive daily series where each bar
// opens and closes at the given price with a one-point range.
func barsFromCloses(closes []float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			TS:     start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 1000,
			Source: domain.SourceBroker,
		}
	}
	return bars
}

func newTestEngine(t *testing.T, bars []domain.Bar) (*Engine, domain.TimeRange) {
	t.Helper()
	store := memory.NewBarStore()
	key, err := domain.NewSeriesKey("AAPL", domain.Timeframe1d)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpsertBars(context.Background(), key, bars); err != nil {
		t.Fatal(err)
	}
	mgr, err := data.NewManager(data.Options{Store: store})
	if err != nil {
		t.Fatal(err)
	}
	eng, err := NewEngine(Options{Data: mgr, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatal(err)
	}
	return eng, domain.TimeRange{Start: bars[0].TS, End: bars[len(bars)-1].TS}
}

func TestEngine_TradeRoundTrip(t *testing.T) {
	// Entry signal on bar 5 (close 90), filled on bar 6 open; exit
	// signal on bar 9 (close 112), filled on bar 10 open.
	closes := []float64{100, 100, 100, 100, 100, 90, 90, 90, 90, 112, 112, 112}
	eng, rng := newTestEngine(t, barsFromCloses(closes))
	s := parseStrategy(t, "")

	res, err := eng.Run(context.Background(), Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected one trade, got %d: %+v", len(res.Trades), res.Trades)
	}
	tr := res.Trades[0]
	if tr.Symbol != "AAPL" || tr.Direction != domain.DirectionLong {
		t.Errorf("unexpected trade identity: %+v", tr)
	}
	if tr.EntryPrice != 90 || tr.ExitPrice != 112 {
		t.Errorf("expected next-bar-open fills 90 -> 112, got %v -> %v", tr.EntryPrice, tr.ExitPrice)
	}
	if tr.ExitReason != "signal" || tr.BarsHeld != 4 {
		t.Errorf("trade bookkeeping: %+v", tr)
	}
	if tr.PnL <= 0 || tr.ReturnPct <= 0 {
		t.Errorf("winning round trip must have positive pnl: %+v", tr)
	}
	if res.Metrics.TotalReturn <= 0 || res.Metrics.WinRate != 1 {
		t.Errorf("metrics: %+v", res.Metrics)
	}
	if len(res.Equity) != len(closes) || len(res.Drawdown) != len(closes) {
		t.Errorf("equity and drawdown must cover every bar")
	}
}

func TestEngine_StopLossWorstFill(t *testing.T) {
	// Entry fills at 100 on bar 2. Bar 4 gaps to open 98 with low 90;
	// the 5% stop at 95 fills at min(open, stop) = 95.
	bars := barsFromCloses([]float64{100, 90, 100, 100, 98})
	bars[4].Low = 90
	eng, rng := newTestEngine(t, bars)
	s := parseStrategy(t, "risk:\n  stops:\n    stop_loss: 0.05\n")

	res, err := eng.Run(context.Background(), Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected one trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.ExitReason != "stop_loss" {
		t.Fatalf("expected stop_loss exit, got %q", tr.ExitReason)
	}
	if tr.ExitPrice != 95 {
		t.Errorf("worst fill for a gapped stop is the stop level, got %v", tr.ExitPrice)
	}
}

func TestEngine_TakeProfitFillsAtLimit(t *testing.T) {
	// Entry fills at 100 on bar 2; bar 3 spikes above the 10% target,
	// which fills exactly at the limit price.
	bars := barsFromCloses([]float64{100, 90, 100, 104})
	bars[3].High = 115
	eng, rng := newTestEngine(t, bars)
	s := parseStrategy(t, "risk:\n  stops:\n    take_profit: 0.1\n")

	res, err := eng.Run(context.Background(), Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != "take_profit" {
		t.Fatalf("expected take_profit exit, got %+v", res.Trades)
	}
	if got := res.Trades[0].ExitPrice; got != 110 {
		t.Errorf("limit fill must be the limit price 110, got %v", got)
	}
}

func TestEngine_OpenPositionClosedAtEnd(t *testing.T) {
	closes := []float64{100, 90, 100, 100}
	eng, rng := newTestEngine(t, barsFromCloses(closes))
	s := parseStrategy(t, "")

	res, err := eng.Run(context.Background(), Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Trades) != 1 || res.Trades[0].ExitReason != "end_of_data" {
		t.Fatalf("expected forced end_of_data exit, got %+v", res.Trades)
	}
	if res.Trades[0].ExitPrice != closes[len(closes)-1] {
		t.Errorf("forced exit fills at the last close, got %v", res.Trades[0].ExitPrice)
	}
}

func TestEngine_CostsApplied(t *testing.T) {
	closes := []float64{100, 90, 100, 110, 110}
	eng, rng := newTestEngine(t, barsFromCloses(closes))
	s := parseStrategy(t, "")

	free, err := eng.Run(context.Background(), Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	costed, err := eng.Run(context.Background(), Request{
		Strategy: s, Range: rng,
		Execution: ExecutionConfig{
			Commission: CommissionConfig{Type: CommissionPercent, Value: 0.001},
			Slippage:   SlippageConfig{Type: SlippageFixed, Value: 0.5},
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(free.Trades) != 1 || len(costed.Trades) != 1 {
		t.Fatalf("expected one trade in both runs")
	}
	ft, ct := free.Trades[0], costed.Trades[0]
	if ft.Commission != 0 || ft.Slippage != 0 {
		t.Errorf("cost-free run must carry no costs: %+v", ft)
	}
	if ct.Commission <= 0 || ct.Slippage <= 0 {
		t.Errorf("costed run must record costs: %+v", ct)
	}
	if ct.EntryPrice != ft.EntryPrice+0.5 {
		t.Errorf("buy slippage must raise the entry fill: %v vs %v", ct.EntryPrice, ft.EntryPrice)
	}
	if ct.PnL >= ft.PnL {
		t.Errorf("costs must reduce pnl: %v vs %v", ct.PnL, ft.PnL)
	}
}

func TestEngine_ExposureLimitRejectsEntry(t *testing.T) {
	closes := []float64{100, 90, 100, 110, 110}
	eng, rng := newTestEngine(t, barsFromCloses(closes))
	s := parseStrategy(t, "risk:\n  exposure_limits:\n    max_exposure: 0.1\n")

	res, err := eng.Run(context.Background(), Request{Strategy: s, Range: rng})
	if err != nil {
		t.Fatal(err)
	}
	// Default sizing wants the full equity; the 10% cap rejects it.
	if len(res.Trades) != 0 {
		t.Fatalf("entry beyond the exposure limit must be rejected, got %+v", res.Trades)
	}
	if res.Metrics.TotalReturn != 0 {
		t.Errorf("no trades means flat equity, got %v", res.Metrics.TotalReturn)
	}
}

func TestEngine_Deterministic(t *testing.T) {
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100 + 12*math.Sin(float64(i)/4)
	}
	eng, rng := newTestEngine(t, barsFromCloses(closes))
	s := parseStrategy(t, "risk:\n  stops:\n    stop_loss: 0.08\n")
	req := Request{
		Strategy: s, Range: rng,
		Execution: ExecutionConfig{
			Commission: CommissionConfig{Type: CommissionFixed, Value: 1},
			Slippage:   SlippageConfig{Type: SlippageVol, Value: 0.1},
		},
	}

	first, err := eng.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := eng.Run(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Trades) == 0 {
		t.Fatal("expected the oscillating series to trade")
	}
	if !reflect.DeepEqual(first.Trades, second.Trades) {
		t.Error("trade log must be identical across runs")
	}
	if first.Metrics != second.Metrics {
		t.Errorf("metrics must be identical across runs: %+v vs %+v", first.Metrics, second.Metrics)
	}
}

func TestSimulator_VolSlippageMovesFill(t *testing.T) {
	closes := make([]float64, 40)
	for i := range closes {
		closes[i] = 100
	}
	bars := barsFromCloses(closes)

	sim, err := newSimulator(ExecutionConfig{
		Slippage: SlippageConfig{Type: SlippageVol, Value: 0.5},
	}, bars)
	if err != nil {
		t.Fatal(err)
	}

	// Flat closes with a 2-point bar range give a constant ATR of 2, so
	// half an ATR degrades every fill by exactly 1.
	bar := len(bars) - 1
	if got := sim.fill(bar, 100, true); got != 101 {
		t.Errorf("buy fill = %v, want 101", got)
	}
	if got := sim.fill(bar, 100, false); got != 99 {
		t.Errorf("sell fill = %v, want 99", got)
	}
	// Warm-up bars have no ATR yet and fill at the raw price.
	if got := sim.fill(3, 100, true); got != 100 {
		t.Errorf("warm-up fill = %v, want 100", got)
	}
}

func TestExecutionConfig_Rejections(t *testing.T) {
	cases := []struct {
		name string
		cfg  ExecutionConfig
	}{
		{"bad commission type", ExecutionConfig{Commission: CommissionConfig{Type: "tiered"}}},
		{"negative commission", ExecutionConfig{Commission: CommissionConfig{Type: CommissionFixed, Value: -1}}},
		{"bad slippage type", ExecutionConfig{Slippage: SlippageConfig{Type: "square_root"}}},
		{"negative slippage", ExecutionConfig{Slippage: SlippageConfig{Type: SlippageFixed, Value: -0.1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.cfg.Validate(); !kerr.IsKind(err, kerr.KindConfig) {
				t.Errorf("expected config error, got %v", err)
			}
		})
	}
}

func TestPortfolio_PercentRiskSizing(t *testing.T) {
	risk := config.RiskConfig{
		PositionSizing: config.SizingConfig{Method: SizePercentRisk, Value: 0.01},
		Stops:          config.StopsConfig{StopLoss: 0.05},
	}
	sim, err := newSimulator(ExecutionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	book, err := newPortfolio("AAPL", 100_000, risk, sim)
	if err != nil {
		t.Fatal(err)
	}
	// Risk 1000 against a 5-point stop distance at price 100.
	if qty := book.size(100, 100_000); qty != 200 {
		t.Errorf("expected 200 units, got %v", qty)
	}
}

func TestPortfolio_PercentRiskRequiresStop(t *testing.T) {
	risk := config.RiskConfig{
		PositionSizing: config.SizingConfig{Method: SizePercentRisk, Value: 0.01},
	}
	sim, err := newSimulator(ExecutionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	_, err = newPortfolio("AAPL", 100_000, risk, sim)
	if !kerr.IsKind(err, kerr.KindConfig) {
		t.Errorf("percent_risk without stop_loss must be rejected, got %v", err)
	}
}

func TestPortfolio_PendingEntryCancelledWithoutFill(t *testing.T) {
	sim, err := newSimulator(ExecutionConfig{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	book, err := newPortfolio("AAPL", 100_000, config.RiskConfig{}, sim)
	if err != nil {
		t.Fatal(err)
	}
	book.requestEntry(domain.DirectionLong)
	if book.pos.state != domain.PositionPendingEntry {
		t.Fatalf("state %v", book.pos.state)
	}
	book.requestExit("signal")
	if book.pos.state != domain.PositionFlat {
		t.Errorf("cancelled pending entry must return to flat, got %v", book.pos.state)
	}
	if len(book.trades) != 0 {
		t.Errorf("cancellation must not log a trade")
	}
}
