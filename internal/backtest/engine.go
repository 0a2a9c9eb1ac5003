// Package backtest replays strategy decisions over stored bars through
// an execution and portfolio simulator.
package backtest

import (
	"context"
	"math"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/decision"
	"ktrdr/internal/domain"
	"ktrdr/internal/fuzzy"
	"ktrdr/internal/indicator"
	"ktrdr/internal/kerr"
)

const defaultInitialCapital = 100_000

// Engine runs event-driven backtests: one pass over the master bar
// series, decisions on the bar that closed, fills on the next open.
type Engine struct {
	data *data.Manager
	log  zerolog.Logger
}

// Options configures an Engine.
type Options struct {
	Data   *data.Manager
	Logger zerolog.Logger
}

// NewEngine creates a backtest engine.
func NewEngine(opts Options) (*Engine, error) {
	if opts.Data == nil {
		return nil, kerr.New(kerr.KindConfig, "backtest requires a data manager")
	}
	return &Engine{data: opts.Data, log: opts.Logger}, nil
}

// Request describes one backtest run.
type Request struct {
	Strategy *config.Strategy
	// Symbol to replay. Default: the strategy's first symbol.
	Symbol string
	Range  domain.TimeRange
	// Mode is the DataManager load mode; empty means Local.
	Mode data.Mode
	// InitialCapital defaults to 100000.
	InitialCapital float64
	Execution      ExecutionConfig
	// Model optionally drives signal strength instead of the fuzzy
	// aggregation.
	Model decision.StrengthModel
}

// Result is the full run record.
type Result struct {
	Symbol   string
	BarCount int
	Signals  []domain.Signal
	Trades   []domain.Trade
	Equity   []domain.EquityPoint
	Drawdown []float64
	Metrics  Metrics
}

// Run replays the strategy over the requested range. The trade log is
// a deterministic function of the inputs.
func (e *Engine) Run(ctx context.Context, req Request) (*Result, error) {
	if req.Strategy == nil {
		return nil, kerr.New(kerr.KindConfig, "backtest: strategy is required")
	}
	s := req.Strategy
	symbol := req.Symbol
	if symbol == "" {
		symbol = s.Symbols[0]
	}
	if req.InitialCapital == 0 {
		req.InitialCapital = defaultInitialCapital
	}

	tf, err := domain.ParseTimeframe(s.Timeframes[0])
	if err != nil {
		return nil, kerr.Wrap(kerr.KindConfig, "backtest: bad timeframe", err)
	}
	key, err := domain.NewSeriesKey(symbol, tf)
	if err != nil {
		return nil, kerr.Wrap(kerr.KindConfig, "backtest: bad symbol", err)
	}
	bars, _, err := e.data.LoadData(ctx, key, req.Range, data.LoadOptions{Mode: req.Mode, Strict: true})
	if err != nil {
		return nil, err
	}
	if len(bars) == 0 {
		return nil, kerr.Newf(kerr.KindNoData, "backtest: no data for %s", key)
	}

	columns, err := strategyColumns(bars, s)
	if err != nil {
		return nil, err
	}
	idents, err := s.Columns()
	if err != nil {
		return nil, err
	}
	dec, err := decision.NewEngine(decision.Options{
		Rules:      s.Rules,
		Columns:    idents,
		FuzzyNames: s.FuzzyNames(),
		Model:      req.Model,
		Logger:     e.log,
	})
	if err != nil {
		return nil, err
	}

	sim, err := newSimulator(req.Execution, bars)
	if err != nil {
		return nil, err
	}
	book, err := newPortfolio(symbol, req.InitialCapital, s.Risk, sim)
	if err != nil {
		return nil, err
	}

	e.log.Info().Str("symbol", symbol).Str("timeframe", string(tf)).
		Int("bars", len(bars)).Msg("backtest started")

	var signals []domain.Signal
	row := make(map[string]float64, len(columns))
	for i, b := range bars {
		if err := ctx.Err(); err != nil {
			return nil, kerr.Wrap(kerr.KindCancelled, "backtest interrupted", err)
		}

		// Pending orders from the previous bar fill on this open.
		switch book.pos.state {
		case domain.PositionPendingEntry:
			book.fillEntry(i, b, book.lastEquity())
		case domain.PositionPendingExit:
			book.fillExit(i, b.TS, b.Open, book.pos.exitReason)
		}
		e.applyProtectiveStops(book, i, b, s.Risk.Stops)

		book.markToMarket(b)

		for name, col := range columns {
			row[name] = col[i]
		}
		for _, sig := range dec.Evaluate(b.TS, row) {
			signals = append(signals, sig)
			switch sig.Type {
			case domain.SignalExit:
				book.requestExit("signal")
			case domain.SignalEntry:
				book.requestEntry(sig.Direction)
			}
		}
	}

	// Whatever is still open closes on the last bar.
	last := len(bars) - 1
	if book.pos.state == domain.PositionOpen || book.pos.state == domain.PositionPendingExit {
		book.fillExit(last, bars[last].TS, bars[last].Close, "end_of_data")
	}

	metrics, drawdown := computeMetrics(book.equity, book.trades, req.InitialCapital,
		tf, book.openBars, book.notionalTraded)
	e.log.Info().Str("symbol", symbol).Int("trades", len(book.trades)).
		Float64("total_return", metrics.TotalReturn).Msg("backtest finished")

	return &Result{
		Symbol:   symbol,
		BarCount: len(bars),
		Signals:  signals,
		Trades:   book.trades,
		Equity:   book.equity,
		Drawdown: drawdown,
		Metrics:  metrics,
	}, nil
}

// applyProtectiveStops checks the stop-loss before the take-profit on
// the same bar, with worst-fill tie-breaking on both.
func (e *Engine) applyProtectiveStops(book *portfolio, bar int, b domain.Bar, stops config.StopsConfig) {
	if book.pos.state != domain.PositionOpen {
		return
	}
	entry := book.pos.entryPrice
	if stops.StopLoss > 0 {
		stop := entry * (1 - stops.StopLoss)
		if b.Low <= stop {
			book.fillExit(bar, b.TS, math.Min(b.Open, stop), "stop_loss")
			return
		}
	}
	if stops.TakeProfit > 0 {
		limit := entry * (1 + stops.TakeProfit)
		if b.High >= limit {
			book.fillExit(bar, b.TS, limit, "take_profit")
		}
	}
}

// strategyColumns materializes every rule-addressable column over the
// bars: raw OHLCV, indicator outputs, and fuzzy memberships.
func strategyColumns(bars []domain.Bar, s *config.Strategy) (map[string][]float64, error) {
	columns := map[string][]float64{
		"open":   make([]float64, len(bars)),
		"high":   make([]float64, len(bars)),
		"low":    make([]float64, len(bars)),
		"close":  make([]float64, len(bars)),
		"volume": make([]float64, len(bars)),
	}
	for i, b := range bars {
		columns["open"][i] = b.Open
		columns["high"][i] = b.High
		columns["low"][i] = b.Low
		columns["close"][i] = b.Close
		columns["volume"][i] = b.Volume
	}
	for _, ic := range s.Indicators {
		frame, err := indicator.Compute(ic.Name, ic.Params, bars)
		if err != nil {
			return nil, err
		}
		spec, _ := indicator.Lookup(ic.Name)
		if len(spec.Fields) == 1 {
			columns[ic.Name] = frame.Field(spec.Fields[0])
			continue
		}
		for _, field := range spec.Fields {
			columns[ic.Name+"."+field] = frame.Field(field)
		}
	}
	sets, err := s.BuildFuzzySets()
	if err != nil {
		return nil, err
	}
	if len(sets) > 0 {
		eng, err := fuzzy.NewEngine(sets)
		if err != nil {
			return nil, err
		}
		ts := make([]time.Time, len(bars))
		for i, b := range bars {
			ts[i] = b.TS
		}
		frame, err := eng.Evaluate(ts, columns)
		if err != nil {
			return nil, err
		}
		for name, col := range frame.Fields {
			columns[name] = col
		}
	}
	return columns, nil
}
