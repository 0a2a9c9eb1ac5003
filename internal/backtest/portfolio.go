package backtest

import (
	"time"

	"ktrdr/internal/config"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// Sizing methods.
const (
	SizeFixedFraction = "fixed_fraction" // fraction of current equity as notional
	SizePercentRisk   = "percent_risk"   // risk a fraction of equity against the stop distance
	SizeFixed         = "fixed"          // fixed quantity of units
)

// position is the single open or pending position. The engine trades
// one symbol long-only, so the book never holds more than one.
type position struct {
	state      domain.PositionState
	direction  domain.Direction
	quantity   float64
	entryTS    time.Time
	entryPrice float64
	entrySlip  float64
	entryComm  float64
	entryBar   int
	exitReason string
}

// portfolio tracks cash, the position book, and the trade log.
type portfolio struct {
	symbol string
	cash   float64
	risk   config.RiskConfig
	sim    *simulator
	pos    position
	trades []domain.Trade
	equity []domain.EquityPoint
	// openBars counts bars spent with an open position, for exposure.
	openBars int
	// notionalTraded accumulates fill notionals, for turnover.
	notionalTraded float64
}

func newPortfolio(symbol string, initialCapital float64, risk config.RiskConfig, sim *simulator) (*portfolio, error) {
	if initialCapital <= 0 {
		return nil, kerr.New(kerr.KindConfig, "initial capital must be positive")
	}
	switch risk.PositionSizing.Method {
	case "", SizeFixedFraction, SizePercentRisk, SizeFixed:
	default:
		return nil, kerr.Newf(kerr.KindConfig, "risk.position_sizing: unknown method %q", risk.PositionSizing.Method)
	}
	if risk.PositionSizing.Method == SizePercentRisk && risk.Stops.StopLoss <= 0 {
		return nil, kerr.New(kerr.KindConfig, "risk.position_sizing: percent_risk requires a stop_loss")
	}
	return &portfolio{symbol: symbol, cash: initialCapital, risk: risk, sim: sim, pos: position{state: domain.PositionFlat}}, nil
}

// size computes the entry quantity at the given fill price, or 0 when
// the trade is rejected by the exposure envelope.
func (p *portfolio) size(price, equity float64) float64 {
	sizing := p.risk.PositionSizing
	value := sizing.Value
	var qty float64
	switch sizing.Method {
	case "", SizeFixedFraction:
		if value == 0 {
			value = 1
		}
		qty = equity * value / price
	case SizePercentRisk:
		riskAmount := equity * value
		stopDistance := price * p.risk.Stops.StopLoss
		qty = riskAmount / stopDistance
	case SizeFixed:
		qty = value
	}
	if qty <= 0 {
		return 0
	}
	if limit := p.risk.ExposureLimits.MaxExposure; limit > 0 && qty*price > equity*limit {
		return 0
	}
	if max := p.risk.ExposureLimits.MaxPositions; max > 0 && p.openPositions() >= max {
		return 0
	}
	// Never buy more than cash covers.
	if qty*price > p.cash {
		qty = p.cash / price
	}
	return qty
}

func (p *portfolio) openPositions() int {
	if p.pos.state == domain.PositionOpen {
		return 1
	}
	return 0
}

// requestEntry arms a pending entry; it fills on the next bar's open.
func (p *portfolio) requestEntry(dir domain.Direction) {
	if p.pos.state != domain.PositionFlat {
		return
	}
	p.pos = position{state: domain.PositionPendingEntry, direction: dir}
}

// requestExit arms a pending exit, or cancels a not-yet-filled entry.
func (p *portfolio) requestExit(reason string) {
	switch p.pos.state {
	case domain.PositionPendingEntry:
		// Adverse conditions before the fill: cancel, no trade.
		p.pos = position{state: domain.PositionFlat}
	case domain.PositionOpen:
		p.pos.state = domain.PositionPendingExit
		p.pos.exitReason = reason
	}
}

// fillEntry executes the pending entry at the bar's open.
func (p *portfolio) fillEntry(bar int, b domain.Bar, equity float64) {
	price := p.sim.fill(bar, b.Open, true)
	qty := p.size(price, equity)
	if qty <= 0 {
		p.pos = position{state: domain.PositionFlat}
		return
	}
	notional := qty * price
	comm := p.sim.commission(notional)
	p.cash -= notional + comm
	p.notionalTraded += notional
	p.pos = position{
		state:      domain.PositionOpen,
		direction:  p.pos.direction,
		quantity:   qty,
		entryTS:    b.TS,
		entryPrice: price,
		entrySlip:  (price - b.Open) * qty,
		entryComm:  comm,
		entryBar:   bar,
	}
}

// fillExit closes the open position at the given price and logs the
// round trip.
func (p *portfolio) fillExit(bar int, ts time.Time, rawPrice float64, reason string) {
	price := p.sim.fill(bar, rawPrice, false)
	qty := p.pos.quantity
	notional := qty * price
	comm := p.sim.commission(notional)
	p.cash += notional - comm
	p.notionalTraded += notional

	slippage := p.pos.entrySlip + (rawPrice-price)*qty
	commission := p.pos.entryComm + comm
	entryNotional := p.pos.entryPrice * qty
	pnl := notional - entryNotional - comm - p.pos.entryComm
	trade := domain.Trade{
		Symbol:     p.symbol,
		Direction:  p.pos.direction,
		EntryTS:    p.pos.entryTS,
		EntryPrice: p.pos.entryPrice,
		ExitTS:     ts,
		ExitPrice:  price,
		Quantity:   qty,
		Commission: commission,
		Slippage:   slippage,
		PnL:        pnl,
		ReturnPct:  pnl / entryNotional,
		ExitReason: reason,
		BarsHeld:   bar - p.pos.entryBar,
	}
	p.trades = append(p.trades, trade)
	p.pos = position{state: domain.PositionFlat}
}

// markToMarket appends an equity sample at the bar close.
func (p *portfolio) markToMarket(b domain.Bar) float64 {
	eq := p.cash
	if p.pos.state == domain.PositionOpen || p.pos.state == domain.PositionPendingExit {
		eq += p.pos.quantity * b.Close
		p.openBars++
	}
	p.equity = append(p.equity, domain.EquityPoint{TS: b.TS, Equity: eq})
	return eq
}

// lastEquity is the most recent mark, or cash before the first bar.
func (p *portfolio) lastEquity() float64 {
	if len(p.equity) == 0 {
		return p.cash
	}
	return p.equity[len(p.equity)-1].Equity
}
