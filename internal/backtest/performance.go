package backtest

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"ktrdr/internal/domain"
)

// Metrics is the deterministic performance record of one run.
type Metrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	Sharpe           float64 `json:"sharpe"`
	Sortino          float64 `json:"sortino"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	Exposure         float64 `json:"exposure"`
	Turnover         float64 `json:"turnover"`
	TradeCount       int     `json:"trade_count"`
}

// computeMetrics derives the full record from the equity curve and the
// trade log.
func computeMetrics(equity []domain.EquityPoint, trades []domain.Trade, initialCapital float64,
	tf domain.Timeframe, openBars int, notionalTraded float64) (Metrics, []float64) {

	m := Metrics{TradeCount: len(trades)}
	if len(equity) == 0 {
		return m, nil
	}

	final := equity[len(equity)-1].Equity
	m.TotalReturn = final/initialCapital - 1

	years := periodYears(equity, tf)
	if years > 0 && final > 0 {
		m.AnnualizedReturn = math.Pow(final/initialCapital, 1/years) - 1
	}

	returns := barReturns(equity, initialCapital)
	perYear := barsPerYear(tf)
	if len(returns) > 1 {
		mean := stat.Mean(returns, nil)
		sd := stat.StdDev(returns, nil)
		if sd > 0 {
			m.Sharpe = mean / sd * math.Sqrt(perYear)
		}
		if dd := downsideDev(returns); dd > 0 {
			m.Sortino = mean / dd * math.Sqrt(perYear)
		}
	}

	drawdown := drawdownSeries(equity)
	for _, d := range drawdown {
		if d > m.MaxDrawdown {
			m.MaxDrawdown = d
		}
	}

	var wins int
	var grossProfit, grossLoss float64
	for _, t := range trades {
		if t.PnL > 0 {
			wins++
			grossProfit += t.PnL
		} else {
			grossLoss += -t.PnL
		}
	}
	if len(trades) > 0 {
		m.WinRate = float64(wins) / float64(len(trades))
	}
	if grossLoss > 0 {
		m.ProfitFactor = grossProfit / grossLoss
	} else if grossProfit > 0 {
		m.ProfitFactor = math.Inf(1)
	}

	m.Exposure = float64(openBars) / float64(len(equity))
	if avg := averageEquity(equity); avg > 0 {
		m.Turnover = notionalTraded / avg
	}
	return m, drawdown
}

// barReturns is the per-bar relative change of the equity curve,
// anchored at the initial capital.
func barReturns(equity []domain.EquityPoint, initialCapital float64) []float64 {
	returns := make([]float64, len(equity))
	prev := initialCapital
	for i, pt := range equity {
		if prev > 0 {
			returns[i] = pt.Equity/prev - 1
		}
		prev = pt.Equity
	}
	return returns
}

// drawdownSeries is the fractional decline from the running peak.
func drawdownSeries(equity []domain.EquityPoint) []float64 {
	dd := make([]float64, len(equity))
	peak := math.Inf(-1)
	for i, pt := range equity {
		if pt.Equity > peak {
			peak = pt.Equity
		}
		if peak > 0 {
			dd[i] = (peak - pt.Equity) / peak
		}
	}
	return dd
}

// downsideDev is the root mean square of negative returns.
func downsideDev(returns []float64) float64 {
	var sum float64
	for _, r := range returns {
		if r < 0 {
			sum += r * r
		}
	}
	return math.Sqrt(sum / float64(len(returns)))
}

func averageEquity(equity []domain.EquityPoint) float64 {
	var sum float64
	for _, pt := range equity {
		sum += pt.Equity
	}
	return sum / float64(len(equity))
}

func periodYears(equity []domain.EquityPoint, tf domain.Timeframe) float64 {
	span := equity[len(equity)-1].TS.Sub(equity[0].TS) + tf.Duration()
	return float64(span) / float64(365*24*time.Hour)
}

func barsPerYear(tf domain.Timeframe) float64 {
	return float64(365*24*time.Hour) / float64(tf.Duration())
}
