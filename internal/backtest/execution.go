package backtest

import (
	"math"

	"ktrdr/internal/domain"
	"ktrdr/internal/indicator"
	"ktrdr/internal/kerr"
)

// Commission models.
const (
	CommissionFixed   = "fixed"   // flat cash per fill
	CommissionPercent = "percent" // fraction of fill notional
)

// Slippage models.
const (
	SlippageFixed   = "fixed"   // absolute price offset per fill
	SlippagePercent = "percent" // fraction of fill price
	SlippageVol     = "vol"     // fraction of ATR at the fill bar
)

// CommissionConfig prices each fill.
type CommissionConfig struct {
	Type  string
	Value float64
}

// SlippageConfig degrades each fill price in the adverse direction.
type SlippageConfig struct {
	Type  string
	Value float64
	// ATRPeriod drives the vol model. Default 14.
	ATRPeriod int
}

// ExecutionConfig bundles the cost model.
type ExecutionConfig struct {
	Commission CommissionConfig
	Slippage   SlippageConfig
}

// Validate checks model names and value ranges.
func (c ExecutionConfig) Validate() error {
	switch c.Commission.Type {
	case "", CommissionFixed, CommissionPercent:
	default:
		return kerr.Newf(kerr.KindConfig, "execution.commission: unknown type %q", c.Commission.Type)
	}
	if c.Commission.Value < 0 {
		return kerr.New(kerr.KindConfig, "execution.commission: value must not be negative")
	}
	switch c.Slippage.Type {
	case "", SlippageFixed, SlippagePercent, SlippageVol:
	default:
		return kerr.Newf(kerr.KindConfig, "execution.slippage: unknown type %q", c.Slippage.Type)
	}
	if c.Slippage.Value < 0 {
		return kerr.New(kerr.KindConfig, "execution.slippage: value must not be negative")
	}
	if c.Slippage.ATRPeriod < 0 {
		return kerr.New(kerr.KindConfig, "execution.slippage: atr period must not be negative")
	}
	return nil
}

// simulator applies slippage and commission to fills.
type simulator struct {
	cfg ExecutionConfig
	atr []float64 // per bar, only populated for the vol model
}

func newSimulator(cfg ExecutionConfig, bars []domain.Bar) (*simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sim := &simulator{cfg: cfg}
	if cfg.Slippage.Type == SlippageVol {
		period := cfg.Slippage.ATRPeriod
		if period == 0 {
			period = 14
		}
		frame, err := indicator.Compute("atr", indicator.Params{"period": float64(period)}, bars)
		if err != nil {
			return nil, err
		}
		sim.atr = frame.Field("value")
		if sim.atr == nil {
			return nil, kerr.New(kerr.KindContract, "execution: atr frame has no value field")
		}
	}
	return sim, nil
}

// fill degrades price against the trade: up for buys, down for sells.
func (s *simulator) fill(bar int, price float64, buy bool) float64 {
	var offset float64
	switch s.cfg.Slippage.Type {
	case SlippageFixed:
		offset = s.cfg.Slippage.Value
	case SlippagePercent:
		offset = price * s.cfg.Slippage.Value
	case SlippageVol:
		if bar < len(s.atr) && !math.IsNaN(s.atr[bar]) {
			offset = s.atr[bar] * s.cfg.Slippage.Value
		}
	}
	if buy {
		return price + offset
	}
	return math.Max(price-offset, 0)
}

// commission for one fill of the given notional.
func (s *simulator) commission(notional float64) float64 {
	switch s.cfg.Commission.Type {
	case CommissionFixed:
		return s.cfg.Commission.Value
	case CommissionPercent:
		return math.Abs(notional) * s.cfg.Commission.Value
	}
	return 0
}
