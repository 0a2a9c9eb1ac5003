package indicator

import (
	"ktrdr/internal/domain"
)

func init() {
	register(Spec{
		Name:   "rsi",
		Fields: []string{"value"},
		Params: []ParamSpec{periodSpec(14, 1000)},
		WarmUp: func(p Params) int { return period(p, "period") },
		compute: func(bars []domain.Bar, hash string, p Params) Frame {
			f := newFrame("rsi", hash, bars, "value")
			fillRSI(f.Fields["value"], closes(bars), period(p, "period"))
			return f
		},
	})
	register(Spec{
		Name:   "roc",
		Fields: []string{"value"},
		Params: []ParamSpec{periodSpec(10, 1000)},
		WarmUp: func(p Params) int { return period(p, "period") },
		compute: func(bars []domain.Bar, hash string, p Params) Frame {
			f := newFrame("roc", hash, bars, "value")
			src := closes(bars)
			n := period(p, "period")
			dst := f.Fields["value"]
			for i := n; i < len(src); i++ {
				if src[i-n] != 0 {
					dst[i] = (src[i]/src[i-n] - 1) * 100
				}
			}
			return f
		},
	})
	register(Spec{
		Name:   "stochastic_k",
		Fields: []string{"value"},
		Params: []ParamSpec{periodSpec(14, 1000)},
		WarmUp: func(p Params) int { return period(p, "period") - 1 },
		compute: func(bars []domain.Bar, hash string, p Params) Frame {
			f := newFrame("stochastic_k", hash, bars, "value")
			fillStochK(f.Fields["value"], bars, period(p, "period"))
			return f
		},
	})
}

// fillRSI computes Wilder's RSI: the first value appears after period
// deltas, seeded with simple averages of gains and losses, then
// smoothed with alpha = 1/period.
func fillRSI(dst, src []float64, n int) {
	if len(src) <= n {
		return
	}
	var avgGain, avgLoss float64
	for i := 1; i <= n; i++ {
		d := src[i] - src[i-1]
		if d > 0 {
			avgGain += d
		} else {
			avgLoss -= d
		}
	}
	avgGain /= float64(n)
	avgLoss /= float64(n)
	dst[n] = rsiValue(avgGain, avgLoss)
	for i := n + 1; i < len(src); i++ {
		d := src[i] - src[i-1]
		gain, loss := 0.0, 0.0
		if d > 0 {
			gain = d
		} else {
			loss = -d
		}
		avgGain = (avgGain*float64(n-1) + gain) / float64(n)
		avgLoss = (avgLoss*float64(n-1) + loss) / float64(n)
		dst[i] = rsiValue(avgGain, avgLoss)
	}
}

func rsiValue(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs)
}

// fillStochK computes %K over a rolling high/low window. A flat window
// (highest == lowest) leaves the row undefined.
func fillStochK(dst []float64, bars []domain.Bar, n int) {
	for i := n - 1; i < len(bars); i++ {
		hi, lo := bars[i].High, bars[i].Low
		for j := i - n + 1; j < i; j++ {
			if bars[j].High > hi {
				hi = bars[j].High
			}
			if bars[j].Low < lo {
				lo = bars[j].Low
			}
		}
		if hi > lo {
			dst[i] = (bars[i].Close - lo) / (hi - lo) * 100
		}
	}
}
