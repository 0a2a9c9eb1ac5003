package indicator

import (
	"math"

	"ktrdr/internal/domain"
)

func init() {
	register(Spec{
		Name:   "atr",
		Fields: []string{"value"},
		Params: []ParamSpec{periodSpec(14, 1000)},
		WarmUp: func(p Params) int { return period(p, "period") },
		compute: func(bars []domain.Bar, hash string, p Params) Frame {
			f := newFrame("atr", hash, bars, "value")
			fillATR(f.Fields["value"], bars, period(p, "period"))
			return f
		},
	})
	register(Spec{
		Name:   "bollinger",
		Fields: []string{"upper", "middle", "lower"},
		Params: []ParamSpec{
			periodSpec(20, 1000),
			{Name: "stddev", Min: 0.1, Max: 10, Default: 2},
		},
		WarmUp:  func(p Params) int { return period(p, "period") - 1 },
		compute: computeBollinger,
	})
}

// fillATR computes Wilder's ATR. True range needs a previous close, so
// the first value appears at index period (average of the first period
// true ranges) and smooths from there.
func fillATR(dst []float64, bars []domain.Bar, n int) {
	if len(bars) <= n {
		return
	}
	var sum float64
	for i := 1; i <= n; i++ {
		sum += trueRange(bars[i], bars[i-1].Close)
	}
	prev := sum / float64(n)
	dst[n] = prev
	for i := n + 1; i < len(bars); i++ {
		prev = (prev*float64(n-1) + trueRange(bars[i], bars[i-1].Close)) / float64(n)
		dst[i] = prev
	}
}

func trueRange(b domain.Bar, prevClose float64) float64 {
	tr := b.High - b.Low
	if d := math.Abs(b.High - prevClose); d > tr {
		tr = d
	}
	if d := math.Abs(b.Low - prevClose); d > tr {
		tr = d
	}
	return tr
}

func computeBollinger(bars []domain.Bar, hash string, p Params) Frame {
	f := newFrame("bollinger", hash, bars, "upper", "middle", "lower")
	n := period(p, "period")
	k := p["stddev"]
	src := closes(bars)
	mid := f.Fields["middle"]
	fillSMA(mid, src, n)

	upper := f.Fields["upper"]
	lower := f.Fields["lower"]
	for i := n - 1; i < len(src); i++ {
		var ss float64
		for j := i - n + 1; j <= i; j++ {
			d := src[j] - mid[i]
			ss += d * d
		}
		sd := math.Sqrt(ss / float64(n))
		upper[i] = mid[i] + k*sd
		lower[i] = mid[i] - k*sd
	}
	return f
}
