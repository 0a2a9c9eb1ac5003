package indicator

import (
	"ktrdr/internal/domain"
)

func init() {
	register(Spec{
		Name:   "sma",
		Fields: []string{"value"},
		Params: []ParamSpec{periodSpec(20, 1000)},
		WarmUp: func(p Params) int { return period(p, "period") - 1 },
		compute: func(bars []domain.Bar, hash string, p Params) Frame {
			f := newFrame("sma", hash, bars, "value")
			fillSMA(f.Fields["value"], closes(bars), period(p, "period"))
			return f
		},
	})
	register(Spec{
		Name:   "ema",
		Fields: []string{"value"},
		Params: []ParamSpec{periodSpec(20, 1000)},
		WarmUp: func(p Params) int { return period(p, "period") - 1 },
		compute: func(bars []domain.Bar, hash string, p Params) Frame {
			f := newFrame("ema", hash, bars, "value")
			fillEMA(f.Fields["value"], closes(bars), period(p, "period"))
			return f
		},
	})
	register(Spec{
		Name:   "macd",
		Fields: []string{"macd", "signal", "hist"},
		Params: []ParamSpec{
			{Name: "fast", Min: 1, Max: 1000, Integer: true, Default: 12},
			{Name: "slow", Min: 1, Max: 1000, Integer: true, Default: 26},
			{Name: "signal", Min: 1, Max: 1000, Integer: true, Default: 9},
		},
		WarmUp: func(p Params) int { return period(p, "slow") + period(p, "signal") - 2 },
		compute: computeMACD,
	})
}

// fillSMA writes the rolling mean into dst, leaving warm-up undefined.
func fillSMA(dst, src []float64, n int) {
	var sum float64
	for i, v := range src {
		sum += v
		if i >= n {
			sum -= src[i-n]
		}
		if i >= n-1 {
			dst[i] = sum / float64(n)
		}
	}
}

// fillEMA seeds with the SMA of the first n values, then smooths with
// alpha = 2/(n+1).
func fillEMA(dst, src []float64, n int) {
	if len(src) < n {
		return
	}
	var seed float64
	for _, v := range src[:n] {
		seed += v
	}
	prev := seed / float64(n)
	dst[n-1] = prev
	alpha := 2.0 / float64(n+1)
	for i := n; i < len(src); i++ {
		prev = alpha*src[i] + (1-alpha)*prev
		dst[i] = prev
	}
}

func computeMACD(bars []domain.Bar, hash string, p Params) Frame {
	f := newFrame("macd", hash, bars, "macd", "signal", "hist")
	fast, slow, sig := period(p, "fast"), period(p, "slow"), period(p, "signal")

	src := closes(bars)
	fastEMA := undefinedSlice(len(src))
	slowEMA := undefinedSlice(len(src))
	fillEMA(fastEMA, src, fast)
	fillEMA(slowEMA, src, slow)

	macd := f.Fields["macd"]
	for i := range src {
		if !domain.IsUndefined(fastEMA[i]) && !domain.IsUndefined(slowEMA[i]) {
			macd[i] = fastEMA[i] - slowEMA[i]
		}
	}

	// The signal line is an EMA over the defined part of the macd line.
	first := slow - 1
	if first < len(src) {
		tail := undefinedSlice(len(src) - first)
		fillEMA(tail, macd[first:], sig)
		signal := f.Fields["signal"]
		hist := f.Fields["hist"]
		for i := first; i < len(src); i++ {
			if !domain.IsUndefined(tail[i-first]) {
				signal[i] = tail[i-first]
				hist[i] = macd[i] - signal[i]
			}
		}
	}
	return f
}

func undefinedSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = domain.Undefined()
	}
	return s
}
