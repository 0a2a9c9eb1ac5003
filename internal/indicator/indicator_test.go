package indicator

import (
	"math"
	"testing"
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

func series(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{
			TS:     start.Add(time.Duration(i) * 24 * time.Hour),
			Open:   c,
			High:   c + 1,
			Low:    c - 1,
			Close:  c,
			Volume: 100,
			Source: domain.SourceBroker,
		}
	}
	return bars
}

func ramp(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i + 1)
	}
	return out
}

func TestSMA_WarmUpAndValues(t *testing.T) {
	bars := series(ramp(50)...)
	f, err := Compute("sma", Params{"period": 20}, bars)
	if err != nil {
		t.Fatalf("Compute failed: %v", err)
	}
	col := f.Field("value")
	for i := 0; i < 19; i++ {
		if !domain.IsUndefined(col[i]) {
			t.Fatalf("row %d should be undefined during warm-up, got %v", i, col[i])
		}
	}
	// Mean of 1..20 is 10.5.
	if math.Abs(col[19]-10.5) > 1e-9 {
		t.Errorf("row 20: expected 10.5, got %v", col[19])
	}
	// Rolling window shifts by exactly 1 on a linear ramp.
	for i := 20; i < 50; i++ {
		want := col[i-1] + 1
		if math.Abs(col[i]-want) > 1e-9 {
			t.Errorf("row %d: expected %v, got %v", i, want, col[i])
		}
	}
}

func TestEMA_SeedEqualsSMA(t *testing.T) {
	bars := series(ramp(30)...)
	ema, err := Compute("ema", Params{"period": 10}, bars)
	if err != nil {
		t.Fatal(err)
	}
	col := ema.Field("value")
	if !domain.IsUndefined(col[8]) {
		t.Error("row before seed must be undefined")
	}
	// Seed is the SMA of the first 10 closes: mean of 1..10 = 5.5.
	if math.Abs(col[9]-5.5) > 1e-9 {
		t.Errorf("seed: expected 5.5, got %v", col[9])
	}
	// After the seed the EMA tracks below the ramp but keeps rising.
	for i := 10; i < 30; i++ {
		if col[i] <= col[i-1] {
			t.Errorf("ema must rise on a ramp, row %d: %v <= %v", i, col[i], col[i-1])
		}
	}
}

func TestRSI_Bounds(t *testing.T) {
	// Alternating gains and losses keep RSI strictly inside (0,100).
	vals := make([]float64, 60)
	for i := range vals {
		vals[i] = 100 + float64(i%3)
	}
	f, err := Compute("rsi", Params{"period": 14}, series(vals...))
	if err != nil {
		t.Fatal(err)
	}
	col := f.Field("value")
	for i := 0; i < 14; i++ {
		if !domain.IsUndefined(col[i]) {
			t.Fatalf("row %d should be undefined, got %v", i, col[i])
		}
	}
	for i := 14; i < len(col); i++ {
		if col[i] < 0 || col[i] > 100 {
			t.Errorf("rsi out of bounds at %d: %v", i, col[i])
		}
	}

	// A pure uptrend saturates at 100.
	up, err := Compute("rsi", Params{"period": 14}, series(ramp(30)...))
	if err != nil {
		t.Fatal(err)
	}
	if got := up.Field("value")[20]; got != 100 {
		t.Errorf("uptrend rsi should be 100, got %v", got)
	}
}

func TestMACD_WarmUp(t *testing.T) {
	bars := series(ramp(60)...)
	f, err := Compute("macd", nil, bars)
	if err != nil {
		t.Fatal(err)
	}
	macd, signal, hist := f.Field("macd"), f.Field("signal"), f.Field("hist")
	if !domain.IsUndefined(macd[24]) || domain.IsUndefined(macd[25]) {
		t.Error("macd line must first be defined at the slow period boundary")
	}
	if !domain.IsUndefined(signal[32]) || domain.IsUndefined(signal[33]) {
		t.Error("signal line must first be defined slow+signal-1 rows in")
	}
	for i := 33; i < 60; i++ {
		if math.Abs(hist[i]-(macd[i]-signal[i])) > 1e-12 {
			t.Errorf("hist mismatch at %d", i)
		}
	}
}

func TestBollinger_Symmetric(t *testing.T) {
	bars := series(ramp(40)...)
	f, err := Compute("bollinger", Params{"period": 20, "stddev": 2}, bars)
	if err != nil {
		t.Fatal(err)
	}
	up, mid, lo := f.Field("upper"), f.Field("middle"), f.Field("lower")
	for i := 19; i < 40; i++ {
		if math.Abs((up[i]-mid[i])-(mid[i]-lo[i])) > 1e-9 {
			t.Errorf("bands not symmetric at %d", i)
		}
		if up[i] <= mid[i] {
			t.Errorf("upper band must exceed middle at %d", i)
		}
	}
}

func TestATR_ConstantRange(t *testing.T) {
	// Flat closes with a constant 2-point bar range give ATR = 2.
	vals := make([]float64, 30)
	for i := range vals {
		vals[i] = 100
	}
	f, err := Compute("atr", Params{"period": 14}, series(vals...))
	if err != nil {
		t.Fatal(err)
	}
	col := f.Field("value")
	if !domain.IsUndefined(col[13]) {
		t.Error("atr needs period true ranges before defining")
	}
	for i := 14; i < 30; i++ {
		if math.Abs(col[i]-2) > 1e-9 {
			t.Errorf("expected atr 2 at %d, got %v", i, col[i])
		}
	}
}

func TestStochasticK_Bounds(t *testing.T) {
	bars := series(ramp(30)...)
	f, err := Compute("stochastic_k", Params{"period": 14}, bars)
	if err != nil {
		t.Fatal(err)
	}
	col := f.Field("value")
	for i := 13; i < 30; i++ {
		if col[i] < 0 || col[i] > 100 {
			t.Errorf("%%K out of bounds at %d: %v", i, col[i])
		}
	}
}

func TestValidateParams_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		params Params
	}{
		{"sma", Params{"period": 0}},
		{"sma", Params{"period": 1001}},
		{"sma", Params{"period": 2.5}},
		{"sma", Params{"window": 20}},
		{"bollinger", Params{"stddev": -1}},
	}
	for _, tc := range cases {
		_, err := Compute(tc.name, tc.params, series(ramp(30)...))
		if !kerr.IsKind(err, kerr.KindConfig) {
			t.Errorf("%s %v: expected config error, got %v", tc.name, tc.params, err)
		}
	}
	if _, err := Compute("vwap", nil, series(ramp(10)...)); !kerr.IsKind(err, kerr.KindConfig) {
		t.Errorf("unknown indicator must be a config error, got %v", err)
	}
}

func TestParamsHash_Stable(t *testing.T) {
	a := ParamsHash(Params{"fast": 12, "slow": 26, "signal": 9})
	b := ParamsHash(Params{"signal": 9, "slow": 26, "fast": 12})
	if a != b {
		t.Errorf("hash must not depend on insertion order: %s vs %s", a, b)
	}
	c := ParamsHash(Params{"fast": 13, "slow": 26, "signal": 9})
	if a == c {
		t.Error("different params must hash differently")
	}
}

func TestFrame_PointsSkipWarmUp(t *testing.T) {
	bars := series(ramp(25)...)
	f, err := Compute("sma", Params{"period": 20}, bars)
	if err != nil {
		t.Fatal(err)
	}
	pts := f.Points()
	if len(pts) != 6 {
		t.Fatalf("expected 6 defined points, got %d", len(pts))
	}
	if !pts[0].TS.Equal(bars[19].TS) {
		t.Errorf("first point must align with first defined row")
	}
}
