// Package training turns strategy configs and bar data into trained,
// atomically persisted classifier artifacts.
package training

import (
	"strings"
	"time"

	"gonum.org/v1/gonum/mat"

	"ktrdr/internal/config"
	"ktrdr/internal/domain"
	"ktrdr/internal/fuzzy"
	"ktrdr/internal/indicator"
	"ktrdr/internal/kerr"
)

// Dataset is an aligned (features, labels) block. Symbols carries the
// originating symbol per row for split-time tagging only; it is never
// a model input.
type Dataset struct {
	X       *mat.Dense
	Y       []int
	TS      []time.Time
	Symbols []string
	Columns []string
}

// Len returns the number of rows.
func (d *Dataset) Len() int {
	if d.X == nil {
		return 0
	}
	r, _ := d.X.Dims()
	return r
}

// buildSymbolDataset computes indicators and fuzzy memberships over one
// symbol's bars and assembles the configured feature columns. Rows with
// any undefined feature or label are dropped, so indicator warm-up
// never leaks into training. Indicator state lives entirely inside the
// per-call computation, so nothing carries across symbols.
func buildSymbolDataset(symbol string, bars []domain.Bar, s *config.Strategy) (*Dataset, error) {
	if len(bars) == 0 {
		return nil, kerr.Newf(kerr.KindNoData, "no bars for %s", symbol)
	}

	columns := make(map[string][]float64)
	for name, col := range barInputs(bars) {
		columns[name] = col
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

	featureCols := s.FeatureColumns()
	if len(featureCols) == 0 {
		return nil, kerr.New(kerr.KindConfig, "features: no columns selected")
	}

	labels, err := labelsFor(bars, s.Labels)
	if err != nil {
		return nil, err
	}

	// Keep rows where every feature and the label are defined.
	var rows []int
	for i := range bars {
		if labels[i] == labelUndefined {
			continue
		}
		ok := true
		for _, name := range featureCols {
			if domain.IsUndefined(columns[name][i]) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return nil, kerr.Newf(kerr.KindNoData, "no usable rows for %s after warm-up", symbol)
	}

	x := mat.NewDense(len(rows), len(featureCols), nil)
	y := make([]int, len(rows))
	ts := make([]time.Time, len(rows))
	syms := make([]string, len(rows))
	for r, i := range rows {
		for c, name := range featureCols {
			x.Set(r, c, columns[name][i])
		}
		y[r] = labels[i]
		ts[r] = bars[i].TS
		syms[r] = symbol
	}
	return &Dataset{X: x, Y: y, TS: ts, Symbols: syms, Columns: featureCols}, nil
}

// labelsFor dispatches on the configured generator.
func labelsFor(bars []domain.Bar, lc config.LabelConfig) ([]int, error) {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	switch lc.Generator {
	case "", "directional":
		horizon := int(lc.Params["horizon"])
		if horizon == 0 {
			horizon = 1
		}
		return directionalLabels(closes, horizon, lc.Params["up_threshold"], lc.Params["down_threshold"])
	}
	return nil, kerr.Newf(kerr.KindConfig, "labels.generator: unknown generator %q", lc.Generator)
}

// barInputs exposes raw OHLCV columns as fuzzy/rule inputs.
func barInputs(bars []domain.Bar) map[string][]float64 {
	cols := map[string][]float64{
		"open":   make([]float64, len(bars)),
		"high":   make([]float64, len(bars)),
		"low":    make([]float64, len(bars)),
		"close":  make([]float64, len(bars)),
		"volume": make([]float64, len(bars)),
	}
	for i, b := range bars {
		cols["open"][i] = b.Open
		cols["high"][i] = b.High
		cols["low"][i] = b.Low
		cols["close"][i] = b.Close
		cols["volume"][i] = b.Volume
	}
	return cols
}

// concatDatasets appends per-symbol datasets in the given order,
// preserving intra-symbol temporal order. No shuffling, no symbol
// identity column.
func concatDatasets(parts []*Dataset) (*Dataset, error) {
	var total int
	for _, p := range parts {
		total += p.Len()
	}
	if total == 0 {
		return nil, kerr.New(kerr.KindNoData, "concat: empty dataset")
	}
	columns := parts[0].Columns
	for _, p := range parts[1:] {
		if strings.Join(p.Columns, ",") != strings.Join(columns, ",") {
			return nil, kerr.New(kerr.KindDataIntegrity, "concat: feature columns differ across symbols")
		}
	}

	x := mat.NewDense(total, len(columns), nil)
	y := make([]int, 0, total)
	ts := make([]time.Time, 0, total)
	syms := make([]string, 0, total)
	row := 0
	for _, p := range parts {
		n := p.Len()
		for i := 0; i < n; i++ {
			x.SetRow(row, mat.Row(nil, i, p.X))
			row++
		}
		y = append(y, p.Y...)
		ts = append(ts, p.TS...)
		syms = append(syms, p.Symbols...)
	}
	return &Dataset{X: x, Y: y, TS: ts, Symbols: syms, Columns: columns}, nil
}
