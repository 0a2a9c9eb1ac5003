// Package indicator computes technical indicators over bar series.
// All transforms are pure and stateless: the same input series always
// yields the same frame, and nothing carries across invocations.
package indicator

import (
	"time"

	"ktrdr/internal/domain"
	"ktrdr/internal/storage"
)

// Frame is a columnar indicator result aligned to a bar series. Every
// field slice has the same length as TS. Warm-up positions hold the
// undefined sentinel, never zero.
type Frame struct {
	Name       string
	ParamsHash string
	TS         []time.Time
	Fields     map[string][]float64
}

// Field returns the named column, or nil when absent.
func (f Frame) Field(name string) []float64 {
	return f.Fields[name]
}

// Len returns the number of rows.
func (f Frame) Len() int { return len(f.TS) }

// Points flattens the frame into storable rows, skipping rows where
// every field is undefined.
func (f Frame) Points() []storage.IndicatorPoint {
	pts := make([]storage.IndicatorPoint, 0, len(f.TS))
	for i, ts := range f.TS {
		values := make(map[string]float64, len(f.Fields))
		defined := false
		for name, col := range f.Fields {
			if !domain.IsUndefined(col[i]) {
				defined = true
			}
			values[name] = col[i]
		}
		if !defined {
			continue
		}
		pts = append(pts, storage.IndicatorPoint{TS: ts, Values: values})
	}
	return pts
}

// newFrame allocates a frame with every column filled undefined.
func newFrame(name, hash string, bars []domain.Bar, fields ...string) Frame {
	ts := make([]time.Time, len(bars))
	for i, b := range bars {
		ts[i] = b.TS
	}
	cols := make(map[string][]float64, len(fields))
	for _, field := range fields {
		col := make([]float64, len(bars))
		for i := range col {
			col[i] = domain.Undefined()
		}
		cols[field] = col
	}
	return Frame{Name: name, ParamsHash: hash, TS: ts, Fields: cols}
}

// closes extracts the close column.
func closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}
