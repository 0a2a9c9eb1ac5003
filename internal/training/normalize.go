package training

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"ktrdr/internal/domain"
)

// fitNormalization computes per-column z-score statistics. Degenerate
// columns (zero spread) get stddev 1 so normalization stays defined.
func fitNormalization(x *mat.Dense) domain.NormalizationStats {
	_, cols := x.Dims()
	stats := domain.NormalizationStats{
		Mean:   make([]float64, cols),
		Stddev: make([]float64, cols),
	}
	for c := 0; c < cols; c++ {
		col := mat.Col(nil, c, x)
		mean, std := stat.MeanStdDev(col, nil)
		if std == 0 || std != std {
			std = 1
		}
		stats.Mean[c] = mean
		stats.Stddev[c] = std
	}
	return stats
}

// applyNormalization rescales x in place with the given statistics.
func applyNormalization(x *mat.Dense, stats domain.NormalizationStats) {
	if x == nil {
		return
	}
	rows, cols := x.Dims()
	for c := 0; c < cols && c < len(stats.Mean); c++ {
		for r := 0; r < rows; r++ {
			x.Set(r, c, (x.At(r, c)-stats.Mean[c])/stats.Stddev[c])
		}
	}
}
