package data

import (
	"math"

	"ktrdr/internal/domain"
)

// repairZeroVolumeDojis smooths zero-volume flat bars onto the previous
// close, marking them Repaired. Returns the number of bars touched.
// Bars already sourced from the broker with real volume are never
// modified.
func repairZeroVolumeDojis(bars []domain.Bar) int {
	repaired := 0
	for i := 1; i < len(bars); i++ {
		b := bars[i]
		if b.Volume != 0 || b.High != b.Low {
			continue
		}
		prevClose := bars[i-1].Close
		if b.Open == prevClose {
			continue
		}
		bars[i].Open = prevClose
		bars[i].High = math.Max(prevClose, b.Close)
		bars[i].Low = math.Min(prevClose, b.Close)
		bars[i].Source = domain.SourceRepaired
		repaired++
	}
	return repaired
}
