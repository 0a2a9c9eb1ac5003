package training

import (
	"ktrdr/internal/kerr"
)

// Label classes, in class-index order. The index order is part of the
// artifact contract: confusion matrices and weight outputs follow it.
var LabelClasses = []string{"down", "flat", "up"}

// Class indexes.
const (
	ClassDown = 0
	ClassFlat = 1
	ClassUp   = 2

	// labelUndefined marks rows whose horizon runs past the series end.
	labelUndefined = -1
)

// directionalLabels classifies the forward return over horizon bars:
// up when return >= upThresh, down when return <= -downThresh, flat
// otherwise. The trailing horizon rows are undefined.
func directionalLabels(closes []float64, horizon int, upThresh, downThresh float64) ([]int, error) {
	if horizon <= 0 {
		return nil, kerr.New(kerr.KindConfig, "labels.params.horizon must be positive")
	}
	if upThresh < 0 || downThresh < 0 {
		return nil, kerr.New(kerr.KindConfig, "labels.params thresholds must be non-negative")
	}
	labels := make([]int, len(closes))
	for i := range closes {
		if i+horizon >= len(closes) {
			labels[i] = labelUndefined
			continue
		}
		ret := closes[i+horizon]/closes[i] - 1
		switch {
		case ret >= upThresh:
			labels[i] = ClassUp
		case ret <= -downThresh:
			labels[i] = ClassDown
		default:
			labels[i] = ClassFlat
		}
	}
	return labels, nil
}
