package training

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// Scorer adapts a persisted model artifact to row-wise scoring: it
// assembles the artifact's feature vector from a column-value map,
// applies the baked-in normalization, and returns the probability of
// the predicted class.
type Scorer struct {
	model *MLP
	meta  domain.ModelMetadata
}

// NewScorer loads and verifies the artifact at dir.
func NewScorer(dir string) (*Scorer, error) {
	model, meta, err := LoadArtifact(dir)
	if err != nil {
		return nil, err
	}
	if len(meta.FeatureNames) != model.InputDim() {
		return nil, kerr.Newf(kerr.KindModel, "artifact %s: %d feature names for input dim %d",
			dir, len(meta.FeatureNames), model.InputDim())
	}
	return &Scorer{model: model, meta: meta}, nil
}

// Metadata returns the artifact metadata.
func (s *Scorer) Metadata() domain.ModelMetadata { return s.meta }

// Strength scores one row. A missing or undefined feature yields 0.
func (s *Scorer) Strength(row map[string]float64) float64 {
	x := mat.NewDense(1, len(s.meta.FeatureNames), nil)
	for i, name := range s.meta.FeatureNames {
		v, ok := row[name]
		if !ok || math.IsNaN(v) {
			return 0
		}
		sd := s.meta.Normalization.Stddev[i]
		if sd == 0 {
			sd = 1
		}
		x.Set(0, i, (v-s.meta.Normalization.Mean[i])/sd)
	}
	probs := s.model.Probabilities(x)
	best := 0.0
	for j := 0; j < s.model.Classes(); j++ {
		if p := probs.At(0, j); p > best {
			best = p
		}
	}
	return best
}
