package domain

import "time"

// NormalizationStats holds the per-feature training-split statistics
// baked into a model artifact. Inference must apply exactly these.
type NormalizationStats struct {
	Mean   []float64 `json:"mean"`
	Stddev []float64 `json:"stddev"`
}

// ModelMetadata is the metadata.json payload of a model artifact and
// the source of truth for load-time validation.
type ModelMetadata struct {
	StrategyName  string             `json:"strategy_name"`
	Version       string             `json:"version"`
	Architecture  string             `json:"architecture"`
	FeatureNames  []string           `json:"feature_names"`
	LabelClasses  []string           `json:"label_classes"`
	Normalization NormalizationStats `json:"normalization"`
	Training      TrainingMetrics    `json:"training_metrics"`
	Test          TestMetrics        `json:"test_metrics"`
	CreatedAt     time.Time          `json:"created_at"`
	Hash          string             `json:"hash"` // sha256 over weights + canonical metadata
}
