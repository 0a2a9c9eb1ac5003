package training

import (
	"context"
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"ktrdr/internal/config"
	"ktrdr/internal/data"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// Pipeline is the pure training work function. It owns no progress or
// cancellation state; both arrive per call and pass straight through
// to the training loop.
type Pipeline struct {
	data     *data.Manager
	modelDir string
	log      zerolog.Logger
	clock    func() time.Time
}

// Options configures a Pipeline.
type Options struct {
	Data     *data.Manager
	ModelDir string
	Logger   zerolog.Logger
	// Clock overrides time.Now for tests.
	Clock func() time.Time
}

// NewPipeline creates a training pipeline.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Data == nil {
		return nil, kerr.New(kerr.KindConfig, "pipeline requires a data manager")
	}
	if opts.ModelDir == "" {
		return nil, kerr.New(kerr.KindConfig, "pipeline requires a model directory")
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Pipeline{data: opts.Data, modelDir: opts.ModelDir, log: opts.Logger, clock: opts.Clock}, nil
}

// Request describes one training run.
type Request struct {
	Strategy *config.Strategy
	Range    domain.TimeRange
	// Mode is the DataManager load mode; empty means Local.
	Mode data.Mode
}

// Train runs the full pipeline: load, transform, fit, evaluate,
// persist. On cancellation it returns a Cancelled error and writes no
// artifact.
func (p *Pipeline) Train(ctx context.Context, req Request, progress ProgressFunc, cancel CancelToken) (domain.RunResult, error) {
	var result domain.RunResult
	if req.Strategy == nil {
		return result, kerr.New(kerr.KindConfig, "train: strategy is required")
	}
	s := req.Strategy
	if err := req.Range.Validate(); err != nil {
		return result, kerr.Wrap(kerr.KindConfig, "train: invalid range", err)
	}

	timeframes := make([]domain.Timeframe, len(s.Timeframes))
	for i, raw := range s.Timeframes {
		tf, err := domain.ParseTimeframe(raw)
		if err != nil {
			return result, kerr.Wrap(kerr.KindConfig, "train: bad timeframe", err)
		}
		timeframes[i] = tf
	}
	primary := timeframes[0]

	// Load every (symbol, timeframe) pair; features build on the
	// primary timeframe, the rest must still load cleanly.
	barsBySymbol := make(map[string][]domain.Bar, len(s.Symbols))
	for _, symbol := range s.Symbols {
		for _, tf := range timeframes {
			key, err := domain.NewSeriesKey(symbol, tf)
			if err != nil {
				return result, err
			}
			bars, report, err := p.data.LoadData(ctx, key, req.Range, data.LoadOptions{Mode: req.Mode, Strict: true})
			if err != nil {
				return result, err
			}
			if len(bars) == 0 {
				return result, kerr.Newf(kerr.KindNoData, "train: no data for %s", key)
			}
			if report.Incomplete {
				return result, kerr.Newf(kerr.KindNoData, "train: incomplete data for %s", key)
			}
			if tf == primary {
				barsBySymbol[symbol] = bars
			}
		}
	}

	// Per-symbol feature/label blocks, concatenated in sorted symbol
	// order so the assembled dataset is identical however the strategy
	// lists its symbols. Indicator computation is per call, so state
	// resets at every symbol boundary.
	symbols := append([]string(nil), s.Symbols...)
	sort.Strings(symbols)
	parts := make([]*Dataset, 0, len(symbols))
	sampleCounts := make(map[string]int, len(symbols))
	for _, symbol := range symbols {
		ds, err := buildSymbolDataset(symbol, barsBySymbol[symbol], s)
		if err != nil {
			return result, err
		}
		parts = append(parts, ds)
		sampleCounts[symbol] = ds.Len()
	}
	full, err := concatDatasets(parts)
	if err != nil {
		return result, err
	}

	split, err := splitDataset(parts, s.Training)
	if err != nil {
		return result, err
	}

	norm := fitNormalization(split.Train.X)
	applyNormalization(split.Train.X, norm)
	applyNormalization(split.Val.X, norm)
	applyNormalization(split.Test.X, norm)

	sizes := append([]int{len(full.Columns)}, s.Model.Layers...)
	sizes = append(sizes, len(LabelClasses))
	rng := rand.New(rand.NewSource(s.Training.Seed))
	model, err := newMLP(sizes, s.Model.Activation, s.Model.Dropout, rng)
	if err != nil {
		return result, err
	}

	p.log.Info().
		Str("strategy", s.Name).
		Int("samples", full.Len()).
		Int("features", len(full.Columns)).
		Int("parameters", model.ParameterCount()).
		Msg("training started")

	trainMetrics, err := fit(model, split, s.Training, progress, cancel, rng)
	if err != nil {
		return result, err
	}

	testMetrics := evaluate(model, split.Test, LabelClasses)
	perSymbol := evaluatePerSymbol(model, split.Test, LabelClasses)

	meta := domain.ModelMetadata{
		StrategyName:  s.Name,
		Architecture:  "mlp",
		FeatureNames:  full.Columns,
		LabelClasses:  LabelClasses,
		Normalization: norm,
		Training:      trainMetrics,
		Test:          testMetrics,
		CreatedAt:     p.clock(),
	}
	modelPath, err := saveArtifact(p.modelDir, s, model, meta)
	if err != nil {
		return result, err
	}

	result = domain.RunResult{
		ModelPath:       modelPath,
		TrainingMetrics: trainMetrics,
		TestMetrics:     testMetrics,
		Artifacts: domain.RunArtifacts{
			FeatureImportance: featureImportance(model, full.Columns),
			PerSymbolMetrics:  perSymbol,
		},
		ModelInfo: domain.ModelInfo{
			Architecture:   "mlp",
			ParameterCount: model.ParameterCount(),
			FeatureNames:   full.Columns,
			LabelClasses:   LabelClasses,
		},
		DataSummary: domain.DataSummary{
			Symbols:               s.Symbols,
			Timeframes:            s.Timeframes,
			SampleCountsPerSymbol: sampleCounts,
			TotalSamples:          full.Len(),
			DateRange:             dateRange(full.TS),
		},
		Status: domain.StatusCompleted,
	}
	p.log.Info().Str("strategy", s.Name).Str("model_path", modelPath).
		Float64("test_accuracy", testMetrics.Accuracy).Msg("training finished")
	return result, nil
}

// dateRange finds the min and max timestamps across all rows; the
// concatenated dataset is only ordered within each symbol block.
func dateRange(ts []time.Time) [2]time.Time {
	if len(ts) == 0 {
		return [2]time.Time{}
	}
	min, max := ts[0], ts[0]
	for _, t := range ts[1:] {
		if t.Before(min) {
			min = t
		}
		if t.After(max) {
			max = t
		}
	}
	return [2]time.Time{min, max}
}

// featureImportance approximates importance as the normalized mean
// absolute first-layer weight per input feature.
func featureImportance(model *MLP, columns []string) map[string]float64 {
	w := model.layers[0].w
	_, out := w.Dims()
	raw := make([]float64, len(columns))
	var total float64
	for i := range columns {
		var sum float64
		for j := 0; j < out; j++ {
			sum += math.Abs(w.At(i, j))
		}
		raw[i] = sum / float64(out)
		total += raw[i]
	}
	if total == 0 {
		return nil
	}
	imp := make(map[string]float64, len(columns))
	for i, name := range columns {
		imp[name] = raw[i] / total
	}
	return imp
}
