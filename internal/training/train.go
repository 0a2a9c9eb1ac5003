package training

import (
	"math"
	"math/rand"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"ktrdr/internal/config"
	"ktrdr/internal/domain"
	"ktrdr/internal/kerr"
)

// cancelCheckEvery bounds how stale a cancel signal can get inside the
// batch loop.
const cancelCheckEvery = 1

// Progress is one training progress event.
type Progress struct {
	ProgressType string             `json:"progress_type"` // batch | epoch
	Epoch        int                `json:"epoch"`
	TotalEpochs  int                `json:"total_epochs"`
	Batch        int                `json:"batch"`
	TotalBatches int                `json:"total_batches"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

// ProgressFunc receives progress events. It must be fast; the loop
// calls it inline.
type ProgressFunc func(Progress)

// CancelToken is polled by the training loop. The orchestrators own
// the concrete implementation.
type CancelToken interface {
	Cancelled() bool
}

// optimizer applies one gradient step per layer.
type optimizer interface {
	step(layer int, l *mlpLayer, g layerGrads)
}

type sgd struct{ lr float64 }

func (o sgd) step(_ int, l *mlpLayer, g layerGrads) {
	var scaled mat.Dense
	scaled.Scale(o.lr, g.w)
	l.w.Sub(l.w, &scaled)
	for j := range l.b {
		l.b[j] -= o.lr * g.b[j]
	}
}

// adam keeps per-layer first and second moment estimates.
type adam struct {
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	t      int
	mW, vW []*mat.Dense
	mB, vB [][]float64
}

func newAdam(lr float64, layers []mlpLayer) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
	for _, l := range layers {
		r, c := l.w.Dims()
		a.mW = append(a.mW, mat.NewDense(r, c, nil))
		a.vW = append(a.vW, mat.NewDense(r, c, nil))
		a.mB = append(a.mB, make([]float64, len(l.b)))
		a.vB = append(a.vB, make([]float64, len(l.b)))
	}
	return a
}

// tick advances the shared timestep; call once per batch before the
// per-layer steps.
func (a *adam) tick() { a.t++ }

func (a *adam) step(layer int, l *mlpLayer, g layerGrads) {
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	rows, cols := l.w.Dims()
	mw, vw := a.mW[layer], a.vW[layer]
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			grad := g.w.At(i, j)
			m := a.beta1*mw.At(i, j) + (1-a.beta1)*grad
			v := a.beta2*vw.At(i, j) + (1-a.beta2)*grad*grad
			mw.Set(i, j, m)
			vw.Set(i, j, v)
			l.w.Set(i, j, l.w.At(i, j)-a.lr*(m/c1)/(math.Sqrt(v/c2)+a.eps))
		}
	}
	for j := range l.b {
		grad := g.b[j]
		m := a.beta1*a.mB[layer][j] + (1-a.beta1)*grad
		v := a.beta2*a.vB[layer][j] + (1-a.beta2)*grad*grad
		a.mB[layer][j] = m
		a.vB[layer][j] = v
		l.b[j] -= a.lr * (m / c1) / (math.Sqrt(v/c2) + a.eps)
	}
}

// fit trains the model over the split. Batches walk the training rows
// in temporal order; nothing is shuffled. Cancellation is polled every
// batch and aborts with a Cancelled error before any artifact exists.
func fit(model *MLP, split Split, tc config.TrainingConfig, progress ProgressFunc, cancel CancelToken, rng *rand.Rand) (domain.TrainingMetrics, error) {
	var opt optimizer
	var ad *adam
	if tc.Optimizer == "sgd" {
		opt = sgd{lr: tc.LearningRate}
	} else {
		ad = newAdam(tc.LearningRate, model.layers)
		opt = ad
	}

	n := split.Train.Len()
	batches := (n + tc.Batch - 1) / tc.Batch

	metrics := domain.TrainingMetrics{}
	bestVal := math.Inf(1)
	sinceBest := 0

	for epoch := 1; epoch <= tc.Epochs; epoch++ {
		var epochLoss float64
		for b := 0; b < batches; b++ {
			if cancel != nil && b%cancelCheckEvery == 0 && cancel.Cancelled() {
				return metrics, kerr.New(kerr.KindCancelled, "training cancelled").
					With("epoch", strconv.Itoa(epoch)).With("batch", strconv.Itoa(b))
			}

			lo := b * tc.Batch
			hi := lo + tc.Batch
			if hi > n {
				hi = n
			}
			bx := split.Train.X.Slice(lo, hi, 0, len(split.Train.Columns)).(*mat.Dense)
			by := split.Train.Y[lo:hi]

			probs, cache := model.forward(bx, true, rng)
			loss := crossEntropy(probs, by)
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return metrics, kerr.Newf(kerr.KindModel, "loss diverged at epoch %d batch %d", epoch, b)
			}
			epochLoss += loss * float64(hi-lo)

			if ad != nil {
				ad.tick()
			}
			grads := model.backward(cache, probs, by)
			for l := range model.layers {
				opt.step(l, &model.layers[l], grads[l])
			}

			if progress != nil {
				progress(Progress{
					ProgressType: "batch",
					Epoch:        epoch, TotalEpochs: tc.Epochs,
					Batch: b + 1, TotalBatches: batches,
					Metrics: map[string]float64{"batch_loss": loss},
				})
			}
		}

		trainLoss := epochLoss / float64(n)
		trainAcc := accuracy(model.Predict(split.Train.X), split.Train.Y)
		valLoss, valAcc := evaluateLossAcc(model, split.Val)

		row := domain.EpochMetrics{
			Epoch:         epoch,
			TrainLoss:     trainLoss,
			ValLoss:       valLoss,
			TrainAccuracy: trainAcc,
			ValAccuracy:   valAcc,
		}
		metrics.History = append(metrics.History, row)
		metrics.FinalTrainLoss = trainLoss
		metrics.FinalValLoss = valLoss
		metrics.FinalTrainAccuracy = trainAcc
		metrics.FinalValAccuracy = valAcc
		metrics.EpochsRun = epoch

		if progress != nil {
			progress(Progress{
				ProgressType: "epoch",
				Epoch:        epoch, TotalEpochs: tc.Epochs,
				TotalBatches: batches,
				Metrics: map[string]float64{
					"train_loss": trainLoss, "val_loss": valLoss,
					"train_accuracy": trainAcc, "val_accuracy": valAcc,
				},
			})
		}

		// Early stopping on validation loss.
		if split.Val.Len() > 0 && tc.EarlyStopping > 0 {
			if valLoss < bestVal {
				bestVal = valLoss
				sinceBest = 0
			} else {
				sinceBest++
				if sinceBest >= tc.EarlyStopping {
					break
				}
			}
		}
	}
	return metrics, nil
}

// evaluateLossAcc scores a partition without touching gradients.
func evaluateLossAcc(model *MLP, ds *Dataset) (loss, acc float64) {
	if ds == nil || ds.Len() == 0 {
		return 0, 0
	}
	probs := model.Probabilities(ds.X)
	return crossEntropy(probs, ds.Y), accuracy(model.Predict(ds.X), ds.Y)
}
