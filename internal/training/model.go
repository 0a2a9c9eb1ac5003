package training

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"ktrdr/internal/kerr"
)

// mlpLayer is one dense layer: weights are in-by-out, bias per output.
type mlpLayer struct {
	w *mat.Dense
	b []float64
}

// MLP is a feed-forward softmax classifier. The final layer is always
// softmax over the label classes; hidden layers share one activation.
type MLP struct {
	sizes      []int
	activation string
	dropout    float64
	layers     []mlpLayer
}

// newMLP builds a network with Glorot-uniform initial weights. sizes
// runs input, hidden..., output.
func newMLP(sizes []int, activation string, dropout float64, rng *rand.Rand) (*MLP, error) {
	if len(sizes) < 2 {
		return nil, kerr.New(kerr.KindConfig, "model: need at least input and output sizes")
	}
	m := &MLP{sizes: sizes, activation: activation, dropout: dropout}
	for l := 0; l < len(sizes)-1; l++ {
		in, out := sizes[l], sizes[l+1]
		limit := math.Sqrt(6.0 / float64(in+out))
		w := mat.NewDense(in, out, nil)
		for i := 0; i < in; i++ {
			for j := 0; j < out; j++ {
				w.Set(i, j, (rng.Float64()*2-1)*limit)
			}
		}
		m.layers = append(m.layers, mlpLayer{w: w, b: make([]float64, out)})
	}
	return m, nil
}

// ParameterCount returns the number of trainable scalars.
func (m *MLP) ParameterCount() int {
	count := 0
	for _, l := range m.layers {
		r, c := l.w.Dims()
		count += r*c + len(l.b)
	}
	return count
}

// Classes returns the output width.
func (m *MLP) Classes() int { return m.sizes[len(m.sizes)-1] }

// InputDim returns the expected feature width.
func (m *MLP) InputDim() int { return m.sizes[0] }

// forwardCache holds per-layer activations for backprop. acts are the
// actual layer inputs (post-dropout when masked); hidden holds the
// pre-mask activation values used for the activation derivative; masks
// are the inverted-dropout multipliers.
type forwardCache struct {
	acts   []*mat.Dense
	hidden []*mat.Dense
	masks  []*mat.Dense
}

// forward runs a batch through the network. When train is true and
// dropout is configured, hidden activations are masked with the given
// rng (inverted dropout, so inference needs no rescaling).
func (m *MLP) forward(x *mat.Dense, train bool, rng *rand.Rand) (*mat.Dense, *forwardCache) {
	cache := &forwardCache{
		acts:   make([]*mat.Dense, 0, len(m.layers)+1),
		hidden: make([]*mat.Dense, len(m.layers)),
		masks:  make([]*mat.Dense, len(m.layers)),
	}
	cache.acts = append(cache.acts, x)

	a := x
	for l, layer := range m.layers {
		rows, _ := a.Dims()
		_, out := layer.w.Dims()
		z := mat.NewDense(rows, out, nil)
		z.Mul(a, layer.w)
		for i := 0; i < rows; i++ {
			for j := 0; j < out; j++ {
				z.Set(i, j, z.At(i, j)+layer.b[j])
			}
		}
		if l == len(m.layers)-1 {
			a = softmaxRows(z)
		} else {
			applyActivation(z, m.activation)
			hidden := mat.NewDense(rows, out, nil)
			hidden.Copy(z)
			cache.hidden[l] = hidden
			if train && m.dropout > 0 {
				mask := mat.NewDense(rows, out, nil)
				keep := 1 - m.dropout
				for i := 0; i < rows; i++ {
					for j := 0; j < out; j++ {
						if rng.Float64() < keep {
							mask.Set(i, j, 1/keep)
						}
					}
				}
				z.MulElem(z, mask)
				cache.masks[l] = mask
			}
			a = z
		}
		cache.acts = append(cache.acts, a)
	}
	return a, cache
}

// Probabilities runs inference and returns the class distribution per
// row.
func (m *MLP) Probabilities(x *mat.Dense) *mat.Dense {
	probs, _ := m.forward(x, false, nil)
	return probs
}

// Predict returns the argmax class per row.
func (m *MLP) Predict(x *mat.Dense) []int {
	probs := m.Probabilities(x)
	rows, cols := probs.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		best, bestV := 0, probs.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := probs.At(i, j); v > bestV {
				best, bestV = j, v
			}
		}
		out[i] = best
	}
	return out
}

// layerGrads holds one layer's gradients.
type layerGrads struct {
	w *mat.Dense
	b []float64
}

// backward computes mean cross-entropy gradients for a batch given the
// forward cache and the true class per row.
func (m *MLP) backward(cache *forwardCache, probs *mat.Dense, y []int) []layerGrads {
	n, classes := probs.Dims()
	grads := make([]layerGrads, len(m.layers))

	// Softmax plus cross-entropy collapses to probs minus one-hot.
	delta := mat.NewDense(n, classes, nil)
	delta.Copy(probs)
	for i, cls := range y {
		delta.Set(i, cls, delta.At(i, cls)-1)
	}
	delta.Scale(1/float64(n), delta)

	for l := len(m.layers) - 1; l >= 0; l-- {
		prev := cache.acts[l]
		in, out := m.layers[l].w.Dims()

		gw := mat.NewDense(in, out, nil)
		gw.Mul(prev.T(), delta)
		gb := make([]float64, out)
		rows, _ := delta.Dims()
		for j := 0; j < out; j++ {
			for i := 0; i < rows; i++ {
				gb[j] += delta.At(i, j)
			}
		}
		grads[l] = layerGrads{w: gw, b: gb}

		if l == 0 {
			break
		}
		next := mat.NewDense(rows, in, nil)
		next.Mul(delta, m.layers[l].w.T())
		if mask := cache.masks[l-1]; mask != nil {
			next.MulElem(next, mask)
		}
		// Derivative through the hidden activation, using the cached
		// pre-mask activation values.
		act := cache.hidden[l-1]
		for i := 0; i < rows; i++ {
			for j := 0; j < in; j++ {
				next.Set(i, j, next.At(i, j)*activationDeriv(act.At(i, j), m.activation))
			}
		}
		delta = next
	}
	return grads
}

func applyActivation(z *mat.Dense, activation string) {
	rows, cols := z.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := z.At(i, j)
			switch activation {
			case "tanh":
				z.Set(i, j, math.Tanh(v))
			case "sigmoid":
				z.Set(i, j, 1/(1+math.Exp(-v)))
			default: // relu
				if v < 0 {
					z.Set(i, j, 0)
				}
			}
		}
	}
}

// activationDeriv evaluates the derivative at a post-activation value.
func activationDeriv(a float64, activation string) float64 {
	switch activation {
	case "tanh":
		return 1 - a*a
	case "sigmoid":
		return a * (1 - a)
	default: // relu
		if a > 0 {
			return 1
		}
		return 0
	}
}

func softmaxRows(z *mat.Dense) *mat.Dense {
	rows, cols := z.Dims()
	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		max := z.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := z.At(i, j); v > max {
				max = v
			}
		}
		var sum float64
		for j := 0; j < cols; j++ {
			e := math.Exp(z.At(i, j) - max)
			out.Set(i, j, e)
			sum += e
		}
		for j := 0; j < cols; j++ {
			out.Set(i, j, out.At(i, j)/sum)
		}
	}
	return out
}

// crossEntropy returns the mean negative log likelihood.
func crossEntropy(probs *mat.Dense, y []int) float64 {
	var sum float64
	for i, cls := range y {
		p := probs.At(i, cls)
		if p < 1e-12 {
			p = 1e-12
		}
		sum -= math.Log(p)
	}
	return sum / float64(len(y))
}

// accuracy counts argmax hits.
func accuracy(pred, y []int) float64 {
	if len(y) == 0 {
		return 0
	}
	hits := 0
	for i := range y {
		if pred[i] == y[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(y))
}
