package nn

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

func init() {
	Register("mlp", func(seed int64) Model { return newMLP(seed) })
}

const (
	mlpHidden1 = 128
	mlpHidden2 = 64
)

// mlp is a three-layer perceptron: 784 -> 128 -> 64 -> 10 with ReLU between
// the dense layers. Weight shapes follow the [out, in] convention so that
// parameter names and shapes line up with what the visualization expects.
type mlp struct {
	fc1w, fc1b *Param
	fc2w, fc2b *Param
	fc3w, fc3b *Param

	// Forward caches, owned by the training worker.
	in     *mat.Dense
	h1, h2 *mat.Dense
	logits *mat.Dense
	batch  int
}

func newMLP(seed int64) *mlp {
	rng := rand.New(rand.NewSource(seed))
	m := &mlp{
		fc1w: newParam("fc1.weight", mlpHidden1, InputPixels),
		fc1b: newParam("fc1.bias", mlpHidden1),
		fc2w: newParam("fc2.weight", mlpHidden2, mlpHidden1),
		fc2b: newParam("fc2.bias", mlpHidden2),
		fc3w: newParam("fc3.weight", NumClasses, mlpHidden2),
		fc3b: newParam("fc3.bias", NumClasses),
	}
	m.fc1w.xavierInit(rng, InputPixels, mlpHidden1)
	m.fc2w.xavierInit(rng, mlpHidden1, mlpHidden2)
	m.fc3w.xavierInit(rng, mlpHidden2, NumClasses)
	return m
}

func (m *mlp) Arch() string { return "mlp" }

func (m *mlp) Parameters() []*Param {
	return []*Param{m.fc1w, m.fc1b, m.fc2w, m.fc2b, m.fc3w, m.fc3b}
}

// denseLayer computes relu(x * w^T + b) into a fresh matrix. The relu is
// skipped for the final layer.
func denseLayer(x *mat.Dense, w, b *Tensor, relu bool) *mat.Dense {
	rows, _ := x.Dims()
	outDim := w.Shape[0]
	wm := mat.NewDense(w.Shape[0], w.Shape[1], w.Data)
	out := mat.NewDense(rows, outDim, nil)
	out.Mul(x, wm.T())
	raw := out.RawMatrix().Data
	for r := 0; r < rows; r++ {
		for c := 0; c < outDim; c++ {
			v := raw[r*outDim+c] + b.Data[c]
			if relu && v < 0 {
				v = 0
			}
			raw[r*outDim+c] = v
		}
	}
	return out
}

func (m *mlp) Forward(x *Tensor) *Tensor {
	m.batch = x.Shape[0]
	m.in = mat.NewDense(m.batch, InputPixels, x.Data)
	m.h1 = denseLayer(m.in, m.fc1w.Value, m.fc1b.Value, true)
	m.h2 = denseLayer(m.h1, m.fc2w.Value, m.fc2b.Value, true)
	m.logits = denseLayer(m.h2, m.fc3w.Value, m.fc3b.Value, false)
	out := NewTensor(m.batch, NumClasses)
	copy(out.Data, m.logits.RawMatrix().Data)
	return out
}

func (m *mlp) Backward(targets []int) float64 {
	b := m.batch
	probs, loss := softmaxCrossEntropy(m.logits.RawMatrix().Data, b, NumClasses, targets)

	// dLogits = (probs - onehot) / batch
	dLogits := mat.NewDense(b, NumClasses, probs)
	raw := dLogits.RawMatrix().Data
	for r := 0; r < b; r++ {
		raw[r*NumClasses+targets[r]] -= 1
	}
	for i := range raw {
		raw[i] /= float64(b)
	}

	dH2 := m.backLayer(dLogits, m.h2, m.fc3w, m.fc3b)
	maskReLU(dH2, m.h2)
	dH1 := m.backLayer(dH2, m.h1, m.fc2w, m.fc2b)
	maskReLU(dH1, m.h1)
	m.backLayer(dH1, m.in, m.fc1w, m.fc1b)
	return loss
}

// backLayer accumulates weight and bias gradients for one dense layer and
// returns the gradient with respect to its input.
func (m *mlp) backLayer(dOut, in *mat.Dense, w, b *Param) *mat.Dense {
	gw := mat.NewDense(w.Value.Shape[0], w.Value.Shape[1], w.Grad.Data)
	gw.Mul(dOut.T(), in)

	rows, cols := dOut.Dims()
	raw := dOut.RawMatrix().Data
	for c := 0; c < cols; c++ {
		sum := 0.0
		for r := 0; r < rows; r++ {
			sum += raw[r*cols+c]
		}
		b.Grad.Data[c] = sum
	}

	wm := mat.NewDense(w.Value.Shape[0], w.Value.Shape[1], w.Value.Data)
	dIn := mat.NewDense(rows, w.Value.Shape[1], nil)
	dIn.Mul(dOut, wm)
	return dIn
}

// maskReLU zeroes gradient entries where the forward activation was clipped.
func maskReLU(grad, act *mat.Dense) {
	g := grad.RawMatrix().Data
	a := act.RawMatrix().Data
	for i := range g {
		if a[i] <= 0 {
			g[i] = 0
		}
	}
}

func (m *mlp) Infer(x []float64) []float64 {
	h1 := inferDense(x, m.fc1w.Value, m.fc1b.Value, true)
	h2 := inferDense(h1, m.fc2w.Value, m.fc2b.Value, true)
	return inferDense(h2, m.fc3w.Value, m.fc3b.Value, false)
}

// inferDense is the cache-free single-sample dense layer used by Infer and
// ActivationProbe.
func inferDense(x []float64, w, b *Tensor, relu bool) []float64 {
	outDim, inDim := w.Shape[0], w.Shape[1]
	out := make([]float64, outDim)
	for o := 0; o < outDim; o++ {
		sum := b.Data[o]
		row := w.Data[o*inDim : (o+1)*inDim]
		for i, v := range x {
			sum += v * row[i]
		}
		if relu && sum < 0 {
			sum = 0
		}
		out[o] = sum
	}
	return out
}

func (m *mlp) ActivationProbe(x []float64) map[string]float64 {
	h1 := inferDense(x, m.fc1w.Value, m.fc1b.Value, true)
	h2 := inferDense(h1, m.fc2w.Value, m.fc2b.Value, true)
	logits := inferDense(h2, m.fc3w.Value, m.fc3b.Value, false)
	return map[string]float64{
		"fc1": meanAbs(h1),
		"fc2": meanAbs(h2),
		"fc3": meanAbs(logits),
	}
}

func meanAbs(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return sum / float64(len(vals))
}
