package nn

import "math/rand"

func init() {
	Register("lenet", func(seed int64) Model { return newLeNet(seed) })
}

// LeNet-5 dimensions for 28x28 input with the first convolution padded to
// preserve the classic 32x32 geometry.
const (
	lenetC1   = 6   // conv1 filters
	lenetC2   = 16  // conv2 filters
	lenetK    = 5   // kernel size
	lenetFlat = 400 // 16 * 5 * 5 after the second pool
	lenetFC1  = 120
	lenetFC2  = 84
)

// lenet is a classic small convolutional network:
// conv(1->6,5x5,pad 2) -> pool -> conv(6->16,5x5) -> pool -> 400-120-84-10.
type lenet struct {
	conv1w, conv1b *Param
	conv2w, conv2b *Param
	fc1w, fc1b     *Param
	fc2w, fc2b     *Param
	fc3w, fc3b     *Param

	// Per-batch forward caches, owned by the training worker.
	batch  int
	in     [][]float64 // raw 784 inputs
	c1     [][]float64 // conv1 post-relu, 6x28x28
	p1     [][]float64 // pool1 out, 6x14x14
	idx1   [][]int
	c2     [][]float64 // conv2 post-relu, 16x10x10
	p2     [][]float64 // pool2 out, 16x5x5
	idx2   [][]int
	h1, h2 [][]float64
	logits []float64 // batch x NumClasses
}

func newLeNet(seed int64) *lenet {
	rng := rand.New(rand.NewSource(seed))
	m := &lenet{
		conv1w: newParam("conv1.weight", lenetC1, 1, lenetK, lenetK),
		conv1b: newParam("conv1.bias", lenetC1),
		conv2w: newParam("conv2.weight", lenetC2, lenetC1, lenetK, lenetK),
		conv2b: newParam("conv2.bias", lenetC2),
		fc1w:   newParam("fc1.weight", lenetFC1, lenetFlat),
		fc1b:   newParam("fc1.bias", lenetFC1),
		fc2w:   newParam("fc2.weight", lenetFC2, lenetFC1),
		fc2b:   newParam("fc2.bias", lenetFC2),
		fc3w:   newParam("fc3.weight", NumClasses, lenetFC2),
		fc3b:   newParam("fc3.bias", NumClasses),
	}
	m.conv1w.xavierInit(rng, lenetK*lenetK, lenetC1*lenetK*lenetK)
	m.conv2w.xavierInit(rng, lenetC1*lenetK*lenetK, lenetC2*lenetK*lenetK)
	m.fc1w.xavierInit(rng, lenetFlat, lenetFC1)
	m.fc2w.xavierInit(rng, lenetFC1, lenetFC2)
	m.fc3w.xavierInit(rng, lenetFC2, NumClasses)
	return m
}

func (m *lenet) Arch() string { return "lenet" }

func (m *lenet) Parameters() []*Param {
	return []*Param{
		m.conv1w, m.conv1b, m.conv2w, m.conv2b,
		m.fc1w, m.fc1b, m.fc2w, m.fc2b, m.fc3w, m.fc3b,
	}
}

// conv2d computes a stride-1 convolution with optional zero padding and
// ReLU, for one sample laid out as [channels, h, w].
func conv2d(in []float64, inC, inH, inW int, w, b []float64, outC, k, pad int, relu bool) []float64 {
	outH := inH + 2*pad - k + 1
	outW := inW + 2*pad - k + 1
	out := make([]float64, outC*outH*outW)
	for o := 0; o < outC; o++ {
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				sum := b[o]
				for c := 0; c < inC; c++ {
					for i := 0; i < k; i++ {
						sy := y + i - pad
						if sy < 0 || sy >= inH {
							continue
						}
						for j := 0; j < k; j++ {
							sx := x + j - pad
							if sx < 0 || sx >= inW {
								continue
							}
							sum += in[(c*inH+sy)*inW+sx] * w[((o*inC+c)*k+i)*k+j]
						}
					}
				}
				if relu && sum < 0 {
					sum = 0
				}
				out[(o*outH+y)*outW+x] = sum
			}
		}
	}
	return out
}

// conv2dBackward accumulates weight and bias gradients and, when dIn is
// non-nil, the gradient with respect to the input.
func conv2dBackward(in []float64, inC, inH, inW int, w, gw, gb []float64, outC, k, pad int, dOut, dIn []float64) {
	outH := inH + 2*pad - k + 1
	outW := inW + 2*pad - k + 1
	for o := 0; o < outC; o++ {
		for y := 0; y < outH; y++ {
			for x := 0; x < outW; x++ {
				g := dOut[(o*outH+y)*outW+x]
				if g == 0 {
					continue
				}
				gb[o] += g
				for c := 0; c < inC; c++ {
					for i := 0; i < k; i++ {
						sy := y + i - pad
						if sy < 0 || sy >= inH {
							continue
						}
						for j := 0; j < k; j++ {
							sx := x + j - pad
							if sx < 0 || sx >= inW {
								continue
							}
							src := (c*inH+sy)*inW + sx
							wi := ((o*inC+c)*k+i)*k + j
							gw[wi] += g * in[src]
							if dIn != nil {
								dIn[src] += g * w[wi]
							}
						}
					}
				}
			}
		}
	}
}

// maxPool2 halves each spatial dimension with a 2x2 max and records the
// winning flat index per output cell for the backward pass.
func maxPool2(in []float64, c, h, w int) ([]float64, []int) {
	oh, ow := h/2, w/2
	out := make([]float64, c*oh*ow)
	idx := make([]int, c*oh*ow)
	for ch := 0; ch < c; ch++ {
		for y := 0; y < oh; y++ {
			for x := 0; x < ow; x++ {
				bestIdx := (ch*h+2*y)*w + 2*x
				best := in[bestIdx]
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						i := (ch*h+2*y+dy)*w + 2*x + dx
						if in[i] > best {
							best = in[i]
							bestIdx = i
						}
					}
				}
				out[(ch*oh+y)*ow+x] = best
				idx[(ch*oh+y)*ow+x] = bestIdx
			}
		}
	}
	return out, idx
}

func (m *lenet) forwardSample(x []float64) (c1, p1 []float64, idx1 []int, c2, p2 []float64, idx2 []int, h1, h2, logits []float64) {
	c1 = conv2d(x, 1, 28, 28, m.conv1w.Value.Data, m.conv1b.Value.Data, lenetC1, lenetK, 2, true)
	p1, idx1 = maxPool2(c1, lenetC1, 28, 28)
	c2 = conv2d(p1, lenetC1, 14, 14, m.conv2w.Value.Data, m.conv2b.Value.Data, lenetC2, lenetK, 0, true)
	p2, idx2 = maxPool2(c2, lenetC2, 10, 10)
	h1 = inferDense(p2, m.fc1w.Value, m.fc1b.Value, true)
	h2 = inferDense(h1, m.fc2w.Value, m.fc2b.Value, true)
	logits = inferDense(h2, m.fc3w.Value, m.fc3b.Value, false)
	return
}

func (m *lenet) Forward(x *Tensor) *Tensor {
	b := x.Shape[0]
	m.batch = b
	m.in = make([][]float64, b)
	m.c1 = make([][]float64, b)
	m.p1 = make([][]float64, b)
	m.idx1 = make([][]int, b)
	m.c2 = make([][]float64, b)
	m.p2 = make([][]float64, b)
	m.idx2 = make([][]int, b)
	m.h1 = make([][]float64, b)
	m.h2 = make([][]float64, b)
	m.logits = make([]float64, b*NumClasses)

	for s := 0; s < b; s++ {
		sample := x.Data[s*InputPixels : (s+1)*InputPixels]
		m.in[s] = sample
		c1, p1, idx1, c2, p2, idx2, h1, h2, logits := m.forwardSample(sample)
		m.c1[s], m.p1[s], m.idx1[s] = c1, p1, idx1
		m.c2[s], m.p2[s], m.idx2[s] = c2, p2, idx2
		m.h1[s], m.h2[s] = h1, h2
		copy(m.logits[s*NumClasses:(s+1)*NumClasses], logits)
	}

	out := NewTensor(b, NumClasses)
	copy(out.Data, m.logits)
	return out
}

// denseBackward accumulates gradients for one dense layer on a single
// sample and returns the gradient with respect to its input.
func denseBackward(dOut, in []float64, w, b *Param) []float64 {
	outDim, inDim := w.Value.Shape[0], w.Value.Shape[1]
	dIn := make([]float64, inDim)
	for o := 0; o < outDim; o++ {
		g := dOut[o]
		b.Grad.Data[o] += g
		if g == 0 {
			continue
		}
		wRow := w.Value.Data[o*inDim : (o+1)*inDim]
		gRow := w.Grad.Data[o*inDim : (o+1)*inDim]
		for i := 0; i < inDim; i++ {
			gRow[i] += g * in[i]
			dIn[i] += g * wRow[i]
		}
	}
	return dIn
}

func maskReLUVec(grad, act []float64) {
	for i := range grad {
		if act[i] <= 0 {
			grad[i] = 0
		}
	}
}

func (m *lenet) Backward(targets []int) float64 {
	for _, p := range m.Parameters() {
		for i := range p.Grad.Data {
			p.Grad.Data[i] = 0
		}
	}

	probs, loss := softmaxCrossEntropy(m.logits, m.batch, NumClasses, targets)
	inv := 1.0 / float64(m.batch)

	for s := 0; s < m.batch; s++ {
		dLogits := make([]float64, NumClasses)
		copy(dLogits, probs[s*NumClasses:(s+1)*NumClasses])
		dLogits[targets[s]] -= 1
		for i := range dLogits {
			dLogits[i] *= inv
		}

		dH2 := denseBackward(dLogits, m.h2[s], m.fc3w, m.fc3b)
		maskReLUVec(dH2, m.h2[s])
		dH1 := denseBackward(dH2, m.h1[s], m.fc2w, m.fc2b)
		maskReLUVec(dH1, m.h1[s])
		dP2 := denseBackward(dH1, m.p2[s], m.fc1w, m.fc1b)

		// Unpool through pool2, mask conv2's relu.
		dC2 := make([]float64, lenetC2*10*10)
		for i, src := range m.idx2[s] {
			dC2[src] += dP2[i]
		}
		maskReLUVec(dC2, m.c2[s])

		dP1 := make([]float64, lenetC1*14*14)
		conv2dBackward(m.p1[s], lenetC1, 14, 14,
			m.conv2w.Value.Data, m.conv2w.Grad.Data, m.conv2b.Grad.Data,
			lenetC2, lenetK, 0, dC2, dP1)

		dC1 := make([]float64, lenetC1*28*28)
		for i, src := range m.idx1[s] {
			dC1[src] += dP1[i]
		}
		maskReLUVec(dC1, m.c1[s])

		conv2dBackward(m.in[s], 1, 28, 28,
			m.conv1w.Value.Data, m.conv1w.Grad.Data, m.conv1b.Grad.Data,
			lenetC1, lenetK, 2, dC1, nil)
	}
	return loss
}

func (m *lenet) Infer(x []float64) []float64 {
	_, _, _, _, _, _, _, _, logits := m.forwardSample(x)
	return logits
}

func (m *lenet) ActivationProbe(x []float64) map[string]float64 {
	c1, _, _, c2, _, _, h1, h2, logits := m.forwardSample(x)
	return map[string]float64{
		"conv1": meanAbs(c1),
		"conv2": meanAbs(c2),
		"fc1":   meanAbs(h1),
		"fc2":   meanAbs(h2),
		"fc3":   meanAbs(logits),
	}
}
