package nn

import (
	"math"
	"testing"
)

func TestTensor_Clone(t *testing.T) {
	a := NewTensor(2, 3)
	for i := range a.Data {
		a.Data[i] = float64(i)
	}

	b := a.Clone()
	b.Data[0] = 99
	if a.Data[0] != 0 {
		t.Fatal("clone shares backing storage")
	}
	if len(b.Shape) != 2 || b.Shape[0] != 2 || b.Shape[1] != 3 {
		t.Fatalf("clone shape %v", b.Shape)
	}
}

func TestTensor_Norm(t *testing.T) {
	a := NewTensor(2)
	a.Data[0], a.Data[1] = 3, 4
	if got := a.Norm(); math.Abs(got-5) > 1e-12 {
		t.Fatalf("norm %v, want 5", got)
	}
}

func TestTensor_Rows(t *testing.T) {
	m := NewTensor(2, 3)
	for i := range m.Data {
		m.Data[i] = float64(i)
	}
	rows := m.Rows()
	if len(rows) != 2 || len(rows[0]) != 3 {
		t.Fatalf("rows %dx%d", len(rows), len(rows[0]))
	}
	if rows[1][0] != 3 {
		t.Fatalf("rows[1][0] = %v", rows[1][0])
	}

	// A vector becomes a single row.
	v := NewTensor(4)
	rows = v.Rows()
	if len(rows) != 1 || len(rows[0]) != 4 {
		t.Fatalf("vector rows %dx%d", len(rows), len(rows[0]))
	}

	// Higher-rank tensors flatten to [dim0, rest].
	c := NewTensor(6, 1, 5, 5)
	rows = c.Rows()
	if len(rows) != 6 || len(rows[0]) != 25 {
		t.Fatalf("conv rows %dx%d", len(rows), len(rows[0]))
	}
}

func TestSoftmax(t *testing.T) {
	p := Softmax([]float64{1, 2, 3})
	sum := 0.0
	for _, v := range p {
		sum += v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("probabilities sum to %v", sum)
	}
	if !(p[2] > p[1] && p[1] > p[0]) {
		t.Fatalf("ordering lost: %v", p)
	}

	// Large logits must not overflow.
	p = Softmax([]float64{1000, 1000})
	if math.IsNaN(p[0]) || math.Abs(p[0]-0.5) > 1e-12 {
		t.Fatalf("unstable softmax: %v", p)
	}
}

func TestArgmax(t *testing.T) {
	if got := Argmax([]float64{0.1, 0.7, 0.2}); got != 1 {
		t.Fatalf("argmax %d", got)
	}
	// Ties resolve to the first maximum.
	if got := Argmax([]float64{0.5, 0.5}); got != 0 {
		t.Fatalf("tie argmax %d", got)
	}
}

func TestCountCorrect(t *testing.T) {
	logits := []float64{
		5, 0, 0, // predicts 0
		0, 5, 0, // predicts 1
		0, 0, 5, // predicts 2
	}
	if got := CountCorrect(logits, 3, 3, []int{0, 1, 0}); got != 2 {
		t.Fatalf("correct %d, want 2", got)
	}
}

func TestSoftmaxCrossEntropy(t *testing.T) {
	// Uniform logits give loss ln(classes).
	logits := []float64{0, 0, 0, 0}
	probs, loss := softmaxCrossEntropy(logits, 1, 4, []int{2})
	if math.Abs(loss-math.Log(4)) > 1e-12 {
		t.Fatalf("loss %v, want ln 4", loss)
	}
	for _, p := range probs {
		if math.Abs(p-0.25) > 1e-12 {
			t.Fatalf("probs %v", probs)
		}
	}
}
