package nn

import (
	"math"
	"math/rand"
)

// Tensor is a dense multi-dimensional array of float64 values in row-major
// order.
type Tensor struct {
	Shape []int
	Data  []float64
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(shape ...int) *Tensor {
	size := 1
	for _, d := range shape {
		size *= d
	}
	return &Tensor{Shape: append([]int{}, shape...), Data: make([]float64, size)}
}

// Size returns the total number of elements.
func (t *Tensor) Size() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	c := NewTensor(t.Shape...)
	copy(c.Data, t.Data)
	return c
}

// Norm returns the Frobenius norm.
func (t *Tensor) Norm() float64 {
	sum := 0.0
	for _, v := range t.Data {
		sum += v * v
	}
	return math.Sqrt(sum)
}

// Rows returns the tensor as a 2D slice. Tensors with more than two
// dimensions are flattened to [dim0, rest]; vectors become a single row.
func (t *Tensor) Rows() [][]float64 {
	rows, cols := 1, t.Size()
	if len(t.Shape) >= 2 {
		rows = t.Shape[0]
		cols = t.Size() / t.Shape[0]
	}
	out := make([][]float64, rows)
	for i := 0; i < rows; i++ {
		row := make([]float64, cols)
		copy(row, t.Data[i*cols:(i+1)*cols])
		out[i] = row
	}
	return out
}

// Param is one named model parameter with its gradient accumulator.
type Param struct {
	Name  string
	Value *Tensor
	Grad  *Tensor
}

func newParam(name string, shape ...int) *Param {
	return &Param{
		Name:  name,
		Value: NewTensor(shape...),
		Grad:  NewTensor(shape...),
	}
}

// xavierInit fills the parameter with uniform Glorot values.
func (p *Param) xavierInit(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range p.Value.Data {
		p.Value.Data[i] = (rng.Float64()*2 - 1) * limit
	}
}
