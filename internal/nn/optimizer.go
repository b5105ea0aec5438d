package nn

import (
	"math"
	"sync"
)

// Optimizer updates model parameters from their accumulated gradients.
type Optimizer interface {
	Step()
	ZeroGrad()
	GetLR() float64
	SetLR(lr float64)
}

// Adam implements the Adam update rule with bias correction. The learning
// rate is guarded by a mutex so it can be retuned while training runs.
type Adam struct {
	params []*Param
	mu     sync.RWMutex
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	t      int
	m      [][]float64
	v      [][]float64
}

// NewAdam creates an Adam optimizer bound to the given parameters.
func NewAdam(params []*Param, lr float64) *Adam {
	a := &Adam{
		params: params,
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		a.m[i] = make([]float64, p.Value.Size())
		a.v[i] = make([]float64, p.Value.Size())
	}
	return a
}

// Step applies one update to every parameter. The caller is responsible for
// serializing Step with concurrent parameter readers.
func (a *Adam) Step() {
	lr := a.GetLR()
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		for j, g := range p.Grad.Data {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g
			v[j] = a.beta2*v[j] + (1-a.beta2)*g*g
			mhat := m[j] / c1
			vhat := v[j] / c2
			p.Value.Data[j] -= lr * mhat / (math.Sqrt(vhat) + a.eps)
		}
	}
}

// ZeroGrad resets all gradient accumulators.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		for j := range p.Grad.Data {
			p.Grad.Data[j] = 0
		}
	}
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lr
}

// SetLR changes the learning rate used by subsequent steps.
func (a *Adam) SetLR(lr float64) {
	a.mu.Lock()
	a.lr = lr
	a.mu.Unlock()
}
