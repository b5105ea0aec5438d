// Package nn implements the pure-Go neural network models that the trainer
// drives: parameter tensors, the architecture registry, the Adam optimizer,
// and the softmax/cross-entropy loss.
package nn

import (
	"fmt"
	"sort"
)

// InputPixels is the flattened input size every architecture accepts
// (28x28 grayscale).
const InputPixels = 28 * 28

// NumClasses is the number of output classes.
const NumClasses = 10

// Model is one trainable architecture. Forward and Backward are called only
// by the single training worker and may cache intermediate state on the
// model. Infer and ActivationProbe are read-only with respect to the model
// and safe to call concurrently with each other and with Forward/Backward,
// as long as parameter values are not being written underneath them.
type Model interface {
	// Arch returns the registered architecture name.
	Arch() string

	// Forward computes logits [batch, NumClasses] for a batch of flattened
	// images [batch, InputPixels], caching intermediates for Backward.
	Forward(x *Tensor) *Tensor

	// Backward computes gradients for the most recent Forward against the
	// given target labels and returns the mean cross-entropy loss.
	Backward(targets []int) float64

	// Infer computes logits for a single flattened image without touching
	// any cached state.
	Infer(x []float64) []float64

	// Parameters returns the model's parameters in a stable order.
	Parameters() []*Param

	// ActivationProbe runs one sample through the network and returns the
	// mean absolute activation per layer, keyed by layer name.
	ActivationProbe(x []float64) map[string]float64
}

// ParameterNames returns the valid parameter names of a model, sorted.
func ParameterNames(m Model) []string {
	params := m.Parameters()
	names := make([]string, 0, len(params))
	for _, p := range params {
		names = append(names, p.Name)
	}
	sort.Strings(names)
	return names
}

// ParamByName looks up a single parameter. The boolean reports whether the
// name exists.
func ParamByName(m Model, name string) (*Param, bool) {
	for _, p := range m.Parameters() {
		if p.Name == name {
			return p, true
		}
	}
	return nil, false
}

// Builder constructs a model with deterministic initial weights for a seed.
type Builder func(seed int64) Model

var registry = map[string]Builder{}

// Register adds an architecture to the registry. Intended to be called from
// init functions; not safe for concurrent use.
func Register(name string, b Builder) {
	registry[name] = b
}

// Build instantiates a registered architecture by name.
func Build(name string, seed int64) (Model, error) {
	b, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown architecture %q (available: %v)", name, Architectures())
	}
	return b(seed), nil
}

// Architectures returns the registered architecture names, sorted.
func Architectures() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
