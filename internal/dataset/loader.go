package dataset

import (
	"math/rand"

	"neuralviz/internal/nn"
)

// Batch is one training step's worth of samples.
type Batch struct {
	Images *nn.Tensor // [len(Labels), 784]
	Labels []int
}

// Loader iterates a dataset in shuffled fixed-size batches. A trailing
// partial batch is dropped, matching the usual drop-last behavior. Loader is
// not safe for concurrent use; it is owned by the training worker.
type Loader struct {
	data      *Data
	batchSize int
	order     []int
	pos       int
	rng       *rand.Rand
}

// NewLoader creates a loader positioned at the start of a shuffled epoch.
func NewLoader(data *Data, batchSize int, seed int64) *Loader {
	l := &Loader{
		data: data,
		rng:  rand.New(rand.NewSource(seed)),
	}
	l.Rewind(batchSize)
	return l
}

// Rewind reshuffles and restarts the epoch, re-chunking with the given
// batch size. A non-positive size keeps the current one.
func (l *Loader) Rewind(batchSize int) {
	if batchSize > 0 {
		l.batchSize = batchSize
	}
	if l.order == nil {
		l.order = make([]int, l.data.Count)
		for i := range l.order {
			l.order[i] = i
		}
	}
	l.rng.Shuffle(len(l.order), func(i, j int) {
		l.order[i], l.order[j] = l.order[j], l.order[i]
	})
	l.pos = 0
}

// BatchSize returns the current batch size.
func (l *Loader) BatchSize() int { return l.batchSize }

// Count returns the number of samples in the underlying dataset.
func (l *Loader) Count() int { return l.data.Count }

// Batches returns the number of full batches in one epoch.
func (l *Loader) Batches() int {
	return l.data.Count / l.batchSize
}

// Next returns the next batch, or false at the end of the epoch.
func (l *Loader) Next() (*Batch, bool) {
	if l.pos+l.batchSize > l.data.Count {
		return nil, false
	}
	b := &Batch{
		Images: nn.NewTensor(l.batchSize, nn.InputPixels),
		Labels: make([]int, l.batchSize),
	}
	for i := 0; i < l.batchSize; i++ {
		src := l.order[l.pos+i]
		copy(b.Images.Data[i*nn.InputPixels:(i+1)*nn.InputPixels],
			l.data.Images[src*nn.InputPixels:(src+1)*nn.InputPixels])
		b.Labels[i] = l.data.Labels[src]
	}
	l.pos += l.batchSize
	return b, true
}
