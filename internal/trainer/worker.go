package trainer

import (
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"neuralviz/internal/dataset"
	"neuralviz/internal/imaging"
	"neuralviz/internal/nn"
)

// runWorker is the training loop. It is the only goroutine that mutates the
// session's model and optimizer. Control commands are picked up at batch
// boundaries, so their worst-case latency is one batch of compute.
func (m *Manager) runWorker(l *liveRun) {
	defer close(l.done)
	defer func() {
		if r := recover(); r != nil {
			log.Printf("training worker panic: %v", r)
			m.hub.Publish(Event{Type: EventError, Message: fmt.Sprintf("fatal training error: %v", r)})
			m.detach(l)
		}
	}()

	start := time.Now()

	for epoch := 1; epoch <= l.cfg.Epochs; epoch++ {
		// A hot-patched batch size lands at the epoch boundary, when the
		// loader re-chunks anyway.
		l.loader.Rewind(int(l.pendingBatch.Swap(0)))
		total := l.loader.Batches()

		m.mu.Lock()
		l.sess.TotalBatches = total
		m.mu.Unlock()

		correctSoFar, seenSoFar := 0, 0

		for batch := 0; ; batch++ {
			b, ok := l.loader.Next()
			if !ok {
				break
			}

			loss, logits, err := l.trainStep(b)
			switch {
			case err == nil:
				m.mu.Lock()
				l.sess.CurrentEpoch = epoch
				l.sess.CurrentBatch = batch
				l.sess.Steps = l.version.Load()
				m.mu.Unlock()

				correctSoFar += nn.CountCorrect(logits, len(b.Labels), nn.NumClasses, b.Labels)
				seenSoFar += len(b.Labels)

				if batch%m.reportEvery == 0 {
					accuracy := 100 * float64(correctSoFar) / float64(seenSoFar)
					m.hub.Publish(Event{
						Type:     EventUpdate,
						Progress: l.buildProgress(epoch, batch, total, loss, accuracy, b, logits, time.Since(start)),
					})
				}

			case isFatalStep(err):
				log.Printf("fatal step error: %v", err)
				m.hub.Publish(Event{Type: EventError, Message: fmt.Sprintf("fatal training error: %v", err)})
				m.detach(l)
				return

			default:
				m.hub.Log(fmt.Sprintf("batch %d skipped: %v", batch, err))
			}

			if l.stop.Load() {
				m.clearDraining(l)
				return
			}
			// Re-check after every wakeup: a pause issued right behind a
			// resume must hold the worker here, not slip through.
			for l.pause.Load() {
				select {
				case <-l.resumeCh:
				case <-l.stopCh:
					m.clearDraining(l)
					return
				}
			}
		}

		m.hub.Log(fmt.Sprintf("epoch %d complete", epoch))
	}

	m.hub.Publish(Event{Type: EventComplete, Message: "complete"})
	m.detach(l)
}

// detach transitions the session back to idle after completion or a fatal
// error: the session is discarded, the manager forgets the run.
func (m *Manager) detach(l *liveRun) {
	m.mu.Lock()
	if m.live == l {
		m.live = nil
		m.sess = nil
	}
	if m.draining == l {
		m.draining = nil
	}
	m.mu.Unlock()
}

// clearDraining finishes a stop: the manager already discarded the session,
// the worker only needs to deregister itself.
func (m *Manager) clearDraining(l *liveRun) {
	m.mu.Lock()
	if m.draining == l {
		m.draining = nil
	}
	m.mu.Unlock()
}

func isFatalStep(err error) bool {
	var se *stepError
	return errors.As(err, &se) && se.fatal
}

// trainStep runs forward, backward, and the optimizer update for one batch.
// The parameter write lock is held only while the optimizer applies the
// step, keeping concurrent readers off torn tensors without serializing
// them against a full batch of compute.
func (l *liveRun) trainStep(b *dataset.Batch) (loss float64, logits []float64, err error) {
	if len(b.Images.Shape) != 2 || b.Images.Shape[1] != nn.InputPixels {
		return 0, nil, &stepError{fatal: true, err: fmt.Errorf("batch shape %v does not match model input %d", b.Images.Shape, nn.InputPixels)}
	}

	l.opt.ZeroGrad()
	out := l.model.Forward(b.Images)
	loss = l.model.Backward(b.Labels)

	if math.IsNaN(loss) || math.IsInf(loss, 0) {
		return 0, nil, &stepError{err: fmt.Errorf("non-finite loss %v", loss)}
	}

	l.stepMu.Lock()
	l.opt.Step()
	l.version.Add(1)
	l.stepMu.Unlock()

	return loss, out.Data, nil
}

// buildProgress assembles one ProgressEvent from the just-completed step,
// including the visualization extras: per-layer weight norms, the first
// sample of the batch as a PNG, its output distribution, and per-layer
// activation summaries.
func (l *liveRun) buildProgress(epoch, batch, total int, loss, accuracy float64, b *dataset.Batch, logits []float64, elapsed time.Duration) *ProgressEvent {
	weights := make(map[string]float64)
	for _, p := range l.model.Parameters() {
		if isWeightParam(p.Name) {
			weights[p.Name] = p.Value.Norm()
		}
	}

	sample := b.Images.Data[:nn.InputPixels]
	return &ProgressEvent{
		Epoch:             epoch,
		Batch:             batch,
		TotalBatches:      total,
		Loss:              loss,
		Accuracy:          accuracy,
		Weights:           weights,
		SampleInput:       imaging.SampleDataURL(sample),
		SampleOutput:      nn.Softmax(logits[:nn.NumClasses]),
		SampleActivations: l.model.ActivationProbe(sample),
		TimeElapsed:       elapsed.Seconds(),
	}
}

func isWeightParam(name string) bool {
	return strings.HasSuffix(name, ".weight")
}
