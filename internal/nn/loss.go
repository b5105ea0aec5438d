package nn

import "math"

// Softmax returns the normalized probabilities for one logit vector.
func Softmax(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits[1:] {
		if v > max {
			max = v
		}
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - max)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value.
func Argmax(vals []float64) int {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

// softmaxCrossEntropy computes per-row probabilities and the mean
// cross-entropy loss for a batch of logits [batch, classes]. The returned
// slice holds the probabilities row-major, ready to be turned into the
// logit gradient by subtracting the one-hot targets.
func softmaxCrossEntropy(logits []float64, batch, classes int, targets []int) (probs []float64, loss float64) {
	probs = make([]float64, len(logits))
	for b := 0; b < batch; b++ {
		row := logits[b*classes : (b+1)*classes]
		p := Softmax(row)
		copy(probs[b*classes:(b+1)*classes], p)
		loss += -math.Log(math.Max(p[targets[b]], 1e-12))
	}
	loss /= float64(batch)
	return probs, loss
}

// CountCorrect returns how many rows of a logit batch predict their target.
func CountCorrect(logits []float64, batch, classes int, targets []int) int {
	correct := 0
	for b := 0; b < batch; b++ {
		if Argmax(logits[b*classes:(b+1)*classes]) == targets[b] {
			correct++
		}
	}
	return correct
}
