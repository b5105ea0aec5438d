package dataset

import (
	"math/rand"

	"neuralviz/internal/nn"
)

const syntheticCount = 512

// Synthetic generates a deterministic, linearly separable stand-in dataset:
// each class paints a distinct bright band across the 28x28 canvas with a
// little noise. It keeps the whole pipeline exercisable without downloading
// MNIST.
func Synthetic(count int, seed int64) *Data {
	rng := rand.New(rand.NewSource(seed))
	images := make([]float64, count*nn.InputPixels)
	labels := make([]int, count)

	for i := 0; i < count; i++ {
		class := i % nn.NumClasses
		labels[i] = class
		img := images[i*nn.InputPixels : (i+1)*nn.InputPixels]

		// Horizontal band whose position encodes the class.
		top := 2 + class*2
		for y := 0; y < 28; y++ {
			for x := 0; x < 28; x++ {
				var v byte
				if y >= top && y < top+4 {
					v = byte(200 + rng.Intn(56))
				} else if rng.Float64() < 0.05 {
					v = byte(rng.Intn(64))
				}
				img[y*28+x] = Normalize(v)
			}
		}
	}

	return &Data{Name: SyntheticName, Count: count, Images: images, Labels: labels}
}
