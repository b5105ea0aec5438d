package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"

	"neuralviz/internal/nn"
)

// GrayDataURL encodes a grayscale image as a PNG data URL for direct use in
// an <img> tag.
func GrayDataURL(g *image.Gray) string {
	var buf bytes.Buffer
	if err := png.Encode(&buf, g); err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())
}

// SampleDataURL renders one normalized 784-float training sample as a
// 28x28 PNG data URL, min-max scaling the values for display.
func SampleDataURL(sample []float64) string {
	if len(sample) != nn.InputPixels {
		return ""
	}
	lo, hi := sample[0], sample[0]
	for _, v := range sample {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := hi - lo + 1e-5

	g := image.NewGray(image.Rect(0, 0, 28, 28))
	for i, v := range sample {
		g.Pix[i] = byte((v - lo) / scale * 255)
	}
	return GrayDataURL(g)
}
