// Package imaging prepares uploaded images for inference and encodes sample
// images for the event stream. Uploaded drawings are typically dark ink on a
// light background, while the training data is bright strokes on black, so
// the pipeline inverts, thresholds, crops to content, resizes with the
// aspect ratio preserved, and centers the result on a 28x28 canvas.
package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"neuralviz/internal/dataset"
	"neuralviz/internal/nn"
)

const (
	canvasSize = 28 // final canvas, matches the training data
	glyphSize  = 20 // bounding box the drawn content is scaled into
	inkCutoff  = 50 // threshold separating ink from background noise
)

// Preprocess converts raw uploaded image bytes into a normalized input
// vector and returns the 28x28 grayscale view that was fed to the network,
// encoded as a PNG data URL.
func Preprocess(raw []byte) ([]float64, string, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}

	g := grayscale(src)
	invert(g)
	threshold(g, inkCutoff)

	if b, ok := contentBounds(g); ok {
		g = crop(g, b)
	}

	g = fitInto(g, glyphSize)
	threshold(g, inkCutoff) // resizing interpolation reintroduces gray fuzz
	canvas := centerOn(g, canvasSize)

	input := make([]float64, nn.InputPixels)
	for i, v := range canvas.Pix {
		input[i] = dataset.Normalize(v)
	}
	return input, GrayDataURL(canvas), nil
}

func grayscale(src image.Image) *image.Gray {
	b := src.Bounds()
	g := image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			g.Set(x, y, color.GrayModel.Convert(src.At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	return g
}

func invert(g *image.Gray) {
	for i, v := range g.Pix {
		g.Pix[i] = 255 - v
	}
}

func threshold(g *image.Gray, cutoff byte) {
	for i, v := range g.Pix {
		if v > cutoff {
			g.Pix[i] = 255
		} else {
			g.Pix[i] = 0
		}
	}
}

// contentBounds returns the bounding box of non-zero pixels.
func contentBounds(g *image.Gray) (image.Rectangle, bool) {
	b := g.Bounds()
	minX, minY := b.Max.X, b.Max.Y
	maxX, maxY := b.Min.X-1, b.Min.Y-1
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if g.GrayAt(x, y).Y > 0 {
				if x < minX {
					minX = x
				}
				if x > maxX {
					maxX = x
				}
				if y < minY {
					minY = y
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	if maxX < minX || maxY < minY {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}

func crop(g *image.Gray, r image.Rectangle) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := 0; y < r.Dy(); y++ {
		for x := 0; x < r.Dx(); x++ {
			out.SetGray(x, y, g.GrayAt(r.Min.X+x, r.Min.Y+y))
		}
	}
	return out
}

// fitInto scales the image to fit within a target square, preserving the
// aspect ratio, using bilinear sampling.
func fitInto(g *image.Gray, target int) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	if w == 0 || h == 0 {
		return image.NewGray(image.Rect(0, 0, target, target))
	}
	ratio := float64(target) / float64(w)
	if r := float64(target) / float64(h); r < ratio {
		ratio = r
	}
	newW := max(1, int(float64(w)*ratio))
	newH := max(1, int(float64(h)*ratio))
	return resizeBilinear(g, newW, newH)
}

func resizeBilinear(g *image.Gray, newW, newH int) *image.Gray {
	w, h := g.Bounds().Dx(), g.Bounds().Dy()
	out := image.NewGray(image.Rect(0, 0, newW, newH))
	for y := 0; y < newH; y++ {
		sy := (float64(y) + 0.5) * float64(h) / float64(newH)
		y0 := int(sy - 0.5)
		fy := sy - 0.5 - float64(y0)
		y1 := min(y0+1, h-1)
		if y0 < 0 {
			y0, y1, fy = 0, 0, 0
		}
		for x := 0; x < newW; x++ {
			sx := (float64(x) + 0.5) * float64(w) / float64(newW)
			x0 := int(sx - 0.5)
			fx := sx - 0.5 - float64(x0)
			x1 := min(x0+1, w-1)
			if x0 < 0 {
				x0, x1, fx = 0, 0, 0
			}
			top := float64(g.GrayAt(x0, y0).Y)*(1-fx) + float64(g.GrayAt(x1, y0).Y)*fx
			bot := float64(g.GrayAt(x0, y1).Y)*(1-fx) + float64(g.GrayAt(x1, y1).Y)*fx
			out.SetGray(x, y, color.Gray{Y: byte(top*(1-fy) + bot*fy + 0.5)})
		}
	}
	return out
}

func centerOn(g *image.Gray, size int) *image.Gray {
	out := image.NewGray(image.Rect(0, 0, size, size))
	offX := (size - g.Bounds().Dx()) / 2
	offY := (size - g.Bounds().Dy()) / 2
	for y := 0; y < g.Bounds().Dy(); y++ {
		for x := 0; x < g.Bounds().Dx(); x++ {
			if offX+x >= 0 && offX+x < size && offY+y >= 0 && offY+y < size {
				out.SetGray(offX+x, offY+y, g.GrayAt(x, y))
			}
		}
	}
	return out
}
