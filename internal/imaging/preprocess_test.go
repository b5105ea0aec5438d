package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"neuralviz/internal/dataset"
	"neuralviz/internal/nn"
)

// drawGlyph renders a dark block on a light background, the shape of a
// typical uploaded drawing, and returns it PNG-encoded.
func drawGlyph(t *testing.T, w, h int, block image.Rectangle) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{255, 255, 255, 255}
			if image.Pt(x, y).In(block) {
				c = color.RGBA{0, 0, 0, 255}
			}
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func decodeDataURL(t *testing.T, url string) *image.Gray {
	t.Helper()
	const prefix = "data:image/png;base64,"
	if !strings.HasPrefix(url, prefix) {
		t.Fatalf("not a PNG data URL: %.40s", url)
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	g := image.NewGray(img.Bounds())
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			g.Set(x, y, color.GrayModel.Convert(img.At(x, y)))
		}
	}
	return g
}

func TestPreprocess_ProducesNormalizedVector(t *testing.T) {
	raw := drawGlyph(t, 100, 100, image.Rect(30, 20, 70, 80))

	input, url, err := Preprocess(raw)
	if err != nil {
		t.Fatal(err)
	}
	if len(input) != nn.InputPixels {
		t.Fatalf("expected %d inputs, got %d", nn.InputPixels, len(input))
	}

	// After inversion and thresholding every pixel is either full ink or
	// background, i.e. the normalization of 255 or 0.
	ink := dataset.Normalize(255)
	bg := dataset.Normalize(0)
	inkCount := 0
	for i, v := range input {
		switch v {
		case ink:
			inkCount++
		case bg:
		default:
			t.Fatalf("pixel %d has unexpected value %v", i, v)
		}
	}
	if inkCount == 0 {
		t.Fatal("no ink survived preprocessing")
	}

	g := decodeDataURL(t, url)
	if g.Bounds().Dx() != 28 || g.Bounds().Dy() != 28 {
		t.Fatalf("processed view is %v, want 28x28", g.Bounds())
	}
}

func TestPreprocess_CentersContent(t *testing.T) {
	// Ink tucked in a corner of a large canvas must end up centered.
	raw := drawGlyph(t, 200, 200, image.Rect(0, 0, 40, 40))

	_, url, err := Preprocess(raw)
	if err != nil {
		t.Fatal(err)
	}
	g := decodeDataURL(t, url)

	// A square glyph scales to 20x20 and centers with a 4-pixel margin.
	if g.GrayAt(0, 0).Y != 0 {
		t.Error("border should be background")
	}
	if g.GrayAt(14, 14).Y != 255 {
		t.Error("center should be ink")
	}
}

func TestPreprocess_BadImage(t *testing.T) {
	if _, _, err := Preprocess([]byte("not an image")); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestPreprocess_BlankImage(t *testing.T) {
	// All-white input has no content to crop; it must still come out as a
	// valid, fully background 28x28 vector.
	raw := drawGlyph(t, 50, 50, image.Rect(0, 0, 0, 0))

	input, _, err := Preprocess(raw)
	if err != nil {
		t.Fatal(err)
	}
	bg := dataset.Normalize(0)
	for i, v := range input {
		if v != bg {
			t.Fatalf("pixel %d is not background: %v", i, v)
		}
	}
}

func TestSampleDataURL(t *testing.T) {
	sample := make([]float64, nn.InputPixels)
	for i := range sample {
		sample[i] = dataset.Normalize(byte(i % 256))
	}

	url := SampleDataURL(sample)
	g := decodeDataURL(t, url)
	if g.Bounds().Dx() != 28 || g.Bounds().Dy() != 28 {
		t.Fatalf("sample image is %v, want 28x28", g.Bounds())
	}

	if SampleDataURL([]float64{1, 2, 3}) != "" {
		t.Error("wrong-length sample should encode to empty string")
	}
}
