package dataset

import (
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strings"

	"neuralviz/internal/nn"
)

// IDX magic numbers for unsigned-byte image and label files.
const (
	idxImagesMagic = 0x00000803
	idxLabelsMagic = 0x00000801
)

func openIDX(dir, name string) (io.ReadCloser, error) {
	path, err := findIDX(dir, name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		return &gzipFile{gz: gz, f: f}, nil
	}
	return f, nil
}

type gzipFile struct {
	gz *gzip.Reader
	f  *os.File
}

func (g *gzipFile) Read(p []byte) (int, error) { return g.gz.Read(p) }

func (g *gzipFile) Close() error {
	g.gz.Close()
	return g.f.Close()
}

// readIDXImages parses an idx3-ubyte image file into normalized row-major
// floats, one 784-wide row per image.
func readIDXImages(dir, name string) ([]float64, int, error) {
	r, err := openIDX(dir, name)
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()

	var header [4]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, 0, fmt.Errorf("read header: %w", err)
		}
	}
	if header[0] != idxImagesMagic {
		return nil, 0, fmt.Errorf("bad image magic 0x%08x", header[0])
	}
	count := int(header[1])
	rows, cols := int(header[2]), int(header[3])
	if rows*cols != nn.InputPixels {
		return nil, 0, fmt.Errorf("unsupported image size %dx%d", rows, cols)
	}

	raw := make([]byte, count*rows*cols)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, 0, fmt.Errorf("read pixels: %w", err)
	}

	images := make([]float64, len(raw))
	for i, v := range raw {
		images[i] = Normalize(v)
	}
	return images, count, nil
}

// readIDXLabels parses an idx1-ubyte label file and checks it matches the
// image count.
func readIDXLabels(dir, name string, count int) ([]int, error) {
	r, err := openIDX(dir, name)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var header [2]uint32
	for i := range header {
		if err := binary.Read(r, binary.BigEndian, &header[i]); err != nil {
			return nil, fmt.Errorf("read header: %w", err)
		}
	}
	if header[0] != idxLabelsMagic {
		return nil, fmt.Errorf("bad label magic 0x%08x", header[0])
	}
	if int(header[1]) != count {
		return nil, fmt.Errorf("label count %d does not match image count %d", header[1], count)
	}

	raw := make([]byte, count)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}

	labels := make([]int, count)
	for i, v := range raw {
		labels[i] = int(v)
	}
	return labels, nil
}
