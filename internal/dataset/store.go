// Package dataset loads the MNIST-family datasets used for training and
// exposes a shuffled batch iterator over them. Datasets live as IDX ubyte
// files under a data directory; a built-in synthetic dataset is always
// available so the server runs without any downloads.
package dataset

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Normalization constants matching the standard MNIST transform.
const (
	meanPixel = 0.1307
	stdPixel  = 0.3081
)

// Normalize maps a raw 0-255 pixel to the network input range.
func Normalize(v byte) float64 {
	return (float64(v)/255.0 - meanPixel) / stdPixel
}

// SyntheticName is the dataset that needs no files on disk.
const SyntheticName = "synthetic"

// diskDatasets maps dataset names to their subdirectory under the data dir.
var diskDatasets = map[string]string{
	"mnist":         "mnist",
	"fashion-mnist": "fashion-mnist",
}

// Data is one fully loaded dataset: row-major normalized images and their
// labels.
type Data struct {
	Name   string
	Count  int
	Images []float64 // Count * 784
	Labels []int
}

// Store locates datasets under a data directory.
type Store struct {
	dataDir string
}

// NewStore creates a store rooted at dataDir. The directory does not need
// to exist; only the synthetic dataset is available then.
func NewStore(dataDir string) *Store {
	return &Store{dataDir: dataDir}
}

// DataDir returns the directory the store reads from.
func (s *Store) DataDir() string { return s.dataDir }

// Available returns the names of loadable datasets, sorted. The synthetic
// dataset is always included; disk datasets appear when their IDX files are
// present.
func (s *Store) Available() []string {
	names := []string{SyntheticName}
	for name, dir := range diskDatasets {
		if _, err := findIDX(filepath.Join(s.dataDir, dir), "train-images-idx3-ubyte"); err == nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Load reads a dataset into memory. Unknown names are an error.
func (s *Store) Load(name string) (*Data, error) {
	if name == SyntheticName {
		return Synthetic(syntheticCount, 1), nil
	}

	dir, ok := diskDatasets[name]
	if !ok {
		return nil, fmt.Errorf("unknown dataset %q (available: %v)", name, s.Available())
	}

	base := filepath.Join(s.dataDir, dir)
	images, count, err := readIDXImages(base, "train-images-idx3-ubyte")
	if err != nil {
		return nil, fmt.Errorf("load %s images: %w", name, err)
	}
	labels, err := readIDXLabels(base, "train-labels-idx1-ubyte", count)
	if err != nil {
		return nil, fmt.Errorf("load %s labels: %w", name, err)
	}

	return &Data{Name: name, Count: count, Images: images, Labels: labels}, nil
}

// findIDX resolves an IDX file that may be stored raw or gzipped.
func findIDX(dir, name string) (string, error) {
	for _, candidate := range []string{name, name + ".gz"} {
		path := filepath.Join(dir, candidate)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}
	return "", fmt.Errorf("%s not found in %s", name, dir)
}
