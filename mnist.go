package main

import (
	"encoding/binary"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
)

// Sample is one labeled digit: 784 normalized intensities and a class 0..9.
type Sample struct {
	Pixels []float32 // 28*28, row-major, [0,1]
	Label  int32
}

// Batch is what the classifier consumes: a flat image block ready to be
// reshaped to [n, 1, 28, 28] and the matching labels.
type Batch struct {
	Images []float32 // n * 784
	Labels []int32
	Size   int
}

// Dataset hands out freshly drawn training and test batches. Draws use a
// shuffled cursor that reshuffles on wrap, so repeated train() calls see
// fresh data.
type Dataset struct {
	train []Sample
	test  []Sample

	rng         *rand.Rand
	trainOrder  []int
	testOrder   []int
	trainCursor int
	testCursor  int
}

// LoadMNIST reads the four IDX files the fetch stage places under dir.
func LoadMNIST(dir string, seed int64) (*Dataset, error) {
	train, err := loadIDXPair(
		filepath.Join(dir, "train-images-idx3-ubyte"),
		filepath.Join(dir, "train-labels-idx1-ubyte"),
	)
	if err != nil {
		return nil, fmt.Errorf("load train set: %w", err)
	}
	test, err := loadIDXPair(
		filepath.Join(dir, "t10k-images-idx3-ubyte"),
		filepath.Join(dir, "t10k-labels-idx1-ubyte"),
	)
	if err != nil {
		return nil, fmt.Errorf("load test set: %w", err)
	}
	return NewDataset(train, test, seed), nil
}

// NewDataset wraps pre-loaded samples. Tests and the -synthetic flag use it
// directly.
func NewDataset(train, test []Sample, seed int64) *Dataset {
	d := &Dataset{
		train: train,
		test:  test,
		rng:   rand.New(rand.NewSource(seed)),
	}
	d.trainOrder = d.shuffled(len(train))
	d.testOrder = d.shuffled(len(test))
	return d
}

func (d *Dataset) shuffled(n int) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	d.rng.Shuffle(n, func(i, j int) { order[i], order[j] = order[j], order[i] })
	return order
}

// NextTrainBatch draws n training samples.
func (d *Dataset) NextTrainBatch(n int) Batch {
	return d.next(n, d.train, &d.trainOrder, &d.trainCursor)
}

// NextTestBatch draws n held-out samples.
func (d *Dataset) NextTestBatch(n int) Batch {
	return d.next(n, d.test, &d.testOrder, &d.testCursor)
}

func (d *Dataset) next(n int, pool []Sample, order *[]int, cursor *int) Batch {
	if n > len(pool) {
		n = len(pool)
	}
	b := Batch{
		Images: make([]float32, 0, n*canvasSize*canvasSize),
		Labels: make([]int32, 0, n),
		Size:   n,
	}
	for i := 0; i < n; i++ {
		if *cursor >= len(*order) {
			*order = d.shuffled(len(pool))
			*cursor = 0
		}
		s := pool[(*order)[*cursor]]
		*cursor++
		b.Images = append(b.Images, s.Pixels...)
		b.Labels = append(b.Labels, s.Label)
	}
	return b
}

func (d *Dataset) TrainSize() int { return len(d.train) }
func (d *Dataset) TestSize() int  { return len(d.test) }

// ─────────────────────────── IDX FORMAT ───────────────────────────

func loadIDXPair(imgPath, lblPath string) ([]Sample, error) {
	images, err := loadIDXImages(imgPath)
	if err != nil {
		return nil, err
	}
	labels, err := loadIDXLabels(lblPath)
	if err != nil {
		return nil, err
	}
	if len(images) != len(labels) {
		return nil, fmt.Errorf("idx: %d images but %d labels", len(images), len(labels))
	}
	samples := make([]Sample, len(images))
	for i := range images {
		samples[i] = Sample{Pixels: images[i], Label: labels[i]}
	}
	return samples, nil
}

func loadIDXImages(path string) ([][]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header [16]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("idx: short image header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(header[0:4]); magic != 2051 {
		return nil, fmt.Errorf("idx: bad image magic 0x%x", magic)
	}
	num := int(binary.BigEndian.Uint32(header[4:8]))
	rows := int(binary.BigEndian.Uint32(header[8:12]))
	cols := int(binary.BigEndian.Uint32(header[12:16]))
	if rows != canvasSize || cols != canvasSize {
		return nil, fmt.Errorf("idx: expected %dx%d images, got %dx%d", canvasSize, canvasSize, rows, cols)
	}

	images := make([][]float32, num)
	buf := make([]byte, rows*cols)
	for i := 0; i < num; i++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, fmt.Errorf("idx: short image data at %d: %w", i, err)
		}
		img := make([]float32, rows*cols)
		for j, p := range buf {
			img[j] = float32(p) / 255.0
		}
		images[i] = img
	}
	return images, nil
}

func loadIDXLabels(path string) ([]int32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var header [8]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		return nil, fmt.Errorf("idx: short label header: %w", err)
	}
	if magic := binary.BigEndian.Uint32(header[0:4]); magic != 2049 {
		return nil, fmt.Errorf("idx: bad label magic 0x%x", magic)
	}
	num := int(binary.BigEndian.Uint32(header[4:8]))

	buf := make([]byte, num)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, fmt.Errorf("idx: short label data: %w", err)
	}
	labels := make([]int32, num)
	for i, b := range buf {
		if b > 9 {
			return nil, fmt.Errorf("idx: label %d out of range at %d", b, i)
		}
		labels[i] = int32(b)
	}
	return labels, nil
}

// ─────────────────────────── SYNTHETIC ───────────────────────────

// SyntheticDataset generates crude digit stand-ins: each class gets a bright
// band at a class-specific height plus noise. Linearly separable, so a few
// epochs converge — enough to exercise the training machinery without the
// real files.
func SyntheticDataset(trainN, testN int, seed int64) *Dataset {
	rng := rand.New(rand.NewSource(seed))
	gen := func(n int) []Sample {
		out := make([]Sample, n)
		for i := range out {
			label := int32(i % 10)
			out[i] = Sample{Pixels: syntheticDigit(label, rng), Label: label}
		}
		return out
	}
	return NewDataset(gen(trainN), gen(testN), seed)
}

func syntheticDigit(label int32, rng *rand.Rand) []float32 {
	px := make([]float32, canvasSize*canvasSize)
	bandRow := 4 + int(label)*2
	for y := bandRow; y < bandRow+3 && y < canvasSize; y++ {
		for x := 6; x < canvasSize-6; x++ {
			px[y*canvasSize+x] = 0.75 + rng.Float32()*0.25
		}
	}
	for i := range px {
		if px[i] == 0 && rng.Float32() < 0.02 {
			px[i] = rng.Float32() * 0.2
		}
	}
	return px
}
