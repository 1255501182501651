package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeIDXImages(t *testing.T, path string, count int, fill func(i int) byte) {
	t.Helper()
	buf := make([]byte, 16+count*canvasSize*canvasSize)
	binary.BigEndian.PutUint32(buf[0:4], 2051)
	binary.BigEndian.PutUint32(buf[4:8], uint32(count))
	binary.BigEndian.PutUint32(buf[8:12], canvasSize)
	binary.BigEndian.PutUint32(buf[12:16], canvasSize)
	for i := 0; i < count; i++ {
		p := fill(i)
		for j := 0; j < canvasSize*canvasSize; j++ {
			buf[16+i*canvasSize*canvasSize+j] = p
		}
	}
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func writeIDXLabels(t *testing.T, path string, labels []byte) {
	t.Helper()
	buf := make([]byte, 8+len(labels))
	binary.BigEndian.PutUint32(buf[0:4], 2049)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(labels)))
	copy(buf[8:], labels)
	require.NoError(t, os.WriteFile(path, buf, 0o644))
}

func writeIDXDir(t *testing.T, trainN, testN int) string {
	t.Helper()
	dir := t.TempDir()
	labels := func(n int) []byte {
		out := make([]byte, n)
		for i := range out {
			out[i] = byte(i % 10)
		}
		return out
	}
	writeIDXImages(t, filepath.Join(dir, "train-images-idx3-ubyte"), trainN, func(i int) byte { return byte(i * 10 % 256) })
	writeIDXLabels(t, filepath.Join(dir, "train-labels-idx1-ubyte"), labels(trainN))
	writeIDXImages(t, filepath.Join(dir, "t10k-images-idx3-ubyte"), testN, func(i int) byte { return 128 })
	writeIDXLabels(t, filepath.Join(dir, "t10k-labels-idx1-ubyte"), labels(testN))
	return dir
}

func TestLoadMNIST(t *testing.T) {
	dir := writeIDXDir(t, 24, 12)

	ds, err := LoadMNIST(dir, 1)
	require.NoError(t, err)
	assert.Equal(t, 24, ds.TrainSize())
	assert.Equal(t, 12, ds.TestSize())

	b := ds.NextTrainBatch(8)
	assert.Equal(t, 8, b.Size)
	assert.Len(t, b.Images, 8*canvasSize*canvasSize)
	assert.Len(t, b.Labels, 8)
	for _, v := range b.Images {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
	for _, l := range b.Labels {
		assert.GreaterOrEqual(t, l, int32(0))
		assert.LessOrEqual(t, l, int32(9))
	}
}

func TestLoadMNISTMissingFiles(t *testing.T) {
	_, err := LoadMNIST(t.TempDir(), 1)
	assert.Error(t, err)
}

func TestLoadMNISTBadMagic(t *testing.T) {
	dir := writeIDXDir(t, 4, 4)
	img := filepath.Join(dir, "train-images-idx3-ubyte")
	data, err := os.ReadFile(img)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(data[0:4], 1234)
	require.NoError(t, os.WriteFile(img, data, 0o644))

	_, err = LoadMNIST(dir, 1)
	assert.ErrorContains(t, err, "magic")
}

func TestLoadMNISTRejectsWrongImageSize(t *testing.T) {
	dir := writeIDXDir(t, 4, 4)
	img := filepath.Join(dir, "t10k-images-idx3-ubyte")
	data, err := os.ReadFile(img)
	require.NoError(t, err)
	binary.BigEndian.PutUint32(data[8:12], 32)
	require.NoError(t, os.WriteFile(img, data, 0o644))

	_, err = LoadMNIST(dir, 1)
	assert.Error(t, err)
}

func TestLoadMNISTRejectsLabelOutOfRange(t *testing.T) {
	dir := writeIDXDir(t, 4, 4)
	writeIDXLabels(t, filepath.Join(dir, "train-labels-idx1-ubyte"), []byte{0, 1, 12, 3})

	_, err := LoadMNIST(dir, 1)
	assert.ErrorContains(t, err, "out of range")
}

func TestLoadMNISTRejectsCountMismatch(t *testing.T) {
	dir := writeIDXDir(t, 4, 4)
	writeIDXLabels(t, filepath.Join(dir, "train-labels-idx1-ubyte"), []byte{0, 1})

	_, err := LoadMNIST(dir, 1)
	assert.ErrorContains(t, err, "labels")
}

func TestDatasetReshufflesOnWrap(t *testing.T) {
	ds := SyntheticDataset(10, 4, 7)

	// Drain more than one pass over the pool; every draw must stay full-size
	// and in range.
	seen := 0
	for i := 0; i < 5; i++ {
		b := ds.NextTrainBatch(4)
		require.Equal(t, 4, b.Size)
		seen += b.Size
	}
	assert.Equal(t, 20, seen)

	// Requests larger than the pool are clamped.
	b := ds.NextTestBatch(100)
	assert.Equal(t, 4, b.Size)
}

func TestSyntheticDatasetShapes(t *testing.T) {
	ds := SyntheticDataset(30, 10, 42)
	assert.Equal(t, 30, ds.TrainSize())
	assert.Equal(t, 10, ds.TestSize())

	b := ds.NextTrainBatch(30)
	counts := map[int32]int{}
	for _, l := range b.Labels {
		counts[l]++
	}
	// Labels cycle 0..9, so a full draw is class-balanced.
	for d := int32(0); d < 10; d++ {
		assert.Equal(t, 3, counts[d], "digit %d", d)
	}
	for _, v := range b.Images {
		assert.GreaterOrEqual(t, v, float32(0))
		assert.LessOrEqual(t, v, float32(1))
	}
}
