package main

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blankRaster(t *testing.T) *RasterImage {
	t.Helper()
	img, err := NewRasterImage(canvasSize, canvasSize, make([]uint8, canvasSize*canvasSize))
	require.NoError(t, err)
	return img
}

func TestNewRasterImageValidation(t *testing.T) {
	_, err := NewRasterImage(0, 28, nil)
	assert.Error(t, err)

	_, err = NewRasterImage(28, 28, make([]uint8, 10))
	assert.Error(t, err)
}

func TestCenterDigitEmptyUnchanged(t *testing.T) {
	img := blankRaster(t)
	out := CenterDigit(img)
	assert.Equal(t, img.Pixels, out.Pixels)
	assert.Equal(t, img.Width, out.Width)
	assert.Equal(t, img.Height, out.Height)
}

func TestCenterDigitBelowThresholdUnchanged(t *testing.T) {
	img := blankRaster(t)
	for i := range img.Pixels {
		img.Pixels[i] = inkCutoff // at, not above, the cutoff
	}
	out := CenterDigit(img)
	assert.Equal(t, img.Pixels, out.Pixels)
}

func TestCenterDigitCentersContent(t *testing.T) {
	// 4x8 block of ink in the top-left corner. Scale = min(20/4, 20/8) =
	// 2.5, so the content becomes 10x20 placed at offsets (9, 4).
	img := blankRaster(t)
	for y := 0; y < 8; y++ {
		for x := 0; x < 4; x++ {
			img.Pixels[y*canvasSize+x] = 200
		}
	}

	out := CenterDigit(img)
	require.Equal(t, canvasSize, out.Width)
	require.Equal(t, canvasSize, out.Height)

	minX, minY, maxX, maxY, ok := out.bounds()
	require.True(t, ok, "centered output must keep its foreground")

	w := maxX - minX + 1
	h := maxY - minY + 1
	assert.LessOrEqual(t, w, contentBox)
	assert.LessOrEqual(t, h, contentBox)

	// Centered within one pixel of rounding per axis.
	assert.InDelta(t, (canvasSize-w)/2, minX, 1)
	assert.InDelta(t, (canvasSize-h)/2, minY, 1)

	assert.Equal(t, 10, w)
	assert.Equal(t, 20, h)
}

func TestCenterDigitPreservesIntensityRange(t *testing.T) {
	img := blankRaster(t)
	img.Pixels[5*canvasSize+5] = 255
	img.Pixels[6*canvasSize+6] = 120

	out := CenterDigit(img)
	for _, p := range out.Pixels {
		assert.LessOrEqual(t, int(p), 255)
	}
	_, _, _, _, ok := out.bounds()
	assert.True(t, ok)
}

func TestExtractGridDimensionsAndRange(t *testing.T) {
	img := blankRaster(t)
	for i := range img.Pixels {
		img.Pixels[i] = uint8(i % 256)
	}

	for _, n := range []int{1, 5, 10, 28} {
		grid, err := ExtractGrid(img, n)
		require.NoError(t, err, "n=%d", n)
		rows, cols := grid.Dims()
		assert.Equal(t, n, rows)
		assert.Equal(t, n, cols)
		for y := 0; y < rows; y++ {
			for x := 0; x < cols; x++ {
				v := grid.At(y, x)
				assert.GreaterOrEqual(t, v, 0.0)
				assert.LessOrEqual(t, v, 1.0)
			}
		}
	}
}

func TestExtractGridCenteredWindow(t *testing.T) {
	img := blankRaster(t)
	// Window start for n=10 on a 28-wide image is (28-10)/2 = 9, so canvas
	// (14, 14) lands at grid (5, 5).
	img.Pixels[14*canvasSize+14] = 255

	grid, err := ExtractGrid(img, replayGrid)
	require.NoError(t, err)
	assert.Equal(t, 1.0, grid.At(5, 5))
	assert.Equal(t, 0.0, grid.At(0, 0))
}

func TestExtractGridRejectsOversizedWindow(t *testing.T) {
	img := blankRaster(t)
	_, err := ExtractGrid(img, canvasSize+1)
	assert.ErrorIs(t, err, ErrGridTooLarge)

	_, err = ExtractGrid(img, 0)
	assert.Error(t, err)
}

func TestDecodeUpload(t *testing.T) {
	// A wide white-on-black source: must come back 28x28 with the content
	// scaled to fit and centered.
	src := image.NewGray(image.Rect(0, 0, 56, 28))
	for y := 8; y < 20; y++ {
		for x := 4; x < 52; x++ {
			src.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, src))

	img, err := DecodeUpload(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, canvasSize, img.Width)
	assert.Equal(t, canvasSize, img.Height)
	assert.False(t, img.Empty())
}

func TestDecodeUploadRejectsGarbage(t *testing.T) {
	_, err := DecodeUpload([]byte("not an image"))
	assert.Error(t, err)
}
