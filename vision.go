package main

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders for uploaded files
	_ "image/png"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/mat"
)

const (
	// Canvas geometry matches the MNIST training distribution: 28x28 pixels
	// with the drawn content normalized into a centered 20x20 box.
	canvasSize  = 28
	contentBox  = 20
	inkCutoff   = 50 // intensity above this counts as foreground
	replayGrid  = 10 // teaching-animation window, center of the canvas
	uploadLimit = 4 << 20
)

// RasterImage is a single-channel pixel grid, bright strokes on a dark
// background. Instances are immutable by convention: every stroke or upload
// produces a fresh one.
type RasterImage struct {
	Width  int
	Height int
	Pixels []uint8 // row-major, 0..255
}

func NewRasterImage(width, height int, pixels []uint8) (*RasterImage, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("raster: invalid dimensions %dx%d", width, height)
	}
	if len(pixels) != width*height {
		return nil, fmt.Errorf("raster: want %d pixels, got %d", width*height, len(pixels))
	}
	return &RasterImage{Width: width, Height: height, Pixels: pixels}, nil
}

func (r *RasterImage) at(x, y int) uint8 { return r.Pixels[y*r.Width+x] }

// Empty reports whether no pixel exceeds the foreground cutoff.
func (r *RasterImage) Empty() bool {
	for _, p := range r.Pixels {
		if p > inkCutoff {
			return false
		}
	}
	return true
}

// bounds returns the tight bounding box of foreground pixels and whether any
// foreground exists at all.
func (r *RasterImage) bounds() (minX, minY, maxX, maxY int, ok bool) {
	minX, minY = r.Width, r.Height
	maxX, maxY = -1, -1
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			if r.at(x, y) > inkCutoff {
				if x < minX {
					minX = x
				}
				if y < minY {
					minY = y
				}
				if x > maxX {
					maxX = x
				}
				if y > maxY {
					maxY = y
				}
			}
		}
	}
	return minX, minY, maxX, maxY, maxX >= 0
}

// CenterDigit re-centers and rescales drawn content the way the MNIST
// training set was produced: the foreground bounding box is scaled
// uniformly to fit a 20x20 region and placed in the middle of a fresh
// 28x28 canvas. An empty canvas comes back unchanged. The function is pure;
// it is not idempotent (resampling twice may shift content slightly), and
// callers apply it once per emitted raster.
func CenterDigit(img *RasterImage) *RasterImage {
	minX, minY, maxX, maxY, ok := img.bounds()
	if !ok {
		return img
	}

	bboxW := maxX - minX + 1
	bboxH := maxY - minY + 1
	scale := float64(contentBox) / float64(bboxW)
	if s := float64(contentBox) / float64(bboxH); s < scale {
		scale = s
	}
	scaledW := int(float64(bboxW) * scale)
	scaledH := int(float64(bboxH) * scale)
	if scaledW < 1 {
		scaledW = 1
	}
	if scaledH < 1 {
		scaledH = 1
	}
	offX := (img.Width - scaledW) / 2
	offY := (img.Height - scaledH) / 2

	out := make([]uint8, img.Width*img.Height)
	for y := 0; y < scaledH; y++ {
		srcY := minY + int(float64(y)/scale)
		if srcY > maxY {
			srcY = maxY
		}
		for x := 0; x < scaledW; x++ {
			srcX := minX + int(float64(x)/scale)
			if srcX > maxX {
				srcX = maxX
			}
			out[(offY+y)*img.Width+(offX+x)] = img.at(srcX, srcY)
		}
	}
	return &RasterImage{Width: img.Width, Height: img.Height, Pixels: out}
}

// ExtractGrid pulls the n-by-n block centered in the image, normalized to
// [0,1]. It feeds the replay animation only; nothing downstream of the
// classifier reads it.
func ExtractGrid(img *RasterImage, n int) (*mat.Dense, error) {
	if n <= 0 {
		return nil, fmt.Errorf("grid: invalid window %d", n)
	}
	if n > img.Width || n > img.Height {
		return nil, fmt.Errorf("%w: %d > %dx%d", ErrGridTooLarge, n, img.Width, img.Height)
	}
	startX := (img.Width - n) / 2
	startY := (img.Height - n) / 2

	grid := mat.NewDense(n, n, nil)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			grid.Set(y, x, float64(img.at(startX+x, startY+y))/255.0)
		}
	}
	return grid, nil
}

// DecodeUpload turns a user-selected PNG/JPEG into a 28x28 raster: decode,
// grayscale, aspect-preserving scale into the canvas bounds, centered.
func DecodeUpload(data []byte) (*RasterImage, error) {
	if len(data) > uploadLimit {
		return nil, fmt.Errorf("upload: file too large (%d bytes)", len(data))
	}
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("upload: decode failed: %w", err)
	}

	sb := src.Bounds()
	if sb.Dx() == 0 || sb.Dy() == 0 {
		return nil, fmt.Errorf("upload: empty image")
	}

	// Fit into the canvas preserving aspect ratio.
	scale := float64(canvasSize) / float64(sb.Dx())
	if s := float64(canvasSize) / float64(sb.Dy()); s < scale {
		scale = s
	}
	dstW := int(float64(sb.Dx()) * scale)
	dstH := int(float64(sb.Dy()) * scale)
	if dstW < 1 {
		dstW = 1
	}
	if dstH < 1 {
		dstH = 1
	}
	offX := (canvasSize - dstW) / 2
	offY := (canvasSize - dstH) / 2

	dst := image.NewGray(image.Rect(0, 0, canvasSize, canvasSize))
	target := image.Rect(offX, offY, offX+dstW, offY+dstH)
	draw.CatmullRom.Scale(dst, target, src, sb, draw.Over, nil)

	pixels := make([]uint8, canvasSize*canvasSize)
	copy(pixels, dst.Pix)
	return &RasterImage{Width: canvasSize, Height: canvasSize, Pixels: pixels}, nil
}

// gridRows flattens a dense matrix into row slices for JSON responses.
func gridRows(m *mat.Dense) [][]float64 {
	rows, _ := m.Dims()
	out := make([][]float64, rows)
	for i := range out {
		out[i] = append([]float64(nil), m.RawRowView(i)...)
	}
	return out
}
