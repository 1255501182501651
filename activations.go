package main

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Heat-map ramp endpoints: cold (near-zero activation) to hot. Blended in
// Luv so the midpoints stay perceptually even.
var (
	heatCold = colorful.Color{R: 0.07, G: 0.09, B: 0.25}
	heatHot  = colorful.Color{R: 0.99, G: 0.85, B: 0.21}
)

// ActivationPanel is one layer's visualization payload: every filter's
// activation map rendered as a PNG data URI. Rendered on demand from a
// fresh introspection pass; nothing here is cached across inputs.
type ActivationPanel struct {
	Layer   string   `json:"layer"`
	Filters int      `json:"filters"`
	Width   int      `json:"width"`
	Height  int      `json:"height"`
	Images  []string `json:"images"` // data:image/png;base64,...
}

// RenderActivations turns raw activation maps into per-filter heat maps.
// Each filter is normalized independently over its own min/max so dim
// filters still show structure.
func RenderActivations(maps *ActivationMaps) (*ActivationPanel, error) {
	panel := &ActivationPanel{
		Layer:   maps.Layer,
		Filters: maps.Filters,
		Width:   maps.Width,
		Height:  maps.Height,
		Images:  make([]string, 0, maps.Filters),
	}
	for f := 0; f < maps.Filters; f++ {
		uri, err := renderHeatMap(maps.Values[f], maps.Width, maps.Height)
		if err != nil {
			return nil, fmt.Errorf("render %s filter %d: %w", maps.Layer, f, err)
		}
		panel.Images = append(panel.Images, uri)
	}
	return panel, nil
}

func renderHeatMap(values []float32, width, height int) (string, error) {
	if len(values) != width*height {
		return "", fmt.Errorf("heatmap: %d values for %dx%d", len(values), width, height)
	}

	lo, hi := values[0], values[0]
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	span := hi - lo
	if span == 0 {
		span = 1 // flat map renders as uniform cold
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			t := float64((values[y*width+x] - lo) / span)
			c := heatCold.BlendLuv(heatHot, t).Clamped()
			r, g, b := c.RGB255()
			i := img.PixOffset(x, y)
			img.Pix[i+0] = r
			img.Pix[i+1] = g
			img.Pix[i+2] = b
			img.Pix[i+3] = 0xff
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
