package main

import (
	"fmt"
)

// PredictionResult pairs a predicted label with the full probability
// vector. Replaced wholesale on each prediction and cleared whenever the
// input image changes, so it always corresponds to the current raster.
type PredictionResult struct {
	Label         int       `json:"label"`
	Probabilities []float64 `json:"probabilities"`
	// Advisory is set when the model has not completed a training epoch:
	// the prediction proceeds, but over randomly initialized weights.
	Advisory string `json:"advisory,omitempty"`
}

// Predict runs one forward pass over a preprocessed raster and returns the
// softmax distribution over the ten classes. The label is the index of the
// maximum probability, first occurrence winning ties.
func (c *Classifier) Predict(img *RasterImage) (*PredictionResult, error) {
	if img == nil {
		return nil, ErrNoImage
	}
	if img.Empty() {
		return nil, ErrEmptyInput
	}

	input, err := c.imageTensor(img)
	if err != nil {
		return nil, fmt.Errorf("predict: %w", err)
	}

	logits := c.net.Forward(input)
	probs := logits.Softmax(1).Raw().AsFloat32()
	if len(probs) != numClasses {
		return nil, fmt.Errorf("predict: expected %d probabilities, got %d", numClasses, len(probs))
	}

	result := &PredictionResult{Probabilities: make([]float64, numClasses)}
	best := probs[0]
	for i, p := range probs {
		result.Probabilities[i] = float64(p)
		if p > best {
			best = p
			result.Label = i
		}
	}
	if !c.Trained() {
		result.Advisory = "untrained"
	}
	return result, nil
}
