package main

import "errors"

// Error taxonomy surfaced at the orchestration boundary. Everything else is
// wrapped with fmt.Errorf("%w") on the way up.
var (
	// ErrDataUnavailable means the MNIST dataset could not be loaded;
	// training and prediction are blocked until it resolves.
	ErrDataUnavailable = errors.New("dataset unavailable")

	// ErrNoImage means prediction was requested with nothing drawn or uploaded.
	ErrNoImage = errors.New("no image: draw or upload a digit first")

	// ErrEmptyInput means the submitted raster had no foreground pixels.
	ErrEmptyInput = errors.New("empty input: canvas has no strokes")

	// ErrTrainingBusy means a train() call is outstanding; the model is
	// exclusively owned and train/predict never interleave.
	ErrTrainingBusy = errors.New("training in progress")

	// ErrUnknownLayer means the requested layer name does not exist on the
	// current architecture. Callers skip that layer's visualization.
	ErrUnknownLayer = errors.New("unknown layer")

	// ErrGridTooLarge means the requested extraction window exceeds the
	// image dimensions.
	ErrGridTooLarge = errors.New("grid window exceeds image dimensions")

	// ErrKernelUnavailable means the named layer has no bias tensor, so a
	// kernel+bias pair cannot be produced for replay.
	ErrKernelUnavailable = errors.New("layer has no kernel/bias pair")
)
