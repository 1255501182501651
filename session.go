package main

import (
	"context"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Session is the single process-wide owner of UI-facing state: the model
// handle, the current image, the training log, the last prediction and the
// replay engine. Every transition happens under one mutex, so renders (API
// reads) always observe a consistent pairing of image, prediction and
// activations. The classifier is exclusively owned: training takes the
// flag, and every other model access runs to completion under the lock, so
// forward passes and a training increment never interleave on the tape.
type Session struct {
	mu sync.Mutex

	classifier *Classifier
	dataset    *Dataset
	datasetErr error

	current    *RasterImage // preprocessed, 28x28
	prediction *PredictionResult

	log []EpochStats
	// epochs mirrors the classifier's odometer under the session lock; the
	// classifier's own counter is only touched by the training goroutine.
	epochs   int
	progress BatchProgress
	training bool
	trainErr string

	replay *ReplayEngine

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSession wires the orchestration state. A dataset load failure is not
// fatal: the session starts, reports the error, and blocks train/predict
// until a reload.
func NewSession(ds *Dataset, dsErr error) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		classifier: NewClassifier(),
		dataset:    ds,
		datasetErr: dsErr,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Close tears the session down: cancels any outstanding training run and
// stops the replay timer so no callback mutates disposed state.
func (s *Session) Close() {
	s.cancel()
	s.mu.Lock()
	if s.replay != nil {
		s.replay.Pause()
	}
	s.mu.Unlock()
}

// SetImage installs a freshly emitted raster: preprocess, replace the
// current image, and invalidate everything derived from the previous one.
func (s *Session) SetImage(img *RasterImage) error {
	if img == nil {
		return ErrNoImage
	}
	processed := CenterDigit(img)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = processed
	s.prediction = nil
	s.rebuildReplayLocked()
	return nil
}

// ClearImage resets the drawing state: image, prediction and replay gone.
func (s *Session) ClearImage() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.prediction = nil
	if s.replay != nil {
		s.replay.Pause()
		s.replay = nil
	}
}

// rebuildReplayLocked derives a fresh replay engine from the current image
// and the first conv1 filter. Called on image change and after every
// training increment, so the animated kernel tracks the learned weights.
func (s *Session) rebuildReplayLocked() {
	if s.replay != nil {
		s.replay.Pause()
		s.replay = nil
	}
	if s.current == nil || s.current.Empty() {
		return
	}
	grid, err := ExtractGrid(s.current, replayGrid)
	if err != nil {
		return
	}
	kernel, bias, err := s.classifier.FilterKernel("conv1")
	if err != nil {
		return
	}
	engine, err := NewReplayEngine(grid, kernel, bias, true)
	if err != nil {
		return
	}
	s.replay = engine
}

// Predict runs the classifier over the current image. The lock is held
// across the forward pass: a train request arriving mid-predict waits for
// the lock, sees the pass complete, and only then takes the model. The
// pass is a single small image, so the hold is short.
func (s *Session) Predict() (*PredictionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.training {
		return nil, ErrTrainingBusy
	}
	if s.datasetErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrDataUnavailable, s.datasetErr)
	}
	result, err := s.classifier.Predict(s.current)
	if err != nil {
		return nil, err
	}
	s.prediction = result
	return result, nil
}

// Introspect returns activation maps for one layer of the current input.
// Unknown layers fail per-layer; callers omit that visualization. Runs
// under the lock for the same exclusivity reason as Predict.
func (s *Session) Introspect(layer string) (*ActivationMaps, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.training {
		return nil, ErrTrainingBusy
	}
	if s.current == nil {
		return nil, ErrNoImage
	}
	if s.current.Empty() {
		return nil, ErrEmptyInput
	}
	return s.classifier.Introspect(layer, s.current)
}

// StartTraining launches one training increment on a background goroutine.
// A second call while one is outstanding is a caller error surfaced as
// ErrTrainingBusy; the UI disables the button, the API enforces it.
func (s *Session) StartTraining(cfg TrainConfig) error {
	s.mu.Lock()
	if s.training {
		s.mu.Unlock()
		return ErrTrainingBusy
	}
	if s.datasetErr != nil {
		err := s.datasetErr
		s.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrDataUnavailable, err)
	}
	s.training = true
	s.trainErr = ""
	ds := s.dataset
	clf := s.classifier
	s.mu.Unlock()

	go func() {
		err := clf.Train(s.ctx, ds, cfg,
			func(p BatchProgress) {
				s.mu.Lock()
				s.progress = p
				s.mu.Unlock()
			},
			func(e EpochStats) {
				s.mu.Lock()
				s.log = append(s.log, e)
				s.epochs = e.Epoch
				s.mu.Unlock()
			},
		)

		s.mu.Lock()
		s.training = false
		if err != nil {
			// Completed epochs stay in the log; only the failure is surfaced.
			s.trainErr = err.Error()
			fmt.Printf("❌ Training failed: %v\n", err)
		}
		if clf == s.classifier {
			s.rebuildReplayLocked()
		}
		s.mu.Unlock()
	}()
	return nil
}

// Reset rebuilds the model from scratch: fresh weights, fresh optimizer,
// empty log, cleared prediction. The drawing surface and dataset survive.
func (s *Session) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.training {
		return ErrTrainingBusy
	}
	s.classifier = NewClassifier()
	s.log = nil
	s.epochs = 0
	s.progress = BatchProgress{}
	s.prediction = nil
	s.trainErr = ""
	s.rebuildReplayLocked()
	return nil
}

// Kernel exposes the named conv layer's first filter and bias, the pair
// driving the replay animation.
func (s *Session) Kernel(layer string) (*mat.Dense, float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.training {
		return nil, 0, ErrTrainingBusy
	}
	return s.classifier.FilterKernel(layer)
}

// Replay returns the live replay engine, or ErrNoImage when nothing has
// been drawn yet.
func (s *Session) Replay() (*ReplayEngine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replay == nil {
		return nil, ErrNoImage
	}
	return s.replay, nil
}

// WithReplay runs op against the current engine and snapshots it, all under
// the session lock, so an image change cannot swap the engine out between
// the two. Ops landing on a detached engine would otherwise leave a ticker
// driving state nobody renders.
func (s *Session) WithReplay(op func(*ReplayEngine) error) (ReplaySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.replay == nil {
		return ReplaySnapshot{}, ErrNoImage
	}
	if err := op(s.replay); err != nil {
		return ReplaySnapshot{}, err
	}
	return s.replay.Snapshot(), nil
}

// SessionState is the /api/state snapshot the UI polls.
type SessionState struct {
	DatasetError string `json:"dataset_error,omitempty"`
	TrainSize    int    `json:"train_size"`
	TestSize     int    `json:"test_size"`
	HasImage     bool   `json:"has_image"`
	Image        []int  `json:"image,omitempty"` // preprocessed 28x28 intensities

	Training  bool           `json:"training"`
	Progress  *BatchProgress `json:"progress,omitempty"`
	Log       []EpochStats   `json:"log"`
	Epochs    int            `json:"epochs_completed"`
	TrainErr  string         `json:"train_error,omitempty"`
	Untrained bool           `json:"untrained"`

	Prediction *PredictionResult `json:"prediction,omitempty"`
	Layers     []string          `json:"layers"`
	Replay     bool              `json:"replay_ready"`
}

// Snapshot captures the full UI state atomically.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := SessionState{
		TrainSize:  dsSize(s.dataset, true),
		TestSize:   dsSize(s.dataset, false),
		HasImage:   s.current != nil,
		Training:   s.training,
		Log:        append([]EpochStats(nil), s.log...),
		Epochs:     s.epochs,
		TrainErr:   s.trainErr,
		Untrained:  s.epochs == 0,
		Prediction: s.prediction,
		Layers:     append([]string(nil), layerNames...),
		Replay:     s.replay != nil,
	}
	if s.datasetErr != nil {
		state.DatasetError = s.datasetErr.Error()
	}
	if s.current != nil {
		state.Image = make([]int, len(s.current.Pixels))
		for i, p := range s.current.Pixels {
			state.Image[i] = int(p)
		}
	}
	if s.training {
		p := s.progress
		state.Progress = &p
	}
	return state
}

func dsSize(ds *Dataset, train bool) int {
	if ds == nil {
		return 0
	}
	if train {
		return ds.TrainSize()
	}
	return ds.TestSize()
}
