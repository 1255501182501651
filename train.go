package main

import (
	"context"
	"fmt"
	"time"

	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/tensor"
)

// TrainConfig holds the fixed hyperparameters of one train() call. Each
// call is additive: weights update in place, so repeated calls continue
// training.
type TrainConfig struct {
	Epochs       int
	BatchSize    int
	TrainSamples int // drawn fresh from the dataset on every call
	ValSamples   int // held-out validation draw
}

func defaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       5,
		BatchSize:    64,
		TrainSamples: 2000,
		ValSamples:   200,
	}
}

// EpochStats is one training-log entry. Epoch is the global index across
// all train() calls on this model.
type EpochStats struct {
	Epoch    int     `json:"epoch"`
	Loss     float64 `json:"loss"`
	Accuracy float64 `json:"accuracy"`
	ValLoss  float64 `json:"val_loss"`
	ValAcc   float64 `json:"val_accuracy"`
}

// BatchProgress reports per-batch advancement so the UI can show a live
// progress bar between epoch ticks.
type BatchProgress struct {
	Epoch        int     `json:"epoch"`
	Batch        int     `json:"batch"`
	TotalBatches int     `json:"total_batches"`
	Loss         float64 `json:"loss"`
}

// Train runs one fixed-length training increment. It draws fresh samples,
// iterates cfg.Epochs over them with Adam, and invokes the callbacks from
// the training goroutine — per batch for progress, per epoch with loss and
// accuracy. The context is checked between batches so a shutdown never has
// to wait for a full run.
func (c *Classifier) Train(
	ctx context.Context,
	ds *Dataset,
	cfg TrainConfig,
	onBatch func(BatchProgress),
	onEpoch func(EpochStats),
) error {
	if ds == nil {
		return ErrDataUnavailable
	}
	if cfg.Epochs <= 0 || cfg.BatchSize <= 0 || cfg.TrainSamples <= 0 {
		return fmt.Errorf("train: invalid config %+v", cfg)
	}

	trainSet := ds.NextTrainBatch(cfg.TrainSamples)
	valSet := ds.NextTestBatch(cfg.ValSamples)

	tape := c.backend.Tape()
	tape.StartRecording()
	defer func() {
		tape.StopRecording()
		tape.Clear()
	}()

	pixelsPer := canvasSize * canvasSize
	totalBatches := (trainSet.Size + cfg.BatchSize - 1) / cfg.BatchSize

	start := time.Now()
	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		var epochLoss float64
		var correct, seen int

		for b := 0; b < totalBatches; b++ {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("train: cancelled: %w", err)
			}

			lo := b * cfg.BatchSize
			hi := lo + cfg.BatchSize
			if hi > trainSet.Size {
				hi = trainSet.Size
			}
			n := hi - lo

			images, err := tensor.FromSlice(
				trainSet.Images[lo*pixelsPer:hi*pixelsPer],
				tensor.Shape{n, 1, canvasSize, canvasSize},
				c.backend,
			)
			if err != nil {
				return fmt.Errorf("train: batch tensor: %w", err)
			}
			labels, err := tensor.FromSlice(
				trainSet.Labels[lo:hi],
				tensor.Shape{n},
				c.backend,
			)
			if err != nil {
				return fmt.Errorf("train: label tensor: %w", err)
			}

			c.optimizer.ZeroGrad()
			logits := c.net.Forward(images)

			lossRaw := c.backend.CrossEntropy(logits.Raw(), labels.Raw())
			lossValue := float64(lossRaw.AsFloat32()[0])

			outputGrad, err := tensor.NewRaw(lossRaw.Shape(), lossRaw.DType(), c.backend.Device())
			if err != nil {
				return fmt.Errorf("train: output grad: %w", err)
			}
			outputGrad.AsFloat32()[0] = 1.0

			grads := tape.Backward(outputGrad, c.backend)
			c.optimizer.Step(grads)
			tape.Clear()

			epochLoss += lossValue * float64(n)
			correct += int(nn.Accuracy(logits, labels)*float32(n) + 0.5)
			seen += n

			if onBatch != nil {
				onBatch(BatchProgress{
					Epoch:        c.epochsDone + 1,
					Batch:        b + 1,
					TotalBatches: totalBatches,
					Loss:         lossValue,
				})
			}
		}

		valLoss, valAcc, err := c.evaluate(valSet)
		if err != nil {
			return fmt.Errorf("train: validation: %w", err)
		}

		c.epochsDone++
		if onEpoch != nil {
			onEpoch(EpochStats{
				Epoch:    c.epochsDone,
				Loss:     epochLoss / float64(seen),
				Accuracy: float64(correct) / float64(seen),
				ValLoss:  valLoss,
				ValAcc:   valAcc,
			})
		}
	}

	fmt.Printf("🧠 Training increment done: %d epoch(s) over %d samples in %v (global epoch %d)\n",
		cfg.Epochs, trainSet.Size, time.Since(start), c.epochsDone)
	return nil
}

// evaluate computes loss and accuracy over a held-out batch without
// recording gradients.
func (c *Classifier) evaluate(set Batch) (loss, acc float64, err error) {
	if set.Size == 0 {
		return 0, 0, nil
	}

	tape := c.backend.Tape()
	wasRecording := tape.IsRecording()
	tape.StopRecording()
	defer func() {
		if wasRecording {
			tape.StartRecording()
		}
	}()

	images, err := tensor.FromSlice(
		set.Images,
		tensor.Shape{set.Size, 1, canvasSize, canvasSize},
		c.backend,
	)
	if err != nil {
		return 0, 0, err
	}
	labels, err := tensor.FromSlice(set.Labels, tensor.Shape{set.Size}, c.backend)
	if err != nil {
		return 0, 0, err
	}

	logits := c.net.Forward(images)
	lossRaw := c.backend.CrossEntropy(logits.Raw(), labels.Raw())
	return float64(lossRaw.AsFloat32()[0]), float64(nn.Accuracy(logits, labels)), nil
}
