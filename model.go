package main

import (
	"fmt"

	"github.com/born-ml/born/autodiff"
	"github.com/born-ml/born/backend/cpu"
	"github.com/born-ml/born/nn"
	"github.com/born-ml/born/optim"
	"github.com/born-ml/born/tensor"
	"gonum.org/v1/gonum/mat"
)

// classifierBackend is born's CPU backend wrapped with the autodiff tape.
// born is the external numerical library; nothing outside model.go,
// train.go and predict.go touches it.
type classifierBackend = *autodiff.Backend[*cpu.Backend]

// Fixed architecture of the teaching classifier:
//
//	Input:  [n, 1, 28, 28]
//	conv1:  1 -> 8 channels, 5x5, stride 1, no padding -> [n, 8, 24, 24], ReLU
//	pool1:  2x2 max pool, stride 2                     -> [n, 8, 12, 12]
//	conv2:  8 -> 16 channels, 5x5, stride 1            -> [n, 16, 8, 8], ReLU
//	pool2:  2x2 max pool, stride 2                     -> [n, 16, 4, 4]
//	dense:  flatten 256 -> 10 class logits
//
// Softmax is applied at prediction time; training feeds raw logits to
// born's CrossEntropyLoss, which handles it internally.
type digitNet struct {
	backend classifierBackend

	conv1 *nn.Conv2D[classifierBackend]
	relu1 *nn.ReLU[classifierBackend]
	pool1 *nn.MaxPool2D[classifierBackend]
	conv2 *nn.Conv2D[classifierBackend]
	relu2 *nn.ReLU[classifierBackend]
	pool2 *nn.MaxPool2D[classifierBackend]
	dense *nn.Linear[classifierBackend]
}

// layerNames are the introspection handles, in forward order.
var layerNames = []string{"conv1", "pool1", "conv2", "pool2", "dense"}

const (
	conv1Filters = 8
	conv2Filters = 16
	kernelSize   = 5
	denseInputs  = conv2Filters * 4 * 4
	numClasses   = 10
)

func newDigitNet(backend classifierBackend) *digitNet {
	return &digitNet{
		backend: backend,
		conv1:   nn.NewConv2D(1, conv1Filters, kernelSize, kernelSize, 1, 0, true, backend),
		relu1:   nn.NewReLU[classifierBackend](),
		pool1:   nn.NewMaxPool2D(2, 2, backend),
		conv2:   nn.NewConv2D(conv1Filters, conv2Filters, kernelSize, kernelSize, 1, 0, true, backend),
		relu2:   nn.NewReLU[classifierBackend](),
		pool2:   nn.NewMaxPool2D(2, 2, backend),
		dense:   nn.NewLinear[classifierBackend](denseInputs, numClasses, backend),
	}
}

// Forward runs the full network and returns class logits [n, 10].
func (m *digitNet) Forward(input *tensor.Tensor[float32, classifierBackend]) *tensor.Tensor[float32, classifierBackend] {
	x := m.pool1.Forward(m.relu1.Forward(m.conv1.Forward(input)))
	x = m.pool2.Forward(m.relu2.Forward(m.conv2.Forward(x)))
	x = x.Reshape(x.Shape()[0], denseInputs)
	return m.dense.Forward(x)
}

// forwardTo runs the network up to and including the named layer and returns
// that layer's output. Conv outputs are post-ReLU, matching what the
// visualization shows.
func (m *digitNet) forwardTo(layer string, input *tensor.Tensor[float32, classifierBackend]) (*tensor.Tensor[float32, classifierBackend], error) {
	x := m.relu1.Forward(m.conv1.Forward(input))
	if layer == "conv1" {
		return x, nil
	}
	x = m.pool1.Forward(x)
	if layer == "pool1" {
		return x, nil
	}
	x = m.relu2.Forward(m.conv2.Forward(x))
	if layer == "conv2" {
		return x, nil
	}
	x = m.pool2.Forward(x)
	if layer == "pool2" {
		return x, nil
	}
	if layer == "dense" {
		x = x.Reshape(x.Shape()[0], denseInputs)
		return m.dense.Forward(x), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownLayer, layer)
}

// Parameters returns all trainable parameters.
func (m *digitNet) Parameters() []*nn.Parameter[classifierBackend] {
	params := make([]*nn.Parameter[classifierBackend], 0, 6)
	params = append(params, m.conv1.Parameters()...)
	params = append(params, m.conv2.Parameters()...)
	params = append(params, m.dense.Parameters()...)
	return params
}

// Classifier owns the model, its optimizer state and the training odometer.
// It is exclusively owned by the session; train and predict never run
// concurrently.
type Classifier struct {
	backend   classifierBackend
	net       *digitNet
	optimizer *optim.Adam[classifierBackend]

	epochsDone int // total completed epochs across all train() calls
}

// NewClassifier builds the fixed architecture with a fresh Adam optimizer
// (lr 1e-3, betas 0.9/0.999, eps 1e-8).
func NewClassifier() *Classifier {
	backend := autodiff.New(cpu.New())
	net := newDigitNet(backend)
	return &Classifier{
		backend: backend,
		net:     net,
		optimizer: optim.NewAdam(
			net.Parameters(),
			optim.AdamConfig{
				LR:    1e-3,
				Betas: [2]float32{0.9, 0.999},
				Eps:   1e-8,
			},
			backend,
		),
	}
}

// EpochsCompleted is the monotonically increasing global epoch counter.
func (c *Classifier) EpochsCompleted() int { return c.epochsDone }

// Trained reports whether at least one epoch has completed. Prediction on
// an untrained model proceeds, but carries an advisory.
func (c *Classifier) Trained() bool { return c.epochsDone > 0 }

// imageTensor converts a preprocessed raster into the library's native
// representation, normalizing 0..255 to [0,1].
func (c *Classifier) imageTensor(img *RasterImage) (*tensor.Tensor[float32, classifierBackend], error) {
	data := make([]float32, len(img.Pixels))
	for i, p := range img.Pixels {
		data[i] = float32(p) / 255.0
	}
	return tensor.FromSlice(data, tensor.Shape{1, 1, img.Height, img.Width}, c.backend)
}

// ActivationMaps are one layer's per-filter outputs for a single input.
// They are recomputed per call and must not be retained past the
// visualization step that consumes them.
type ActivationMaps struct {
	Layer   string
	Filters int
	Height  int
	Width   int
	Values  [][]float32 // one flat h*w slice per filter
}

// Introspect runs the current input through a forward-only pass terminating
// at the named layer and copies the activation values out.
func (c *Classifier) Introspect(layer string, img *RasterImage) (*ActivationMaps, error) {
	input, err := c.imageTensor(img)
	if err != nil {
		return nil, fmt.Errorf("introspect: %w", err)
	}
	out, err := c.net.forwardTo(layer, input)
	if err != nil {
		return nil, err
	}

	shape := out.Shape()
	maps := &ActivationMaps{Layer: layer}
	switch len(shape) {
	case 4: // [1, filters, h, w]
		maps.Filters, maps.Height, maps.Width = shape[1], shape[2], shape[3]
	case 2: // [1, units] — dense output as 1x1 maps
		maps.Filters, maps.Height, maps.Width = shape[1], 1, 1
	default:
		return nil, fmt.Errorf("introspect: unexpected %dD output from %q", len(shape), layer)
	}

	raw := out.Raw().AsFloat32()
	per := maps.Height * maps.Width
	maps.Values = make([][]float32, maps.Filters)
	for f := 0; f < maps.Filters; f++ {
		// Copy out so the backing tensor does not outlive this call.
		maps.Values[f] = append([]float32(nil), raw[f*per:(f+1)*per]...)
	}
	return maps, nil
}

// FilterKernel returns the first filter's kernel and bias from the named
// convolution layer, for the replay animation. Re-fetched after every
// training increment; never mutated in place.
func (c *Classifier) FilterKernel(layer string) (*mat.Dense, float64, error) {
	var conv *nn.Conv2D[classifierBackend]
	switch layer {
	case "conv1":
		conv = c.net.conv1
	case "conv2":
		conv = c.net.conv2
	default:
		return nil, 0, fmt.Errorf("%w: %q is not a convolution layer", ErrUnknownLayer, layer)
	}

	params := conv.Parameters()
	if len(params) < 2 {
		return nil, 0, fmt.Errorf("%w: %q", ErrKernelUnavailable, layer)
	}

	// Weight layout is [out_channels, in_channels, kh, kw]; the first
	// filter's first input channel occupies the leading kh*kw values.
	weight := params[0].Tensor()
	shape := weight.Shape()
	kh, kw := shape[2], shape[3]
	raw := weight.Raw().AsFloat32()

	kernel := mat.NewDense(kh, kw, nil)
	for i := 0; i < kh; i++ {
		for j := 0; j < kw; j++ {
			kernel.Set(i, j, float64(raw[i*kw+j]))
		}
	}
	bias := float64(params[1].Tensor().Raw().AsFloat32()[0])
	return kernel, bias, nil
}
