// Package onnx implements the neural disparity backend on top of onnxruntime.
//
// The model must take the left and right images as its first two inputs and produce the
// disparity, in pixels, as its last output. Importing the package registers it under
// disparity.KindNeural.
package onnx

import (
	"context"
	"os"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"

	"go.viam.com/stereodepth/disparity"
	"go.viam.com/stereodepth/logging"
)

func init() {
	disparity.RegisterBackend(disparity.KindNeural, disparity.Registration{
		Constructor: func(ctx context.Context, cfg disparity.Config, logger logging.Logger) (disparity.Backend, error) {
			return NewNetwork(ctx, cfg, logger)
		},
	})
}

// warmUpLevel is the gray value used for the warm-up frame.
const warmUpLevel = 128

// Network runs a stereo network on every frame. Input and output tensors are allocated at
// creation and reused.
type Network struct {
	width, height int
	logger        logging.Logger

	session    runner
	provider   string
	inputNames []string
	outputName string

	in          inputLayout
	out         outputLayout
	left, right *ort.Tensor[float32]
	output      *ort.Tensor[float32]
	inputs      []ort.Value
	outputs     []ort.Value

	closed bool
}

// NewNetwork loads cfg.Neural.ModelPath and prepares it for cfg.Width x cfg.Height frames.
func NewNetwork(ctx context.Context, cfg disparity.Config, logger logging.Logger) (*Network, error) {
	return newNetwork(ctx, cfg, logger, defaultLoader())
}

func newNetwork(ctx context.Context, cfg disparity.Config, logger logging.Logger, l loader) (*Network, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.Neural == nil {
		return nil, disparity.NewError(disparity.ClassConfig, "create onnx", disparity.ErrMissingModelPath)
	}
	if err := cfg.Neural.Validate(); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "create onnx", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, disparity.NewError(disparity.ClassConfig, "create onnx",
			errors.Wrapf(disparity.ErrDimensionMismatch, "frame %dx%d", cfg.Width, cfg.Height))
	}
	params := *cfg.Neural
	logger = logging.OrBlank(logger, "onnx")
	fail := func(err error) (*Network, error) {
		return nil, disparity.NewError(disparity.ClassResource, "create onnx", err)
	}

	if _, err := os.Stat(params.ModelPath); err != nil {
		return fail(errors.Wrap(err, "model not found"))
	}
	if err := l.initEnv(params.SharedLibraryPath); err != nil {
		return fail(err)
	}
	inputs, outputs, err := l.ioInfo(params.ModelPath)
	if err != nil {
		return fail(errors.Wrapf(err, "cannot read tensor info of %s", params.ModelPath))
	}
	inputNames, outputName, err := selectNames(inputs, outputs)
	if err != nil {
		return fail(err)
	}
	layout, err := layoutFor(inputs[0], cfg.Width, cfg.Height)
	if err != nil {
		return fail(err)
	}
	if other, err := layoutFor(inputs[1], cfg.Width, cfg.Height); err != nil {
		return fail(err)
	} else if other != layout {
		return fail(errors.Errorf("inputs %q and %q disagree on shape", inputNames[0], inputNames[1]))
	}

	session, provider, err := probe(l.order, sessionRequest{
		modelPath: params.ModelPath,
		inputs:    inputNames,
		outputs:   []string{outputName},
		threads:   params.IntraOpThreads,
	}, l.open, logger)
	if err != nil {
		return fail(err)
	}

	n := &Network{
		width:      cfg.Width,
		height:     cfg.Height,
		logger:     logger,
		session:    session,
		provider:   provider,
		inputNames: inputNames,
		outputName: outputName,
		in:         layout,
	}
	if err := n.allocate(); err != nil {
		return fail(multierr.Combine(err, n.release()))
	}
	if err := n.warmUp(); err != nil {
		return fail(multierr.Combine(errors.Wrap(err, "warm-up failed"), n.release()))
	}

	logger.Infow("neural backend ready",
		"model", params.ModelPath,
		"provider", provider,
		"inputs", inputNames,
		"output", outputName,
		"input_shape", layout.shape().String(),
		"output_shape", n.output.GetShape().String())
	return n, nil
}

func (n *Network) allocate() error {
	var err error
	if n.left, err = ort.NewTensor(n.in.shape(), make([]float32, n.in.size())); err != nil {
		return err
	}
	if n.right, err = ort.NewTensor(n.in.shape(), make([]float32, n.in.size())); err != nil {
		return err
	}
	n.inputs = []ort.Value{n.left, n.right}
	return nil
}

// warmUp runs one inference on a flat frame, checks the output geometry and keeps the
// output tensor the runtime allocated for later frames.
func (n *Network) warmUp() error {
	for _, t := range []*ort.Tensor[float32]{n.left, n.right} {
		data := t.GetData()
		for i := range data {
			data[i] = warmUpLevel
		}
	}
	outputs := []ort.Value{nil}
	if err := n.session.Run(n.inputs, outputs); err != nil {
		return err
	}
	if outputs[0] == nil {
		return errors.New("network produced no output")
	}
	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return multierr.Combine(errors.Errorf("output %q is not a float32 tensor", n.outputName), outputs[0].Destroy())
	}
	layout, err := validateOutputShape(output.GetShape(), n.width, n.height)
	if err != nil {
		return multierr.Combine(err, output.Destroy())
	}
	n.output, n.out = output, layout
	n.outputs = []ort.Value{output}
	return nil
}

// Kind returns disparity.KindNeural.
func (n *Network) Kind() disparity.Kind {
	return disparity.KindNeural
}

// Size returns the frame size the network was prepared for.
func (n *Network) Size() (int, int) {
	return n.width, n.height
}

// Provider returns the execution provider the session runs on.
func (n *Network) Provider() string {
	return n.provider
}

// Compute runs the network on the rectified pair and writes its Q4.4 disparity into out.
func (n *Network) Compute(ctx context.Context, left, right []byte, out []int16) error {
	if n.closed {
		return disparity.NewError(disparity.ClassConfig, "compute", disparity.ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return disparity.NewError(disparity.ClassFrame, "compute", err)
	}
	if err := disparity.CheckBuffers(n.width, n.height, left, right, out); err != nil {
		return err
	}
	packInput(n.left.GetData(), left, n.width, n.height, n.in)
	packInput(n.right.GetData(), right, n.width, n.height, n.in)
	if err := n.session.Run(n.inputs, n.outputs); err != nil {
		return disparity.NewError(disparity.ClassFrame, "compute", errors.Wrap(err, "inference failed"))
	}
	cropOutput(out, n.output.GetData(), n.width, n.height, n.out)
	return nil
}

// UpdateParams is not supported by neural backends and changes nothing.
func (n *Network) UpdateParams(disparity.SGBMParams) error {
	if n.closed {
		return disparity.NewError(disparity.ClassConfig, "update params", disparity.ErrClosed)
	}
	return disparity.NewError(disparity.ClassConfig, "update params", disparity.ErrNotSupported)
}

func (n *Network) release() error {
	var err error
	for _, t := range []*ort.Tensor[float32]{n.left, n.right, n.output} {
		if t != nil {
			err = multierr.Combine(err, t.Destroy())
		}
	}
	if n.session != nil {
		err = multierr.Combine(err, n.session.Destroy())
	}
	n.left, n.right, n.output, n.session = nil, nil, nil, nil
	n.inputs, n.outputs = nil, nil
	return err
}

// Close destroys the session and its tensors. Later calls return disparity.ErrClosed.
func (n *Network) Close() error {
	if n.closed {
		return disparity.NewError(disparity.ClassConfig, "close", disparity.ErrClosed)
	}
	n.closed = true
	return n.release()
}
