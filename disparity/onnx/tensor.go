package onnx

import (
	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"go.viam.com/stereodepth/disparity"
)

// tile is the spatial multiple stereo networks commonly require of their inputs.
const tile = 32

func roundUp(v, multiple int) int {
	return (v + multiple - 1) / multiple * multiple
}

// inputLayout is the NCHW geometry fed to the network.
type inputLayout struct {
	channels      int
	width, height int
}

func (l inputLayout) shape() ort.Shape {
	return ort.NewShape(1, int64(l.channels), int64(l.height), int64(l.width))
}

func (l inputLayout) size() int {
	return l.channels * l.width * l.height
}

// layoutFor picks the input geometry for a frame. Dynamic dimensions (<= 0) default to three
// channels and the frame size rounded up to the tile; fixed dimensions are honoured as long
// as they can hold the frame.
func layoutFor(info ort.InputOutputInfo, width, height int) (inputLayout, error) {
	layout := inputLayout{channels: 3, width: roundUp(width, tile), height: roundUp(height, tile)}
	dims := info.Dimensions
	if len(dims) == 0 {
		return layout, nil
	}
	if len(dims) != 4 {
		return inputLayout{}, errors.Errorf("input %q has rank %d, want NCHW", info.Name, len(dims))
	}
	if info.DataType != ort.TensorElementDataTypeFloat {
		return inputLayout{}, errors.Errorf("input %q has element type %v, want float32", info.Name, info.DataType)
	}
	if c := dims[1]; c > 0 {
		if c != 1 && c != 3 {
			return inputLayout{}, errors.Errorf("input %q expects %d channels", info.Name, c)
		}
		layout.channels = int(c)
	}
	if h := dims[2]; h > 0 {
		if int(h) < height {
			return inputLayout{}, errors.Errorf("input %q is %d rows, frame needs %d", info.Name, h, height)
		}
		layout.height = int(h)
	}
	if w := dims[3]; w > 0 {
		if int(w) < width {
			return inputLayout{}, errors.Errorf("input %q is %d columns, frame needs %d", info.Name, w, width)
		}
		layout.width = int(w)
	}
	return layout, nil
}

// packInput writes a gray frame into every channel plane of dst, repeating the last row and
// column to fill the padded area.
func packInput(dst []float32, src []byte, width, height int, layout inputLayout) {
	plane := layout.width * layout.height
	first := dst[:plane]
	for y := 0; y < layout.height; y++ {
		row := src[minInt(y, height-1)*width:]
		out := first[y*layout.width : (y+1)*layout.width]
		for x := 0; x < width; x++ {
			out[x] = float32(row[x])
		}
		edge := out[width-1]
		for x := width; x < layout.width; x++ {
			out[x] = edge
		}
	}
	for c := 1; c < layout.channels; c++ {
		copy(dst[c*plane:(c+1)*plane], first)
	}
}

// outputLayout describes where the disparity plane sits in the network output.
type outputLayout struct {
	stride int
	rows   int
}

// validateOutputShape accepts [H,W], [N,H,W] and [N,C,H,W] outputs whose plane covers the
// frame. Only the first plane is read.
func validateOutputShape(shape ort.Shape, width, height int) (outputLayout, error) {
	if len(shape) < 2 || len(shape) > 4 {
		return outputLayout{}, errors.Errorf("output rank %d not in [2, 4] (shape %v)", len(shape), shape)
	}
	for _, d := range shape {
		if d <= 0 {
			return outputLayout{}, errors.Errorf("output shape %v has a non-positive dimension", shape)
		}
	}
	rows, cols := int(shape[len(shape)-2]), int(shape[len(shape)-1])
	if rows < height || cols < width {
		return outputLayout{}, errors.Errorf("output plane %dx%d is smaller than the %dx%d frame", cols, rows, width, height)
	}
	return outputLayout{stride: cols, rows: rows}, nil
}

// cropOutput converts the top-left width x height window of a float disparity plane to Q4.4.
func cropOutput(dst []int16, src []float32, width, height int, layout outputLayout) {
	for y := 0; y < height; y++ {
		row := src[y*layout.stride : y*layout.stride+width]
		out := dst[y*width : (y+1)*width]
		for x, v := range row {
			out[x] = disparity.FromPixels(v)
		}
	}
}

// selectNames picks the first two inputs as left and right and the last output as disparity.
func selectNames(inputs, outputs []ort.InputOutputInfo) ([]string, string, error) {
	if len(inputs) < 2 {
		return nil, "", errors.Errorf("model has %d inputs, need left and right", len(inputs))
	}
	if len(outputs) < 1 {
		return nil, "", errors.New("model has no outputs")
	}
	return []string{inputs[0].Name, inputs[1].Name}, outputs[len(outputs)-1].Name, nil
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
