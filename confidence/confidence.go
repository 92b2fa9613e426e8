// Package confidence scores how far each disparity pixel can be trusted, from the texture of
// the left image around it and the agreement of its disparity neighbourhood.
package confidence

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/stereodepth/disparity"
)

var (
	sobelX = [3][3]int{{-1, 0, 1}, {-2, 0, 2}, {-1, 0, 1}}
	sobelY = [3][3]int{{-1, -2, -1}, {0, 0, 0}, {1, 2, 1}}
)

// Params tunes the estimator.
type Params struct {
	// GradientCap is the Sobel gradient magnitude, in gray levels, at which texture counts as
	// fully sufficient.
	GradientCap float64 `json:"gradient_cap"`
	// VarianceHalf is the disparity variance, in square pixels, that halves the score.
	VarianceHalf float64 `json:"variance_half"`
}

// DefaultParams returns the usual tuning.
func DefaultParams() Params {
	return Params{GradientCap: 96, VarianceHalf: 1.0}
}

// Validate checks that both terms are positive.
func (p Params) Validate() error {
	if p.GradientCap <= 0 || p.VarianceHalf <= 0 {
		return errors.Wrapf(disparity.ErrInvalidParams, "confidence gradient cap %v variance half %v",
			p.GradientCap, p.VarianceHalf)
	}
	return nil
}

// Estimator computes confidence maps. It holds no per-frame state and may be shared by
// goroutines working on different buffers.
type Estimator struct {
	params Params
}

// NewEstimator returns an estimator for params.
func NewEstimator(params Params) (*Estimator, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	return &Estimator{params: params}, nil
}

// Params returns the estimator's tuning.
func (e *Estimator) Params() Params {
	return e.params
}

// Compute writes a score in [0, 255] for every pixel into out. Invalid disparities score 0,
// as do border pixels where the gradient is undefined.
func (e *Estimator) Compute(disp []int16, left []byte, width, height int, out []byte) error {
	n := width * height
	if width <= 0 || height <= 0 || len(disp) != n || len(left) != n || len(out) != n {
		return disparity.NewError(disparity.ClassFrame, "confidence", errors.Wrapf(disparity.ErrDimensionMismatch,
			"disparity %d gray %d out %d for %dx%d", len(disp), len(left), len(out), width, height))
	}
	var window [9]float64
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if !disparity.IsValid(disp[i]) {
				out[i] = 0
				continue
			}
			texture := e.texture(left, width, height, x, y)
			if texture == 0 {
				out[i] = 0
				continue
			}
			variance := neighbourhoodVariance(disp, width, height, x, y, window[:0])
			score := texture * e.params.VarianceHalf / (e.params.VarianceHalf + variance)
			out[i] = byte(math.Max(0, math.Min(255, math.Round(score*255))))
		}
	}
	return nil
}

// ComputeNew is Compute into a freshly allocated map.
func (e *Estimator) ComputeNew(disp []int16, left []byte, width, height int) ([]byte, error) {
	out := make([]byte, width*height)
	if err := e.Compute(disp, left, width, height, out); err != nil {
		return nil, err
	}
	return out, nil
}

// texture is the Sobel magnitude at (x, y) scaled so GradientCap maps to 1.
func (e *Estimator) texture(gray []byte, width, height, x, y int) float64 {
	if x == 0 || y == 0 || x == width-1 || y == height-1 {
		return 0
	}
	gx, gy := 0, 0
	for j := 0; j < 3; j++ {
		row := gray[(y+j-1)*width:]
		for i := 0; i < 3; i++ {
			v := int(row[x+i-1])
			gx += sobelX[j][i] * v
			gy += sobelY[j][i] * v
		}
	}
	mag := math.Hypot(float64(gx), float64(gy))
	return math.Min(mag/e.params.GradientCap, 1)
}

// neighbourhoodVariance is the population variance, in square pixels, of the valid
// disparities in the 3x3 window around (x, y). Fewer than two samples give 0.
func neighbourhoodVariance(disp []int16, width, height, x, y int, samples []float64) float64 {
	for dy := -1; dy <= 1; dy++ {
		yy := y + dy
		if yy < 0 || yy >= height {
			continue
		}
		for dx := -1; dx <= 1; dx++ {
			xx := x + dx
			if xx < 0 || xx >= width {
				continue
			}
			if q := disp[yy*width+xx]; disparity.IsValid(q) {
				samples = append(samples, float64(disparity.ToPixels(q)))
			}
		}
	}
	if len(samples) < 2 {
		return 0
	}
	return stat.PopVariance(samples, nil)
}
