package pipeline

import (
	"image"
	"sort"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"

	"go.viam.com/stereodepth/calibration"
	"go.viam.com/stereodepth/disparity"
	"go.viam.com/stereodepth/visualize"
)

// Timings records how long each stage of one frame took. Skipped stages stay zero.
type Timings struct {
	Rectify    time.Duration
	Compute    time.Duration
	PostFilter time.Duration
	Confidence time.Duration
	Temporal   time.Duration
	Total      time.Duration
}

// Frame is the output of one Process call. Its slices are owned by the Stream.
type Frame struct {
	Number        uint64
	Width, Height int
	// Left and Right are the rectified grayscale pair.
	Left, Right []byte
	// Disparity is the backend output after post-filtering, in Q4.4.
	Disparity []int16
	// Confidence scores Disparity, 0 to 255.
	Confidence []byte
	// Stabilized is the temporal median of recent Disparity maps. It aliases Disparity when
	// stabilization is off.
	Stabilized  []int16
	SceneChange bool
	// Search is the disparity window used for colorizing.
	Search  disparity.Range
	Timings Timings

	calibration *calibration.Metadata
}

func newFrame(width, height int, stabilized bool) Frame {
	n := width * height
	f := Frame{
		Width:      width,
		Height:     height,
		Left:       make([]byte, n),
		Right:      make([]byte, n),
		Disparity:  make([]int16, n),
		Confidence: make([]byte, n),
	}
	f.Stabilized = f.Disparity
	if stabilized {
		f.Stabilized = make([]int16, n)
	}
	disparity.Fill(f.Disparity)
	disparity.Fill(f.Stabilized)
	return f
}

// DisparityImage renders the stabilized disparity in false color.
func (f *Frame) DisparityImage() (*image.RGBA, error) {
	return visualize.DisparityImage(f.Stabilized, f.Width, f.Height, f.Search.MinDisparity, f.Search.NumDisparities)
}

// ConfidenceImage renders the confidence map in false color.
func (f *Frame) ConfidenceImage() (*image.RGBA, error) {
	return visualize.ConfidenceImage(f.Confidence, f.Width, f.Height)
}

// DepthCm converts the stabilized disparity to centimetres using the stream's calibration.
func (f *Frame) DepthCm(dst []float64) error {
	if f.calibration == nil {
		return disparity.NewError(disparity.ClassConfig, "depth",
			errors.New("stream has no calibration to convert disparity to depth"))
	}
	return disparity.DepthMap(dst, f.Stabilized, f.calibration.FocalLengthPx, f.calibration.BaselineCm)
}

// FrameStats summarises a frame.
type FrameStats struct {
	// ValidFraction is the share of pixels with a stabilized disparity.
	ValidFraction float64
	// Disparity statistics over valid pixels, in pixels. Zero when nothing is valid.
	MeanDisparity   float64
	StdDevDisparity float64
	MedianDisparity float64
	// MeanConfidence is over all pixels.
	MeanConfidence float64
	// ConfidentFraction is the share of pixels scoring at least ConfidentScore.
	ConfidentFraction float64
}

// ConfidentScore is the confidence at which a pixel counts as trusted in FrameStats.
const ConfidentScore = 128

// Stats computes summary statistics. It allocates and is meant for monitoring, not the
// per-frame hot path.
func (f *Frame) Stats() FrameStats {
	var fs FrameStats
	n := len(f.Stabilized)
	if n == 0 {
		return fs
	}
	valid := make([]float64, 0, n)
	for _, q := range f.Stabilized {
		if disparity.IsValid(q) {
			valid = append(valid, float64(disparity.ToPixels(q)))
		}
	}
	fs.ValidFraction = float64(len(valid)) / float64(n)
	if len(valid) > 0 {
		fs.MeanDisparity, fs.StdDevDisparity = stat.MeanStdDev(valid, nil)
		if len(valid) == 1 {
			fs.StdDevDisparity = 0
		}
		sort.Float64s(valid)
		fs.MedianDisparity = stat.Quantile(0.5, stat.Empirical, valid, nil)
	}

	scores := make([]float64, len(f.Confidence))
	confident := 0
	for i, c := range f.Confidence {
		scores[i] = float64(c)
		if c >= ConfidentScore {
			confident++
		}
	}
	if len(scores) > 0 {
		fs.MeanConfidence = stat.Mean(scores, nil)
		fs.ConfidentFraction = float64(confident) / float64(len(scores))
	}
	return fs
}
