package disparity

import (
	"math"
)

const (
	// Scale converts whole pixels to Q4.4 fixed point.
	Scale = 16

	// InvalidDisparity marks a pixel with no match. Any value at or below it is invalid.
	InvalidDisparity int16 = -Scale
)

// IsValid reports whether a Q4.4 disparity denotes a match.
func IsValid(q int16) bool {
	return q > InvalidDisparity
}

// FromPixels converts a floating point disparity to Q4.4, rounding to the nearest 1/16 pixel
// and clamping to the int16 range. NaN becomes InvalidDisparity.
func FromPixels(d float32) int16 {
	if math.IsNaN(float64(d)) {
		return InvalidDisparity
	}
	v := math.Round(float64(d) * Scale)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}

// ToPixels converts a Q4.4 disparity to pixels.
func ToPixels(q int16) float32 {
	return float32(q) / Scale
}

// Depth converts a Q4.4 disparity to depth in the unit of baseline. Non-positive disparities
// have no depth and return 0.
func Depth(q int16, focalLengthPx, baseline float64) float64 {
	if q <= 0 {
		return 0
	}
	return focalLengthPx * baseline / (float64(q) / Scale)
}

// DepthMap converts a whole disparity buffer to depth, writing into dst.
func DepthMap(dst []float64, disp []int16, focalLengthPx, baseline float64) error {
	if len(dst) != len(disp) {
		return NewError(ClassConfig, "depth map", ErrDimensionMismatch)
	}
	for i, q := range disp {
		dst[i] = Depth(q, focalLengthPx, baseline)
	}
	return nil
}

// Fill sets every element of buf to InvalidDisparity.
func Fill(buf []int16) {
	for i := range buf {
		buf[i] = InvalidDisparity
	}
}
