package disparity

import (
	"math"

	"github.com/pkg/errors"
)

// Range is a disparity search window in whole pixels.
type Range struct {
	MinDisparity   int
	NumDisparities int
}

// Max returns the exclusive upper bound of the range.
func (r Range) Max() int {
	return r.MinDisparity + r.NumDisparities
}

// RangeFromDepth derives the disparity search window that covers working distances
// [zNear, zFar] for a rectified camera with the given focal length (pixels) and baseline
// (same unit as the distances). NumDisparities is rounded up to a multiple of 16, at least 16.
func RangeFromDepth(zNear, zFar, focalLengthPx, baseline float64) (Range, error) {
	if zNear <= 0 || zFar <= zNear || focalLengthPx <= 0 || baseline <= 0 {
		return Range{}, NewError(ClassConfig, "disparity range", errors.Wrapf(ErrInvalidParams,
			"near %v far %v focal %v baseline %v", zNear, zFar, focalLengthPx, baseline))
	}
	fb := focalLengthPx * baseline
	minDisparity := int(math.Floor(fb / zFar))
	num := int(math.Ceil(fb/zNear)) - minDisparity
	num = (num + 15) / 16 * 16
	if num < 16 {
		num = 16
	}
	return Range{MinDisparity: minDisparity, NumDisparities: num}, nil
}
