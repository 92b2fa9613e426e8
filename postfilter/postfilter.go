// Package postfilter cleans up Q4.4 disparity maps after matching: highlight masking, median
// smoothing and morphological close/open. Every filter keeps the disparity contract: values
// at or below disparity.InvalidDisparity are no match, and outputs are normalised so an
// invalid pixel is exactly disparity.InvalidDisparity.
//
// Morphology treats invalid pixels as minus infinity, so dilation grows valid regions into
// holes, erosion grows holes, and closing fills holes smaller than the window.
package postfilter

import (
	"github.com/pkg/errors"

	"go.viam.com/stereodepth/disparity"
)

// MaxRadius bounds every filter window to (2*MaxRadius+1) squared pixels.
const MaxRadius = 15

func checkFrame(op string, width, height int, lens ...int) error {
	n := width * height
	if width <= 0 || height <= 0 {
		return disparity.NewError(disparity.ClassFrame, op,
			errors.Wrapf(disparity.ErrDimensionMismatch, "frame %dx%d", width, height))
	}
	for _, l := range lens {
		if l != n {
			return disparity.NewError(disparity.ClassFrame, op,
				errors.Wrapf(disparity.ErrDimensionMismatch, "buffer of %d for %dx%d", l, width, height))
		}
	}
	return nil
}

func checkRadius(op string, radius int) error {
	if radius < 0 || radius > MaxRadius {
		return disparity.NewError(disparity.ClassConfig, op,
			errors.Wrapf(disparity.ErrInvalidParams, "radius %d outside [0, %d]", radius, MaxRadius))
	}
	return nil
}

// SpecularMask invalidates every pixel whose gray level is at or above threshold, plus a square
// of the given radius around it. Highlights on shiny parts carry no stereo texture.
func SpecularMask(disp []int16, gray []byte, width, height, threshold, dilate int) error {
	if err := checkFrame("specular mask", width, height, len(disp), len(gray)); err != nil {
		return err
	}
	if err := checkRadius("specular mask", dilate); err != nil {
		return err
	}
	specularMask(disp, gray, width, height, threshold, dilate, make([]bool, len(disp)))
	return nil
}

func specularMask(disp []int16, gray []byte, width, height, threshold, dilate int, mask []bool) {
	for i := range mask {
		mask[i] = false
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if int(gray[y*width+x]) < threshold {
				continue
			}
			for yy := maxInt(0, y-dilate); yy <= minInt(height-1, y+dilate); yy++ {
				row := mask[yy*width:]
				for xx := maxInt(0, x-dilate); xx <= minInt(width-1, x+dilate); xx++ {
					row[xx] = true
				}
			}
		}
	}
	for i, m := range mask {
		if m {
			disp[i] = disparity.InvalidDisparity
		}
	}
}

// Median writes into dst the median of the valid disparities in the square window around each
// valid pixel of src. Invalid pixels stay invalid. dst and src must not overlap.
func Median(dst, src []int16, width, height, radius int) error {
	if err := checkFrame("median", width, height, len(dst), len(src)); err != nil {
		return err
	}
	if err := checkRadius("median", radius); err != nil {
		return err
	}
	side := 2*radius + 1
	medianFilter(dst, src, width, height, radius, make([]int16, 0, side*side))
	return nil
}

func medianFilter(dst, src []int16, width, height, radius int, samples []int16) {
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			if !disparity.IsValid(src[i]) {
				dst[i] = disparity.InvalidDisparity
				continue
			}
			window := samples[:0]
			for yy := maxInt(0, y-radius); yy <= minInt(height-1, y+radius); yy++ {
				row := src[yy*width:]
				for xx := maxInt(0, x-radius); xx <= minInt(width-1, x+radius); xx++ {
					if q := row[xx]; disparity.IsValid(q) {
						window = append(window, q)
					}
				}
			}
			dst[i] = median(window)
		}
	}
}

// median sorts v in place and returns the lower median.
func median(v []int16) int16 {
	for i := 1; i < len(v); i++ {
		for j := i; j > 0 && v[j] < v[j-1]; j-- {
			v[j], v[j-1] = v[j-1], v[j]
		}
	}
	return v[(len(v)-1)/2]
}

// Dilate writes the maximum of each square window of src into dst.
func Dilate(dst, src []int16, width, height, radius int) error {
	return morphology("dilate", dst, src, width, height, radius, true)
}

// Erode writes the minimum of each square window of src into dst; any invalid pixel in the
// window makes the output invalid.
func Erode(dst, src []int16, width, height, radius int) error {
	return morphology("erode", dst, src, width, height, radius, false)
}

func morphology(op string, dst, src []int16, width, height, radius int, grow bool) error {
	if err := checkFrame(op, width, height, len(dst), len(src)); err != nil {
		return err
	}
	if err := checkRadius(op, radius); err != nil {
		return err
	}
	extremum(dst, src, make([]int16, len(src)), width, height, radius, grow)
	return nil
}

// Close is dilation followed by erosion. It fills holes and dips narrower than the window.
func Close(dst, src []int16, width, height, radius int) error {
	return compose("close", dst, src, width, height, radius, true)
}

// Open is erosion followed by dilation. It removes islands and peaks narrower than the window.
func Open(dst, src []int16, width, height, radius int) error {
	return compose("open", dst, src, width, height, radius, false)
}

func compose(op string, dst, src []int16, width, height, radius int, closing bool) error {
	if err := checkFrame(op, width, height, len(dst), len(src)); err != nil {
		return err
	}
	if err := checkRadius(op, radius); err != nil {
		return err
	}
	mid := make([]int16, len(src))
	tmp := make([]int16, len(src))
	extremum(mid, src, tmp, width, height, radius, closing)
	extremum(dst, mid, tmp, width, height, radius, !closing)
	return nil
}

// extremum is a separable square max (grow) or min filter. Invalid values sort below every
// valid one, so plain min/max gives the minus-infinity semantics. tmp holds the row pass; dst
// may alias src but not tmp.
func extremum(dst, src, tmp []int16, width, height, radius int, grow bool) {
	pick := func(a, b int16) int16 {
		if (b > a) == grow {
			return b
		}
		return a
	}
	for y := 0; y < height; y++ {
		row := src[y*width : (y+1)*width]
		out := tmp[y*width : (y+1)*width]
		for x := range row {
			v := row[x]
			for xx := maxInt(0, x-radius); xx <= minInt(width-1, x+radius); xx++ {
				v = pick(v, row[xx])
			}
			out[x] = v
		}
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := tmp[y*width+x]
			for yy := maxInt(0, y-radius); yy <= minInt(height-1, y+radius); yy++ {
				v = pick(v, tmp[yy*width+x])
			}
			if !disparity.IsValid(v) {
				v = disparity.InvalidDisparity
			}
			dst[y*width+x] = v
		}
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
