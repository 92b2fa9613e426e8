// Package visualize renders disparity and confidence buffers as false-color images.
package visualize

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"go.viam.com/stereodepth/disparity"
)

// paletteStops run from deep blue through cyan, green and yellow to deep red.
var paletteStops = []string{"#00007f", "#0000ff", "#00ffff", "#7fff7f", "#ffff00", "#ff0000", "#7f0000"}

// Palette maps 0..255 to a perceptually ordered false color. It is built once at startup and
// never modified.
var Palette = buildPalette(paletteStops)

// Black is drawn for values with nothing to show.
var Black = color.RGBA{0, 0, 0, 255}

func buildPalette(stops []string) [256]color.RGBA {
	colors := make([]colorful.Color, len(stops))
	for i, hex := range stops {
		c, err := colorful.Hex(hex)
		if err != nil {
			panic(errors.Wrapf(err, "bad palette stop %q", hex))
		}
		colors[i] = c
	}

	var lut [256]color.RGBA
	segments := float64(len(colors) - 1)
	for i := range lut {
		pos := float64(i) / 255 * segments
		seg := int(pos)
		if seg >= len(colors)-1 {
			seg = len(colors) - 2
		}
		c := colors[seg].BlendHcl(colors[seg+1], pos-float64(seg)).Clamped()
		r, g, b := c.RGB255()
		lut[i] = color.RGBA{r, g, b, 255}
	}
	return lut
}

// DisparityIndex maps a Q4.4 disparity onto the palette over the search range
// [minDisparity, minDisparity+numDisparities) pixels. ok is false for values at or below the
// low bound and for an empty range.
func DisparityIndex(q int16, minDisparity, numDisparities int) (uint8, bool) {
	lo := minDisparity * disparity.Scale
	span := numDisparities * disparity.Scale
	if span <= 0 || int(q) <= lo {
		return 0, false
	}
	idx := (int(q) - lo) * 255 / span
	if idx > 255 {
		idx = 255
	}
	return uint8(idx), true
}

func checkImage(dst *image.RGBA, n int) (int, error) {
	b := dst.Bounds()
	if b.Dx()*b.Dy() != n {
		return 0, errors.Wrapf(disparity.ErrDimensionMismatch, "image %dx%d for %d values", b.Dx(), b.Dy(), n)
	}
	return b.Dx(), nil
}

// ColorizeDisparity draws disp into dst, which must have one pixel per value.
func ColorizeDisparity(dst *image.RGBA, disp []int16, minDisparity, numDisparities int) error {
	width, err := checkImage(dst, len(disp))
	if err != nil {
		return err
	}
	b := dst.Bounds()
	for i, q := range disp {
		c := Black
		if idx, ok := DisparityIndex(q, minDisparity, numDisparities); ok {
			c = Palette[idx]
		}
		dst.SetRGBA(b.Min.X+i%width, b.Min.Y+i/width, c)
	}
	return nil
}

// ColorizeConfidence draws conf into dst; 0 is deep blue and 255 deep red.
func ColorizeConfidence(dst *image.RGBA, conf []byte) error {
	width, err := checkImage(dst, len(conf))
	if err != nil {
		return err
	}
	b := dst.Bounds()
	for i, v := range conf {
		dst.SetRGBA(b.Min.X+i%width, b.Min.Y+i/width, Palette[v])
	}
	return nil
}

// DisparityImage allocates and draws a width x height disparity image.
func DisparityImage(disp []int16, width, height, minDisparity, numDisparities int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := ColorizeDisparity(img, disp, minDisparity, numDisparities); err != nil {
		return nil, err
	}
	return img, nil
}

// ConfidenceImage allocates and draws a width x height confidence image.
func ConfidenceImage(conf []byte, width, height int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if err := ColorizeConfidence(img, conf); err != nil {
		return nil, err
	}
	return img, nil
}
