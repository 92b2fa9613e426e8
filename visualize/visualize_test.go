package visualize

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereodepth/disparity"
)

func TestPaletteEnds(t *testing.T) {
	first, last := Palette[0], Palette[255]
	test.That(t, first.B, test.ShouldBeGreaterThan, first.R)
	test.That(t, first.B, test.ShouldBeGreaterThanOrEqualTo, uint8(126))
	test.That(t, last.R, test.ShouldBeGreaterThan, last.B)
	test.That(t, last.R, test.ShouldBeGreaterThanOrEqualTo, uint8(126))
	for _, c := range Palette {
		test.That(t, c.A, test.ShouldEqual, uint8(255))
	}
	test.That(t, func() { buildPalette([]string{"#zz0000", "#000000"}) }, test.ShouldPanic)
}

func TestDisparityIndex(t *testing.T) {
	for _, tc := range []struct {
		q        int16
		min, num int
		idx      uint8
		ok       bool
	}{
		{disparity.InvalidDisparity, 0, 64, 0, false},
		{0, 0, 64, 0, false},
		{32 * 16, 0, 64, 127, true},
		{64 * 16, 0, 64, 255, true},
		{100 * 16, 0, 64, 255, true},
		{10 * 16, 10, 16, 0, false},
		{18 * 16, 10, 16, 127, true},
		{200, 0, 0, 0, false},
		{200, 0, -16, 0, false},
	} {
		idx, ok := DisparityIndex(tc.q, tc.min, tc.num)
		test.That(t, ok, test.ShouldEqual, tc.ok)
		test.That(t, idx, test.ShouldEqual, tc.idx)
	}
}

func TestColorize(t *testing.T) {
	disp := []int16{disparity.InvalidDisparity, 0, 32 * 16, 64 * 16}
	img, err := DisparityImage(disp, 2, 2, 0, 64)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.RGBAAt(0, 0), test.ShouldResemble, Black)
	test.That(t, img.RGBAAt(1, 0), test.ShouldResemble, Black)
	test.That(t, img.RGBAAt(0, 1), test.ShouldResemble, Palette[127])
	test.That(t, img.RGBAAt(1, 1), test.ShouldResemble, Palette[255])

	conf, err := ConfidenceImage([]byte{0, 255, 7}, 3, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, conf.RGBAAt(0, 0), test.ShouldResemble, Palette[0])
	test.That(t, conf.RGBAAt(1, 0), test.ShouldResemble, Palette[255])
	test.That(t, conf.RGBAAt(2, 0), test.ShouldResemble, Palette[7])

	// Sub-images keep their origin.
	canvas := image.NewRGBA(image.Rect(0, 0, 4, 4))
	sub := canvas.SubImage(image.Rect(2, 2, 4, 3)).(*image.RGBA)
	test.That(t, ColorizeConfidence(sub, []byte{255, 255}), test.ShouldBeNil)
	test.That(t, canvas.RGBAAt(3, 2), test.ShouldResemble, Palette[255])
	test.That(t, canvas.RGBAAt(1, 2).A, test.ShouldEqual, uint8(0))

	_, err = DisparityImage(disp, 3, 2, 0, 64)
	test.That(t, errors.Is(err, disparity.ErrDimensionMismatch), test.ShouldBeTrue)
	_, err = ConfidenceImage([]byte{1}, 2, 2)
	test.That(t, err, test.ShouldNotBeNil)
}
