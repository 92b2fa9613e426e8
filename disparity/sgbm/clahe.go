package sgbm

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"go.viam.com/stereodepth/disparity"
)

// equalizer applies contrast limited adaptive histogram equalization to 8-bit gray frames.
type equalizer struct {
	width, height int
	settings      disparity.Contrast
	clahe         *gocv.CLAHE
}

func newEqualizer(width, height int, settings disparity.Contrast) (*equalizer, error) {
	if settings.ClipLimit <= 0 || settings.TileGrid < 1 {
		return nil, errors.Wrapf(disparity.ErrInvalidParams, "clahe clip limit %v tile grid %d",
			settings.ClipLimit, settings.TileGrid)
	}
	clahe := gocv.NewCLAHEWithParams(settings.ClipLimit, image.Pt(settings.TileGrid, settings.TileGrid))
	return &equalizer{width: width, height: height, settings: settings, clahe: &clahe}, nil
}

// apply writes the equalized src into dst.
func (e *equalizer) apply(dst, src []byte) error {
	in, err := gocv.NewMatFromBytes(e.height, e.width, gocv.MatTypeCV8UC1, src)
	if err != nil {
		return errors.Wrap(err, "cannot wrap frame for clahe")
	}
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()

	e.clahe.Apply(in, &out)
	if out.Rows() != e.height || out.Cols() != e.width {
		return errors.Errorf("clahe produced %dx%d, want %dx%d", out.Cols(), out.Rows(), e.width, e.height)
	}
	copy(dst, out.ToBytes())
	return nil
}

func (e *equalizer) Close() error {
	return e.clahe.Close()
}
