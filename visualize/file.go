package visualize

import (
	"image"
	"image/color"
	"image/png"
	"io"
	"os"

	"github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// WritePNG encodes img to path.
func WritePNG(path string, img image.Image) error {
	return writeFile(path, img, png.Encode)
}

// WritePPM encodes img to path as a binary PPM, which most capture tools read back directly.
func WritePPM(path string, img image.Image) error {
	return writeFile(path, img, ppm.Encode)
}

func writeFile(path string, img image.Image, encode func(io.Writer, image.Image) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return errors.Wrapf(encode(f, img), "cannot encode %s", path)
}

// ReadGray decodes a PNG or PPM file into a tightly packed grayscale buffer, the layout the
// rectifier consumes. Color images are converted with the standard luma weights.
func ReadGray(path string) (pix []byte, width, height int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "cannot open %s", path)
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, 0, 0, errors.Wrapf(err, "cannot decode %s", path)
	}

	b := img.Bounds()
	width, height = b.Dx(), b.Dy()
	pix = make([]byte, width*height)
	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < height; y++ {
			start := gray.PixOffset(b.Min.X, b.Min.Y+y)
			copy(pix[y*width:(y+1)*width], gray.Pix[start:start+width])
		}
		return pix, width, height, nil
	}
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pix[y*width+x] = color.GrayModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray).Y
		}
	}
	return pix, width, height, nil
}
