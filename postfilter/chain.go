package postfilter

import (
	"github.com/pkg/errors"

	"go.viam.com/stereodepth/disparity"
)

// Settings selects the filters a Chain runs. A zero value for a stage disables it.
type Settings struct {
	// SpecularThreshold is the gray level at or above which a pixel is a highlight.
	SpecularThreshold int `json:"specular_threshold"`
	SpecularDilate    int `json:"specular_dilate"`
	MedianRadius      int `json:"median_radius"`
	CloseRadius       int `json:"close_radius"`
	OpenRadius        int `json:"open_radius"`
}

// Enabled reports whether any stage would run.
func (s Settings) Enabled() bool {
	return s.SpecularThreshold > 0 || s.MedianRadius > 0 || s.CloseRadius > 0 || s.OpenRadius > 0
}

// Validate checks the stage settings.
func (s Settings) Validate() error {
	if s.SpecularThreshold < 0 || s.SpecularThreshold > 255 {
		return errors.Wrapf(disparity.ErrInvalidParams, "specular threshold %d outside [0, 255]", s.SpecularThreshold)
	}
	for _, r := range []int{s.SpecularDilate, s.MedianRadius, s.CloseRadius, s.OpenRadius} {
		if r < 0 || r > MaxRadius {
			return errors.Wrapf(disparity.ErrInvalidParams, "filter radius %d outside [0, %d]", r, MaxRadius)
		}
	}
	return nil
}

// Chain runs the configured stages in a fixed order (specular mask, median, close, open) on
// one frame size, reusing its scratch buffers. It is not safe for concurrent use.
type Chain struct {
	width, height int
	settings      Settings
	mask          []bool
	work, tmp     []int16
	samples       []int16
}

// NewChain allocates a chain for width x height frames.
func NewChain(width, height int, settings Settings) (*Chain, error) {
	if width <= 0 || height <= 0 {
		return nil, disparity.NewError(disparity.ClassConfig, "postfilter",
			errors.Wrapf(disparity.ErrDimensionMismatch, "frame %dx%d", width, height))
	}
	if err := settings.Validate(); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "postfilter", err)
	}
	n := width * height
	side := 2*settings.MedianRadius + 1
	return &Chain{
		width:    width,
		height:   height,
		settings: settings,
		mask:     make([]bool, n),
		work:     make([]int16, n),
		tmp:      make([]int16, n),
		samples:  make([]int16, 0, side*side),
	}, nil
}

// Settings returns the chain's stages.
func (c *Chain) Settings() Settings {
	return c.settings
}

// Apply filters disp in place. gray is the rectified left image, used by the specular stage.
func (c *Chain) Apply(disp []int16, gray []byte) error {
	if err := checkFrame("postfilter", c.width, c.height, len(disp), len(gray)); err != nil {
		return err
	}
	s := c.settings
	if s.SpecularThreshold > 0 {
		specularMask(disp, gray, c.width, c.height, s.SpecularThreshold, s.SpecularDilate, c.mask)
	}
	if s.MedianRadius > 0 {
		medianFilter(c.work, disp, c.width, c.height, s.MedianRadius, c.samples)
		copy(disp, c.work)
	}
	if s.CloseRadius > 0 {
		extremum(c.work, disp, c.tmp, c.width, c.height, s.CloseRadius, true)
		extremum(disp, c.work, c.tmp, c.width, c.height, s.CloseRadius, false)
	}
	if s.OpenRadius > 0 {
		extremum(c.work, disp, c.tmp, c.width, c.height, s.OpenRadius, false)
		extremum(disp, c.work, c.tmp, c.width, c.height, s.OpenRadius, true)
	}
	return nil
}
