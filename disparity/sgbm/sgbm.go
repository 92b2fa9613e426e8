// Package sgbm implements the classical semi-global block matching disparity backend.
//
// Importing the package registers it under disparity.KindClassical.
package sgbm

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/stereodepth/disparity"
	"go.viam.com/stereodepth/logging"
)

func init() {
	disparity.RegisterBackend(disparity.KindClassical, disparity.Registration{
		Constructor: func(ctx context.Context, cfg disparity.Config, logger logging.Logger) (disparity.Backend, error) {
			return NewMatcher(ctx, cfg, logger)
		},
	})
}

// Matcher is the semi-global block matching backend. All working memory is allocated at
// creation and reused for every frame.
type Matcher struct {
	width, height int
	logger        logging.Logger
	core          *matcher

	equalizer  *equalizer
	eqL, eqR   []byte
	contrastOn bool

	// lazily allocated on the first filtered compute
	smoother     *smoother
	flipL, flipR []byte
	dispR, dispT []int16

	closed bool
}

// NewMatcher creates a matcher for cfg.Width x cfg.Height frames. A nil cfg.SGBM selects
// disparity.DefaultSGBMParams.
func NewMatcher(ctx context.Context, cfg disparity.Config, logger logging.Logger) (*Matcher, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	params := disparity.DefaultSGBMParams()
	if cfg.SGBM != nil {
		params = *cfg.SGBM
	}
	if err := params.Validate(); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "create sgbm", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, disparity.NewError(disparity.ClassConfig, "create sgbm",
			errors.Wrapf(disparity.ErrDimensionMismatch, "frame %dx%d", cfg.Width, cfg.Height))
	}
	logger = logging.OrBlank(logger, "sgbm")
	logger.Debugw("matcher configured", "mode", params.Mode.String(),
		"min_disparity", params.MinDisparity, "num_disparities", params.NumDisparities,
		"block_size", params.BlockSize)
	return &Matcher{
		width:  cfg.Width,
		height: cfg.Height,
		logger: logger,
		core:   newMatcher(cfg.Width, cfg.Height, params),
	}, nil
}

// Kind returns disparity.KindClassical.
func (m *Matcher) Kind() disparity.Kind {
	return disparity.KindClassical
}

// Size returns the frame size the matcher was created for.
func (m *Matcher) Size() (int, int) {
	return m.width, m.height
}

// Params returns the current matcher settings.
func (m *Matcher) Params() disparity.SGBMParams {
	return m.core.params
}

func (m *Matcher) checkOpen(op string) error {
	if m.closed {
		return disparity.NewError(disparity.ClassConfig, op, disparity.ErrClosed)
	}
	return nil
}

// UpdateParams changes the matcher settings in place. Invalid settings are rejected and leave
// the previous ones active.
func (m *Matcher) UpdateParams(params disparity.SGBMParams) error {
	if err := m.checkOpen("update params"); err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return disparity.NewError(disparity.ClassConfig, "update params", err)
	}
	m.core.setParams(params)
	m.logger.Debugw("matcher parameters updated", "mode", params.Mode.String(),
		"min_disparity", params.MinDisparity, "num_disparities", params.NumDisparities)
	return nil
}

// SetContrastEnhancement switches CLAHE preprocessing of both inputs on or off.
func (m *Matcher) SetContrastEnhancement(c disparity.Contrast) error {
	if err := m.checkOpen("set contrast"); err != nil {
		return err
	}
	if !c.Enabled {
		m.contrastOn = false
		return nil
	}
	eq, err := newEqualizer(m.width, m.height, c)
	if err != nil {
		return disparity.NewError(disparity.ClassConfig, "set contrast", err)
	}
	if m.equalizer != nil {
		if err := m.equalizer.Close(); err != nil {
			m.logger.Warnw("cannot release previous equalizer", "error", err)
		}
	}
	m.equalizer = eq
	if m.eqL == nil {
		m.eqL = make([]byte, m.width*m.height)
		m.eqR = make([]byte, m.width*m.height)
	}
	m.contrastOn = true
	return nil
}

// prepare validates a frame and returns the images to match.
func (m *Matcher) prepare(ctx context.Context, op string, left, right []byte, out []int16) ([]byte, []byte, error) {
	if err := m.checkOpen(op); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, disparity.NewError(disparity.ClassFrame, op, err)
	}
	if err := disparity.CheckBuffers(m.width, m.height, left, right, out); err != nil {
		return nil, nil, err
	}
	if !m.contrastOn {
		return left, right, nil
	}
	if err := m.equalizer.apply(m.eqL, left); err != nil {
		return nil, nil, disparity.NewError(disparity.ClassFrame, op, err)
	}
	if err := m.equalizer.apply(m.eqR, right); err != nil {
		return nil, nil, disparity.NewError(disparity.ClassFrame, op, err)
	}
	return m.eqL, m.eqR, nil
}

// Compute writes the Q4.4 disparity of the rectified pair into out.
func (m *Matcher) Compute(ctx context.Context, left, right []byte, out []int16) error {
	l, r, err := m.prepare(ctx, "compute", left, right, out)
	if err != nil {
		return err
	}
	m.core.match(l, r, out)
	return m.checkOutput("compute", out)
}

// ComputeFiltered matches the pair in both directions and fuses the results with an
// edge-aware smoother guided by the left image. Pixels the fusion cannot support stay invalid.
func (m *Matcher) ComputeFiltered(ctx context.Context, left, right []byte, out []int16, params disparity.WLSParams) error {
	if err := params.Validate(); err != nil {
		return disparity.NewError(disparity.ClassConfig, "compute filtered", err)
	}
	l, r, err := m.prepare(ctx, "compute filtered", left, right, out)
	if err != nil {
		return err
	}
	if m.smoother == nil {
		n := m.width * m.height
		m.smoother = newSmoother(m.width, m.height)
		m.flipL, m.flipR = make([]byte, n), make([]byte, n)
		m.dispR, m.dispT = make([]int16, n), make([]int16, n)
	}

	m.core.match(l, r, out)
	if err := m.checkOutput("compute filtered", out); err != nil {
		return err
	}
	// Mirroring both images and swapping them turns the right view into a left reference.
	flipRows(m.flipL, r, m.width, m.height)
	flipRows(m.flipR, l, m.width, m.height)
	m.core.match(m.flipL, m.flipR, m.dispT)
	flipRows(m.dispR, m.dispT, m.width, m.height)

	m.smoother.fuse(out, m.dispR, l, out, params)
	return m.checkOutput("compute filtered", out)
}

// checkOutput fails loudly if any value lies outside the configured search range.
func (m *Matcher) checkOutput(op string, out []int16) error {
	hi := m.core.params.MaxDisparity() * disparity.Scale
	for i, v := range out {
		if v < disparity.InvalidDisparity || int(v) > hi {
			return disparity.NewError(disparity.ClassFrame, op, errors.Errorf(
				"matcher produced disparity %d at pixel %d outside [%d, %d]", v, i, disparity.InvalidDisparity, hi))
		}
	}
	return nil
}

// Close releases the matcher. Later calls return disparity.ErrClosed.
func (m *Matcher) Close() error {
	if m.closed {
		return disparity.NewError(disparity.ClassConfig, "close", disparity.ErrClosed)
	}
	m.closed = true
	var err error
	if m.equalizer != nil {
		err = m.equalizer.Close()
		m.equalizer = nil
	}
	m.smoother = nil
	return err
}
