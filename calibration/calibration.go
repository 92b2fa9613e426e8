// Package calibration holds the stereo calibration record the depth pipeline is seeded from.
// The record is produced by an external calibration tool; this package only reads it.
package calibration

import (
	"encoding/json"
	"os"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/stereodepth/disparity"
)

// Metadata describes a calibrated, rectified stereo head.
type Metadata struct {
	// Width and Height are the rectified per-eye frame size. Zero means not recorded.
	Width  int `json:"width"`
	Height int `json:"height"`
	// MinDisparity and NumDisparities are the search window the calibration was tuned for.
	MinDisparity   int `json:"min_disparity"`
	NumDisparities int `json:"num_disparities"`
	// FocalLengthPx is the rectified focal length in pixels.
	FocalLengthPx float64 `json:"focal_length_px"`
	BaselineCm    float64 `json:"baseline_cm"`
}

// Validate checks the record.
func (m *Metadata) Validate() error {
	switch {
	case m == nil:
		return errors.Wrap(disparity.ErrInvalidParams, "no calibration metadata")
	case m.Width < 0 || m.Height < 0:
		return errors.Wrapf(disparity.ErrInvalidParams, "calibrated size %dx%d", m.Width, m.Height)
	case m.MinDisparity < 0:
		return errors.Wrapf(disparity.ErrInvalidParams, "min disparity %d must not be negative", m.MinDisparity)
	case m.NumDisparities <= 0 || m.NumDisparities%16 != 0:
		return errors.Wrapf(disparity.ErrInvalidParams,
			"num disparities %d must be a positive multiple of 16", m.NumDisparities)
	case m.FocalLengthPx <= 0:
		return errors.Wrapf(disparity.ErrInvalidParams, "focal length %v px must be positive", m.FocalLengthPx)
	case m.BaselineCm <= 0:
		return errors.Wrapf(disparity.ErrInvalidParams, "baseline %v cm must be positive", m.BaselineCm)
	}
	return nil
}

// Decode reads a record from a loosely typed attribute map, as found in JSON configs. Numbers
// given as strings are accepted and unknown keys are ignored.
func Decode(attrs map[string]interface{}) (*Metadata, error) {
	var m Metadata
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &m,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "calibration",
			errors.Wrap(err, "cannot decode calibration metadata"))
	}
	if err := m.Validate(); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "calibration", err)
	}
	return &m, nil
}

// ReadFile loads a JSON calibration record.
func ReadFile(path string) (*Metadata, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, disparity.NewError(disparity.ClassResource, "calibration",
			errors.Wrap(err, "error opening calibration file"))
	}
	var attrs map[string]interface{}
	if err := json.Unmarshal(data, &attrs); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "calibration",
			errors.Wrapf(err, "error parsing %s", path))
	}
	return Decode(attrs)
}

// WriteFile stores the record as indented JSON.
func (m *Metadata) WriteFile(path string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	return errors.Wrapf(os.WriteFile(path, data, 0o600), "cannot write %s", path)
}

// CheckSize reports a config error when the recorded size differs from the processed frame.
func (m *Metadata) CheckSize(width, height int) error {
	if m.Width == 0 && m.Height == 0 {
		return nil
	}
	if m.Width != width || m.Height != height {
		return disparity.NewError(disparity.ClassConfig, "calibration", errors.Wrapf(disparity.ErrDimensionMismatch,
			"calibrated for %dx%d, frames are %dx%d", m.Width, m.Height, width, height))
	}
	return nil
}

// ApplyTo seeds the search window of params.
func (m *Metadata) ApplyTo(params *disparity.SGBMParams) {
	params.MinDisparity = m.MinDisparity
	params.NumDisparities = m.NumDisparities
}

// Range returns the recorded search window.
func (m *Metadata) Range() disparity.Range {
	return disparity.Range{MinDisparity: m.MinDisparity, NumDisparities: m.NumDisparities}
}

// RangeForDepth derives the search window covering working distances [zNearCm, zFarCm].
func (m *Metadata) RangeForDepth(zNearCm, zFarCm float64) (disparity.Range, error) {
	return disparity.RangeFromDepth(zNearCm, zFarCm, m.FocalLengthPx, m.BaselineCm)
}

// DepthCm converts a Q4.4 disparity to centimetres; 0 for no match.
func (m *Metadata) DepthCm(q int16) float64 {
	return disparity.Depth(q, m.FocalLengthPx, m.BaselineCm)
}
