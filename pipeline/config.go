package pipeline

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/stereodepth/calibration"
	"go.viam.com/stereodepth/confidence"
	"go.viam.com/stereodepth/disparity"
	"go.viam.com/stereodepth/postfilter"
)

// DefaultTemporalDepth is the history length used when TemporalDepth is zero.
const DefaultTemporalDepth = 5

// Config describes one stereo stream.
type Config struct {
	// Backend is a name accepted by disparity.ParseKind.
	Backend string `json:"backend"`
	// ModelPath overrides the default model of a neural alias; required for "onnx".
	ModelPath         string `json:"model_path,omitempty"`
	SharedLibraryPath string `json:"onnxruntime_library,omitempty"`
	IntraOpThreads    int    `json:"intra_op_threads,omitempty"`

	LeftTable  string `json:"left_table"`
	RightTable string `json:"right_table"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`

	// SGBM overrides the matcher settings. When nil, defaults are seeded from the calibration.
	SGBM     *disparity.SGBMParams `json:"sgbm,omitempty"`
	Contrast *disparity.Contrast   `json:"contrast,omitempty"`
	// WLS switches on left-right fusion for backends that offer it.
	WLS *disparity.WLSParams `json:"wls,omitempty"`

	// TemporalDepth is the stabilizer history; zero selects DefaultTemporalDepth and a negative
	// value disables stabilization.
	TemporalDepth int                 `json:"temporal_depth,omitempty"`
	Confidence    *confidence.Params  `json:"confidence,omitempty"`
	PostFilter    postfilter.Settings `json:"post_filter"`

	Calibration     *calibration.Metadata `json:"calibration,omitempty"`
	CalibrationFile string                `json:"calibration_file,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (cfg *Config) Validate(path string) error {
	if cfg.Backend == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "backend")
	}
	kind, defaultModel, err := disparity.ParseKind(cfg.Backend)
	if err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if kind == disparity.KindNeural && cfg.ModelPath == "" && defaultModel == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "model_path")
	}
	if cfg.LeftTable == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "left_table")
	}
	if cfg.RightTable == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "right_table")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return utils.NewConfigValidationError(path,
			errors.Wrapf(disparity.ErrDimensionMismatch, "frame size %dx%d", cfg.Width, cfg.Height))
	}
	if cfg.TemporalDepth == 1 {
		return utils.NewConfigValidationError(path,
			errors.Wrap(disparity.ErrInvalidParams, "temporal_depth must be at least 2"))
	}
	if cfg.IntraOpThreads < 0 {
		return utils.NewConfigValidationError(path,
			errors.Wrapf(disparity.ErrInvalidParams, "intra_op_threads %d", cfg.IntraOpThreads))
	}
	if cfg.Calibration != nil && cfg.CalibrationFile != "" {
		return utils.NewConfigValidationError(path, errors.New("set only one of calibration and calibration_file"))
	}

	for _, check := range []struct {
		set      bool
		validate func() error
	}{
		{cfg.SGBM != nil, func() error { return cfg.SGBM.Validate() }},
		{cfg.WLS != nil, func() error { return cfg.WLS.Validate() }},
		{cfg.Confidence != nil, func() error { return cfg.Confidence.Validate() }},
		{cfg.Calibration != nil, func() error { return cfg.Calibration.Validate() }},
		{cfg.Contrast != nil && cfg.Contrast.Enabled, func() error { return validateContrast(*cfg.Contrast) }},
		{true, cfg.PostFilter.Validate},
	} {
		if !check.set {
			continue
		}
		if err := check.validate(); err != nil {
			return utils.NewConfigValidationError(path, err)
		}
	}
	return nil
}

func validateContrast(c disparity.Contrast) error {
	if c.ClipLimit <= 0 || c.TileGrid < 1 {
		return errors.Wrapf(disparity.ErrInvalidParams, "contrast clip limit %v tile grid %d", c.ClipLimit, c.TileGrid)
	}
	return nil
}

// temporalDepth resolves the configured history length; 0 means disabled.
func (cfg *Config) temporalDepth() int {
	switch {
	case cfg.TemporalDepth == 0:
		return DefaultTemporalDepth
	case cfg.TemporalDepth < 0:
		return 0
	default:
		return cfg.TemporalDepth
	}
}

// ConfigFromAttributes decodes a loosely typed attribute map, such as a parsed JSON or YAML
// document, into a Config. Mode names like "hh" and numbers given as strings are accepted.
func ConfigFromAttributes(attrs map[string]interface{}) (*Config, error) {
	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &cfg,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attrs); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "config", errors.Wrap(err, "cannot decode stream config"))
	}
	return &cfg, nil
}
