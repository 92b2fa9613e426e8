package disparity

import (
	"strings"

	"github.com/pkg/errors"
)

// Mode selects the semi-global matching variant, i.e. which aggregation paths are used.
type Mode int

const (
	// ModeSGBM aggregates along five paths in a single top-down sweep.
	ModeSGBM Mode = iota
	// ModeHH aggregates along all eight paths (two sweeps).
	ModeHH
	// ModeSGBM3Way aggregates along left, right and top paths only.
	ModeSGBM3Way
	// ModeHH4 aggregates along the four axis-aligned paths.
	ModeHH4
)

func (m Mode) String() string {
	switch m {
	case ModeSGBM:
		return "sgbm"
	case ModeHH:
		return "hh"
	case ModeSGBM3Way:
		return "sgbm3way"
	case ModeHH4:
		return "hh4"
	default:
		return "unknown"
	}
}

// MarshalText encodes the mode by name.
func (m Mode) MarshalText() ([]byte, error) {
	if m < ModeSGBM || m > ModeHH4 {
		return nil, errors.Wrapf(ErrInvalidParams, "unknown mode %d", int(m))
	}
	return []byte(m.String()), nil
}

// UnmarshalText decodes a mode name such as "hh".
func (m *Mode) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for mode := ModeSGBM; mode <= ModeHH4; mode++ {
		if mode.String() == name {
			*m = mode
			return nil
		}
	}
	return errors.Wrapf(ErrInvalidParams, "unknown mode %q", text)
}

// maxSearchDisparity keeps every refined disparity representable in int16 Q4.4.
const maxSearchDisparity = 2048

// SGBMParams configures the classical semi-global block matcher.
type SGBMParams struct {
	MinDisparity   int `json:"min_disparity"`
	NumDisparities int `json:"num_disparities"`
	BlockSize      int `json:"block_size"`
	// P1 and P2 are the smoothness penalties for disparity changes of one and of more than one
	// pixel between neighbours. Zero derives them from BlockSize.
	P1 int `json:"p1"`
	P2 int `json:"p2"`
	// Disp12MaxDiff is the maximum allowed left-right disagreement in whole pixels; -1 disables
	// the check.
	Disp12MaxDiff     int  `json:"disp12_max_diff"`
	PreFilterCap      int  `json:"pre_filter_cap"`
	UniquenessRatio   int  `json:"uniqueness_ratio"`
	SpeckleWindowSize int  `json:"speckle_window_size"`
	SpeckleRange      int  `json:"speckle_range"`
	Mode              Mode `json:"mode"`
}

// DefaultSGBMParams returns parameters suited to a 640x400-class industrial stereo head.
func DefaultSGBMParams() SGBMParams {
	return SGBMParams{
		MinDisparity:      0,
		NumDisparities:    128,
		BlockSize:         5,
		Disp12MaxDiff:     1,
		PreFilterCap:      63,
		UniquenessRatio:   10,
		SpeckleWindowSize: 100,
		SpeckleRange:      2,
		Mode:              ModeSGBM,
	}
}

// Validate checks the parameters without deriving anything.
func (p SGBMParams) Validate() error {
	switch {
	case p.MinDisparity < 0:
		return errors.Wrapf(ErrInvalidParams, "min disparity %d must not be negative", p.MinDisparity)
	case p.NumDisparities <= 0 || p.NumDisparities%16 != 0:
		return errors.Wrapf(ErrInvalidParams, "num disparities %d must be a positive multiple of 16", p.NumDisparities)
	case p.MaxDisparity() > maxSearchDisparity:
		return errors.Wrapf(ErrInvalidParams, "search range ends at %d, Q4.4 output allows at most %d",
			p.MaxDisparity(), maxSearchDisparity)
	case p.BlockSize < 1 || p.BlockSize%2 == 0:
		return errors.Wrapf(ErrInvalidParams, "block size %d must be odd and >= 1", p.BlockSize)
	case p.P1 < 0 || p.P2 < 0:
		return errors.Wrapf(ErrInvalidParams, "penalties (%d, %d) must not be negative", p.P1, p.P2)
	case p.P1 != 0 && p.P2 != 0 && p.P2 <= p.P1:
		return errors.Wrapf(ErrInvalidParams, "p2 %d must be greater than p1 %d", p.P2, p.P1)
	case p.Disp12MaxDiff < -1:
		return errors.Wrapf(ErrInvalidParams, "disp12 max diff %d must be >= -1", p.Disp12MaxDiff)
	case p.PreFilterCap < 1 || p.PreFilterCap > 63:
		return errors.Wrapf(ErrInvalidParams, "pre-filter cap %d must be in [1, 63]", p.PreFilterCap)
	case p.UniquenessRatio < 0 || p.UniquenessRatio >= 100:
		return errors.Wrapf(ErrInvalidParams, "uniqueness ratio %d must be in [0, 100)", p.UniquenessRatio)
	case p.SpeckleWindowSize < 0 || p.SpeckleRange < 0:
		return errors.Wrapf(ErrInvalidParams, "speckle window %d and range %d must not be negative",
			p.SpeckleWindowSize, p.SpeckleRange)
	case p.Mode < ModeSGBM || p.Mode > ModeHH4:
		return errors.Wrapf(ErrInvalidParams, "unknown mode %d", p.Mode)
	}
	return nil
}

// Penalties returns the effective smoothness penalties. A zero P1 becomes 8*BlockSize^2 and a
// zero P2 becomes 32*BlockSize^2. P2 is raised to P1+1 if needed.
func (p SGBMParams) Penalties() (int, int) {
	area := p.BlockSize * p.BlockSize
	p1, p2 := p.P1, p.P2
	if p1 == 0 {
		p1 = 8 * area
	}
	if p2 == 0 {
		p2 = 32 * area
	}
	if p2 <= p1 {
		p2 = p1 + 1
	}
	return p1, p2
}

// MaxDisparity is the exclusive upper bound of the search range in whole pixels.
func (p SGBMParams) MaxDisparity() int {
	return p.MinDisparity + p.NumDisparities
}

// NeuralParams configures the neural inference backend.
type NeuralParams struct {
	ModelPath string `json:"model_path"`
	// SharedLibraryPath locates the onnxruntime library. Empty falls back to the
	// ONNXRUNTIME_SHARED_LIBRARY_PATH environment variable, then the platform default.
	SharedLibraryPath string `json:"shared_library_path"`
	IntraOpThreads    int    `json:"intra_op_threads"`
}

// Validate checks that a model is named.
func (p NeuralParams) Validate() error {
	if p.ModelPath == "" {
		return ErrMissingModelPath
	}
	if p.IntraOpThreads < 0 {
		return errors.Wrapf(ErrInvalidParams, "intra-op threads %d must not be negative", p.IntraOpThreads)
	}
	return nil
}

// Contrast configures adaptive histogram equalization of the rectified inputs.
type Contrast struct {
	Enabled   bool    `json:"enabled"`
	ClipLimit float64 `json:"clip_limit"`
	TileGrid  int     `json:"tile_grid"`
}

// DefaultContrast returns the contrast settings used when enhancement is switched on.
func DefaultContrast() Contrast {
	return Contrast{Enabled: true, ClipLimit: 2.0, TileGrid: 8}
}

// WLSParams configures the edge-aware left-right disparity fusion.
type WLSParams struct {
	// Lambda is the smoothness strength.
	Lambda float64 `json:"lambda"`
	// SigmaColor is the guide-image intensity difference at which smoothing falls off.
	SigmaColor float64 `json:"sigma_color"`
	// Iterations is the number of horizontal+vertical smoothing sweeps.
	Iterations int `json:"iterations"`
	// LRCThreshold is the left-right consistency tolerance in Q4.4 units.
	LRCThreshold int `json:"lrc_threshold"`
}

// DefaultWLSParams returns commonly used fusion settings.
func DefaultWLSParams() WLSParams {
	return WLSParams{Lambda: 8000, SigmaColor: 12, Iterations: 3, LRCThreshold: 24}
}

// Validate checks the fusion settings.
func (p WLSParams) Validate() error {
	if p.Lambda <= 0 || p.SigmaColor <= 0 || p.Iterations < 1 || p.LRCThreshold < 0 {
		return errors.Wrapf(ErrInvalidParams, "wls lambda %v sigma %v iterations %d lrc %d",
			p.Lambda, p.SigmaColor, p.Iterations, p.LRCThreshold)
	}
	return nil
}
