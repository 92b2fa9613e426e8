// Package pipeline runs the per-stream depth pipeline: rectify both eyes, compute disparity,
// post-filter, score confidence and stabilize over time.
//
// A Stream is owned by one goroutine. It spawns no goroutines, takes no locks and reuses the
// same buffers for every frame.
package pipeline

import (
	"context"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/stereodepth/calibration"
	"go.viam.com/stereodepth/confidence"
	"go.viam.com/stereodepth/disparity"
	// register the disparity backends.
	_ "go.viam.com/stereodepth/disparity/onnx"
	_ "go.viam.com/stereodepth/disparity/sgbm"
	"go.viam.com/stereodepth/logging"
	"go.viam.com/stereodepth/postfilter"
	"go.viam.com/stereodepth/rectify"
	"go.viam.com/stereodepth/temporal"
)

// newBackend is replaced in tests.
var newBackend = disparity.New

// Stream processes frames from one calibrated stereo head.
type Stream struct {
	width, height int
	logger        logging.Logger
	clock         clock.Clock

	leftTable, rightTable *rectify.Table
	backend               disparity.Backend
	wls                   *disparity.WLSParams
	estimator             *confidence.Estimator
	stabilizer            *temporal.Stabilizer
	chain                 *postfilter.Chain
	calibration           *calibration.Metadata
	search                disparity.Range

	frame  Frame
	count  uint64
	closed bool
}

// NewStream loads the rectification tables and creates every stage of the pipeline. Creation
// is all or nothing: on error nothing stays allocated.
func NewStream(ctx context.Context, cfg Config, logger logging.Logger) (s *Stream, err error) {
	if err := cfg.Validate("stream"); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "new stream", err)
	}
	logger = logging.OrBlank(logger, "stereodepth")
	kind, defaultModel, err := disparity.ParseKind(cfg.Backend)
	if err != nil {
		return nil, err
	}
	logger = logger.WithFields("backend", kind.String())

	s = &Stream{
		width:  cfg.Width,
		height: cfg.Height,
		logger: logger,
		clock:  clock.New(),
		wls:    cfg.WLS,
	}

	if s.calibration, err = loadCalibration(cfg); err != nil {
		return nil, err
	}
	if s.calibration != nil {
		if err := s.calibration.CheckSize(cfg.Width, cfg.Height); err != nil {
			return nil, err
		}
	}
	if s.leftTable, err = loadTable(cfg.LeftTable, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	if s.rightTable, err = loadTable(cfg.RightTable, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	params := s.seedParams(cfg)
	s.search = disparity.Range{MinDisparity: params.MinDisparity, NumDisparities: params.NumDisparities}
	backendCfg := disparity.Config{Kind: kind, Width: cfg.Width, Height: cfg.Height, SGBM: &params}
	if kind == disparity.KindNeural {
		model := cfg.ModelPath
		if model == "" {
			model = defaultModel
		}
		backendCfg.Neural = &disparity.NeuralParams{
			ModelPath:         model,
			SharedLibraryPath: cfg.SharedLibraryPath,
			IntraOpThreads:    cfg.IntraOpThreads,
		}
	}
	if s.backend, err = newBackend(ctx, backendCfg, logger.Sublogger("backend")); err != nil {
		return nil, err
	}
	backend := s.backend
	defer func() {
		if err != nil {
			err = multierr.Combine(err, backend.Close())
		}
	}()

	if cfg.Contrast != nil && cfg.Contrast.Enabled {
		if err := s.SetContrast(*cfg.Contrast); err != nil {
			return nil, err
		}
	}
	if s.wls != nil {
		if _, ok := s.backend.(disparity.FilteredComputer); !ok {
			return nil, disparity.NewError(disparity.ClassConfig, "new stream",
				errors.Wrapf(disparity.ErrNotSupported, "%s backend cannot fuse left-right disparities", kind))
		}
	}

	confParams := confidence.DefaultParams()
	if cfg.Confidence != nil {
		confParams = *cfg.Confidence
	}
	if s.estimator, err = confidence.NewEstimator(confParams); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "new stream", err)
	}
	if depth := cfg.temporalDepth(); depth > 0 {
		if s.stabilizer, err = temporal.New(cfg.Width, cfg.Height, depth); err != nil {
			return nil, err
		}
	}
	if cfg.PostFilter.Enabled() {
		if s.chain, err = postfilter.NewChain(cfg.Width, cfg.Height, cfg.PostFilter); err != nil {
			return nil, err
		}
	}

	s.frame = newFrame(cfg.Width, cfg.Height, s.stabilizer != nil)
	logger.Infow("stereo stream ready",
		"width", cfg.Width,
		"height", cfg.Height,
		"min_disparity", s.search.MinDisparity,
		"num_disparities", s.search.NumDisparities,
		"temporal_depth", cfg.temporalDepth(),
		"post_filter", cfg.PostFilter.Enabled(),
		"wls", s.wls != nil,
	)
	return s, nil
}

func loadCalibration(cfg Config) (*calibration.Metadata, error) {
	if cfg.CalibrationFile != "" {
		return calibration.ReadFile(cfg.CalibrationFile)
	}
	return cfg.Calibration, nil
}

func loadTable(path string, width, height int) (*rectify.Table, error) {
	table, err := rectify.Load(path)
	if err != nil {
		return nil, disparity.NewError(disparity.ClassResource, "load table", err)
	}
	if err := table.CheckSize(width, height); err != nil {
		return nil, disparity.NewError(disparity.ClassConfig, "load table", errors.Wrap(err, path))
	}
	return table, nil
}

// seedParams picks the matcher settings: explicit config first, then defaults narrowed to the
// calibrated search window.
func (s *Stream) seedParams(cfg Config) disparity.SGBMParams {
	if cfg.SGBM != nil {
		return *cfg.SGBM
	}
	params := disparity.DefaultSGBMParams()
	if s.calibration != nil {
		s.calibration.ApplyTo(&params)
	}
	return params
}

func (s *Stream) checkOpen(op string) error {
	if s.closed {
		return disparity.NewError(disparity.ClassConfig, op, disparity.ErrClosed)
	}
	return nil
}

// Size returns the frame size the stream was created for.
func (s *Stream) Size() (int, int) {
	return s.width, s.height
}

// Kind returns the kind of the stream's disparity backend.
func (s *Stream) Kind() disparity.Kind {
	return s.backend.Kind()
}

// Calibration returns the stream's calibration record, or nil.
func (s *Stream) Calibration() *calibration.Metadata {
	return s.calibration
}

// SearchRange returns the disparity window frames are colorized against.
func (s *Stream) SearchRange() disparity.Range {
	return s.search
}

// Process runs one raw grayscale pair through the pipeline. The returned Frame and every slice
// it exposes stay valid until the next call to Process, successful or not.
//
// A failed disparity computation returns a frame-class error; confidence and stabilizer state
// are left untouched and the caller should simply wait for the next frame.
func (s *Stream) Process(ctx context.Context, leftRaw, rightRaw []byte) (*Frame, error) {
	if err := s.checkOpen("process"); err != nil {
		return nil, err
	}
	s.count++
	f := &s.frame
	f.Number = s.count
	f.SceneChange = false
	f.Timings = Timings{}
	start := s.clock.Now()
	mark := start
	lap := func() time.Duration {
		now := s.clock.Now()
		d := now.Sub(mark)
		mark = now
		return d
	}

	if err := s.rectify(leftRaw, rightRaw); err != nil {
		return nil, s.frameFailed("rectify", err)
	}
	f.Timings.Rectify = lap()

	if err := s.compute(ctx); err != nil {
		return nil, s.frameFailed("compute", err)
	}
	f.Timings.Compute = lap()

	if s.chain != nil {
		if err := s.chain.Apply(f.Disparity, f.Left); err != nil {
			return nil, s.frameFailed("postfilter", err)
		}
		f.Timings.PostFilter = lap()
	}

	if err := s.estimator.Compute(f.Disparity, f.Left, s.width, s.height, f.Confidence); err != nil {
		return nil, s.frameFailed("confidence", err)
	}
	f.Timings.Confidence = lap()

	if s.stabilizer != nil {
		if err := s.stabilizer.Push(f.Disparity, f.Stabilized); err != nil {
			return nil, s.frameFailed("temporal", err)
		}
		f.SceneChange = s.stabilizer.LastSceneChange()
		f.Timings.Temporal = lap()
	}
	f.Timings.Total = s.clock.Since(start)
	f.Search = s.search
	f.calibration = s.calibration

	s.logger.Debugw("frame processed",
		"frame", f.Number,
		"rectify", f.Timings.Rectify,
		"compute", f.Timings.Compute,
		"postfilter", f.Timings.PostFilter,
		"confidence", f.Timings.Confidence,
		"temporal", f.Timings.Temporal,
		"total", f.Timings.Total,
		"scene_change", f.SceneChange,
	)
	return f, nil
}

func (s *Stream) rectify(leftRaw, rightRaw []byte) error {
	if err := s.leftTable.ApplyGray(s.frame.Left, leftRaw); err != nil {
		return errors.Wrap(err, "left")
	}
	return errors.Wrap(s.rightTable.ApplyGray(s.frame.Right, rightRaw), "right")
}

func (s *Stream) compute(ctx context.Context) error {
	f := &s.frame
	if s.wls != nil {
		if fc, ok := s.backend.(disparity.FilteredComputer); ok {
			return fc.ComputeFiltered(ctx, f.Left, f.Right, f.Disparity, *s.wls)
		}
	}
	return s.backend.Compute(ctx, f.Left, f.Right, f.Disparity)
}

// frameFailed logs and classifies a per-frame failure, leaving the output buffers marked
// unusable.
func (s *Stream) frameFailed(stage string, err error) error {
	disparity.Fill(s.frame.Disparity)
	s.logger.Warnw("frame failed", "frame", s.count, "stage", stage, "error", err)
	if disparity.ClassOf(err) == 0 {
		err = disparity.NewError(disparity.ClassFrame, stage, err)
	}
	return err
}

// UpdateSGBM changes the classical matcher settings in place. Neural streams return a config
// error wrapping disparity.ErrNotSupported.
func (s *Stream) UpdateSGBM(params disparity.SGBMParams) error {
	if err := s.checkOpen("update sgbm"); err != nil {
		return err
	}
	if err := s.backend.UpdateParams(params); err != nil {
		return err
	}
	s.search = disparity.Range{MinDisparity: params.MinDisparity, NumDisparities: params.NumDisparities}
	s.logger.Infow("matcher parameters updated", "params", params)
	return nil
}

// SetContrast switches adaptive contrast enhancement of the rectified pair.
func (s *Stream) SetContrast(c disparity.Contrast) error {
	if err := s.checkOpen("set contrast"); err != nil {
		return err
	}
	enhancer, ok := s.backend.(disparity.ContrastEnhancer)
	if !ok {
		return disparity.NewError(disparity.ClassConfig, "set contrast",
			errors.Wrapf(disparity.ErrNotSupported, "%s backend has no contrast enhancement", s.backend.Kind()))
	}
	return enhancer.SetContrastEnhancement(c)
}

// SetFiltering switches left-right fusion on with params, or off when params is nil.
func (s *Stream) SetFiltering(params *disparity.WLSParams) error {
	if err := s.checkOpen("set filtering"); err != nil {
		return err
	}
	if params == nil {
		s.wls = nil
		return nil
	}
	if _, ok := s.backend.(disparity.FilteredComputer); !ok {
		return disparity.NewError(disparity.ClassConfig, "set filtering",
			errors.Wrapf(disparity.ErrNotSupported, "%s backend cannot fuse left-right disparities", s.backend.Kind()))
	}
	if err := params.Validate(); err != nil {
		return disparity.NewError(disparity.ClassConfig, "set filtering", err)
	}
	p := *params
	s.wls = &p
	return nil
}

// ResetTemporal drops the stabilizer history.
func (s *Stream) ResetTemporal() {
	if s.stabilizer != nil {
		s.stabilizer.Reset()
	}
}

// Close releases the backend. Further calls return disparity.ErrClosed.
func (s *Stream) Close() error {
	if err := s.checkOpen("close"); err != nil {
		return err
	}
	s.closed = true
	return errors.Wrap(s.backend.Close(), "close backend")
}
