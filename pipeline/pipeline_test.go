package pipeline

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"go.viam.com/stereodepth/calibration"
	"go.viam.com/stereodepth/confidence"
	"go.viam.com/stereodepth/disparity"
	"go.viam.com/stereodepth/logging"
	"go.viam.com/stereodepth/postfilter"
	"go.viam.com/stereodepth/rectify"
	"go.viam.com/stereodepth/testutils"
)

const computeStep = 7 * time.Millisecond

// fakeBackend writes left/16 pixels of disparity for every pixel and advances a mock clock.
type fakeBackend struct {
	kind          disparity.Kind
	width, height int
	clk           *clock.Mock
	fail          error
	computes      int
	filtered      int
	updates       []disparity.SGBMParams
	contrast      []disparity.Contrast
	closed        int
}

func (f *fakeBackend) Kind() disparity.Kind { return f.kind }

func (f *fakeBackend) Size() (int, int) { return f.width, f.height }

func (f *fakeBackend) Compute(ctx context.Context, left, right []byte, out []int16) error {
	f.computes++
	if f.clk != nil {
		f.clk.Add(computeStep)
	}
	if f.fail != nil {
		for i := range out {
			out[i] = 999
		}
		return f.fail
	}
	for i, v := range left {
		out[i] = int16(v)
	}
	return nil
}

func (f *fakeBackend) UpdateParams(params disparity.SGBMParams) error {
	if f.kind == disparity.KindNeural {
		return disparity.NewError(disparity.ClassConfig, "update", disparity.ErrNotSupported)
	}
	if err := params.Validate(); err != nil {
		return disparity.NewError(disparity.ClassConfig, "update", err)
	}
	f.updates = append(f.updates, params)
	return nil
}

func (f *fakeBackend) Close() error {
	f.closed++
	return nil
}

// enhancedBackend adds the optional classical capabilities.
type enhancedBackend struct {
	*fakeBackend
}

func (e enhancedBackend) SetContrastEnhancement(c disparity.Contrast) error {
	e.contrast = append(e.contrast, c)
	return nil
}

func (e enhancedBackend) ComputeFiltered(
	ctx context.Context, left, right []byte, out []int16, params disparity.WLSParams,
) error {
	e.filtered++
	return e.Compute(ctx, left, right, out)
}

// withBackend makes NewStream create fake for the duration of the test.
func withBackend(t *testing.T, backend disparity.Backend, err error) {
	t.Helper()
	old := newBackend
	newBackend = func(ctx context.Context, cfg disparity.Config, logger logging.Logger) (disparity.Backend, error) {
		if err != nil {
			return nil, err
		}
		return backend, nil
	}
	t.Cleanup(func() { newBackend = old })
}

func testConfig(t *testing.T, width, height int) Config {
	t.Helper()
	dir := t.TempDir()
	return Config{
		Backend:    "sgbm",
		LeftTable:  testutils.WriteTable(t, dir, "left.rmap", testutils.IdentityTable(t, width, height)),
		RightTable: testutils.WriteTable(t, dir, "right.rmap", testutils.IdentityTable(t, width, height)),
		Width:      width,
		Height:     height,
	}
}

func ramp(width, height int) []byte {
	img := make([]byte, width*height)
	for i := range img {
		img[i] = byte(16 + 8*(i%width))
	}
	return img
}

func TestConfigValidate(t *testing.T) {
	base := Config{Backend: "sgbm", LeftTable: "l", RightTable: "r", Width: 64, Height: 32}
	test.That(t, base.Validate("stream"), test.ShouldBeNil)

	for _, tc := range []struct {
		mutate func(*Config)
		want   string
	}{
		{func(c *Config) { c.Backend = "" }, "backend"},
		{func(c *Config) { c.Backend = "bm" }, "unknown disparity backend"},
		{func(c *Config) { c.Backend = "onnx" }, "model_path"},
		{func(c *Config) { c.LeftTable = "" }, "left_table"},
		{func(c *Config) { c.RightTable = "" }, "right_table"},
		{func(c *Config) { c.Height = 0 }, "frame size"},
		{func(c *Config) { c.TemporalDepth = 1 }, "temporal_depth"},
		{func(c *Config) { c.IntraOpThreads = -1 }, "intra_op_threads"},
		{func(c *Config) { c.SGBM = &disparity.SGBMParams{NumDisparities: 20} }, "num disparities"},
		{func(c *Config) { c.WLS = &disparity.WLSParams{} }, "wls"},
		{func(c *Config) { c.Confidence = &confidence.Params{} }, "confidence"},
		{func(c *Config) { c.Contrast = &disparity.Contrast{Enabled: true} }, "contrast"},
		{func(c *Config) { c.PostFilter.MedianRadius = 99 }, "radius"},
		{func(c *Config) { c.Calibration = &calibration.Metadata{} }, "num disparities"},
		{func(c *Config) {
			c.Calibration = &calibration.Metadata{NumDisparities: 16, FocalLengthPx: 1, BaselineCm: 1}
			c.CalibrationFile = "cal.json"
		}, "only one"},
	} {
		cfg := base
		tc.mutate(&cfg)
		err := cfg.Validate("stream")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, tc.want)
	}

	alias := base
	alias.Backend = "HITNET"
	test.That(t, alias.Validate("stream"), test.ShouldBeNil)
	disabled := base
	disabled.Contrast = &disparity.Contrast{}
	test.That(t, disabled.Validate("stream"), test.ShouldBeNil)

	test.That(t, base.temporalDepth(), test.ShouldEqual, DefaultTemporalDepth)
	base.TemporalDepth = -1
	test.That(t, base.temporalDepth(), test.ShouldEqual, 0)
	base.TemporalDepth = 3
	test.That(t, base.temporalDepth(), test.ShouldEqual, 3)
}

func TestConfigFromAttributes(t *testing.T) {
	cfg, err := ConfigFromAttributes(map[string]interface{}{
		"backend":     "sgbm",
		"left_table":  "tables/left.rmap",
		"right_table": "tables/right.rmap",
		"width":       "640",
		"height":      400,
		"sgbm": map[string]interface{}{
			"num_disparities": 64,
			"block_size":      "7",
			"pre_filter_cap":  31,
			"mode":            "hh",
		},
		"wls":            map[string]interface{}{"lambda": 8000.0, "sigma_color": "1.5", "iterations": 3},
		"temporal_depth": 4,
		"post_filter":    map[string]interface{}{"median_radius": 2, "close_radius": "1"},
		"calibration": map[string]interface{}{
			"num_disparities": 96, "focal_length_px": 1000.0, "baseline_cm": 6,
		},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Width, test.ShouldEqual, 640)
	test.That(t, cfg.Height, test.ShouldEqual, 400)
	test.That(t, cfg.SGBM, test.ShouldNotBeNil)
	test.That(t, cfg.SGBM.BlockSize, test.ShouldEqual, 7)
	test.That(t, cfg.SGBM.Mode, test.ShouldEqual, disparity.ModeHH)
	test.That(t, cfg.WLS.SigmaColor, test.ShouldEqual, 1.5)
	test.That(t, cfg.PostFilter, test.ShouldResemble, postfilter.Settings{MedianRadius: 2, CloseRadius: 1})
	test.That(t, cfg.Calibration.BaselineCm, test.ShouldEqual, 6.0)
	test.That(t, cfg.Contrast, test.ShouldBeNil)

	test.That(t, cfg.Validate("stream"), test.ShouldBeNil)

	_, err = ConfigFromAttributes(map[string]interface{}{"sgbm": map[string]interface{}{"mode": "fast"}})
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
	_, err = ConfigFromAttributes(map[string]interface{}{"width": map[string]interface{}{"px": 640}})
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
}

func TestNewStreamFailures(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	cfg := testConfig(t, 8, 6)
	cfg.LeftTable = filepath.Join(t.TempDir(), "missing.rmap")
	_, err := NewStream(ctx, cfg, logger)
	test.That(t, disparity.IsResource(err), test.ShouldBeTrue)

	cfg = testConfig(t, 8, 6)
	cfg.RightTable = testutils.WriteTable(t, t.TempDir(), "small.rmap", testutils.IdentityTable(t, 4, 6))
	_, err = NewStream(ctx, cfg, logger)
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, rectify.ErrSizeMismatch), test.ShouldBeTrue)

	cfg = testConfig(t, 8, 6)
	cfg.Calibration = &calibration.Metadata{Width: 16, Height: 6, NumDisparities: 16, FocalLengthPx: 1, BaselineCm: 1}
	_, err = NewStream(ctx, cfg, logger)
	test.That(t, errors.Is(err, disparity.ErrDimensionMismatch), test.ShouldBeTrue)

	cfg = testConfig(t, 8, 6)
	cfg.Backend = ""
	_, err = NewStream(ctx, cfg, logger)
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)

	createErr := disparity.NewError(disparity.ClassResource, "create", errors.New("no accelerator"))
	withBackend(t, nil, createErr)
	_, err = NewStream(ctx, testConfig(t, 8, 6), logger)
	test.That(t, err, test.ShouldEqual, createErr)
}

func TestNewStreamReleasesBackend(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	// A neural backend has neither contrast enhancement nor fusion.
	plain := &fakeBackend{kind: disparity.KindNeural, width: 8, height: 6}
	withBackend(t, plain, nil)

	cfg := testConfig(t, 8, 6)
	contrast := disparity.DefaultContrast()
	cfg.Contrast = &contrast
	s, err := NewStream(ctx, cfg, logger)
	test.That(t, s, test.ShouldBeNil)
	test.That(t, errors.Is(err, disparity.ErrNotSupported), test.ShouldBeTrue)
	test.That(t, plain.closed, test.ShouldEqual, 1)

	cfg = testConfig(t, 8, 6)
	wls := disparity.DefaultWLSParams()
	cfg.WLS = &wls
	_, err = NewStream(ctx, cfg, logger)
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
	test.That(t, plain.closed, test.ShouldEqual, 2)
}

func newFakeStream(t *testing.T, cfg Config, backend disparity.Backend) (*Stream, *clock.Mock) {
	t.Helper()
	withBackend(t, backend, nil)
	s, err := NewStream(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	mock := clock.NewMock()
	s.clock = mock
	return s, mock
}

func TestProcess(t *testing.T) {
	const w, h = 8, 6
	fake := &fakeBackend{kind: disparity.KindClassical, width: w, height: h}
	cfg := testConfig(t, w, h)
	cfg.TemporalDepth = 3
	s, mock := newFakeStream(t, cfg, enhancedBackend{fake})
	fake.clk = mock

	left := ramp(w, h)
	right := make([]byte, w*h)
	frame, err := s.Process(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Number, test.ShouldEqual, uint64(1))
	test.That(t, frame.Left, test.ShouldResemble, left)
	test.That(t, frame.Right, test.ShouldResemble, right)
	test.That(t, frame.Disparity[3], test.ShouldEqual, int16(left[3]))
	test.That(t, frame.Stabilized, test.ShouldResemble, frame.Disparity)
	test.That(t, frame.Timings.Compute, test.ShouldEqual, computeStep)
	test.That(t, frame.Timings.Total, test.ShouldEqual, computeStep)
	test.That(t, frame.Timings.Rectify, test.ShouldEqual, time.Duration(0))
	test.That(t, frame.Search, test.ShouldResemble, disparity.Range{MinDisparity: 0, NumDisparities: 128})

	want, err := confidence.NewEstimator(confidence.DefaultParams())
	test.That(t, err, test.ShouldBeNil)
	wantConf, err := want.ComputeNew(frame.Disparity, left, w, h)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Confidence, test.ShouldResemble, wantConf)

	// The second frame is brighter by 2; the median of two frames averages them.
	for i := range left {
		left[i] += 2
	}
	frame, err = s.Process(context.Background(), left, right)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Number, test.ShouldEqual, uint64(2))
	test.That(t, frame.Stabilized[3], test.ShouldEqual, int16(left[3])-1)
	test.That(t, s.stabilizer.Len(), test.ShouldEqual, 2)

	s.ResetTemporal()
	test.That(t, s.stabilizer.Len(), test.ShouldEqual, 0)
	test.That(t, fake.filtered, test.ShouldEqual, 0)
}

func TestComputeFailureIsolatesDownstream(t *testing.T) {
	const w, h = 8, 6
	fake := &fakeBackend{kind: disparity.KindClassical, width: w, height: h}
	logger, logs := logging.NewObservedTestLogger(t)
	withBackend(t, fake, nil)
	s, err := NewStream(context.Background(), testConfig(t, w, h), logger)
	test.That(t, err, test.ShouldBeNil)

	left := ramp(w, h)
	_, err = s.Process(context.Background(), left, left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.stabilizer.Len(), test.ShouldEqual, 1)
	before := append([]byte(nil), s.frame.Confidence...)

	fake.fail = errors.New("device lost")
	frame, err := s.Process(context.Background(), left, left)
	test.That(t, frame, test.ShouldBeNil)
	test.That(t, disparity.IsFrame(err), test.ShouldBeTrue)
	test.That(t, s.stabilizer.Len(), test.ShouldEqual, 1)
	test.That(t, s.frame.Confidence, test.ShouldResemble, before)
	for _, q := range s.frame.Disparity {
		test.That(t, q, test.ShouldEqual, disparity.InvalidDisparity)
	}
	failed := logs.FilterMessage("frame failed")
	test.That(t, failed.Len(), test.ShouldEqual, 1)
	test.That(t, failed.All()[0].ContextMap()["stage"], test.ShouldEqual, "compute")
	test.That(t, failed.All()[0].ContextMap()["backend"], test.ShouldEqual, "sgbm")

	// Recoverable: the next frame goes through.
	fake.fail = nil
	frame, err = s.Process(context.Background(), left, left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Number, test.ShouldEqual, uint64(3))
	test.That(t, s.stabilizer.Len(), test.ShouldEqual, 2)

	// Badly sized input never reaches the backend.
	computes := fake.computes
	_, err = s.Process(context.Background(), left[1:], left)
	test.That(t, disparity.IsFrame(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, rectify.ErrSizeMismatch), test.ShouldBeTrue)
	test.That(t, fake.computes, test.ShouldEqual, computes)
}

func TestRectifiedSentinel(t *testing.T) {
	const w, h = 4, 2
	cfg := testConfig(t, w, h)
	offsets := []uint32{1, 0, rectify.Sentinel, 3, 4, 5, 6, 7}
	table, err := rectify.NewTable(w, h, offsets)
	test.That(t, err, test.ShouldBeNil)
	cfg.LeftTable = testutils.WriteTable(t, t.TempDir(), "left.rmap", table)
	cfg.TemporalDepth = -1
	s, _ := newFakeStream(t, cfg, &fakeBackend{width: w, height: h})

	raw := []byte{10, 20, 30, 40, 50, 60, 70, 80}
	frame, err := s.Process(context.Background(), raw, raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Left, test.ShouldResemble, []byte{20, 10, 0, 40, 50, 60, 70, 80})
	test.That(t, frame.Right, test.ShouldResemble, raw)
	// Without stabilization the stabilized view is the disparity itself.
	test.That(t, &frame.Stabilized[0], test.ShouldEqual, &frame.Disparity[0])
	test.That(t, s.stabilizer, test.ShouldBeNil)
}

func TestPostFilterStage(t *testing.T) {
	const w, h = 8, 6
	cfg := testConfig(t, w, h)
	cfg.PostFilter = postfilter.Settings{SpecularThreshold: 200}
	fake := &fakeBackend{width: w, height: h}
	s, mock := newFakeStream(t, cfg, fake)
	fake.clk = mock

	left := ramp(w, h)
	left[10] = 250
	frame, err := s.Process(context.Background(), left, left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, frame.Disparity[10], test.ShouldEqual, disparity.InvalidDisparity)
	test.That(t, frame.Confidence[10], test.ShouldEqual, byte(0))
	test.That(t, frame.Disparity[11], test.ShouldEqual, int16(left[11]))
	test.That(t, frame.Timings.Total, test.ShouldEqual, computeStep)
}

func TestStreamControls(t *testing.T) {
	const w, h = 8, 6
	fake := &fakeBackend{kind: disparity.KindClassical, width: w, height: h}
	s, _ := newFakeStream(t, testConfig(t, w, h), enhancedBackend{fake})
	test.That(t, s.Kind(), test.ShouldEqual, disparity.KindClassical)
	gotW, gotH := s.Size()
	test.That(t, []int{gotW, gotH}, test.ShouldResemble, []int{w, h})

	params := disparity.DefaultSGBMParams()
	params.MinDisparity, params.NumDisparities = 8, 32
	test.That(t, s.UpdateSGBM(params), test.ShouldBeNil)
	test.That(t, fake.updates, test.ShouldResemble, []disparity.SGBMParams{params})
	test.That(t, s.SearchRange(), test.ShouldResemble, disparity.Range{MinDisparity: 8, NumDisparities: 32})
	params.BlockSize = 4
	test.That(t, disparity.IsConfig(s.UpdateSGBM(params)), test.ShouldBeTrue)
	test.That(t, s.SearchRange().Max(), test.ShouldEqual, 40)

	test.That(t, s.SetContrast(disparity.DefaultContrast()), test.ShouldBeNil)
	test.That(t, fake.contrast, test.ShouldHaveLength, 1)

	wls := disparity.DefaultWLSParams()
	test.That(t, s.SetFiltering(&wls), test.ShouldBeNil)
	_, err := s.Process(context.Background(), ramp(w, h), ramp(w, h))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fake.filtered, test.ShouldEqual, 1)
	test.That(t, disparity.IsConfig(s.SetFiltering(&disparity.WLSParams{})), test.ShouldBeTrue)
	test.That(t, s.SetFiltering(nil), test.ShouldBeNil)
	_, err = s.Process(context.Background(), ramp(w, h), ramp(w, h))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fake.filtered, test.ShouldEqual, 1)

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, fake.closed, test.ShouldEqual, 1)
	test.That(t, errors.Is(s.Close(), disparity.ErrClosed), test.ShouldBeTrue)
	_, err = s.Process(context.Background(), ramp(w, h), ramp(w, h))
	test.That(t, errors.Is(err, disparity.ErrClosed), test.ShouldBeTrue)
	test.That(t, errors.Is(s.UpdateSGBM(params), disparity.ErrClosed), test.ShouldBeTrue)
	test.That(t, fake.closed, test.ShouldEqual, 1)
}

func TestNeuralStreamControls(t *testing.T) {
	const w, h = 8, 6
	cfg := testConfig(t, w, h)
	cfg.Backend = "crestereo"
	var got disparity.Config
	withBackend(t, nil, nil)
	newBackend = func(ctx context.Context, c disparity.Config, logger logging.Logger) (disparity.Backend, error) {
		got = c
		return &fakeBackend{kind: disparity.KindNeural, width: w, height: h}, nil
	}
	s, err := NewStream(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.Kind, test.ShouldEqual, disparity.KindNeural)
	test.That(t, got.Neural.ModelPath, test.ShouldEqual, "models/crestereo.onnx")

	err = s.UpdateSGBM(disparity.DefaultSGBMParams())
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
	test.That(t, errors.Is(err, disparity.ErrNotSupported), test.ShouldBeTrue)
	err = s.SetContrast(disparity.DefaultContrast())
	test.That(t, errors.Is(err, disparity.ErrNotSupported), test.ShouldBeTrue)
	wls := disparity.DefaultWLSParams()
	test.That(t, errors.Is(s.SetFiltering(&wls), disparity.ErrNotSupported), test.ShouldBeTrue)
	test.That(t, s.Close(), test.ShouldBeNil)
}

func TestCalibrationSeeding(t *testing.T) {
	const w, h = 8, 6
	dir := t.TempDir()
	cal := &calibration.Metadata{Width: w, Height: h, MinDisparity: 4, NumDisparities: 48, FocalLengthPx: 500, BaselineCm: 8}
	calPath := filepath.Join(dir, "calibration.json")
	test.That(t, cal.WriteFile(calPath), test.ShouldBeNil)

	cfg := testConfig(t, w, h)
	cfg.CalibrationFile = calPath
	var got disparity.Config
	withBackend(t, nil, nil)
	newBackend = func(ctx context.Context, c disparity.Config, logger logging.Logger) (disparity.Backend, error) {
		got = c
		return &fakeBackend{width: w, height: h}, nil
	}
	s, err := NewStream(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got.SGBM.MinDisparity, test.ShouldEqual, 4)
	test.That(t, got.SGBM.NumDisparities, test.ShouldEqual, 48)
	test.That(t, s.Calibration(), test.ShouldResemble, cal)

	left := make([]byte, w*h)
	for i := range left {
		left[i] = 160
	}
	frame, err := s.Process(context.Background(), left, left)
	test.That(t, err, test.ShouldBeNil)
	depth := make([]float64, w*h)
	test.That(t, frame.DepthCm(depth), test.ShouldBeNil)
	// 160 is 10 px: 500 * 8 / 10.
	test.That(t, depth[0], test.ShouldAlmostEqual, 400.0)

	cfg.CalibrationFile = filepath.Join(dir, "missing.json")
	_, err = NewStream(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, disparity.IsResource(err), test.ShouldBeTrue)
}

func TestFrameStatsAndImages(t *testing.T) {
	f := newFrame(2, 2, false)
	copy(f.Stabilized, []int16{16, 32, 48, disparity.InvalidDisparity})
	copy(f.Confidence, []byte{0, 128, 255, 1})
	f.Search = disparity.Range{NumDisparities: 16}

	fs := f.Stats()
	test.That(t, fs.ValidFraction, test.ShouldEqual, 0.75)
	test.That(t, fs.MeanDisparity, test.ShouldAlmostEqual, 2.0)
	test.That(t, fs.StdDevDisparity, test.ShouldAlmostEqual, 1.0)
	test.That(t, fs.MedianDisparity, test.ShouldEqual, 2.0)
	test.That(t, fs.MeanConfidence, test.ShouldAlmostEqual, 96.0)
	test.That(t, fs.ConfidentFraction, test.ShouldEqual, 0.5)

	disparity.Fill(f.Stabilized)
	fs = f.Stats()
	test.That(t, fs.ValidFraction, test.ShouldEqual, 0.0)
	test.That(t, fs.MeanDisparity, test.ShouldEqual, 0.0)

	f.Stabilized[0] = 32
	test.That(t, f.Stats().StdDevDisparity, test.ShouldEqual, 0.0)

	img, err := f.DisparityImage()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dx(), test.ShouldEqual, 2)
	img, err = f.ConfidenceImage()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, img.Bounds().Dy(), test.ShouldEqual, 2)

	err = f.DepthCm(make([]float64, 4))
	test.That(t, disparity.IsConfig(err), test.ShouldBeTrue)
}

func TestStreamWithSGBM(t *testing.T) {
	const w, h, shift = 64, 32, 8
	cfg := testConfig(t, w, h)
	params := disparity.DefaultSGBMParams()
	params.NumDisparities = 16
	cfg.SGBM = &params

	s, err := NewStream(context.Background(), cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, s.Close(), test.ShouldBeNil)
	}()
	test.That(t, s.Kind(), test.ShouldEqual, disparity.KindClassical)

	left, right := testutils.ShiftedPair(w, h, shift, 1)
	for i := 0; i < 3; i++ {
		frame, err := s.Process(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)

		hits, total := 0, 0
		for y := 4; y < h-4; y++ {
			for x := 20; x < w-4; x++ {
				total++
				d := int(frame.Stabilized[y*w+x]) - shift*disparity.Scale
				if d >= -disparity.Scale/2 && d <= disparity.Scale/2 {
					hits++
				}
			}
		}
		test.That(t, float64(hits)/float64(total), test.ShouldBeGreaterThan, 0.85)
		test.That(t, frame.SceneChange, test.ShouldBeFalse)
		for i, q := range frame.Disparity {
			if !disparity.IsValid(q) {
				test.That(t, frame.Confidence[i], test.ShouldEqual, byte(0))
			}
		}
	}
	test.That(t, s.Calibration(), test.ShouldBeNil)
}
