// Package disparity defines the uniform lifecycle shared by every disparity backend together
// with the Q4.4 fixed-point conventions, parameter records and range helpers they share.
//
// Concrete backends live in subpackages and register themselves on import:
//
//	import _ "go.viam.com/stereodepth/disparity/sgbm"
package disparity

import (
	"context"
	"runtime"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"go.viam.com/stereodepth/logging"
)

// Backend computes a Q4.4 disparity map from a rectified grayscale pair.
//
// A Backend is not safe for concurrent use; one goroutine owns it for its lifetime.
type Backend interface {
	Kind() Kind
	// Size returns the frame width and height the backend was created for.
	Size() (int, int)
	// Compute runs synchronously and cannot be interrupted once started. left and right must
	// hold width*height bytes and out width*height values. On error the contents of out are
	// undefined and must not be displayed or fed downstream.
	Compute(ctx context.Context, left, right []byte, out []int16) error
	// UpdateParams changes matcher settings in place. Only classical backends support it.
	UpdateParams(params SGBMParams) error
	// Close releases all native resources. Further calls return ErrClosed.
	Close() error
}

// ContrastEnhancer is implemented by backends that can equalize local contrast of the
// rectified inputs before matching.
type ContrastEnhancer interface {
	SetContrastEnhancement(c Contrast) error
}

// FilteredComputer is implemented by backends that can compute left- and right-referenced
// disparities and fuse them with an edge-aware filter guided by the left image.
type FilteredComputer interface {
	ComputeFiltered(ctx context.Context, left, right []byte, out []int16, params WLSParams) error
}

// Config selects and sizes a backend.
type Config struct {
	Kind   Kind
	Width  int
	Height int
	// SGBM is used by classical backends; nil selects DefaultSGBMParams.
	SGBM *SGBMParams
	// Neural is required by neural backends.
	Neural *NeuralParams
}

// Validate checks the configuration for the selected kind.
func (cfg Config) Validate() error {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return NewError(ClassConfig, "validate", errors.Wrapf(ErrDimensionMismatch, "frame %dx%d", cfg.Width, cfg.Height))
	}
	switch cfg.Kind {
	case KindClassical:
		if cfg.SGBM != nil {
			if err := cfg.SGBM.Validate(); err != nil {
				return NewError(ClassConfig, "validate sgbm", err)
			}
		}
	case KindNeural:
		if cfg.Neural == nil {
			return NewError(ClassConfig, "validate neural", ErrMissingModelPath)
		}
		if err := cfg.Neural.Validate(); err != nil {
			return NewError(ClassConfig, "validate neural", err)
		}
	default:
		return NewError(ClassConfig, "validate", errors.Wrapf(ErrUnknownBackend, "kind %d", cfg.Kind))
	}
	return nil
}

// A Constructor creates a backend from a validated config.
type Constructor func(ctx context.Context, cfg Config, logger logging.Logger) (Backend, error)

// Registration stores a backend constructor and where it was registered from.
type Registration struct {
	Constructor  Constructor
	RegistrarLoc string
}

var (
	registryMu sync.RWMutex
	registry   = map[Kind]Registration{}
)

// RegisterBackend registers the constructor for a backend kind. It panics on a duplicate
// registration or a nil constructor.
func RegisterBackend(kind Kind, creator Registration) {
	registryMu.Lock()
	defer registryMu.Unlock()
	creator.RegistrarLoc = getCallerName()
	if _, old := registry[kind]; old {
		panic(errors.Errorf("trying to register two backends with the same kind: %s", kind))
	}
	if creator.Constructor == nil {
		panic(errors.Errorf("cannot register a nil constructor for backend: %s", kind))
	}
	registry[kind] = creator
}

// Lookup returns the registration for kind, or nil if none is registered.
func Lookup(kind Kind) *Registration {
	registryMu.RLock()
	defer registryMu.RUnlock()
	registration, ok := registry[kind]
	if !ok {
		return nil
	}
	return &registration
}

// New validates cfg and creates the registered backend for cfg.Kind. Construction is all or
// nothing: on error no native resource remains allocated.
func New(ctx context.Context, cfg Config, logger logging.Logger) (Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	registration := Lookup(cfg.Kind)
	if registration == nil {
		return nil, NewError(ClassConfig, "create", errors.Wrapf(ErrUnknownBackend,
			"no %s backend linked into this binary", cfg.Kind))
	}
	logger = logging.OrBlank(logger, cfg.Kind.String())
	backend, err := registration.Constructor(ctx, cfg, logger)
	if err != nil {
		if ClassOf(err) == 0 {
			err = NewError(ClassResource, "create "+cfg.Kind.String(), err)
		}
		return nil, err
	}
	logger.Infow("disparity backend created", "kind", cfg.Kind.String(), "width", cfg.Width, "height", cfg.Height)
	return backend, nil
}

// CheckBuffers validates per-frame buffer sizes against width x height.
func CheckBuffers(width, height int, left, right []byte, out []int16) error {
	n := width * height
	if len(left) != n || len(right) != n || len(out) != n {
		return NewError(ClassFrame, "compute", errors.Wrapf(ErrDimensionMismatch,
			"left %d right %d out %d, want %d", len(left), len(right), len(out), n))
	}
	return nil
}

func getCallerName() string {
	pc, _, _, ok := runtime.Caller(2)
	details := runtime.FuncForPC(pc)
	if ok && details != nil {
		return strings.TrimSuffix(details.Name(), ".init.0")
	}
	return "unknown"
}
