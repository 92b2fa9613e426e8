package onnx

import (
	"os"
	"runtime"
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"

	"go.viam.com/stereodepth/logging"
)

// Execution providers, most capable first.
const (
	ProviderCUDA     = "cuda"
	ProviderCoreML   = "coreml"
	ProviderDirectML = "directml"
	ProviderCPU      = "cpu"
)

// providerOrder returns the providers to try on goos.
func providerOrder(goos string) []string {
	switch goos {
	case "darwin":
		return []string{ProviderCUDA, ProviderCoreML, ProviderCPU}
	case "windows":
		return []string{ProviderCUDA, ProviderDirectML, ProviderCPU}
	default:
		return []string{ProviderCUDA, ProviderCPU}
	}
}

// runner is the part of an inference session the backend drives.
type runner interface {
	Run(inputs, outputs []ort.Value) error
	Destroy() error
}

// sessionRequest is everything needed to open a session on one provider.
type sessionRequest struct {
	modelPath string
	inputs    []string
	outputs   []string
	threads   int
}

// loader gathers the calls into the native runtime so they can be replaced in tests.
type loader struct {
	initEnv func(libraryPath string) error
	ioInfo  func(modelPath string) ([]ort.InputOutputInfo, []ort.InputOutputInfo, error)
	open    func(provider string, req sessionRequest) (runner, error)
	order   []string
}

func defaultLoader() loader {
	return loader{
		initEnv: initEnvironment,
		ioInfo:  ort.GetInputOutputInfo,
		open:    openSession,
		order:   providerOrder(runtime.GOOS),
	}
}

var envMu sync.Mutex

// initEnvironment initializes the process-wide onnxruntime environment once. An empty
// libraryPath falls back to ONNXRUNTIME_SHARED_LIBRARY_PATH, then the runtime's default.
func initEnvironment(libraryPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath == "" {
		libraryPath = os.Getenv("ONNXRUNTIME_SHARED_LIBRARY_PATH")
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	return errors.Wrap(ort.InitializeEnvironment(), "cannot initialize onnxruntime")
}

// openSession creates a session with provider appended to the session options.
func openSession(provider string, req sessionRequest) (runner, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()
	if req.threads > 0 {
		if err := options.SetIntraOpNumThreads(req.threads); err != nil {
			return nil, err
		}
	}

	switch provider {
	case ProviderCUDA:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, err
		}
		defer cuda.Destroy()
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return nil, err
		}
	case ProviderCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return nil, err
		}
	case ProviderDirectML:
		if err := options.AppendExecutionProviderDirectML(0); err != nil {
			return nil, err
		}
	case ProviderCPU:
	default:
		return nil, errors.Errorf("unknown execution provider %q", provider)
	}
	session, err := ort.NewDynamicAdvancedSession(req.modelPath, req.inputs, req.outputs, options)
	if err != nil {
		return nil, err
	}
	return session, nil
}

// probe opens a session on the first provider that works. Providers whose runtime support
// is missing are skipped.
func probe(order []string, req sessionRequest, open func(string, sessionRequest) (runner, error),
	logger logging.Logger,
) (runner, string, error) {
	var lastErr error
	for _, provider := range order {
		session, err := open(provider, req)
		if err == nil {
			return session, provider, nil
		}
		logger.Debugw("execution provider unavailable", "provider", provider, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = errors.New("no execution providers to try")
	}
	return nil, "", errors.Wrapf(lastErr, "cannot open %s on any execution provider", req.modelPath)
}
