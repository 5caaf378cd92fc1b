package detections

import (
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// DefaultLibraryPath returns the ONNX Runtime shared library name for the
// current OS, resolved through the system loader path.
func DefaultLibraryPath() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// InitializeRuntime loads the ONNX Runtime library and creates the
// process-wide environment. It must run before any NewModelSession call.
func InitializeRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath == "" {
		libraryPath = DefaultLibraryPath()
	}
	ort.SetSharedLibraryPath(libraryPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return newError(KindSessionBuild, "initialize onnxruntime", err)
	}
	return nil
}

// ShutdownRuntime destroys the environment created by InitializeRuntime.
func ShutdownRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}
