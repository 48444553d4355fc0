package inference

import (
	"fmt"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/nvr-ai/ssd-detector/inference/providers"
)

// Runtime is process-wide inference backend state that must be torn down
// and rebuilt between configurations.
type Runtime interface {
	// Reset discards any existing backend state and initializes a fresh one.
	Reset() error
	// Close releases the backend state.
	Close() error
}

// NopRuntime is a Runtime for backends without global state.
type NopRuntime struct{}

// Reset does nothing.
func (NopRuntime) Reset() error { return nil }

// Close does nothing.
func (NopRuntime) Close() error { return nil }

// ORTRuntime manages the ONNX Runtime environment.
type ORTRuntime struct {
	// LibraryPath is the onnxruntime shared library. Empty uses
	// providers.SharedLibraryPath.
	LibraryPath string
}

// Reset destroys the ONNX Runtime environment if it is initialized and then
// initializes a new one.
//
// Returns:
//   - error: An error if the library is missing or initialization fails.
func (r ORTRuntime) Reset() error {
	if ort.IsInitialized() {
		if err := ort.DestroyEnvironment(); err != nil {
			return fmt.Errorf("error destroying ORT environment: %w", err)
		}
	}

	libPath := r.LibraryPath
	if libPath == "" {
		libPath = providers.SharedLibraryPath()
	}
	if _, err := os.Stat(libPath); err != nil {
		return fmt.Errorf("ONNX Runtime library not found at %s: %w", libPath, err)
	}

	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("error initializing ORT environment: %w", err)
	}

	return nil
}

// Close destroys the ONNX Runtime environment if it is initialized.
func (ORTRuntime) Close() error {
	if !ort.IsInitialized() {
		return nil
	}
	if err := ort.DestroyEnvironment(); err != nil {
		return fmt.Errorf("error destroying ORT environment: %w", err)
	}
	return nil
}
