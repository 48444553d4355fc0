// Package providers - ONNX Runtime execution providers and session options.
package providers

import (
	"fmt"
	"runtime"

	ort "github.com/yalue/onnxruntime_go"
)

// Backend identifies an ONNX Runtime execution provider.
type Backend string

const (
	// CPUBackend runs on the default CPU provider.
	CPUBackend Backend = "cpu"
	// CoreMLBackend uses Apple CoreML for macOS/iOS acceleration.
	CoreMLBackend Backend = "coreml"
	// OpenVINOBackend uses Intel OpenVINO.
	OpenVINOBackend Backend = "openvino"
	// CUDABackend uses NVIDIA CUDA.
	CUDABackend Backend = "cuda"
)

// Config selects an execution provider and the graph execution settings of
// an ONNX Runtime session.
type Config struct {
	// Backend is the execution provider to append. CPU appends nothing.
	Backend Backend `json:"backend" yaml:"backend" mapstructure:"backend"`

	// GraphOptimization is one of "disable", "basic", "extended" or "all".
	GraphOptimization string `json:"graph_optimization" yaml:"graph_optimization" mapstructure:"graph_optimization"`

	// Parallel runs independent graph nodes concurrently.
	Parallel bool `json:"parallel" yaml:"parallel" mapstructure:"parallel"`

	// IntraOpThreads parallelizes work inside a node. 0 lets the runtime decide.
	IntraOpThreads int `json:"intra_op_threads" yaml:"intra_op_threads" mapstructure:"intra_op_threads"`

	// InterOpThreads parallelizes independent nodes. 0 lets the runtime decide.
	InterOpThreads int `json:"inter_op_threads" yaml:"inter_op_threads" mapstructure:"inter_op_threads"`

	CoreML   CoreMLOptions   `json:"coreml" yaml:"coreml" mapstructure:"coreml"`
	OpenVINO OpenVINOOptions `json:"openvino" yaml:"openvino" mapstructure:"openvino"`
	CUDA     CUDAOptions     `json:"cuda" yaml:"cuda" mapstructure:"cuda"`
}

// DefaultConfig returns a CPU configuration with extended graph optimization.
func DefaultConfig() Config {
	return Config{
		Backend:           CPUBackend,
		GraphOptimization: "extended",
		IntraOpThreads:    max(1, runtime.NumCPU()/2),
		InterOpThreads:    1,
	}
}

// Validate checks the configuration without touching the runtime.
func (c Config) Validate() error {
	switch c.Backend {
	case "", CPUBackend, CoreMLBackend, OpenVINOBackend, CUDABackend:
	default:
		return fmt.Errorf("unsupported execution provider %q", c.Backend)
	}
	if _, err := c.optimizationLevel(); err != nil {
		return err
	}
	if c.IntraOpThreads < 0 || c.InterOpThreads < 0 {
		return fmt.Errorf("thread counts must not be negative")
	}
	return nil
}

func (c Config) optimizationLevel() (ort.GraphOptimizationLevel, error) {
	switch c.GraphOptimization {
	case "disable":
		return ort.GraphOptimizationLevelDisableAll, nil
	case "basic":
		return ort.GraphOptimizationLevelEnableBasic, nil
	case "", "extended":
		return ort.GraphOptimizationLevelEnableExtended, nil
	case "all":
		return ort.GraphOptimizationLevelEnableAll, nil
	default:
		return 0, fmt.Errorf("unknown graph optimization level %q", c.GraphOptimization)
	}
}

func (c Config) executionMode() ort.ExecutionMode {
	if c.Parallel {
		return ort.ExecutionModeParallel
	}
	return ort.ExecutionModeSequential
}

// NewSessionOptions builds ONNX Runtime session options from the config.
//
// The caller owns the returned options and must Destroy them once the session
// has been created.
//
// Arguments:
//   - c: The provider configuration.
//
// Returns:
//   - *ort.SessionOptions: The configured session options.
//   - error: An error if the config is invalid or the provider cannot be appended.
func NewSessionOptions(c Config) (*ort.SessionOptions, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	level, _ := c.optimizationLevel()

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}

	if err := apply(options, c, level, c.executionMode()); err != nil {
		options.Destroy()
		return nil, err
	}

	return options, nil
}

func apply(options *ort.SessionOptions, c Config, level ort.GraphOptimizationLevel, mode ort.ExecutionMode) error {
	if err := options.SetGraphOptimizationLevel(level); err != nil {
		return fmt.Errorf("error setting graph optimization level: %w", err)
	}
	if err := options.SetExecutionMode(mode); err != nil {
		return fmt.Errorf("error setting execution mode: %w", err)
	}
	if err := options.SetIntraOpNumThreads(c.IntraOpThreads); err != nil {
		return fmt.Errorf("error setting intra-op threads: %w", err)
	}
	if err := options.SetInterOpNumThreads(c.InterOpThreads); err != nil {
		return fmt.Errorf("error setting inter-op threads: %w", err)
	}

	switch c.Backend {
	case CoreMLBackend:
		if err := options.AppendExecutionProviderCoreML(c.CoreML.Flags); err != nil {
			return fmt.Errorf("error enabling CoreML: %w", err)
		}
	case OpenVINOBackend:
		if err := options.AppendExecutionProviderOpenVINO(c.OpenVINO.ToMap()); err != nil {
			return fmt.Errorf("error enabling OpenVINO: %w", err)
		}
	case CUDABackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return fmt.Errorf("error creating CUDA options: %w", err)
		}
		defer cuda.Destroy()
		if err := cuda.Update(c.CUDA.ToMap()); err != nil {
			return fmt.Errorf("error converting CUDA options: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return fmt.Errorf("error enabling CUDA: %w", err)
		}
	}

	return nil
}
