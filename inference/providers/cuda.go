package providers

import "strconv"

// CUDAOptions configures the CUDA execution provider.
// See: https://onnxruntime.ai/docs/execution-providers/CUDA-ExecutionProvider.html
type CUDAOptions struct {
	// DeviceID is the GPU ordinal.
	DeviceID int `json:"device_id" yaml:"device_id" mapstructure:"device_id"`
	// GPUMemLimit caps the arena size in bytes when positive.
	GPUMemLimit int64 `json:"gpu_mem_limit" yaml:"gpu_mem_limit" mapstructure:"gpu_mem_limit"`
	// ArenaExtendStrategy is "kNextPowerOfTwo" or "kSameAsRequested".
	ArenaExtendStrategy string `json:"arena_extend_strategy" yaml:"arena_extend_strategy" mapstructure:"arena_extend_strategy"`
	// CudnnConvAlgoSearch is "EXHAUSTIVE", "HEURISTIC" or "DEFAULT".
	CudnnConvAlgoSearch string `json:"cudnn_conv_algo_search" yaml:"cudnn_conv_algo_search" mapstructure:"cudnn_conv_algo_search"`
	// DoCopyInDefaultStream copies on the default CUDA stream.
	DoCopyInDefaultStream bool `json:"do_copy_in_default_stream" yaml:"do_copy_in_default_stream" mapstructure:"do_copy_in_default_stream"`
}

// ToMap returns the provider options in ONNX Runtime key/value form.
func (o CUDAOptions) ToMap() map[string]string {
	m := map[string]string{
		"device_id": strconv.Itoa(o.DeviceID),
	}
	if o.GPUMemLimit > 0 {
		m["gpu_mem_limit"] = strconv.FormatInt(o.GPUMemLimit, 10)
	}
	if o.ArenaExtendStrategy != "" {
		m["arena_extend_strategy"] = o.ArenaExtendStrategy
	}
	if o.CudnnConvAlgoSearch != "" {
		m["cudnn_conv_algo_search"] = o.CudnnConvAlgoSearch
	}
	if o.DoCopyInDefaultStream {
		m["do_copy_in_default_stream"] = "1"
	}
	return m
}
