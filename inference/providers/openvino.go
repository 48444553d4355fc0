package providers

import "strconv"

// OpenVINOOptions configures the OpenVINO execution provider.
// See: https://onnxruntime.ai/docs/execution-providers/OpenVINO-ExecutionProvider.html#summary-of-options
type OpenVINOOptions struct {
	// DeviceType is e.g. "CPU", "GPU" or "NPU".
	DeviceType string `json:"device_type" yaml:"device_type" mapstructure:"device_type"`
	// Precision is "FP32", "FP16" or "ACCURACY".
	Precision string `json:"precision" yaml:"precision" mapstructure:"precision"`
	// NumOfThreads overrides the OpenVINO thread count when positive.
	NumOfThreads int `json:"num_of_threads" yaml:"num_of_threads" mapstructure:"num_of_threads"`
	// NumStreams overrides the number of parallel inference streams when positive.
	NumStreams int `json:"num_streams" yaml:"num_streams" mapstructure:"num_streams"`
	// DisableDynamicShapes forces static shapes at compile time.
	DisableDynamicShapes bool `json:"disable_dynamic_shapes" yaml:"disable_dynamic_shapes" mapstructure:"disable_dynamic_shapes"`
}

// ToMap returns the provider options in ONNX Runtime key/value form. Unset
// fields are omitted.
func (o OpenVINOOptions) ToMap() map[string]string {
	m := make(map[string]string)
	if o.DeviceType != "" {
		m["device_type"] = o.DeviceType
	}
	if o.Precision != "" {
		m["precision"] = o.Precision
	}
	if o.NumOfThreads > 0 {
		m["num_of_threads"] = strconv.Itoa(o.NumOfThreads)
	}
	if o.NumStreams > 0 {
		m["num_streams"] = strconv.Itoa(o.NumStreams)
	}
	if o.DisableDynamicShapes {
		m["disable_dynamic_shapes"] = "true"
	}
	return m
}
