package providers

// CoreMLOptions configures the CoreML execution provider.
// See: https://onnxruntime.ai/docs/execution-providers/CoreML-ExecutionProvider.html
type CoreMLOptions struct {
	// Flags is the COREML_FLAG_* bitmask passed to the provider. 0 uses all
	// compute units.
	Flags uint32 `json:"flags" yaml:"flags" mapstructure:"flags"`
}
