package providers

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ort "github.com/yalue/onnxruntime_go"
)

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	require.NoError(t, Config{}.Validate())

	c := DefaultConfig()
	c.Backend = "tpu"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.GraphOptimization = "max"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.IntraOpThreads = -1
	assert.Error(t, c.Validate())
}

func TestOptionMaps(t *testing.T) {
	assert.Empty(t, OpenVINOOptions{}.ToMap())
	assert.Equal(t, map[string]string{
		"device_type":    "GPU",
		"precision":      "FP16",
		"num_of_threads": "4",
	}, OpenVINOOptions{DeviceType: "GPU", Precision: "FP16", NumOfThreads: 4}.ToMap())

	assert.Equal(t, map[string]string{"device_id": "0"}, CUDAOptions{}.ToMap())
	m := CUDAOptions{DeviceID: 1, GPUMemLimit: 2 << 30, DoCopyInDefaultStream: true}.ToMap()
	assert.Equal(t, "1", m["device_id"])
	assert.Equal(t, "2147483648", m["gpu_mem_limit"])
	assert.Equal(t, "1", m["do_copy_in_default_stream"])
}

func TestSharedLibraryPath(t *testing.T) {
	t.Setenv(LibraryPathEnv, "/opt/ort/libonnxruntime.so")
	assert.Equal(t, "/opt/ort/libonnxruntime.so", SharedLibraryPath())

	t.Setenv(LibraryPathEnv, "")
	assert.NotEmpty(t, SharedLibraryPath())
}

func TestConfig_ExecutionMode(t *testing.T) {
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeSequential), DefaultConfig().executionMode())
	assert.Equal(t, ort.ExecutionMode(ort.ExecutionModeParallel), Config{Parallel: true}.executionMode())
}

func TestNewSessionOptions(t *testing.T) {
	lib := SharedLibraryPath()
	if _, err := os.Stat(lib); err != nil {
		t.Skipf("ONNX Runtime library not available at %q", lib)
	}
	if !ort.IsInitialized() {
		ort.SetSharedLibraryPath(lib)
		require.NoError(t, ort.InitializeEnvironment())
		defer ort.DestroyEnvironment()
	}

	for _, parallel := range []bool{false, true} {
		c := DefaultConfig()
		c.Parallel = parallel
		options, err := NewSessionOptions(c)
		require.NoError(t, err)
		require.NoError(t, options.Destroy())
	}

	_, err := NewSessionOptions(Config{Backend: "tpu"})
	assert.Error(t, err)
}
