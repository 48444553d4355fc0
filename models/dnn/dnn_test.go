package dnn

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/models/model"
)

var shape = model.InputShape{Height: 300, Width: 300, Channels: 3}

func TestRows(t *testing.T) {
	m, err := New(DefaultConfig(), shape, 20, 0.5)
	require.NoError(t, err)

	raw := []float32{
		0, 15, 0.9, 0.1, 0.2, 0.5, 0.6,
		0, 7, 0.5, 0, 0, 1, 1,
		0, 2, 0.3, 0, 0, 1, 1,
	}
	rows := m.rows(raw)
	require.Len(t, rows, 1)
	assert.Equal(t, float32(14), rows[0].ClassID)
	assert.InDelta(t, 30, rows[0].XMin, 1e-4)
	assert.InDelta(t, 60, rows[0].YMin, 1e-4)
	assert.InDelta(t, 150, rows[0].XMax, 1e-4)
	assert.InDelta(t, 180, rows[0].YMax, 1e-4)

	assert.Empty(t, m.rows(nil))
}

func TestLoadWeights_Errors(t *testing.T) {
	m, err := New(DefaultConfig(), shape, 20, 0.5)
	require.NoError(t, err)
	defer m.Close()

	assert.Error(t, m.LoadWeights(filepath.Join(t.TempDir(), "missing.caffemodel"), true))
	assert.Error(t, m.Finalize())

	_, err = m.Predict(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 300, 300, 3)))
	assert.Error(t, err)

	cfg := DefaultConfig()
	cfg.Scale = 0
	_, err = New(cfg, shape, 20, 0.5)
	assert.Error(t, err)
}

func TestLoadWeights_StrictNeedsConfigFile(t *testing.T) {
	dir := t.TempDir()
	weights := filepath.Join(dir, "net.caffemodel")
	require.NoError(t, os.WriteFile(weights, []byte("not a network"), 0o600))

	cfg := DefaultConfig()
	cfg.ConfigFile = "deploy.prototxt"
	m, err := New(cfg, shape, 20, 0.5)
	require.NoError(t, err)
	defer m.Close()

	err = m.LoadWeights(weights, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network config file")
}

// TestModel_Network runs a real network when SSD_DNN_MODEL (and optionally
// SSD_DNN_CONFIG) point at a MobileNet-SSD release.
func TestModel_Network(t *testing.T) {
	weights := os.Getenv("SSD_DNN_MODEL")
	if weights == "" {
		t.Skip("SSD_DNN_MODEL not set")
	}

	cfg := DefaultConfig()
	cfg.ConfigFile = os.Getenv("SSD_DNN_CONFIG")
	m, err := New(cfg, shape, 20, 0.2)
	require.NoError(t, err)
	defer m.Close()

	require.NoError(t, m.LoadWeights(weights, false))
	require.NoError(t, m.Compile(model.DefaultCompileOptions()))
	require.NoError(t, m.Finalize())

	out, err := m.Predict(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 300, 300, 3)))
	require.NoError(t, err)
	assert.Equal(t, 2, out.Shape()[0])
	assert.Equal(t, model.RowSize, out.Shape()[2])
}

func TestBuilder_Configure(t *testing.T) {
	cb, ok := Builder(DefaultConfig()).(model.Configurable)
	require.True(t, ok)

	b, err := cb.Configure(map[string]any{
		"config_file": "MobileNetSSD_deploy.prototxt",
		"swap_rb":     "true",
		"mean":        []any{104, 117, 123},
	})
	require.NoError(t, err)

	built, err := b.Build(shape, 20, 0.5)
	require.NoError(t, err)
	m := built.(*Model)
	assert.Equal(t, "MobileNetSSD_deploy.prototxt", m.cfg.ConfigFile)
	assert.True(t, m.cfg.SwapRB)
	assert.Equal(t, [3]float64{104, 117, 123}, m.cfg.Mean)
	assert.Equal(t, 1.0/127.5, m.cfg.Scale, "unset fields keep their defaults")

	base, err := Builder(DefaultConfig()).Build(shape, 20, 0.5)
	require.NoError(t, err)
	assert.Empty(t, base.(*Model).cfg.ConfigFile)

	_, err = cb.Configure(map[string]any{"prototxt": "x"})
	assert.Error(t, err, "unknown keys are rejected")
	_, err = cb.Configure(map[string]any{"scale": 0})
	assert.Error(t, err)
}

func TestDefaultConfig_NormalizesToUnitRange(t *testing.T) {
	cfg := DefaultConfig()
	// BlobFromImage computes (pixel - mean) * scale.
	assert.InDelta(t, -1, (0-cfg.Mean[0])*cfg.Scale, 1e-9)
	assert.InDelta(t, 1, (255-cfg.Mean[0])*cfg.Scale, 1e-9)
}
