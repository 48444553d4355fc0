package detector

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/images"
	"github.com/nvr-ai/ssd-detector/models/model"
)

var classes = []string{"background", "person", "car"}

func testConfig() Config {
	return Config{
		TargetSize:          images.Size{Width: 300, Height: 300},
		ConfidenceThreshold: 0.5,
		ClassNames:          classes,
	}
}

func blank(h, w int) *tensor.Dense {
	return tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(h, w, 3))
}

func blanks(n int) []*tensor.Dense {
	out := make([]*tensor.Dense, n)
	for i := range out {
		out[i] = blank(300, 300)
	}
	return out
}

func sizes(n int, s images.Size) []images.Size {
	out := make([]images.Size, n)
	for i := range out {
		out[i] = s
	}
	return out
}

func newDetector(t *testing.T, pred *tensor.Dense) (*Detector, *fakeModel) {
	t.Helper()
	m := &fakeModel{pred: pred}
	return New(testConfig(), m, WithLogger(zaptest.NewLogger(t))), m
}

func requireInferenceError(t *testing.T, err error) *InferenceError {
	t.Helper()
	require.Error(t, err)
	var ie *InferenceError
	require.True(t, errors.As(err, &ie), "expected *InferenceError, got %T: %v", err, err)
	return ie
}

func TestDetect_ScalesToOriginalSize(t *testing.T) {
	d, _ := newDetector(t, predictions([][]float32{{1, 0.9, 150, 150, 300, 300}}))

	out, err := d.Detect(blanks(1), []images.Size{{Width: 640, Height: 480}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Len(t, out[0], 1)

	got := out[0][0]
	assert.Equal(t, "person", got.Class)
	assert.Equal(t, 1, got.ClassID)
	assert.InDelta(t, 0.9, got.Confidence, 1e-6)
	assert.InDelta(t, 320, got.XMin, 1e-4)
	assert.InDelta(t, 240, got.YMin, 1e-4)
	assert.InDelta(t, 640, got.XMax, 1e-4)
	assert.InDelta(t, 480, got.YMax, 1e-4)
}

func TestDetect_ThresholdIsStrict(t *testing.T) {
	d, _ := newDetector(t, predictions([][]float32{
		{1, 0.5, 0, 0, 10, 10},
		{2, 0.51, 0, 0, 10, 10},
		{1, 0.49, 0, 0, 10, 10},
	}))

	out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	assert.Equal(t, "car", out[0][0].Class)
}

func TestDetect_EmptyListsAreNotNil(t *testing.T) {
	d, _ := newDetector(t, predictions(
		[][]float32{{1, 0.1, 0, 0, 1, 1}},
		[][]float32{{2, 0.8, 0, 0, 1, 1}},
	))

	out, err := d.Detect(blanks(2), sizes(2, images.Size{Width: 300, Height: 300}))
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.NotNil(t, out[0])
	assert.Empty(t, out[0])
	assert.Len(t, out[1], 1)
}

func TestDetect_PreservesRowOrder(t *testing.T) {
	d, _ := newDetector(t, predictions([][]float32{
		{1, 0.6, 1, 0, 0, 0},
		{2, 0.95, 2, 0, 0, 0},
		{0, 0.3, 3, 0, 0, 0},
		{1, 0.7, 4, 0, 0, 0},
	}))

	out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
	require.NoError(t, err)
	require.Len(t, out[0], 3)
	assert.Equal(t, []float64{1, 2, 4}, []float64{out[0][0].XMin, out[0][1].XMin, out[0][2].XMin})
}

func TestDetect_PositionalClassMapping(t *testing.T) {
	d, _ := newDetector(t, predictions([][]float32{
		{0, 0.9, 0, 0, 1, 1},
		{2, 0.9, 0, 0, 1, 1},
	}))

	out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
	require.NoError(t, err)
	assert.Equal(t, "background", out[0][0].Class)
	assert.Equal(t, "car", out[0][1].Class)
}

func TestDetect_PerImageScaling(t *testing.T) {
	d, _ := newDetector(t, predictions(
		[][]float32{{1, 0.9, 30, 60, 90, 120}},
		[][]float32{{1, 0.9, 30, 60, 90, 120}},
	))

	out, err := d.Detect(blanks(2), []images.Size{{Width: 300, Height: 300}, {Width: 100, Height: 600}})
	require.NoError(t, err)
	assert.Equal(t, Detection{Class: "person", ClassID: 1, Confidence: out[0][0].Confidence, XMin: 30, YMin: 60, XMax: 90, YMax: 120}, out[0][0])
	assert.InDelta(t, 10, out[1][0].XMin, 1e-4)
	assert.InDelta(t, 120, out[1][0].YMin, 1e-4)
	assert.InDelta(t, 30, out[1][0].XMax, 1e-4)
	assert.InDelta(t, 240, out[1][0].YMax, 1e-4)
}

func TestDetect_PredictionCountMismatch(t *testing.T) {
	d, m := newDetector(t, predictions(
		[][]float32{{1, 0.9, 0, 0, 1, 1}},
		[][]float32{{1, 0.9, 0, 0, 1, 1}},
	))

	out, err := d.Detect(blanks(3), sizes(3, images.Size{Width: 300, Height: 300}))
	requireInferenceError(t, err)
	assert.Nil(t, out)
	assert.Equal(t, 1, m.predicts)
}

func TestDetect_InputErrors(t *testing.T) {
	tests := []struct {
		name  string
		batch []*tensor.Dense
		sizes []images.Size
	}{
		{"fewer sizes than images", blanks(2), sizes(1, images.Size{Width: 1, Height: 1})},
		{"more sizes than images", blanks(1), sizes(2, images.Size{Width: 1, Height: 1})},
		{"wrong spatial size", []*tensor.Dense{blank(299, 300)}, sizes(1, images.Size{Width: 1, Height: 1})},
		{"wrong rank", []*tensor.Dense{tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(300, 900))}, sizes(1, images.Size{Width: 1, Height: 1})},
		{"nil image", []*tensor.Dense{nil}, sizes(1, images.Size{Width: 1, Height: 1})},
		{"integer image", []*tensor.Dense{tensor.New(tensor.Of(tensor.Int), tensor.WithShape(300, 300, 3))}, sizes(1, images.Size{Width: 1, Height: 1})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, m := newDetector(t, predictions([][]float32{}))
			_, err := d.Detect(tt.batch, tt.sizes)
			requireInferenceError(t, err)
			assert.Zero(t, m.predicts, "the model is not called")
		})
	}
}

func TestDetect_MalformedPredictions(t *testing.T) {
	tests := []struct {
		name string
		pred *tensor.Dense
	}{
		{"nil", nil},
		{"two dimensional", tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 6))},
		{"five columns", tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(1, 2, 5))},
		{"integer rows", tensor.New(tensor.Of(tensor.Int), tensor.WithShape(1, 2, 6))},
		{"class id out of range", predictions([][]float32{{3, 0.9, 0, 0, 1, 1}})},
		{"negative class id", predictions([][]float32{{-1, 0.9, 0, 0, 1, 1}})},
		{"fractional class id", predictions([][]float32{{1.5, 0.9, 0, 0, 1, 1}})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newDetector(t, tt.pred)
			out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
			requireInferenceError(t, err)
			assert.Nil(t, out)
		})
	}
}

func TestDetect_OutOfRangeClassBelowThresholdIsIgnored(t *testing.T) {
	d, _ := newDetector(t, predictions([][]float32{{99, 0.1, 0, 0, 1, 1}}))
	out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
	require.NoError(t, err)
	assert.Empty(t, out[0])
}

func TestDetect_ModelError(t *testing.T) {
	d, m := newDetector(t, nil)
	m.predictErr = errBoom

	_, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
	ie := requireInferenceError(t, err)
	assert.True(t, errors.Is(ie, errBoom))
}

func TestDetect_EmptyBatch(t *testing.T) {
	d, m := newDetector(t, nil)

	out, err := d.Detect(nil, nil)
	require.NoError(t, err)
	assert.NotNil(t, out)
	assert.Empty(t, out)
	assert.Zero(t, m.predicts)
}

func TestDetect_StacksBatch(t *testing.T) {
	d, m := newDetector(t, predictions(nil, nil))

	a := blank(300, 300)
	a.Data().([]float32)[0] = 7
	b := tensor.New(tensor.Of(tensor.Float64), tensor.WithShape(300, 300, 3))
	b.Data().([]float64)[5] = 9

	_, err := d.Detect([]*tensor.Dense{a, b}, sizes(2, images.Size{Width: 10, Height: 10}))
	require.NoError(t, err)

	require.NotNil(t, m.lastBatch)
	assert.True(t, m.lastBatch.Shape().Eq(tensor.Shape{2, 300, 300, 3}))
	data := m.lastBatch.Data().([]float32)
	assert.Equal(t, float32(7), data[0])
	assert.Equal(t, float32(9), data[300*300*3+5])
}

func TestDetect_Float64Predictions(t *testing.T) {
	pred := tensor.New(tensor.WithShape(1, 1, 6), tensor.WithBacking([]float64{2, 0.75, 0, 0, 150, 150}))
	d, _ := newDetector(t, pred)

	out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 600, Height: 600}))
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	assert.Equal(t, "car", out[0][0].Class)
	assert.InDelta(t, 300, out[0][0].XMax, 1e-4)
}

func TestDetectImages(t *testing.T) {
	d, m := newDetector(t, predictions(
		[][]float32{{1, 0.9, 150, 150, 300, 300}},
		[][]float32{},
	))

	imgs := []image.Image{
		image.NewRGBA(image.Rect(0, 0, 640, 480)),
		image.NewRGBA(image.Rect(0, 0, 300, 300)),
	}
	out, err := d.DetectImages(imgs)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.InDelta(t, 640, out[0][0].XMax, 1e-4)
	assert.InDelta(t, 480, out[0][0].YMax, 1e-4)
	assert.Empty(t, out[1])
	assert.True(t, m.lastBatch.Shape().Eq(tensor.Shape{2, 300, 300, 3}))

	_, err = d.DetectImages([]image.Image{image.NewRGBA(image.Rect(0, 0, 0, 0))})
	requireInferenceError(t, err)
}

func TestDetector_ConfigIsCopied(t *testing.T) {
	cfg := testConfig()
	cfg.ClassNames = []string{"a", "b"}
	d := New(cfg, &fakeModel{})

	cfg.ClassNames[0] = "mutated"
	got := d.Config()
	assert.Equal(t, []string{"a", "b"}, got.ClassNames)

	got.ClassNames[1] = "mutated"
	assert.Equal(t, []string{"a", "b"}, d.Config().ClassNames)
}

func TestDetector_Close(t *testing.T) {
	d, m := newDetector(t, nil)
	require.NoError(t, d.Close())
	assert.Equal(t, 1, m.closed)

	assert.NoError(t, New(testConfig(), nil).Close())
}

func TestPredictionRowsKeepsModelCapacity(t *testing.T) {
	rows, err := predictionRows(tensor.New(tensor.Of(tensor.Float32), tensor.WithShape(2, 4, model.RowSize)), 2)
	require.NoError(t, err)
	assert.Equal(t, 4, rows.k)
	assert.Len(t, rows.f32, 2*4*model.RowSize)
}

func TestDetect_Float64ThresholdIsStrict(t *testing.T) {
	cfg := testConfig()
	cfg.ConfidenceThreshold = 0.7

	pred := tensor.New(tensor.WithShape(1, 3, 6), tensor.WithBacking([]float64{
		0, 0.70000001, 0, 0, 10, 10,
		1, 0.7, 0, 0, 10, 10,
		2, 0.69999999, 0, 0, 10, 10,
	}))
	d := New(cfg, &fakeModel{pred: pred}, WithLogger(zaptest.NewLogger(t)))

	out, err := d.Detect(blanks(1), sizes(1, images.Size{Width: 300, Height: 300}))
	require.NoError(t, err)
	require.Len(t, out[0], 1)
	assert.Equal(t, 0, out[0][0].ClassID)
	assert.Equal(t, 0.70000001, out[0][0].Confidence)
}
