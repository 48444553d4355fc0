package detector

import (
	"errors"
	"sync"

	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/models/model"
)

// fakeModel returns a fixed prediction and records the lifecycle calls.
type fakeModel struct {
	mu sync.Mutex

	pred       *tensor.Dense
	predictErr error

	loadErr, compileErr, finalizeErr error

	loadedPath string
	partial    bool
	compiled   *model.CompileOptions
	finalized  bool
	predicts   int
	lastBatch  *tensor.Dense
	closed     int
}

func (m *fakeModel) LoadWeights(path string, partial bool) error {
	m.loadedPath, m.partial = path, partial
	return m.loadErr
}

func (m *fakeModel) Compile(opts model.CompileOptions) error {
	m.compiled = &opts
	return m.compileErr
}

func (m *fakeModel) Finalize() error {
	if m.finalizeErr != nil {
		return m.finalizeErr
	}
	m.finalized = true
	return nil
}

func (m *fakeModel) Predict(batch *tensor.Dense) (*tensor.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predicts++
	m.lastBatch = batch
	if m.predictErr != nil {
		return nil, m.predictErr
	}
	return m.pred, nil
}

func (m *fakeModel) Close() error {
	m.closed++
	return nil
}

// fakeBuilder hands out a fresh fakeModel per build, configured by setup.
type fakeBuilder struct {
	setup    func(*fakeModel)
	buildErr error

	builds     int
	shape      model.InputShape
	numClasses int
	threshold  float64
	models     []*fakeModel
}

func (b *fakeBuilder) Build(shape model.InputShape, numClasses int, threshold float64) (model.Model, error) {
	b.builds++
	b.shape, b.numClasses, b.threshold = shape, numClasses, threshold
	if b.buildErr != nil {
		return nil, b.buildErr
	}
	m := &fakeModel{}
	if b.setup != nil {
		b.setup(m)
	}
	b.models = append(b.models, m)
	return m, nil
}

// configurableBuilder records the options it is configured with and hands
// out a separate fakeBuilder for them.
type configurableBuilder struct {
	*fakeBuilder
	err        error
	options    map[string]any
	configured *fakeBuilder
}

func (b *configurableBuilder) Configure(options map[string]any) (model.Builder, error) {
	if b.err != nil {
		return nil, b.err
	}
	b.options = options
	b.configured = &fakeBuilder{}
	return b.configured, nil
}

// predictions packs rows of [class, conf, xmin, ymin, xmax, ymax] into an
// (N, K, 6) tensor, padding with zero rows.
func predictions(perImage ...[][]float32) *tensor.Dense {
	k := 1
	for _, rows := range perImage {
		k = max(k, len(rows))
	}
	data := make([]float32, len(perImage)*k*model.RowSize)
	for i, rows := range perImage {
		for j, r := range rows {
			copy(data[(i*k+j)*model.RowSize:], r)
		}
	}
	return tensor.New(tensor.WithShape(len(perImage), k, model.RowSize), tensor.WithBacking(data))
}

var errBoom = errors.New("boom")
