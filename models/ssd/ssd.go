package ssd

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/models/model"
	"github.com/nvr-ai/ssd-detector/models/postprocess"
)

// head is one predictor pair on a backbone layer.
type head struct {
	spec    HeadSpec
	fm      FeatureMap
	anchors []Anchor
	cls     *layer
	box     *layer
}

// Model is an SSD network on gorgonia.
//
// Predict is serialized internally, so a finalized Model may be shared between
// goroutines.
type Model struct {
	arch       Architecture
	shape      model.InputShape
	numClasses int
	threshold  float32
	nms        postprocess.NMSConfig

	backbone []*layer
	heads    []*head

	compiled  *model.CompileOptions
	solver    *G.AdamSolver
	finalized bool
	closed    bool
	report    LoadReport

	mu     sync.Mutex
	graphs map[int]*graph
}

// New builds an untrained SSD for the given architecture.
//
// Arguments:
//   - arch: The architecture.
//   - shape: The fixed (height, width, 3) input.
//   - numClasses: The number of object classes, excluding background.
//   - confidenceThreshold: The minimum per-class confidence a candidate must
//     exceed to survive decoding.
//
// Returns:
//   - *Model: The model with randomly initialized weights.
//   - error: An error if the arguments are invalid or a feature map vanishes.
func New(arch Architecture, shape model.InputShape, numClasses int, confidenceThreshold float64) (*Model, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if shape.Channels != model.Channels {
		return nil, errors.Errorf("ssd expects %d channels, got %d", model.Channels, shape.Channels)
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("numClasses must be positive, got %d", numClasses)
	}

	m := &Model{
		arch:       arch,
		shape:      shape,
		numClasses: numClasses,
		threshold:  float32(confidenceThreshold),
		nms:        postprocess.DefaultNMSConfig(),
		graphs:     make(map[int]*graph),
	}

	fms := arch.FeatureMaps(shape.Height, shape.Width)
	in := shape.Channels
	for i, c := range arch.Backbone {
		if fms[i].Height <= 0 || fms[i].Width <= 0 {
			return nil, errors.Errorf("input %dx%d too small for layer %s", shape.Height, shape.Width, c.Name)
		}
		m.backbone = append(m.backbone, newLayer(c.Name, in, c.Filters, c.Kernel, c.Stride, true))
		in = c.Filters
	}

	a := arch.AnchorsPerCell()
	for i, h := range arch.Heads {
		src := arch.Backbone[h.Source]
		fm := fms[h.Source]
		m.heads = append(m.heads, &head{
			spec:    h,
			fm:      fm,
			anchors: GenerateAnchors(fm, h.Scale, arch.AspectRatios),
			cls:     newLayer(fmt.Sprintf("cls_%d", i), src.Filters, a*(numClasses+1), arch.HeadKernel, 1, false),
			box:     newLayer(fmt.Sprintf("box_%d", i), src.Filters, a*4, arch.HeadKernel, 1, false),
		})
	}

	return m, nil
}

// Builder returns a model.Builder for the architecture.
func Builder(arch Architecture) model.Builder {
	return model.BuilderFunc(func(shape model.InputShape, numClasses int, confidenceThreshold float64) (model.Model, error) {
		return New(arch, shape, numClasses, confidenceThreshold)
	})
}

// Architecture returns the architecture the model was built from.
func (m *Model) Architecture() Architecture {
	return m.arch
}

// NumAnchors returns the total number of anchors over all heads.
func (m *Model) NumAnchors() int {
	n := 0
	for _, h := range m.heads {
		n += len(h.anchors)
	}
	return n
}

// Params returns every trainable parameter keyed by "<layer>/<param>".
func (m *Model) Params() map[string]*tensor.Dense {
	params := make(map[string]*tensor.Dense)
	add := func(l *layer) {
		for p, t := range l.params() {
			params[l.name+"/"+p] = t
		}
	}
	for _, l := range m.backbone {
		add(l)
	}
	for _, h := range m.heads {
		add(h.cls)
		add(h.box)
	}
	return params
}

// LoadWeights reads a weight archive into the model.
//
// With partial set, layers are matched by name: archive entries without a
// layer and layers without an entry are skipped. Otherwise the archive must
// match the model exactly. A shape mismatch on a matched layer always fails.
func (m *Model) LoadWeights(path string, partial bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return errors.New("cannot load weights into a finalized model")
	}

	arrays, err := ReadArchive(path)
	if err != nil {
		return err
	}

	report, err := assign(m.Params(), arrays, partial)
	if err != nil {
		return errors.Wrapf(err, "load %s", path)
	}
	m.report = report

	return nil
}

// LoadReport returns the outcome of the last successful LoadWeights.
func (m *Model) LoadReport() LoadReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.report
}

// SaveWeights writes the current parameters as a weight archive.
func (m *Model) SaveWeights(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return WriteArchive(path, m.Params())
}

// Compile attaches an Adam solver and the multibox loss configuration.
func (m *Model) Compile(opts model.CompileOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return errors.New("cannot compile a finalized model")
	}

	o := opts.Optimizer
	if o.LearningRate <= 0 || o.Epsilon <= 0 {
		return errors.Errorf("invalid optimizer configuration %+v", o)
	}
	if o.Beta1 < 0 || o.Beta1 >= 1 || o.Beta2 < 0 || o.Beta2 >= 1 {
		return errors.Errorf("adam betas must lie in [0, 1), got %v, %v", o.Beta1, o.Beta2)
	}
	if opts.Loss.NegPosRatio <= 0 || opts.Loss.Alpha <= 0 {
		return errors.Errorf("invalid loss configuration %+v", opts.Loss)
	}

	m.solver = G.NewAdamSolver(
		G.WithLearnRate(o.LearningRate),
		G.WithBeta1(o.Beta1),
		G.WithBeta2(o.Beta2),
		G.WithEps(o.Epsilon),
	)
	m.compiled = &opts

	return nil
}

// CompileOptions returns the options the model was compiled with, if any.
func (m *Model) CompileOptions() (model.CompileOptions, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.compiled == nil {
		return model.CompileOptions{}, false
	}
	return *m.compiled, true
}

// Finalize freezes the weights. Predict is only allowed afterwards.
func (m *Model) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("model is closed")
	}
	if m.compiled == nil {
		return errors.New("model must be compiled before it is finalized")
	}
	m.finalized = true

	return nil
}

// Predict runs a (N, H, W, 3) batch of 0-255 pixels through the network and
// returns (N, TopK, 6) detection rows.
func (m *Model) Predict(batch *tensor.Dense) (*tensor.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("model is closed")
	}
	if !m.finalized {
		return nil, errors.New("model is not finalized")
	}

	want := tensor.Shape{0, m.shape.Height, m.shape.Width, m.shape.Channels}
	s := batch.Shape()
	if s.Dims() != 4 || s[1] != want[1] || s[2] != want[2] || s[3] != want[3] {
		return nil, errors.Errorf("batch shape %v does not match (N, %d, %d, %d)", s, want[1], want[2], want[3])
	}
	n := s[0]

	pixels, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch dtype %v is not float32", batch.Dtype())
	}

	gr, err := m.graphFor(n)
	if err != nil {
		return nil, err
	}

	if err := G.Let(gr.input, m.toNCHW(pixels, n)); err != nil {
		return nil, errors.Wrap(err, "bind input")
	}
	defer gr.vm.Reset()

	if err := gr.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass")
	}

	perImage, err := m.decode(gr, n)
	if err != nil {
		return nil, err
	}

	return model.NewPredictions(perImage, m.nms.TopK)
}

// graphFor returns the cached forward graph for batch size n.
func (m *Model) graphFor(n int) (*graph, error) {
	if gr, ok := m.graphs[n]; ok {
		return gr, nil
	}

	g := G.NewGraph()
	input := G.NewTensor(g, tensor.Float32, 4,
		G.WithShape(n, m.shape.Channels, m.shape.Height, m.shape.Width),
		G.WithName("input"),
	)

	feats := make([]*G.Node, len(m.backbone))
	x := input
	for i, l := range m.backbone {
		out, err := l.apply(g, x)
		if err != nil {
			return nil, err
		}
		feats[i], x = out, out
	}

	gr := &graph{g: g, input: input}
	for _, h := range m.heads {
		cls, err := h.cls.apply(g, feats[h.spec.Source])
		if err != nil {
			return nil, err
		}
		box, err := h.box.apply(g, feats[h.spec.Source])
		if err != nil {
			return nil, err
		}
		gr.cls = append(gr.cls, cls)
		gr.box = append(gr.box, box)
	}
	gr.vm = G.NewTapeMachine(g)
	m.graphs[n] = gr

	return gr, nil
}

// toNCHW scales NHWC pixels to [-1, 1] and moves channels first.
func (m *Model) toNCHW(pixels []float32, n int) *tensor.Dense {
	h, w, c := m.shape.Height, m.shape.Width, m.shape.Channels
	out := make([]float32, len(pixels))
	for b := 0; b < n; b++ {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				src := ((b*h+y)*w + x) * c
				for ch := 0; ch < c; ch++ {
					out[((b*c+ch)*h+y)*w+x] = pixels[src+ch]/127.5 - 1
				}
			}
		}
	}
	return tensor.New(tensor.WithShape(n, c, h, w), tensor.WithBacking(out))
}

// Close releases every cached graph. The model is unusable afterwards.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var err error
	for n, gr := range m.graphs {
		err = multierr.Append(err, gr.close())
		delete(m.graphs, n)
	}
	return err
}
