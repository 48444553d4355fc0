package onnxssd

import (
	"sync"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/inference/providers"
	"github.com/nvr-ai/ssd-detector/models/model"
)

// Model is an ONNX SSD run through a dynamic ONNX Runtime session.
type Model struct {
	cfg        Config
	shape      model.InputShape
	numClasses int
	threshold  float32

	path      string
	input     string
	outputs   []string
	uint8In   bool
	compiled  *model.CompileOptions
	session   *ort.DynamicAdvancedSession
	finalized bool

	mu sync.Mutex
}

// New creates an unloaded ONNX SSD model.
func New(cfg Config, shape model.InputShape, numClasses int, confidenceThreshold float64) (*Model, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("numClasses must be positive, got %d", numClasses)
	}
	if err := cfg.Providers.Validate(); err != nil {
		return nil, err
	}
	return &Model{
		cfg:        cfg,
		shape:      shape,
		numClasses: numClasses,
		threshold:  float32(confidenceThreshold),
	}, nil
}

// Builder returns a model.Builder for cfg.
func Builder(cfg Config) model.Builder {
	return builder{cfg: cfg}
}

type builder struct {
	cfg Config
}

func (b builder) Build(shape model.InputShape, numClasses int, confidenceThreshold float64) (model.Model, error) {
	return New(b.cfg, shape, numClasses, confidenceThreshold)
}

// Configure decodes tensor names, the class offset and the execution
// provider settings over the builder's configuration.
func (b builder) Configure(options map[string]any) (model.Builder, error) {
	cfg := b.cfg
	if err := model.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Providers.Validate(); err != nil {
		return nil, err
	}
	return builder{cfg: cfg}, nil
}

// LoadWeights inspects the ONNX file and binds the configured tensor names.
// With partial set, names differing only in their ":N" suffix are accepted.
func (m *Model) LoadWeights(path string, partial bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return errors.New("cannot load weights into a finalized model")
	}

	inputs, outputs, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return errors.Wrapf(err, "inspect %s", path)
	}

	inNames := make([]string, len(inputs))
	for i, info := range inputs {
		inNames[i] = info.Name
	}
	outNames := make([]string, len(outputs))
	for i, info := range outputs {
		outNames[i] = info.Name
	}

	in, err := resolve([]string{m.cfg.Names.Input}, inNames, partial)
	if err != nil {
		return errors.Wrap(err, "input")
	}
	out, err := resolve(m.cfg.Names.Outputs(), outNames, partial)
	if err != nil {
		return errors.Wrap(err, "outputs")
	}

	for _, info := range inputs {
		if info.Name != in[0] {
			continue
		}
		switch info.DataType {
		case ort.TensorElementDataTypeUint8:
			m.uint8In = true
		case ort.TensorElementDataTypeFloat:
			m.uint8In = false
		default:
			return errors.Errorf("unsupported input type %v", info.DataType)
		}
	}

	m.path, m.input, m.outputs = path, in[0], out

	return nil
}

// Compile records the options. ONNX graphs are inference-only.
func (m *Model) Compile(opts model.CompileOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiled = &opts
	return nil
}

// Finalize creates the ONNX Runtime session.
func (m *Model) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.path == "" {
		return errors.New("weights not loaded")
	}
	if m.finalized {
		return nil
	}

	options, err := providers.NewSessionOptions(m.cfg.Providers)
	if err != nil {
		return err
	}
	defer options.Destroy()

	session, err := ort.NewDynamicAdvancedSession(m.path, []string{m.input}, m.outputs, options)
	if err != nil {
		return errors.Wrap(err, "create ORT session")
	}
	m.session = session
	m.finalized = true

	return nil
}

// Predict runs a (N, H, W, 3) batch and returns (N, K, 6) rows, K being the
// graph's detection capacity.
func (m *Model) Predict(batch *tensor.Dense) (*tensor.Dense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.finalized {
		return nil, errors.New("model is not finalized")
	}

	s := batch.Shape()
	if s.Dims() != 4 || s[1] != m.shape.Height || s[2] != m.shape.Width || s[3] != m.shape.Channels {
		return nil, errors.Errorf("batch shape %v does not match (N, %d, %d, %d)", s, m.shape.Height, m.shape.Width, m.shape.Channels)
	}
	pixels, ok := batch.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("batch dtype %v is not float32", batch.Dtype())
	}

	input, err := m.newInput(pixels, s)
	if err != nil {
		return nil, err
	}
	defer input.Destroy()

	outputs := make([]ort.Value, len(m.outputs))
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, errors.Wrap(err, "run ORT session")
	}

	var data [4][]float32
	for i, name := range []string{"boxes", "classes", "scores", "count"} {
		if data[i], err = floats(outputs[i], name); err != nil {
			return nil, err
		}
	}

	return m.rows(data[0], data[1], data[2], data[3], s[0])
}

func (m *Model) newInput(pixels []float32, s tensor.Shape) (ort.Value, error) {
	shape := ort.NewShape(int64(s[0]), int64(s[1]), int64(s[2]), int64(s[3]))
	if !m.uint8In {
		t, err := ort.NewTensor(shape, pixels)
		return t, errors.Wrap(err, "create input tensor")
	}

	data := make([]uint8, len(pixels))
	for i, v := range pixels {
		data[i] = uint8(min(max(v, 0), 255))
	}
	t, err := ort.NewTensor(shape, data)
	return t, errors.Wrap(err, "create input tensor")
}

// rows converts the four graph outputs of an n-image batch into detection
// rows in input pixels.
func (m *Model) rows(boxes, classes, scores, counts []float32, n int) (*tensor.Dense, error) {
	if n == 0 || len(scores)%n != 0 {
		return nil, errors.Errorf("scores output of length %d does not split into %d images", len(scores), n)
	}
	k := len(scores) / n
	if len(boxes) != n*k*4 || len(classes) != n*k || len(counts) != n {
		return nil, errors.Errorf("inconsistent output lengths boxes=%d classes=%d scores=%d count=%d",
			len(boxes), len(classes), len(scores), len(counts))
	}

	h, w := float32(m.shape.Height), float32(m.shape.Width)
	perImage := make([][]model.RawDetection, n)
	for b := 0; b < n; b++ {
		valid := min(int(counts[b]), k)
		for j := 0; j < valid; j++ {
			i := b*k + j
			if scores[i] <= m.threshold {
				continue
			}
			box := boxes[i*4 : i*4+4]
			perImage[b] = append(perImage[b], model.RawDetection{
				ClassID:    classes[i] - float32(m.cfg.ClassOffset),
				Confidence: scores[i],
				XMin:       box[1] * w,
				YMin:       box[0] * h,
				XMax:       box[3] * w,
				YMax:       box[2] * h,
			})
		}
	}

	return model.NewPredictions(perImage, max(k, 1))
}

func floats(v ort.Value, name string) ([]float32, error) {
	t, ok := v.(*ort.Tensor[float32])
	if !ok {
		return nil, errors.Errorf("%s output is %T, expected a float32 tensor", name, v)
	}
	return t.GetData(), nil
}

// Close destroys the session.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.session != nil {
		err = multierr.Append(err, m.session.Destroy())
		m.session = nil
	}
	m.finalized = false
	return err
}
