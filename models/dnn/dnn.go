// Package dnn runs Caffe and TensorFlow SSD detectors through OpenCV DNN.
package dnn

import (
	"image"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/models/model"
)

// DetectionWidth is the width of an OpenCV DetectionOutput row:
// [imageId, label, confidence, xmin, ymin, xmax, ymax], coordinates normalized.
const DetectionWidth = 7

// Config configures an OpenCV DNN SSD.
type Config struct {
	// ConfigFile is the network description (.prototxt or .pbtxt). A relative
	// path is resolved against the weight file's directory. Empty loads the
	// weight file alone.
	ConfigFile string `json:"config_file" yaml:"config_file" mapstructure:"config_file"`
	// Scale multiplies pixel values after the mean is subtracted.
	Scale float64 `json:"scale" yaml:"scale" mapstructure:"scale"`
	// Mean is subtracted from each channel.
	Mean [3]float64 `json:"mean" yaml:"mean" mapstructure:"mean"`
	// SwapRB converts the RGB input to BGR.
	SwapRB bool `json:"swap_rb" yaml:"swap_rb" mapstructure:"swap_rb"`
	// ClassOffset is subtracted from the network's labels; 1 drops background.
	ClassOffset int `json:"class_offset" yaml:"class_offset" mapstructure:"class_offset"`

	Backend gocv.NetBackendType `json:"backend" yaml:"backend" mapstructure:"backend"`
	Target  gocv.NetTargetType  `json:"target" yaml:"target" mapstructure:"target"`
}

// DefaultConfig returns the preprocessing of the Caffe MobileNet-SSD release.
func DefaultConfig() Config {
	return Config{
		Scale:       1.0 / 127.5,
		Mean:        [3]float64{127.5, 127.5, 127.5},
		SwapRB:      false,
		ClassOffset: 1,
		Backend:     gocv.NetBackendDefault,
		Target:      gocv.NetTargetCPU,
	}
}

// Model is an SSD loaded through gocv.ReadNet.
type Model struct {
	cfg        Config
	shape      model.InputShape
	numClasses int
	threshold  float32

	net       gocv.Net
	loaded    bool
	finalized bool
	compiled  *model.CompileOptions

	mu sync.Mutex
}

// New creates an unloaded model.
func New(cfg Config, shape model.InputShape, numClasses int, confidenceThreshold float64) (*Model, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if numClasses <= 0 {
		return nil, errors.Errorf("numClasses must be positive, got %d", numClasses)
	}
	if cfg.Scale == 0 {
		return nil, errors.New("scale must not be zero")
	}
	return &Model{
		cfg:        cfg,
		shape:      shape,
		numClasses: numClasses,
		threshold:  float32(confidenceThreshold),
	}, nil
}

// Builder returns a model.Builder for cfg. The builder accepts Config fields
// as modelBuilderOptions, keyed by their mapstructure tags.
func Builder(cfg Config) model.Builder {
	return builder{cfg: cfg}
}

type builder struct {
	cfg Config
}

func (b builder) Build(shape model.InputShape, numClasses int, confidenceThreshold float64) (model.Model, error) {
	return New(b.cfg, shape, numClasses, confidenceThreshold)
}

func (b builder) Configure(options map[string]any) (model.Builder, error) {
	cfg := b.cfg
	if err := model.DecodeOptions(options, &cfg); err != nil {
		return nil, err
	}
	if cfg.Scale == 0 {
		return nil, errors.New("scale must not be zero")
	}
	return builder{cfg: cfg}, nil
}

// LoadWeights reads the network. When partial is false a configured
// ConfigFile must exist; when true a missing one is ignored and the weight
// file is loaded alone.
func (m *Model) LoadWeights(path string, partial bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.finalized {
		return errors.New("cannot load weights into a finalized model")
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "weight file")
	}

	cfgFile := m.cfg.ConfigFile
	if cfgFile != "" && !filepath.IsAbs(cfgFile) {
		cfgFile = filepath.Join(filepath.Dir(path), cfgFile)
	}
	if cfgFile != "" {
		if _, err := os.Stat(cfgFile); err != nil {
			if !partial {
				return errors.Wrap(err, "network config file")
			}
			cfgFile = ""
		}
	}

	net := gocv.ReadNet(path, cfgFile)
	if net.Empty() {
		return errors.Errorf("OpenCV could not read %s", path)
	}
	if len(net.GetLayerNames()) == 0 {
		net.Close()
		return errors.Errorf("network %s has no layers", path)
	}

	if m.loaded {
		m.net.Close()
	}
	m.net, m.loaded = net, true

	return nil
}

// Compile records the options. OpenCV DNN networks are inference-only.
func (m *Model) Compile(opts model.CompileOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compiled = &opts
	return nil
}

// Finalize selects the backend and target.
func (m *Model) Finalize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.loaded {
		return errors.New("weights not loaded")
	}
	if err := m.net.SetPreferableBackend(m.cfg.Backend); err != nil {
		return errors.Wrap(err, "set backend")
	}
	if err := m.net.SetPreferableTarget(m.cfg.Target); err != nil {
		return errors.Wrap(err, "set target")
	}
	m.finalized = true

	return nil
}

// Predict runs every image of a (N, H, W, 3) batch through the network and
// returns (N, K, 6) rows, K being the largest per-image detection count.
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

	stride := m.shape.Height * m.shape.Width * m.shape.Channels
	perImage := make([][]model.RawDetection, s[0])
	capacity := 1
	for b := range perImage {
		raw, err := m.forward(pixels[b*stride : (b+1)*stride])
		if err != nil {
			return nil, errors.Wrapf(err, "image %d", b)
		}
		perImage[b] = m.rows(raw)
		capacity = max(capacity, len(perImage[b]))
	}

	return model.NewPredictions(perImage, capacity)
}

// forward runs one HWC image and returns the flattened DetectionOutput rows.
func (m *Model) forward(pixels []float32) ([]float32, error) {
	img := gocv.NewMatWithSize(m.shape.Height, m.shape.Width, gocv.MatTypeCV32FC3)
	defer img.Close()

	data, err := img.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "access input mat")
	}
	copy(data, pixels)

	mean := gocv.NewScalar(m.cfg.Mean[0], m.cfg.Mean[1], m.cfg.Mean[2], 0)
	blob := gocv.BlobFromImage(img, m.cfg.Scale, image.Pt(m.shape.Width, m.shape.Height), mean, m.cfg.SwapRB, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()
	if out.Empty() {
		return nil, errors.New("network returned empty output")
	}

	total := int(out.Total())
	if total%DetectionWidth != 0 {
		return nil, errors.Errorf("output of %d values is not made of %d-wide rows", total, DetectionWidth)
	}

	flat := out.Reshape(1, total/DetectionWidth)
	defer flat.Close()

	raw := make([]float32, 0, total)
	for i := 0; i < flat.Rows(); i++ {
		for j := 0; j < DetectionWidth; j++ {
			raw = append(raw, flat.GetFloatAt(i, j))
		}
	}
	return raw, nil
}

// rows keeps DetectionOutput rows above the threshold and scales their
// normalized corners to input pixels.
func (m *Model) rows(raw []float32) []model.RawDetection {
	w, h := float32(m.shape.Width), float32(m.shape.Height)
	var out []model.RawDetection
	for i := 0; i+DetectionWidth <= len(raw); i += DetectionWidth {
		r := raw[i : i+DetectionWidth]
		if r[2] <= m.threshold {
			continue
		}
		out = append(out, model.RawDetection{
			ClassID:    r[1] - float32(m.cfg.ClassOffset),
			Confidence: r[2],
			XMin:       r[3] * w,
			YMin:       r[4] * h,
			XMax:       r[5] * w,
			YMax:       r[6] * h,
		})
	}
	return out
}

// Close releases the network.
func (m *Model) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded {
		m.loaded = false
		m.finalized = false
		return m.net.Close()
	}
	return nil
}
