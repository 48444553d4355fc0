package detector

import (
	"image"
	"math"

	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"github.com/nvr-ai/ssd-detector/images"
	"github.com/nvr-ai/ssd-detector/models/model"
)

// Detection is one detected object in original-image pixels.
type Detection struct {
	Class      string  `json:"class" yaml:"class"`
	ClassID    int     `json:"class_id" yaml:"class_id"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	XMin       float64 `json:"x_min" yaml:"x_min"`
	YMin       float64 `json:"y_min" yaml:"y_min"`
	XMax       float64 `json:"x_max" yaml:"x_max"`
	YMax       float64 `json:"y_max" yaml:"y_max"`
}

// Detector runs batches through a configured model and postprocesses the
// raw rows.
//
// Detect holds no lock of its own. It is safe for concurrent use when the
// model's Predict is, which holds for every finalized model in this module.
type Detector struct {
	cfg    Config
	model  model.Model
	logger *zap.Logger
}

// New wraps a finalized model. The configuration is copied.
func New(cfg Config, m model.Model, opts ...Option) *Detector {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	return &Detector{cfg: cfg.clone(), model: m, logger: s.logger}
}

// Load configures a model from params and wraps it in a Detector.
func Load(params map[string]any, opts ...Option) (*Detector, error) {
	cfg, m, err := NewConfigurator(opts...).Configure(params)
	if err != nil {
		return nil, err
	}
	return New(cfg, m, opts...), nil
}

// Config returns a copy of the detector configuration.
func (d *Detector) Config() Config {
	return d.cfg.clone()
}

// Detect finds objects in a batch of images already resized to the target
// size.
//
// Arguments:
//   - batch: (H, W, 3) image tensors of the target size, float32 or float64.
//   - sizes: The original size of each image, aligned with batch.
//
// Returns:
//   - [][]Detection: One list per image, in model row order. Images without
//     detections get an empty, non-nil list.
//   - error: An *InferenceError if the inputs or the prediction are malformed.
func (d *Detector) Detect(batch []*tensor.Dense, sizes []images.Size) ([][]Detection, error) {
	if len(batch) != len(sizes) {
		return nil, inferenceErrf("%d images but %d sizes", len(batch), len(sizes))
	}
	n := len(batch)
	if n == 0 {
		return [][]Detection{}, nil
	}

	stacked, err := d.stack(batch)
	if err != nil {
		return nil, err
	}

	pred, err := d.model.Predict(stacked)
	if err != nil {
		return nil, &InferenceError{Err: err}
	}

	rows, err := predictionRows(pred, n)
	if err != nil {
		return nil, err
	}

	th, tw := float64(d.cfg.TargetSize.Height), float64(d.cfg.TargetSize.Width)

	out := make([][]Detection, n)
	survivors := 0
	for i := 0; i < n; i++ {
		sx := float64(sizes[i].Width) / tw
		sy := float64(sizes[i].Height) / th

		dets := []Detection{}
		for j := 0; j < rows.k; j++ {
			if !rows.above(i, j, d.cfg.ConfidenceThreshold) {
				continue
			}
			row := rows.row(i, j)

			id := row[model.ColClass]
			if id != math.Trunc(id) || id < 0 || id >= float64(len(d.cfg.ClassNames)) {
				return nil, inferenceErrf("image %d row %d: class id %v outside [0, %d)", i, j, id, len(d.cfg.ClassNames))
			}

			dets = append(dets, Detection{
				Class:      d.cfg.ClassNames[int(id)],
				ClassID:    int(id),
				Confidence: row[model.ColConfidence],
				XMin:       row[model.ColXMin] * sx,
				YMin:       row[model.ColYMin] * sy,
				XMax:       row[model.ColXMax] * sx,
				YMax:       row[model.ColYMax] * sy,
			})
		}
		survivors += len(dets)
		out[i] = dets
	}

	d.logger.Debug("batch detected",
		zap.Int("images", n),
		zap.Int("rows_per_image", rows.k),
		zap.Int("detections", survivors),
	)

	return out, nil
}

// DetectImages resizes decoded images to the target size and detects objects
// in them, reporting boxes in each image's own pixels.
func (d *Detector) DetectImages(imgs []image.Image) ([][]Detection, error) {
	batch := make([]*tensor.Dense, len(imgs))
	sizes := make([]images.Size, len(imgs))
	for i, img := range imgs {
		t, size, err := images.ToTensor(img, d.cfg.TargetSize)
		if err != nil {
			return nil, inferenceErrf("image %d: %v", i, err)
		}
		batch[i], sizes[i] = t, size
	}
	return d.Detect(batch, sizes)
}

// stack copies the images into one (N, H, W, 3) float32 tensor.
func (d *Detector) stack(batch []*tensor.Dense) (*tensor.Dense, error) {
	h, w := d.cfg.TargetSize.Height, d.cfg.TargetSize.Width
	stride := h * w * model.Channels
	data := make([]float32, len(batch)*stride)

	for i, img := range batch {
		if img == nil {
			return nil, inferenceErrf("image %d is nil", i)
		}
		if s := img.Shape(); s.Dims() != 3 || s[0] != h || s[1] != w || s[2] != model.Channels {
			return nil, inferenceErrf("image %d has shape %v, expected (%d, %d, %d)", i, s, h, w, model.Channels)
		}

		dst := data[i*stride : (i+1)*stride]
		switch src := img.Data().(type) {
		case []float32:
			copy(dst, src)
		case []float64:
			for j, v := range src {
				dst[j] = float32(v)
			}
		default:
			return nil, inferenceErrf("image %d has unsupported dtype %v", i, img.Dtype())
		}
	}

	return tensor.New(tensor.WithShape(len(batch), h, w, model.Channels), tensor.WithBacking(data)), nil
}

// predictionRows validates a (N, K, 6) prediction.
func predictionRows(pred *tensor.Dense, n int) (rowSet, error) {
	if pred == nil {
		return rowSet{}, inferenceErrf("model returned no prediction")
	}
	s := pred.Shape()
	if s.Dims() != 3 || s[2] != model.RowSize {
		return rowSet{}, inferenceErrf("prediction shape %v is not (N, K, %d)", s, model.RowSize)
	}
	if s[0] != n {
		return rowSet{}, inferenceErrf("number of predictions %d does not match number of images %d", s[0], n)
	}

	switch data := pred.Data().(type) {
	case []float32:
		return rowSet{f32: data, k: s[1]}, nil
	case []float64:
		return rowSet{f64: data, wide: true, k: s[1]}, nil
	default:
		return rowSet{}, inferenceErrf("prediction dtype %v is not floating point", pred.Dtype())
	}
}

// rowSet reads prediction rows in the precision the model produced them.
type rowSet struct {
	f32  []float32
	f64  []float64
	wide bool
	k    int
}

// above reports whether the confidence of row j of image i is strictly
// greater than threshold, compared in the prediction's own precision.
func (r rowSet) above(i, j int, threshold float64) bool {
	at := (i*r.k+j)*model.RowSize + model.ColConfidence
	if r.wide {
		return r.f64[at] > threshold
	}
	return r.f32[at] > float32(threshold)
}

func (r rowSet) row(i, j int) [model.RowSize]float64 {
	var row [model.RowSize]float64
	at := (i*r.k + j) * model.RowSize
	for c := range row {
		if r.wide {
			row[c] = r.f64[at+c]
		} else {
			row[c] = float64(r.f32[at+c])
		}
	}
	return row
}

// Close releases the model. Models tolerate a second Close from the
// inference session's next reset.
func (d *Detector) Close() error {
	if d.model == nil {
		return nil
	}
	return d.model.Close()
}
