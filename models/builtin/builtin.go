// Package builtin registers the model builders shipped with the detector.
//
// Importing the package adds them to models.Default(), which detector.Load
// uses when no registry is given:
//
//	import _ "github.com/nvr-ai/ssd-detector/models/builtin"
package builtin

import (
	"go.uber.org/multierr"

	"github.com/nvr-ai/ssd-detector/models"
	"github.com/nvr-ai/ssd-detector/models/dnn"
	"github.com/nvr-ai/ssd-detector/models/onnxssd"
	"github.com/nvr-ai/ssd-detector/models/ssd"
)

// Module names usable as modelBuilderModule.
const (
	ModuleSSD  = "ssd"
	ModuleONNX = "onnx"
	ModuleDNN  = "dnn"
)

func init() {
	if err := Register(models.Default()); err != nil {
		panic(err)
	}
}

// Register adds the built-in builders to r:
//
//	ssd.ssd7, ssd.tiny     gorgonia networks loading npz weight archives
//	onnx.ssd               TensorFlow SSD exports through ONNX Runtime
//	dnn.ssd                Caffe/TensorFlow SSDs through OpenCV DNN
//
// Returns:
//   - error: The combined registration errors.
func Register(r *models.Registry) error {
	return multierr.Combine(
		r.Register(ModuleSSD, "ssd7", ssd.Builder(ssd.SSD7())),
		r.Register(ModuleSSD, "tiny", ssd.Builder(ssd.Tiny())),
		r.Register(ModuleONNX, "ssd", onnxssd.Builder(onnxssd.DefaultConfig())),
		r.Register(ModuleDNN, "ssd", dnn.Builder(dnn.DefaultConfig())),
	)
}

// NewRegistry returns a registry holding the built-in builders.
func NewRegistry() *models.Registry {
	r := models.NewRegistry()
	if err := Register(r); err != nil {
		panic(err)
	}
	return r
}
