// Package onnxssd runs SSD detectors exported to ONNX through ONNX Runtime.
//
// The expected graph is the TensorFlow object-detection export: one NHWC image
// input and four outputs holding normalized [ymin, xmin, ymax, xmax] boxes,
// class ids, scores and the number of valid detections per image.
package onnxssd

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/nvr-ai/ssd-detector/inference/providers"
)

// IONames are the graph input and output names.
type IONames struct {
	Input   string `json:"input" yaml:"input" mapstructure:"input"`
	Boxes   string `json:"boxes" yaml:"boxes" mapstructure:"boxes"`
	Classes string `json:"classes" yaml:"classes" mapstructure:"classes"`
	Scores  string `json:"scores" yaml:"scores" mapstructure:"scores"`
	Count   string `json:"count" yaml:"count" mapstructure:"count"`
}

// Outputs returns the output names in session order.
func (n IONames) Outputs() []string {
	return []string{n.Boxes, n.Classes, n.Scores, n.Count}
}

// DefaultIONames returns the names of a TensorFlow object-detection export.
func DefaultIONames() IONames {
	return IONames{
		Input:   "image_tensor:0",
		Boxes:   "detection_boxes:0",
		Classes: "detection_classes:0",
		Scores:  "detection_scores:0",
		Count:   "num_detections:0",
	}
}

// Config configures an ONNX SSD model.
type Config struct {
	Names IONames `json:"names" yaml:"names" mapstructure:"names"`
	// ClassOffset is subtracted from the graph's class ids so that the first
	// entry of the class-name list is id 0.
	ClassOffset int              `json:"class_offset" yaml:"class_offset" mapstructure:"class_offset"`
	Providers   providers.Config `json:"providers" yaml:"providers" mapstructure:"providers"`
}

// DefaultConfig returns the configuration for 1-based TensorFlow exports on CPU.
func DefaultConfig() Config {
	return Config{
		Names:       DefaultIONames(),
		ClassOffset: 1,
		Providers:   providers.DefaultConfig(),
	}
}

// resolve maps each wanted name to a name present in the graph.
//
// Exact matches always win. When lenient is set, a wanted name also matches
// a graph name equal to it without the ":N" tensor suffix, in either
// direction, so "detection_boxes" and "detection_boxes:0" are interchangeable.
func resolve(wanted []string, available []string, lenient bool) ([]string, error) {
	set := make(map[string]bool, len(available))
	for _, a := range available {
		set[a] = true
	}

	out := make([]string, len(wanted))
	for i, w := range wanted {
		if set[w] {
			out[i] = w
			continue
		}
		if lenient {
			base := stripPort(w)
			for _, a := range available {
				if stripPort(a) == base {
					out[i] = a
					break
				}
			}
		}
		if out[i] == "" {
			return nil, errors.Errorf("graph has no tensor named %q (available: %s)", w, strings.Join(available, ", "))
		}
	}

	return out, nil
}

func stripPort(name string) string {
	if i := strings.LastIndexByte(name, ':'); i >= 0 {
		return name[:i]
	}
	return name
}
