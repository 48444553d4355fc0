// Package model - Contracts shared by every detection model backend.
package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Channels is the number of color channels every builder receives.
const Channels = 3

// InputShape is the fixed (height, width, channels) input of a model.
type InputShape struct {
	Height   int `json:"height" yaml:"height"`
	Width    int `json:"width" yaml:"width"`
	Channels int `json:"channels" yaml:"channels"`
}

// Validate checks that every dimension is positive.
func (s InputShape) Validate() error {
	if s.Height <= 0 || s.Width <= 0 || s.Channels <= 0 {
		return fmt.Errorf("invalid input shape (%d, %d, %d)", s.Height, s.Width, s.Channels)
	}
	return nil
}

// Dims returns the shape as a tensor shape without the batch axis.
func (s InputShape) Dims() tensor.Shape {
	return tensor.Shape{s.Height, s.Width, s.Channels}
}

// Model is a detection network that turns a batch of images into rows of
// candidate detections.
//
// The lifecycle is Build → LoadWeights → Compile → Finalize → Predict... → Close.
type Model interface {
	// LoadWeights populates the network from a weight file. When partial is
	// true, weights are matched to layers by name and unmatched entries on
	// either side are skipped; otherwise every layer must be matched.
	LoadWeights(path string, partial bool) error
	// Compile attaches the optimizer and loss configuration.
	Compile(opts CompileOptions) error
	// Finalize freezes the model so Predict may be called from any goroutine.
	Finalize() error
	// Predict runs one forward pass over a (N, H, W, 3) batch and returns a
	// (N, K, 6) tensor of RawDetection rows.
	Predict(batch *tensor.Dense) (*tensor.Dense, error)
	// Close releases the resources held by the model.
	Close() error
}

// Builder constructs an untrained model for a fixed input shape.
type Builder interface {
	Build(shape InputShape, numClasses int, confidenceThreshold float64) (Model, error)
}

// BuilderFunc adapts a plain function to the Builder interface.
type BuilderFunc func(shape InputShape, numClasses int, confidenceThreshold float64) (Model, error)

// Build calls f.
func (f BuilderFunc) Build(shape InputShape, numClasses int, confidenceThreshold float64) (Model, error) {
	return f(shape, numClasses, confidenceThreshold)
}
