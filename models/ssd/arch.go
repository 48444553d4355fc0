// Package ssd implements a single-shot multibox detector on gorgonia.
//
// The network is a stack of strided 3x3 convolutions. Predictor heads attached
// to selected backbone layers emit per-anchor class logits and box offsets,
// which are decoded against a fixed anchor grid, filtered by confidence and
// reduced with class-aware non-maximum suppression.
package ssd

import (
	"github.com/pkg/errors"
)

// ConvSpec describes one backbone convolution followed by a ReLU.
type ConvSpec struct {
	Name    string `json:"name" yaml:"name"`
	Filters int    `json:"filters" yaml:"filters"`
	Kernel  int    `json:"kernel" yaml:"kernel"`
	Stride  int    `json:"stride" yaml:"stride"`
}

// Pad returns the symmetric padding that keeps a stride-1 convolution
// size-preserving.
func (c ConvSpec) Pad() int {
	return c.Kernel / 2
}

// OutputSize returns the spatial extent produced from an input extent.
func (c ConvSpec) OutputSize(in int) int {
	return (in+2*c.Pad()-c.Kernel)/c.Stride + 1
}

// HeadSpec attaches a predictor to a backbone layer.
type HeadSpec struct {
	// Source is the index of the backbone layer the head reads from.
	Source int `json:"source" yaml:"source"`
	// Scale is the anchor size as a fraction of the input, applied to each axis
	// separately.
	Scale float32 `json:"scale" yaml:"scale"`
}

// Architecture is the static description of an SSD variant.
type Architecture struct {
	Name         string     `json:"name" yaml:"name"`
	Backbone     []ConvSpec `json:"backbone" yaml:"backbone"`
	Heads        []HeadSpec `json:"heads" yaml:"heads"`
	AspectRatios []float32  `json:"aspect_ratios" yaml:"aspect_ratios"`
	Variances    [4]float32 `json:"variances" yaml:"variances"`
	// HeadKernel is the kernel size of every predictor convolution.
	HeadKernel int `json:"head_kernel" yaml:"head_kernel"`
}

// AnchorsPerCell returns the number of anchors at every feature-map cell.
func (a Architecture) AnchorsPerCell() int {
	return len(a.AspectRatios)
}

// Validate checks the architecture for structural errors.
func (a Architecture) Validate() error {
	if len(a.Backbone) == 0 {
		return errors.Errorf("architecture %q has no backbone layers", a.Name)
	}
	if len(a.Heads) == 0 {
		return errors.Errorf("architecture %q has no predictor heads", a.Name)
	}
	if len(a.AspectRatios) == 0 {
		return errors.Errorf("architecture %q has no aspect ratios", a.Name)
	}
	if a.HeadKernel <= 0 || a.HeadKernel%2 == 0 {
		return errors.Errorf("architecture %q: head kernel must be odd and positive, got %d", a.Name, a.HeadKernel)
	}

	seen := make(map[string]bool, len(a.Backbone))
	for _, c := range a.Backbone {
		if c.Name == "" || seen[c.Name] {
			return errors.Errorf("architecture %q: backbone layer names must be unique and non-empty", a.Name)
		}
		seen[c.Name] = true
		if c.Filters <= 0 || c.Kernel <= 0 || c.Stride <= 0 {
			return errors.Errorf("architecture %q: invalid layer %s", a.Name, c.Name)
		}
	}
	for i, h := range a.Heads {
		if h.Source < 0 || h.Source >= len(a.Backbone) {
			return errors.Errorf("architecture %q: head %d reads from missing layer %d", a.Name, i, h.Source)
		}
		if h.Scale <= 0 {
			return errors.Errorf("architecture %q: head %d has non-positive scale", a.Name, i)
		}
	}
	for _, ar := range a.AspectRatios {
		if ar <= 0 {
			return errors.Errorf("architecture %q: aspect ratios must be positive", a.Name)
		}
	}

	return nil
}

// DefaultVariances are the box-offset scaling factors used during encoding.
var DefaultVariances = [4]float32{0.1, 0.1, 0.2, 0.2}

// SSD7 is a seven-layer detector with four predictor heads.
func SSD7() Architecture {
	return Architecture{
		Name: "ssd7",
		Backbone: []ConvSpec{
			{Name: "conv1", Filters: 32, Kernel: 5, Stride: 1},
			{Name: "conv2", Filters: 48, Kernel: 3, Stride: 2},
			{Name: "conv3", Filters: 64, Kernel: 3, Stride: 2},
			{Name: "conv4", Filters: 64, Kernel: 3, Stride: 2},
			{Name: "conv5", Filters: 48, Kernel: 3, Stride: 2},
			{Name: "conv6", Filters: 48, Kernel: 3, Stride: 2},
			{Name: "conv7", Filters: 32, Kernel: 3, Stride: 2},
		},
		Heads: []HeadSpec{
			{Source: 3, Scale: 0.08},
			{Source: 4, Scale: 0.16},
			{Source: 5, Scale: 0.32},
			{Source: 6, Scale: 0.64},
		},
		AspectRatios: []float32{1.0, 2.0, 0.5},
		Variances:    DefaultVariances,
		HeadKernel:   3,
	}
}

// Tiny is a three-layer detector with two heads, small enough for unit tests
// and low-power targets.
func Tiny() Architecture {
	return Architecture{
		Name: "tiny",
		Backbone: []ConvSpec{
			{Name: "conv1", Filters: 8, Kernel: 3, Stride: 2},
			{Name: "conv2", Filters: 16, Kernel: 3, Stride: 2},
			{Name: "conv3", Filters: 16, Kernel: 3, Stride: 2},
		},
		Heads: []HeadSpec{
			{Source: 1, Scale: 0.3},
			{Source: 2, Scale: 0.6},
		},
		AspectRatios: []float32{1.0, 2.0, 0.5},
		Variances:    DefaultVariances,
		HeadKernel:   3,
	}
}
