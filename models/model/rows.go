package model

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Column offsets of a RawDetection row.
const (
	ColClass = iota
	ColConfidence
	ColXMin
	ColYMin
	ColXMax
	ColYMax

	// RowSize is the width of a RawDetection row.
	RowSize
)

// RawDetection is one candidate box in model-input pixel coordinates.
type RawDetection struct {
	ClassID    float32
	Confidence float32
	XMin, YMin float32
	XMax, YMax float32
}

// Row returns the detection as a RawDetection row.
func (d RawDetection) Row() [RowSize]float32 {
	return [RowSize]float32{d.ClassID, d.Confidence, d.XMin, d.YMin, d.XMax, d.YMax}
}

// NewPredictions packs per-image candidates into a (N, K, 6) tensor where K is
// maxCandidates. Missing rows are zero, so their confidence is 0.
//
// Arguments:
//   - perImage: The candidates of each image, in output order.
//   - maxCandidates: The number of rows per image.
//
// Returns:
//   - *tensor.Dense: The prediction tensor.
//   - error: An error if an image has more candidates than maxCandidates.
func NewPredictions(perImage [][]RawDetection, maxCandidates int) (*tensor.Dense, error) {
	if maxCandidates <= 0 {
		return nil, fmt.Errorf("maxCandidates must be positive, got %d", maxCandidates)
	}

	data := make([]float32, len(perImage)*maxCandidates*RowSize)
	for i, dets := range perImage {
		if len(dets) > maxCandidates {
			return nil, fmt.Errorf("image %d has %d candidates, limit is %d", i, len(dets), maxCandidates)
		}
		for j, det := range dets {
			row := det.Row()
			copy(data[(i*maxCandidates+j)*RowSize:], row[:])
		}
	}

	return tensor.New(
		tensor.WithShape(len(perImage), maxCandidates, RowSize),
		tensor.WithBacking(data),
	), nil
}
