// Package postprocess - Postprocessing utilities for models.
package postprocess

import (
	"sort"

	"github.com/nvr-ai/ssd-detector/images"
	"github.com/nvr-ai/ssd-detector/models/model"
)

// Result represents a single decoded candidate box.
type Result struct {
	// The bounding box of the result in model-input pixels.
	Box images.Rect
	// The confidence score of the result.
	Score float32
	// The predicted class index of the result.
	Class int
}

// Raw converts the result into a RawDetection row.
func (r Result) Raw() model.RawDetection {
	return model.RawDetection{
		ClassID:    float32(r.Class),
		Confidence: r.Score,
		XMin:       r.Box.X1,
		YMin:       r.Box.Y1,
		XMax:       r.Box.X2,
		YMax:       r.Box.Y2,
	}
}

// SortByScore orders results by descending score. Equal scores keep their
// relative order.
func SortByScore(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}

// TopK sorts results by descending score and keeps at most k of them.
// A non-positive k keeps everything.
func TopK(results []Result, k int) []Result {
	SortByScore(results)
	if k > 0 && len(results) > k {
		return results[:k]
	}
	return results
}

// ToRaw converts results into RawDetection rows, preserving order.
func ToRaw(results []Result) []model.RawDetection {
	out := make([]model.RawDetection, len(results))
	for i, r := range results {
		out[i] = r.Raw()
	}
	return out
}
