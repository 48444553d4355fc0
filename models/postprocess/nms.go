// Package postprocess - provides Non-Maximum Suppression for detection results.
package postprocess

import (
	"github.com/nvr-ai/ssd-detector/images"
)

// NMSConfig defines parameters for Non-Maximum Suppression.
type NMSConfig struct {
	IoUThreshold float32 `json:"iou_threshold" yaml:"iou_threshold"` // Overlap threshold for suppression.
	ClassAware   bool    `json:"class_aware" yaml:"class_aware"`     // If true, suppress only within same class.
	TopK         int     `json:"top_k" yaml:"top_k"`                 // Maximum number of kept boxes; 0 keeps all.
}

// DefaultNMSConfig returns the suppression settings of the reference SSD decoder.
func DefaultNMSConfig() NMSConfig {
	return NMSConfig{
		IoUThreshold: 0.45,
		ClassAware:   true,
		TopK:         200,
	}
}

// ApplyGreedyNMS performs standard greedy Non-Maximum Suppression.
//
// Arguments:
//   - detections: Candidate boxes in any order.
//   - config: NMS configuration.
//
// Returns:
//   - The surviving boxes sorted by descending confidence, at most config.TopK
//     of them. If no detections are provided, returns nil.
func ApplyGreedyNMS(detections []Result, config NMSConfig) []Result {
	n := len(detections)
	if n == 0 {
		return nil
	}

	sorted := make([]Result, n)
	copy(sorted, detections)
	SortByScore(sorted)

	filtered := make([]Result, 0, n)
	used := make([]bool, n)

	for i := 0; i < n; i++ {
		if used[i] {
			continue
		}

		anchor := sorted[i]
		filtered = append(filtered, anchor)
		used[i] = true

		if config.TopK > 0 && len(filtered) == config.TopK {
			break
		}

		for j := i + 1; j < n; j++ {
			if used[j] {
				continue
			}
			if config.ClassAware && sorted[j].Class != anchor.Class {
				continue
			}

			// Suppress if IoU exceeds threshold
			if images.CalculateIoU(anchor.Box, sorted[j].Box) > config.IoUThreshold {
				used[j] = true
			}
		}
	}

	return filtered
}
