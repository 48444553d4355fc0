package ssd

import (
	"github.com/pkg/errors"

	"github.com/nvr-ai/ssd-detector/models/model"
	"github.com/nvr-ai/ssd-detector/models/postprocess"
)

// decode turns the head outputs of a forward pass into per-image detections.
func (m *Model) decode(gr *graph, n int) ([][]model.RawDetection, error) {
	cls := make([][]float32, len(m.heads))
	box := make([][]float32, len(m.heads))
	for i := range m.heads {
		var ok bool
		if cls[i], ok = gr.cls[i].Value().Data().([]float32); !ok {
			return nil, errors.Errorf("class head %d produced non-float32 output", i)
		}
		if box[i], ok = gr.box[i].Value().Data().([]float32); !ok {
			return nil, errors.Errorf("box head %d produced non-float32 output", i)
		}
	}

	out := make([][]model.RawDetection, n)
	for b := 0; b < n; b++ {
		var candidates []postprocess.Result
		for i, h := range m.heads {
			candidates = append(candidates, m.decodeHead(h, cls[i], box[i], b)...)
		}
		out[b] = postprocess.ToRaw(postprocess.ApplyGreedyNMS(candidates, m.nms))
	}

	return out, nil
}

// decodeHead scores every anchor of one head for image b.
//
// Head outputs are NCHW: channel a*(C+1)+k holds logit k of anchor a, channel
// a*4+j holds offset j. Logit 0 is background, so class k maps to id k-1.
func (m *Model) decodeHead(h *head, cls, box []float32, b int) []postprocess.Result {
	var (
		a       = m.arch.AnchorsPerCell()
		logits  = m.numClasses + 1
		area    = h.fm.Height * h.fm.Width
		clsBase = b * a * logits * area
		boxBase = b * a * 4 * area
		raw     = make([]float32, logits)
		probs   = make([]float32, logits)
		results []postprocess.Result
	)

	for y := 0; y < h.fm.Height; y++ {
		for x := 0; x < h.fm.Width; x++ {
			cell := y*h.fm.Width + x
			for k := 0; k < a; k++ {
				for c := 0; c < logits; c++ {
					raw[c] = cls[clsBase+(k*logits+c)*area+cell]
				}
				softmax(raw, probs)

				var offsets [4]float32
				decoded := false
				for c := 1; c < logits; c++ {
					if probs[c] <= m.threshold {
						continue
					}
					if !decoded {
						for j := range offsets {
							offsets[j] = box[boxBase+(k*4+j)*area+cell]
						}
						decoded = true
					}
					anchor := h.anchors[cell*a+k]
					results = append(results, postprocess.Result{
						Box:   anchor.Decode(offsets, m.arch.Variances, m.shape.Width, m.shape.Height),
						Score: probs[c],
						Class: c - 1,
					})
				}
			}
		}
	}

	return results
}
