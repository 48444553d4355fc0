package ssd

import (
	"github.com/chewxy/math32"

	"github.com/nvr-ai/ssd-detector/images"
)

// Anchor is a default box in normalized [0, 1] center form.
type Anchor struct {
	CX, CY float32
	W, H   float32
}

// FeatureMap is the spatial extent of one head's output.
type FeatureMap struct {
	Height, Width int
}

// FeatureMaps returns the output extent of every backbone layer for an input
// of height x width.
func (a Architecture) FeatureMaps(height, width int) []FeatureMap {
	maps := make([]FeatureMap, len(a.Backbone))
	h, w := height, width
	for i, c := range a.Backbone {
		h, w = c.OutputSize(h), c.OutputSize(w)
		maps[i] = FeatureMap{Height: h, Width: w}
	}
	return maps
}

// GenerateAnchors lays out the anchors of a feature map in (y, x, ratio)
// order.
//
// Arguments:
//   - fm: The feature map extent.
//   - scale: The anchor size relative to the input.
//   - ratios: The width/height aspect ratios emitted per cell.
//
// Returns:
//   - []Anchor: fm.Height*fm.Width*len(ratios) anchors.
func GenerateAnchors(fm FeatureMap, scale float32, ratios []float32) []Anchor {
	anchors := make([]Anchor, 0, fm.Height*fm.Width*len(ratios))
	for y := 0; y < fm.Height; y++ {
		cy := (float32(y) + 0.5) / float32(fm.Height)
		for x := 0; x < fm.Width; x++ {
			cx := (float32(x) + 0.5) / float32(fm.Width)
			for _, ar := range ratios {
				s := math32.Sqrt(ar)
				anchors = append(anchors, Anchor{CX: cx, CY: cy, W: scale * s, H: scale / s})
			}
		}
	}
	return anchors
}

// Decode applies encoded offsets (dcx, dcy, dw, dh) to the anchor and returns
// the box in pixels of a width x height input, clipped to the image.
func (a Anchor) Decode(offsets [4]float32, variances [4]float32, width, height int) images.Rect {
	cx := a.CX + offsets[0]*variances[0]*a.W
	cy := a.CY + offsets[1]*variances[1]*a.H
	w := a.W * math32.Exp(offsets[2]*variances[2])
	h := a.H * math32.Exp(offsets[3]*variances[3])

	fw, fh := float32(width), float32(height)
	return images.Rect{
		X1: clamp((cx-w/2)*fw, 0, fw),
		Y1: clamp((cy-h/2)*fh, 0, fh),
		X2: clamp((cx+w/2)*fw, 0, fw),
		Y2: clamp((cy+h/2)*fh, 0, fh),
	}
}

func clamp(v, lo, hi float32) float32 {
	return math32.Min(math32.Max(v, lo), hi)
}

// softmax writes the normalized exponentials of logits into out.
func softmax(logits, out []float32) {
	peak := logits[0]
	for _, v := range logits[1:] {
		peak = math32.Max(peak, v)
	}
	var sum float32
	for i, v := range logits {
		out[i] = math32.Exp(v - peak)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
}
