package postprocess

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/ssd-detector/images"
)

// randomResults builds n overlapping boxes spread over a 300x300 frame.
func randomResults(n, classes int) []Result {
	rng := rand.New(rand.NewSource(42))
	out := make([]Result, n)
	for i := range out {
		x, y := rng.Float32()*260, rng.Float32()*260
		w, h := 10+rng.Float32()*40, 10+rng.Float32()*40
		out[i] = Result{
			Box:   images.Rect{X1: x, Y1: y, X2: x + w, Y2: y + h},
			Score: rng.Float32(),
			Class: rng.Intn(classes),
		}
	}
	return out
}

func BenchmarkApplyGreedyNMS(b *testing.B) {
	for _, tc := range []struct {
		name   string
		n      int
		config NMSConfig
	}{
		{"200_class_aware", 200, DefaultNMSConfig()},
		{"200_agnostic", 200, NMSConfig{IoUThreshold: 0.45}},
		{"2000_top_200", 2000, NMSConfig{IoUThreshold: 0.45, ClassAware: true, TopK: 200}},
	} {
		results := randomResults(tc.n, 20)
		b.Run(tc.name, func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = ApplyGreedyNMS(results, tc.config)
			}
		})
	}
}

// BenchmarkCalculateIoU measures the pairwise overlap used by suppression.
func BenchmarkCalculateIoU(b *testing.B) {
	r := images.Rect{X1: 0, Y1: 0, X2: 100, Y2: 100}
	o := images.Rect{X1: 50, Y1: 50, X2: 150, Y2: 150}
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = images.CalculateIoU(r, o)
	}
}
