// Package model - Compile options.
package model

// AdamConfig configures the Adam optimizer attached at compile time.
type AdamConfig struct {
	LearningRate float64 `json:"learning_rate" yaml:"learning_rate"`
	Beta1        float64 `json:"beta_1" yaml:"beta_1"`
	Beta2        float64 `json:"beta_2" yaml:"beta_2"`
	Epsilon      float64 `json:"epsilon" yaml:"epsilon"`
	Decay        float64 `json:"decay" yaml:"decay"`
}

// SSDLossConfig configures the SSD multibox loss.
type SSDLossConfig struct {
	// NegPosRatio is the maximum ratio of hard negative to positive anchors.
	NegPosRatio int `json:"neg_pos_ratio" yaml:"neg_pos_ratio"`
	// Alpha weights the localization loss against the classification loss.
	Alpha float64 `json:"alpha" yaml:"alpha"`
}

// CompileOptions is the optimizer and loss pair a model is compiled with.
type CompileOptions struct {
	Optimizer AdamConfig    `json:"optimizer" yaml:"optimizer"`
	Loss      SSDLossConfig `json:"loss" yaml:"loss"`
}

// DefaultCompileOptions returns the fixed configuration every detector is
// compiled with.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{
		Optimizer: AdamConfig{
			LearningRate: 0.001,
			Beta1:        0.9,
			Beta2:        0.999,
			Epsilon:      1e-8,
			Decay:        0.0,
		},
		Loss: SSDLossConfig{
			NegPosRatio: 3,
			Alpha:       1.0,
		},
	}
}
