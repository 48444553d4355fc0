package detector

import (
	"maps"

	"go.uber.org/zap"

	"github.com/nvr-ai/ssd-detector/images"
	"github.com/nvr-ai/ssd-detector/inference"
	"github.com/nvr-ai/ssd-detector/models"
	"github.com/nvr-ai/ssd-detector/models/model"
	"github.com/nvr-ai/ssd-detector/pkgpath"
)

// Parameter keys accepted by Configure.
const (
	KeyWeightFilePackage    = "weightFilePackage"
	KeyWeightFilePath       = "weightFilePath"
	KeyTargetHeight         = "targetHeight"
	KeyTargetWidth          = "targetWidth"
	KeyModelBuilderModule   = "modelBuilderModule"
	KeyModelBuilderFunction = "modelBuilderFunction"
	KeyConfidenceThreshold  = "confidenceThreshold"
	KeyPartialLoad          = "partialLoad"
	KeyClassNames           = "classNames"
	KeyModelBuilderOptions  = "modelBuilderOptions"
)

// RequiredKeys lists the mandatory parameters in the order they are checked.
var RequiredKeys = []string{
	KeyWeightFilePackage,
	KeyWeightFilePath,
	KeyTargetHeight,
	KeyTargetWidth,
	KeyModelBuilderModule,
	KeyModelBuilderFunction,
}

const (
	// DefaultConfidenceThreshold applies when confidenceThreshold is omitted.
	DefaultConfidenceThreshold = 0.5
	// DefaultPartialLoad applies when partialLoad is omitted.
	DefaultPartialLoad = true
)

// Config is the resolved detector configuration. It is built once by
// Configure and not changed afterwards.
type Config struct {
	// TargetSize is the fixed model input size.
	TargetSize images.Size `json:"target_size" yaml:"target_size"`
	// ConfidenceThreshold is the strict lower bound a detection's confidence
	// must exceed.
	ConfidenceThreshold float64 `json:"confidence_threshold" yaml:"confidence_threshold"`
	// ClassNames maps class ids to labels by position.
	ClassNames []string `json:"class_names" yaml:"class_names"`
	// WeightFile is the absolute weight file path.
	WeightFile string `json:"weight_file" yaml:"weight_file"`
	// PartialLoad matches weights to layers by name, skipping the unmatched.
	PartialLoad bool `json:"partial_load" yaml:"partial_load"`

	BuilderModule   string `json:"builder_module" yaml:"builder_module"`
	BuilderFunction string `json:"builder_function" yaml:"builder_function"`
	// BuilderOptions override the backend settings of a model.Configurable
	// builder.
	BuilderOptions map[string]any `json:"builder_options,omitempty" yaml:"builder_options,omitempty"`
	Builder        model.Builder  `json:"-" yaml:"-"`
}

// InputShape returns the (height, width, 3) model input.
func (c Config) InputShape() model.InputShape {
	return model.InputShape{Height: c.TargetSize.Height, Width: c.TargetSize.Width, Channels: model.Channels}
}

func (c Config) clone() Config {
	c.ClassNames = append([]string(nil), c.ClassNames...)
	c.BuilderOptions = maps.Clone(c.BuilderOptions)
	return c
}

type settings struct {
	logger     *zap.Logger
	registry   *models.Registry
	resolver   pkgpath.Resolver
	session    *inference.Session
	classNames []string
}

func newSettings(opts []Option) settings {
	s := settings{}
	for _, opt := range opts {
		opt(&s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.registry == nil {
		s.registry = models.Default()
	}
	if s.resolver == nil {
		s.resolver = pkgpath.FromEnv()
	}
	if s.session == nil {
		s.session = inference.Default()
	}
	return s
}

// Option configures a Configurator or Detector.
type Option func(*settings)

// WithLogger sets the structured logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithRegistry sets the builder registry. The default is models.Default().
func WithRegistry(r *models.Registry) Option {
	return func(s *settings) { s.registry = r }
}

// WithResolver sets the package resolver. The default searches
// ROS_PACKAGE_PATH.
func WithResolver(r pkgpath.Resolver) Option {
	return func(s *settings) { s.resolver = r }
}

// WithSession sets the inference session. The default is inference.Default().
func WithSession(sess *inference.Session) Option {
	return func(s *settings) { s.session = sess }
}

// WithClassNames supplies the class names when the parameters carry none.
func WithClassNames(names []string) Option {
	return func(s *settings) { s.classNames = append([]string(nil), names...) }
}
