package detector

import (
	"math"
	"path/filepath"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/nvr-ai/ssd-detector/models"
	"github.com/nvr-ai/ssd-detector/models/model"
)

// Configurator turns a parameter mapping into a ready model.
type Configurator struct {
	settings
}

// NewConfigurator creates a configurator.
func NewConfigurator(opts ...Option) *Configurator {
	return &Configurator{settings: newSettings(opts)}
}

// Configure validates params and builds, loads, compiles and finalizes the
// model they describe.
//
// Required keys are checked in RequiredKeys order and the first missing one
// is reported. Any failure after the model is built closes it, so no partial
// model is ever returned.
//
// Arguments:
//   - params: The parameter mapping. Numbers may be given as ints, floats or
//     numeric strings.
//
// Returns:
//   - Config: The resolved configuration.
//   - model.Model: The finalized model, tracked by the inference session.
//   - error: A *ConfigurationError naming the offending key.
func (c *Configurator) Configure(params map[string]any) (Config, model.Model, error) {
	for _, key := range RequiredKeys {
		if v, ok := params[key]; !ok || v == nil {
			return Config{}, nil, configErr(key, ErrMissingKey)
		}
	}

	cfg, pkg, rel, err := c.decode(params)
	if err != nil {
		return Config{}, nil, err
	}

	cfg.WeightFile, err = c.weightFile(pkg, rel)
	if err != nil {
		return Config{}, nil, err
	}

	cfg.Builder, err = c.registry.Lookup(cfg.BuilderModule, cfg.BuilderFunction)
	switch {
	case errors.Is(err, models.ErrUnknownModule):
		return Config{}, nil, configErr(KeyModelBuilderModule, err)
	case err != nil:
		return Config{}, nil, configErr(KeyModelBuilderFunction, err)
	}

	if cfg.BuilderOptions != nil {
		if cfg.Builder, err = configureBuilder(cfg); err != nil {
			return Config{}, nil, err
		}
	}

	if err := c.session.Reset(); err != nil {
		c.logger.Warn("inference session reset reported errors", zap.Error(err))
	}

	m, err := c.build(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	c.session.Track(m)

	c.logger.Info("detector configured",
		zap.String("weight_file", cfg.WeightFile),
		zap.String("builder", cfg.BuilderModule+"."+cfg.BuilderFunction),
		zap.Int("target_height", cfg.TargetSize.Height),
		zap.Int("target_width", cfg.TargetSize.Width),
		zap.Float64("confidence_threshold", cfg.ConfidenceThreshold),
		zap.Int("classes", len(cfg.ClassNames)),
		zap.Bool("partial_load", cfg.PartialLoad),
	)

	return cfg, m, nil
}

// decode converts the raw parameters into a Config without touching the
// filesystem or the registry. The weight package and relative path are
// returned separately for resolution.
func (c *Configurator) decode(params map[string]any) (cfg Config, pkg, rel string, err error) {
	fail := func(err error) (Config, string, string, error) {
		return Config{}, "", "", err
	}

	cfg = Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		PartialLoad:         DefaultPartialLoad,
	}

	strs := []struct {
		key string
		dst *string
	}{
		{KeyWeightFilePackage, &pkg},
		{KeyWeightFilePath, &rel},
		{KeyModelBuilderModule, &cfg.BuilderModule},
		{KeyModelBuilderFunction, &cfg.BuilderFunction},
	}
	for _, s := range strs {
		if err := decodeKey(params, s.key, s.dst); err != nil {
			return fail(err)
		}
		if *s.dst == "" {
			return fail(configErr(s.key, errors.New("must not be empty")))
		}
	}

	if cfg.TargetSize.Height, err = positiveInt(params, KeyTargetHeight); err != nil {
		return fail(err)
	}
	if cfg.TargetSize.Width, err = positiveInt(params, KeyTargetWidth); err != nil {
		return fail(err)
	}

	if v, ok := params[KeyConfidenceThreshold]; ok && v != nil {
		t, err := cast.ToFloat64E(v)
		if err != nil {
			return fail(configErr(KeyConfidenceThreshold, err))
		}
		if math.IsNaN(t) || t < 0 || t > 1 {
			return fail(configErr(KeyConfidenceThreshold, errors.Errorf("%v is outside [0, 1]", t)))
		}
		cfg.ConfidenceThreshold = t
	}

	if err := decodeKey(params, KeyPartialLoad, &cfg.PartialLoad); err != nil {
		return fail(err)
	}

	if err := decodeKey(params, KeyModelBuilderOptions, &cfg.BuilderOptions); err != nil {
		return fail(err)
	}

	var names []string
	if err := decodeKey(params, KeyClassNames, &names); err != nil {
		return fail(err)
	}
	if len(names) == 0 {
		names = c.classNames
	}
	if len(names) == 0 {
		return fail(configErr(KeyClassNames, ErrMissingKey))
	}
	cfg.ClassNames = append([]string(nil), names...)

	return cfg, pkg, rel, nil
}

// weightFile joins the resolved package directory with the relative path.
func (c *Configurator) weightFile(pkg, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return "", configErr(KeyWeightFilePath, errors.Errorf("%q must be relative to the package", rel))
	}
	dir, err := c.resolver.Resolve(pkg)
	if err != nil {
		return "", configErr(KeyWeightFilePackage, err)
	}
	return filepath.Join(dir, rel), nil
}

// configureBuilder applies the builder options to the looked-up builder.
func configureBuilder(cfg Config) (model.Builder, error) {
	cb, ok := cfg.Builder.(model.Configurable)
	if !ok {
		return nil, configErr(KeyModelBuilderOptions,
			errors.Errorf("builder %s.%s takes no options", cfg.BuilderModule, cfg.BuilderFunction))
	}
	b, err := cb.Configure(cfg.BuilderOptions)
	if err != nil {
		return nil, configErr(KeyModelBuilderOptions, err)
	}
	return b, nil
}

// build runs the model lifecycle up to Finalize, closing the model on failure.
func (c *Configurator) build(cfg Config) (model.Model, error) {
	m, err := cfg.Builder.Build(cfg.InputShape(), len(cfg.ClassNames), cfg.ConfidenceThreshold)
	if err != nil {
		return nil, configErr(KeyModelBuilderFunction, errors.Wrap(err, "build model"))
	}
	if m == nil {
		return nil, configErr(KeyModelBuilderFunction, errors.New("builder returned no model"))
	}

	if err := prepare(m, cfg); err != nil {
		if cerr := m.Close(); cerr != nil {
			c.logger.Warn("closing half-built model failed", zap.Error(cerr))
		}
		return nil, err
	}

	return m, nil
}

func prepare(m model.Model, cfg Config) error {
	if err := m.LoadWeights(cfg.WeightFile, cfg.PartialLoad); err != nil {
		return configErr(KeyWeightFilePath, errors.Wrap(err, "load weights"))
	}
	if err := m.Compile(model.DefaultCompileOptions()); err != nil {
		return configErr(KeyModelBuilderFunction, errors.Wrap(err, "compile model"))
	}
	if err := m.Finalize(); err != nil {
		return configErr(KeyModelBuilderFunction, errors.Wrap(err, "finalize model"))
	}
	return nil
}

// decodeKey weakly decodes params[key] into out when the key is present.
func decodeKey(params map[string]any, key string, out any) error {
	v, ok := params[key]
	if !ok || v == nil {
		return nil
	}
	if err := mapstructure.WeakDecode(v, out); err != nil {
		return configErr(key, err)
	}
	return nil
}

// positiveInt reads an integral, positive number. 300, 300.0 and "300" are
// accepted; 300.5 is not.
func positiveInt(params map[string]any, key string) (int, error) {
	if _, ok := params[key].(bool); ok {
		return 0, configErr(key, errors.Errorf("%v is not a positive integer", params[key]))
	}
	f, err := cast.ToFloat64E(params[key])
	if err != nil {
		return 0, configErr(key, err)
	}
	if f != math.Trunc(f) || f <= 0 || f > math.MaxInt32 {
		return 0, configErr(key, errors.Errorf("%v is not a positive integer", params[key]))
	}
	return int(f), nil
}
