package main

import (
	"encoding/json"
	"image"
	"io"
	"os"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/ssd-detector/detector"
	"github.com/nvr-ai/ssd-detector/images"
	"github.com/nvr-ai/ssd-detector/inference"
	"github.com/nvr-ai/ssd-detector/models"
	"github.com/nvr-ai/ssd-detector/models/builtin"
	"github.com/nvr-ai/ssd-detector/pkgpath"
)

const (
	flagParams      = "params"
	flagClasses     = "classes"
	flagClassFamily = "class-family"
	flagEnvFile     = "env-file"
	flagPackagePath = "package-path"
	flagORTLibrary  = "ort-library"
	flagDebug       = "debug"
	flagPretty      = "pretty"
	envPrefix       = "SSD_DETECT_"
	defaultEnvFile  = ".env"
)

func newApp() *cli.App {
	return &cli.App{
		Name:      "detect",
		Usage:     "run a single-shot object detector over image files",
		ArgsUsage: "IMAGE...",
		Flags: []cli.Flag{
			&cli.PathFlag{
				Name:     flagParams,
				Aliases:  []string{"p"},
				Usage:    "YAML file with the detector parameters",
				Required: true,
				EnvVars:  []string{envPrefix + "PARAMS"},
			},
			&cli.PathFlag{
				Name:    flagClasses,
				Usage:   "YAML class annotation file mapping ids to names",
				EnvVars: []string{envPrefix + "CLASSES"},
			},
			&cli.StringFlag{
				Name:  flagClassFamily,
				Usage: "built-in class list (voc or coco) used when no names are given",
			},
			&cli.PathFlag{
				Name:  flagEnvFile,
				Usage: "dotenv file loaded before anything else",
				Value: defaultEnvFile,
			},
			&cli.StringFlag{
				Name:    flagPackagePath,
				Usage:   "package search roots; defaults to " + pkgpath.EnvVar,
				EnvVars: []string{pkgpath.EnvVar},
			},
			&cli.PathFlag{
				Name:  flagORTLibrary,
				Usage: "ONNX Runtime shared library for onnx builders",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "log at debug level",
			},
			&cli.BoolFlag{
				Name:  flagPretty,
				Usage: "indent the JSON output",
			},
		},
		Before: loadEnv,
		Action: run,
	}
}

// loadEnv loads the dotenv file. A missing default file is not an error.
func loadEnv(c *cli.Context) error {
	file := c.Path(flagEnvFile)
	if file == "" {
		return nil
	}
	if _, err := os.Stat(file); err != nil {
		if !c.IsSet(flagEnvFile) && os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "env file %s", file)
	}
	return errors.Wrapf(godotenv.Load(file), "env file %s", file)
}

func newLogger(debug bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if debug {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	return cfg.Build()
}

// imageResult is the JSON record printed per input image.
type imageResult struct {
	Image      string               `json:"image"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	Detections []detector.Detection `json:"detections"`
}

func run(c *cli.Context) error {
	if c.NArg() == 0 {
		return cli.Exit("at least one image is required", 2)
	}

	logger, err := newLogger(c.Bool(flagDebug))
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer logger.Sync() //nolint:errcheck

	params, err := readParams(c.Path(flagParams))
	if err != nil {
		return err
	}

	opts, session, err := options(c, params, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	d, err := detector.Load(params, opts...)
	if err != nil {
		return err
	}
	defer d.Close()

	files := c.Args().Slice()
	decoded := make([]image.Image, len(files))
	results := make([]imageResult, len(files))
	for i, file := range files {
		img, err := readImage(file)
		if err != nil {
			return err
		}
		decoded[i] = img.Pixels
		results[i] = imageResult{Image: file, Width: img.Width, Height: img.Height}
	}

	dets, err := d.DetectImages(decoded)
	if err != nil {
		return err
	}
	for i := range results {
		results[i].Detections = dets[i]
		logger.Debug("image processed", zap.String("image", files[i]), zap.Int("detections", len(dets[i])))
	}

	return writeJSON(c.App.Writer, results, c.Bool(flagPretty))
}

// options assembles the detector options from the flags.
func options(c *cli.Context, params map[string]any, logger *zap.Logger) ([]detector.Option, *inference.Session, error) {
	var runtime inference.Runtime = inference.NopRuntime{}
	if module, _ := params[detector.KeyModelBuilderModule].(string); module == builtin.ModuleONNX {
		runtime = inference.ORTRuntime{LibraryPath: c.Path(flagORTLibrary)}
	}
	session := inference.NewSession(inference.WithRuntime(runtime), inference.WithSessionLogger(logger))

	opts := []detector.Option{
		detector.WithLogger(logger),
		detector.WithSession(session),
		detector.WithResolver(pkgpath.NewSearch(pkgpath.SplitList(c.String(flagPackagePath))...)),
	}

	names, err := classNames(c)
	if err != nil {
		return nil, nil, err
	}
	if len(names) > 0 {
		opts = append(opts, detector.WithClassNames(names))
	}

	return opts, session, nil
}

func classNames(c *cli.Context) ([]string, error) {
	if file := c.Path(flagClasses); file != "" {
		return models.LoadClassAnnotations(file)
	}
	if family := c.String(flagClassFamily); family != "" {
		return models.ClassNames(models.ClassFamily(family))
	}
	return nil, nil
}

// readParams reads a YAML mapping of detector parameters.
func readParams(file string) (map[string]any, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read parameters")
	}
	params := map[string]any{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, errors.Wrapf(err, "parse parameters %s", file)
	}
	return params, nil
}

func readImage(file string) (images.Image, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return images.Image{}, errors.Wrap(err, "read image")
	}
	img, err := images.Decode(data)
	if err != nil {
		return images.Image{}, errors.Wrapf(err, "image %s", file)
	}
	return img, nil
}

func writeJSON(w io.Writer, v any, pretty bool) error {
	enc := json.NewEncoder(w)
	if pretty {
		enc.SetIndent("", "  ")
	}
	return errors.Wrap(enc.Encode(v), "write detections")
}
