package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvr-ai/ssd-detector/models/model"
	"github.com/nvr-ai/ssd-detector/models/ssd"
	"github.com/nvr-ai/ssd-detector/pkgpath"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestReadParams(t *testing.T) {
	file := filepath.Join(t.TempDir(), "params.yaml")
	writeFile(t, file, `
weightFilePackage: ssd_models
weightFilePath: weights/ssd300.npz
targetHeight: 300
targetWidth: 300
confidenceThreshold: 0.6
classNames: [background, person]
`)

	params, err := readParams(file)
	require.NoError(t, err)
	assert.Equal(t, "ssd_models", params["weightFilePackage"])
	assert.Equal(t, 300, params["targetHeight"])
	assert.Equal(t, 0.6, params["confidenceThreshold"])
	assert.Equal(t, []any{"background", "person"}, params["classNames"])

	_, err = readParams(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	writeFile(t, bad, "- just\n- a list\n")
	_, err = readParams(bad)
	assert.Error(t, err)
}

func TestRun_TinySSD(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, "ws")
	pkg := filepath.Join(ws, "src", "tiny_weights")
	writeFile(t, filepath.Join(pkg, pkgpath.ManifestName), "<package><name>tiny_weights</name></package>")

	m, err := ssd.New(ssd.Tiny(), model.InputShape{Height: 32, Width: 32, Channels: 3}, 2, 0.5)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(pkg, "weights"), 0o755))
	require.NoError(t, m.SaveWeights(filepath.Join(pkg, "weights", "tiny.npz")))
	require.NoError(t, m.Close())

	params := filepath.Join(dir, "params.yaml")
	writeFile(t, params, `
weightFilePackage: tiny_weights
weightFilePath: weights/tiny.npz
targetHeight: 32
targetWidth: 32
modelBuilderModule: ssd
modelBuilderFunction: tiny
confidenceThreshold: 0.45
`)
	classes := filepath.Join(dir, "classes.yml")
	writeFile(t, classes, "0: person\n1: car\n")

	imgA := filepath.Join(dir, "a.png")
	imgB := filepath.Join(dir, "b.png")
	writePNG(t, imgA, 64, 48)
	writePNG(t, imgB, 32, 32)

	env := filepath.Join(dir, "test.env")
	writeFile(t, env, pkgpath.EnvVar+"="+ws+"\n")
	t.Setenv(pkgpath.EnvVar, "")

	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	err = app.Run([]string{"detect",
		"--params", params,
		"--classes", classes,
		"--env-file", env,
		"--package-path", ws,
		imgA, imgB,
	})
	require.NoError(t, err)

	var results []imageResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, imgA, results[0].Image)
	assert.Equal(t, 64, results[0].Width)
	assert.Equal(t, 48, results[0].Height)
	for _, r := range results {
		assert.NotNil(t, r.Detections)
		for _, d := range r.Detections {
			assert.Contains(t, []string{"person", "car"}, d.Class)
			assert.LessOrEqual(t, d.XMax, float64(r.Width)+1e-3)
		}
	}
}

func TestRun_Errors(t *testing.T) {
	app := newApp()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}

	params := filepath.Join(t.TempDir(), "params.yaml")
	writeFile(t, params, "targetHeight: 300\n")

	err := app.Run([]string{"detect", "--params", params, "--env-file", "", "img.png"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weightFilePackage")

	err = app.Run([]string{"detect", "--params", params, "--env-file", filepath.Join(t.TempDir(), "nope.env"), "img.png"})
	assert.Error(t, err, "an explicit env file must exist")
}
