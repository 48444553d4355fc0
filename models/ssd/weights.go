package ssd

import (
	"archive/zip"
	"os"
	"path"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"
)

const npyExt = ".npy"

// ReadArchive reads a weight archive: a zip file holding one
// "<layer>/<param>.npy" array per parameter.
//
// Arguments:
//   - file: The archive path.
//
// Returns:
//   - map[string]*tensor.Dense: The arrays keyed by "<layer>/<param>".
//   - error: An error if the archive or any array cannot be read.
func ReadArchive(file string) (map[string]*tensor.Dense, error) {
	zr, err := zip.OpenReader(file)
	if err != nil {
		return nil, errors.Wrapf(err, "open weight archive %s", file)
	}
	defer zr.Close()

	arrays := make(map[string]*tensor.Dense, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || path.Ext(f.Name) != npyExt {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", f.Name)
		}

		t := new(tensor.Dense)
		err = t.ReadNpy(rc)
		rc.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "decode %s", f.Name)
		}

		arrays[strings.TrimSuffix(f.Name, npyExt)] = t
	}

	return arrays, nil
}

// WriteArchive writes arrays keyed by "<layer>/<param>" as a weight archive.
func WriteArchive(file string, arrays map[string]*tensor.Dense) (err error) {
	out, err := os.Create(file)
	if err != nil {
		return errors.Wrapf(err, "create weight archive %s", file)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	keys := make([]string, 0, len(arrays))
	for k := range arrays {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	zw := zip.NewWriter(out)
	for _, k := range keys {
		w, err := zw.Create(k + npyExt)
		if err != nil {
			return errors.Wrapf(err, "add %s", k)
		}
		if err := arrays[k].WriteNpy(w); err != nil {
			return errors.Wrapf(err, "encode %s", k)
		}
	}

	return zw.Close()
}

// LoadReport lists what a weight load matched and skipped.
type LoadReport struct {
	Loaded []string
	// MissingInArchive are model parameters left at their initial values.
	MissingInArchive []string
	// UnusedInArchive are archive entries with no matching parameter.
	UnusedInArchive []string
}

// assign copies arrays into params by name.
//
// When partial is false every parameter must be present in the archive and
// every archive entry must match a parameter. Shape mismatches are always
// errors.
func assign(params map[string]*tensor.Dense, arrays map[string]*tensor.Dense, partial bool) (LoadReport, error) {
	var report LoadReport

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		dst := params[name]
		src, ok := arrays[name]
		if !ok {
			if !partial {
				return report, errors.Errorf("weight %s missing from archive", name)
			}
			report.MissingInArchive = append(report.MissingInArchive, name)
			continue
		}
		if !src.Shape().Eq(dst.Shape()) {
			return report, errors.Errorf("weight %s has shape %v, expected %v", name, src.Shape(), dst.Shape())
		}
		if err := copyFloat32(dst, src); err != nil {
			return report, errors.Wrapf(err, "weight %s", name)
		}
		report.Loaded = append(report.Loaded, name)
	}

	for name := range arrays {
		if _, ok := params[name]; ok {
			continue
		}
		if !partial {
			return report, errors.Errorf("archive entry %s matches no layer", name)
		}
		report.UnusedInArchive = append(report.UnusedInArchive, name)
	}
	sort.Strings(report.UnusedInArchive)

	return report, nil
}

func copyFloat32(dst, src *tensor.Dense) error {
	d, ok := dst.Data().([]float32)
	if !ok {
		return errors.Errorf("parameter dtype %v is not float32", dst.Dtype())
	}
	switch s := src.Data().(type) {
	case []float32:
		copy(d, s)
	case []float64:
		for i, v := range s {
			d[i] = float32(v)
		}
	default:
		return errors.Errorf("unsupported archive dtype %v", src.Dtype())
	}
	return nil
}
