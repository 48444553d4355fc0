// Package pkgpath resolves package names to directories on disk.
//
// A package is a directory holding a package.xml manifest whose <name>
// element names it, found under one of the search roots of a
// ROS_PACKAGE_PATH-style list.
package pkgpath

import (
	"encoding/xml"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// EnvVar is the environment variable holding the search roots.
const EnvVar = "ROS_PACKAGE_PATH"

// ManifestName is the file that marks a package directory.
const ManifestName = "package.xml"

// ErrNotFound is returned when no search root contains the package.
var ErrNotFound = errors.New("package not found")

// Resolver maps a package name to its directory.
type Resolver interface {
	Resolve(pkg string) (string, error)
}

// Static is a Resolver backed by a fixed map.
type Static map[string]string

// Resolve returns the directory registered for pkg.
func (s Static) Resolve(pkg string) (string, error) {
	dir, ok := s[pkg]
	if !ok {
		return "", errors.Wrapf(ErrNotFound, "package %q", pkg)
	}
	return dir, nil
}

// Search resolves packages by walking its roots for package manifests.
// Results are cached; the first root containing a package wins.
type Search struct {
	roots []string

	mu    sync.Mutex
	cache map[string]string
}

// NewSearch creates a resolver over the given roots.
func NewSearch(roots ...string) *Search {
	return &Search{roots: roots, cache: make(map[string]string)}
}

// FromEnv creates a resolver over the roots listed in EnvVar.
func FromEnv() *Search {
	return NewSearch(SplitList(os.Getenv(EnvVar))...)
}

// SplitList splits a path list on the OS list separator, dropping empty
// entries.
func SplitList(list string) []string {
	var roots []string
	for _, r := range filepath.SplitList(list) {
		if r = strings.TrimSpace(r); r != "" {
			roots = append(roots, r)
		}
	}
	return roots
}

// Roots returns the search roots.
func (s *Search) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Resolve returns the absolute directory of pkg.
//
// Arguments:
//   - pkg: The package name as written in its manifest.
//
// Returns:
//   - string: The package directory.
//   - error: ErrNotFound (wrapped) if no root contains the package.
func (s *Search) Resolve(pkg string) (string, error) {
	if pkg == "" {
		return "", errors.New("package name is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dir, ok := s.cache[pkg]; ok {
		return dir, nil
	}

	for _, root := range s.roots {
		dir, err := find(root, pkg)
		if err != nil {
			return "", err
		}
		if dir == "" {
			continue
		}
		if abs, err := filepath.Abs(dir); err == nil {
			dir = abs
		}
		s.cache[pkg] = dir
		return dir, nil
	}

	return "", errors.Wrapf(ErrNotFound, "package %q in %v", pkg, s.roots)
}

type manifest struct {
	Name string `xml:"name"`
}

// find walks root for a manifest naming pkg. Directories below a package
// are not searched, matching how package crawlers stop at the first
// manifest.
func find(root, pkg string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root && errors.Is(err, fs.ErrNotExist) {
				return filepath.SkipAll
			}
			// Unreadable subtrees are skipped.
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}

		name, ok := readManifest(filepath.Join(path, ManifestName))
		if !ok {
			return nil
		}
		if name == pkg {
			found = path
			return filepath.SkipAll
		}
		return filepath.SkipDir
	})
	if err != nil {
		return "", errors.Wrapf(err, "search %s", root)
	}
	return found, nil
}

func readManifest(file string) (string, bool) {
	data, err := os.ReadFile(file)
	if err != nil {
		return "", false
	}
	var m manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return "", false
	}
	return strings.TrimSpace(m.Name), true
}
