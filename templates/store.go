// Package templates holds the shared repository templates and applies them
// to the sub-repositories of a tree.
package templates

import (
	"embed"
	"io/fs"
	"strings"

	"github.com/M-o-a-T/moat-src/manifest"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

//go:embed data
var data embed.FS

// Template file names.
const (
	ForcedLayer  = "pyproject.forced.yaml"
	DefaultLayer = "pyproject.default.yaml"
	Makefile     = "Makefile"
	GitIgnore    = "gitignore"
	TestStub     = "test_basic.py"
)

// Store reads template files.
type Store struct {
	fs afero.Fs
}

// Embedded returns the template set compiled into the binary.
func Embedded() *Store {
	sub, err := fs.Sub(data, "data")
	if err != nil {
		panic(err)
	}
	return &Store{fs: afero.FromIOFS{FS: sub}}
}

// FromDir returns a store reading the templates in dir.
func FromDir(dir string) *Store {
	return &Store{fs: afero.NewBasePathFs(afero.NewOsFs(), dir)}
}

// NewStore returns a store on an arbitrary file system.  Template names are
// looked up relative to its root.
func NewStore(fs afero.Fs) *Store {
	return &Store{fs: fs}
}

// Text returns the content of the template called name.
func (s *Store) Text(name string) (string, error) {
	b, err := afero.ReadFile(s.fs, name)
	if err != nil {
		return "", errors.Wrapf(err, "reading template %s", name)
	}
	return string(b), nil
}

// Layers decodes the forced and the default manifest layer.
func (s *Store) Layers() (forced, fallback map[string]any, err error) {
	if forced, err = s.layer(ForcedLayer, true); err != nil {
		return nil, nil, err
	}
	if fallback, err = s.layer(DefaultLayer, false); err != nil {
		return nil, nil, err
	}
	return forced, fallback, nil
}

func (s *Store) layer(name string, forced bool) (map[string]any, error) {
	text, err := s.Text(name)
	if err != nil {
		return nil, err
	}
	m, err := manifest.DecodeLayer([]byte(text), forced)
	if err != nil {
		return nil, errors.Wrap(err, name)
	}
	return m, nil
}

// Names are the placeholder values for one repository.
type Names struct {
	Name string // SUBNAME, "lib-cmd"
	Dot  string // SUBDOT, "lib.cmd"
	Path string // SUBPATH, "lib/cmd"
}

// NamesFor derives the placeholders from a repository's path relative to
// the root.  Repositories two levels down, and everything below a "lib"
// directory, are named by their last two path elements.
func NamesFor(path string) Names {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	n := len(parts)
	if n >= 2 && (n == 2 || parts[n-2] == "lib") {
		a, b := parts[n-2], parts[n-1]
		return Names{Name: a + "-" + b, Dot: a + "." + b, Path: a + "/" + b}
	}
	return Names{Name: parts[n-1], Dot: parts[n-1], Path: parts[n-1]}
}

func (n Names) pairs() []string {
	return []string{"SUBNAME", n.Name, "SUBDOT", n.Dot, "SUBPATH", n.Path}
}

// Transform returns the placeholder substitution for template layers.
func (n Names) Transform() manifest.Transform {
	return manifest.Replacer(n.pairs()...)
}

// Replace substitutes the placeholders in a text template.
func (n Names) Replace(s string) string {
	return strings.NewReplacer(n.pairs()...).Replace(s)
}
