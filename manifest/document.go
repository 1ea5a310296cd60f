package manifest

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
)

// FileName is the manifest of every repository.
const FileName = "pyproject.toml"

// ErrMissingManifest is returned by Load when a repository has no manifest.
var ErrMissingManifest = errors.New("no " + FileName)

// Document is one repository's manifest.
type Document struct {
	Dir  string
	Tree map[string]any

	raw  []byte
	text []byte // raw with dependency edits applied, nil once unusable
}

// Store reads and writes manifests.
type Store struct {
	fs afero.Fs
}

// NewStore returns a store on fs, or on the OS file system if fs is nil.
func NewStore(fs afero.Fs) *Store {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Store{fs: fs}
}

// Fs returns the file system the store works on.
func (s *Store) Fs() afero.Fs {
	return s.fs
}

// Path returns the manifest path of the repository at dir.
func (s *Store) Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether the repository at dir has a manifest.
func (s *Store) Exists(dir string) (bool, error) {
	fi, err := s.fs.Stat(s.Path(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !fi.IsDir(), nil
}

// Load reads the manifest of the repository at dir.
func (s *Store) Load(dir string) (*Document, error) {
	p := s.Path(dir)
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMissingManifest, "%s", dir)
		}
		return nil, errors.Wrapf(err, "reading %s", p)
	}
	tree := map[string]any{}
	if err = toml.Unmarshal(data, &tree); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", p)
	}
	return &Document{Dir: dir, Tree: tree, raw: data, text: data}, nil
}

// New returns an empty manifest for the repository at dir.
func (s *Store) New(dir string) *Document {
	return &Document{Dir: dir, Tree: map[string]any{}}
}

// Encode serializes the document.  As long as the file text still decodes
// to Tree, the text is returned unchanged, comments and layout included.
func (d *Document) Encode() ([]byte, error) {
	if d.text != nil {
		tree := map[string]any{}
		if err := toml.Unmarshal(d.text, &tree); err == nil && Equal(tree, d.Tree) {
			return d.text, nil
		}
	}
	data, err := toml.Marshal(d.Tree)
	if err != nil {
		return nil, errors.Wrapf(err, "encoding %s", filepath.Join(d.Dir, FileName))
	}
	return data, nil
}

// Pin applies PinDependencies to the document.  Each rewritten dependency
// is also replaced in the file text, so that Encode can keep the file's
// formatting.
func (d *Document) Pin(versions map[string]string) bool {
	return pinDependencies(d.Tree, versions, d.replace)
}

// replace substitutes the first TOML string literal from in the text.
func (d *Document) replace(from, to string) {
	if d.text == nil {
		return
	}
	for _, q := range []string{`"`, `'`} {
		if strings.ContainsAny(from+to, q+"\\\n") {
			continue
		}
		lit := []byte(q + from + q)
		if i := bytes.Index(d.text, lit); i >= 0 {
			text := append([]byte(nil), d.text[:i]...)
			text = append(text, q+to+q...)
			d.text = append(text, d.text[i+len(lit):]...)
			return
		}
	}
	d.text = nil
}

// Original returns the file content the document was loaded from.
func (d *Document) Original() []byte {
	return d.raw
}

// Save writes the document back to its repository.
func (s *Store) Save(d *Document) error {
	data, err := d.Encode()
	if err != nil {
		return err
	}
	p := s.Path(d.Dir)
	if err = afero.WriteFile(s.fs, p, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", p)
	}
	d.raw, d.text = data, data
	return nil
}

// Lookup returns the value at path, or nil and false.
func Lookup(tree map[string]any, path ...string) (any, bool) {
	var cur any = tree
	for _, k := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[k]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
