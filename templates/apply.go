package templates

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/M-o-a-T/moat-src/manifest"
	"github.com/M-o-a-T/moat-src/repo"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Applier brings repositories in line with a template set.
type Applier struct {
	Templates *Store
	Manifests *manifest.Store
	Log       *zap.Logger

	// Diff, when set, receives a unified diff of every file that would
	// change.  Nothing is written or staged then.
	Diff io.Writer

	forced, fallback map[string]any
}

// Result tells which files Apply changed.
type Result struct {
	Manifest  bool
	Makefile  bool
	Tests     bool
	GitIgnore bool
}

// Changed reports whether anything changed.
func (r Result) Changed() bool {
	return r.Manifest || r.Makefile || r.Tests || r.GitIgnore
}

func (a *Applier) log() *zap.Logger {
	if a.Log == nil {
		return zap.NewNop()
	}
	return a.Log
}

// Apply merges the manifest layers into the repository's manifest and
// installs the Makefile, a test stub and the .gitignore entries.  Changed
// files are staged.
func (a *Applier) Apply(ctx context.Context, r *repo.Repository) (Result, error) {
	var res Result
	if a.forced == nil {
		forced, fallback, err := a.Templates.Layers()
		if err != nil {
			return res, err
		}
		a.forced, a.fallback = forced, fallback
	}
	names := NamesFor(r.Path)

	var err error
	if res.Manifest, err = a.applyManifest(ctx, r, names); err != nil {
		return res, err
	}
	if res.Makefile, err = a.applyMakefile(ctx, r, names); err != nil {
		return res, err
	}
	if res.Tests, err = a.applyTests(ctx, r, names); err != nil {
		return res, err
	}
	if res.GitIgnore, err = a.applyGitIgnore(ctx, r); err != nil {
		return res, err
	}
	a.log().Debug("templates applied", zap.String("repo", r.Name),
		zap.Bool("manifest", res.Manifest), zap.Bool("makefile", res.Makefile),
		zap.Bool("tests", res.Tests), zap.Bool("gitignore", res.GitIgnore))
	return res, nil
}

func (a *Applier) applyManifest(ctx context.Context, r *repo.Repository, names Names) (bool, error) {
	doc, err := a.Manifests.Load(r.Dir)
	if errors.Is(err, manifest.ErrMissingManifest) {
		doc = a.Manifests.New(r.Dir)
	} else if err != nil {
		return false, err
	}
	if _, err = manifest.ExpandLegacy(doc.Tree); err != nil {
		return false, errors.Wrap(err, r.Name)
	}
	if !manifest.Merge(a.forced, doc.Tree, a.fallback, names.Transform()) {
		return false, nil
	}
	manifest.CollapseLegacy(doc.Tree)
	data, err := doc.Encode()
	if err != nil {
		return false, err
	}
	return a.update(ctx, r, manifest.FileName, doc.Original(), data)
}

func (a *Applier) applyMakefile(ctx context.Context, r *repo.Repository, names Names) (bool, error) {
	tmpl, err := a.Templates.Text(Makefile)
	if err != nil {
		return false, err
	}
	cur, err := a.read(r, "Makefile")
	if err != nil {
		return false, err
	}
	return a.update(ctx, r, "Makefile", cur, []byte(names.Replace(tmpl)))
}

func (a *Applier) applyTests(ctx context.Context, r *repo.Repository, names Names) (bool, error) {
	entries, err := afero.ReadDir(a.Manifests.Fs(), filepath.Join(r.Dir, "tests"))
	if err != nil && !os.IsNotExist(err) {
		return false, errors.Wrapf(err, "%s: listing tests", r.Name)
	}
	for _, fi := range entries {
		if strings.HasPrefix(fi.Name(), "test_") {
			return false, nil
		}
	}
	tmpl, err := a.Templates.Text(TestStub)
	if err != nil {
		return false, err
	}
	return a.update(ctx, r, path.Join("tests", "test_basic.py"), nil, []byte(names.Replace(tmpl)))
}

// applyGitIgnore appends the template's lines that .gitignore lacks.
// Existing lines keep their order.
func (a *Applier) applyGitIgnore(ctx context.Context, r *repo.Repository) (bool, error) {
	tmpl, err := a.Templates.Text(GitIgnore)
	if err != nil {
		return false, err
	}
	cur, err := a.read(r, ".gitignore")
	if err != nil {
		return false, err
	}
	lines := splitLines(string(cur))
	have := make(map[string]bool, len(lines))
	for _, l := range lines {
		have[l] = true
	}
	n := len(lines)
	for _, l := range splitLines(tmpl) {
		if !have[l] {
			have[l] = true
			lines = append(lines, l)
		}
	}
	if len(lines) == n {
		return false, nil
	}
	return a.update(ctx, r, ".gitignore", cur, []byte(strings.Join(lines, "\n")+"\n"))
}

func splitLines(s string) []string {
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}

func (a *Applier) read(r *repo.Repository, rel string) ([]byte, error) {
	b, err := afero.ReadFile(a.Manifests.Fs(), filepath.Join(r.Dir, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "%s: reading %s", r.Name, rel)
	}
	return b, nil
}

// update writes and stages rel if its content changes, or prints the diff.
func (a *Applier) update(ctx context.Context, r *repo.Repository, rel string, before, after []byte) (bool, error) {
	if bytes.Equal(before, after) {
		return false, nil
	}
	if a.Diff != nil {
		d, err := manifest.Diff(path.Join(r.Path, rel), before, after)
		if err != nil {
			return false, err
		}
		_, err = fmt.Fprint(a.Diff, d)
		return true, err
	}

	p := filepath.Join(r.Dir, filepath.FromSlash(rel))
	fs := a.Manifests.Fs()
	if err := fs.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return false, errors.Wrapf(err, "%s: creating %s", r.Name, filepath.Dir(p))
	}
	if err := afero.WriteFile(fs, p, after, 0644); err != nil {
		return false, errors.Wrapf(err, "%s: writing %s", r.Name, rel)
	}
	return true, r.Add(ctx, rel)
}
