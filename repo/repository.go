// Package repo models a tree of git repositories (a root checkout and its
// nested submodules) and walks their revision history.
//
// All handles opened from one root share a cache of sub-repository handles,
// revisions and topological traversals.  The cache lives exactly as long as
// the root handle, which is expected to be one run of the tool.
package repo

import (
	"context"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

type topoKey struct {
	path  string
	start Hash
}

// cache is owned by the root Repository.  Keys are stable paths and hashes,
// never object identity.
type cache struct {
	open      Opener
	rootName  string
	repos     map[string]*Repository
	revisions map[topoKey]*Revision
	topo      map[topoKey][]*Revision
}

// Repository is one checkout in the tree.
type Repository struct {
	Name string // stable name derived from Path
	Dir  string // absolute working tree directory
	Path string // slash separated path relative to the root, "" for the root

	backend Backend
	root    *Repository
	cache   *cache

	tags     map[Hash][]Tag
	children []*Repository
	listed   bool
}

// Open returns the root repository checked out at dir.  rootName is the
// reserved name of the root; sub-repositories are named "<rootName>-<path>".
func Open(dir, rootName string, open Opener) (*Repository, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "resolving %s", dir)
	}
	b, err := open(abs)
	if err != nil {
		return nil, errors.Wrapf(err, "opening repository %s", abs)
	}
	c := &cache{
		open:      open,
		rootName:  rootName,
		repos:     map[string]*Repository{},
		revisions: map[topoKey]*Revision{},
		topo:      map[topoKey][]*Revision{},
	}
	r := &Repository{
		Name:    rootName,
		Dir:     abs,
		backend: b,
		cache:   c,
	}
	r.root = r
	c.repos[""] = r
	return r, nil
}

// IsRoot reports whether this is the root of the tree.
func (r *Repository) IsRoot() bool {
	return r.root == r
}

// Root returns the root of the tree this repository belongs to.
func (r *Repository) Root() *Repository {
	return r.root
}

// ShortName is the name without the root prefix.  The root's short name is
// its full name.
func (r *Repository) ShortName() string {
	if r.IsRoot() {
		return r.Name
	}
	return strings.TrimPrefix(r.Name, r.cache.rootName+"-")
}

// Backend exposes the underlying version control backend.
func (r *Repository) Backend() Backend {
	return r.backend
}

func (r *Repository) String() string {
	return r.Name
}

func nameFor(rootName, path string) string {
	if path == "" {
		return rootName
	}
	return rootName + "-" + strings.ReplaceAll(path, "/", "-")
}

// Lookup returns the handle of the repository at path, relative to the
// root.  Handles are created once per run.
func (r *Repository) Lookup(path string) (*Repository, error) {
	root := r.root
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(root.Dir, path)
		if err != nil {
			return nil, errors.Wrapf(err, "%s is not below %s", path, root.Dir)
		}
		path = rel
	}
	path = filepath.ToSlash(filepath.Clean(path))
	if path == "." {
		path = ""
	}
	if strings.HasPrefix(path, "../") || path == ".." {
		return nil, errors.Errorf("%s is outside of %s", path, root.Dir)
	}
	if res, ok := r.cache.repos[path]; ok {
		return res, nil
	}

	dir := filepath.Join(root.Dir, filepath.FromSlash(path))
	b, err := r.cache.open(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "opening repository %s", dir)
	}
	res := &Repository{
		Name:    nameFor(r.cache.rootName, path),
		Dir:     dir,
		Path:    path,
		backend: b,
		root:    root,
		cache:   r.cache,
	}
	r.cache.repos[path] = res
	return res, nil
}

// Subrepos lists the sub-repositories of r.  With recurse set the whole
// subtree is returned depth first, every repository following its own
// sub-repositories.
func (r *Repository) Subrepos(recurse bool) ([]*Repository, error) {
	if !r.listed {
		paths, err := r.backend.Submodules()
		if err != nil {
			return nil, errors.Wrapf(err, "%s: listing submodules", r.Name)
		}
		sort.Strings(paths)
		for _, p := range paths {
			full := p
			if r.Path != "" {
				full = r.Path + "/" + p
			}
			child, err := r.Lookup(full)
			if err != nil {
				return nil, err
			}
			r.children = append(r.children, child)
		}
		r.listed = true
	}

	if !recurse {
		return append([]*Repository(nil), r.children...), nil
	}
	var res []*Repository
	for _, child := range r.children {
		sub, err := child.Subrepos(true)
		if err != nil {
			return nil, err
		}
		res = append(res, sub...)
		res = append(res, child)
	}
	return res, nil
}

// Head returns the hash of the checked out revision.
func (r *Repository) Head() (Hash, error) {
	h, err := r.backend.Head()
	if err != nil {
		return "", errors.Wrapf(err, "%s: reading HEAD", r.Name)
	}
	return h, nil
}

// HeadRevision returns the checked out revision.
func (r *Repository) HeadRevision() (*Revision, error) {
	h, err := r.Head()
	if err != nil {
		return nil, err
	}
	return r.Revision(h)
}

// Revision returns the revision with hash h, cached for the run.
func (r *Repository) Revision(h Hash) (*Revision, error) {
	key := topoKey{r.Path, h}
	if rev, ok := r.cache.revisions[key]; ok {
		return rev, nil
	}
	rev, err := r.backend.Revision(h)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: reading revision %s", r.Name, h.Short())
	}
	r.cache.revisions[key] = rev
	return rev, nil
}

// Branch returns the checked out branch, or detached=true.
func (r *Repository) Branch() (string, bool, error) {
	return r.backend.Branch()
}

// Status returns the changed paths of the working tree.
func (r *Repository) Status(ctx context.Context, opts StatusOptions) ([]string, error) {
	res, err := r.backend.Status(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: status", r.Name)
	}
	return res, nil
}

// IsDirty reports whether Status has anything to report.
func (r *Repository) IsDirty(ctx context.Context, opts StatusOptions) (bool, error) {
	res, err := r.Status(ctx, opts)
	if err != nil {
		return false, err
	}
	return len(res) > 0, nil
}

// CheckClean verifies that the working tree sits on one of the accepted
// branches and has no staged or unstaged changes.  Untracked files and
// submodules are ignored.  A failed check returns an *UncleanError.
func (r *Repository) CheckClean(ctx context.Context, branches []string) error {
	name, detached, err := r.Branch()
	if err != nil {
		return errors.Wrapf(err, "%s: reading branch", r.Name)
	}
	if detached {
		return &UncleanError{Dir: r.Dir, Reason: "detached"}
	}
	accepted := false
	for _, b := range branches {
		if b == name {
			accepted = true
			break
		}
	}
	if !accepted {
		return &UncleanError{Dir: r.Dir, Reason: "on branch " + name}
	}
	dirty, err := r.IsDirty(ctx, StatusOptions{})
	if err != nil {
		return err
	}
	if dirty {
		return &UncleanError{Dir: r.Dir, Reason: "Dirty"}
	}
	return nil
}

// Rel returns the slash separated path of other relative to r's working
// tree, e.g. for staging a sub-repository.
func (r *Repository) Rel(other *Repository) (string, error) {
	p, err := filepath.Rel(r.Dir, other.Dir)
	if err != nil {
		return "", errors.Wrapf(err, "%s: locating %s", r.Name, other.Name)
	}
	return filepath.ToSlash(p), nil
}

// Add stages paths relative to the working tree.
func (r *Repository) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := r.backend.Add(ctx, paths...); err != nil {
		return errors.Wrapf(err, "%s: staging %s", r.Name, strings.Join(paths, ", "))
	}
	return nil
}

// Commit records the index as a new revision, replacing HEAD when amend is
// set.
func (r *Repository) Commit(ctx context.Context, message string, amend bool) (Hash, error) {
	h, err := r.backend.Commit(ctx, message, amend)
	if err != nil {
		return "", errors.Wrapf(err, "%s: commit", r.Name)
	}
	return h, nil
}

// CreateTag tags HEAD.  The tag is visible to Tagged immediately.
func (r *Repository) CreateTag(ctx context.Context, name string) (Tag, error) {
	h, err := r.Head()
	if err != nil {
		return Tag{}, err
	}
	if err = r.backend.CreateTag(ctx, name); err != nil {
		return Tag{}, errors.Wrapf(err, "%s: creating tag %s", r.Name, name)
	}
	t := Tag{Name: name, Target: h}
	if r.tags != nil {
		r.tags[h] = append(r.tags[h], t)
	}
	return t, nil
}
