package cmd

import (
	"path/filepath"

	"github.com/M-o-a-T/moat-src/manifest"
	"github.com/M-o-a-T/moat-src/repo"
	"github.com/M-o-a-T/moat-src/templates"
)

// Opens the root of the source tree
func openRoot() (*repo.Repository, error) {
	return repo.Open(rootDir, conf.General.RootName, openBackend)
}

// Returns the sub-repositories a command works on: the paths given with
// --only, or else every sub-repository whose short name isn't in skip
func selectRepos(root *repo.Repository, only, skip []string) ([]*repo.Repository, error) {
	if len(only) > 0 {
		var res []*repo.Repository
		for _, p := range only {
			r, err := root.Lookup(p)
			if err != nil {
				return nil, err
			}
			res = append(res, r)
		}
		return res, nil
	}

	all, err := root.Subrepos(true)
	if err != nil {
		return nil, err
	}
	skipped := make(map[string]bool, len(skip))
	for _, s := range skip {
		skipped[s] = true
	}
	var res []*repo.Repository
	for _, r := range all {
		if !skipped[r.ShortName()] {
			res = append(res, r)
		}
	}
	return res, nil
}

func manifestStore() *manifest.Store {
	return manifest.NewStore(fsys)
}

// Returns the configured template set, or the built-in one
func templateStore() *templates.Store {
	if conf.Templates.Dir != "" {
		return templates.FromDir(conf.Templates.Dir)
	}
	return templates.Embedded()
}

// Resolves a file name relative to the root of the tree
func inRoot(root *repo.Repository, name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(root.Dir, name)
}

// Returns "repository" or "repositories"
func repositories(n int) string {
	if n == 1 {
		return "repository"
	}
	return "repositories"
}
