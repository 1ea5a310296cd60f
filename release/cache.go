package release

import (
	"os"
	"sort"

	"github.com/M-o-a-T/moat-src/repo"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// RunCache remembers the last tested head revision of each repository.
type RunCache struct {
	fs    afero.Fs
	path  string
	heads map[string]string
}

// LoadCache reads the cache file at path.  A missing file is an empty cache.
func LoadCache(fs afero.Fs, path string) (*RunCache, error) {
	c := &RunCache{fs: fs, path: path, heads: map[string]string{}}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	if err = yaml.Unmarshal(data, &c.heads); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if c.heads == nil {
		c.heads = map[string]string{}
	}
	return c, nil
}

// Tested reports whether name was tested at revision h.
func (c *RunCache) Tested(name string, h repo.Hash) bool {
	return c.heads[name] == string(h)
}

// Record notes that name passed at revision h.
func (c *RunCache) Record(name string, h repo.Hash) {
	c.heads[name] = string(h)
}

// Names lists the repositories in the cache.
func (c *RunCache) Names() []string {
	res := make([]string, 0, len(c.heads))
	for n := range c.heads {
		res = append(res, n)
	}
	sort.Strings(res)
	return res
}

// Save writes the cache back.
func (c *RunCache) Save() error {
	data, err := yaml.Marshal(c.heads)
	if err != nil {
		return errors.Wrap(err, "encoding run cache")
	}
	if err = afero.WriteFile(c.fs, c.path, data, 0644); err != nil {
		return errors.Wrapf(err, "writing %s", c.path)
	}
	return nil
}
