package repo

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/pkg/errors"
)

// MemoryBackend keeps a revision graph and a simulated working tree in
// memory.
type MemoryBackend struct {
	Revisions  map[Hash]*Revision
	HeadHash   Hash
	BranchName string
	Detached   bool
	TagList    []Tag

	SubmodulePaths []string

	// Working tree state, as paths relative to the checkout.
	Changed          []string // modified tracked files
	Untracked        []string
	SubmoduleChanged []string // submodules whose checked out revision moved
	Staged           []string

	seq int
}

// NewMemoryBackend returns an empty backend on branch "main".
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		Revisions:  map[Hash]*Revision{},
		BranchName: "main",
	}
}

// AddRevision records a revision and moves HEAD to it.
func (m *MemoryBackend) AddRevision(h Hash, when time.Time, message string, parents ...Hash) *Revision {
	rev := &Revision{Hash: h, Parents: parents, When: when, Message: message}
	m.Revisions[h] = rev
	m.HeadHash = h
	return rev
}

// AddTag binds name to revision h.
func (m *MemoryBackend) AddTag(name string, h Hash) {
	m.TagList = append(m.TagList, Tag{Name: name, Target: h})
}

func (m *MemoryBackend) Head() (Hash, error) {
	if m.HeadHash == "" {
		return "", errors.New("no commits yet")
	}
	return m.HeadHash, nil
}

func (m *MemoryBackend) Branch() (string, bool, error) {
	return m.BranchName, m.Detached, nil
}

func (m *MemoryBackend) Revision(h Hash) (*Revision, error) {
	rev, ok := m.Revisions[h]
	if !ok {
		return nil, errors.Errorf("unknown revision %s", h)
	}
	return rev, nil
}

func (m *MemoryBackend) Tags() ([]Tag, error) {
	return append([]Tag(nil), m.TagList...), nil
}

func (m *MemoryBackend) Submodules() ([]string, error) {
	return append([]string(nil), m.SubmodulePaths...), nil
}

func (m *MemoryBackend) Status(_ context.Context, opts StatusOptions) ([]string, error) {
	seen := map[string]bool{}
	var res []string
	add := func(paths []string) {
		for _, p := range paths {
			if !seen[p] {
				seen[p] = true
				res = append(res, p)
			}
		}
	}
	if opts.StagedOnly {
		for _, p := range m.Staged {
			if opts.Submodules || !contains(m.SubmodulePaths, p) {
				add([]string{p})
			}
		}
		sort.Strings(res)
		return res, nil
	}
	add(m.Staged)
	add(m.Changed)
	if opts.Untracked {
		add(m.Untracked)
	}
	if opts.Submodules {
		add(m.SubmoduleChanged)
	}
	sort.Strings(res)
	return res, nil
}

func (m *MemoryBackend) Add(_ context.Context, paths ...string) error {
	for _, p := range paths {
		p = filepath.ToSlash(p)
		m.Staged = appendMissing(m.Staged, p)
		m.Changed = remove(m.Changed, p)
		m.Untracked = remove(m.Untracked, p)
		m.SubmoduleChanged = remove(m.SubmoduleChanged, p)
	}
	return nil
}

func (m *MemoryBackend) Commit(_ context.Context, message string, amend bool) (Hash, error) {
	head, err := m.Head()
	if err != nil {
		return "", err
	}
	if len(m.Staged) == 0 && !amend {
		return "", errors.New("nothing to commit")
	}
	cur := m.Revisions[head]
	parents := []Hash{head}
	if amend {
		parents = append([]Hash(nil), cur.Parents...)
	}
	m.seq++
	sum := sha1.Sum([]byte(fmt.Sprintf("%s\x00%s\x00%d", head, message, m.seq)))
	h := Hash(hex.EncodeToString(sum[:]))
	m.AddRevision(h, cur.When.Add(time.Second), message, parents...)
	m.Staged = nil
	return h, nil
}

func (m *MemoryBackend) CreateTag(_ context.Context, name string) error {
	for _, t := range m.TagList {
		if t.Name == name {
			return errors.Errorf("tag %s already exists", name)
		}
	}
	h, err := m.Head()
	if err != nil {
		return err
	}
	m.AddTag(name, h)
	return nil
}

// MemoryWorld maps checkout directories to in-memory backends.  Its Open
// method is an Opener.
type MemoryWorld map[string]*MemoryBackend

// Open returns the backend registered for dir.
func (w MemoryWorld) Open(dir string) (Backend, error) {
	b, ok := w[filepath.Clean(dir)]
	if !ok {
		return nil, errors.Errorf("%s: not a repository", dir)
	}
	return b, nil
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func appendMissing(list []string, s string) []string {
	if contains(list, s) {
		return list
	}
	return append(list, s)
}

func remove(list []string, s string) []string {
	res := list[:0]
	for _, x := range list {
		if x != s {
			res = append(res, x)
		}
	}
	return res
}
