package repo

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	chk "gopkg.in/check.v1"
)

type RepoSuite struct {
	world MemoryWorld
	root  *MemoryBackend
	dir   string
	t0    time.Time
}

var _ = chk.Suite(&RepoSuite{})

func Test(t *testing.T) {
	chk.TestingT(t)
}

func (s *RepoSuite) SetUpTest(c *chk.C) {
	s.dir = c.MkDir()
	s.t0 = time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	s.root = NewMemoryBackend()
	s.world = MemoryWorld{s.dir: s.root}
}

func (s *RepoSuite) at(n int) time.Time {
	return s.t0.Add(time.Duration(n) * time.Minute)
}

func (s *RepoSuite) open(c *chk.C) *Repository {
	r, err := Open(s.dir, "moat", s.world.Open)
	c.Assert(err, chk.IsNil)
	return r
}

func hashes(revs []*Revision) []Hash {
	res := make([]Hash, len(revs))
	for i, r := range revs {
		res[i] = r.Hash
	}
	return res
}

// Builds
//
//	a - b - d - e
//	 \     /
//	  - c -
//
// with c committed after b.
func (s *RepoSuite) diamond() {
	s.root.AddRevision("a", s.at(0), "root")
	s.root.AddRevision("b", s.at(1), "left", "a")
	s.root.AddRevision("c", s.at(2), "right", "a")
	s.root.AddRevision("d", s.at(3), "merge", "c", "b")
	s.root.AddRevision("e", s.at(4), "tip", "d")
}

func (s *RepoSuite) TestCommitsLinear(c *chk.C) {
	s.root.AddRevision("a", s.at(0), "one")
	s.root.AddRevision("b", s.at(1), "two", "a")
	s.root.AddRevision("c", s.at(2), "three", "b")

	revs, err := s.open(c).Commits("")
	c.Assert(err, chk.IsNil)
	c.Check(hashes(revs), chk.DeepEquals, []Hash{"c", "b", "a"})
}

func (s *RepoSuite) TestCommitsMergeVisitsOnce(c *chk.C) {
	s.diamond()

	revs, err := s.open(c).Commits("e")
	c.Assert(err, chk.IsNil)
	// b is the older parent of d, so its subtree is explored first and
	// therefore emitted last.
	c.Check(hashes(revs), chk.DeepEquals, []Hash{"e", "d", "c", "b", "a"})
}

func (s *RepoSuite) TestCommitsParentsAfterChildren(c *chk.C) {
	s.diamond()
	s.root.AddRevision("f", s.at(5), "side", "b")
	s.root.AddRevision("g", s.at(6), "merge2", "e", "f")

	revs, err := s.open(c).Commits("g")
	c.Assert(err, chk.IsNil)
	c.Assert(revs, chk.HasLen, 7)

	pos := map[Hash]int{}
	for i, r := range revs {
		_, dup := pos[r.Hash]
		c.Check(dup, chk.Equals, false)
		pos[r.Hash] = i
	}
	for _, r := range revs {
		for _, p := range r.Parents {
			c.Check(pos[p] > pos[r.Hash], chk.Equals, true,
				chk.Commentf("%s must precede its parent %s", r.Hash, p))
		}
	}
}

func (s *RepoSuite) TestCommitsMemoized(c *chk.C) {
	s.diamond()
	r := s.open(c)

	first, err := r.Commits("e")
	c.Assert(err, chk.IsNil)

	// The backend is not consulted again for a known start
	delete(s.root.Revisions, "a")
	second, err := r.Commits("e")
	c.Assert(err, chk.IsNil)
	c.Check(hashes(second), chk.DeepEquals, hashes(first))

	// A different start is a different traversal
	sub, err := r.Commits("c")
	c.Assert(err, chk.IsNil)
	c.Check(hashes(sub), chk.DeepEquals, []Hash{"c", "a"})
}

func (s *RepoSuite) TestWalkStops(c *chk.C) {
	s.diamond()
	var seen []Hash
	err := s.open(c).Walk("", func(rev *Revision) (bool, error) {
		seen = append(seen, rev.Hash)
		return rev.Hash != "d", nil
	})
	c.Assert(err, chk.IsNil)
	c.Check(seen, chk.DeepEquals, []Hash{"e", "d"})
}

func (s *RepoSuite) TestTagged(c *chk.C) {
	s.diamond()
	s.root.AddTag("v1.0", "b")
	s.root.AddTag("v1.1", "d")
	s.root.AddTag("v1.1-again", "d")
	r := s.open(c)

	t, err := r.Tagged("b")
	c.Assert(err, chk.IsNil)
	c.Assert(t, chk.NotNil)
	c.Check(t.Name, chk.Equals, "v1.0")

	t, err = r.Tagged("")
	c.Assert(err, chk.IsNil)
	c.Check(t, chk.IsNil)

	_, err = r.Tagged("d")
	c.Check(errors.Is(err, ErrAmbiguousTag), chk.Equals, true)
	c.Check(err, chk.ErrorMatches, ".*v1.1, v1.1-again.*")

	// Order of calls doesn't matter
	t, err = r.Tagged("b")
	c.Assert(err, chk.IsNil)
	c.Check(t.Name, chk.Equals, "v1.0")
}

func (s *RepoSuite) TestNearestTag(c *chk.C) {
	s.diamond()
	s.root.AddTag("web-ui.4", "c")
	s.root.AddTag("web-ui.3", "b")

	tag, rev, err := s.open(c).NearestTag("")
	c.Assert(err, chk.IsNil)
	c.Check(tag.Name, chk.Equals, "web-ui.4")
	c.Check(rev.Hash, chk.Equals, Hash("c"))
}

func (s *RepoSuite) TestNearestTagNone(c *chk.C) {
	s.diamond()
	_, _, err := s.open(c).NearestTag("")
	c.Check(errors.Is(err, ErrNoTag), chk.Equals, true)
}

func (s *RepoSuite) TestNearestTagAmbiguous(c *chk.C) {
	s.diamond()
	s.root.AddTag("x.1", "d")
	s.root.AddTag("x.2", "d")
	_, _, err := s.open(c).NearestTag("")
	c.Check(errors.Is(err, ErrAmbiguousTag), chk.Equals, true)
}

func (s *RepoSuite) TestCreateTagVisible(c *chk.C) {
	s.diamond()
	r := s.open(c)
	t, err := r.Tagged("")
	c.Assert(err, chk.IsNil)
	c.Assert(t, chk.IsNil)

	_, err = r.CreateTag(context.Background(), "moat.7")
	c.Assert(err, chk.IsNil)
	t, err = r.Tagged("")
	c.Assert(err, chk.IsNil)
	c.Check(t.Name, chk.Equals, "moat.7")
}

func (s *RepoSuite) addSub(c *chk.C, parent *MemoryBackend, parentPath, path string) *MemoryBackend {
	b := NewMemoryBackend()
	b.AddRevision(Hash("h-"+path), s.at(0), "init")
	parent.SubmodulePaths = append(parent.SubmodulePaths, path)
	full := path
	if parentPath != "" {
		full = parentPath + "/" + path
	}
	s.world[filepath.Join(s.dir, filepath.FromSlash(full))] = b
	return b
}

func (s *RepoSuite) TestSubrepos(c *chk.C) {
	s.diamond()
	lib := s.addSub(c, s.root, "", "lib")
	s.addSub(c, lib, "lib", "cmd")
	s.addSub(c, s.root, "", "util")
	r := s.open(c)

	all, err := r.Subrepos(true)
	c.Assert(err, chk.IsNil)
	var names []string
	for _, x := range all {
		names = append(names, x.Name)
	}
	c.Check(names, chk.DeepEquals, []string{"moat-lib-cmd", "moat-lib", "moat-util"})
	c.Check(all[0].ShortName(), chk.Equals, "lib-cmd")
	c.Check(all[0].Path, chk.Equals, "lib/cmd")

	top, err := r.Subrepos(false)
	c.Assert(err, chk.IsNil)
	c.Assert(top, chk.HasLen, 2)

	// Handles are shared for the run
	c.Check(top[0] == all[1], chk.Equals, true)
	again, err := r.Lookup("lib/cmd")
	c.Assert(err, chk.IsNil)
	c.Check(again == all[0], chk.Equals, true)
	c.Check(again.Root() == r, chk.Equals, true)
}

func (s *RepoSuite) TestLookupOutside(c *chk.C) {
	s.diamond()
	_, err := s.open(c).Lookup("../elsewhere")
	c.Check(err, chk.NotNil)
}

func (s *RepoSuite) TestCheckClean(c *chk.C) {
	s.diamond()
	r := s.open(c)
	ctx := context.Background()
	branches := []string{"main", "moat"}

	c.Check(r.CheckClean(ctx, branches), chk.IsNil)

	s.root.Untracked = []string{"junk"}
	s.root.SubmoduleChanged = []string{"lib"}
	c.Check(r.CheckClean(ctx, branches), chk.IsNil)

	s.root.Changed = []string{"pyproject.toml"}
	err := r.CheckClean(ctx, branches)
	var ue *UncleanError
	c.Assert(errors.As(err, &ue), chk.Equals, true)
	c.Check(ue.Reason, chk.Equals, "Dirty")

	s.root.Changed = nil
	s.root.BranchName = "feature"
	c.Check(r.CheckClean(ctx, branches), chk.ErrorMatches, ".*on branch feature")

	s.root.Detached = true
	c.Check(r.CheckClean(ctx, branches), chk.ErrorMatches, ".*detached")
}

func (s *RepoSuite) TestCommitAmend(c *chk.C) {
	s.diamond()
	r := s.open(c)
	ctx := context.Background()

	_, err := r.Commit(ctx, "empty", false)
	c.Check(err, chk.ErrorMatches, ".*nothing to commit")

	c.Assert(r.Add(ctx, "pyproject.toml"), chk.IsNil)
	h, err := r.Commit(ctx, "first", false)
	c.Assert(err, chk.IsNil)
	rev, err := r.Revision(h)
	c.Assert(err, chk.IsNil)
	c.Check(rev.Parents, chk.DeepEquals, []Hash{"e"})

	h2, err := r.Commit(ctx, "first again", true)
	c.Assert(err, chk.IsNil)
	rev, err = r.Revision(h2)
	c.Assert(err, chk.IsNil)
	c.Check(rev.Parents, chk.DeepEquals, []Hash{"e"})
}
