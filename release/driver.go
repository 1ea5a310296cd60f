// Package release rebuilds a tree of repositories: it tests every
// sub-repository, works out which version each one is released as, pins
// the dependencies between them until nothing changes any more, and finally
// commits and tags the lot.
package release

import (
	"context"
	"fmt"
	"io"

	"github.com/M-o-a-T/moat-src/manifest"
	"github.com/M-o-a-T/moat-src/repo"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	// ErrRunFailed means at least one repository had a problem; nothing was
	// committed.  Report.Problems lists the details.
	ErrRunFailed = errors.New("release run failed")

	// ErrDirtyRoot means the root working tree has uncommitted changes.
	ErrDirtyRoot = errors.New("root repository has uncommitted changes")

	// ErrNoFixedPoint means dependency pinning kept changing manifests.
	ErrNoFixedPoint = errors.New("dependency pinning does not settle")
)

var (
	good = color.New(color.FgGreen)
	warn = color.New(color.FgYellow)
	bad  = color.New(color.FgRed, color.Bold)
)

// Tester runs the test suite of a repository.  An error means the tests
// could not be run at all.
type Tester interface {
	Test(ctx context.Context, r *repo.Repository) (bool, error)
}

// Options controls a run.
type Options struct {
	Branches    []string          // accepted branches of the clean check
	Pins        map[string]string // versions of packages outside the tree
	UntrackedOK []string          // short names allowed to have untracked files after testing

	NoTest   bool
	NoCommit bool
	NoDirty  bool // don't check whether sub-repositories are clean
	Strict   bool // an unclean sub-repository fails the run

	CommitMessage string
	RootMessage   string
}

// Driver performs one run over the tree below Root.  A Driver is not
// reusable.
type Driver struct {
	Root      *repo.Repository
	Manifests *manifest.Store
	Tester    Tester
	Cache     *RunCache // nil disables the run cache
	Out       io.Writer
	Log       *zap.Logger
	Options

	report    *Report
	repos     []*repo.Repository
	skip      map[string]bool
	isDirty   map[string]bool
	committed map[string]bool
	bumped    map[string]bool
	problems  error
}

// Report describes what a run found and did.
type Report struct {
	States   map[string]State
	Versions Table
	Dirty    []string   // repositories whose manifest was rewritten
	Created  []repo.Tag // tags created, the root's last
	Passes   int        // passes of the pinning loop
	Problems []error
}

func (d *Driver) printf(c *color.Color, format string, args ...any) {
	if c == nil {
		fmt.Fprintf(d.Out, format, args...)
		return
	}
	c.Fprintf(d.Out, format, args...)
}

func (d *Driver) problem(r *repo.Repository, state State, err error) {
	d.report.States[r.Name] = state
	d.problems = multierr.Append(d.problems, err)
	d.report.Problems = multierr.Errors(d.problems)
}

// Run executes all phases.  The report is returned even when the run fails.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Out == nil {
		d.Out = io.Discard
	}
	d.report = &Report{States: map[string]State{}, Versions: Table{}}
	d.skip = map[string]bool{}
	d.isDirty = map[string]bool{}
	d.committed = map[string]bool{}
	d.bumped = map[string]bool{}
	for name, v := range d.Pins {
		d.report.Versions[name] = Existing{Name: v}
	}

	dirty, err := d.Root.IsDirty(ctx, repo.StatusOptions{})
	if err != nil {
		return d.report, err
	}
	if dirty {
		d.printf(bad, "Please commit top-level changes and try again.\n")
		return d.report, ErrDirtyRoot
	}
	if d.repos, err = d.Root.Subrepos(true); err != nil {
		return d.report, err
	}

	err = d.collect(ctx)
	if d.Cache != nil {
		// kept even when the run fails, so passing tests needn't be repeated
		err = multierr.Append(err, d.Cache.Save())
	}
	if err != nil {
		return d.report, err
	}
	if d.problems != nil {
		d.printf(bad, "No work done. Fix and try again.\n")
		return d.report, ErrRunFailed
	}

	if err = d.pin(ctx); err != nil {
		return d.report, err
	}
	if d.NoCommit {
		return d.report, nil
	}
	return d.report, d.finalize(ctx)
}

// collect checks, tests and resolves the version of each sub-repository.
// Problems are recorded and collection continues; only an ambiguous tag
// stops it.
func (d *Driver) collect(ctx context.Context) error {
	for _, r := range d.repos {
		log := d.Log.With(zap.String("repo", r.Name))
		d.report.States[r.Name] = Clean

		if !d.NoDirty {
			err := r.CheckClean(ctx, d.Branches)
			var unclean *repo.UncleanError
			if errors.As(err, &unclean) {
				d.printf(warn, "DIRTY %s: %s\n", r.Name, unclean.Reason)
				d.skip[r.Name] = true
				if d.Strict {
					d.problem(r, DirtySkipped, err)
				} else {
					d.report.States[r.Name] = DirtySkipped
				}
				continue
			} else if err != nil {
				return err
			}
		}

		head, err := r.Head()
		if err != nil {
			return err
		}
		if !d.NoTest && (d.Cache == nil || !d.Cache.Tested(r.Name, head)) {
			ok, err := d.Tester.Test(ctx, r)
			if err != nil || !ok {
				d.printf(bad, "FAIL %s\n", r.Name)
				if err == nil {
					err = errors.Errorf("%s: tests failed", r.Name)
				}
				d.problem(r, TestFailed, err)
				d.skip[r.Name] = true
				continue
			}
			log.Debug("tests passed", zap.String("head", head.Short()))
		}

		left, err := r.Status(ctx, repo.StatusOptions{Untracked: true})
		if err != nil {
			return err
		}
		if len(left) > 0 {
			d.printf(warn, "DIRTY %s\n", r.Name)
			d.skip[r.Name] = true
			if d.untrackedOK(r) {
				d.report.States[r.Name] = DirtySkipped
			} else {
				d.problem(r, DirtySkipped, errors.Errorf("%s: files left behind: %v", r.Name, left))
			}
			continue
		}
		if d.Cache != nil {
			d.Cache.Record(r.Name, head)
		}

		if err = d.resolve(r, head); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) untrackedOK(r *repo.Repository) bool {
	for _, n := range d.UntrackedOK {
		if n == r.ShortName() {
			return true
		}
	}
	return false
}

// resolve records the version of r: the tag on its head, or the bumped
// nearest tag of its history.
func (d *Driver) resolve(r *repo.Repository, head repo.Hash) error {
	tag, err := r.Tagged(head)
	if err != nil {
		return err
	}
	if tag != nil {
		d.printf(good, "TAG %s %s\n", tag.Name, r.Name)
		d.report.Versions[r.Name] = Existing{Name: tag.Name}
		d.report.States[r.Name] = Tagged
		return nil
	}

	tag, _, err = r.NearestTag(head)
	if errors.Is(err, repo.ErrNoTag) {
		d.printf(bad, "NOTAG %s\n", r.Name)
		d.problem(r, NoTag, err)
		d.skip[r.Name] = true
		return nil
	} else if err != nil {
		return err
	}
	d.printf(nil, "UNTAGGED %s %s\n", tag.Name, r.Name)
	next, err := Bump(tag.Name)
	if err != nil {
		d.problem(r, Untagged, errors.Wrap(err, r.Name))
		d.skip[r.Name] = true
		return nil
	}
	d.report.Versions[r.Name] = Pending{Name: next}
	d.report.States[r.Name] = Untagged
	return nil
}

// pin rewrites dependency constraints until a pass changes no manifest.
// Each repository's version is bumped at most once, when its manifest first
// changes, so the loop settles after at most one pass per repository.
func (d *Driver) pin(ctx context.Context) error {
	limit := len(d.repos) + 2
	for pass := 0; ; pass++ {
		if pass == limit {
			return errors.Wrapf(ErrNoFixedPoint, "after %d passes", pass)
		}
		d.report.Passes = pass + 1
		changed := false
		for _, r := range d.repos {
			if d.skip[r.Name] {
				continue
			}
			work, err := d.pinRepo(ctx, r, pass == 0)
			if err != nil {
				return err
			}
			changed = changed || work
		}
		d.Log.Debug("pinning pass", zap.Int("pass", pass+1), zap.Bool("changed", changed))
		if !changed {
			return nil
		}
	}
}

// pinRepo pins the dependencies of r.  A repository becomes dirty when its
// manifest changes, when one of its sub-repositories was moved before the
// run, or when one of its sub-repositories became dirty, since committing
// that one moves r's gitlink.  Children are handled before their parents,
// so the last case is seen within the same pass.
func (d *Driver) pinRepo(ctx context.Context, r *repo.Repository, first bool) (bool, error) {
	ok, err := d.Manifests.Exists(r.Dir)
	if err != nil {
		return false, err
	}
	var doc *manifest.Document
	if ok {
		if doc, err = d.Manifests.Load(r.Dir); err != nil {
			return false, err
		}
	} else if first {
		d.printf(warn, "Skip: %s\n", r.Dir)
	}

	work := doc != nil && doc.Pin(d.report.Versions.Pins())
	moved := false
	if first {
		if moved, err = r.IsDirty(ctx, repo.StatusOptions{Submodules: true}); err != nil {
			return false, err
		}
		if moved {
			if err = d.stageSubrepos(ctx, r); err != nil {
				return false, err
			}
		}
	}
	if !moved {
		if moved, err = d.childDirty(r); err != nil {
			return false, err
		}
	}
	if !work && (!moved || d.isDirty[r.Name]) {
		return false, nil
	}

	if work {
		if err = d.Manifests.Save(doc); err != nil {
			return false, err
		}
		if err = r.Add(ctx, manifest.FileName); err != nil {
			return false, err
		}
	}
	if !d.isDirty[r.Name] {
		d.isDirty[r.Name] = true
		d.report.Dirty = append(d.report.Dirty, r.Name)
	}
	d.report.States[r.Name] = Rewritten
	if v, ok := d.report.Versions[r.Name].(Existing); ok {
		next, err := Bump(v.Name)
		if err != nil {
			return false, errors.Wrap(err, r.Name)
		}
		d.report.Versions[r.Name] = Pending{Name: next}
		d.bumped[r.Name] = true
	}
	return true, nil
}

func (d *Driver) childDirty(r *repo.Repository) (bool, error) {
	subs, err := r.Subrepos(false)
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if d.isDirty[sub.Name] && !d.skip[sub.Name] {
			return true, nil
		}
	}
	return false, nil
}

func (d *Driver) stageSubrepos(ctx context.Context, r *repo.Repository) error {
	subs, err := r.Subrepos(false)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		p, err := r.Rel(sub)
		if err != nil {
			return err
		}
		if err = r.Add(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// stageCommitted stages the sub-repositories of r that were committed in
// this run, so that r records their new heads.
func (d *Driver) stageCommitted(ctx context.Context, r *repo.Repository) error {
	subs, err := r.Subrepos(false)
	if err != nil {
		return err
	}
	for _, sub := range subs {
		if !d.committed[sub.Name] {
			continue
		}
		p, err := r.Rel(sub)
		if err != nil {
			return err
		}
		if err = r.Add(ctx, p); err != nil {
			return err
		}
	}
	return nil
}

// finalize commits the rewritten repositories, children first, staging
// each one in its parent.  It then creates the pending tags and commits and
// tags the root.
func (d *Driver) finalize(ctx context.Context) error {
	for _, r := range d.repos {
		if !d.isDirty[r.Name] {
			continue
		}
		if err := d.stageCommitted(ctx, r); err != nil {
			return err
		}
		staged, err := r.Status(ctx, repo.StatusOptions{StagedOnly: true, Submodules: true})
		if err != nil {
			return err
		}
		if len(staged) == 0 {
			d.Log.Warn("nothing staged", zap.String("repo", r.Name))
			continue
		}
		h, err := r.Commit(ctx, d.CommitMessage, false)
		if err != nil {
			return err
		}
		d.committed[r.Name] = true
		d.report.States[r.Name] = Committed
		d.Log.Info("committed", zap.String("repo", r.Name), zap.String("hash", h.Short()))
	}

	if err := d.stageCommitted(ctx, d.Root); err != nil {
		return err
	}
	changed, err := d.Root.IsDirty(ctx, repo.StatusOptions{Submodules: true})
	if err != nil {
		return err
	}
	if !changed {
		d.printf(nil, "No changes.\n")
		return nil
	}

	for _, r := range d.repos {
		v, ok := d.report.Versions[r.Name].(Pending)
		if !ok || d.skip[r.Name] {
			continue
		}
		if d.bumped[r.Name] && !d.committed[r.Name] {
			// its head still carries the tag it was bumped from
			continue
		}
		t, err := r.CreateTag(ctx, v.Name)
		if err != nil {
			return err
		}
		d.report.Created = append(d.report.Created, t)
	}

	if err = d.stageSubrepos(ctx, d.Root); err != nil {
		return err
	}
	head, err := d.Root.Commit(ctx, d.RootMessage, false)
	if err != nil {
		return err
	}

	tag, _, err := d.Root.NearestTag(head)
	if errors.Is(err, repo.ErrNoTag) {
		d.printf(bad, "NO TAG %s\n", d.Root.Name)
		return nil
	} else if err != nil {
		return err
	}
	next, err := Bump(tag.Name)
	if err != nil {
		return errors.Wrap(err, d.Root.Name)
	}
	d.printf(good, "New: %s\n", next)
	t, err := d.Root.CreateTag(ctx, next)
	if err != nil {
		return err
	}
	d.report.Created = append(d.report.Created, t)
	return nil
}
