// Package gitbackend implements repo.Backend on top of git.  The object
// graph, references and .gitmodules are read in-process with go-git; the
// working tree status and every write go through the git command line,
// which handles submodule gitlinks and hooks the way users expect.
package gitbackend

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/M-o-a-T/moat-src/repo"
)

// Backend is a git checkout.
type Backend struct {
	dir  string
	repo *git.Repository
}

var _ repo.Backend = (*Backend)(nil)

// Open returns the backend for the checkout at dir.  It has the signature of
// a repo.Opener.
func Open(dir string) (repo.Backend, error) {
	r, err := git.PlainOpen(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "opening git repository %s", dir)
	}
	return &Backend{dir: dir, repo: r}, nil
}

// Dir returns the working tree directory.
func (b *Backend) Dir() string {
	return b.dir
}

func (b *Backend) Head() (repo.Hash, error) {
	ref, err := b.repo.Head()
	if err != nil {
		return "", err
	}
	return repo.Hash(ref.Hash().String()), nil
}

func (b *Backend) Branch() (string, bool, error) {
	ref, err := b.repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", false, err
	}
	if ref.Type() != plumbing.SymbolicReference {
		return "", true, nil
	}
	return ref.Target().Short(), false, nil
}

func (b *Backend) Revision(h repo.Hash) (*repo.Revision, error) {
	c, err := b.repo.CommitObject(plumbing.NewHash(string(h)))
	if err != nil {
		return nil, err
	}
	return revisionOf(c), nil
}

func revisionOf(c *object.Commit) *repo.Revision {
	rev := &repo.Revision{
		Hash:    repo.Hash(c.Hash.String()),
		When:    c.Committer.When,
		Message: c.Message,
	}
	for _, p := range c.ParentHashes {
		rev.Parents = append(rev.Parents, repo.Hash(p.String()))
	}
	return rev
}

// Tags lists lightweight and annotated tags.  Annotated tags are peeled to
// the commit they point at.
func (b *Backend) Tags() ([]repo.Tag, error) {
	iter, err := b.repo.Tags()
	if err != nil {
		return nil, err
	}
	var res []repo.Tag
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		target := ref.Hash()
		obj, err := b.repo.TagObject(ref.Hash())
		switch err {
		case nil:
			c, err := obj.Commit()
			if err != nil {
				// tags of trees or blobs can't mark a release
				return nil
			}
			target = c.Hash
		case plumbing.ErrObjectNotFound:
		default:
			return err
		}
		res = append(res, repo.Tag{Name: ref.Name().Short(), Target: repo.Hash(target.String())})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Backend) Submodules() ([]string, error) {
	wt, err := b.repo.Worktree()
	if err != nil {
		return nil, err
	}
	subs, err := wt.Submodules()
	if err != nil {
		return nil, err
	}
	res := make([]string, 0, len(subs))
	for _, s := range subs {
		res = append(res, s.Config().Path)
	}
	return res, nil
}

// Run executes a git command in the working tree and returns stdout.  Stderr
// is included in the error on failure.
func (b *Backend) Run(ctx context.Context, args ...string) (string, error) {
	fullArgs := append([]string{"-C", b.dir}, args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "git", fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return "", errors.Wrapf(err, "git %s in %s (stderr: %s)",
			strings.Join(args, " "), b.dir, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

func (b *Backend) Status(ctx context.Context, opts repo.StatusOptions) ([]string, error) {
	args := []string{"status", "--porcelain=v1"}
	if opts.Untracked {
		args = append(args, "--untracked-files=normal")
	} else {
		args = append(args, "--untracked-files=no")
	}
	if opts.Submodules {
		args = append(args, "--ignore-submodules=dirty")
	} else {
		args = append(args, "--ignore-submodules=all")
	}
	out, err := b.Run(ctx, args...)
	if err != nil {
		return nil, err
	}
	return parsePorcelain(out, opts.StagedOnly), nil
}

// parsePorcelain extracts the paths of "git status --porcelain=v1" output.
// For renames the new name is reported.
func parsePorcelain(out string, staged bool) []string {
	var res []string
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		if staged && (line[0] == ' ' || line[0] == '?') {
			continue
		}
		p := line[3:]
		if i := strings.Index(p, " -> "); i >= 0 {
			p = p[i+4:]
		}
		res = append(res, strings.Trim(p, `"`))
	}
	return res
}

func (b *Backend) Add(ctx context.Context, paths ...string) error {
	_, err := b.Run(ctx, append([]string{"add", "--"}, paths...)...)
	return err
}

func (b *Backend) Commit(ctx context.Context, message string, amend bool) (repo.Hash, error) {
	args := []string{"commit", "--quiet", "-m", message}
	if amend {
		args = append(args, "--amend")
	}
	if _, err := b.Run(ctx, args...); err != nil {
		return "", err
	}
	out, err := b.Run(ctx, "rev-parse", "HEAD")
	if err != nil {
		return "", err
	}
	return repo.Hash(strings.TrimSpace(out)), nil
}

func (b *Backend) CreateTag(ctx context.Context, name string) error {
	_, err := b.Run(ctx, "tag", name)
	return err
}
