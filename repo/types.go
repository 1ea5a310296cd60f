package repo

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrAmbiguousTag is returned when more than one tag points at a single revision.
	ErrAmbiguousTag = errors.New("multiple tags on one revision")

	// ErrNoTag is returned by NearestTag when no ancestor of the start revision carries a tag.
	ErrNoTag = errors.New("no tag in history")
)

// Hash identifies a revision by its content hash.
type Hash string

// Short returns the abbreviated form of the hash used in status output.
func (h Hash) Short() string {
	if len(h) > 10 {
		return string(h[:10])
	}
	return string(h)
}

// Revision is an immutable point in a repository's history.
type Revision struct {
	Hash    Hash
	Parents []Hash
	When    time.Time // committer timestamp
	Message string
}

// Tag binds a name to one revision.
type Tag struct {
	Name   string
	Target Hash
}

func (t Tag) String() string {
	return t.Name
}

// StatusOptions selects which kinds of change Status reports.  Staged and
// unstaged modifications of tracked files are always included, unless
// StagedOnly restricts the result to the index.
type StatusOptions struct {
	Untracked  bool
	Submodules bool
	StagedOnly bool
}

// Backend is the version control system underneath a Repository.  It owns
// the revision graph, tags, the working tree and the index of exactly one
// checkout.
type Backend interface {
	Head() (Hash, error)
	Branch() (name string, detached bool, err error)
	Revision(h Hash) (*Revision, error)
	Tags() ([]Tag, error)

	// Submodules returns the paths of the immediate sub-repositories,
	// relative to the working tree.
	Submodules() ([]string, error)

	// Status returns the paths with changes, relative to the working tree.
	Status(ctx context.Context, opts StatusOptions) ([]string, error)

	Add(ctx context.Context, paths ...string) error
	Commit(ctx context.Context, message string, amend bool) (Hash, error)
	CreateTag(ctx context.Context, name string) error
}

// Opener returns the backend for the checkout at dir.
type Opener func(dir string) (Backend, error)

// UncleanError reports why a working tree can't take part in a run.
type UncleanError struct {
	Dir    string
	Reason string
}

func (e *UncleanError) Error() string {
	return e.Dir + ": " + e.Reason
}
