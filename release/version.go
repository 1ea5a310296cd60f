package release

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Version is the version a repository is released as: either a tag that
// already sits on its head revision, or one still to be created.
type Version interface {
	Tag() string
	isVersion()
}

// Existing is a tag that already exists.
type Existing struct {
	Name string
}

// Pending is a tag created when the run is finalized.
type Pending struct {
	Name string
}

func (v Existing) Tag() string { return v.Name }
func (v Pending) Tag() string  { return v.Name }

func (Existing) isVersion() {}
func (Pending) isVersion()  {}

func (v Existing) String() string { return v.Name }
func (v Pending) String() string  { return v.Name + " (new)" }

// Bump increments the integer after the last "." of a tag name:
// "web-ui.4" becomes "web-ui.5".
func Bump(tag string) (string, error) {
	i := strings.LastIndexByte(tag, '.')
	if i < 0 {
		return "", errors.Errorf("tag %q has no numeric suffix", tag)
	}
	n, err := strconv.Atoi(tag[i+1:])
	if err != nil || n < 0 {
		return "", errors.Errorf("tag %q has no numeric suffix", tag)
	}
	return tag[:i+1] + strconv.Itoa(n+1), nil
}

// Table maps repository (distribution) names to their versions.
type Table map[string]Version

// Pins returns the table as dependency pins, name to version string.
func (t Table) Pins() map[string]string {
	res := make(map[string]string, len(t))
	for name, v := range t {
		res[name] = v.Tag()
	}
	return res
}

// State is where a repository stands in a run.
type State int

const (
	Clean State = iota
	DirtySkipped
	TestFailed
	NoTag
	Untagged
	Tagged
	Rewritten
	Committed
)

var stateNames = [...]string{
	Clean:        "CLEAN",
	DirtySkipped: "DIRTY_SKIPPED",
	TestFailed:   "TEST_FAILED",
	NoTag:        "NOTAG",
	Untagged:     "UNTAGGED",
	Tagged:       "TAGGED",
	Rewritten:    "REWRITTEN",
	Committed:    "COMMITTED",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
	return stateNames[s]
}
