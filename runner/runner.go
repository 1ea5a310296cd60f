// Package runner starts the external programs the release tool relies on:
// the per-repository test suite and the publishing commands.
package runner

import (
	"context"
	"io"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/M-o-a-T/moat-src/repo"
	"github.com/docker/go-units"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// Command is an external program with its leading arguments.
type Command struct {
	Args   []string
	Stdout io.Writer
	Stderr io.Writer
	Log    *zap.Logger
}

// Parse splits a command line at white space.  Quoting is not supported.
func Parse(line string) (*Command, error) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil, errors.New("empty command")
	}
	return &Command{Args: args}, nil
}

// ExitError reports a command that ran and exited non-zero.
type ExitError struct {
	Args []string
	Dir  string
	Code int
}

func (e *ExitError) Error() string {
	return strings.Join(e.Args, " ") + " in " + e.Dir + ": exit status " + strconv.Itoa(e.Code)
}

// Run executes the command in dir with extra arguments appended.  A command
// that can't be started returns a plain error, one that fails an
// *ExitError.  Cancelling ctx kills the child.
func (c *Command) Run(ctx context.Context, dir string, extra ...string) error {
	args := append(append([]string(nil), c.Args...), extra...)
	log := c.log().With(zap.String("dir", dir), zap.Strings("args", args))

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	start := time.Now()
	log.Debug("running")
	err := cmd.Run()
	took := units.HumanDuration(time.Since(start))
	if err != nil {
		var exit *exec.ExitError
		if errors.As(err, &exit) && ctx.Err() == nil {
			log.Info("command failed", zap.Int("code", exit.ExitCode()), zap.String("took", took))
			return &ExitError{Args: args, Dir: dir, Code: exit.ExitCode()}
		}
		return errors.Wrapf(err, "running %s in %s", strings.Join(args, " "), dir)
	}
	log.Debug("done", zap.String("took", took))
	return nil
}

func (c *Command) log() *zap.Logger {
	if c.Log == nil {
		return zap.NewNop()
	}
	return c.Log
}

// MakeTester runs a repository's test suite.  Repositories without a
// Makefile pass.
type MakeTester struct {
	Command *Command
	Fs      afero.Fs
	// Announce, when set, is told about each test run before it starts.
	Announce io.Writer
}

// Test reports whether the tests of r pass.  Only failures to run the
// command at all are errors.
func (t *MakeTester) Test(ctx context.Context, r *repo.Repository) (bool, error) {
	fs := t.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}
	ok, err := afero.Exists(fs, filepath.Join(r.Dir, "Makefile"))
	if err != nil {
		return false, errors.Wrapf(err, "%s: looking for Makefile", r.Name)
	}
	if !ok {
		return true, nil
	}
	if t.Announce != nil {
		if _, err = io.WriteString(t.Announce, "\n*** Testing: "+r.Dir+"\n"); err != nil {
			return false, err
		}
	}
	err = t.Command.Run(ctx, r.Dir)
	var exit *ExitError
	if errors.As(err, &exit) {
		return false, nil
	}
	return err == nil, err
}
