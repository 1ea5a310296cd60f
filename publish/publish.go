// Package publish pushes released repositories to the Debian archive and
// to the Python package index.
package publish

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/M-o-a-T/moat-src/repo"
	rq "github.com/parnurzeal/gorequest"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Runner runs an external command in a directory.
type Runner interface {
	Run(ctx context.Context, dir string, extra ...string) error
}

// Index queries the JSON API of a package index, e.g. https://pypi.org/pypi.
type Index struct {
	URL     string
	Timeout time.Duration
}

// Published reports whether version of the package name is on the index.
func (ix *Index) Published(name, version string) (bool, error) {
	u := fmt.Sprintf("%s/%s/%s/json", strings.TrimRight(ix.URL, "/"), name, strings.TrimPrefix(version, "v"))
	req := rq.New().Get(u)
	if ix.Timeout > 0 {
		req = req.Timeout(ix.Timeout)
	}
	resp, _, errs := req.End()
	if errs != nil {
		return false, errors.Wrapf(multierr.Combine(errs...), "querying %s", u)
	}
	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	}
	return false, errors.Errorf("querying %s: %s", u, resp.Status)
}

// Options controls Publish.
type Options struct {
	NoDeb      bool
	NoPypi     bool
	Force      bool   // upload even if the index has the version
	DebArchive string // dput target passed with -d
}

// Publisher runs the publishing commands.
type Publisher struct {
	Deb   Runner
	Pypi  Runner
	Index *Index // nil skips the index lookup
	Out   io.Writer
	Log   *zap.Logger
}

// Publish builds Debian packages of every repository, then uploads them to
// the package index.  The first failing command stops it.
func (p *Publisher) Publish(ctx context.Context, repos []*repo.Repository, opts Options) error {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	if !opts.NoDeb {
		var args []string
		if opts.DebArchive != "" {
			args = []string{"-d", opts.DebArchive}
		}
		for _, r := range repos {
			fmt.Fprintln(p.Out, r.Dir)
			if err := p.Deb.Run(ctx, r.Dir, args...); err != nil {
				return errors.Wrapf(err, "%s: debianizing", r.Name)
			}
		}
	}
	if opts.NoPypi {
		return nil
	}

	for _, r := range repos {
		if p.Index != nil && !opts.Force {
			tag, err := r.Tagged("")
			if err != nil {
				return err
			}
			if tag != nil {
				done, err := p.Index.Published(r.Name, tag.Name)
				if err != nil {
					return err
				}
				if done {
					fmt.Fprintf(p.Out, "Skip: %s %s is published\n", r.Name, tag.Name)
					continue
				}
			} else {
				log.Warn("head is not tagged", zap.String("repo", r.Name))
			}
		}
		fmt.Fprintln(p.Out, r.Dir)
		if err := p.Pypi.Run(ctx, r.Dir); err != nil {
			return errors.Wrapf(err, "%s: uploading", r.Name)
		}
	}
	return nil
}
