package templates

import (
	"context"
	"strings"

	"github.com/M-o-a-T/moat-src/repo"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SetupOptions controls Setup.
type SetupOptions struct {
	Branches []string // accepted branches for the clean check
	NoDirty  bool     // skip the clean check
	NoCommit bool
	Amend    bool // always amend HEAD
	NoAmend  bool // never amend HEAD
	Message  string
}

// Setup applies the templates to each repository and commits what got
// staged.  Unclean repositories and repositories without a manifest are
// skipped.  It returns the names of the repositories that were committed.
//
// HEAD is amended when its message equals opts.Message, unless it is
// tagged; Amend and NoAmend override that.
func (a *Applier) Setup(ctx context.Context, repos []*repo.Repository, opts SetupOptions) ([]string, error) {
	var committed []string
	for _, r := range repos {
		log := a.log().With(zap.String("repo", r.Name))
		if !opts.NoDirty {
			err := r.CheckClean(ctx, opts.Branches)
			var unclean *repo.UncleanError
			if errors.As(err, &unclean) {
				log.Warn("skipped", zap.String("reason", unclean.Reason))
				continue
			} else if err != nil {
				return committed, err
			}
		}
		ok, err := a.Manifests.Exists(r.Dir)
		if err != nil {
			return committed, err
		}
		if !ok {
			log.Info("no pyproject.toml, skipped")
			continue
		}

		if _, err = a.Apply(ctx, r); err != nil {
			return committed, err
		}
		if opts.NoCommit || a.Diff != nil {
			continue
		}

		staged, err := r.IsDirty(ctx, repo.StatusOptions{StagedOnly: true})
		if err != nil {
			return committed, err
		}
		if !staged {
			continue
		}
		amend, err := shouldAmend(r, opts)
		if err != nil {
			return committed, err
		}
		h, err := r.Commit(ctx, opts.Message, amend)
		if err != nil {
			return committed, err
		}
		log.Info("committed", zap.String("hash", h.Short()), zap.Bool("amend", amend))
		committed = append(committed, r.Name)
	}
	return committed, nil
}

func shouldAmend(r *repo.Repository, opts SetupOptions) (bool, error) {
	if opts.NoAmend {
		return false, nil
	}
	tag, err := r.Tagged("")
	if err != nil && !errors.Is(err, repo.ErrAmbiguousTag) {
		return false, err
	}
	if tag != nil || err != nil {
		return false, nil
	}
	if opts.Amend {
		return true, nil
	}
	head, err := r.HeadRevision()
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(head.Message) == strings.TrimSpace(opts.Message), nil
}
