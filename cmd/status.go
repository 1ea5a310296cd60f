package cmd

import (
	"context"
	"fmt"

	"github.com/M-o-a-T/moat-src/release"
	"github.com/M-o-a-T/moat-src/repo"
	"github.com/gosuri/uitable"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// Displays the state of every repository of the tree
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Displays branch, version and cleanliness of every repository",
	RunE: func(cmd *cobra.Command, args []string) error {
		return status(cmd.Context())
	},
}

func init() {
	RootCmd.AddCommand(statusCmd)
}

func status(ctx context.Context) error {
	root, err := openRoot()
	if err != nil {
		return err
	}
	subs, err := root.Subrepos(true)
	if err != nil {
		return err
	}

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("REPOSITORY", "BRANCH", "HEAD", "VERSION", "STATE")
	for _, r := range append([]*repo.Repository{root}, subs...) {
		row, err := statusRow(ctx, r)
		if err != nil {
			return err
		}
		table.AddRow(row...)
	}
	_, err = fmt.Fprintln(fOut, table)
	return err
}

func statusRow(ctx context.Context, r *repo.Repository) ([]interface{}, error) {
	branch, detached, err := r.Branch()
	if err != nil {
		return nil, err
	}
	if detached {
		branch = "(detached)"
	}
	head, err := r.Head()
	if err != nil {
		return nil, err
	}

	version := "-"
	tag, err := r.Tagged(head)
	switch {
	case errors.Is(err, repo.ErrAmbiguousTag):
		version = "AMBIGUOUS"
	case err != nil:
		return nil, err
	case tag != nil:
		version = tag.Name
	default:
		near, _, err := r.NearestTag(head)
		if err != nil && !errors.Is(err, repo.ErrNoTag) && !errors.Is(err, repo.ErrAmbiguousTag) {
			return nil, err
		}
		if near != nil {
			if next, err := release.Bump(near.Name); err == nil {
				version = next + " (pending)"
			}
		}
	}

	state := "clean"
	var unclean *repo.UncleanError
	if err = r.CheckClean(ctx, conf.General.Branches); errors.As(err, &unclean) {
		state = unclean.Reason
	} else if err != nil {
		return nil, err
	}
	return []interface{}{r.Name, branch, head.Short(), version, state}, nil
}
