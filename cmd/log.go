package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/M-o-a-T/moat-src/repo"
	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var logLimit int

// Displays the history of a repository
var logCmd = &cobra.Command{
	Use:   "log [path]",
	Short: "Displays the history of a repository, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return errors.New("Only one repository can be worked with at a time")
		}
		root, err := openRoot()
		if err != nil {
			return err
		}
		r := root
		if len(args) == 1 {
			if r, err = root.Lookup(args[0]); err != nil {
				return err
			}
		}

		n := 0
		return r.Walk("", func(rev *repo.Revision) (bool, error) {
			tag, err := r.Tagged(rev.Hash)
			if err != nil && !errors.Is(err, repo.ErrAmbiguousTag) {
				return false, err
			}
			if _, err = fmt.Fprint(fOut, createCommitText(rev, tag)); err != nil {
				return false, err
			}
			n++
			return logLimit <= 0 || n < logLimit, nil
		})
	},
}

func init() {
	RootCmd.AddCommand(logCmd)
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 0, "Show at most this many revisions")
}

// Creates the user visible commit text for a revision.
func createCommitText(c *repo.Revision, tag *repo.Tag) string {
	s := fmt.Sprintf("  commit %s", c.Hash)
	if tag != nil {
		s += color.YellowString(" (tag: %s)", tag.Name)
	}
	s += "\n"
	if len(c.Parents) > 1 {
		parents := make([]string, len(c.Parents))
		for i, p := range c.Parents {
			parents[i] = p.Short()
		}
		s += fmt.Sprintf("  Merge: %s\n", strings.Join(parents, " "))
	}
	s += fmt.Sprintf("  Date: %v\n\n", c.When.Format(time.UnixDate))
	if msg := strings.TrimSpace(c.Message); msg != "" {
		s += fmt.Sprintf("      %s\n\n", strings.ReplaceAll(msg, "\n", "\n      "))
	}
	return s
}
