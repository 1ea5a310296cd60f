package cmd

import (
	"os"
	"time"

	"github.com/M-o-a-T/moat-src/publish"
	"github.com/M-o-a-T/moat-src/runner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	pubNoPypi, pubNoDeb, pubForce bool
	pubDeb                        string
	pubOnly, pubSkip              []string

	// Creates the runner of a configured command.  Replaced by the tests.
	newRunner = func(line string) (publish.Runner, error) {
		c, err := runner.Parse(line)
		if err != nil {
			return nil, err
		}
		c.Stdout, c.Stderr, c.Log = os.Stdout, os.Stderr, logger
		return c, nil
	}
)

// Publishes the sub-repositories
var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish modules to PyPI and/or Debian",
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := openRoot()
		if err != nil {
			return err
		}
		repos, err := selectRepos(root, pubOnly, pubSkip)
		if err != nil {
			return err
		}
		deb, err := newRunner(conf.Publish.DebCommand)
		if err != nil {
			return errors.Wrap(err, "publish.deb_command")
		}
		pypi, err := newRunner(conf.Publish.PypiCommand)
		if err != nil {
			return errors.Wrap(err, "publish.pypi_command")
		}

		p := &publish.Publisher{Deb: deb, Pypi: pypi, Out: fOut, Log: logger}
		if conf.Publish.IndexURL != "" {
			p.Index = &publish.Index{URL: conf.Publish.IndexURL, Timeout: 30 * time.Second}
		}
		return p.Publish(cmd.Context(), repos, publish.Options{
			NoDeb:      pubNoDeb,
			NoPypi:     pubNoPypi,
			Force:      pubForce,
			DebArchive: pubDeb,
		})
	},
}

func init() {
	RootCmd.AddCommand(publishCmd)
	publishCmd.Flags().BoolVarP(&pubNoPypi, "no-pypi", "P", false, "Don't push to PyPI")
	publishCmd.Flags().BoolVarP(&pubNoDeb, "no-deb", "D", false, "Don't debianize")
	publishCmd.Flags().BoolVarP(&pubForce, "force", "f", false, "Upload even if the index has the version")
	publishCmd.Flags().StringVarP(&pubDeb, "deb", "d", "", "Debian archive to push to (from dput.cfg)")
	publishCmd.Flags().StringArrayVarP(&pubOnly, "only", "o", nil, "Affect only this repository (path)")
	publishCmd.Flags().StringArrayVarP(&pubSkip, "skip", "s", nil, "Skip this repository (short name)")
}
