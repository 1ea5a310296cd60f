package cmd

import (
	"os"

	"github.com/M-o-a-T/moat-src/release"
	"github.com/M-o-a-T/moat-src/runner"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	buildNoTest, buildNoCommit, buildNoDirty, buildCache, buildStrict bool
	buildPins                                                         map[string]string
)

// Tests, pins, commits and tags everything that changed
var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild all modified packages",
	Long: `Tests every sub-repository, pins the dependencies between them to their
current versions, commits the result, and tags new versions of everything that
changed, including the root.

Nothing is committed if any sub-repository has a problem.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := openRoot()
		if err != nil {
			return err
		}
		test, err := runner.Parse(conf.Build.TestCommand)
		if err != nil {
			return errors.Wrap(err, "build.test_command")
		}
		test.Stdout, test.Stderr, test.Log = os.Stdout, os.Stderr, logger

		d := &release.Driver{
			Root:      root,
			Manifests: manifestStore(),
			Tester:    &runner.MakeTester{Command: test, Fs: fsys, Announce: fOut},
			Out:       fOut,
			Log:       logger,
			Options: release.Options{
				Branches:      conf.General.Branches,
				Pins:          buildPins,
				UntrackedOK:   conf.Build.UntrackedOK,
				NoTest:        buildNoTest,
				NoCommit:      buildNoCommit,
				NoDirty:       buildNoDirty,
				Strict:        buildStrict,
				CommitMessage: conf.Build.CommitMessage,
				RootMessage:   conf.Build.RootMessage,
			},
		}
		if buildCache {
			if d.Cache, err = release.LoadCache(fsys, inRoot(root, conf.Build.CacheFile)); err != nil {
				return err
			}
		}

		report, err := d.Run(cmd.Context())
		if report != nil {
			for _, p := range report.Problems {
				logger.Debug("problem", zap.Error(p))
			}
		}
		if err != nil {
			if errors.Is(err, release.ErrRunFailed) {
				return multierr.Combine(report.Problems...)
			}
			return err
		}
		_, err = numFormat.Fprintf(fOut, "%d %s checked, %d rewritten, %d tags created\n",
			len(report.States), repositories(len(report.States)), len(report.Dirty), len(report.Created))
		return err
	},
}

func init() {
	RootCmd.AddCommand(buildCmd)
	buildCmd.Flags().BoolVarP(&buildNoTest, "no-test", "T", false, "Skip testing")
	buildCmd.Flags().BoolVarP(&buildNoCommit, "no-commit", "C", false, "Don't commit")
	buildCmd.Flags().BoolVarP(&buildNoDirty, "no-dirty", "D", false, "Don't check for dirtiness (DANGER)")
	buildCmd.Flags().BoolVarP(&buildCache, "cache", "c", false, "Don't re-test if unchanged")
	buildCmd.Flags().BoolVar(&buildStrict, "strict", false, "Fail if a sub-repository isn't clean")
	buildCmd.Flags().StringToStringVarP(&buildPins, "version", "v", map[string]string{}, "Update external dependency version (name=version)")
}
