package cmd

import (
	"github.com/M-o-a-T/moat-src/templates"
	"github.com/spf13/cobra"
)

var (
	setupAmend, setupNoAmend, setupNoDirty, setupNoCommit, setupDiff bool
	setupMessage                                                     string
	setupOnly, setupSkip                                             []string
)

// Applies the templates to the sub-repositories
var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Set up sub-repositories using the templates",
	Long: `Merges the template manifest layers into each sub-repository's
pyproject.toml and installs the Makefile, a test stub and .gitignore entries.

By default, changes amend the HEAD commit if its message is the same as the
commit message and HEAD isn't tagged.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := openRoot()
		if err != nil {
			return err
		}
		repos, err := selectRepos(root, setupOnly, setupSkip)
		if err != nil {
			return err
		}
		msg := setupMessage
		if msg == "" {
			msg = conf.Setup.Message
		}

		a := &templates.Applier{
			Templates: templateStore(),
			Manifests: manifestStore(),
			Log:       logger,
		}
		if setupDiff {
			a.Diff = fOut
		}
		done, err := a.Setup(cmd.Context(), repos, templates.SetupOptions{
			Branches: conf.General.Branches,
			NoDirty:  setupNoDirty,
			NoCommit: setupNoCommit,
			Amend:    setupAmend,
			NoAmend:  setupNoAmend,
			Message:  msg,
		})
		if err != nil {
			return err
		}
		if setupDiff || setupNoCommit {
			return nil
		}
		_, err = numFormat.Fprintf(fOut, "%d %s updated\n", len(done), repositories(len(done)))
		return err
	},
}

func init() {
	RootCmd.AddCommand(setupCmd)
	setupCmd.Flags().BoolVarP(&setupAmend, "amend", "A", false, "Fix the previous commit (DANGER)")
	setupCmd.Flags().BoolVarP(&setupNoAmend, "no-amend", "N", false, "Don't fix the previous commit even if the message is the same")
	setupCmd.Flags().BoolVarP(&setupNoDirty, "no-dirty", "D", false, "Don't check for dirtiness (DANGER)")
	setupCmd.Flags().BoolVarP(&setupNoCommit, "no-commit", "C", false, "Don't commit")
	setupCmd.Flags().BoolVar(&setupDiff, "diff", false, "Show the changes instead of applying them")
	setupCmd.Flags().StringVarP(&setupMessage, "message", "m", "", "Commit message if changed (default from the config file)")
	setupCmd.Flags().StringArrayVarP(&setupOnly, "only", "o", nil, "Affect only this repository (path)")
	setupCmd.Flags().StringArrayVarP(&setupSkip, "skip", "s", nil, "Skip this repository (short name)")
}
