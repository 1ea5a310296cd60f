package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// MOAT_SRC_VERSION is the version of this program.
const MOAT_SRC_VERSION = "0.1.0"

// Displays the version of the program
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Displays the version of moat-src being run",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintf(fOut, "moat-src version %s\n", MOAT_SRC_VERSION)
		return err
	},
}

func init() {
	RootCmd.AddCommand(versionCmd)
}
