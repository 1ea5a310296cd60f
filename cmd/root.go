package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/M-o-a-T/moat-src/config"
	"github.com/M-o-a-T/moat-src/logging"
	"github.com/M-o-a-T/moat-src/repo"
	"github.com/M-o-a-T/moat-src/repo/gitbackend"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/text/message"
)

var (
	cfgFile, rootDir, logLevel string
	numFormat                  *message.Printer

	fOut     io.Writer = os.Stdout
	settings *viper.Viper
	conf     *config.Config
	logger   = zap.NewNop()

	// Replaced by the tests
	openBackend repo.Opener = gitbackend.Open
	fsys                    = afero.NewOsFs()
)

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "moat-src",
	Short: "Manage the MoaT source tree",
	Long: `moat-src manages a tree of git repositories made of nested submodules.

It applies the shared templates to every sub-repository, tests and pins the
dependencies between them, and commits and tags new releases.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return loadConfig()
	},
}

// Execute adds all child commands to the root command & sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	err := RootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	// Add support for pretty printing numbers
	numFormat = message.NewPrinter(message.MatchLanguage("en"))

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $HOME/.moat/config.toml)")
	RootCmd.PersistentFlags().StringVar(&rootDir, "root", ".",
		"top directory of the source tree")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"log level: debug, info, warn, error or none (default from the config file)")
}

// loadConfig reads the configuration and sets up logging.
func loadConfig() error {
	settings = config.New()
	if err := config.Read(settings, cfgFile); err != nil {
		return err
	}
	if logLevel != "" {
		settings.Set("log.level", logLevel)
	}
	var err error
	if conf, err = config.Load(settings); err != nil {
		return err
	}
	if logger, err = logging.New(conf.Log.Level); err != nil {
		return err
	}
	logger.Debug("configuration loaded", zap.String("file", settings.ConfigFileUsed()))
	return nil
}
