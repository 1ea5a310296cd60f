// Package config reads the tool's settings with viper.
//
// Settings come from $HOME/.moat/config.toml (or the file given with
// --config), overridden by MOAT_* environment variables, e.g.
// MOAT_BUILD_TEST_COMMAND for build.test_command.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// DirName is the directory below $HOME holding the config file.
const DirName = ".moat"

// Config is the decoded configuration.
type Config struct {
	General struct {
		RootName string   `mapstructure:"root_name"`
		Branches []string `mapstructure:"branches"`
	} `mapstructure:"general"`

	Templates struct {
		Dir string `mapstructure:"dir"`
	} `mapstructure:"templates"`

	Build struct {
		CacheFile     string   `mapstructure:"cache_file"`
		TestCommand   string   `mapstructure:"test_command"`
		CommitMessage string   `mapstructure:"commit_message"`
		RootMessage   string   `mapstructure:"root_message"`
		UntrackedOK   []string `mapstructure:"untracked_ok"`
	} `mapstructure:"build"`

	Setup struct {
		Message string `mapstructure:"message"`
	} `mapstructure:"setup"`

	Publish struct {
		DebCommand  string `mapstructure:"deb_command"`
		PypiCommand string `mapstructure:"pypi_command"`
		IndexURL    string `mapstructure:"index_url"`
	} `mapstructure:"publish"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`
}

// SetDefaults registers the default of every setting.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("general.root_name", "moat")
	v.SetDefault("general.branches", []string{"main", "moat"})
	v.SetDefault("templates.dir", "")
	v.SetDefault("build.cache_file", ".tested.yaml")
	v.SetDefault("build.test_command", "make test")
	v.SetDefault("build.commit_message", "Update MoaT requirements")
	v.SetDefault("build.root_message", "Update")
	v.SetDefault("build.untracked_ok", []string{"src"})
	v.SetDefault("setup.message", "Update from MoaT template")
	v.SetDefault("publish.deb_command", "merge-to-deb")
	v.SetDefault("publish.pypi_command", "make pypi")
	v.SetDefault("publish.index_url", "https://pypi.org/pypi")
	v.SetDefault("log.level", "info")
}

// New returns a viper instance with defaults and environment overrides.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix("MOAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Read loads file into v.  With an empty file name config.toml is looked up
// in $HOME/.moat; not finding it there is not an error.
func Read(v *viper.Viper, file string) error {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return errors.Wrapf(err, "reading config file %s", file)
		}
		return nil
	}

	home, err := homedir.Dir()
	if err != nil {
		return errors.Wrap(err, "locating home directory")
	}
	v.AddConfigPath(filepath.Join(home, DirName))
	v.SetConfigName("config")
	v.SetConfigType("toml")
	if err = v.ReadInConfig(); err != nil {
		var missing viper.ConfigFileNotFoundError
		if errors.As(err, &missing) || os.IsNotExist(err) {
			return nil
		}
		return errors.Wrapf(err, "reading config file %s", v.ConfigFileUsed())
	}
	return nil
}

// Load decodes the settings of v.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, errors.Wrap(err, "decoding configuration")
	}
	if c.General.RootName == "" {
		return nil, errors.New("general.root_name must not be empty")
	}
	return &c, nil
}
