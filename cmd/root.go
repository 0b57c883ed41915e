// Package cmd provides the codepad command-line interface.
//
// Configuration is read, highest priority first, from command-line flags,
// CODEPAD_<SECTION>_<OPTION> environment variables (a .env file in the
// working directory is loaded into the environment first) and the
// configuration file. The file is the one named by --config, else by
// CODEPAD_CONFIG_FILE, else .codepad.yml in the working directory.
package cmd

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/conneroisu/codepad/internal/config"
	"github.com/conneroisu/codepad/internal/errors"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	// configReadErr holds a configuration file that exists but could not
	// be read. Commands that need the configuration report it.
	configReadErr error
	logLevel      = newLogLevelValue()
)

var rootCmd = &cobra.Command{
	Use:   "codepad",
	Short: "An in-browser HTML, CSS and JavaScript playground",
	Long: `codepad serves a three-buffer editing session (HTML, CSS and JavaScript)
with a live, sandboxed preview, a command palette and keyboard shortcuts.
Buffers can be opened from and saved to files in the workspace directory.

Quick Start:
  codepad serve                 Start the playground in the current directory
  codepad serve --root site     Use ./site as the workspace
  codepad commands save         List the commands matching "save"
  codepad compose --markup index.html --style site.css
                                Print the document the preview would show`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .codepad.yml, can also use CODEPAD_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().VarP(logLevel, "log-level", "l", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	configReadErr = nil

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, "Warning: reading .env:", err)
	}

	switch {
	case cfgFile != "":
		viper.SetConfigFile(cfgFile)
	case os.Getenv("CODEPAD_CONFIG_FILE") != "":
		viper.SetConfigFile(os.Getenv("CODEPAD_CONFIG_FILE"))
	default:
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".codepad")
	}

	viper.SetEnvPrefix("CODEPAD")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !stderrors.As(err, &notFound) {
			configReadErr = err
		}
		return
	}
	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
}

// loadConfig returns the validated configuration for a command.
func loadConfig() (*config.Config, error) {
	if configReadErr != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid,
			"reading configuration file: "+configReadErr.Error())
	}
	return config.Load()
}
