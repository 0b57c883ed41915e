package cmd

import (
	"fmt"
	"io"

	"github.com/conneroisu/codepad/internal/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the resolved configuration as YAML",
	Long: `Print the configuration codepad would run with after merging defaults,
the configuration file, CODEPAD_ environment variables and flags.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return writeConfig(cmd.OutOrStdout(), cfg)
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		source := viper.ConfigFileUsed()
		if source == "" {
			source = "defaults"
		}
		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (%s)\n", source)
		return err
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

func writeConfig(w io.Writer, cfg *config.Config) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()
	return encoder.Encode(cfg)
}
