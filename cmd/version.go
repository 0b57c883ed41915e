package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/conneroisu/codepad/internal/version"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	versionFormat string
	versionShort  bool
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Display the codepad version, the commit it was built from, the build
time, the Go version and the target platform.

Examples:
  codepad version              # Detailed version
  codepad version --short      # Version only
  codepad version -f json      # Output as JSON`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return writeVersion(cmd.OutOrStdout(), versionFormat, versionShort)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	addFormatFlag(versionCmd, &versionFormat, "text", "json", "yaml")
	versionCmd.Flags().BoolVar(&versionShort, "short", false, "Show short version only")
}

func writeVersion(w io.Writer, format string, short bool) error {
	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(version.GetBuildInfo())
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(version.GetBuildInfo())
	case "text", "":
		if short {
			_, err := fmt.Fprintln(w, version.GetShortVersion())
			return err
		}
		_, err := fmt.Fprintln(w, version.GetDetailedVersion())
		return err
	default:
		return fmt.Errorf("unsupported format: %s (supported: text, json, yaml)", format)
	}
}
