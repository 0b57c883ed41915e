package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/conneroisu/codepad/internal/commands"
	"github.com/conneroisu/codepad/internal/logging"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var commandsFormat string

var commandsCmd = &cobra.Command{
	Use:     "commands [query]",
	Aliases: []string{"cmds"},
	Short:   "List the playground commands",
	Long: `List the commands available in the playground's command palette with
their keyboard shortcuts. A query keeps the commands whose name contains it,
ignoring case, exactly like typing into the palette.

Examples:
  codepad commands               # Every command
  codepad commands switch        # Commands containing "switch"
  codepad commands -f json       # Output as JSON`,
	Args: cobra.MaximumNArgs(1),
	RunE: runCommands,
}

func init() {
	rootCmd.AddCommand(commandsCmd)
	addFormatFlag(commandsCmd, &commandsFormat, "table", "json", "yaml")
}

type commandRow struct {
	Name      string   `json:"name" yaml:"name"`
	Shortcuts []string `json:"shortcuts" yaml:"shortcuts"`
}

func runCommands(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p, err := newPlayground(cfg, logging.Discard())
	if err != nil {
		return err
	}
	defer p.close()

	query := ""
	if len(args) == 1 {
		query = args[0]
	}
	return writeCommands(cmd.OutOrStdout(), p.dispatcher, query, commandsFormat)
}

func writeCommands(w io.Writer, d *commands.Dispatcher, query, format string) error {
	entries := d.Filter(query)
	rows := make([]commandRow, len(entries))
	for i, e := range entries {
		rows[i] = commandRow{Name: e.Name, Shortcuts: d.Keymap().Chords(e.Name)}
		if rows[i].Shortcuts == nil {
			rows[i].Shortcuts = []string{}
		}
	}

	switch strings.ToLower(format) {
	case "json":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rows)
	case "yaml":
		encoder := yaml.NewEncoder(w)
		defer encoder.Close()
		return encoder.Encode(rows)
	case "table", "":
		if len(rows) == 0 {
			_, err := fmt.Fprintf(w, "No commands match %q.\n", query)
			return err
		}
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "COMMAND\tSHORTCUTS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\n", r.Name, strings.Join(r.Shortcuts, ", "))
		}
		return tw.Flush()
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}
}
