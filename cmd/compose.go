package cmd

import (
	"fmt"
	"io"

	"github.com/conneroisu/codepad/internal/errors"
	"github.com/conneroisu/codepad/internal/preview"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	composeMarkup string
	composeStyle  string
	composeScript string
	composeOutput string
	composeTitle  bool

	composeFs = afero.NewOsFs()
)

var composeCmd = &cobra.Command{
	Use:   "compose",
	Short: "Print the preview document for a set of files",
	Long: `Compose markup, style and script files into the single document the
playground preview would show. Any of the three may be left out.

Examples:
  codepad compose --markup index.html --style site.css --script app.js
  codepad compose --markup index.html -o preview.html
  codepad compose --markup index.html --title`,
	Args: cobra.NoArgs,
	RunE: runCompose,
}

func init() {
	rootCmd.AddCommand(composeCmd)

	composeCmd.Flags().StringVar(&composeMarkup, "markup", "", "HTML file")
	composeCmd.Flags().StringVar(&composeStyle, "style", "", "CSS file")
	composeCmd.Flags().StringVar(&composeScript, "script", "", "JavaScript file")
	composeCmd.Flags().StringVarP(&composeOutput, "output", "o", "", "Write the document to a file instead of stdout")
	composeCmd.Flags().BoolVar(&composeTitle, "title", false, "Print only the preview title")
}

func runCompose(cmd *cobra.Command, args []string) error {
	sources, err := readSources(composeFs, composeMarkup, composeStyle, composeScript)
	if err != nil {
		return err
	}

	if composeTitle {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), preview.Title(sources[0]))
		return err
	}

	doc := preview.Compose(sources[0], sources[1], sources[2])
	if composeOutput == "" {
		_, err := io.WriteString(cmd.OutOrStdout(), doc)
		return err
	}
	if err := afero.WriteFile(composeFs, composeOutput, []byte(doc), 0o644); err != nil {
		return errors.NewIOError(errors.ErrCodeWriteFailed, "writing "+composeOutput, err)
	}
	return nil
}

// readSources reads the markup, style and script files. An empty path
// yields empty text.
func readSources(fs afero.Fs, paths ...string) ([3]string, error) {
	var sources [3]string
	for i, path := range paths {
		if path == "" {
			continue
		}
		data, err := afero.ReadFile(fs, path)
		if err != nil {
			return sources, errors.NewIOError(errors.ErrCodeReadFailed, "reading "+path, err)
		}
		sources[i] = string(data)
	}
	return sources, nil
}
