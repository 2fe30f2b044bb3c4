package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/article-harvester/internal/extract"
)

// newInspectCmd creates the selector diagnostics command.
func newInspectCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "inspect [id]",
		Short: "Report how the extraction selectors match a page, as YAML",
		Long: `Inspect fetches one article (or reads --file) and prints, for each field,
the candidate selectors with their match counts and text samples, plus the
most frequent div classes. Use it to repair selectors after a layout change.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			var html []byte
			switch {
			case file != "":
				// #nosec G304 -- operator supplied path.
				html, err = os.ReadFile(file)
				if err != nil {
					return fmt.Errorf("read %s: %w", file, err)
				}
			case len(args) == 1:
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				comps, err := assemble(cmd.Context(), app.Config, app.Logger, assembleOptions{})
				if err != nil {
					return err
				}
				defer comps.Close()
				raw, err := comps.fetcher.Fetch(cmd.Context(), id)
				if err != nil {
					return fmt.Errorf("fetch %d: %w", id, err)
				}
				html = raw.Body
			default:
				return fmt.Errorf("an article id or --file is required")
			}

			analysis, err := extract.Inspect(html, extract.Selectors{})
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(analysis); err != nil {
				return fmt.Errorf("encode analysis: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "inspect a saved HTML file instead of fetching")
	return cmd
}
