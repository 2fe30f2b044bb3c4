package cmd

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
)

// newArticleCmd creates the single article command.
func newArticleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "article <id>",
		Short: "Fetch, extract and summarize one article and print its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			comps, err := assemble(cmd.Context(), app.Config, app.Logger, assembleOptions{snapshots: true})
			if err != nil {
				return err
			}
			defer comps.Close()
			h, err := comps.newHarvester(nil)
			if err != nil {
				return err
			}

			out := h.Process(cmd.Context(), id, nil)
			if out.Record == nil {
				return fmt.Errorf("article %d: %s: %w", id, out.Kind, out.Err)
			}
			if out.Kind == harvest.OutcomeSummaryDegraded {
				app.Logger.Warn("summary produced by local fallback", zap.Int64("id", id), zap.Error(out.Err))
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetEscapeHTML(false)
			enc.SetIndent("", "  ")
			if err := enc.Encode(out.Record); err != nil {
				return fmt.Errorf("encode record: %w", err)
			}
			return nil
		},
	}
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid article id %q", s)
	}
	return id, nil
}
