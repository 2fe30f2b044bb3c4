package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/sink"
)

// newBatchCmd creates the batch command.
func newBatchCmd() *cobra.Command {
	var (
		jsonOut   string
		reportOut string
		delay     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "batch <id>...",
		Short: "Harvest a list of ids into a JSON array and a Markdown report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ids := make([]int64, 0, len(args))
			for _, a := range args {
				id, err := parseID(a)
				if err != nil {
					return err
				}
				ids = append(ids, id)
			}
			cfg := app.Config
			if cmd.Flags().Changed("json") {
				cfg.Batch.JSONOutput = jsonOut
			}
			if cmd.Flags().Changed("report") {
				cfg.Batch.ReportOutput = reportOut
			}
			if !cmd.Flags().Changed("delay") {
				delay = cfg.Harvest.Delay
			}

			comps, err := assemble(cmd.Context(), cfg, app.Logger, assembleOptions{snapshots: true})
			if err != nil {
				return err
			}
			defer comps.Close()
			h, err := comps.newHarvester(nil)
			if err != nil {
				return err
			}

			collector := sink.NewCollector()
			pauser := harvest.TimerPauser{}
			for i, id := range ids {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				out := h.Process(cmd.Context(), id, collector)
				if out.Kind.Failed() {
					app.Logger.Warn("article skipped", zap.Int64("id", id), zap.String("outcome", string(out.Kind)),
						zap.Error(out.Err))
				}
				if i < len(ids)-1 {
					pauser.Pause(cmd.Context(), delay)
				}
			}

			records := collector.Records()
			if err := writeBatch(cfg.Batch.JSONOutput, cfg.Batch.ReportOutput, records, time.Now()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "collected %d of %d articles -> %s, %s\n",
				len(records), len(ids), cfg.Batch.JSONOutput, cfg.Batch.ReportOutput)
			return nil
		},
	}
	cmd.Flags().StringVar(&jsonOut, "json", "", "JSON array output path")
	cmd.Flags().StringVar(&reportOut, "report", "", "Markdown report output path")
	cmd.Flags().DurationVar(&delay, "delay", 0, "pause between ids")
	return cmd
}

func writeBatch(jsonPath, reportPath string, records []harvest.ArticleRecord, at time.Time) error {
	if err := ensureDir(jsonPath); err != nil {
		return err
	}
	// #nosec G304 -- operator supplied output path.
	f, err := os.Create(jsonPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", jsonPath, err)
	}
	if err := sink.WriteJSON(f, records); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", jsonPath, err)
	}
	if err := ensureDir(reportPath); err != nil {
		return err
	}
	if err := os.WriteFile(reportPath, []byte(sink.RenderReport(records, at)), 0o600); err != nil {
		return fmt.Errorf("write %s: %w", reportPath, err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
