package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/api"
	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/progress"
	"github.com/JakeFAU/article-harvester/internal/sink"
)

const progressCloseTimeout = 10 * time.Second

// newHarvestCmd creates the range mode command.
func newHarvestCmd() *cobra.Command {
	var (
		start, end   int64
		delay        time.Duration
		output       string
		resume       bool
		retries      int
		resumePolicy string
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "harvest",
		Short: "Harvest an inclusive id range into a JSONL store",
		Long: `Harvest walks ids from --start to --end in ascending order, one at a
time with --delay between requests, and appends one JSON line per article
to --output. With --resume the run continues after the highest id already
in the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := app.Config
			flags := cmd.Flags()
			if flags.Changed("start") {
				cfg.Harvest.Start = start
			}
			if flags.Changed("end") {
				cfg.Harvest.End = end
			}
			if flags.Changed("delay") {
				cfg.Harvest.Delay = delay
			}
			if flags.Changed("output") {
				cfg.Harvest.Output = output
			}
			if flags.Changed("resume") {
				cfg.Harvest.Resume = resume
			}
			if flags.Changed("retries") {
				cfg.Harvest.Retries = retries
			}
			if flags.Changed("resume-policy") {
				cfg.Harvest.ResumePolicy = resumePolicy
			}
			if flags.Changed("metrics-addr") {
				cfg.Server.Addr = metricsAddr
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			stats, err := runHarvest(ctx, cfg, app.Logger)
			if stats != nil {
				printStats(cmd.OutOrStdout(), *stats)
			}
			return err
		},
	}
	flags := cmd.Flags()
	flags.Int64Var(&start, "start", 0, "first id (inclusive)")
	flags.Int64Var(&end, "end", 0, "last id (inclusive)")
	flags.DurationVar(&delay, "delay", 0, "pause between ids")
	flags.StringVar(&output, "output", "", "JSONL output path")
	flags.BoolVar(&resume, "resume", true, "continue after the highest id already stored")
	flags.IntVar(&retries, "retries", 0, "fetch retries for transport errors")
	flags.StringVar(&resumePolicy, "resume-policy", "", "warn or strict handling of unordered stores")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /v1/progress on this address")
	return cmd
}

// planRange narrows rng to the ids still missing from the store at path.
// ok is false when nothing is left to do.
func planRange(
	path string,
	rng harvest.Range,
	policy harvest.ResumePolicy,
	logger *zap.Logger,
) (harvest.Range, bool, error) {
	info, err := harvest.ScanResume(sink.File(path), policy)
	if err != nil {
		return rng, false, fmt.Errorf("scan %s: %w", path, err)
	}
	if !info.Clean() {
		logger.Warn("result store is not strictly ascending",
			zap.String("path", path),
			zap.Int64("out_of_order", info.OutOfOrder),
			zap.Int64("duplicates", info.Duplicates),
			zap.Int64("invalid", info.Invalid),
		)
	}
	if info.Torn > 0 {
		logger.Warn("result store ends in a torn record, it will be cut on open", zap.String("path", path))
	}
	next := info.Next(rng.Start)
	if next > rng.End {
		logger.Info("range already harvested",
			zap.Int64("start", rng.Start),
			zap.Int64("end", rng.End),
			zap.Int64("max_id", info.MaxID),
		)
		return rng, false, nil
	}
	if next != rng.Start {
		logger.Info("resuming harvest",
			zap.Int64("from", next),
			zap.Int64("records", info.Records),
		)
	}
	rng.Start = next
	return rng, true, nil
}

// runHarvest executes one range run. It returns nil stats when the run was
// skipped or could not start.
func runHarvest(ctx context.Context, cfg config.Config, logger *zap.Logger) (*harvest.Stats, error) {
	rng := harvest.Range{Start: cfg.Harvest.Start, End: cfg.Harvest.End, Delay: cfg.Harvest.Delay}
	if cfg.Harvest.Resume {
		planned, ok, err := planRange(cfg.Harvest.Output, rng, harvest.ResumePolicy(cfg.Harvest.ResumePolicy), logger)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		rng = planned
	}

	comps, err := assemble(ctx, cfg, logger, assembleOptions{mirror: true, snapshots: true})
	if err != nil {
		return nil, err
	}
	defer comps.Close()

	out, err := sink.OpenJSONL(cfg.Harvest.Output)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil {
			logger.Warn("close output", zap.Error(cerr))
		}
	}()
	if n := out.TornBytes(); n > 0 {
		logger.Warn("cut torn final record from output", zap.String("path", cfg.Harvest.Output), zap.Int64("bytes", n))
	}
	var appender harvest.Appender = out
	if comps.articles != nil {
		appender = sink.Tee(out, logger, comps.articles)
	}

	hub, err := comps.newProgressHub()
	if err != nil {
		return nil, err
	}
	defer closeHub(hub, logger)

	h, err := comps.newHarvester(progress.NewObserver(hub))
	if err != nil {
		return nil, err
	}

	if cfg.Server.Addr != "" {
		srvCtx, cancelSrv := context.WithCancel(context.Background())
		defer cancelSrv()
		var opts []api.Option
		if comps.runs != nil {
			opts = append(opts, api.WithRuns(comps.runs))
		}
		srv := api.NewServer(h, logger, opts...)
		go func() {
			if err := srv.ListenAndServe(srvCtx, cfg.Server.Addr); err != nil {
				logger.Error("status server stopped", zap.Error(err))
			}
		}()
	}

	stats, err := h.Run(ctx, rng, appender)
	if errors.Is(err, context.Canceled) {
		logger.Warn("harvest interrupted", zap.Int64("last_id", stats.Current))
	}
	return &stats, err
}

func printStats(w io.Writer, s harvest.Stats) {
	fmt.Fprintf(w, "state=%s range=%d..%d attempted=%d succeeded=%d partial=%d failed=%d not_found=%d success_rate=%.1f%% elapsed=%s\n",
		s.State, s.Start, s.End, s.Attempted, s.Succeeded, s.Partial, s.Failed, s.NotFound,
		s.SuccessRate()*100, s.Elapsed.Round(time.Millisecond))
}
