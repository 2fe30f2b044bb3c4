package cmd

import (
	"context"
	"errors"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-harvester/internal/config"
	"github.com/JakeFAU/article-harvester/internal/harvest"
	"github.com/JakeFAU/article-harvester/internal/metrics"
	"github.com/JakeFAU/article-harvester/internal/sink"
)

// cronLogger adapts zap to the cron.Logger interface.
type cronLogger struct {
	s *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}

// newWatchCmd creates the scheduled incremental harvest command.
func newWatchCmd() *cobra.Command {
	var (
		schedule string
		window   int64
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Harvest the next window of ids on a cron schedule",
		Long: `Watch runs until interrupted. On every tick of --schedule it harvests the
next --window ids after the highest id already in the output store. A tick
that fires while the previous run is still going is skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := app.Config
			if cmd.Flags().Changed("schedule") {
				cfg.Watch.Schedule = schedule
			}
			if cmd.Flags().Changed("window") {
				cfg.Watch.Window = window
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			metrics.Init()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, cfg, app.Logger, runHarvest)
		},
	}
	cmd.Flags().StringVar(&schedule, "schedule", "", "cron expression (standard five fields or @every)")
	cmd.Flags().Int64Var(&window, "window", 0, "ids to harvest per tick")
	return cmd
}

type harvestFunc func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*harvest.Stats, error)

// watch blocks until ctx is done, harvesting one window per schedule tick.
func watch(ctx context.Context, cfg config.Config, logger *zap.Logger, run harvestFunc) error {
	logger = logger.Named("watch")
	adapter := cronLogger{s: logger.Sugar()}
	c := cron.New(cron.WithLogger(adapter), cron.WithChain(cron.Recover(adapter)))

	t := &ticker{ctx: ctx, cfg: cfg, logger: logger, run: run}
	if _, err := c.AddFunc(cfg.Watch.Schedule, t.tick); err != nil {
		return err
	}
	c.Start()
	logger.Info("watching",
		zap.String("schedule", cfg.Watch.Schedule),
		zap.Int64("window", cfg.Watch.Window),
		zap.String("output", cfg.Harvest.Output),
	)
	<-ctx.Done()
	logger.Info("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

type ticker struct {
	ctx     context.Context
	cfg     config.Config
	logger  *zap.Logger
	run     harvestFunc
	running atomic.Bool
}

func (t *ticker) tick() {
	if !t.running.CompareAndSwap(false, true) {
		metrics.ObserveScheduledRun("skipped")
		t.logger.Warn("previous harvest still running, tick skipped")
		return
	}
	defer t.running.Store(false)

	cfg, err := t.nextWindow()
	if err != nil {
		metrics.ObserveScheduledRun("failed")
		t.logger.Error("plan window", zap.Error(err))
		return
	}
	metrics.ObserveScheduledRun("started")
	stats, err := t.run(t.ctx, cfg, t.logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		metrics.ObserveScheduledRun("failed")
		t.logger.Error("scheduled harvest failed", zap.Error(err))
		return
	}
	if stats != nil {
		t.logger.Info("scheduled harvest done",
			zap.Int64("start", stats.Start),
			zap.Int64("end", stats.End),
			zap.Int64("succeeded", stats.Succeeded),
			zap.Int64("not_found", stats.NotFound),
		)
	}
}

// nextWindow computes the range for one tick from the output store.
func (t *ticker) nextWindow() (config.Config, error) {
	cfg := t.cfg
	info, err := harvest.ScanResume(sink.File(cfg.Harvest.Output), harvest.ResumePolicy(cfg.Harvest.ResumePolicy))
	if err != nil {
		return cfg, err
	}
	next := info.Next(cfg.Harvest.Start)
	cfg.Harvest.Start = next
	cfg.Harvest.End = next + cfg.Watch.Window - 1
	cfg.Harvest.Resume = false
	return cfg, nil
}
