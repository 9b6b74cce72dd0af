package cmd

import (
	"context"
	"fmt"

	"sjsage522/noticewatcher/config"
	"sjsage522/noticewatcher/helpers"
	"sjsage522/noticewatcher/internal"
	"sjsage522/noticewatcher/logger"
	"sjsage522/noticewatcher/pkg/retry"
	"sjsage522/noticewatcher/services/worker"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Checks every source once, prints one line per source and exits.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		w, deps, err := newWorker(ctx)
		if err != nil {
			return err
		}
		defer deps.Close()

		report := w.RunOnce(ctx)
		for _, line := range report.Summary() {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		if report.FlushErr != nil {
			// The next run would notify again about everything sent in this one.
			return report.FlushErr
		}
		return nil
	},
}

// newWorker loads the configuration, builds every dependency and the worker.
// Invalid configuration and unreadable state are returned before any
// source is contacted.
func newWorker(ctx context.Context) (*worker.Worker, *internal.Dependencies, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	sources, err := internal.LoadSources(cfg)
	if err != nil {
		return nil, nil, err
	}
	enabled := sources.Enabled()

	deps, err := internal.NewDependencies(ctx, cfg, enabled)
	if err != nil {
		return nil, nil, err
	}

	workerSources, err := internal.BuildSources(cfg, enabled, deps)
	if err != nil {
		deps.Close()
		return nil, nil, err
	}

	logger.ForWorker().Info().
		Str("environment", cfg.Environment).
		Int("sources", len(workerSources)).
		Str("notifier", deps.Notifier.Name()).
		Str("state", cfg.StateFile).
		Msg("Starting notice watcher")

	w := worker.NewWorker(ctx, workerSources, deps.Store, deps.Notifier, helpers.NewLogger(cfg.ErrorLogFile), options(cfg))
	return w, deps, nil
}

func options(cfg *config.Config) worker.Options {
	policy := retry.DefaultPolicy
	policy.MaxAttempts = cfg.RetryMaxAttempts
	policy.InitialWait = cfg.RetryInitialWait

	return worker.Options{
		Workers:       cfg.Workers,
		FetchTimeout:  cfg.FetchTimeout,
		Retry:         policy,
		CrawlInterval: cfg.CrawlInterval,
		Production:    cfg.IsProduction(),
	}
}
