package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"sjsage522/noticewatcher/logger"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Checks every source each CRAWL_INTERVAL_SECONDS until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, deps, err := newWorker(ctx)
		if err != nil {
			return err
		}
		defer deps.Close()

		logger.Info("Starting notice watcher loop")
		w.Start()

		logger.Info("Shutting down gracefully...")
		return nil
	},
}
