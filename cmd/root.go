// Package cmd holds the noticewatcher command tree.
package cmd

import (
	"context"
	"fmt"
	"os"

	"sjsage522/noticewatcher/config"

	"github.com/spf13/cobra"
)

var (
	sourcesFile string
	stateFile   string
)

var rootCmd = &cobra.Command{
	Use:   "noticewatcher",
	Short: "noticewatcher polls notice boards and notifies about new posts.",
	// Errors are printed once by Execute.
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&sourcesFile, "sources", "", "sources file (default $SOURCES_FILE or sources.yaml)")
	rootCmd.PersistentFlags().StringVar(&stateFile, "state", "", "fingerprint state file (default $STATE_FILE or storage.json)")
}

// ExecuteContext runs the command tree. Only errors that stop the whole
// process reach here; per-source failures are part of the run report.
func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the environment and applies the persistent flags
func loadConfig() (*config.Config, error) {
	cfg := config.LoadConfig()
	if sourcesFile != "" {
		cfg.SourcesFile = sourcesFile
	}
	if stateFile != "" {
		cfg.StateFile = stateFile
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
