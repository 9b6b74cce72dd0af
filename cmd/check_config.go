package cmd

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"sjsage522/noticewatcher/internal"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(checkConfigCmd)
}

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validates the environment and the sources file and lists the enabled sources.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		sources, err := internal.LoadSources(cfg)
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSTATE KEY\tFINGERPRINT\tFIRST SEEN\tEXCLUDE")
		for _, src := range sources.Enabled() {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%d\t%t\t%s\n",
				src.ID,
				src.Kind,
				src.StateKey,
				src.Fingerprint.Strategy,
				src.Fingerprint.Size(),
				src.FirstSeenNotify(cfg.NotifyOnFirstSeen),
				strings.Join(src.ExcludeKeywords, ","),
			)
		}
		if err := tw.Flush(); err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "\nnotifiers: %s, state: %s (%s)\n",
			strings.Join(cfg.Notifiers, ","), cfg.StateFile, cfg.StateBackend)
		return nil
	},
}
