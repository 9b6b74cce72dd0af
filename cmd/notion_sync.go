package cmd

import (
	"fmt"

	"sjsage522/noticewatcher/internal/notion"
	werrors "sjsage522/noticewatcher/pkg/errors"

	"github.com/spf13/cobra"
)

var (
	syncDatabase string
	syncProps    = notion.DefaultPeriodProperties
)

func init() {
	flags := notionSyncCmd.Flags()
	flags.StringVar(&syncDatabase, "database", "", "database id (default $NOTION_DB_ID)")
	flags.StringVar(&syncProps.Start, "start", syncProps.Start, "start date property")
	flags.StringVar(&syncProps.End, "end", syncProps.End, "end date property")
	flags.StringVar(&syncProps.Range, "range", syncProps.Range, "date range property to write")
	rootCmd.AddCommand(notionSyncCmd)
}

var notionSyncCmd = &cobra.Command{
	Use:   "notion-sync [--database <id>]",
	Short: "Copies the start and end dates of every page of a Notion database into its range property.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		dbID := syncDatabase
		if dbID == "" {
			dbID = cfg.NotionDBID
		}
		if dbID == "" || cfg.NotionAPIKey == "" {
			return werrors.NewConfiguration("notion-sync needs NOTION_API_KEY and a database id", nil)
		}

		client := notion.NewClient(notion.Config{
			BaseURL: cfg.NotionBaseURL,
			Token:   cfg.NotionAPIKey,
			Timeout: cfg.FetchTimeout,
		})

		results, err := notion.SyncPeriods(cmd.Context(), client, dbID, syncProps)
		if err != nil {
			return err
		}

		updated, skipped, failed := 0, 0, 0
		for _, res := range results {
			switch {
			case res.Err != nil:
				failed++
			case res.Updated:
				updated++
			default:
				skipped++
			}
		}
		fmt.Fprintf(cmd.OutOrStdout(), "updated: %d, skipped: %d, failed: %d\n", updated, skipped, failed)
		if failed > 0 {
			return fmt.Errorf("%d page(s) could not be updated", failed)
		}
		return nil
	},
}
