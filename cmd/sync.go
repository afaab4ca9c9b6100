package main

import (
	"context"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/noahsdonaldson/prospector/internal/export"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/pkg/notion"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push saved reports to Salesforce or Notion",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := rootCmd.PersistentPreRunE(cmd, args); err != nil {
			return err
		}
		return cfg.Validate("sync")
	},
}

var syncSalesforceCmd = &cobra.Command{
	Use:   "salesforce <report-id>",
	Short: "Upsert the report's account and create contacts for its personas",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Salesforce.ClientID == "" || cfg.Salesforce.Username == "" || cfg.Salesforce.KeyPath == "" {
			return eris.New("salesforce.client_id, salesforce.username and salesforce.key_path are required")
		}

		report, err := loadSavedReport(ctx, args[0])
		if err != nil {
			return err
		}

		sf, err := export.ConnectSalesforce(cfg.Salesforce)
		if err != nil {
			return err
		}

		result, err := export.SyncSalesforce(ctx, sf, report)
		if err != nil {
			return err
		}
		return writeFormatted(os.Stdout, result, "json")
	},
}

var syncNotionCmd = &cobra.Command{
	Use:   "notion <report-id>",
	Short: "Create or update the report's page in the Notion report database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Notion.Token == "" || cfg.Notion.ReportDB == "" {
			return eris.New("notion.token and notion.report_db are required")
		}

		report, err := loadSavedReport(ctx, args[0])
		if err != nil {
			return err
		}

		result, err := export.SyncNotion(ctx, notion.NewClient(cfg.Notion.Token), cfg.Notion.ReportDB, report)
		if err != nil {
			return err
		}
		return writeFormatted(os.Stdout, result, "json")
	},
}

func init() {
	syncCmd.AddCommand(syncSalesforceCmd)
	syncCmd.AddCommand(syncNotionCmd)
	rootCmd.AddCommand(syncCmd)
}

// loadSavedReport fetches a report by its id argument.
func loadSavedReport(ctx context.Context, arg string) (*model.Report, error) {
	id, err := parseID(arg)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	defer st.Close() //nolint:errcheck

	report, err := st.GetReport(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "load report")
	}
	if report == nil {
		return nil, eris.Errorf("report %d not found", id)
	}
	return report, nil
}
