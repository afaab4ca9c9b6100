package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate <report-id>",
	Short: "Score a saved report with the judge model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		j, err := initJudge(ctx)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		report, err := st.GetReport(ctx, id)
		if err != nil {
			return eris.Wrap(err, "validate")
		}
		if report == nil {
			return eris.Errorf("report %d not found", id)
		}

		result, err := j.Validate(ctx, report)
		if err != nil {
			return eris.Wrap(err, "validate")
		}

		format, _ := cmd.Flags().GetString("format")
		return writeFormatted(os.Stdout, result, format)
	},
}

func init() {
	validateCmd.Flags().String("format", "json", "output format: json or yaml")
	rootCmd.AddCommand(validateCmd)
}
