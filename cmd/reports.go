package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/noahsdonaldson/prospector/internal/model"
)

var reportsCmd = &cobra.Command{
	Use:   "reports",
	Short: "Manage saved research reports",
}

// -- reports list --

var reportsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved reports, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companyID, _ := cmd.Flags().GetInt64("company")
		var ids []int64
		if companyID > 0 {
			ids = []int64{companyID}
		} else {
			companies, err := st.ListCompanies(ctx)
			if err != nil {
				return eris.Wrap(err, "reports list")
			}
			for _, c := range companies {
				ids = append(ids, c.ID)
			}
		}

		var reports []model.Report
		for _, id := range ids {
			rs, err := st.ListReports(ctx, id)
			if err != nil {
				return eris.Wrap(err, "reports list")
			}
			reports = append(reports, rs...)
		}

		if len(reports) == 0 {
			fmt.Fprintln(os.Stderr, "No reports found.")
			return nil
		}
		formatReportsList(os.Stdout, reports)
		return nil
	},
}

// -- reports show --

var reportsShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show a saved report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseID(args[0])
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
			return eris.Wrap(err, "reports show")
		}
		if report == nil {
			return eris.Errorf("report %d not found", id)
		}

		format, _ := cmd.Flags().GetString("format")
		return writeFormatted(os.Stdout, report, format)
	},
}

// -- reports delete --

var reportsDeleteCmd = &cobra.Command{
	Use:   "delete <report-id>",
	Short: "Delete a saved report",
	Long:  "Deletes a report. Personas found by the report are kept.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := parseID(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteReport(ctx, id); err != nil {
			return eris.Wrap(err, "reports delete")
		}
		fmt.Fprintf(os.Stderr, "Deleted report %d\n", id)
		return nil
	},
}

func init() {
	reportsListCmd.Flags().Int64("company", 0, "only list reports for this company id")
	reportsShowCmd.Flags().String("format", "json", "output format: json or yaml")

	reportsCmd.AddCommand(reportsListCmd)
	reportsCmd.AddCommand(reportsShowCmd)
	reportsCmd.AddCommand(reportsDeleteCmd)
	rootCmd.AddCommand(reportsCmd)
}

// parseID parses a positive integer record id.
func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid id %q", s)
	}
	return id, nil
}

// writeFormatted encodes v as indented JSON or as YAML. YAML output goes
// through JSON first so field names and embedded JSON documents match the
// JSON form.
func writeFormatted(out io.Writer, v any, format string) error {
	switch format {
	case "", "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(v), "encode json")
	case "yaml":
		b, err := json.Marshal(v)
		if err != nil {
			return eris.Wrap(err, "encode json")
		}
		var doc any
		if err := json.Unmarshal(b, &doc); err != nil {
			return eris.Wrap(err, "decode json")
		}
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return eris.Wrap(err, "encode yaml")
		}
		return eris.Wrap(enc.Close(), "encode yaml")
	default:
		return eris.Errorf("unknown format %q (want json or yaml)", format)
	}
}

// formatReportsList writes a tabular list of reports to out.
func formatReportsList(out io.Writer, reports []model.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tSTATUS\tPROVIDER\tSEARCHES\tTOKENS\tCOST\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t-------\t------\t--------\t--------\t------\t----\t-------")

	for _, r := range reports {
		company := r.CompanyName
		if company == "" {
			company = strconv.FormatInt(r.CompanyID, 10)
		}
		if len(company) > 30 {
			company = company[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t$%.2f\t%s\n",
			r.ID,
			company,
			r.Status,
			r.LLMProvider,
			r.WebSearches,
			r.TotalTokens,
			r.CostEstimateUSD,
			r.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
