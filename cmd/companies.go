package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/noahsdonaldson/prospector/internal/model"
)

var companiesCmd = &cobra.Command{
	Use:   "companies",
	Short: "Inspect researched companies",
}

var companiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List companies with their last research date and persona count",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companies, err := st.ListCompanies(ctx)
		if err != nil {
			return eris.Wrap(err, "companies list")
		}
		if len(companies) == 0 {
			fmt.Fprintln(os.Stderr, "No companies found.")
			return nil
		}
		formatCompaniesList(os.Stdout, companies)
		return nil
	},
}

func init() {
	companiesCmd.AddCommand(companiesListCmd)
	rootCmd.AddCommand(companiesCmd)
}

// formatCompaniesList writes a tabular list of companies to out.
func formatCompaniesList(out io.Writer, companies []model.Company) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tNAME\tINDUSTRY\tPERSONAS\tLAST_RESEARCHED")
	_, _ = fmt.Fprintln(w, "--\t----\t--------\t--------\t---------------")

	for _, c := range companies {
		last := "never"
		if c.LastResearched != nil {
			last = c.LastResearched.Format("2006-01-02 15:04")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\n", c.ID, c.Name, c.Industry, c.PersonaCount, last)
	}
	_ = w.Flush()
}
