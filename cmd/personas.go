package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/export"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/store"
)

var personasCmd = &cobra.Command{
	Use:   "personas",
	Short: "Manage decision-maker personas",
}

// -- personas list --

var personasListCmd = &cobra.Command{
	Use:   "list",
	Short: "List personas",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companyID, _ := cmd.Flags().GetInt64("company")
		personas, names, err := loadPersonas(ctx, st, companyID)
		if err != nil {
			return err
		}
		if len(personas) == 0 {
			fmt.Fprintln(os.Stderr, "No personas found.")
			return nil
		}
		formatPersonasList(os.Stdout, personas, names)
		return nil
	},
}

// -- personas add --

var personasAddCmd = &cobra.Command{
	Use:   "add <company-id> <name>",
	Short: "Add a persona by hand and queue it for research",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		companyID, err := parseID(args[0])
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		title, _ := cmd.Flags().GetString("title")
		role, _ := cmd.Flags().GetString("role")
		addedBy, _ := cmd.Flags().GetString("added-by")

		id, err := st.AddPersona(ctx, &model.Persona{
			CompanyID:      companyID,
			Name:           args[1],
			Title:          title,
			RoleInDecision: role,
			Source:         model.PersonaSourceManual,
			AddedBy:        addedBy,
		})
		if err != nil {
			return eris.Wrap(err, "personas add")
		}
		fmt.Fprintf(os.Stderr, "Added persona %d and queued it for research\n", id)
		return nil
	},
}

// -- personas dedupe --

var personasDedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Keep only the most recent persona per company and name",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		removed, err := st.DedupePersonas(ctx)
		if err != nil {
			return eris.Wrap(err, "personas dedupe")
		}
		fmt.Fprintf(os.Stderr, "Removed %d duplicate personas\n", removed)
		return nil
	},
}

// -- personas export --

var personasExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export personas to a spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("xlsx")
		if path == "" {
			return eris.New("--xlsx output path is required")
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		companyID, _ := cmd.Flags().GetInt64("company")
		personas, names, err := loadPersonas(ctx, st, companyID)
		if err != nil {
			return err
		}
		if err := export.WritePersonasXLSX(path, personas, names); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Wrote %d personas to %s\n", len(personas), path)
		return nil
	},
}

// -- personas import --

var personasImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Add personas from a spreadsheet and queue them for research",
	Long:  "Reads a workbook with Company and Name columns (plus any persona sheet columns). Companies are matched by name and must already exist.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		path, _ := cmd.Flags().GetString("xlsx")
		if path == "" {
			return eris.New("--xlsx input path is required")
		}
		addedBy, _ := cmd.Flags().GetString("added-by")

		rows, err := export.ReadPersonasXLSX(path)
		if err != nil {
			return err
		}

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		added, skipped, err := importPersonas(ctx, st, rows, addedBy)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Imported %d personas (%d skipped)\n", added, skipped)
		return nil
	},
}

// -- personas queue --

var personasQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List persona research requests",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		items, err := st.ListQueue(ctx, model.QueueStatus(status))
		if err != nil {
			return eris.Wrap(err, "personas queue")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "Queue is empty.")
			return nil
		}
		formatQueue(os.Stdout, items)
		return nil
	},
}

func init() {
	personasListCmd.Flags().Int64("company", 0, "only list personas for this company id")

	personasAddCmd.Flags().String("title", "", "job title")
	personasAddCmd.Flags().String("role", "", "role in the buying decision")
	personasAddCmd.Flags().String("added-by", "", "email of the person adding the persona")

	personasExportCmd.Flags().String("xlsx", "", "output workbook path")
	personasExportCmd.Flags().Int64("company", 0, "only export personas for this company id")

	personasImportCmd.Flags().String("xlsx", "", "input workbook path")
	personasImportCmd.Flags().String("added-by", "", "email recorded on imported personas")

	personasQueueCmd.Flags().String("status", string(model.QueueStatusPending), "queue status: pending, in_progress, completed or failed")

	personasCmd.AddCommand(personasListCmd)
	personasCmd.AddCommand(personasAddCmd)
	personasCmd.AddCommand(personasDedupeCmd)
	personasCmd.AddCommand(personasExportCmd)
	personasCmd.AddCommand(personasImportCmd)
	personasCmd.AddCommand(personasQueueCmd)
	rootCmd.AddCommand(personasCmd)
}

// loadPersonas returns the personas of one company, or of every company
// when companyID is zero, along with a company id to name map.
func loadPersonas(ctx context.Context, st store.Store, companyID int64) ([]model.Persona, map[int64]string, error) {
	companies, err := st.ListCompanies(ctx)
	if err != nil {
		return nil, nil, eris.Wrap(err, "list companies")
	}
	names := make(map[int64]string, len(companies))
	for _, c := range companies {
		names[c.ID] = c.Name
	}

	var personas []model.Persona
	for _, c := range companies {
		if companyID > 0 && c.ID != companyID {
			continue
		}
		ps, err := st.ListPersonas(ctx, c.ID)
		if err != nil {
			return nil, nil, eris.Wrap(err, "list personas")
		}
		personas = append(personas, ps...)
	}
	return personas, names, nil
}

// importPersonas adds each row's persona to the company of the same name.
// Rows naming an unknown company, or rejected by the store, are skipped.
func importPersonas(ctx context.Context, st store.Store, rows []export.PersonaRow, addedBy string) (added, skipped int, err error) {
	companies, err := st.ListCompanies(ctx)
	if err != nil {
		return 0, 0, eris.Wrap(err, "list companies")
	}
	ids := make(map[string]int64, len(companies))
	for _, c := range companies {
		ids[strings.ToLower(c.Name)] = c.ID
	}

	for _, row := range rows {
		id, ok := ids[strings.ToLower(row.Company)]
		if !ok {
			zap.L().Warn("personas import: unknown company", zap.String("company", row.Company), zap.String("name", row.Persona.Name))
			skipped++
			continue
		}
		p := row.Persona
		p.CompanyID = id
		p.AddedBy = addedBy
		if _, err := st.AddPersona(ctx, &p); err != nil {
			if ctx.Err() != nil {
				return added, skipped, ctx.Err()
			}
			zap.L().Warn("personas import: rejected", zap.String("company", row.Company), zap.String("name", p.Name), zap.Error(err))
			skipped++
			continue
		}
		added++
	}
	return added, skipped, nil
}

// formatPersonasList writes a tabular list of personas to out.
func formatPersonasList(out io.Writer, personas []model.Persona, companies map[int64]string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCOMPANY\tNAME\tTITLE\tSOURCE\tLAST_RESEARCHED")
	_, _ = fmt.Fprintln(w, "--\t-------\t----\t-----\t------\t---------------")

	for _, p := range personas {
		last := "-"
		if p.LastResearchedAt != nil {
			last = p.LastResearchedAt.Format("2006-01-02")
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			p.ID, companies[p.CompanyID], p.Name, p.Title, p.Source, last)
	}
	_ = w.Flush()
}

// formatQueue writes a tabular list of queue items to out.
func formatQueue(out io.Writer, items []model.QueueItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPERSONA\tCOMPANY\tSTATUS\tREQUESTED_BY\tREQUESTED")
	_, _ = fmt.Fprintln(w, "--\t-------\t-------\t------\t------------\t---------")

	for _, q := range items {
		_, _ = fmt.Fprintf(w, "%d\t%d\t%d\t%s\t%s\t%s\n",
			q.ID, q.PersonaID, q.CompanyID, q.Status, q.RequestedBy, q.RequestedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}
