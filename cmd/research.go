package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/pipeline"
	"github.com/noahsdonaldson/prospector/internal/store"
)

var (
	researchProvider string
	researchSave     bool
	researchJSON     bool
	researchUser     string
)

var researchCmd = &cobra.Command{
	Use:   "research <company>",
	Short: "Research a company through all seven stages",
	Long:  "Runs the research pipeline for one company, streaming progress to stderr and printing the finished run to stdout.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		company := strings.TrimSpace(args[0])
		if company == "" {
			return eris.New("company name is required")
		}

		env, err := initPipeline(ctx, researchProvider)
		if err != nil {
			return err
		}
		defer env.Close()

		var final model.Event
		var done bool
		for ev := range env.Pipeline.Run(ctx, pipeline.Request{CompanyName: company}) {
			printEvent(os.Stderr, ev)
			if ev.Type.Terminal() {
				final, done = ev, true
			}
		}
		if !done || final.Results == nil {
			return eris.New("research ended without a result")
		}

		if researchSave {
			if final.Results.Status == model.RunStatusComplete {
				id, err := saveRun(cmd, final)
				if err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "Saved report %d\n", id)
			} else {
				zap.L().Warn("research: not saving incomplete run", zap.String("research_id", final.Results.ResearchID))
			}
		}

		if researchJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(struct {
				Results  *model.Run      `json:"results"`
				Metadata *model.Metadata `json:"metadata"`
			}{final.Results, final.Metadata}); err != nil {
				return eris.Wrap(err, "encode run")
			}
		} else {
			printSummary(os.Stdout, final)
		}

		if final.Type == model.EventError {
			return eris.Errorf("research failed at step %d: %s", final.Step, final.Message)
		}
		return nil
	},
}

func saveRun(cmd *cobra.Command, final model.Event) (int64, error) {
	ctx := cmd.Context()
	st, err := initStore(ctx)
	if err != nil {
		return 0, err
	}
	defer st.Close() //nolint:errcheck

	report, err := store.ReportFromRun(final.Results, final.Metadata, researchUser)
	if err != nil {
		return 0, err
	}
	id, err := st.SaveReport(ctx, report)
	if err != nil {
		return 0, eris.Wrap(err, "save report")
	}
	return id, nil
}

// printEvent writes one progress line for ev.
func printEvent(out io.Writer, ev model.Event) {
	switch ev.Type {
	case model.EventProgress:
		_, _ = fmt.Fprintf(out, "[%3d%%] %s\n", ev.ProgressPercent, ev.Message)
	case model.EventStepComplete:
		_, _ = fmt.Fprintf(out, "[%3d%%] Step %d complete: %s\n", ev.ProgressPercent, ev.Step, ev.StepName)
	case model.EventComplete:
		_, _ = fmt.Fprintf(out, "[%3d%%] %s\n", ev.ProgressPercent, ev.Message)
	case model.EventError:
		_, _ = fmt.Fprintf(out, "[%3d%%] Step %d failed: %s\n", ev.ProgressPercent, ev.Step, ev.Message)
	}
}

// printSummary writes a run overview followed by the outreach email, if
// the run got that far.
func printSummary(out io.Writer, final model.Event) {
	run := final.Results
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Company:\t%s\n", run.CompanyName)
	_, _ = fmt.Fprintf(w, "Research ID:\t%s\n", run.ResearchID)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", run.Status)
	if run.Industry != "" {
		_, _ = fmt.Fprintf(w, "Industry:\t%s\n", run.Industry)
	}
	_, _ = fmt.Fprintf(w, "Stages complete:\t%d/7\n", len(run.Steps.Completed()))
	if m := final.Metadata; m != nil {
		_, _ = fmt.Fprintf(w, "Model:\t%s (%s)\n", m.Model, run.LLMProvider)
		_, _ = fmt.Fprintf(w, "LLM calls:\t%d\n", m.LLMCalls)
		_, _ = fmt.Fprintf(w, "Web searches:\t%d\n", m.WebSearches)
		_, _ = fmt.Fprintf(w, "Tokens:\t%d\n", m.TotalTokens)
		_, _ = fmt.Fprintf(w, "Est. cost:\t$%.4f\n", m.CostEstimateUSD)
		_, _ = fmt.Fprintf(w, "Duration:\t%ds\n", m.DurationSeconds)
	}
	for _, e := range run.Errors {
		_, _ = fmt.Fprintf(w, "Error (step %d):\t%s\n", e.Step, e.Message)
	}
	_ = w.Flush()

	if email := run.Steps.OutreachEmail; email != nil && email.Raw != "" {
		_, _ = fmt.Fprintf(out, "\n--- %s ---\n%s\n", email.Name, strings.TrimSpace(email.Raw))
	}
}

func init() {
	researchCmd.Flags().StringVar(&researchProvider, "provider", "", "model provider: anthropic, openai or gemini (default from config)")
	researchCmd.Flags().BoolVar(&researchSave, "save", false, "save the report when the run completes")
	researchCmd.Flags().BoolVar(&researchJSON, "json", false, "print the run and metadata as JSON")
	researchCmd.Flags().StringVar(&researchUser, "user", "", "email recorded on the saved report")
	rootCmd.AddCommand(researchCmd)
}
