// Package store persists research reports, companies and personas.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/parse"
)

// ErrNotFound is wrapped by update and delete operations that match no row.
var ErrNotFound = eris.New("not found")

// Open returns the store selected by driver: "postgres" connects to dsn,
// anything else opens a SQLite file at dsn. The schema is migrated before
// returning.
func Open(ctx context.Context, driver, dsn string) (Store, error) {
	var (
		s   Store
		err error
	)
	switch driver {
	case "postgres":
		s, err = NewPostgres(ctx, dsn, nil)
	case "", "sqlite":
		if dsn == "" {
			dsn = "prospector.db"
		}
		s, err = NewSQLite(dsn)
	default:
		return nil, eris.Errorf("store: unknown driver %q", driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close() //nolint:errcheck
		return nil, err
	}
	return s, nil
}

// Store defines the persistence interface for research results.
type Store interface {
	// Reports
	SaveReport(ctx context.Context, report *model.Report) (int64, error)
	ListReports(ctx context.Context, companyID int64) ([]model.Report, error)
	GetReport(ctx context.Context, id int64) (*model.Report, error)
	DeleteReport(ctx context.Context, id int64) error

	// Companies
	ListCompanies(ctx context.Context) ([]model.Company, error)

	// Personas
	AddPersona(ctx context.Context, p *model.Persona) (int64, error)
	ListPersonas(ctx context.Context, companyID int64) ([]model.Persona, error)
	DedupePersonas(ctx context.Context) (int, error)
	ListQueue(ctx context.Context, status model.QueueStatus) ([]model.QueueItem, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// ReportFromRun converts a finished run into a report ready to save. Every
// completed stage is serialized under its stage key and the stage-5 personas
// are extracted.
func ReportFromRun(run *model.Run, meta *model.Metadata, userEmail string) (*model.Report, error) {
	if run == nil {
		return nil, eris.New("store: nil run")
	}
	if strings.TrimSpace(run.CompanyName) == "" {
		return nil, eris.New("store: run has no company name")
	}

	b, err := json.Marshal(run.Steps)
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal steps")
	}
	steps := make(map[string]json.RawMessage)
	if err := json.Unmarshal(b, &steps); err != nil {
		return nil, eris.Wrap(err, "store: split steps")
	}

	r := &model.Report{
		CompanyName: strings.TrimSpace(run.CompanyName),
		Industry:    run.Industry,
		ResearchID:  run.ResearchID,
		UserEmail:   userEmail,
		Steps:       steps,
		Status:      run.Status,
		LLMProvider: run.LLMProvider,
		FailedSteps: run.FailedSteps,
		Errors:      run.Errors,
		Personas:    PersonasFromRun(run),
	}
	if r.FailedSteps == nil {
		r.FailedSteps = []int{}
	}
	if r.Errors == nil {
		r.Errors = []model.RunError{}
	}
	if meta != nil {
		r.LLMModel = meta.Model
		r.TotalTokens = meta.TotalTokens
		r.WebSearches = meta.WebSearches
		r.DurationSeconds = meta.DurationSeconds
		r.CostEstimateUSD = meta.CostEstimateUSD
		r.CompletedAt = meta.EndTime
	}
	return r, nil
}

// PersonasFromRun returns the named personas of a run's persona-mapping
// stage, marked as automatically sourced.
func PersonasFromRun(run *model.Run) []model.Persona {
	st := run.Steps.PersonaMapping
	if st == nil || st.Data == nil {
		return nil
	}
	personas := parse.Personas(st.Data, st.Raw)
	for i := range personas {
		personas[i].Source = model.PersonaSourceAuto
	}
	return personas
}

// marshalSteps encodes report columns stored as JSON text.
func marshalSteps(r *model.Report) (steps, failed, errs []byte, err error) {
	if steps, err = json.Marshal(r.Steps); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal steps")
	}
	fs := r.FailedSteps
	if fs == nil {
		fs = []int{}
	}
	if failed, err = json.Marshal(fs); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal failed steps")
	}
	es := r.Errors
	if es == nil {
		es = []model.RunError{}
	}
	if errs, err = json.Marshal(es); err != nil {
		return nil, nil, nil, eris.Wrap(err, "marshal errors")
	}
	return steps, failed, errs, nil
}

// unmarshalSteps decodes the JSON report columns back onto r.
func unmarshalSteps(r *model.Report, steps, failed, errs []byte) error {
	if len(steps) > 0 {
		if err := json.Unmarshal(steps, &r.Steps); err != nil {
			return eris.Wrap(err, "unmarshal steps")
		}
	}
	r.FailedSteps = []int{}
	if len(failed) > 0 {
		if err := json.Unmarshal(failed, &r.FailedSteps); err != nil {
			return eris.Wrap(err, "unmarshal failed steps")
		}
	}
	r.Errors = []model.RunError{}
	if len(errs) > 0 {
		if err := json.Unmarshal(errs, &r.Errors); err != nil {
			return eris.Wrap(err, "unmarshal errors")
		}
	}
	return nil
}

func validatePersona(p *model.Persona) error {
	if p == nil {
		return eris.New("store: nil persona")
	}
	if p.CompanyID <= 0 {
		return eris.New("store: persona has no company")
	}
	if parse.IsPlaceholder(p.Name) {
		return eris.Errorf("store: persona name %q is a placeholder", p.Name)
	}
	return nil
}

func nowUTC() time.Time { return time.Now().UTC() }
