package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/noahsdonaldson/prospector/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// A single connection keeps pragmas and transactions on one handle.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	name       TEXT NOT NULL UNIQUE,
	domain     TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS reports (
	id                        INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id                INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	research_id               TEXT NOT NULL UNIQUE,
	user_email                TEXT NOT NULL DEFAULT '',
	steps                     TEXT NOT NULL DEFAULT '{}',
	status                    TEXT NOT NULL,
	llm_provider              TEXT NOT NULL DEFAULT '',
	llm_model                 TEXT NOT NULL DEFAULT '',
	total_tokens              INTEGER NOT NULL DEFAULT 0,
	web_searches              INTEGER NOT NULL DEFAULT 0,
	research_duration_seconds INTEGER NOT NULL DEFAULT 0,
	cost_estimate_usd         REAL NOT NULL DEFAULT 0,
	failed_steps              TEXT NOT NULL DEFAULT '[]',
	errors                    TEXT NOT NULL DEFAULT '[]',
	created_at                DATETIME NOT NULL,
	completed_at              DATETIME
);

CREATE TABLE IF NOT EXISTS personas (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	company_id          INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	report_id           INTEGER REFERENCES reports(id) ON DELETE SET NULL,
	name                TEXT NOT NULL,
	title               TEXT NOT NULL DEFAULT '',
	role_in_decision    TEXT NOT NULL DEFAULT '',
	pain_point          TEXT NOT NULL DEFAULT '',
	ai_use_case         TEXT NOT NULL DEFAULT '',
	expected_outcome    TEXT NOT NULL DEFAULT '',
	strategic_alignment TEXT NOT NULL DEFAULT '',
	value_hook          TEXT NOT NULL DEFAULT '',
	source              TEXT NOT NULL DEFAULT 'auto',
	added_by            TEXT NOT NULL DEFAULT '',
	created_at          DATETIME NOT NULL,
	updated_at          DATETIME NOT NULL,
	last_researched_at  DATETIME
);

CREATE TABLE IF NOT EXISTS research_queue (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	persona_id    INTEGER NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
	company_id    INTEGER NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	status        TEXT NOT NULL DEFAULT 'pending',
	requested_by  TEXT NOT NULL DEFAULT '',
	requested_at  DATETIME NOT NULL,
	started_at    DATETIME,
	completed_at  DATETIME,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reports_company_id ON reports(company_id);
CREATE INDEX IF NOT EXISTS idx_personas_company_id ON personas(company_id);
CREATE INDEX IF NOT EXISTS idx_personas_report_id ON personas(report_id);
CREATE INDEX IF NOT EXISTS idx_research_queue_status ON research_queue(status);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

const sqliteUpsertCompany = `
INSERT INTO companies (name, industry, created_at, updated_at) VALUES (?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	industry = CASE WHEN companies.industry = '' THEN excluded.industry ELSE companies.industry END,
	updated_at = excluded.updated_at
RETURNING id`

const sqliteInsertPersona = `INSERT INTO personas (company_id, report_id, name, title, role_in_decision, pain_point, ai_use_case, expected_outcome, strategic_alignment, value_hook, source, added_by, created_at, updated_at, last_researched_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// SaveReport upserts the report's company, inserts the report and its
// personas in one transaction, and returns the new report id.
func (s *SQLiteStore) SaveReport(ctx context.Context, r *model.Report) (int64, error) {
	if r == nil || strings.TrimSpace(r.CompanyName) == "" {
		return 0, eris.New("sqlite: report has no company name")
	}
	steps, failed, errs, err := marshalSteps(r)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: save report")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := nowUTC()
	var companyID int64
	if err := tx.QueryRowContext(ctx, sqliteUpsertCompany, r.CompanyName, r.Industry, now, now).Scan(&companyID); err != nil {
		return 0, eris.Wrapf(err, "sqlite: upsert company %s", r.CompanyName)
	}

	var reportID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO reports (company_id, research_id, user_email, steps, status, llm_provider, llm_model, total_tokens, web_searches, research_duration_seconds, cost_estimate_usd, failed_steps, errors, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		companyID, r.ResearchID, r.UserEmail, string(steps), string(r.Status), r.LLMProvider, r.LLMModel,
		r.TotalTokens, r.WebSearches, r.DurationSeconds, r.CostEstimateUSD, string(failed), string(errs),
		now, r.CompletedAt,
	).Scan(&reportID)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert report %s", r.ResearchID)
	}

	for i := range r.Personas {
		p := &r.Personas[i]
		if p.Source == "" {
			p.Source = model.PersonaSourceAuto
		}
		res, err := tx.ExecContext(ctx, sqliteInsertPersona,
			companyID, reportID, p.Name, p.Title, p.RoleInDecision, p.PainPoint, p.AIUseCase,
			p.ExpectedOutcome, p.StrategicAlignment, p.ValueHook, string(p.Source), p.AddedBy,
			now, now, r.CompletedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert persona %s", p.Name)
		}
		if p.ID, err = res.LastInsertId(); err != nil {
			return 0, eris.Wrap(err, "sqlite: persona id")
		}
		p.CompanyID = companyID
		p.ReportID = &reportID
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit report")
	}
	r.ID = reportID
	r.CompanyID = companyID
	r.CreatedAt = now
	return reportID, nil
}

const sqliteReportColumns = `r.id, r.company_id, c.name, c.industry, r.research_id, r.user_email, r.steps, r.status, r.llm_provider, r.llm_model, r.total_tokens, r.web_searches, r.research_duration_seconds, r.cost_estimate_usd, r.failed_steps, r.errors, r.created_at, r.completed_at`

func (s *SQLiteStore) ListReports(ctx context.Context, companyID int64) ([]model.Report, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports r JOIN companies c ON c.id = r.company_id
		WHERE r.company_id = ? ORDER BY r.created_at DESC, r.id DESC`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close() //nolint:errcheck

	var reports []model.Report
	for rows.Next() {
		r, err := scanSQLiteReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: iterate reports")
}

// GetReport returns the report with its personas, or nil when none exists.
func (s *SQLiteStore) GetReport(ctx context.Context, id int64) (*model.Report, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteReportColumns+` FROM reports r JOIN companies c ON c.id = r.company_id WHERE r.id = ?`, id)
	r, err := scanSQLiteReport(row)
	if eris.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get report %d", id)
	}

	r.Personas, err = s.queryPersonas(ctx, `WHERE report_id = ?`, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) DeleteReport(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reports WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete report %d", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.domain, c.industry, c.created_at, c.updated_at,
			(SELECT MAX(r.completed_at) FROM reports r WHERE r.company_id = c.id AND r.status = ?),
			(SELECT COUNT(*) FROM personas p WHERE p.company_id = c.id)
		FROM companies c ORDER BY c.name`, string(model.RunStatusComplete))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list companies")
	}
	defer rows.Close() //nolint:errcheck

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		var last nullTime
		if err := rows.Scan(&c.ID, &c.Name, &c.Domain, &c.Industry, &c.CreatedAt, &c.UpdatedAt, &last, &c.PersonaCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan company")
		}
		if last.Valid {
			t := last.Time
			c.LastResearched = &t
		}
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "sqlite: iterate companies")
}

// AddPersona inserts a manually added persona and queues it for research.
func (s *SQLiteStore) AddPersona(ctx context.Context, p *model.Persona) (int64, error) {
	if err := validatePersona(p); err != nil {
		return 0, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	now := nowUTC()
	p.Name = strings.TrimSpace(p.Name)
	p.Source = model.PersonaSourceManual
	res, err := tx.ExecContext(ctx, sqliteInsertPersona,
		p.CompanyID, p.ReportID, p.Name, p.Title, p.RoleInDecision, p.PainPoint, p.AIUseCase,
		p.ExpectedOutcome, p.StrategicAlignment, p.ValueHook, string(p.Source), p.AddedBy,
		now, now, nil,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: insert persona %s", p.Name)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: persona id")
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO research_queue (persona_id, company_id, status, requested_by, requested_at) VALUES (?, ?, ?, ?, ?)`,
		id, p.CompanyID, string(model.QueueStatusPending), p.AddedBy, now,
	); err != nil {
		return 0, eris.Wrapf(err, "sqlite: enqueue persona %d", id)
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit persona")
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return id, nil
}

func (s *SQLiteStore) ListPersonas(ctx context.Context, companyID int64) ([]model.Persona, error) {
	return s.queryPersonas(ctx, `WHERE company_id = ?`, companyID)
}

// ListQueue returns queued research requests with the given status.
func (s *SQLiteStore) ListQueue(ctx context.Context, status model.QueueStatus) ([]model.QueueItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, persona_id, company_id, status, requested_by, requested_at, started_at, completed_at, error_message
		FROM research_queue WHERE status = ? ORDER BY requested_at, id`, string(status))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list queue")
	}
	defer rows.Close() //nolint:errcheck

	var items []model.QueueItem
	for rows.Next() {
		var q model.QueueItem
		var st string
		if err := rows.Scan(&q.ID, &q.PersonaID, &q.CompanyID, &st, &q.RequestedBy, &q.RequestedAt, &q.StartedAt, &q.CompletedAt, &q.ErrorMessage); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan queue item")
		}
		q.Status = model.QueueStatus(st)
		items = append(items, q)
	}
	return items, eris.Wrap(rows.Err(), "sqlite: iterate queue")
}

// dedupePersonasSQL removes all but the most recently researched persona per
// company and case-insensitive name.
const dedupePersonasSQL = `
DELETE FROM personas WHERE id IN (
	SELECT id FROM (
		SELECT id, ROW_NUMBER() OVER (
			PARTITION BY company_id, lower(name)
			ORDER BY last_researched_at DESC NULLS LAST, updated_at DESC, created_at DESC, id DESC
		) AS rn
		FROM personas
	) ranked WHERE rn > 1
)`

func (s *SQLiteStore) DedupePersonas(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, dedupePersonasSQL)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: dedupe personas")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: rows affected")
	}
	return int(n), nil
}

func (s *SQLiteStore) queryPersonas(ctx context.Context, where string, args ...any) ([]model.Persona, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, company_id, report_id, name, title, role_in_decision, pain_point, ai_use_case, expected_outcome, strategic_alignment, value_hook, source, added_by, created_at, updated_at, last_researched_at
		FROM personas `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list personas")
	}
	defer rows.Close() //nolint:errcheck

	var personas []model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan persona")
		}
		personas = append(personas, *p)
	}
	return personas, eris.Wrap(rows.Err(), "sqlite: iterate personas")
}

func checkRowsAffected(res sql.Result, entity string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %d", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSQLiteReport(row scannable) (*model.Report, error) {
	var r model.Report
	var steps, failed, errs, status string
	err := row.Scan(&r.ID, &r.CompanyID, &r.CompanyName, &r.Industry, &r.ResearchID, &r.UserEmail,
		&steps, &status, &r.LLMProvider, &r.LLMModel, &r.TotalTokens, &r.WebSearches,
		&r.DurationSeconds, &r.CostEstimateUSD, &failed, &errs, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := unmarshalSteps(&r, []byte(steps), []byte(failed), []byte(errs)); err != nil {
		return nil, err
	}
	return &r, nil
}

func scanPersona(row scannable) (*model.Persona, error) {
	var p model.Persona
	var source string
	err := row.Scan(&p.ID, &p.CompanyID, &p.ReportID, &p.Name, &p.Title, &p.RoleInDecision,
		&p.PainPoint, &p.AIUseCase, &p.ExpectedOutcome, &p.StrategicAlignment, &p.ValueHook,
		&source, &p.AddedBy, &p.CreatedAt, &p.UpdatedAt, &p.LastResearchedAt)
	if err != nil {
		return nil, err
	}
	p.Source = model.PersonaSource(source)
	return &p, nil
}

// nullTime scans SQLite aggregate results, which lose the column's declared
// type and arrive as text.
type nullTime struct {
	Time  time.Time
	Valid bool
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Valid = false
		return nil
	case time.Time:
		n.Time, n.Valid = v, true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return eris.Errorf("sqlite: cannot scan %T into time", src)
	}
}

func (n *nullTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t, true
			return nil
		}
	}
	return eris.Errorf("sqlite: unrecognized time %q", s)
}
