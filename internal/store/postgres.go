package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/noahsdonaldson/prospector/internal/db"
	"github.com/noahsdonaldson/prospector/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id         BIGSERIAL PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	domain     TEXT NOT NULL DEFAULT '',
	industry   TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reports (
	id                        BIGSERIAL PRIMARY KEY,
	company_id                BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	research_id               TEXT NOT NULL UNIQUE,
	user_email                TEXT NOT NULL DEFAULT '',
	steps                     JSONB NOT NULL DEFAULT '{}',
	status                    TEXT NOT NULL,
	llm_provider              TEXT NOT NULL DEFAULT '',
	llm_model                 TEXT NOT NULL DEFAULT '',
	total_tokens              BIGINT NOT NULL DEFAULT 0,
	web_searches              INTEGER NOT NULL DEFAULT 0,
	research_duration_seconds INTEGER NOT NULL DEFAULT 0,
	cost_estimate_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	failed_steps              JSONB NOT NULL DEFAULT '[]',
	errors                    JSONB NOT NULL DEFAULT '[]',
	created_at                TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at              TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS personas (
	id                  BIGSERIAL PRIMARY KEY,
	company_id          BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	report_id           BIGINT REFERENCES reports(id) ON DELETE SET NULL,
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
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_researched_at  TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS research_queue (
	id            BIGSERIAL PRIMARY KEY,
	persona_id    BIGINT NOT NULL REFERENCES personas(id) ON DELETE CASCADE,
	company_id    BIGINT NOT NULL REFERENCES companies(id) ON DELETE CASCADE,
	status        TEXT NOT NULL DEFAULT 'pending',
	requested_by  TEXT NOT NULL DEFAULT '',
	requested_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at    TIMESTAMPTZ,
	completed_at  TIMESTAMPTZ,
	error_message TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_reports_company_id ON reports(company_id);
CREATE INDEX IF NOT EXISTS idx_personas_company_id ON personas(company_id);
CREATE INDEX IF NOT EXISTS idx_personas_report_id ON personas(report_id);
CREATE INDEX IF NOT EXISTS idx_research_queue_status ON research_queue(status);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

var personaCopyColumns = []string{
	"company_id", "report_id", "name", "title", "role_in_decision", "pain_point",
	"ai_use_case", "expected_outcome", "strategic_alignment", "value_hook",
	"source", "added_by", "created_at", "updated_at", "last_researched_at",
}

// SaveReport upserts the report's company, inserts the report, and copies its
// personas in one transaction.
func (s *PostgresStore) SaveReport(ctx context.Context, r *model.Report) (int64, error) {
	if r == nil || strings.TrimSpace(r.CompanyName) == "" {
		return 0, eris.New("postgres: report has no company name")
	}
	steps, failed, errs, err := marshalSteps(r)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: save report")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := nowUTC()
	var companyID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO companies (name, industry, created_at, updated_at) VALUES ($1, $2, $3, $3)
		ON CONFLICT (name) DO UPDATE SET
			industry = CASE WHEN companies.industry = '' THEN EXCLUDED.industry ELSE companies.industry END,
			updated_at = EXCLUDED.updated_at
		RETURNING id`,
		r.CompanyName, r.Industry, now,
	).Scan(&companyID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: upsert company %s", r.CompanyName)
	}

	var reportID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO reports (company_id, research_id, user_email, steps, status, llm_provider, llm_model, total_tokens, web_searches, research_duration_seconds, cost_estimate_usd, failed_steps, errors, created_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15) RETURNING id`,
		companyID, r.ResearchID, r.UserEmail, steps, string(r.Status), r.LLMProvider, r.LLMModel,
		r.TotalTokens, r.WebSearches, r.DurationSeconds, r.CostEstimateUSD, failed, errs,
		now, r.CompletedAt,
	).Scan(&reportID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert report %s", r.ResearchID)
	}

	rows := make([][]any, 0, len(r.Personas))
	for i := range r.Personas {
		p := &r.Personas[i]
		if p.Source == "" {
			p.Source = model.PersonaSourceAuto
		}
		p.CompanyID = companyID
		p.ReportID = &reportID
		rows = append(rows, []any{
			companyID, reportID, p.Name, p.Title, p.RoleInDecision, p.PainPoint,
			p.AIUseCase, p.ExpectedOutcome, p.StrategicAlignment, p.ValueHook,
			string(p.Source), p.AddedBy, now, now, r.CompletedAt,
		})
	}
	if _, err := db.CopyFrom(ctx, tx, "personas", personaCopyColumns, rows); err != nil {
		return 0, eris.Wrap(err, "postgres: copy personas")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit report")
	}
	r.ID = reportID
	r.CompanyID = companyID
	r.CreatedAt = now
	return reportID, nil
}

const postgresReportColumns = `r.id, r.company_id, c.name, c.industry, r.research_id, r.user_email, r.steps, r.status, r.llm_provider, r.llm_model, r.total_tokens, r.web_searches, r.research_duration_seconds, r.cost_estimate_usd, r.failed_steps, r.errors, r.created_at, r.completed_at`

func (s *PostgresStore) ListReports(ctx context.Context, companyID int64) ([]model.Report, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+postgresReportColumns+` FROM reports r JOIN companies c ON c.id = r.company_id
		WHERE r.company_id = $1 ORDER BY r.created_at DESC, r.id DESC`, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.Report
	for rows.Next() {
		r, err := scanPostgresReport(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan report")
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: iterate reports")
}

// GetReport returns the report with its personas, or nil when none exists.
func (s *PostgresStore) GetReport(ctx context.Context, id int64) (*model.Report, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresReportColumns+` FROM reports r JOIN companies c ON c.id = r.company_id WHERE r.id = $1`, id)
	r, err := scanPostgresReport(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get report %d", id)
	}

	r.Personas, err = s.queryPersonas(ctx, `WHERE report_id = $1`, id)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *PostgresStore) DeleteReport(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM reports WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete report %d", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "report %d", id)
	}
	return nil
}

func (s *PostgresStore) ListCompanies(ctx context.Context) ([]model.Company, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT c.id, c.name, c.domain, c.industry, c.created_at, c.updated_at,
			(SELECT MAX(r.completed_at) FROM reports r WHERE r.company_id = c.id AND r.status = $1),
			(SELECT COUNT(*) FROM personas p WHERE p.company_id = c.id)
		FROM companies c ORDER BY c.name`, string(model.RunStatusComplete))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list companies")
	}
	defer rows.Close()

	var companies []model.Company
	for rows.Next() {
		var c model.Company
		var count int64
		if err := rows.Scan(&c.ID, &c.Name, &c.Domain, &c.Industry, &c.CreatedAt, &c.UpdatedAt, &c.LastResearched, &count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan company")
		}
		c.PersonaCount = int(count)
		companies = append(companies, c)
	}
	return companies, eris.Wrap(rows.Err(), "postgres: iterate companies")
}

// AddPersona inserts a manually added persona and queues it for research.
func (s *PostgresStore) AddPersona(ctx context.Context, p *model.Persona) (int64, error) {
	if err := validatePersona(p); err != nil {
		return 0, err
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	now := nowUTC()
	p.Name = strings.TrimSpace(p.Name)
	p.Source = model.PersonaSourceManual
	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO personas (company_id, report_id, name, title, role_in_decision, pain_point, ai_use_case, expected_outcome, strategic_alignment, value_hook, source, added_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13) RETURNING id`,
		p.CompanyID, p.ReportID, p.Name, p.Title, p.RoleInDecision, p.PainPoint, p.AIUseCase,
		p.ExpectedOutcome, p.StrategicAlignment, p.ValueHook, string(p.Source), p.AddedBy, now,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert persona %s", p.Name)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO research_queue (persona_id, company_id, status, requested_by, requested_at) VALUES ($1, $2, $3, $4, $5)`,
		id, p.CompanyID, string(model.QueueStatusPending), p.AddedBy, now,
	); err != nil {
		return 0, eris.Wrapf(err, "postgres: enqueue persona %d", id)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit persona")
	}
	p.ID = id
	p.CreatedAt = now
	p.UpdatedAt = now
	return id, nil
}

func (s *PostgresStore) ListPersonas(ctx context.Context, companyID int64) ([]model.Persona, error) {
	return s.queryPersonas(ctx, `WHERE company_id = $1`, companyID)
}

// ListQueue returns queued research requests with the given status.
func (s *PostgresStore) ListQueue(ctx context.Context, status model.QueueStatus) ([]model.QueueItem, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, persona_id, company_id, status, requested_by, requested_at, started_at, completed_at, error_message
		FROM research_queue WHERE status = $1 ORDER BY requested_at, id`, string(status))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list queue")
	}
	defer rows.Close()

	var items []model.QueueItem
	for rows.Next() {
		var q model.QueueItem
		var st string
		if err := rows.Scan(&q.ID, &q.PersonaID, &q.CompanyID, &st, &q.RequestedBy, &q.RequestedAt, &q.StartedAt, &q.CompletedAt, &q.ErrorMessage); err != nil {
			return nil, eris.Wrap(err, "postgres: scan queue item")
		}
		q.Status = model.QueueStatus(st)
		items = append(items, q)
	}
	return items, eris.Wrap(rows.Err(), "postgres: iterate queue")
}

func (s *PostgresStore) DedupePersonas(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, dedupePersonasSQL)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: dedupe personas")
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) queryPersonas(ctx context.Context, where string, args ...any) ([]model.Persona, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, company_id, report_id, name, title, role_in_decision, pain_point, ai_use_case, expected_outcome, strategic_alignment, value_hook, source, added_by, created_at, updated_at, last_researched_at
		FROM personas `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list personas")
	}
	defer rows.Close()

	var personas []model.Persona
	for rows.Next() {
		p, err := scanPersona(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan persona")
		}
		personas = append(personas, *p)
	}
	return personas, eris.Wrap(rows.Err(), "postgres: iterate personas")
}

func scanPostgresReport(row scannable) (*model.Report, error) {
	var r model.Report
	var steps, failed, errs []byte
	var status string
	err := row.Scan(&r.ID, &r.CompanyID, &r.CompanyName, &r.Industry, &r.ResearchID, &r.UserEmail,
		&steps, &status, &r.LLMProvider, &r.LLMModel, &r.TotalTokens, &r.WebSearches,
		&r.DurationSeconds, &r.CostEstimateUSD, &failed, &errs, &r.CreatedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Status = model.RunStatus(status)
	if err := unmarshalSteps(&r, steps, failed, errs); err != nil {
		return nil, err
	}
	return &r, nil
}
