package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/judge"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/pipeline"
	"github.com/noahsdonaldson/prospector/internal/store"
)

// scriptedResearcher replays fixed events, or a canceled error event when
// the request context is already done.
type scriptedResearcher struct {
	events  []model.Event
	gotReq  pipeline.Request
	ctxDone bool
}

func (f *scriptedResearcher) Run(ctx context.Context, req pipeline.Request) <-chan model.Event {
	f.gotReq = req
	ch := make(chan model.Event, len(f.events)+1)
	go func() {
		defer close(ch)
		if ctx.Err() != nil {
			f.ctxDone = true
			ch <- model.Event{Type: model.EventError, Message: "pipeline: run canceled"}
			return
		}
		for _, ev := range f.events {
			ch <- ev
		}
	}()
	return ch
}

type fakeJudge struct {
	calls int
}

func (f *fakeJudge) Validate(_ context.Context, r *model.Report) (*judge.Report, error) {
	f.calls++
	return &judge.Report{
		ReportID:      r.ID,
		CompanyName:   r.CompanyName,
		OverallScore:  88,
		OverallStatus: judge.StatusGreen,
	}, nil
}

type testEnv struct {
	srv        *Server
	handler    http.Handler
	store      store.Store
	researcher *scriptedResearcher
	provider   string
}

func newTestEnv(t *testing.T, j Validator) *testEnv {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	env := &testEnv{store: st, researcher: &scriptedResearcher{}}
	factory := func(_ context.Context, provider string) (Researcher, error) {
		env.provider = provider
		if provider == "gemini" {
			return nil, fmt.Errorf("gemini.key is required")
		}
		return env.researcher, nil
	}
	env.srv = New(config.ServerConfig{Port: 8000, AllowedOrigins: []string{"http://localhost:5173"}}, st, factory, j)
	env.handler = env.srv.Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func testRun() *model.Run {
	personas := `{"personas":[{"name":"Jane Doe","title":"CFO"},{"name":"TBD","title":"CIO"},{"name":"John Roe","title":"CTO"}]}`
	return &model.Run{
		ResearchID:  "res-1",
		CompanyName: "Acme Corp",
		Industry:    "Manufacturing",
		LLMProvider: "openai",
		Status:      model.RunStatusComplete,
		Steps: model.Steps{
			StrategicObjectives: &model.StageResult{
				Step:   1,
				Name:   "Strategic Objectives",
				Status: model.StageStatusComplete,
				Data:   model.Structured{Record: json.RawMessage(`{"industry":"Manufacturing"}`)},
				Raw:    `{"industry":"Manufacturing"}`,
			},
			PersonaMapping: &model.StageResult{
				Step:   5,
				Name:   "Persona Mapping",
				Status: model.StageStatusComplete,
				Data:   model.Structured{Record: json.RawMessage(personas)},
				Raw:    personas,
			},
		},
		FailedSteps: []int{},
		Errors:      []model.RunError{},
	}
}

func testMeta() *model.Metadata {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	m := &model.Metadata{ResearchID: "res-1", Model: "gpt-4o", StartTime: start, TotalTokens: 1200, WebSearches: 15}
	m.Finish(start.Add(90 * time.Second))
	return m
}

func (e *testEnv) save(t *testing.T) int64 {
	t.Helper()
	rec := e.do(t, http.MethodPost, "/api/research/save", map[string]any{
		"results":    testRun(),
		"metadata":   testMeta(),
		"user_email": "rep@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp struct {
		ReportID int64 `json:"report_id"`
		Personas int   `json:"personas"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Personas)
	return resp.ReportID
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestResearch_StreamsEvents(t *testing.T) {
	env := newTestEnv(t, nil)
	env.researcher.events = []model.Event{
		{Type: model.EventProgress, Step: 1, Message: "Analyzing", ProgressPercent: 0},
		{Type: model.EventStepComplete, Step: 1, ProgressPercent: 14},
		{Type: model.EventComplete, ProgressPercent: 100, Results: testRun()},
	}

	rec := env.do(t, http.MethodPost, "/api/research", map[string]string{
		"company_name": "  Acme Corp ",
		"llm_provider": "openai",
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Acme Corp", env.researcher.gotReq.CompanyName)
	assert.Equal(t, "openai", env.provider)

	body := rec.Body.String()
	frames := strings.Split(strings.TrimSpace(body), "\n\n")
	require.Len(t, frames, 3)
	assert.True(t, strings.HasPrefix(frames[0], "event: progress\ndata: {"))
	assert.True(t, strings.HasPrefix(frames[1], "event: step_complete\ndata: "))
	assert.True(t, strings.HasPrefix(frames[2], "event: complete\ndata: "))

	var last model.Event
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(frames[2], "event: complete\ndata: ")), &last))
	assert.Equal(t, model.EventComplete, last.Type)
	assert.Equal(t, 100, last.ProgressPercent)
	require.NotNil(t, last.Results)
	assert.Equal(t, "Acme Corp", last.Results.CompanyName)
}

func TestResearch_CanceledContextStopsRun(t *testing.T) {
	env := newTestEnv(t, nil)
	env.researcher.events = []model.Event{{Type: model.EventComplete}}

	b, err := json.Marshal(map[string]string{"company_name": "Acme"})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/api/research", bytes.NewReader(b)).WithContext(ctx)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.True(t, env.researcher.ctxDone)
	assert.Contains(t, rec.Body.String(), "event: error\n")
}

func TestResearch_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/research", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "company_name: required")

	rec = env.do(t, http.MethodPost, "/api/research", map[string]string{"company_name": "Acme", "llm_provider": "mistral"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "llm_provider: oneof")

	rec = env.do(t, http.MethodPost, "/api/research", map[string]string{"company_name": "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.handler.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
	assert.Contains(t, raw.Body.String(), "invalid request body")
}

func TestResearch_ProviderUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/research", map[string]string{"company_name": "Acme", "llm_provider": "gemini"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "gemini.key is required")
}

func TestReportLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)
	id := env.save(t)

	rec := env.do(t, http.MethodGet, "/api/companies", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var companies []model.Company
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &companies))
	require.Len(t, companies, 1)
	assert.Equal(t, "Acme Corp", companies[0].Name)
	assert.Equal(t, 2, companies[0].PersonaCount)
	companyID := companies[0].ID

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/companies/%d/reports", companyID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var reports []model.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &reports))
	require.Len(t, reports, 1)
	assert.Equal(t, id, reports[0].ID)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/companies/%d/personas", companyID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var personas []model.Persona
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &personas))
	assert.Len(t, personas, 2)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/reports/%d", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report model.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, "res-1", report.ResearchID)
	assert.Equal(t, "rep@example.com", report.UserEmail)
	assert.Contains(t, report.Steps, "step5_persona_mapping")

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/reports/%d", id), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/reports/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/api/reports/%d", id), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSave_Validation(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/research/save", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "results: required")

	rec = env.do(t, http.MethodPost, "/api/research/save", map[string]any{"results": testRun(), "user_email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "user_email: email")

	run := testRun()
	run.CompanyName = ""
	rec = env.do(t, http.MethodPost, "/api/research/save", map[string]any{"results": run})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid run")
}

func TestEmptyListsAreArrays(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/companies", "/api/companies/1/reports", "/api/companies/1/personas"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()), path)
	}
}

func TestInvalidID(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, path := range []string{"/api/reports/abc", "/api/reports/0", "/api/companies/-1/reports"} {
		rec := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestValidateReport(t *testing.T) {
	j := &fakeJudge{}
	env := newTestEnv(t, j)
	id := env.save(t)

	rec := env.do(t, http.MethodPost, fmt.Sprintf("/api/reports/%d/validate", id), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var result judge.Report
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 88, result.OverallScore)
	assert.Equal(t, judge.StatusGreen, result.OverallStatus)
	assert.Equal(t, 1, j.calls)

	rec = env.do(t, http.MethodPost, "/api/reports/999/validate", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestValidateReport_NotConfigured(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodPost, "/api/reports/1/validate", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAddPersona(t *testing.T) {
	env := newTestEnv(t, nil)
	env.save(t)

	rec := env.do(t, http.MethodGet, "/api/companies", nil)
	var companies []model.Company
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &companies))
	require.Len(t, companies, 1)

	rec = env.do(t, http.MethodPost, "/api/personas", map[string]any{
		"company_id": companies[0].ID,
		"name":       " Ann Lee ",
		"title":      "COO",
		"added_by":   "rep@example.com",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var p model.Persona
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	assert.NotZero(t, p.ID)
	assert.Equal(t, "Ann Lee", p.Name)
	assert.Equal(t, model.PersonaSourceManual, p.Source)

	queue, err := env.store.ListQueue(context.Background(), model.QueueStatusPending)
	require.NoError(t, err)
	require.Len(t, queue, 1)
	assert.Equal(t, p.ID, queue[0].PersonaID)

	rec = env.do(t, http.MethodPost, "/api/personas", map[string]any{"name": "No Company"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "company_id: required")

	rec = env.do(t, http.MethodPost, "/api/personas", map[string]any{"company_id": companies[0].ID, "name": "TBD"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)
	env.do(t, http.MethodGet, "/health", nil)

	rec := env.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "prospector_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/research", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/research", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
