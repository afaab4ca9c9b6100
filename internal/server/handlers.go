package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/pipeline"
	"github.com/noahsdonaldson/prospector/internal/store"
)

type researchRequest struct {
	CompanyName string `json:"company_name" validate:"required,max=200"`
	LLMProvider string `json:"llm_provider" validate:"omitempty,oneof=anthropic openai gemini"`
}

type saveRequest struct {
	Results   *model.Run      `json:"results" validate:"required"`
	Metadata  *model.Metadata `json:"metadata"`
	UserEmail string          `json:"user_email" validate:"omitempty,email"`
}

type personaRequest struct {
	CompanyID          int64  `json:"company_id" validate:"required,gt=0"`
	Name               string `json:"name" validate:"required,max=200"`
	Title              string `json:"title" validate:"max=200"`
	RoleInDecision     string `json:"role_in_decision"`
	PainPoint          string `json:"pain_point"`
	AIUseCase          string `json:"ai_use_case"`
	ExpectedOutcome    string `json:"expected_outcome"`
	StrategicAlignment string `json:"strategic_alignment"`
	ValueHook          string `json:"value_hook"`
	AddedBy            string `json:"added_by" validate:"omitempty,email"`
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.store.(pinger); ok {
		if err := p.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResearch streams a run as Server-Sent Events. Each event is named
// after its type. A client disconnect cancels the request context, which
// stops the run.
func (s *Server) handleResearch(w http.ResponseWriter, r *http.Request) {
	var req researchRequest
	if !s.decode(w, r, &req) {
		return
	}
	company := strings.TrimSpace(req.CompanyName)
	if company == "" {
		writeError(w, http.StatusBadRequest, "validation failed", "company_name: required")
		return
	}

	runner, err := s.research(r.Context(), req.LLMProvider)
	if err != nil {
		zap.L().Error("server: research unavailable", zap.String("provider", req.LLMProvider), zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "research unavailable", err.Error())
		return
	}

	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log := zap.L().With(zap.String("company", company))
	writeFailed := false
	for ev := range runner.Run(r.Context(), pipeline.Request{CompanyName: company}) {
		if writeFailed {
			// Keep draining so the producer can reach its terminal event.
			continue
		}
		if err := sse.writeEvent(string(ev.Type), ev); err != nil {
			log.Warn("server: stream write failed", zap.Error(err))
			writeFailed = true
		}
	}
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	var req saveRequest
	if !s.decode(w, r, &req) {
		return
	}

	report, err := store.ReportFromRun(req.Results, req.Metadata, req.UserEmail)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run", err.Error())
		return
	}
	id, err := s.store.SaveReport(r.Context(), report)
	if err != nil {
		zap.L().Error("server: save report", zap.String("research_id", report.ResearchID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to save report")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"report_id":   id,
		"research_id": report.ResearchID,
		"personas":    len(report.Personas),
	})
}

func (s *Server) handleListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := s.store.ListCompanies(r.Context())
	if err != nil {
		s.internalError(w, "list companies", err)
		return
	}
	if companies == nil {
		companies = []model.Company{}
	}
	writeJSON(w, http.StatusOK, companies)
}

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	reports, err := s.store.ListReports(r.Context(), id)
	if err != nil {
		s.internalError(w, "list reports", err)
		return
	}
	if reports == nil {
		reports = []model.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	personas, err := s.store.ListPersonas(r.Context(), id)
	if err != nil {
		s.internalError(w, "list personas", err)
		return
	}
	if personas == nil {
		personas = []model.Persona{}
	}
	writeJSON(w, http.StatusOK, personas)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	report, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeleteReport(r.Context(), id); err != nil {
		if eris.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "report not found")
			return
		}
		s.internalError(w, "delete report", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleValidateReport(w http.ResponseWriter, r *http.Request) {
	if s.judge == nil {
		writeError(w, http.StatusServiceUnavailable, "report validation is not configured")
		return
	}
	report, ok := s.loadReport(w, r)
	if !ok {
		return
	}
	result, err := s.judge.Validate(r.Context(), report)
	if err != nil {
		s.internalError(w, "validate report", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAddPersona(w http.ResponseWriter, r *http.Request) {
	var req personaRequest
	if !s.decode(w, r, &req) {
		return
	}
	p := &model.Persona{
		CompanyID:          req.CompanyID,
		Name:               req.Name,
		Title:              req.Title,
		RoleInDecision:     req.RoleInDecision,
		PainPoint:          req.PainPoint,
		AIUseCase:          req.AIUseCase,
		ExpectedOutcome:    req.ExpectedOutcome,
		StrategicAlignment: req.StrategicAlignment,
		ValueHook:          req.ValueHook,
		Source:             model.PersonaSourceManual,
		AddedBy:            req.AddedBy,
	}
	id, err := s.store.AddPersona(r.Context(), p)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to add persona", err.Error())
		return
	}
	p.ID = id
	writeJSON(w, http.StatusCreated, p)
}

// loadReport fetches the report named by {id}, writing 400 or 404
// responses as needed.
func (s *Server) loadReport(w http.ResponseWriter, r *http.Request) (*model.Report, bool) {
	id, ok := pathID(w, r)
	if !ok {
		return nil, false
	}
	report, err := s.store.GetReport(r.Context(), id)
	if err != nil {
		s.internalError(w, "get report", err)
		return nil, false
	}
	if report == nil {
		writeError(w, http.StatusNotFound, "report not found")
		return nil, false
	}
	return report, true
}

func (s *Server) internalError(w http.ResponseWriter, action string, err error) {
	zap.L().Error("server: "+action, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to "+action)
}
