// Package pipeline runs the seven-stage account research pipeline and
// streams its progress as events.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/cost"
	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/prompts"
	"github.com/noahsdonaldson/prospector/internal/search"
)

const (
	defaultMaxUnits   = 3
	defaultMaxResults = 5
	eventBuffer       = 16
)

// Stage checkpoints: progress at stage start, indexed by stage. The
// step_complete percentage of stage n is the start of stage n+1.
var stageStart = map[int]int{1: 0, 2: 14, 3: 28, 4: 43, 5: 57, 6: 71, 7: 85}

var stageDone = map[int]int{1: 14, 2: 28, 3: 43, 4: 57, 5: 71, 6: 85, 7: 100}

// retryProgress is reported when the persona stage is retried.
const retryProgress = 62

// Request starts a run.
type Request struct {
	CompanyName string
	// ResearchID is generated when empty.
	ResearchID string
}

// Pipeline runs research. It holds no per-run state and may serve
// concurrent runs.
type Pipeline struct {
	llm      llm.Client
	search   search.Client
	prompts  *prompts.Builder
	costCalc *cost.Calculator

	maxTokens      int
	maxUnits       int
	maxResults     int
	parallel       bool
	executiveRoles []string
	searchProvider string

	now func() time.Time
}

// New creates a Pipeline. searcher may be nil, which disables web search.
func New(cfg *config.Config, client llm.Client, searcher search.Client) *Pipeline {
	p := &Pipeline{
		llm:            client,
		search:         searcher,
		prompts:        prompts.New(cfg.Pipeline.Budgets),
		costCalc:       cost.FromConfig(cfg.Pricing),
		maxTokens:      cfg.LLM.MaxTokens,
		maxUnits:       cfg.Pipeline.MaxBusinessUnits,
		maxResults:     cfg.Search.MaxResults,
		parallel:       cfg.Pipeline.ParallelDeepDives,
		executiveRoles: cfg.Search.ExecutiveRoles,
		searchProvider: cfg.Search.Provider,
		now:            time.Now,
	}
	if p.maxUnits <= 0 {
		p.maxUnits = defaultMaxUnits
	}
	if p.maxResults <= 0 {
		p.maxResults = defaultMaxResults
	}
	if len(p.executiveRoles) == 0 {
		p.executiveRoles = config.DefaultExecutiveRoles
	}
	if p.searchProvider == "" {
		p.searchProvider = "tavily"
	}
	return p
}

// Run starts a research run and returns its event stream. The stream ends
// with exactly one complete or error event and is then closed. Canceling
// ctx stops the run at its next suspension point.
func (p *Pipeline) Run(ctx context.Context, req Request) <-chan model.Event {
	events := make(chan model.Event, eventBuffer)

	id := req.ResearchID
	if id == "" {
		id = uuid.NewString()
	}

	s := &runState{
		p:      p,
		ctx:    ctx,
		events: events,
		run: &model.Run{
			ResearchID:  id,
			CompanyName: req.CompanyName,
			LLMProvider: p.llm.Provider(),
			Status:      model.RunStatusInProgress,
			FailedSteps: []int{},
			Errors:      []model.RunError{},
		},
		meta: &model.Metadata{
			ResearchID: id,
			Model:      p.llm.Model(),
			StartTime:  p.now(),
		},
		log: zap.L().With(zap.String("company", req.CompanyName), zap.String("research_id", id)),
	}

	go func() {
		defer close(events)
		s.execute()
	}()
	return events
}

// Collect drains a run's events and returns the terminal one.
func Collect(events <-chan model.Event) (model.Event, bool) {
	var last model.Event
	var ok bool
	for ev := range events {
		if ev.Type.Terminal() {
			last, ok = ev, true
		}
	}
	return last, ok
}

type stage struct {
	idx int
	fn  func() error
}

func (s *runState) execute() {
	s.log.Info("pipeline: starting research")

	stages := []stage{
		{model.StageStrategicObjectives, s.strategicObjectives},
		{model.StageBUAlignment, s.buAlignment},
		{model.StageBUDeepDive, s.buDeepDive},
		{model.StageAIAlignment, s.aiAlignment},
		{model.StagePersonaMapping, s.personaMapping},
		{model.StageValueRealization, s.valueRealization},
		{model.StageOutreachEmail, s.outreachEmail},
	}

	for _, st := range stages {
		start := time.Now()
		err := st.fn()
		dur := time.Since(start)
		if err != nil {
			stageDuration.WithLabelValues(model.StageKeys[st.idx], "failed").Observe(dur.Seconds())
			s.log.Error("pipeline: stage failed",
				zap.Int("stage", st.idx),
				zap.Int64("duration_ms", dur.Milliseconds()),
				zap.Error(err),
			)
			s.fail(st.idx, err)
			return
		}
		stageDuration.WithLabelValues(model.StageKeys[st.idx], "complete").Observe(dur.Seconds())
		s.log.Info("pipeline: stage complete",
			zap.Int("stage", st.idx),
			zap.Int64("duration_ms", dur.Milliseconds()),
		)
	}
	s.complete()
}

func (s *runState) finish() {
	s.meta.Finish(s.p.now())
	s.meta.CostEstimateUSD = s.tokenCost + s.p.costCalc.Searches(s.p.searchProvider, s.meta.WebSearches)
}

func (s *runState) complete() {
	s.run.Status = model.RunStatusComplete
	s.finish()
	runsTotal.WithLabelValues(string(model.RunStatusComplete)).Inc()
	s.log.Info("pipeline: research complete",
		zap.Int("llm_calls", s.meta.LLMCalls),
		zap.Int("web_searches", s.meta.WebSearches),
		zap.Int64("total_tokens", s.meta.TotalTokens),
		zap.Int("duration_s", s.meta.DurationSeconds),
	)
	s.terminal(model.Event{
		Type:            model.EventComplete,
		Message:         "Research complete for " + s.run.CompanyName,
		ProgressPercent: 100,
	})
}

func (s *runState) fail(stage int, err error) {
	s.run.Status = model.RunStatusFailed
	s.run.FailedSteps = append(s.run.FailedSteps, stage)
	s.run.Errors = append(s.run.Errors, model.RunError{Step: stage, Message: err.Error()})
	s.finish()
	runsTotal.WithLabelValues(string(model.RunStatusFailed)).Inc()
	s.terminal(model.Event{
		Type:            model.EventError,
		Step:            stage,
		StepName:        model.StageNames[stage],
		Message:         err.Error(),
		ProgressPercent: stageStart[stage],
	})
}

// terminal attaches the run and metadata and sends the final event.
func (s *runState) terminal(ev model.Event) {
	run := *s.run
	meta := *s.meta
	ev.Results = &run
	ev.Metadata = &meta
	_ = s.emit(ev)
}

// canceled wraps the context error that stopped a run.
func canceled(ctx context.Context) error {
	return eris.Wrap(ctx.Err(), "pipeline: run canceled")
}
