package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/parse"
	"github.com/noahsdonaldson/prospector/internal/prompts"
	"github.com/noahsdonaldson/prospector/internal/search"
)

// runState is the accumulator for one run. It is owned by the producer
// goroutine.
type runState struct {
	p      *Pipeline
	ctx    context.Context
	events chan<- model.Event
	run    *model.Run
	meta   *model.Metadata
	log    *zap.Logger

	tokenCost float64
	units     []model.UnitContext
}

// emit sends ev unless ctx is done first.
func (s *runState) emit(ev model.Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-s.ctx.Done():
		return canceled(s.ctx)
	}
}

func (s *runState) progress(stage, percent int, message string) error {
	return s.emit(model.Event{
		Type:            model.EventProgress,
		Step:            stage,
		StepName:        model.StageNames[stage],
		Message:         message,
		ProgressPercent: percent,
	})
}

func (s *runState) stepComplete(stage int, data any) error {
	return s.emit(model.Event{
		Type:            model.EventStepComplete,
		Step:            stage,
		StepName:        model.StageNames[stage],
		Data:            data,
		ProgressPercent: stageDone[stage],
	})
}

// call issues one model request without touching run counters, so it is
// safe to use from concurrent deep-dives.
func (s *runState) call(ctx context.Context, stage int, prompt string) (*llm.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, canceled(ctx)
	}
	resp, err := s.p.llm.Generate(ctx, llm.Request{
		Prompt:    prompt,
		MaxTokens: s.p.maxTokens,
		Schema:    prompts.Schema(stage),
	})
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: stage %d", stage)
	}
	return resp, nil
}

// account folds a successful call into the run metadata.
func (s *runState) account(resp *llm.Response) {
	s.meta.LLMCalls++
	s.meta.TotalTokens += resp.Usage.Total()
	modelName := resp.Model
	if modelName == "" {
		modelName = s.p.llm.Model()
	}
	s.tokenCost += s.p.costCalc.Tokens(modelName, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	llmCalls.WithLabelValues(s.p.llm.Provider()).Inc()
}

// generate is call plus account.
func (s *runState) generate(stage int, prompt string) (string, error) {
	resp, err := s.call(s.ctx, stage, prompt)
	if err != nil {
		return "", err
	}
	s.account(resp)
	return resp.Text, nil
}

// lookup runs a stage search without touching counters. A nil client
// returns an empty result.
func (s *runState) lookup(ctx context.Context, topic string) (search.Result, bool) {
	if s.p.search == nil {
		return search.Result{}, false
	}
	return s.p.search.Search(ctx, search.Query(s.run.CompanyName, topic), s.p.maxResults), true
}

func (s *runState) countSearches(n int) {
	s.meta.WebSearches += n
	webSearches.Add(float64(n))
}

// searchTopic is lookup plus counting.
func (s *runState) searchTopic(topic string) search.Result {
	res, searched := s.lookup(s.ctx, topic)
	if searched {
		s.countSearches(1)
	}
	return res
}

// webContext returns the prompt context for a search result.
func webContext(res search.Result) string {
	if res.Failed {
		return ""
	}
	return res.Text
}

func citations(res search.Result) []model.Citation {
	if res.Citations == nil {
		return []model.Citation{}
	}
	return res.Citations
}

// record parses raw and stores it as a single-call stage result.
func (s *runState) record(stage int, raw string, cites []model.Citation) *model.StageResult {
	outcome := parse.Parse(raw)
	result := &model.StageResult{
		Step:         stage,
		Name:         model.StageNames[stage],
		Status:       model.StageStatusComplete,
		Data:         outcome,
		Raw:          raw,
		Citations:    cites,
		SchemaErrors: conform(stage, outcome),
	}
	if outcome.Fallback() {
		s.log.Warn("pipeline: stage output did not parse", zap.Int("stage", stage))
	}
	return result
}

// raw returns a completed stage's raw text, or "".
func (s *runState) raw(stage int) string {
	if r := s.run.Steps.Single(stage); r != nil {
		return r.Raw
	}
	return ""
}
