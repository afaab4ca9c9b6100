package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
	"github.com/noahsdonaldson/prospector/internal/search"
)

type checkpoint struct {
	typ     model.EventType
	step    int
	percent int
}

func checkpoints(events []model.Event) []checkpoint {
	out := make([]checkpoint, 0, len(events))
	for _, ev := range events {
		out = append(out, checkpoint{ev.Type, ev.Step, ev.ProgressPercent})
	}
	return out
}

func TestRun_StageOrderingAndCheckpoints(t *testing.T) {
	f := newFakeLLM()
	p := New(testConfig(), f, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))

	want := []checkpoint{
		{model.EventProgress, 1, 0},
		{model.EventStepComplete, 1, 14},
		{model.EventProgress, 2, 14},
		{model.EventStepComplete, 2, 28},
		{model.EventProgress, 3, 28},
		{model.EventProgress, 3, 28},
		{model.EventProgress, 3, 33},
		{model.EventStepComplete, 3, 43},
		{model.EventProgress, 4, 43},
		{model.EventStepComplete, 4, 57},
		{model.EventProgress, 5, 57},
		{model.EventStepComplete, 5, 71},
		{model.EventProgress, 6, 71},
		{model.EventStepComplete, 6, 85},
		{model.EventProgress, 7, 85},
		{model.EventStepComplete, 7, 100},
		{model.EventComplete, 0, 100},
	}
	assert.Equal(t, want, checkpoints(events))
	assert.Equal(t, []string{"step1", "step2", "step3", "step3", "step4", "step5", "step6", "step7"}, f.stages())

	final := events[len(events)-1]
	require.NotNil(t, final.Results)
	require.NotNil(t, final.Metadata)
	assert.Equal(t, model.RunStatusComplete, final.Results.Status)
	assert.Empty(t, final.Results.FailedSteps)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, final.Results.Steps.Completed())
	assert.Equal(t, 8, final.Metadata.LLMCalls)
	assert.Equal(t, 0, final.Metadata.WebSearches)
	assert.Equal(t, 0, final.Metadata.Retries)
	assert.Equal(t, int64(8*150), final.Metadata.TotalTokens)
	assert.NotNil(t, final.Metadata.EndTime)
	assert.Positive(t, final.Metadata.CostEstimateUSD)
	assert.Equal(t, final.Results.ResearchID, final.Metadata.ResearchID)
	assert.Equal(t, llm.ProviderOpenAI, final.Results.LLMProvider)
}

func TestRun_StepCompleteCarriesParsedData(t *testing.T) {
	p := New(testConfig(), newFakeLLM(), nil)
	events := drain(p.Run(context.Background(), Request{CompanyName: company}))

	for _, ev := range events {
		if ev.Type != model.EventStepComplete {
			continue
		}
		if ev.Step == model.StageBUDeepDive {
			units, ok := ev.Data.(map[string]model.UnitResult)
			require.True(t, ok)
			assert.Len(t, units, 2)
			continue
		}
		_, ok := ev.Data.(model.Structured)
		assert.True(t, ok, "step %d data should be structured", ev.Step)
	}
}

func TestRun_IndustryFromStrategicObjectives(t *testing.T) {
	p := New(testConfig(), newFakeLLM(), nil)
	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, "Financial Services", final.Results.Industry)
}

func TestRun_IndustryFallsBackToKeywords(t *testing.T) {
	f := newFakeLLM()
	f.responses["step1"] = []string{"Acme is a leading healthcare provider with ambitious plans."}
	p := New(testConfig(), f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, "Healthcare", final.Results.Industry)
	_, degraded := final.Results.Steps.StrategicObjectives.Data.(model.Degraded)
	assert.True(t, degraded)
}

func TestRun_BusinessUnitBound(t *testing.T) {
	f := newFakeLLM()
	f.responses["step2"] = []string{`{"business_units":[{"name":"A"},{"name":"B"},{"name":"C"},{"name":"D"}]}`}
	p := New(testConfig(), f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)

	dd := final.Results.Steps.BUDeepDive
	require.NotNil(t, dd)
	assert.Equal(t, []string{"A", "B", "C"}, dd.Units)
	assert.Len(t, dd.Data, 3)
	assert.NotContains(t, dd.Data, "D")

	var deepDives []string
	for _, prompt := range f.prompts {
		if stageOf(prompt) == "step3" {
			deepDives = append(deepDives, prompt)
		}
	}
	require.Len(t, deepDives, 3)
	assert.Contains(t, deepDives[0], "Deep-Dive: A (")
	assert.Contains(t, deepDives[1], "Deep-Dive: B (")
	assert.Contains(t, deepDives[2], "Deep-Dive: C (")
	assert.Equal(t, 9, final.Metadata.LLMCalls)
}

func TestRun_BusinessUnitsFromTableFallback(t *testing.T) {
	f := newFakeLLM()
	f.responses["step2"] = []string{"| Business Unit | Focus |\n|---|---|\n| Cards | consumer |\n| Cards | dup |\n| Loans | lending |"}
	p := New(testConfig(), f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, []string{"Cards", "Loans"}, final.Results.Steps.BUDeepDive.Units)
}

func TestRun_ZeroUnits(t *testing.T) {
	f := newFakeLLM()
	f.responses["step2"] = []string{`{"business_units":[]}`}
	p := New(testConfig(), f, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))
	final := events[len(events)-1]
	require.Equal(t, model.EventComplete, final.Type)

	dd := final.Results.Steps.BUDeepDive
	require.NotNil(t, dd)
	assert.Empty(t, dd.Units)
	assert.NotNil(t, dd.Data)
	assert.Empty(t, dd.Data)
	assert.Equal(t, 6, final.Metadata.LLMCalls)

	for _, ev := range events {
		if ev.Step == model.StageBUDeepDive && ev.Type == model.EventProgress {
			assert.Equal(t, 28, ev.ProgressPercent)
		}
	}
}

func TestRun_PersonaRetryOnPlaceholder(t *testing.T) {
	f := newFakeLLM()
	f.responses["step5"] = []string{"| Name | Title |\n|---|---|\n| TBD | CFO |"}
	p := New(testConfig(), f, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))
	final := events[len(events)-1]
	require.Equal(t, model.EventComplete, final.Type)

	assert.Equal(t, 9, final.Metadata.LLMCalls, "stage 5 costs two calls")
	assert.Equal(t, 1, final.Metadata.Retries)
	assert.Equal(t, step5JSON, final.Results.Steps.PersonaMapping.Raw, "retry output replaces the first attempt")

	var sawRetryProgress bool
	for _, ev := range events {
		if ev.Type == model.EventProgress && ev.Step == 5 && ev.ProgressPercent == 62 {
			sawRetryProgress = true
			assert.Equal(t, "Refining executive search...", ev.Message)
		}
	}
	assert.True(t, sawRetryProgress)

	retry := f.promptFor("retry")
	assert.True(t, strings.HasPrefix(retry, "CRITICAL RETRY: The previous attempt failed to find actual executive names."))
	assert.Contains(t, retry, "Persona Mapping: "+company)
	assert.Contains(t, retry, "MANDATORY REQUIREMENTS")
}

func TestRun_PersonaRetryIsBounded(t *testing.T) {
	f := newFakeLLM()
	placeholder := `{"personas":[{"name":"TBD","title":"CFO"}]}`
	f.responses["step5"] = []string{placeholder}
	f.responses["retry"] = []string{placeholder}
	p := New(testConfig(), f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, model.RunStatusComplete, final.Results.Status)
	assert.Equal(t, 1, final.Metadata.Retries)
	assert.Equal(t, 9, final.Metadata.LLMCalls)

	var retries int
	for _, st := range f.stages() {
		if st == "retry" {
			retries++
		}
	}
	assert.Equal(t, 1, retries)
}

func TestRun_FailedPersonaRetryIsCounted(t *testing.T) {
	f := newFakeLLM()
	f.responses["step5"] = []string{`{"personas":[{"name":"TBD","title":"CFO"}]}`}
	f.errs["retry"] = &llm.UpstreamError{Provider: llm.ProviderOpenAI, StatusCode: 500}
	p := New(testConfig(), f, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))
	final := events[len(events)-1]
	require.Equal(t, model.EventError, final.Type)
	assert.Equal(t, model.StagePersonaMapping, final.Step)
	assert.Equal(t, 1, final.Metadata.Retries, "an attempted retry is counted even when it fails")
	assert.Equal(t, []int{model.StagePersonaMapping}, final.Results.FailedSteps)
	assert.Nil(t, final.Results.Steps.PersonaMapping)
}

func TestRun_TimeoutLeavesPartialRun(t *testing.T) {
	f := newFakeLLM()
	f.errs["step4"] = &llm.TimeoutError{Provider: llm.ProviderOpenAI, After: 300 * time.Second}
	p := New(testConfig(), f, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))
	terms := terminals(events)
	require.Len(t, terms, 1)
	final := terms[0]
	assert.Equal(t, final, events[len(events)-1], "terminal event is last")

	assert.Equal(t, model.EventError, final.Type)
	assert.Equal(t, 4, final.Step)
	run := final.Results
	require.NotNil(t, run)
	assert.Equal(t, model.RunStatusFailed, run.Status)
	assert.Equal(t, []int{4}, run.FailedSteps)
	require.Len(t, run.Errors, 1)
	assert.Equal(t, 4, run.Errors[0].Step)
	assert.Contains(t, run.Errors[0].Message, "timed out")
	assert.Equal(t, []int{1, 2, 3}, run.Steps.Completed())
	assert.NotNil(t, final.Metadata.EndTime)
	assert.Equal(t, 4, final.Metadata.LLMCalls)
}

func TestRun_ModelErrorIsFatal(t *testing.T) {
	m := &mockLLM{}
	m.On("Generate", mock.Anything, mock.Anything).
		Return(nil, &llm.AuthenticationError{Provider: llm.ProviderAnthropic, Reason: "no API key configured"}).
		Once()
	p := New(testConfig(), m, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))
	terms := terminals(events)
	require.Len(t, terms, 1)
	assert.Equal(t, model.EventError, terms[0].Type)
	assert.Equal(t, []int{1}, terms[0].Results.FailedSteps)
	assert.Empty(t, terms[0].Results.Steps.Completed())
	assert.Equal(t, 0, terms[0].Metadata.LLMCalls)
	m.AssertNumberOfCalls(t, "Generate", 1)
}

func TestRun_MalformedOutputIsNotFatal(t *testing.T) {
	f := newFakeLLM()
	f.responses["step6"] = []string{"I could not produce a table."}
	p := New(testConfig(), f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, model.RunStatusComplete, final.Results.Status)

	d, ok := final.Results.Steps.ValueRealization.Data.(model.Degraded)
	require.True(t, ok)
	assert.Equal(t, model.ParseFailedMessage, d.Error)
	assert.Equal(t, "I could not produce a table.", d.RawResponse)
	assert.True(t, d.IsFallback)
}

func TestRun_SchemaViolationsRecorded(t *testing.T) {
	f := newFakeLLM()
	f.responses["step7"] = []string{`{"subject":"Hi"}`}
	p := New(testConfig(), f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, model.RunStatusComplete, final.Results.Status)
	assert.NotEmpty(t, final.Results.Steps.OutreachEmail.SchemaErrors)
	assert.Empty(t, final.Results.Steps.StrategicObjectives.SchemaErrors)
}

func TestRun_SearchCountingAndContext(t *testing.T) {
	s := &mockSearch{}
	web := search.Result{Text: "=== RECENT WEB SEARCH RESULTS ===\nweb\n", Citations: []model.Citation{{Title: "t", URL: "https://u", RelevanceScore: 0.9}}}
	s.On("Search", mock.Anything, mock.Anything, 5).Return(web)
	s.On("SearchExecutivesMulti", mock.Anything, company, mock.Anything).Return(web)

	f := newFakeLLM()
	p := New(testConfig(), f, s)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)

	// stages 1, 2, 4 plus one per unit, plus one per executive role
	assert.Equal(t, 3+2+10, final.Metadata.WebSearches)
	s.AssertCalled(t, "Search", mock.Anything, "Acme strategic objectives plans initiatives 2024 2025 2026", 5)
	s.AssertCalled(t, "Search", mock.Anything, "Acme Retail business unit operations initiatives 2024 2025 2026", 5)
	s.AssertNumberOfCalls(t, "SearchExecutivesMulti", 1)

	assert.True(t, strings.HasPrefix(f.promptFor("step1"), web.Text+"\n\n"))
	assert.Equal(t, web.Citations, final.Results.Steps.StrategicObjectives.Citations)
	assert.Equal(t, web.Citations, final.Results.Steps.PersonaMapping.Citations)
	assert.Empty(t, final.Results.Steps.ValueRealization.Citations)
	assert.Len(t, final.Results.Steps.BUDeepDive.Citations, 2)
}

func TestRun_FailedSearchLeavesPromptUnchanged(t *testing.T) {
	s := &mockSearch{}
	s.On("Search", mock.Anything, mock.Anything, mock.Anything).Return(search.Result{Failed: true})
	s.On("SearchExecutivesMulti", mock.Anything, mock.Anything, mock.Anything).Return(search.Result{Failed: true})

	f := newFakeLLM()
	p := New(testConfig(), f, s)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, model.RunStatusComplete, final.Results.Status)
	assert.True(t, strings.HasPrefix(f.promptFor("step1"), "Strategic Objectives & Initiatives"))
	assert.Equal(t, 15, final.Metadata.WebSearches)
}

func TestRun_ParallelDeepDives(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.ParallelDeepDives = true
	f := newFakeLLM()
	f.responses["step2"] = []string{`{"business_units":[{"name":"A"},{"name":"B"},{"name":"C"}]}`}
	p := New(cfg, f, nil)

	events := drain(p.Run(context.Background(), Request{CompanyName: company}))
	final := events[len(events)-1]
	require.Equal(t, model.EventComplete, final.Type)
	assert.Equal(t, []string{"A", "B", "C"}, final.Results.Steps.BUDeepDive.Units)
	assert.Equal(t, 9, final.Metadata.LLMCalls)

	var unitProgress []int
	for _, ev := range events {
		if ev.Type == model.EventProgress && ev.Step == 3 {
			unitProgress = append(unitProgress, ev.ProgressPercent)
		}
	}
	assert.Equal(t, []int{28, 28, 33, 38}, unitProgress)
}

func TestRun_ParallelDeepDiveFailure(t *testing.T) {
	cfg := testConfig()
	cfg.Pipeline.ParallelDeepDives = true
	f := newFakeLLM()
	f.errs["step3"] = &llm.UpstreamError{Provider: llm.ProviderOpenAI, StatusCode: 500, Err: errors.New("boom")}
	p := New(cfg, f, nil)

	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company}))
	require.True(t, ok)
	assert.Equal(t, model.EventError, final.Type)
	assert.Equal(t, []int{3}, final.Results.FailedSteps)
	assert.Equal(t, []int{1, 2}, final.Results.Steps.Completed())
}

func TestRun_CancellationStopsProducer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(testConfig(), newFakeLLM(), nil)
	events := p.Run(ctx, Request{CompanyName: company})

	first := <-events
	assert.Equal(t, model.EventProgress, first.Type)
	cancel()

	done := make(chan struct{})
	go func() {
		for range events {
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("event stream did not close after cancellation")
	}
}

func TestRun_AbandonedConsumerDoesNotLeak(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(testConfig(), newFakeLLM(), nil)
	events := p.Run(ctx, Request{CompanyName: company})
	cancel()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, open := <-events:
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("producer did not exit")
		}
	}
}

func TestRun_UsesGivenResearchID(t *testing.T) {
	p := New(testConfig(), newFakeLLM(), nil)
	final, ok := Collect(p.Run(context.Background(), Request{CompanyName: company, ResearchID: "fixed-id"}))
	require.True(t, ok)
	assert.Equal(t, "fixed-id", final.Results.ResearchID)
	assert.Equal(t, "fixed-id", final.Metadata.ResearchID)
}

func TestConform(t *testing.T) {
	assert.Nil(t, conform(7, model.Structured{Record: []byte(step7JSON)}))
	assert.NotEmpty(t, conform(7, model.Structured{Record: []byte(`{"subject":1}`)}))
	assert.Nil(t, conform(7, model.NewDegraded("x")))
	assert.Nil(t, conform(99, model.Structured{Record: []byte(`{}`)}))
}
