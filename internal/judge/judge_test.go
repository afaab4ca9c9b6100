package judge

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
)

const stepResponse = `Score: 88
Status: GREEN

Issues:
- None

Strengths:
- Clear objectives
* Good citations

Recommendations:
1. Add revenue figures
2. None`

const overallResponse = `Overall Score: 72
Overall Status: YELLOW

Critical Issues:
- Personas do not match use cases

Warnings:
None

Overall Assessment:
Solid research with gaps in persona alignment.

Recommendations:
- Re-run persona mapping`

// fakeJudge answers step prompts and the overall prompt separately.
type fakeJudge struct {
	mu         sync.Mutex
	step       string
	overall    string
	stepErr    error
	overallErr error
	requests   []llm.Request
}

func (f *fakeJudge) Generate(_ context.Context, req llm.Request) (*llm.Response, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	if strings.Contains(req.Prompt, "final holistic validation") {
		if f.overallErr != nil {
			return nil, f.overallErr
		}
		return &llm.Response{Text: f.overall}, nil
	}
	if f.stepErr != nil {
		return nil, f.stepErr
	}
	return &llm.Response{Text: f.step}, nil
}

func (f *fakeJudge) Provider() string { return llm.ProviderOpenAI }
func (f *fakeJudge) Model() string    { return "gpt-4o" }

func testReport() *model.Report {
	return &model.Report{
		ID:          9,
		CompanyName: "Acme Corp",
		Steps: map[string]json.RawMessage{
			"step1_strategic_objectives": json.RawMessage(`{"step":1,"data":{"industry":"Manufacturing"},"citations":[{"title":"10-K","url":"https://acme.example/10k","relevance_score":0.9}]}`),
			"step5_persona_mapping":      json.RawMessage(`{"step":5,"data":{"personas":[]},"citations":[]}`),
		},
	}
}

func newTestJudge(client llm.Client) *Judge {
	j := New(client)
	j.now = func() time.Time { return time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC) }
	return j
}

func TestStatusFromScore(t *testing.T) {
	tests := []struct {
		score int
		want  Status
	}{
		{100, StatusGreen},
		{85, StatusGreen},
		{84, StatusYellow},
		{70, StatusYellow},
		{69, StatusRed},
		{0, StatusRed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFromScore(tt.score), "score %d", tt.score)
	}
}

func TestValidate(t *testing.T) {
	fj := &fakeJudge{step: stepResponse, overall: overallResponse}
	out, err := newTestJudge(fj).Validate(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", out.JudgeModel)
	assert.Equal(t, int64(9), out.ReportID)
	assert.Equal(t, "Acme Corp", out.CompanyName)
	require.Len(t, out.Steps, 2)

	s1 := out.Steps["step1_strategic_objectives"]
	assert.Equal(t, 1, s1.Step)
	assert.Equal(t, "Step 1: Strategic Objectives", s1.Name)
	assert.Equal(t, 88, s1.Score)
	assert.Equal(t, StatusGreen, s1.Status)
	assert.Empty(t, s1.Issues)
	assert.Equal(t, []string{"Clear objectives", "Good citations"}, s1.Strengths)
	assert.Equal(t, []string{"Add revenue figures"}, s1.Recommendations)

	assert.Equal(t, 72, out.OverallScore)
	assert.Equal(t, StatusYellow, out.OverallStatus)
	assert.Equal(t, []string{"Personas do not match use cases"}, out.CriticalIssues)
	assert.Empty(t, out.Warnings)
	assert.Equal(t, "Solid research with gaps in persona alignment.", out.Assessment)
	assert.Equal(t, []string{"Re-run persona mapping"}, out.Recommendations)

	require.Len(t, fj.requests, 3)
	for _, req := range fj.requests {
		require.NotNil(t, req.Temperature)
		assert.InDelta(t, 0.1, *req.Temperature, 1e-9)
		assert.Equal(t, 2000, req.MaxTokens)
		assert.Equal(t, systemPrompt, req.System)
	}
}

func TestValidate_StepPromptCarriesCitations(t *testing.T) {
	fj := &fakeJudge{step: stepResponse, overall: overallResponse}
	_, err := newTestJudge(fj).Validate(context.Background(), testReport())
	require.NoError(t, err)

	var found bool
	for _, req := range fj.requests {
		if strings.Contains(req.Prompt, "Step 1: Strategic Objectives") {
			found = true
			assert.Contains(t, req.Prompt, "- [1] 10-K (https://acme.example/10k) - Relevance: 90%")
			assert.Contains(t, req.Prompt, `"industry": "Manufacturing"`)
		}
		if strings.Contains(req.Prompt, "Step 5: Persona Mapping") && !strings.Contains(req.Prompt, "final holistic") {
			assert.Contains(t, req.Prompt, "No citations provided")
		}
	}
	assert.True(t, found)
}

func TestValidate_StepErrorDegrades(t *testing.T) {
	fj := &fakeJudge{stepErr: eris.New("rate limited"), overall: overallResponse}
	out, err := newTestJudge(fj).Validate(context.Background(), testReport())
	require.NoError(t, err)

	s := out.Steps["step5_persona_mapping"]
	assert.Equal(t, 50, s.Score)
	assert.Equal(t, StatusYellow, s.Status)
	require.Len(t, s.Issues, 1)
	assert.Contains(t, s.Issues[0], "Validation error: rate limited")
	assert.Equal(t, []string{"Unable to complete validation"}, s.Recommendations)
}

func TestValidate_OverallErrorAverages(t *testing.T) {
	fj := &fakeJudge{step: "Score: 90", overallErr: eris.New("boom")}
	out, err := newTestJudge(fj).Validate(context.Background(), testReport())
	require.NoError(t, err)

	assert.Equal(t, 90, out.OverallScore)
	assert.Equal(t, StatusGreen, out.OverallStatus)
	require.Len(t, out.CriticalIssues, 1)
	assert.Contains(t, out.CriticalIssues[0], "Overall validation error: boom")
	assert.Equal(t, "Unable to complete overall validation", out.Assessment)
	assert.Equal(t, []string{"Review individual step scores"}, out.Recommendations)
}

func TestValidate_NoSteps(t *testing.T) {
	fj := &fakeJudge{overallErr: eris.New("boom")}
	out, err := newTestJudge(fj).Validate(context.Background(), &model.Report{CompanyName: "Empty"})
	require.NoError(t, err)
	assert.Empty(t, out.Steps)
	assert.Equal(t, 50, out.OverallScore)
	assert.Equal(t, StatusRed, out.OverallStatus)
}

func TestValidate_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fj := &fakeJudge{step: stepResponse, overall: overallResponse}
	_, err := newTestJudge(fj).Validate(ctx, testReport())
	assert.Error(t, err)
}

func TestValidate_NilReport(t *testing.T) {
	_, err := New(&fakeJudge{}).Validate(context.Background(), nil)
	assert.Error(t, err)
}

func TestParseStep_Defaults(t *testing.T) {
	v := parseStep("The research looks fine overall.")
	assert.Equal(t, 75, v.Score)
	assert.Equal(t, StatusYellow, v.Status)
	assert.Empty(t, v.Issues)
}

func TestParseStep_StatusFromScoreWhenMissing(t *testing.T) {
	v := parseStep("Score: 64\nIssues:\n- Missing citations")
	assert.Equal(t, 64, v.Score)
	assert.Equal(t, StatusRed, v.Status)
	assert.Equal(t, []string{"Missing citations"}, v.Issues)
}

func TestParseStep_MarkdownLabels(t *testing.T) {
	v := parseStep("**Score:** 80\n**Status:** yellow\n\n**Issues:**\n• Thin detail\n\n**Strengths:**\n- Sourced")
	assert.Equal(t, 80, v.Score)
	assert.Equal(t, StatusYellow, v.Status)
	assert.Equal(t, []string{"Thin detail"}, v.Issues)
	assert.Equal(t, []string{"Sourced"}, v.Strengths)
}

func TestListItems(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", []string{}},
		{"none text", "None", []string{}},
		{"none bullet", "- None", []string{}},
		{"dash", "- a\n- b", []string{"a", "b"}},
		{"star", "* a", []string{"a"}},
		{"dot", "• a", []string{"a"}},
		{"numbered", "1. a\n10. b", []string{"a", "b"}},
		{"plain text", "Looks good.", []string{"Looks good."}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, listItems(tt.in))
		})
	}
}

func TestAverageScore(t *testing.T) {
	assert.Equal(t, 50, averageScore(nil))
	assert.Equal(t, 77, averageScore([]StepValidation{{Score: 80}, {Score: 75}}))
}

func TestNewFromConfig(t *testing.T) {
	cfg := &config.Config{
		LLM:    config.LLMConfig{TimeoutSecs: 10},
		OpenAI: config.OpenAIConfig{Key: "sk-test", Model: "gpt-4o-2024-11-20"},
		Judge:  config.JudgeConfig{Model: "gpt-4o"},
	}
	j, err := NewFromConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, llm.ProviderOpenAI, j.client.Provider())
	assert.Equal(t, "gpt-4o", j.client.Model())
	assert.Equal(t, "gpt-4o-2024-11-20", cfg.OpenAI.Model)

	_, err = NewFromConfig(context.Background(), &config.Config{Judge: config.JudgeConfig{Provider: "mystery"}})
	assert.Error(t, err)
}
