// Package judge scores saved research reports with an independent model.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/noahsdonaldson/prospector/internal/config"
	"github.com/noahsdonaldson/prospector/internal/llm"
	"github.com/noahsdonaldson/prospector/internal/model"
)

// Status is a traffic-light quality rating.
type Status string

const (
	StatusGreen  Status = "GREEN"
	StatusYellow Status = "YELLOW"
	StatusRed    Status = "RED"
)

const (
	greenThreshold  = 85
	yellowThreshold = 70

	// defaultScore is assumed when a judge response carries no score.
	defaultScore = 75
	// errorScore is assigned to a stage whose judge call failed.
	errorScore = 50

	judgeTemperature = 0.1
	judgeMaxTokens   = 2000
	judgeParallelism = 3
)

const systemPrompt = "You are a research quality validator. Analyze research outputs for accuracy, citation quality, consistency, and adherence to specifications. Provide objective, detailed assessments."

// StatusFromScore maps a 0-100 score to its rating.
func StatusFromScore(score int) Status {
	switch {
	case score >= greenThreshold:
		return StatusGreen
	case score >= yellowThreshold:
		return StatusYellow
	default:
		return StatusRed
	}
}

// StepValidation is the judge's verdict on one stage.
type StepValidation struct {
	Step            int      `json:"step"`
	Name            string   `json:"name"`
	Score           int      `json:"score"`
	Status          Status   `json:"status"`
	Issues          []string `json:"issues"`
	Strengths       []string `json:"strengths"`
	Recommendations []string `json:"recommendations"`
}

// Report is the judge's verdict on a whole research report.
type Report struct {
	ValidatedAt     time.Time                 `json:"validation_timestamp"`
	JudgeModel      string                    `json:"judge_model"`
	CompanyName     string                    `json:"company_name"`
	ReportID        int64                     `json:"report_id"`
	Steps           map[string]StepValidation `json:"step_validations"`
	OverallScore    int                       `json:"overall_score"`
	OverallStatus   Status                    `json:"overall_status"`
	CriticalIssues  []string                  `json:"critical_issues"`
	Warnings        []string                  `json:"warnings"`
	Assessment      string                    `json:"overall_assessment"`
	Recommendations []string                  `json:"recommendations"`
}

// Judge scores reports with a model client.
type Judge struct {
	client llm.Client
	now    func() time.Time
}

// New creates a Judge backed by client.
func New(client llm.Client) *Judge {
	return &Judge{client: client, now: time.Now}
}

// NewFromConfig builds a Judge on the configured judge provider. A judge
// model, when set, overrides that provider's research model.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Judge, error) {
	provider := cfg.Judge.Provider
	if provider == "" {
		provider = llm.ProviderOpenAI
	}
	jc := *cfg
	if cfg.Judge.Model != "" {
		switch provider {
		case llm.ProviderAnthropic:
			jc.Anthropic.Model = cfg.Judge.Model
		case llm.ProviderOpenAI:
			jc.OpenAI.Model = cfg.Judge.Model
		case llm.ProviderGemini:
			jc.Gemini.Model = cfg.Judge.Model
		}
	}
	client, err := llm.New(ctx, &jc, provider)
	if err != nil {
		return nil, eris.Wrap(err, "judge: create client")
	}
	return New(client), nil
}

// stepPayload is the persisted shape of a stage inside a report.
type stepPayload struct {
	Data      json.RawMessage  `json:"data"`
	Citations []model.Citation `json:"citations"`
}

// Validate scores every stored stage of r and then the report as a whole.
// Judge call failures degrade the affected scores rather than failing the
// validation; only context cancellation is returned as an error.
func (j *Judge) Validate(ctx context.Context, r *model.Report) (*Report, error) {
	if r == nil {
		return nil, eris.New("judge: nil report")
	}
	log := zap.L().With(zap.String("company", r.CompanyName), zap.Int64("report_id", r.ID))

	stages := storedStages(r)
	results := make([]StepValidation, len(stages))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(judgeParallelism)
	for i, idx := range stages {
		g.Go(func() error {
			results[i] = j.validateStep(gctx, idx, r)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "judge: validate steps")
	}

	out := &Report{
		ValidatedAt: j.now().UTC(),
		JudgeModel:  j.client.Model(),
		CompanyName: r.CompanyName,
		ReportID:    r.ID,
		Steps:       make(map[string]StepValidation, len(results)),
	}
	for _, sv := range results {
		out.Steps[model.StageKeys[sv.Step]] = sv
	}

	overall := j.validateOverall(ctx, results)
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "judge: validate overall")
	}
	out.OverallScore = overall.Score
	out.OverallStatus = overall.Status
	out.CriticalIssues = overall.CriticalIssues
	out.Warnings = overall.Warnings
	out.Assessment = overall.Assessment
	out.Recommendations = overall.Recommendations

	log.Info("judge: report validated",
		zap.Int("steps", len(results)),
		zap.Int("overall_score", out.OverallScore),
		zap.String("overall_status", string(out.OverallStatus)),
	)
	return out, nil
}

// storedStages returns the stage indices present in r, in order.
func storedStages(r *model.Report) []int {
	var stages []int
	for idx, key := range model.StageKeys {
		if _, ok := r.Steps[key]; ok {
			stages = append(stages, idx)
		}
	}
	sort.Ints(stages)
	return stages
}

func (j *Judge) validateStep(ctx context.Context, idx int, r *model.Report) StepValidation {
	name := stepLabel(idx)
	sv := StepValidation{Step: idx, Name: name}

	var payload stepPayload
	if err := json.Unmarshal(r.Steps[model.StageKeys[idx]], &payload); err != nil || len(payload.Data) == 0 {
		payload.Data = r.Steps[model.StageKeys[idx]]
	}

	prompt := stepPrompt(name, r.CompanyName, indent(payload.Data), payload.Citations)
	text, err := j.generate(ctx, prompt)
	if err != nil {
		zap.L().Warn("judge: step validation failed", zap.Int("step", idx), zap.Error(err))
		sv.Score = errorScore
		sv.Status = StatusYellow
		sv.Issues = []string{fmt.Sprintf("Validation error: %v", err)}
		sv.Strengths = []string{}
		sv.Recommendations = []string{"Unable to complete validation"}
		return sv
	}

	parsed := parseStep(text)
	sv.Score = parsed.Score
	sv.Status = parsed.Status
	sv.Issues = parsed.Issues
	sv.Strengths = parsed.Strengths
	sv.Recommendations = parsed.Recommendations
	return sv
}

func (j *Judge) validateOverall(ctx context.Context, steps []StepValidation) overallVerdict {
	text, err := j.generate(ctx, overallPrompt(steps))
	if err != nil {
		zap.L().Warn("judge: overall validation failed", zap.Error(err))
		avg := averageScore(steps)
		return overallVerdict{
			Score:           avg,
			Status:          StatusFromScore(avg),
			CriticalIssues:  []string{fmt.Sprintf("Overall validation error: %v", err)},
			Warnings:        []string{},
			Assessment:      "Unable to complete overall validation",
			Recommendations: []string{"Review individual step scores"},
		}
	}
	return parseOverall(text)
}

func (j *Judge) generate(ctx context.Context, prompt string) (string, error) {
	temp := judgeTemperature
	resp, err := j.client.Generate(ctx, llm.Request{
		Prompt:      prompt,
		System:      systemPrompt,
		MaxTokens:   judgeMaxTokens,
		Temperature: &temp,
	})
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

// averageScore is the truncated mean of step scores, or errorScore when
// there are none.
func averageScore(steps []StepValidation) int {
	if len(steps) == 0 {
		return errorScore
	}
	total := 0
	for _, s := range steps {
		total += s.Score
	}
	return total / len(steps)
}

func indent(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(raw)
	}
	return string(b)
}
