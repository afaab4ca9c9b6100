package model

import (
	"encoding/json"
	"time"
)

// RunStatus represents the current state of a research run.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "in_progress"
	RunStatusComplete   RunStatus = "complete"
	RunStatusFailed     RunStatus = "failed"
)

// StageStatus is the status of a single stage. Stages are recorded only once
// they finish, so complete is the only value the pipeline writes.
type StageStatus string

const StageStatusComplete StageStatus = "complete"

// Stage indices and display names, in execution order.
const (
	StageStrategicObjectives = 1
	StageBUAlignment         = 2
	StageBUDeepDive          = 3
	StageAIAlignment         = 4
	StagePersonaMapping      = 5
	StageValueRealization    = 6
	StageOutreachEmail       = 7
)

// StageNames maps a stage index to its human-readable name.
var StageNames = map[int]string{
	StageStrategicObjectives: "Strategic Objectives",
	StageBUAlignment:         "Business Unit Alignment",
	StageBUDeepDive:          "Business Unit Deep-Dive",
	StageAIAlignment:         "AI Alignment",
	StagePersonaMapping:      "Persona Mapping",
	StageValueRealization:    "Value Realization",
	StageOutreachEmail:       "Outreach Email",
}

// StageKeys maps a stage index to its key in the serialized steps object.
var StageKeys = map[int]string{
	StageStrategicObjectives: "step1_strategic_objectives",
	StageBUAlignment:         "step2_bu_alignment",
	StageBUDeepDive:          "step3_bu_deepdive",
	StageAIAlignment:         "step4_ai_alignment",
	StagePersonaMapping:      "step5_persona_mapping",
	StageValueRealization:    "step6_value_realization",
	StageOutreachEmail:       "step7_outreach_email",
}

// Citation is a provenance record attached to search-augmented stage output.
type Citation struct {
	Title          string  `json:"title"`
	URL            string  `json:"url"`
	RelevanceScore float64 `json:"relevance_score"`
}

// StageResult is the outcome of one single-call stage.
type StageResult struct {
	Step         int          `json:"step"`
	Name         string       `json:"name"`
	Status       StageStatus  `json:"status"`
	Data         ParseOutcome `json:"data"`
	Raw          string       `json:"raw"`
	Citations    []Citation   `json:"citations"`
	SchemaErrors []string     `json:"schema_errors,omitempty"`
}

// UnmarshalJSON restores the parse outcome held in Data.
func (r *StageResult) UnmarshalJSON(b []byte) error {
	type alias StageResult
	aux := struct {
		*alias
		Data json.RawMessage `json:"data"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	out, err := DecodeOutcome(aux.Data)
	if err != nil {
		return err
	}
	r.Data = out
	return nil
}

// UnitResult is one business unit's deep-dive output.
type UnitResult struct {
	Data ParseOutcome `json:"data"`
	Raw  string       `json:"raw"`
}

// UnmarshalJSON restores the parse outcome held in Data.
func (u *UnitResult) UnmarshalJSON(b []byte) error {
	var aux struct {
		Data json.RawMessage `json:"data"`
		Raw  string          `json:"raw"`
	}
	if err := json.Unmarshal(b, &aux); err != nil {
		return err
	}
	out, err := DecodeOutcome(aux.Data)
	if err != nil {
		return err
	}
	u.Data, u.Raw = out, aux.Raw
	return nil
}

// DeepDiveResult is the outcome of the business-unit fan-out stage.
// Units preserves the order in which units were extracted.
type DeepDiveResult struct {
	Step      int                   `json:"step"`
	Name      string                `json:"name"`
	Status    StageStatus           `json:"status"`
	Units     []string              `json:"units"`
	Data      map[string]UnitResult `json:"data"`
	Citations []Citation            `json:"citations"`
}

// RawByUnit returns each unit's raw text in extraction order.
func (d *DeepDiveResult) RawByUnit() []UnitContext {
	if d == nil {
		return nil
	}
	out := make([]UnitContext, 0, len(d.Units))
	for _, name := range d.Units {
		out = append(out, UnitContext{Name: name, Raw: d.Data[name].Raw})
	}
	return out
}

// UnitContext pairs a business unit with its raw deep-dive text.
type UnitContext struct {
	Name string
	Raw  string
}

// Steps holds the per-stage results of a run. A nil field means the stage
// did not complete.
type Steps struct {
	StrategicObjectives *StageResult    `json:"step1_strategic_objectives,omitempty"`
	BUAlignment         *StageResult    `json:"step2_bu_alignment,omitempty"`
	BUDeepDive          *DeepDiveResult `json:"step3_bu_deepdive,omitempty"`
	AIAlignment         *StageResult    `json:"step4_ai_alignment,omitempty"`
	PersonaMapping      *StageResult    `json:"step5_persona_mapping,omitempty"`
	ValueRealization    *StageResult    `json:"step6_value_realization,omitempty"`
	OutreachEmail       *StageResult    `json:"step7_outreach_email,omitempty"`
}

// Completed returns the indices of completed stages in ascending order.
func (s Steps) Completed() []int {
	var out []int
	if s.StrategicObjectives != nil {
		out = append(out, StageStrategicObjectives)
	}
	if s.BUAlignment != nil {
		out = append(out, StageBUAlignment)
	}
	if s.BUDeepDive != nil {
		out = append(out, StageBUDeepDive)
	}
	if s.AIAlignment != nil {
		out = append(out, StageAIAlignment)
	}
	if s.PersonaMapping != nil {
		out = append(out, StagePersonaMapping)
	}
	if s.ValueRealization != nil {
		out = append(out, StageValueRealization)
	}
	if s.OutreachEmail != nil {
		out = append(out, StageOutreachEmail)
	}
	return out
}

// Single returns the single-call stage result for idx, or nil. Stage 3 has
// its own shape and is never returned here.
func (s Steps) Single(idx int) *StageResult {
	switch idx {
	case StageStrategicObjectives:
		return s.StrategicObjectives
	case StageBUAlignment:
		return s.BUAlignment
	case StageAIAlignment:
		return s.AIAlignment
	case StagePersonaMapping:
		return s.PersonaMapping
	case StageValueRealization:
		return s.ValueRealization
	case StageOutreachEmail:
		return s.OutreachEmail
	default:
		return nil
	}
}

// RunError records a fatal error and the stage it happened in.
type RunError struct {
	Step    int    `json:"step"`
	Message string `json:"message"`
}

// Run is one end-to-end execution of the research pipeline.
type Run struct {
	ResearchID  string     `json:"research_id"`
	CompanyName string     `json:"company_name"`
	Industry    string     `json:"industry,omitempty"`
	LLMProvider string     `json:"llm_provider"`
	Status      RunStatus  `json:"status"`
	Steps       Steps      `json:"steps"`
	FailedSteps []int      `json:"failed_steps"`
	Errors      []RunError `json:"errors"`
}

// Metadata tracks call counts, timing and cost for a run.
type Metadata struct {
	ResearchID      string     `json:"research_id"`
	Model           string     `json:"model,omitempty"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	TotalTokens     int64      `json:"total_tokens"`
	WebSearches     int        `json:"web_searches"`
	LLMCalls        int        `json:"llm_calls"`
	Retries         int        `json:"retries"`
	DurationSeconds int        `json:"research_duration_seconds"`
	CostEstimateUSD float64    `json:"cost_estimate_usd"`
}

// Finish stamps the end time and derives the duration in whole seconds.
func (m *Metadata) Finish(now time.Time) {
	m.EndTime = &now
	m.DurationSeconds = int(now.Sub(m.StartTime).Seconds())
}
