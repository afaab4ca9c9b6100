package model

import (
	"encoding/json"
	"time"
)

// PersonaSource records how a persona entered the system.
type PersonaSource string

const (
	PersonaSourceAuto   PersonaSource = "auto"
	PersonaSourceManual PersonaSource = "manual"
)

// QueueStatus is the state of a persona research request.
type QueueStatus string

const (
	QueueStatusPending    QueueStatus = "pending"
	QueueStatusInProgress QueueStatus = "in_progress"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
)

// Company is a researched account.
type Company struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	Domain         string     `json:"domain,omitempty"`
	Industry       string     `json:"industry,omitempty"`
	LastResearched *time.Time `json:"last_researched,omitempty"`
	PersonaCount   int        `json:"persona_count"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Report is a persisted run. Steps holds each stage's serialized result
// keyed by its stage key.
type Report struct {
	ID              int64                      `json:"id"`
	CompanyID       int64                      `json:"company_id"`
	CompanyName     string                     `json:"company_name,omitempty"`
	Industry        string                     `json:"industry,omitempty"`
	ResearchID      string                     `json:"research_id"`
	UserEmail       string                     `json:"user_email,omitempty"`
	Steps           map[string]json.RawMessage `json:"steps,omitempty"`
	Status          RunStatus                  `json:"status"`
	LLMProvider     string                     `json:"llm_provider"`
	LLMModel        string                     `json:"llm_model,omitempty"`
	TotalTokens     int64                      `json:"total_tokens"`
	WebSearches     int                        `json:"web_searches"`
	DurationSeconds int                        `json:"research_duration_seconds"`
	CostEstimateUSD float64                    `json:"cost_estimate_usd"`
	FailedSteps     []int                      `json:"failed_steps"`
	Errors          []RunError                 `json:"errors"`
	Personas        []Persona                  `json:"personas,omitempty"`
	CreatedAt       time.Time                  `json:"created_at"`
	CompletedAt     *time.Time                 `json:"completed_at,omitempty"`
}

// Persona is a decision-maker identified for a company.
type Persona struct {
	ID                 int64         `json:"id"`
	CompanyID          int64         `json:"company_id"`
	ReportID           *int64        `json:"report_id,omitempty"`
	Name               string        `json:"name"`
	Title              string        `json:"title"`
	RoleInDecision     string        `json:"role_in_decision,omitempty"`
	PainPoint          string        `json:"pain_point,omitempty"`
	AIUseCase          string        `json:"ai_use_case,omitempty"`
	ExpectedOutcome    string        `json:"expected_outcome,omitempty"`
	StrategicAlignment string        `json:"strategic_alignment,omitempty"`
	ValueHook          string        `json:"value_hook,omitempty"`
	Source             PersonaSource `json:"source"`
	AddedBy            string        `json:"added_by,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
	UpdatedAt          time.Time     `json:"updated_at"`
	LastResearchedAt   *time.Time    `json:"last_researched_at,omitempty"`
}

// QueueItem is a pending request to research a manually added persona.
type QueueItem struct {
	ID           int64       `json:"id"`
	PersonaID    int64       `json:"persona_id"`
	CompanyID    int64       `json:"company_id"`
	Status       QueueStatus `json:"status"`
	RequestedBy  string      `json:"requested_by,omitempty"`
	RequestedAt  time.Time   `json:"requested_at"`
	StartedAt    *time.Time  `json:"started_at,omitempty"`
	CompletedAt  *time.Time  `json:"completed_at,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
}
