package model

// EventType tags a progress event.
type EventType string

const (
	EventProgress     EventType = "progress"
	EventStepComplete EventType = "step_complete"
	EventComplete     EventType = "complete"
	EventError        EventType = "error"
)

// Terminal reports whether the event ends the stream.
func (t EventType) Terminal() bool {
	return t == EventComplete || t == EventError
}

// Event is one message on a run's progress stream. Data is set on
// step_complete (a ParseOutcome, or the unit map for stage 3); Results and
// Metadata are set on terminal events.
type Event struct {
	Type            EventType `json:"type"`
	Step            int       `json:"step,omitempty"`
	StepName        string    `json:"step_name,omitempty"`
	Message         string    `json:"message,omitempty"`
	Data            any       `json:"data,omitempty"`
	ProgressPercent int       `json:"progress_percent"`
	Results         *Run      `json:"results,omitempty"`
	Metadata        *Metadata `json:"metadata,omitempty"`
}
