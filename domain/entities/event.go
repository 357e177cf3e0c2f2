package entities

import "time"

// Event statuses emitted on the attempt/resolution stream
const (
	EventInit       = "init"
	EventStepStart  = "step_start"
	EventResolved   = "resolved"
	EventUnresolved = "unresolved"
	EventAttempt    = "attempt"
	EventStepOK     = "step_success"
	EventError      = "error"
	EventCancelled  = "cancelled"
	EventDone       = "done"
)

// Event is one record of the structured event stream
type Event struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	RunID     string                 `json:"run_id,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Summary   map[string]interface{} `json:"summary,omitempty"`
}
