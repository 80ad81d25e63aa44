// ABOUTME: Lifecycle events emitted by the engine during a run, for optional observers.
// ABOUTME: Observers receive events synchronously; handlers must be fast and non-blocking.
package pipeline

import "time"

// RunEventType identifies the kind of engine lifecycle event.
type RunEventType string

const (
	EventRunStarted    RunEventType = "run.started"
	EventRunCompleted  RunEventType = "run.completed"
	EventRunFailed     RunEventType = "run.failed"
	EventStepStarted   RunEventType = "step.started"
	EventStepSkipped   RunEventType = "step.skipped"
	EventStepSucceeded RunEventType = "step.succeeded"
	EventStepFailed    RunEventType = "step.failed"
)

// RunEvent is one lifecycle event for one run.
type RunEvent struct {
	Type      RunEventType `json:"type"`
	RunID     string       `json:"run_id"`
	Step      string       `json:"step,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}

// EventHandler receives engine lifecycle events.
type EventHandler func(RunEvent)
