// ABOUTME: Run Record and Step Result types: the mutable aggregate root of one pipeline execution.
// ABOUTME: Enforces the overall-state invariant and generates time-ordered run IDs via ULID.
package pipeline

import (
	"crypto/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// RunState is the overall state of a run.
type RunState string

const (
	RunPending RunState = "pending"
	RunRunning RunState = "running"
	RunSuccess RunState = "success"
	RunFailed  RunState = "failed"
)

// Terminal reports whether the run state is final.
func (s RunState) Terminal() bool {
	return s == RunSuccess || s == RunFailed
}

// StepState is the state of a single step within a run.
type StepState string

const (
	StepPending StepState = "pending"
	StepRunning StepState = "running"
	StepSuccess StepState = "success"
	StepSkipped StepState = "skipped"
	StepFailed  StepState = "failed"
)

// Terminal reports whether the step state is final. A terminal step never
// changes state again.
func (s StepState) Terminal() bool {
	return s == StepSuccess || s == StepSkipped || s == StepFailed
}

// StepResult tracks one step of a run. Created pending when the run record is
// built, mutated exclusively by the run controller that owns the record.
type StepResult struct {
	Name              string     `json:"name"`
	State             StepState  `json:"state"`
	StartedAt         *time.Time `json:"started_at,omitempty"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	ExitCode          *int       `json:"exit_code,omitempty"`
	TimedOut          bool       `json:"timed_out,omitempty"`
	ProducedArtifacts []string   `json:"produced_artifacts,omitempty"`
	ErrorSummary      string     `json:"error_summary,omitempty"`
}

// RunRecord is the mutable aggregate root of one execution. Params are
// persisted separately in params.json (secrets redacted) and are not part of
// the status document.
type RunRecord struct {
	RunID        string       `json:"run_id"`
	FlowKind     FlowKind     `json:"flow_kind"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
	Steps        []StepResult `json:"steps"`
	OverallState RunState     `json:"overall_state"`
	RunDir       string       `json:"run_dir"`
	Error        string       `json:"error,omitempty"`

	Params Params `json:"-"`
}

// NewRunID generates a unique, time-ordered run identifier.
func NewRunID() string {
	return ulid.MustNew(ulid.Now(), rand.Reader).String()
}

// NewRunRecord builds a run record for the given flow with all steps pending.
func NewRunRecord(runID string, flow *Flow, params Params, runDir string) *RunRecord {
	steps := make([]StepResult, len(flow.Steps))
	for i, sd := range flow.Steps {
		steps[i] = StepResult{Name: sd.Name, State: StepPending}
	}
	now := time.Now()
	return &RunRecord{
		RunID:        runID,
		FlowKind:     flow.Kind,
		CreatedAt:    now,
		UpdatedAt:    now,
		Steps:        steps,
		OverallState: RunPending,
		RunDir:       runDir,
		Params:       params,
	}
}

// ComputeOverallState derives the run state from the per-step states:
// success iff every step is success or skipped, failed iff any step is
// failed, running otherwise.
func ComputeOverallState(steps []StepResult) RunState {
	allDone := true
	for _, s := range steps {
		if s.State == StepFailed {
			return RunFailed
		}
		if s.State != StepSuccess && s.State != StepSkipped {
			allDone = false
		}
	}
	if allDone {
		return RunSuccess
	}
	return RunRunning
}

// Clone returns a deep copy so observers can read a snapshot without racing
// the owning controller.
func (r *RunRecord) Clone() *RunRecord {
	cp := *r
	cp.Steps = make([]StepResult, len(r.Steps))
	copy(cp.Steps, r.Steps)
	for i, s := range r.Steps {
		if s.StartedAt != nil {
			t := *s.StartedAt
			cp.Steps[i].StartedAt = &t
		}
		if s.EndedAt != nil {
			t := *s.EndedAt
			cp.Steps[i].EndedAt = &t
		}
		if s.ExitCode != nil {
			c := *s.ExitCode
			cp.Steps[i].ExitCode = &c
		}
		cp.Steps[i].ProducedArtifacts = append([]string(nil), s.ProducedArtifacts...)
	}
	if r.Params != nil {
		cp.Params = make(Params, len(r.Params))
		for k, v := range r.Params {
			cp.Params[k] = v
		}
	}
	return &cp
}

// StepByName returns a pointer to the step result with the given name, or nil.
func (r *RunRecord) StepByName(name string) *StepResult {
	for i := range r.Steps {
		if r.Steps[i].Name == name {
			return &r.Steps[i]
		}
	}
	return nil
}
