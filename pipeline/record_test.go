// ABOUTME: Tests for run record state derivation, cloning, and run ID ordering.
// ABOUTME: The overall state must always follow from the per-step states.
package pipeline

import (
	"testing"
	"time"
)

func TestComputeOverallState(t *testing.T) {
	tests := []struct {
		name   string
		states []StepState
		want   RunState
	}{
		{"all pending", []StepState{StepPending, StepPending}, RunRunning},
		{"one running", []StepState{StepSuccess, StepRunning}, RunRunning},
		{"all success", []StepState{StepSuccess, StepSuccess}, RunSuccess},
		{"success and skipped", []StepState{StepSkipped, StepSuccess, StepSkipped}, RunSuccess},
		{"all skipped", []StepState{StepSkipped, StepSkipped}, RunSuccess},
		{"any failed", []StepState{StepSuccess, StepFailed, StepPending}, RunFailed},
		{"empty", nil, RunSuccess},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := make([]StepResult, len(tt.states))
			for i, s := range tt.states {
				steps[i] = StepResult{Name: "s", State: s}
			}
			if got := ComputeOverallState(steps); got != tt.want {
				t.Errorf("ComputeOverallState = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunStateTerminal(t *testing.T) {
	if RunPending.Terminal() || RunRunning.Terminal() {
		t.Error("pending/running must not be terminal")
	}
	if !RunSuccess.Terminal() || !RunFailed.Terminal() {
		t.Error("success/failed must be terminal")
	}
}

func TestNewRunIDsAreOrdered(t *testing.T) {
	a := NewRunID()
	time.Sleep(2 * time.Millisecond)
	b := NewRunID()
	if a == b {
		t.Fatal("run IDs must be unique")
	}
	if a >= b {
		t.Errorf("IDs not time-ordered: %s >= %s", a, b)
	}
}

func TestRunRecordClone(t *testing.T) {
	flow := &Flow{Kind: FlowJitbit, Steps: []StepDescriptor{{Name: "a"}, {Name: "b"}}}
	rec := NewRunRecord(NewRunID(), flow, Params{"start_id": 1}, "/tmp/run")

	now := time.Now()
	code := 0
	rec.Steps[0].State = StepSuccess
	rec.Steps[0].StartedAt = &now
	rec.Steps[0].ExitCode = &code
	rec.Steps[0].ProducedArtifacts = []string{"out.json"}

	cp := rec.Clone()
	cp.Steps[0].State = StepFailed
	*cp.Steps[0].ExitCode = 7
	cp.Steps[0].ProducedArtifacts[0] = "mutated"
	cp.Params["start_id"] = 99

	if rec.Steps[0].State != StepSuccess {
		t.Error("clone mutation leaked into original state")
	}
	if *rec.Steps[0].ExitCode != 0 {
		t.Error("clone mutation leaked into original exit code")
	}
	if rec.Steps[0].ProducedArtifacts[0] != "out.json" {
		t.Error("clone mutation leaked into original artifacts")
	}
	if rec.Params["start_id"] != 1 {
		t.Error("clone mutation leaked into original params")
	}
}

func TestStepByName(t *testing.T) {
	flow := &Flow{Kind: FlowJira, Steps: []StepDescriptor{{Name: "export-tickets"}, {Name: "llm-process"}}}
	rec := NewRunRecord(NewRunID(), flow, nil, "")

	if s := rec.StepByName("llm-process"); s == nil || s.Name != "llm-process" {
		t.Fatalf("StepByName returned %v", s)
	}
	if s := rec.StepByName("unknown"); s != nil {
		t.Fatalf("expected nil for unknown step, got %v", s)
	}
}
