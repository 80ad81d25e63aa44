// ABOUTME: Run Controller: drives one run to completion, one step at a time.
// ABOUTME: Consults the skip policy, validates inputs and outputs, and persists every state transition.
package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"time"
)

// Controller owns one flow instance plus its mutable run record. Steps are
// data-dependent, so execution within a run is strictly sequential; the run
// stops at the first unrecoverable failure and preserves all artifacts
// produced so far.
type Controller struct {
	flow     *Flow
	rec      *RunRecord
	opts     RunOptions
	store    *RunStore
	index    *RunIndex
	logger   *RunLogger
	executor *StepExecutor
	events   EventHandler
}

// NewController builds a controller for an admitted run. The record must
// already exist in the store.
func NewController(flow *Flow, rec *RunRecord, opts RunOptions, store *RunStore, index *RunIndex, executor *StepExecutor, events EventHandler) *Controller {
	return &Controller{
		flow:     flow,
		rec:      rec,
		opts:     opts,
		store:    store,
		index:    index,
		logger:   NewRunLogger(store, rec.RunID),
		executor: executor,
		events:   events,
	}
}

// Record returns a snapshot of the controller's run record.
func (c *Controller) Record() *RunRecord {
	return c.rec.Clone()
}

// Run executes the flow. The returned error mirrors the run's terminal
// failure; a nil return means overall success.
func (c *Controller) Run(ctx context.Context) error {
	c.rec.OverallState = RunRunning
	c.persist()
	c.emit(EventRunStarted, "", "")
	c.logger.Info("run %s started (%s flow, %d steps)", c.rec.RunID, c.rec.FlowKind, len(c.flow.Steps))

	if len(c.flow.EnvChecks) > 0 {
		result := RunPreflight(c.flow.EnvChecks)
		if !result.OK() {
			summary := result.Error()
			c.logger.Error("%s", summary)
			c.failRun(summary)
			return &PreflightError{Failures: failureReasons(result)}
		}
		c.logger.Info("environment validation passed (%d checks)", len(result.Passed))
	}

	for i := range c.flow.Steps {
		step := &c.flow.Steps[i]
		if err := c.runStep(ctx, step, &c.rec.Steps[i]); err != nil {
			c.failRun(c.rec.Steps[i].ErrorSummary)
			return err
		}
	}

	c.rec.OverallState = RunSuccess
	c.persist()
	c.emit(EventRunCompleted, "", "")
	c.logger.Info("run %s completed successfully", c.rec.RunID)
	return nil
}

// runStep executes one step through its full lifecycle. A nil return means
// the step ended success or skipped.
func (c *Controller) runStep(ctx context.Context, step *StepDescriptor, result *StepResult) error {
	runDir := c.rec.RunDir

	// Skip policy: valid outputs already on disk make the step a no-op.
	if ShouldSkip(step, c.opts, runDir) {
		c.logger.Info("skipping %s: declared outputs already exist and validate", step.Name)
		now := time.Now()
		result.State = StepSkipped
		result.EndedAt = &now
		result.ProducedArtifacts = append([]string(nil), step.DeclaredOutputs...)
		c.persist()
		c.emit(EventStepSkipped, step.Name, "")
		return nil
	}

	// Required inputs must exist and validate before anything is launched.
	for _, input := range step.RequiredInputs {
		if err := ValidateArtifact(filepath.Join(runDir, input)); err != nil {
			missErr := &MissingInputError{Step: step.Name, Path: input, Reason: err.Error()}
			c.failStep(result, step.Name, missErr.Error())
			return missErr
		}
	}

	argv, err := step.ResolveArgs(c.rec.Params, c.opts)
	if err != nil {
		c.failStep(result, step.Name, err.Error())
		return err
	}

	now := time.Now()
	result.State = StepRunning
	result.StartedAt = &now
	c.persist()
	c.emit(EventStepStarted, step.Name, "")
	c.logger.StepStart(step.Name)
	c.logger.Command(argv)

	outcome, execErr := c.executor.Execute(ctx, argv, runDir, c.logger.Output)
	if execErr != nil {
		summary := fmt.Sprintf("failed to launch step %q: %v", step.Name, execErr)
		c.failStep(result, step.Name, summary)
		return execErr
	}

	result.ExitCode = &outcome.ExitCode
	result.TimedOut = outcome.TimedOut

	if outcome.TimedOut {
		toErr := &TimeoutError{Step: step.Name, Timeout: c.executor.Timeout}
		c.failStep(result, step.Name, toErr.Error())
		return toErr
	}
	if outcome.ExitCode != 0 {
		procErr := &ProcessFailureError{Step: step.Name, ExitCode: outcome.ExitCode}
		c.failStep(result, step.Name, procErr.Error())
		return procErr
	}

	// Exit zero is not enough: every declared output must validate before
	// the pipeline may continue on top of it.
	if err := ValidateOutputs(runDir, step.DeclaredOutputs); err != nil {
		valErr := &OutputValidationError{Step: step.Name, Path: "", Reason: err.Error()}
		c.failStep(result, step.Name, valErr.Error())
		return valErr
	}

	artifacts, err := CollectArtifacts(runDir, step.DeclaredOutputs)
	if err != nil {
		c.logger.Warning("artifact collection for %s: %v", step.Name, err)
		artifacts = append([]string(nil), step.DeclaredOutputs...)
	}

	end := time.Now()
	result.State = StepSuccess
	result.EndedAt = &end
	result.ProducedArtifacts = artifacts
	c.persist()
	c.emit(EventStepSucceeded, step.Name, "")
	c.logger.StepEnd(step.Name, true)
	return nil
}

// failStep marks a step terminally failed with its error summary.
func (c *Controller) failStep(result *StepResult, stepName, summary string) {
	now := time.Now()
	result.State = StepFailed
	result.EndedAt = &now
	result.ErrorSummary = summary
	c.logger.Error("%s", summary)
	c.logger.StepEnd(stepName, false)
	c.persist()
	c.emit(EventStepFailed, stepName, summary)
}

// failRun marks the whole run failed. Artifacts from completed steps stay
// in place.
func (c *Controller) failRun(summary string) {
	c.rec.OverallState = RunFailed
	c.rec.Error = summary
	c.persist()
	c.emit(EventRunFailed, "", summary)
	c.logger.Error("run %s failed", c.rec.RunID)
}

// persist writes the current record to the store and refreshes the index.
// Every transition is durable before the next step begins, so a polling
// reader always observes a consistent prefix of completed steps.
func (c *Controller) persist() {
	c.rec.UpdatedAt = time.Now()
	c.rec.OverallState = reconcileOverallState(c.rec)
	if err := c.store.SaveStatus(c.rec); err != nil {
		c.logger.Warning("persist status: %v", err)
	}
	if c.index != nil {
		if err := c.index.Upsert(c.rec); err != nil {
			c.logger.Warning("update run index: %v", err)
		}
	}
}

// reconcileOverallState keeps explicit terminal states and otherwise derives
// the state from the steps so the persisted record never contradicts them.
func reconcileOverallState(rec *RunRecord) RunState {
	if rec.OverallState == RunFailed {
		return RunFailed
	}
	derived := ComputeOverallState(rec.Steps)
	if rec.OverallState == RunSuccess && derived == RunSuccess {
		return RunSuccess
	}
	if derived == RunFailed {
		return RunFailed
	}
	if rec.OverallState == RunPending && derived == RunRunning {
		// Record construction leaves the run pending; Run flips it.
		return RunRunning
	}
	return derived
}

func (c *Controller) emit(t RunEventType, step, reason string) {
	if c.events == nil {
		return
	}
	c.events(RunEvent{Type: t, RunID: c.rec.RunID, Step: step, Reason: reason, Timestamp: time.Now()})
}

func failureReasons(r PreflightResult) []string {
	out := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		out = append(out, fmt.Sprintf("%s: %s", f.Name, f.Reason))
	}
	return out
}
