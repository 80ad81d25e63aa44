// ABOUTME: Error taxonomy for the orchestration engine: admission, validation, and step failures.
// ABOUTME: Step failure types carry enough detail to produce a human-readable error summary.
package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrAdmissionRejected is returned by Scheduler.Submit when the number of
// non-terminal runs has reached the configured concurrency bound. The caller
// may retry later; existing runs are unaffected.
var ErrAdmissionRejected = errors.New("admission rejected: too many concurrent runs")

// ErrRunNotFound is returned by store and scheduler lookups for unknown run IDs.
var ErrRunNotFound = errors.New("run not found")

// ValidationError reports a missing or malformed request parameter for the
// chosen flow. It is raised before a run record is created.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
}

// MissingInputError means a step's required input file was absent or invalid
// before the step started. No process is launched.
type MissingInputError struct {
	Step   string
	Path   string
	Reason string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("step %q missing input %q: %s", e.Step, e.Path, e.Reason)
}

// ProcessFailureError means the external program exited with a non-zero code.
type ProcessFailureError struct {
	Step     string
	ExitCode int
}

func (e *ProcessFailureError) Error() string {
	return fmt.Sprintf("step %q process exited with code %d", e.Step, e.ExitCode)
}

// TimeoutError means the external program exceeded its wall-clock budget and
// its process tree was terminated.
type TimeoutError struct {
	Step    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("step %q exceeded timeout of %s, process tree terminated", e.Step, e.Timeout)
}

// OutputValidationError means the process exited zero but a declared output
// is missing or malformed. Exit code alone is not sufficient evidence of
// success; the pipeline must never proceed on unverified artifacts.
type OutputValidationError struct {
	Step   string
	Path   string
	Reason string
}

func (e *OutputValidationError) Error() string {
	return fmt.Sprintf("step %q output %q failed validation: %s", e.Step, e.Path, e.Reason)
}

// PreflightError aggregates failed environment checks for a flow. The run is
// marked failed without launching any process.
type PreflightError struct {
	Failures []string
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("environment validation failed: %d check(s) failed", len(e.Failures))
}
