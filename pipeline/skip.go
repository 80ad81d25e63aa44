// ABOUTME: Skip Policy: decides whether a step must execute or may be skipped for this run.
// ABOUTME: Overwrite beats skip-existing; skipping requires every declared output to validate.
package pipeline

// ShouldSkip implements the skip decision table. A step is skipped only when
// skip-existing is set, overwrite is not, and every declared output already
// exists on disk and passes the artifact validator. Anything else runs.
func ShouldSkip(step *StepDescriptor, opts RunOptions, runDir string) bool {
	if opts.Overwrite {
		return false
	}
	if !opts.SkipExisting {
		return false
	}
	if len(step.DeclaredOutputs) == 0 {
		return false
	}
	return ValidateOutputs(runDir, step.DeclaredOutputs) == nil
}
