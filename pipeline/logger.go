// ABOUTME: Per-run logger writing timestamp-prefixed lines to the run's append-only log.
// ABOUTME: Redacts credential material from commands, log lines, and captured parameters.
package pipeline

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

const logTimeFormat = "2006-01-02 15:04:05"

// secretValuePattern matches KEY=value or KEY: value pairs whose key names
// credential material. Only the value is replaced.
var secretValuePattern = regexp.MustCompile(`(?i)([\w-]*(?:token|secret|password|api[_-]?key|credential)[\w-]*\s*[=:]\s*)\S+`)

// RedactSecrets masks credential values embedded in a line of text.
func RedactSecrets(s string) string {
	return secretValuePattern.ReplaceAllString(s, "${1}[REDACTED]")
}

// RedactParams returns a copy of params with credential-bearing keys removed,
// suitable for persisting as params.json.
func RedactParams(params Params) Params {
	safe := make(Params, len(params))
	for k, v := range params {
		lower := strings.ToLower(k)
		if strings.Contains(lower, "token") || strings.Contains(lower, "key") ||
			strings.Contains(lower, "secret") || strings.Contains(lower, "password") {
			continue
		}
		safe[k] = v
	}
	return safe
}

// RunLogger formats engine and subprocess output lines and appends them to
// one run's log through the run store. Safe for use from the controller and
// the executor's streaming goroutine.
type RunLogger struct {
	store *RunStore
	runID string
}

// NewRunLogger creates a logger bound to the given run.
func NewRunLogger(store *RunStore, runID string) *RunLogger {
	return &RunLogger{store: store, runID: runID}
}

func (l *RunLogger) write(level, msg string) {
	line := fmt.Sprintf("%s [%s] %s\n", time.Now().Format(logTimeFormat), level, RedactSecrets(msg))
	// Log writes are best-effort: a full disk must not turn into a second
	// failure mode for the run itself.
	_ = l.store.AppendLog(l.runID, line)
}

// Info logs an informational engine message.
func (l *RunLogger) Info(format string, args ...any) {
	l.write("INFO", fmt.Sprintf(format, args...))
}

// Warning logs a non-fatal engine message.
func (l *RunLogger) Warning(format string, args ...any) {
	l.write("WARN", fmt.Sprintf(format, args...))
}

// Error logs an engine error message.
func (l *RunLogger) Error(format string, args ...any) {
	l.write("ERROR", fmt.Sprintf(format, args...))
}

// Command logs the resolved command line about to be executed.
func (l *RunLogger) Command(argv []string) {
	l.write("CMD", strings.Join(argv, " "))
}

// Output forwards one line of merged subprocess output verbatim. The engine
// never parses these lines; they are opaque progress text.
func (l *RunLogger) Output(line string) {
	l.write("OUT", line)
}

// StepStart marks the beginning of a step in the log.
func (l *RunLogger) StepStart(name string) {
	l.write("INFO", fmt.Sprintf("=== step %s started ===", name))
}

// StepEnd marks the end of a step in the log.
func (l *RunLogger) StepEnd(name string, success bool) {
	status := "completed"
	if !success {
		status = "failed"
	}
	l.write("INFO", fmt.Sprintf("=== step %s %s ===", name, status))
}
